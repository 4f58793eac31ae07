package migrate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/careloop/caring-relay/internal/util"
)

var nameClean = regexp.MustCompile(`[^a-z0-9_]+`)

// Scaffold renders a new revision file chained onto the current tip.
// The caller writes the returned contents to the suggested filename and
// adds the revision to the registered chain.
func Scaffold(name, tip string) (filename, contents string) {
	slug := nameClean.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "unnamed"
	}
	id := util.NewID()
	filename = fmt.Sprintf("version_%s.go", slug)
	contents = fmt.Sprintf(`package migrate

import "context"

// Revision %s: %s
//
// Register by appending to the chain in versions.go:
//
//	{
//		ID:   %q,
//		Prev: %q,
//		Name: %q,
//		Up:   up%s,
//		Down: down%s,
//	},

func up%s(ctx context.Context, env *Env) error {
	panic("not implemented")
}

func down%s(ctx context.Context, env *Env) error {
	panic("not implemented")
}
`, id, slug, id, tip, slug, exportName(slug), exportName(slug), exportName(slug), exportName(slug))
	return filename, contents
}

func exportName(slug string) string {
	parts := strings.Split(slug, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}
