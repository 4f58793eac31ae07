package migrate

import (
	"context"
	"time"

	"github.com/careloop/caring-relay/internal/model"
)

// The registered chain, oldest first.  New revisions come from
// `caring-relay migrate new <name>` and chain onto the current tip.
var registered = []*Migration{
	{
		ID:   "01HN4QJ1T0A8Z9X7W6V5S4R3QD",
		Prev: "",
		Name: "recalculate_next_outgoing",
		Up:   recalculateNextOutgoing,
		Down: noop,
	},
	{
		ID:   "01HV2M8K3P1C5D7E9F0G2H4J6K",
		Prev: "01HN4QJ1T0A8Z9X7W6V5S4R3QD",
		Name: "patch_obsolete_followup_sentinels",
		Up:   patchObsoleteFollowupSentinels,
		Down: noop,
	},
}

// Registered builds the validated sequence of known revisions.
func Registered() (*Sequence, error) {
	return NewSequence(registered)
}

func noop(context.Context, *Env) error { return nil }

// recalculateNextOutgoing rewrites the next-outgoing extension for every
// active patient from their current pending requests.  Older releases left
// stale values behind when requests were revoked out of band.
func recalculateNextOutgoing(ctx context.Context, env *Env) error {
	return env.FHIR.ActivePatients(ctx, func(p *model.Patient) error {
		return env.Tracker.MarkNextOutgoing(ctx, p, true)
	})
}

// patchObsoleteFollowupSentinels rewrites legacy "caught up" markers.
// Before the sentinel was fixed, caught-up patients carried arbitrary
// now-relative far-future values; normalize anything past year 3000 to
// the canonical sentinel so comparisons stay exact.
func patchObsoleteFollowupSentinels(ctx context.Context, env *Env) error {
	horizon := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	return env.FHIR.ActivePatients(ctx, func(p *model.Patient) error {
		value, ok := model.GetExtensionDateTime(p, model.LastUnfollowedUpURL)
		if !ok {
			return nil
		}
		if value.Time.Before(horizon) || value.Equal(model.DeepFuture) {
			return nil
		}
		model.SetExtensionDateTime(p, model.LastUnfollowedUpURL, model.DeepFuture)
		if err := env.FHIR.UpdatePatient(ctx, p); err != nil {
			return err
		}
		env.Audit.Entry("normalized follow-up sentinel", "info", map[string]any{
			"patient": p.ID,
			"was":     value.String(),
		})
		return nil
	})
}
