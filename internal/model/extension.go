package model

// HasExtensions is implemented by resources carrying the URL-keyed
// single-valued tracking extensions.
type HasExtensions interface {
	Extensions() []Extension
	SetExtensions([]Extension)
}

// GetExtension returns the extension with the given url, or nil.
func GetExtension(e HasExtensions, url string) *Extension {
	for _, ext := range e.Extensions() {
		if ext.URL == url {
			found := ext
			return &found
		}
	}
	return nil
}

// SetExtension replaces any existing extension for ext.URL, else appends.
// The invariant it maintains: at most one extension entry per url.
func SetExtension(e HasExtensions, ext Extension) {
	exts := e.Extensions()
	out := make([]Extension, 0, len(exts)+1)
	for _, existing := range exts {
		if existing.URL == ext.URL {
			continue
		}
		out = append(out, existing)
	}
	out = append(out, ext)
	e.SetExtensions(out)
}

// GetExtensionDateTime returns the datetime value stored at url.
func GetExtensionDateTime(e HasExtensions, url string) (FHIRDateTime, bool) {
	ext := GetExtension(e, url)
	if ext == nil || ext.ValueDateTime == nil {
		return FHIRDateTime{}, false
	}
	return *ext.ValueDateTime, true
}

// SetExtensionDateTime stores a single datetime value at url.
func SetExtensionDateTime(e HasExtensions, url string, v FHIRDateTime) {
	SetExtension(e, Extension{URL: url, ValueDateTime: &v})
}
