package fhir

import "encoding/json"

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource"`
}

// Bundle is a FHIR search result page.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Total        int           `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// NextLink returns the cursor for the following page, or "".
func (b *Bundle) NextLink() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// First decodes the first entry into out, reporting whether one existed.
func (b *Bundle) First(out any) (bool, error) {
	if len(b.Entry) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(b.Entry[0].Resource, out); err != nil {
		return false, err
	}
	return true, nil
}
