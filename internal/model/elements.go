package model

import "strings"

// Minimal FHIR element types, limited to the fields this service consumes.

type Reference struct {
	Reference string `json:"reference,omitempty"`
}

// Ref builds a relative reference like "Patient/123".
func Ref(resourceType, id string) Reference {
	return Reference{Reference: resourceType + "/" + id}
}

// ID returns the id portion of a relative reference, or "" when malformed.
func (r Reference) ID() string {
	idx := strings.LastIndex(r.Reference, "/")
	if idx < 0 || idx == len(r.Reference)-1 {
		return ""
	}
	return r.Reference[idx+1:]
}

// Type returns the resource type portion of a relative reference.
func (r Reference) Type() string {
	idx := strings.Index(r.Reference, "/")
	if idx < 0 {
		return ""
	}
	return r.Reference[:idx]
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Period struct {
	Start *FHIRDateTime `json:"start,omitempty"`
	End   *FHIRDateTime `json:"end,omitempty"`
}

type ContactPoint struct {
	System string  `json:"system,omitempty"`
	Value  string  `json:"value,omitempty"`
	Use    string  `json:"use,omitempty"`
	Period *Period `json:"period,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Extension struct {
	URL           string        `json:"url"`
	ValueDateTime *FHIRDateTime `json:"valueDateTime,omitempty"`
	ValueCode     string        `json:"valueCode,omitempty"`
	ValueString   string        `json:"valueString,omitempty"`
	ValueInteger  *int          `json:"valueInteger,omitempty"`
}

type Identifier struct {
	System    string      `json:"system,omitempty"`
	Value     string      `json:"value,omitempty"`
	Extension []Extension `json:"extension,omitempty"`
}

type Payload struct {
	ContentString string `json:"contentString,omitempty"`
}

type Annotation struct {
	Text string `json:"text,omitempty"`
}
