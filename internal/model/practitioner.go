package model

type Practitioner struct {
	ResourceType string         `json:"resourceType"`
	ID           string         `json:"id,omitempty"`
	Active       *bool          `json:"active,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
}

// EmailAddress returns the practitioner's primary email, or "".
func (p *Practitioner) EmailAddress() string {
	for _, t := range p.Telecom {
		if t.System == "email" {
			return t.Value
		}
	}
	return ""
}

// PreferredName returns the practitioner's given name for message signing.
func (p *Practitioner) PreferredName() string {
	for _, n := range p.Name {
		if n.Use == "usual" && len(n.Given) > 0 {
			return n.Given[0]
		}
	}
	if len(p.Name) > 0 && len(p.Name[0].Given) > 0 {
		return p.Name[0].Given[0]
	}
	return ""
}
