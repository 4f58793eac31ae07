package model

import (
	"errors"
	"time"
)

// Patient extension URLs for the two tracked timestamps.
const (
	NextOutgoingURL     = "https://caringcontacts.app/date-time-of-next-outgoing-message"
	LastUnfollowedUpURL = "https://caringcontacts.app/time-of-last-unfollowedup-message"

	// UserIDSystem identifies the externally assigned participant id.
	UserIDSystem = "https://caringcontacts.app/user-id"
)

var ErrNoSMSContact = errors.New("patient has no sms contact point on file")

type Patient struct {
	ResourceType        string         `json:"resourceType"`
	ID                  string         `json:"id,omitempty"`
	Active              *bool          `json:"active,omitempty"`
	Name                []HumanName    `json:"name,omitempty"`
	Telecom             []ContactPoint `json:"telecom,omitempty"`
	GeneralPractitioner []Reference    `json:"generalPractitioner,omitempty"`
	Identifier          []Identifier   `json:"identifier,omitempty"`
	Extension           []Extension    `json:"extension,omitempty"`
}

func (p *Patient) Extensions() []Extension        { return p.Extension }
func (p *Patient) SetExtensions(exts []Extension) { p.Extension = exts }

// IsActive treats an unset flag as active; status is not yet populated on
// every patient record.
func (p *Patient) IsActive() bool {
	return p.Active == nil || *p.Active
}

// SMSContact returns the patient's sms contact point, or nil.
func (p *Patient) SMSContact() *ContactPoint {
	for i := range p.Telecom {
		if p.Telecom[i].System == "sms" {
			return &p.Telecom[i]
		}
	}
	return nil
}

// SMSNumber returns the patient's sms phone number.
func (p *Patient) SMSNumber() (string, error) {
	cp := p.SMSContact()
	if cp == nil || cp.Value == "" {
		return "", ErrNoSMSContact
	}
	return cp.Value, nil
}

// Unsubscribed reports whether the sms contact carries a period end,
// recorded when the patient texted STOP.
func (p *Patient) Unsubscribed() bool {
	cp := p.SMSContact()
	return cp != nil && cp.Period != nil && cp.Period.End != nil
}

// Unsubscribe closes the sms contact period as of the given time.
func (p *Patient) Unsubscribe(at time.Time) {
	cp := p.SMSContact()
	if cp == nil {
		return
	}
	if cp.Period == nil {
		cp.Period = &Period{}
	}
	end := NewFHIRDateTime(at)
	cp.Period.End = &end
}

// Resubscribe clears any period end on the sms contact.
func (p *Patient) Resubscribe() {
	cp := p.SMSContact()
	if cp == nil || cp.Period == nil {
		return
	}
	cp.Period.End = nil
}

// PreferredName returns the patient's preferred given name: the first given
// of the name marked "usual" use, else the first given of the first name.
func (p *Patient) PreferredName() string {
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

// UserID returns the externally assigned participant id, or "" when absent.
func (p *Patient) UserID() string {
	for _, id := range p.Identifier {
		if id.System == UserIDSystem {
			return id.Value
		}
	}
	return ""
}
