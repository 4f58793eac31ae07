package model

// CarePlan: only the fields consumed when attributing inbound messages.
type CarePlan struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Status       string            `json:"status,omitempty"`
	Category     []CodeableConcept `json:"category,omitempty"`
	Subject      *Reference        `json:"subject,omitempty"`
}

// CarePlanCategory tags the messaging care plan this service acts on.
const CarePlanCategory = "cc-message-plan"

type CareTeamParticipant struct {
	Member *Reference `json:"member,omitempty"`
}

// CareTeam associates a patient with the practitioners to notify.
type CareTeam struct {
	ResourceType string                `json:"resourceType"`
	ID           string                `json:"id,omitempty"`
	Subject      *Reference            `json:"subject,omitempty"`
	Participant  []CareTeamParticipant `json:"participant,omitempty"`
}

// PractitionerIDs returns the ids of practitioner participants, in order.
func (ct *CareTeam) PractitionerIDs() []string {
	var ids []string
	for _, p := range ct.Participant {
		if p.Member == nil || p.Member.Type() != "Practitioner" {
			continue
		}
		if id := p.Member.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
