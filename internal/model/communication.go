package model

// Communication statuses observed from the provider.
const (
	CommInProgress = "in-progress"
	CommCompleted  = "completed"
	CommStopped    = "stopped"
	CommUnknown    = "unknown"
)

// Communication records an actual sent or received message.
type Communication struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Status       string            `json:"status,omitempty"`
	Category     []CodeableConcept `json:"category,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	BasedOn      []Reference       `json:"basedOn,omitempty"`
	PartOf       []Reference       `json:"partOf,omitempty"`
	Subject      *Reference        `json:"subject,omitempty"`
	Medium       []CodeableConcept `json:"medium,omitempty"`
	Sent         *FHIRDateTime     `json:"sent,omitempty"`
	Sender       *Reference        `json:"sender,omitempty"`
	Recipient    []Reference       `json:"recipient,omitempty"`
	Payload      []Payload         `json:"payload,omitempty"`
	Note         []Annotation      `json:"note,omitempty"`
	Identifier   []Identifier      `json:"identifier,omitempty"`
	Extension    []Extension       `json:"extension,omitempty"`
}

func (c *Communication) CategoryCode() string {
	for _, cat := range c.Category {
		for _, coding := range cat.Coding {
			if coding.System == CommunicationTypeSystem {
				return coding.Code
			}
		}
	}
	return ""
}

// IsManualFollowUp reports whether this communication was typed and sent by
// a member of the care team, which counts as following up with the patient.
func (c *Communication) IsManualFollowUp() bool {
	return c.CategoryCode() == CodeManualMessage
}

func smsMedium() CodeableConcept {
	return CodeableConcept{Coding: []Coding{{
		System: "http://terminology.hl7.org/ValueSet/v3-ParticipationMode",
		Code:   "SMSWRIT",
	}}}
}

// IncomingMessage builds the Communication for an inbound patient text.
func IncomingMessage(patientID, carePlanID, body, priority, providerSID string, at FHIRDateTime) *Communication {
	return &Communication{
		ResourceType: "Communication",
		Status:       CommCompleted,
		Priority:     priority,
		Identifier:   []Identifier{{System: TwilioSIDSystem, Value: providerSID}},
		PartOf:       []Reference{Ref("CarePlan", carePlanID)},
		Category: []CodeableConcept{{Coding: []Coding{{
			System: CommunicationTypeSystem,
			Code:   CodeReceivedMessage,
		}}}},
		Medium:  []CodeableConcept{smsMedium()},
		Sent:    &at,
		Sender:  refPtr(Ref("Patient", patientID)),
		Payload: []Payload{{ContentString: body}},
	}
}

func refPtr(r Reference) *Reference { return &r }
