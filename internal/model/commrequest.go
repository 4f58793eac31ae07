package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Identifier and category vocabulary shared with the care-team client app.
const (
	TwilioSIDSystem        = "https://caringcontacts.app/twilio-message-sid"
	TwilioStatusURL        = "https://caringcontacts.app/twilio-message-status"
	TwilioStatusUpdatedURL = "https://caringcontacts.app/twilio-message-status-updated"

	CommunicationTypeSystem = "https://caringcontacts.app/CodeSystem/communication-type"

	CodeScheduledMessage = "cc-scheduled-message"
	CodeManualMessage    = "cc-manually-sent-message"
	CodeAutoMessage      = "cc-auto-sent-message"
	CodeReceivedMessage  = "cc-received-message"
	CodeNonSMSMessage    = "cc-non-sms-message"
	CodeResolvedNoSend   = "cc-message-resolved-no-send"
)

// Request statuses.
const (
	RequestActive    = "active"
	RequestCompleted = "completed"
	RequestRevoked   = "revoked"
)

// DefaultSenderName substitutes for {username} when a request has no
// practitioner sender.
const DefaultSenderName = "Caring Contacts Team"

// ErrAlreadyDispatched guards against a second provider send for the same
// request; dispatch is not retryable once a message sid is attached.
var ErrAlreadyDispatched = errors.New("message request already dispatched")

// CommunicationRequest is a scheduled or manually queued outgoing message.
type CommunicationRequest struct {
	ResourceType       string            `json:"resourceType"`
	ID                 string            `json:"id,omitempty"`
	Status             string            `json:"status,omitempty"`
	Category           []CodeableConcept `json:"category,omitempty"`
	Priority           string            `json:"priority,omitempty"`
	BasedOn            []Reference       `json:"basedOn,omitempty"`
	Payload            []Payload         `json:"payload,omitempty"`
	OccurrenceDateTime *FHIRDateTime     `json:"occurrenceDateTime,omitempty"`
	Recipient          []Reference       `json:"recipient,omitempty"`
	Sender             *Reference        `json:"sender,omitempty"`
	Note               []Annotation      `json:"note,omitempty"`
	Identifier         []Identifier      `json:"identifier,omitempty"`
}

func (cr *CommunicationRequest) CategoryCode() string {
	for _, cat := range cr.Category {
		for _, c := range cat.Coding {
			if c.System == CommunicationTypeSystem {
				return c.Code
			}
		}
	}
	return ""
}

// IsManual reports whether this request was queued by a human rather than
// the schedule.
func (cr *CommunicationRequest) IsManual() bool {
	return cr.CategoryCode() == CodeManualMessage
}

// IsDispatched reports whether a provider message sid has been attached.
// Once true the request must never be sent again.
func (cr *CommunicationRequest) IsDispatched() bool {
	return cr.deliveryIdentifier() != nil
}

func (cr *CommunicationRequest) deliveryIdentifier() *Identifier {
	for i := range cr.Identifier {
		if cr.Identifier[i].System == TwilioSIDSystem {
			return &cr.Identifier[i]
		}
	}
	return nil
}

// MarkDispatched attaches the provider sid, initial delivery status, and
// status timestamp.  Returns ErrAlreadyDispatched when a sid is present.
func (cr *CommunicationRequest) MarkDispatched(sid, status string, at time.Time) error {
	if cr.IsDispatched() {
		return ErrAlreadyDispatched
	}
	updated := NewFHIRDateTime(at)
	cr.Identifier = append(cr.Identifier, Identifier{
		System: TwilioSIDSystem,
		Value:  sid,
		Extension: []Extension{
			{URL: TwilioStatusURL, ValueCode: status},
			{URL: TwilioStatusUpdatedURL, ValueDateTime: &updated},
		},
	})
	return nil
}

// UpdateDeliveryStatus records a provider status callback against the
// delivery identifier.  Safe to call repeatedly with the same status.
func (cr *CommunicationRequest) UpdateDeliveryStatus(sid, status string, at time.Time) {
	id := cr.deliveryIdentifier()
	if id == nil || id.Value != sid {
		return
	}
	updated := NewFHIRDateTime(at)
	var next []Extension
	for _, e := range id.Extension {
		if e.URL == TwilioStatusURL || e.URL == TwilioStatusUpdatedURL {
			continue
		}
		next = append(next, e)
	}
	next = append(next,
		Extension{URL: TwilioStatusURL, ValueCode: status},
		Extension{URL: TwilioStatusUpdatedURL, ValueDateTime: &updated},
	)
	id.Extension = next
}

// DeliverySID returns the provider message sid, or "".
func (cr *CommunicationRequest) DeliverySID() string {
	if id := cr.deliveryIdentifier(); id != nil {
		return id.Value
	}
	return ""
}

// DispatchedStatus describes the last known delivery state for audit and
// sweep reporting.
func (cr *CommunicationRequest) DispatchedStatus() string {
	id := cr.deliveryIdentifier()
	if id == nil {
		return fmt.Sprintf("request %s not yet dispatched", cr.ID)
	}
	var status, asOf string
	for _, e := range id.Extension {
		switch e.URL {
		case TwilioStatusURL:
			status = e.ValueCode
		case TwilioStatusUpdatedURL:
			if e.ValueDateTime != nil {
				asOf = e.ValueDateTime.String()
			}
		}
	}
	return fmt.Sprintf("message (sid: %s, request: %s) was previously dispatched; last known status: %s (as of %s)",
		id.Value, cr.ID, status, asOf)
}

// DeliveryRecord builds the Communication describing this request's send,
// with the given delivery status.  Pure data transform; the caller persists.
// Manual requests map to the manually-sent category, all others to auto-sent.
func (cr *CommunicationRequest) DeliveryRecord(status string, at time.Time) *Communication {
	code := CodeAutoMessage
	if cr.IsManual() {
		code = CodeManualMessage
	}
	sent := NewFHIRDateTime(at)
	c := &Communication{
		ResourceType: "Communication",
		Status:       status,
		BasedOn:      []Reference{Ref("CommunicationRequest", cr.ID)},
		Category: []CodeableConcept{{Coding: []Coding{{
			System: CommunicationTypeSystem,
			Code:   code,
		}}}},
		Payload:   append([]Payload(nil), cr.Payload...),
		Sent:      &sent,
		Recipient: append([]Reference(nil), cr.Recipient...),
		Sender:    cr.Sender,
		Note:      append([]Annotation(nil), cr.Note...),
		Medium:    []CodeableConcept{smsMedium()},
	}
	if len(cr.BasedOn) > 0 {
		c.PartOf = []Reference{cr.BasedOn[0]}
	}
	return c
}

var (
	nameToken     = regexp.MustCompile(`(?i)\{name\}`)
	usernameToken = regexp.MustCompile(`(?i)\{username\}`)
)

// RenderMessage substitutes {name} and {username} tokens in a payload
// template.  Token matching is case-insensitive; substituted values keep
// their own case.
func RenderMessage(template string, patient *Patient, practitioner *Practitioner) string {
	name := ""
	if patient != nil {
		name = patient.PreferredName()
	}
	username := DefaultSenderName
	if practitioner != nil {
		if preferred := practitioner.PreferredName(); preferred != "" {
			username = preferred
		}
	}
	// ReplaceAllStringFunc keeps $ in names literal instead of expanding
	// it as a group reference.
	out := nameToken.ReplaceAllStringFunc(template, func(string) string { return name })
	return usernameToken.ReplaceAllStringFunc(out, func(string) string { return username })
}
