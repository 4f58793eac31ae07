package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func scheduledRequest() *CommunicationRequest {
	return &CommunicationRequest{
		ResourceType: "CommunicationRequest",
		ID:           "cr-1",
		Status:       RequestActive,
		Category: []CodeableConcept{{Coding: []Coding{{
			System: CommunicationTypeSystem,
			Code:   CodeScheduledMessage,
		}}}},
		BasedOn:   []Reference{Ref("CarePlan", "plan-1")},
		Payload:   []Payload{{ContentString: "Thinking of you, {name}. - {username}"}},
		Recipient: []Reference{Ref("Patient", "pt-1")},
	}
}

func TestMarkDispatchedGuard(t *testing.T) {
	cr := scheduledRequest()
	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	if err := cr.MarkDispatched("SM123", "queued", at); err != nil {
		t.Fatalf("first MarkDispatched: %v", err)
	}
	if !cr.IsDispatched() {
		t.Fatalf("IsDispatched false after MarkDispatched")
	}
	if got := cr.DeliverySID(); got != "SM123" {
		t.Errorf("DeliverySID = %q, want SM123", got)
	}

	if err := cr.MarkDispatched("SM456", "queued", at); !errors.Is(err, ErrAlreadyDispatched) {
		t.Errorf("second MarkDispatched: expected ErrAlreadyDispatched, got %v", err)
	}
	if got := cr.DeliverySID(); got != "SM123" {
		t.Errorf("second dispatch overwrote sid: %q", got)
	}
}

func TestUpdateDeliveryStatusIdempotent(t *testing.T) {
	cr := scheduledRequest()
	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := cr.MarkDispatched("SM123", "queued", at); err != nil {
		t.Fatal(err)
	}

	cr.UpdateDeliveryStatus("SM123", "delivered", at.Add(time.Minute))
	cr.UpdateDeliveryStatus("SM123", "delivered", at.Add(2*time.Minute))

	id := cr.Identifier[0]
	statuses := 0
	for _, e := range id.Extension {
		if e.URL == TwilioStatusURL {
			statuses++
			if e.ValueCode != "delivered" {
				t.Errorf("status = %q, want delivered", e.ValueCode)
			}
		}
	}
	if statuses != 1 {
		t.Errorf("expected exactly one status extension, got %d", statuses)
	}

	// a callback for a different sid must not touch this identifier
	cr.UpdateDeliveryStatus("SM999", "failed", at)
	if got := cr.DispatchedStatus(); !strings.Contains(got, "delivered") {
		t.Errorf("foreign sid changed status: %s", got)
	}
}

func TestDeliveryRecordCategory(t *testing.T) {
	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	auto := scheduledRequest().DeliveryRecord(CommInProgress, at)
	if got := auto.CategoryCode(); got != CodeAutoMessage {
		t.Errorf("scheduled request record category = %q, want %q", got, CodeAutoMessage)
	}
	if len(auto.BasedOn) != 1 || auto.BasedOn[0].Reference != "CommunicationRequest/cr-1" {
		t.Errorf("record basedOn = %+v", auto.BasedOn)
	}
	if len(auto.PartOf) != 1 || auto.PartOf[0].Reference != "CarePlan/plan-1" {
		t.Errorf("record partOf = %+v", auto.PartOf)
	}

	manual := scheduledRequest()
	manual.Category[0].Coding[0].Code = CodeManualMessage
	rec := manual.DeliveryRecord(CommStopped, at)
	if got := rec.CategoryCode(); got != CodeManualMessage {
		t.Errorf("manual request record category = %q, want %q", got, CodeManualMessage)
	}
	if rec.Status != CommStopped {
		t.Errorf("record status = %q, want %q", rec.Status, CommStopped)
	}
}

func TestRenderMessage(t *testing.T) {
	patient := &Patient{Name: []HumanName{{Use: "usual", Given: []string{"Jo"}}}}
	practitioner := &Practitioner{Name: []HumanName{{Given: []string{"Sam"}}}}

	cases := []struct {
		name         string
		template     string
		practitioner *Practitioner
		want         string
	}{
		{
			name:         "both tokens",
			template:     "Hi {name}, it's {username}",
			practitioner: practitioner,
			want:         "Hi Jo, it's Sam",
		},
		{
			name:         "case-insensitive tokens",
			template:     "Hi {Name}, it's {UserName}",
			practitioner: practitioner,
			want:         "Hi Jo, it's Sam",
		},
		{
			name:     "no practitioner falls back to team signature",
			template: "Hi {name}, it's {username}",
			want:     "Hi Jo, it's " + DefaultSenderName,
		},
		{
			name:         "no tokens passes through",
			template:     "Just checking in.",
			practitioner: practitioner,
			want:         "Just checking in.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RenderMessage(tc.template, patient, tc.practitioner)
			if got != tc.want {
				t.Errorf("RenderMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRenderMessageDollarSignStaysLiteral(t *testing.T) {
	patient := &Patient{Name: []HumanName{{Use: "usual", Given: []string{"J$1o"}}}}
	got := RenderMessage("Hi {name}", patient, nil)
	if got != "Hi J$1o" {
		t.Errorf("RenderMessage = %q, want %q", got, "Hi J$1o")
	}
}

func TestIncomingMessageShape(t *testing.T) {
	at := NewFHIRDateTime(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	c := IncomingMessage("pt-1", "plan-1", "hello", "urgent", "SM77", at)

	if c.CategoryCode() != CodeReceivedMessage {
		t.Errorf("category = %q, want %q", c.CategoryCode(), CodeReceivedMessage)
	}
	if c.Status != CommCompleted {
		t.Errorf("status = %q, want completed", c.Status)
	}
	if c.Sender == nil || c.Sender.Reference != "Patient/pt-1" {
		t.Errorf("sender = %+v", c.Sender)
	}
	if len(c.Identifier) != 1 || c.Identifier[0].Value != "SM77" {
		t.Errorf("identifier = %+v", c.Identifier)
	}
	if c.Priority != "urgent" {
		t.Errorf("priority = %q", c.Priority)
	}
}
