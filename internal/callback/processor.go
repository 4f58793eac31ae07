// Package callback processes Twilio webhook events: delivery-status
// updates for outgoing messages and inbound SMS from patients.
package callback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/metrics"
	"github.com/careloop/caring-relay/internal/model"
	"github.com/careloop/caring-relay/internal/notify"
	"github.com/careloop/caring-relay/internal/predictor"
	"github.com/careloop/caring-relay/internal/tracking"
	"github.com/careloop/caring-relay/internal/util"
)

// ErrSIDNotFound means no message request carries the callback's sid.
// Twilio sometimes calls back before the store has made the dispatched
// request visible; callers should queue the event and retry.
var ErrSIDNotFound = errors.New("no message request for provider sid")

// ErrUnknownPhone means no active patient matches the sender's number.
var ErrUnknownPhone = errors.New("no active patient for phone number")

// ErrNoCarePlan means the patient has no active messaging care plan to
// attribute the inbound message to.
var ErrNoCarePlan = errors.New("no active care plan for patient")

// Twilio's standard opt-out and opt-in keywords, matched on the whole
// trimmed message body.
var (
	optOutKeywords = map[string]bool{
		"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true,
		"CANCEL": true, "END": true, "QUIT": true,
	}
	optInKeywords = map[string]bool{
		"START": true, "YES": true, "UNSTOP": true,
	}
)

type Processor struct {
	fhir      *fhir.Client
	tracker   *tracking.Tracker
	notifier  *notify.Notifier
	predictor *predictor.Client
	audit     *audit.Recorder
	now       func() time.Time
}

func New(f *fhir.Client, tracker *tracking.Tracker, notifier *notify.Notifier, pred *predictor.Client, a *audit.Recorder) *Processor {
	return &Processor{
		fhir:      f,
		tracker:   tracker,
		notifier:  notifier,
		predictor: pred,
		audit:     a,
		now:       time.Now,
	}
}

// OnStatusUpdate applies a provider delivery-status callback to the
// message request carrying the sid.  Safe to replay: a duplicate terminal
// status finds the delivery record already completed and changes nothing.
func (p *Processor) OnStatusUpdate(ctx context.Context, sid, status string) error {
	cr, err := p.fhir.RequestByProviderSID(ctx, sid)
	if err != nil {
		return fmt.Errorf("request lookup for sid %s: %w", sid, err)
	}
	if cr == nil {
		p.audit.Entry("status callback for unknown sid", "error", map[string]any{
			"sid":    sid,
			"status": status,
		})
		return fmt.Errorf("%w: %s", ErrSIDNotFound, sid)
	}

	now := p.now()
	cr.UpdateDeliveryStatus(sid, status, now)

	// Twilio may report sent then delivered, either alone, or neither;
	// the first of the two closes out the request.
	if status == "sent" || status == "delivered" {
		if err := p.ensureDeliveryRecord(ctx, cr, status, now); err != nil {
			return err
		}
		cr.Status = model.RequestCompleted
	}
	if err := p.fhir.UpdateRequest(ctx, cr); err != nil {
		return fmt.Errorf("persist request %s after status update: %w", cr.ID, err)
	}
	metrics.StatusCallbacksTotal.WithLabelValues(status).Inc()
	p.audit.Entry("delivery status updated", "info", map[string]any{
		"request": cr.ID,
		"sid":     sid,
		"status":  status,
	})

	// A confirmed manual message is a staff reply; it moves the patient's
	// follow-up marker.
	if cr.Status == model.RequestCompleted && cr.IsManual() && len(cr.Recipient) > 0 {
		p.refreshFollowup(ctx, cr.Recipient[0].ID())
	}
	return nil
}

// ensureDeliveryRecord completes the request's delivery Communication,
// creating it when the dispatcher's write has not landed yet.
func (p *Processor) ensureDeliveryRecord(ctx context.Context, cr *model.CommunicationRequest, status string, now time.Time) error {
	existing, err := p.fhir.CommunicationBasedOn(ctx, cr.ID)
	if err != nil {
		return fmt.Errorf("delivery record lookup for %s: %w", cr.ID, err)
	}
	switch {
	case existing == nil:
		record := cr.DeliveryRecord(model.CommCompleted, now)
		if err := p.fhir.CreateCommunication(ctx, record); err != nil {
			return fmt.Errorf("create delivery record for %s: %w", cr.ID, err)
		}
	case existing.Status != model.CommCompleted:
		existing.Status = model.CommCompleted
		if err := p.fhir.UpdateCommunication(ctx, existing); err != nil {
			return fmt.Errorf("complete delivery record for %s: %w", cr.ID, err)
		}
	default:
		p.audit.Entry("delivery record already completed", "info", map[string]any{
			"request": cr.ID,
			"status":  status,
		})
	}
	return nil
}

// OnInboundSMS records a patient text: opt-out keywords flip the
// subscription, everything else becomes a received Communication on the
// patient's active care plan with a best-effort urgency score.
func (p *Processor) OnInboundSMS(ctx context.Context, fromPhone, body, providerSID string) error {
	phone := util.NormalizePhone(fromPhone)
	patient, err := p.fhir.ActivePatientByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("patient lookup for %s: %w", phone, err)
	}
	if patient == nil {
		metrics.InboundMessagesTotal.WithLabelValues("unknown_phone").Inc()
		p.audit.Entry("inbound message from unknown phone", "error", map[string]any{
			"from": phone,
		})
		return fmt.Errorf("%w: %s", ErrUnknownPhone, phone)
	}

	now := p.now()
	keyword := strings.ToUpper(strings.TrimSpace(body))
	switch {
	case optOutKeywords[keyword]:
		return p.optOut(ctx, patient, now)
	case optInKeywords[keyword]:
		return p.optIn(ctx, patient)
	}

	priority, err := p.predictor.Predict(ctx, body)
	if err != nil {
		// scoring is advisory; the message is recorded either way
		p.audit.Entry("urgency prediction failed", "warn", map[string]any{
			"patient": patient.ID,
			"error":   err.Error(),
		})
	}

	plan, err := p.fhir.ActiveCarePlanForPatient(ctx, patient.ID)
	if err != nil {
		return fmt.Errorf("care plan lookup for Patient/%s: %w", patient.ID, err)
	}
	if plan == nil {
		metrics.InboundMessagesTotal.WithLabelValues("no_care_plan").Inc()
		p.audit.Entry("inbound message without care plan", "error", map[string]any{
			"patient": patient.ID,
		})
		return fmt.Errorf("%w: Patient/%s", ErrNoCarePlan, patient.ID)
	}

	comm := model.IncomingMessage(patient.ID, plan.ID, body, priority, providerSID, model.FHIRDateTime{Time: now})
	if err := p.fhir.CreateCommunication(ctx, comm); err != nil {
		return fmt.Errorf("record inbound message for Patient/%s: %w", patient.ID, err)
	}
	metrics.InboundMessagesTotal.WithLabelValues("recorded").Inc()
	p.audit.Entry("recorded inbound message", "info", map[string]any{
		"patient":  patient.ID,
		"priority": priority,
		"sid":      providerSID,
	})

	if err := p.notifier.MessageReceived(ctx, patient); err != nil {
		p.audit.Entry("care team notification failed", "warn", map[string]any{
			"patient": patient.ID,
			"error":   err.Error(),
		})
	}
	if err := p.tracker.MarkFollowup(ctx, patient, true); err != nil {
		p.audit.Entry("follow-up refresh failed", "warn", map[string]any{
			"patient": patient.ID,
			"error":   err.Error(),
		})
	}
	return nil
}

func (p *Processor) optOut(ctx context.Context, patient *model.Patient, now time.Time) error {
	patient.Unsubscribe(now)
	if err := p.fhir.UpdatePatient(ctx, patient); err != nil {
		return fmt.Errorf("persist opt-out for Patient/%s: %w", patient.ID, err)
	}
	metrics.InboundMessagesTotal.WithLabelValues("opt_out").Inc()
	p.audit.Entry("patient opted out via keyword", "info", map[string]any{
		"patient": patient.ID,
	})
	return nil
}

func (p *Processor) optIn(ctx context.Context, patient *model.Patient) error {
	patient.Resubscribe()
	if err := p.fhir.UpdatePatient(ctx, patient); err != nil {
		return fmt.Errorf("persist opt-in for Patient/%s: %w", patient.ID, err)
	}
	metrics.InboundMessagesTotal.WithLabelValues("opt_in").Inc()
	p.audit.Entry("patient opted back in via keyword", "info", map[string]any{
		"patient": patient.ID,
	})
	return nil
}

func (p *Processor) refreshFollowup(ctx context.Context, patientID string) {
	var patient model.Patient
	if err := p.fhir.Get(ctx, "Patient", patientID, &patient); err != nil {
		p.audit.Entry("patient lookup for follow-up refresh failed", "warn", map[string]any{
			"patient": patientID,
			"error":   err.Error(),
		})
		return
	}
	if err := p.tracker.MarkFollowup(ctx, &patient, true); err != nil {
		p.audit.Entry("follow-up refresh failed", "warn", map[string]any{
			"patient": patientID,
			"error":   err.Error(),
		})
	}
}
