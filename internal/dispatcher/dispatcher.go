// Package dispatcher executes due message requests: the batch job that
// turns scheduled CommunicationRequests into outgoing SMS.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/metrics"
	"github.com/careloop/caring-relay/internal/model"
	"github.com/careloop/caring-relay/internal/sms"
	"github.com/careloop/caring-relay/internal/tracking"
)

// DefaultCutoff is the grace window for stale requests: anything scheduled
// further back than this is revoked, never sent.  A backlog surge must not
// turn into a flood of outdated texts.
const DefaultCutoff = 48 * time.Hour

// Outcome describes one request handled by a sweep.
type Outcome struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Failure describes one request the sweep could not handle.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type Dispatcher struct {
	fhir    *fhir.Client
	sms     sms.Provider
	tracker *tracking.Tracker
	audit   *audit.Recorder
	cutoff  time.Duration
	now     func() time.Time
}

func New(f *fhir.Client, provider sms.Provider, tracker *tracking.Tracker, a *audit.Recorder, cutoff time.Duration) *Dispatcher {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return &Dispatcher{
		fhir:    f,
		sms:     provider,
		tracker: tracker,
		audit:   a,
		cutoff:  cutoff,
		now:     time.Now,
	}
}

// ExecuteDueRequests sweeps all due message requests in occurrence order.
// Each request is handled independently: the sweep never aborts on a single
// failure, and nothing already done is rolled back.  Re-running after a
// crash is safe; the dispatch guard skips requests that already went out.
func (d *Dispatcher) ExecuteDueRequests(ctx context.Context) ([]Outcome, []Failure) {
	var successes []Outcome
	var failures []Failure

	due, err := d.fhir.DueMessageRequests(ctx, d.now())
	if err != nil {
		d.audit.Entry("due request search failed", "error", map[string]any{"error": err.Error()})
		failures = append(failures, Failure{Error: fmt.Sprintf("due request search: %v", err)})
		return successes, failures
	}

	for i := range due {
		cr := &due[i]
		status, err := d.process(ctx, cr)
		if err != nil {
			metrics.DispatchesTotal.WithLabelValues("failed").Inc()
			d.audit.Entry("message request execution failed", "error", map[string]any{
				"request": cr.ID,
				"error":   err.Error(),
			})
			failures = append(failures, Failure{ID: cr.ID, Error: err.Error()})
			continue
		}
		successes = append(successes, Outcome{ID: cr.ID, Status: status})
	}

	if len(successes) > 0 {
		d.audit.Entry("executed message requests", "info", map[string]any{"count": len(successes)})
	}
	if len(failures) > 0 {
		d.audit.Entry("message request execution failures", "error", map[string]any{"count": len(failures)})
	}
	return successes, failures
}

// process handles a single due request through its full side-effect
// sequence.  The returned status string lands in the sweep's success list.
func (d *Dispatcher) process(ctx context.Context, cr *model.CommunicationRequest) (string, error) {
	if len(cr.Recipient) == 0 {
		return "", fmt.Errorf("request %s has no recipient", cr.ID)
	}
	var patient model.Patient
	if err := d.fhir.Get(ctx, "Patient", cr.Recipient[0].ID(), &patient); err != nil {
		return "", fmt.Errorf("resolve recipient %s: %w", cr.Recipient[0].Reference, err)
	}

	// Refresh the schedule signal first, whatever happens to this request.
	// Idempotent: a no-op when the stored value already matches.
	d.refreshNextOutgoing(ctx, &patient)

	if cr.IsDispatched() {
		// A previous sweep already sent this one; report, don't resend.
		metrics.DispatchesTotal.WithLabelValues("skipped_dispatched").Inc()
		d.audit.Entry("request already dispatched", "info", map[string]any{"request": cr.ID})
		return cr.DispatchedStatus(), nil
	}

	now := d.now()
	if cr.OccurrenceDateTime != nil && cr.OccurrenceDateTime.Time.Before(now.Add(-d.cutoff)) {
		metrics.DispatchesTotal.WithLabelValues("revoked_cutoff").Inc()
		return d.revoke(ctx, cr, &patient, fmt.Sprintf("revoked (occurrence %s past cutoff)", cr.OccurrenceDateTime))
	}

	if patient.Unsubscribed() || !patient.IsActive() {
		metrics.DispatchesTotal.WithLabelValues("revoked_unsubscribed").Inc()
		record := cr.DeliveryRecord(model.CommStopped, now)
		if err := d.fhir.CreateCommunication(ctx, record); err != nil {
			return "", fmt.Errorf("create stopped record for %s: %w", cr.ID, err)
		}
		return d.revoke(ctx, cr, &patient, "revoked (recipient unsubscribed or inactive)")
	}

	return d.dispatch(ctx, cr, &patient)
}

// dispatch renders the payload, sends through the provider, and records the
// attempt.  All provider failures funnel into the per-request error path.
func (d *Dispatcher) dispatch(ctx context.Context, cr *model.CommunicationRequest, patient *model.Patient) (string, error) {
	phone, err := patient.SMSNumber()
	if err != nil {
		return "", d.failRequest(ctx, cr, patient, fmt.Errorf("request %s: %w", cr.ID, err))
	}

	var template string
	if len(cr.Payload) > 0 {
		template = cr.Payload[0].ContentString
	}
	body := model.RenderMessage(template, patient, d.resolveSender(ctx, cr))

	result, err := d.sms.Send(ctx, body, phone)
	now := d.now()
	switch {
	case errors.Is(err, sms.ErrRecipientOptedOut):
		// The carrier knows better than our records; persist the opt-out.
		patient.Unsubscribe(now)
		if upErr := d.fhir.UpdatePatient(ctx, patient); upErr != nil {
			return "", fmt.Errorf("persist opt-out for Patient/%s: %w", patient.ID, upErr)
		}
		d.audit.Entry("provider reported recipient opted out", "warn", map[string]any{
			"patient": patient.ID,
			"request": cr.ID,
		})
		metrics.DispatchesTotal.WithLabelValues("revoked_unsubscribed").Inc()
		return d.revoke(ctx, cr, patient, "revoked (provider reported opt-out)")

	case err != nil:
		return "", d.failRequest(ctx, cr, patient, fmt.Errorf("request %s: %w", cr.ID, err))
	}

	if err := cr.MarkDispatched(result.SID, result.Status, now); err != nil {
		return "", fmt.Errorf("request %s: %w", cr.ID, err)
	}
	cr.Status = model.RequestCompleted
	if len(cr.Payload) > 0 {
		// persist the rendered form so records show what was actually sent
		cr.Payload[0].ContentString = body
	}
	if err := d.fhir.UpdateRequest(ctx, cr); err != nil {
		return "", fmt.Errorf("persist dispatched request %s: %w", cr.ID, err)
	}

	record := cr.DeliveryRecord(model.CommInProgress, now)
	if err := d.fhir.CreateCommunication(ctx, record); err != nil {
		return "", fmt.Errorf("create delivery record for %s: %w", cr.ID, err)
	}

	// The request just left the schedule; move the signal forward.
	d.refreshNextOutgoing(ctx, patient)

	metrics.DispatchesTotal.WithLabelValues("sent").Inc()
	d.audit.Entry("message request dispatched", "info", map[string]any{
		"request": cr.ID,
		"sid":     result.SID,
		"status":  result.Status,
	})
	return fmt.Sprintf("dispatched (sid: %s, status: %s)", result.SID, result.Status), nil
}

// failRequest records an unknown-status delivery record, revokes the
// request, and returns the original cause for the sweep's error list.
func (d *Dispatcher) failRequest(ctx context.Context, cr *model.CommunicationRequest, patient *model.Patient, cause error) error {
	record := cr.DeliveryRecord(model.CommUnknown, d.now())
	if err := d.fhir.CreateCommunication(ctx, record); err != nil {
		return fmt.Errorf("create unknown record for %s: %w", cr.ID, err)
	}
	if _, err := d.revoke(ctx, cr, patient, ""); err != nil {
		return err
	}
	return cause
}

// revoke marks the request terminal and refreshes the schedule signal.
func (d *Dispatcher) revoke(ctx context.Context, cr *model.CommunicationRequest, patient *model.Patient, status string) (string, error) {
	cr.Status = model.RequestRevoked
	if err := d.fhir.UpdateRequest(ctx, cr); err != nil {
		return "", fmt.Errorf("persist revoked request %s: %w", cr.ID, err)
	}
	d.refreshNextOutgoing(ctx, patient)
	return status, nil
}

func (d *Dispatcher) refreshNextOutgoing(ctx context.Context, patient *model.Patient) {
	if err := d.tracker.MarkNextOutgoing(ctx, patient, true); err != nil {
		d.audit.Entry("next-outgoing refresh failed", "warn", map[string]any{
			"patient": patient.ID,
			"error":   err.Error(),
		})
	}
}

// resolveSender fetches the practitioner behind the request's sender
// reference, best-effort; an unset or unresolvable sender falls back to the
// team signature during rendering.
func (d *Dispatcher) resolveSender(ctx context.Context, cr *model.CommunicationRequest) *model.Practitioner {
	if cr.Sender == nil || cr.Sender.Type() != "Practitioner" {
		return nil
	}
	var pr model.Practitioner
	if err := d.fhir.Get(ctx, "Practitioner", cr.Sender.ID(), &pr); err != nil {
		d.audit.Entry("sender lookup failed", "warn", map[string]any{
			"request": cr.ID,
			"sender":  cr.Sender.Reference,
			"error":   err.Error(),
		})
		return nil
	}
	return &pr
}
