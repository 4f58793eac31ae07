// Package tracking maintains the two time-valued patient extensions that
// keep the care-team queue sortable: the time of the next scheduled outgoing
// message, and the oldest inbound message still awaiting a reply.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/model"
)

type Tracker struct {
	fhir  *fhir.Client
	audit *audit.Recorder
	now   func() time.Time
}

func New(f *fhir.Client, a *audit.Recorder) *Tracker {
	return &Tracker{fhir: f, audit: a, now: time.Now}
}

// MarkNextOutgoing recomputes the next-outgoing extension from the
// patient's soonest pending message request.  Patients with nothing
// scheduled get the deep-past sentinel so they still sort and search.
// The patient record is persisted only when the value actually changed.
func (t *Tracker) MarkNextOutgoing(ctx context.Context, p *model.Patient, persistOnChange bool) error {
	next, err := t.fhir.NextScheduledForPatient(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("next outgoing lookup for Patient/%s: %w", p.ID, err)
	}

	value := model.DeepPast
	if next != nil && next.OccurrenceDateTime != nil {
		value = *next.OccurrenceDateTime
	}

	return t.setIfChanged(ctx, p, model.NextOutgoingURL, value, persistOnChange)
}

// MarkFollowup recomputes the last-unfollowedup extension from the
// patient's communication history.  Persisted only on change, so concurrent
// recomputation with no new messages stays write-free.
func (t *Tracker) MarkFollowup(ctx context.Context, p *model.Patient, persistOnChange bool) error {
	value, err := t.ComputeFollowup(ctx, p)
	if err != nil {
		return err
	}
	return t.setIfChanged(ctx, p, model.LastUnfollowedUpURL, value, persistOnChange)
}

// ComputeFollowup derives the oldest inbound message timestamp at or after
// the patient's most recent follow-up, else the deep-future sentinel.
func (t *Tracker) ComputeFollowup(ctx context.Context, p *model.Patient) (model.FHIRDateTime, error) {
	manual, err := t.fhir.CommunicationsToPatient(ctx, p.ID, model.CodeManualMessage)
	if err != nil {
		return model.FHIRDateTime{}, fmt.Errorf("manual communications for Patient/%s: %w", p.ID, err)
	}
	outside, err := t.fhir.OutsideCommunications(ctx, p.ID)
	if err != nil {
		return model.FHIRDateTime{}, fmt.Errorf("outside communications for Patient/%s: %w", p.ID, err)
	}
	inbound, err := t.fhir.CommunicationsFromPatient(ctx, p.ID)
	if err != nil {
		return model.FHIRDateTime{}, fmt.Errorf("inbound communications for Patient/%s: %w", p.ID, err)
	}
	return followupTime(manual, outside, inbound), nil
}

// followupTime is the pure core of the follow-up calculation.  All three
// lists arrive sorted newest first.
func followupTime(manual, outside, inbound []model.Communication) model.FHIRDateTime {
	var lastFollowup *model.FHIRDateTime
	for _, lists := range [][]model.Communication{manual, outside} {
		for _, comm := range lists {
			if comm.Sent == nil {
				continue
			}
			if lastFollowup == nil || comm.Sent.After(*lastFollowup) {
				sent := *comm.Sent
				lastFollowup = &sent
			}
			break // newest first; the first timestamped entry is the latest
		}
	}

	oldest := model.DeepFuture
	found := false
	for i := len(inbound) - 1; i >= 0; i-- {
		comm := inbound[i]
		if comm.Sent == nil {
			continue
		}
		if lastFollowup != nil && comm.Sent.Before(*lastFollowup) {
			continue
		}
		if !found || comm.Sent.Before(oldest) {
			oldest = *comm.Sent
			found = true
		}
	}
	return oldest
}

func (t *Tracker) setIfChanged(ctx context.Context, p *model.Patient, url string, value model.FHIRDateTime, persist bool) error {
	current, ok := model.GetExtensionDateTime(p, url)
	if ok && current.Equal(value) {
		return nil
	}
	model.SetExtensionDateTime(p, url, value)

	if !persist {
		return nil
	}
	if err := t.fhir.UpdatePatient(ctx, p); err != nil {
		return fmt.Errorf("persist Patient/%s %s: %w", p.ID, url, err)
	}
	t.audit.Entry("patient tracking extension updated", "debug", map[string]any{
		"patient": p.ID,
		"url":     url,
		"value":   value.String(),
	})
	return nil
}
