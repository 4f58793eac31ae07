package fhir

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/careloop/caring-relay/internal/model"
)

// Typed search helpers over the generic client.  Every list helper follows
// pagination links until exhausted.

// DueMessageRequests returns active scheduled/manual requests with an
// occurrence at or before now, ordered by occurrence ascending.
func (c *Client) DueMessageRequests(ctx context.Context, now time.Time) ([]model.CommunicationRequest, error) {
	params := url.Values{}
	params.Set("category", strings.Join([]string{model.CodeScheduledMessage, model.CodeManualMessage}, ","))
	params.Set("status", model.RequestActive)
	params.Set("occurrence", "le"+now.Format(time.RFC3339))
	params.Set("_sort", "occurrence")

	var out []model.CommunicationRequest
	err := c.SearchAll(ctx, "CommunicationRequest", params, func(raw json.RawMessage) error {
		var cr model.CommunicationRequest
		if err := json.Unmarshal(raw, &cr); err != nil {
			return err
		}
		out = append(out, cr)
		return nil
	})
	return out, err
}

// NextScheduledForPatient finds the patient's soonest active message
// request, or nil when none is pending.
func (c *Client) NextScheduledForPatient(ctx context.Context, patientID string) (*model.CommunicationRequest, error) {
	params := url.Values{}
	params.Set("category", strings.Join([]string{model.CodeScheduledMessage, model.CodeManualMessage}, ","))
	params.Set("status", model.RequestActive)
	params.Set("recipient", "Patient/"+patientID)
	params.Set("_sort", "occurrence")
	params.Set("_count", "1")

	b, err := c.Search(ctx, "CommunicationRequest", params)
	if err != nil {
		return nil, err
	}
	var cr model.CommunicationRequest
	ok, err := b.First(&cr)
	if err != nil || !ok {
		return nil, err
	}
	return &cr, nil
}

// RequestByProviderSID looks up the message request carrying the given
// provider message sid, or nil.
func (c *Client) RequestByProviderSID(ctx context.Context, sid string) (*model.CommunicationRequest, error) {
	params := url.Values{}
	params.Set("identifier", model.TwilioSIDSystem+"|"+sid)

	b, err := c.Search(ctx, "CommunicationRequest", params)
	if err != nil {
		return nil, err
	}
	var cr model.CommunicationRequest
	ok, err := b.First(&cr)
	if err != nil || !ok {
		return nil, err
	}
	return &cr, nil
}

// ActivePatientByPhone finds the active patient whose sms contact matches
// the given phone number, or nil.
func (c *Client) ActivePatientByPhone(ctx context.Context, phone string) (*model.Patient, error) {
	params := url.Values{}
	params.Set("telecom", strings.TrimPrefix(phone, "+1"))

	var found *model.Patient
	err := c.SearchAll(ctx, "Patient", params, func(raw json.RawMessage) error {
		if found != nil {
			return nil
		}
		var p model.Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.IsActive() {
			found = &p
		}
		return nil
	})
	return found, err
}

// ActiveCarePlanForPatient returns the most recently updated active
// messaging care plan for the patient, or nil.
func (c *Client) ActiveCarePlanForPatient(ctx context.Context, patientID string) (*model.CarePlan, error) {
	params := url.Values{}
	params.Set("subject", "Patient/"+patientID)
	params.Set("category", model.CarePlanCategory)
	params.Set("status", "active")
	params.Set("_sort", "-_lastUpdated")

	b, err := c.Search(ctx, "CarePlan", params)
	if err != nil {
		return nil, err
	}
	var cp model.CarePlan
	ok, err := b.First(&cp)
	if err != nil || !ok {
		return nil, err
	}
	return &cp, nil
}

// CareTeamsForPatient lists care teams whose subject is the patient.
func (c *Client) CareTeamsForPatient(ctx context.Context, patientID string) ([]model.CareTeam, error) {
	params := url.Values{}
	params.Set("subject", "Patient/"+patientID)

	var out []model.CareTeam
	err := c.SearchAll(ctx, "CareTeam", params, func(raw json.RawMessage) error {
		var ct model.CareTeam
		if err := json.Unmarshal(raw, &ct); err != nil {
			return err
		}
		out = append(out, ct)
		return nil
	})
	return out, err
}

// CareTeamsForPractitioner lists care teams the practitioner participates in.
func (c *Client) CareTeamsForPractitioner(ctx context.Context, practitionerID string) ([]model.CareTeam, error) {
	params := url.Values{}
	params.Set("participant", "Practitioner/"+practitionerID)

	var out []model.CareTeam
	err := c.SearchAll(ctx, "CareTeam", params, func(raw json.RawMessage) error {
		var ct model.CareTeam
		if err := json.Unmarshal(raw, &ct); err != nil {
			return err
		}
		out = append(out, ct)
		return nil
	})
	return out, err
}

// CommunicationBasedOn returns the delivery record created for a message
// request, or nil when none exists yet.
func (c *Client) CommunicationBasedOn(ctx context.Context, requestID string) (*model.Communication, error) {
	params := url.Values{}
	params.Set("based-on", "CommunicationRequest/"+requestID)

	b, err := c.Search(ctx, "Communication", params)
	if err != nil {
		return nil, err
	}
	var comm model.Communication
	ok, err := b.First(&comm)
	if err != nil || !ok {
		return nil, err
	}
	return &comm, nil
}

// CommunicationsToPatient lists communications sent to the patient with the
// given category, newest first.
func (c *Client) CommunicationsToPatient(ctx context.Context, patientID, category string) ([]model.Communication, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("recipient", "Patient/"+patientID)
	params.Set("_sort", "-sent")
	return c.listCommunications(ctx, params)
}

// CommunicationsFromPatient lists communications received from the patient,
// newest first.
func (c *Client) CommunicationsFromPatient(ctx context.Context, patientID string) ([]model.Communication, error) {
	params := url.Values{}
	params.Set("sender", "Patient/"+patientID)
	params.Set("_sort", "-sent")
	return c.listCommunications(ctx, params)
}

// OutsideCommunications lists "resolved outside the channel" communications
// about the patient, newest first.  These carry a sent timestamp when a
// practitioner followed up off-channel.
func (c *Client) OutsideCommunications(ctx context.Context, patientID string) ([]model.Communication, error) {
	params := url.Values{}
	params.Set("category", strings.Join([]string{model.CodeNonSMSMessage, model.CodeResolvedNoSend}, ","))
	params.Set("subject", "Patient/"+patientID)
	params.Set("_sort", "-sent")
	return c.listCommunications(ctx, params)
}

func (c *Client) listCommunications(ctx context.Context, params url.Values) ([]model.Communication, error) {
	var out []model.Communication
	err := c.SearchAll(ctx, "Communication", params, func(raw json.RawMessage) error {
		var comm model.Communication
		if err := json.Unmarshal(raw, &comm); err != nil {
			return err
		}
		out = append(out, comm)
		return nil
	})
	return out, err
}

// ActivePatients walks every patient record.  Status is not yet set on all
// patients, so filtering happens client-side via Patient.IsActive.
func (c *Client) ActivePatients(ctx context.Context, fn func(*model.Patient) error) error {
	return c.SearchAll(ctx, "Patient", nil, func(raw json.RawMessage) error {
		var p model.Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if !p.IsActive() {
			return nil
		}
		return fn(&p)
	})
}

// AllPatients walks every patient record regardless of status.
func (c *Client) AllPatients(ctx context.Context, fn func(*model.Patient) error) error {
	return c.SearchAll(ctx, "Patient", nil, func(raw json.RawMessage) error {
		var p model.Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return fn(&p)
	})
}

// ActivePractitioners walks every practitioner record.
func (c *Client) ActivePractitioners(ctx context.Context, fn func(*model.Practitioner) error) error {
	return c.SearchAll(ctx, "Practitioner", nil, func(raw json.RawMessage) error {
		var p model.Practitioner
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return fn(&p)
	})
}

// MigrationTracker returns the Basic resource recording the latest applied
// migration, or nil when uninitialized.
func (c *Client) MigrationTracker(ctx context.Context) (*model.Basic, error) {
	params := url.Values{}
	params.Set("code", model.MigrationSystem+"|")

	b, err := c.Search(ctx, "Basic", params)
	if err != nil {
		return nil, err
	}
	var basic model.Basic
	ok, err := b.First(&basic)
	if err != nil || !ok {
		return nil, err
	}
	return &basic, nil
}

// UpdatePatient persists patient state.
func (c *Client) UpdatePatient(ctx context.Context, p *model.Patient) error {
	return c.Update(ctx, "Patient", p.ID, p, p)
}

// UpdateRequest persists message request state.
func (c *Client) UpdateRequest(ctx context.Context, cr *model.CommunicationRequest) error {
	return c.Update(ctx, "CommunicationRequest", cr.ID, cr, cr)
}

// UpdateCommunication persists communication state.
func (c *Client) UpdateCommunication(ctx context.Context, comm *model.Communication) error {
	return c.Update(ctx, "Communication", comm.ID, comm, comm)
}

// CreateCommunication stores a new communication and returns it with its id.
func (c *Client) CreateCommunication(ctx context.Context, comm *model.Communication) error {
	return c.Create(ctx, "Communication", comm, comm)
}
