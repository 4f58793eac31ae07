package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/model"
	"github.com/careloop/caring-relay/internal/notify"
	"github.com/careloop/caring-relay/internal/predictor"
	"github.com/careloop/caring-relay/internal/tracking"
)

// fakeStore serves the FHIR searches and writes the processor issues.
type fakeStore struct {
	mu       sync.Mutex
	patients map[string]*model.Patient
	requests map[string]*model.CommunicationRequest
	plans    map[string]*model.CarePlan
	comms    map[string]*model.Communication
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients: map[string]*model.Patient{},
		requests: map[string]*model.CommunicationRequest{},
		plans:    map[string]*model.CarePlan{},
		comms:    map[string]*model.Communication{},
	}
}

func (f *fakeStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		q := r.URL.Query()
		switch {
		case r.Method == http.MethodGet && parts[0] == "CommunicationRequest":
			sid := strings.TrimPrefix(q.Get("identifier"), model.TwilioSIDSystem+"|")
			var out []any
			for _, cr := range f.requests {
				if cr.DeliverySID() == sid {
					out = append(out, cr)
				}
			}
			writeSearchset(w, out)
		case r.Method == http.MethodPut && parts[0] == "CommunicationRequest":
			var cr model.CommunicationRequest
			_ = json.NewDecoder(r.Body).Decode(&cr)
			f.requests[parts[1]] = &cr
			writeResource(w, &cr)
		case r.Method == http.MethodGet && parts[0] == "Patient" && len(parts) == 2:
			p, ok := f.patients[parts[1]]
			if !ok {
				http.NotFound(w, r)
				return
			}
			writeResource(w, p)
		case r.Method == http.MethodGet && parts[0] == "Patient":
			telecom := q.Get("telecom")
			var out []any
			for _, p := range f.patients {
				for _, t := range p.Telecom {
					if strings.TrimPrefix(t.Value, "+1") == telecom {
						out = append(out, p)
					}
				}
			}
			writeSearchset(w, out)
		case r.Method == http.MethodPut && parts[0] == "Patient":
			var p model.Patient
			_ = json.NewDecoder(r.Body).Decode(&p)
			f.patients[parts[1]] = &p
			writeResource(w, &p)
		case r.Method == http.MethodGet && parts[0] == "CarePlan":
			var out []any
			for _, plan := range f.plans {
				if plan.Subject != nil && plan.Subject.Reference == q.Get("subject") {
					out = append(out, plan)
				}
			}
			writeSearchset(w, out)
		case r.Method == http.MethodGet && parts[0] == "Communication":
			var out []any
			if basedOn := q.Get("based-on"); basedOn != "" {
				for _, c := range f.comms {
					for _, ref := range c.BasedOn {
						if ref.Reference == basedOn {
							out = append(out, c)
						}
					}
				}
			}
			writeSearchset(w, out)
		case r.Method == http.MethodPost && parts[0] == "Communication":
			var c model.Communication
			_ = json.NewDecoder(r.Body).Decode(&c)
			f.nextID++
			c.ID = fmt.Sprintf("comm-%d", f.nextID)
			f.comms[c.ID] = &c
			writeResource(w, &c)
		case r.Method == http.MethodPut && parts[0] == "Communication":
			var c model.Communication
			_ = json.NewDecoder(r.Body).Decode(&c)
			f.comms[parts[1]] = &c
			writeResource(w, &c)
		case r.Method == http.MethodGet && parts[0] == "CareTeam":
			writeSearchset(w, nil)
		default:
			http.NotFound(w, r)
		}
	}
}

func writeResource(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeSearchset(w http.ResponseWriter, resources []any) {
	b := fhir.Bundle{ResourceType: "Bundle", Type: "searchset"}
	for _, r := range resources {
		raw, _ := json.Marshal(r)
		b.Entry = append(b.Entry, fhir.BundleEntry{Resource: raw})
	}
	writeResource(w, &b)
}

func newTestProcessor(t *testing.T, store *fakeStore) *Processor {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	client := fhir.NewClient(srv.URL, time.Second)
	recorder := audit.NewRecorder(zap.NewNop(), nil)
	tracker := tracking.New(client, recorder)
	mailer := notify.NewMailer(notify.MailerOpts{Suppress: true}, recorder)
	notifier := notify.NewNotifier(client, mailer, recorder)
	pred := predictor.NewClient("", 0)
	return New(client, tracker, notifier, pred, recorder)
}

func dispatchedRequest(id, patientID, sid string) *model.CommunicationRequest {
	cr := &model.CommunicationRequest{
		ResourceType: "CommunicationRequest",
		ID:           id,
		Status:       model.RequestActive,
		Category: []model.CodeableConcept{{Coding: []model.Coding{{
			System: model.CommunicationTypeSystem,
			Code:   model.CodeScheduledMessage,
		}}}},
		Payload:   []model.Payload{{ContentString: "hello"}},
		Recipient: []model.Reference{model.Ref("Patient", patientID)},
	}
	if err := cr.MarkDispatched(sid, "queued", time.Now().Add(-time.Minute)); err != nil {
		panic(err)
	}
	return cr
}

func enrolledPatient(id, phone string) *model.Patient {
	return &model.Patient{
		ResourceType: "Patient",
		ID:           id,
		Telecom:      []model.ContactPoint{{System: "sms", Value: phone}},
	}
}

func TestOnStatusUpdateDeliveredClosesRequest(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")
	store.requests["cr-1"] = dispatchedRequest("cr-1", "pt-1", "SM100")

	p := newTestProcessor(t, store)
	if err := p.OnStatusUpdate(context.Background(), "SM100", "delivered"); err != nil {
		t.Fatal(err)
	}

	cr := store.requests["cr-1"]
	if cr.Status != model.RequestCompleted {
		t.Errorf("request status = %q, want completed", cr.Status)
	}
	if len(store.comms) != 1 {
		t.Fatalf("expected one delivery record, got %d", len(store.comms))
	}
	for _, c := range store.comms {
		if c.Status != model.CommCompleted {
			t.Errorf("delivery record status = %q, want completed", c.Status)
		}
	}
}

func TestOnStatusUpdateCompletesExistingRecord(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")
	cr := dispatchedRequest("cr-1", "pt-1", "SM100")
	store.requests["cr-1"] = cr
	rec := cr.DeliveryRecord(model.CommInProgress, time.Now().Add(-time.Minute))
	rec.ID = "comm-existing"
	store.comms["comm-existing"] = rec

	p := newTestProcessor(t, store)
	if err := p.OnStatusUpdate(context.Background(), "SM100", "sent"); err != nil {
		t.Fatal(err)
	}

	if len(store.comms) != 1 {
		t.Fatalf("duplicate delivery record created: %d records", len(store.comms))
	}
	if store.comms["comm-existing"].Status != model.CommCompleted {
		t.Errorf("existing record status = %q, want completed", store.comms["comm-existing"].Status)
	}
}

func TestOnStatusUpdateReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")
	store.requests["cr-1"] = dispatchedRequest("cr-1", "pt-1", "SM100")

	p := newTestProcessor(t, store)
	for i := 0; i < 2; i++ {
		if err := p.OnStatusUpdate(context.Background(), "SM100", "delivered"); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.comms) != 1 {
		t.Errorf("replay created %d delivery records, want 1", len(store.comms))
	}
}

func TestOnStatusUpdateUnknownSID(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store)
	err := p.OnStatusUpdate(context.Background(), "SM999", "delivered")
	if !errors.Is(err, ErrSIDNotFound) {
		t.Fatalf("err = %v, want ErrSIDNotFound", err)
	}
}

func TestOnInboundSMSRecordsMessage(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")
	store.plans["plan-1"] = &model.CarePlan{
		ResourceType: "CarePlan",
		ID:           "plan-1",
		Status:       "active",
		Subject:      &model.Reference{Reference: "Patient/pt-1"},
	}

	p := newTestProcessor(t, store)
	if err := p.OnInboundSMS(context.Background(), "12065551234", "doing ok today", "SM200"); err != nil {
		t.Fatal(err)
	}

	var recorded *model.Communication
	for _, c := range store.comms {
		recorded = c
	}
	if recorded == nil {
		t.Fatal("no communication recorded")
	}
	if recorded.CategoryCode() != model.CodeReceivedMessage {
		t.Errorf("category = %q, want %q", recorded.CategoryCode(), model.CodeReceivedMessage)
	}
	if recorded.Priority != predictor.PriorityRoutine {
		t.Errorf("priority = %q, want routine", recorded.Priority)
	}
	if len(recorded.Payload) == 0 || recorded.Payload[0].ContentString != "doing ok today" {
		t.Errorf("payload = %+v", recorded.Payload)
	}
	if len(recorded.PartOf) == 0 || recorded.PartOf[0].Reference != "CarePlan/plan-1" {
		t.Errorf("partOf = %+v", recorded.PartOf)
	}
}

func TestOnInboundSMSUnknownPhone(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store)
	err := p.OnInboundSMS(context.Background(), "+19995550000", "hello", "SM1")
	if !errors.Is(err, ErrUnknownPhone) {
		t.Fatalf("err = %v, want ErrUnknownPhone", err)
	}
}

func TestOnInboundSMSNoCarePlan(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")

	p := newTestProcessor(t, store)
	err := p.OnInboundSMS(context.Background(), "+12065551234", "hello", "SM1")
	if !errors.Is(err, ErrNoCarePlan) {
		t.Fatalf("err = %v, want ErrNoCarePlan", err)
	}
	if len(store.comms) != 0 {
		t.Errorf("message recorded despite missing care plan")
	}
}

func TestOnInboundSMSStopKeyword(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")

	p := newTestProcessor(t, store)
	if err := p.OnInboundSMS(context.Background(), "+12065551234", "  stop \n", "SM1"); err != nil {
		t.Fatal(err)
	}
	if !store.patients["pt-1"].Unsubscribed() {
		t.Errorf("STOP did not unsubscribe the patient")
	}
	if len(store.comms) != 0 {
		t.Errorf("keyword message was recorded as a communication")
	}
}

func TestOnInboundSMSStartKeyword(t *testing.T) {
	store := newFakeStore()
	pt := enrolledPatient("pt-1", "+12065551234")
	pt.Unsubscribe(time.Now().Add(-time.Hour))
	store.patients["pt-1"] = pt

	p := newTestProcessor(t, store)
	if err := p.OnInboundSMS(context.Background(), "+12065551234", "START", "SM1"); err != nil {
		t.Fatal(err)
	}
	if store.patients["pt-1"].Unsubscribed() {
		t.Errorf("START did not resubscribe the patient")
	}
}

func TestOnInboundSMSStartKeywordWhileSubscribed(t *testing.T) {
	store := newFakeStore()
	store.patients["pt-1"] = enrolledPatient("pt-1", "+12065551234")

	p := newTestProcessor(t, store)
	if err := p.OnInboundSMS(context.Background(), "+12065551234", "start", "SM1"); err != nil {
		t.Fatal(err)
	}
	if store.patients["pt-1"].Unsubscribed() {
		t.Errorf("START flipped a subscribed patient to unsubscribed")
	}
	if len(store.comms) != 0 {
		t.Errorf("control keyword was recorded as a communication")
	}
}
