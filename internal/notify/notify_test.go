package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/model"
)

func testRecorder() *audit.Recorder {
	return audit.NewRecorder(zap.NewNop(), nil)
}

// digestFixture is a minimal read-only FHIR surface: one practitioner with
// an email address, one care team, one patient.
type digestFixture struct {
	practitioner *model.Practitioner
	team         *model.CareTeam
	patient      *model.Patient
}

func (f *digestFixture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		switch {
		case parts[0] == "Practitioner" && len(parts) == 2:
			writeOne(w, f.practitioner)
		case parts[0] == "Practitioner":
			writeBundle(w, f.practitioner)
		case parts[0] == "CareTeam":
			writeBundle(w, f.team)
		case parts[0] == "Patient" && len(parts) == 2:
			writeOne(w, f.patient)
		default:
			http.NotFound(w, r)
		}
	}
}

func writeOne(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeBundle(w http.ResponseWriter, resources ...any) {
	b := fhir.Bundle{ResourceType: "Bundle", Type: "searchset"}
	for _, r := range resources {
		raw, _ := json.Marshal(r)
		b.Entry = append(b.Entry, fhir.BundleEntry{Resource: raw})
	}
	writeOne(w, &b)
}

func markedPatient(id string, marker time.Time) *model.Patient {
	p := &model.Patient{ResourceType: "Patient", ID: id}
	model.SetExtensionDateTime(p, model.LastUnfollowedUpURL, model.NewFHIRDateTime(marker))
	return p
}

func emailedPractitioner(id, addr string) *model.Practitioner {
	return &model.Practitioner{
		ResourceType: "Practitioner",
		ID:           id,
		Telecom:      []model.ContactPoint{{System: "email", Value: addr}},
	}
}

func TestAssembleSplitsPrimaryAndSecondary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pr := emailedPractitioner("pr-1", "doc@example.org")

	mine := markedPatient("pt-1", now.Add(-3*24*time.Hour))
	mine.GeneralPractitioner = []model.Reference{model.Ref("Practitioner", "pr-1")}
	followed := markedPatient("pt-2", now.Add(-5*24*time.Hour))
	followed.GeneralPractitioner = []model.Reference{model.Ref("Practitioner", "pr-other")}

	d := &Digest{now: func() time.Time { return now }}
	subject, text, _ := d.assemble(pr, []*model.Patient{mine, followed})

	if subject != "2 patient message/s are unanswered" {
		t.Errorf("subject = %q", subject)
	}
	for _, want := range []string{
		"1 unanswered reply/ies for patients you are the primary author for",
		"1 unanswered reply/ies for patients you are following",
		"oldest is 3 day/s old",
		"oldest is 5 day/s old",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
}

func TestAssembleOnlySecondary(t *testing.T) {
	now := time.Now()
	pr := emailedPractitioner("pr-1", "doc@example.org")
	followed := markedPatient("pt-2", now.Add(-48*time.Hour))

	d := &Digest{now: func() time.Time { return now }}
	_, text, _ := d.assemble(pr, []*model.Patient{followed})

	if strings.Contains(text, "primary author") {
		t.Errorf("no primary patients, but text mentions them:\n%s", text)
	}
	if !strings.Contains(text, "you are following") {
		t.Errorf("text missing secondary section:\n%s", text)
	}
}

func TestDigestRunDryRun(t *testing.T) {
	now := time.Now()
	fix := &digestFixture{
		practitioner: emailedPractitioner("pr-1", "doc@example.org"),
		team: &model.CareTeam{
			ResourceType: "CareTeam",
			ID:           "team-1",
			Subject:      &model.Reference{Reference: "Patient/pt-1"},
			Participant: []model.CareTeamParticipant{{
				Member: &model.Reference{Reference: "Practitioner/pr-1"},
			}},
		},
		patient: markedPatient("pt-1", now.Add(-2*24*time.Hour)),
	}
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	var out bytes.Buffer
	d := NewDigest(fhir.NewClient(srv.URL, time.Second), nil, testRecorder())
	d.DryRun = true
	d.Out = &out

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "email to: doc@example.org") {
		t.Errorf("dry run output missing recipient:\n%s", got)
	}
	if !strings.Contains(got, "subject: 1 patient message/s are unanswered") {
		t.Errorf("dry run output missing subject:\n%s", got)
	}
}

func TestDigestRunSkipsRecentMessages(t *testing.T) {
	now := time.Now()
	fix := &digestFixture{
		practitioner: emailedPractitioner("pr-1", "doc@example.org"),
		team: &model.CareTeam{
			ResourceType: "CareTeam",
			ID:           "team-1",
			Subject:      &model.Reference{Reference: "Patient/pt-1"},
			Participant: []model.CareTeamParticipant{{
				Member: &model.Reference{Reference: "Practitioner/pr-1"},
			}},
		},
		patient: markedPatient("pt-1", now.Add(-time.Hour)),
	}
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	var out bytes.Buffer
	d := NewDigest(fhir.NewClient(srv.URL, time.Second), nil, testRecorder())
	d.DryRun = true
	d.Out = &out

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("hour-old message produced a digest email:\n%s", out.String())
	}
}

func TestDigestRunSkipsCaughtUpSentinel(t *testing.T) {
	fix := &digestFixture{
		practitioner: emailedPractitioner("pr-1", "doc@example.org"),
		team: &model.CareTeam{
			ResourceType: "CareTeam",
			ID:           "team-1",
			Subject:      &model.Reference{Reference: "Patient/pt-1"},
			Participant: []model.CareTeamParticipant{{
				Member: &model.Reference{Reference: "Practitioner/pr-1"},
			}},
		},
		patient: markedPatient("pt-1", model.DeepFuture.Time),
	}
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	var out bytes.Buffer
	d := NewDigest(fhir.NewClient(srv.URL, time.Second), nil, testRecorder())
	d.DryRun = true
	d.Out = &out

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("caught-up patient produced a digest email:\n%s", out.String())
	}
}

func TestMessageReceivedUsesUserIDNotName(t *testing.T) {
	fix := &digestFixture{
		practitioner: emailedPractitioner("pr-1", "doc@example.org"),
		team: &model.CareTeam{
			ResourceType: "CareTeam",
			ID:           "team-1",
			Subject:      &model.Reference{Reference: "Patient/pt-1"},
			Participant: []model.CareTeamParticipant{{
				Member: &model.Reference{Reference: "Practitioner/pr-1"},
			}},
		},
	}
	srv := httptest.NewServer(fix.handler())
	defer srv.Close()

	var gotTo []string
	var gotMsg []byte
	m := NewMailer(MailerOpts{Host: "mail.example.org", Port: 465, From: "relay@example.org"}, testRecorder())
	m.send = func(addr, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = msg
		return nil
	}
	n := NewNotifier(fhir.NewClient(srv.URL, time.Second), m, testRecorder())

	patient := &model.Patient{
		ResourceType: "Patient",
		ID:           "pt-1",
		Name:         []model.HumanName{{Use: "usual", Given: []string{"Jo"}, Family: "Smith"}},
		Identifier: []model.Identifier{{
			System: model.UserIDSystem,
			Value:  "study-042",
		}},
	}
	if err := n.MessageReceived(context.Background(), patient); err != nil {
		t.Fatal(err)
	}

	if len(gotTo) != 1 || gotTo[0] != "doc@example.org" {
		t.Fatalf("recipients = %v", gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "study-042") {
		t.Errorf("email body missing user id:\n%s", body)
	}
	for _, phi := range []string{"Jo", "Smith"} {
		if strings.Contains(body, phi) {
			t.Errorf("email body leaks patient name %q:\n%s", phi, body)
		}
	}
}

func TestBuildMessageMultipart(t *testing.T) {
	msg, err := buildMessage("relay@example.org", []string{"a@example.org", "b@example.org"},
		"hello", "plain body", "<p>html body</p>")
	if err != nil {
		t.Fatal(err)
	}
	got := string(msg)
	for _, want := range []string{
		"From: relay@example.org",
		"To: a@example.org, b@example.org",
		"Subject: hello",
		"Content-Type: multipart/alternative",
		"text/plain; charset=utf-8",
		"text/html; charset=utf-8",
		"plain body",
		"<p>html body</p>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q:\n%s", want, got)
		}
	}
}

func TestSendNoRecipientsIsNoOp(t *testing.T) {
	m := NewMailer(MailerOpts{Host: "mail.example.org"}, testRecorder())
	m.send = func(string, string, []string, []byte) error {
		t.Fatal("send called with no recipients")
		return nil
	}
	if err := m.Send(nil, "subject", "text", "html"); err != nil {
		t.Fatal(err)
	}
}
