package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/model"
)

// Notifier resolves care teams to practitioner addresses and sends the
// per-message alert when a patient texts in.
type Notifier struct {
	fhir   *fhir.Client
	mailer *Mailer
	audit  *audit.Recorder
	// DashboardURL, when set, is linked from alert emails.
	DashboardURL string
}

func NewNotifier(f *fhir.Client, m *Mailer, a *audit.Recorder) *Notifier {
	return &Notifier{fhir: f, mailer: m, audit: a}
}

// CareTeamEmails collects the distinct email addresses of every
// practitioner on the patient's care teams.  Practitioners without an
// email telecom are skipped with an audit entry rather than failing the
// whole notification.
func (n *Notifier) CareTeamEmails(ctx context.Context, patientID string) ([]string, error) {
	teams, err := n.fhir.CareTeamsForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("care teams for Patient/%s: %w", patientID, err)
	}

	seen := map[string]bool{}
	var emails []string
	for _, team := range teams {
		for _, prID := range team.PractitionerIDs() {
			if seen[prID] {
				continue
			}
			seen[prID] = true
			var pr model.Practitioner
			if err := n.fhir.Get(ctx, "Practitioner", prID, &pr); err != nil {
				n.audit.Entry("practitioner lookup failed", "warn", map[string]any{
					"practitioner": prID,
					"error":        err.Error(),
				})
				continue
			}
			addr := pr.EmailAddress()
			if addr == "" {
				n.audit.Entry("practitioner has no email", "warn", map[string]any{
					"practitioner": prID,
				})
				continue
			}
			emails = append(emails, addr)
		}
	}
	sort.Strings(emails)
	return emails, nil
}

// MessageReceived alerts the patient's care team that a new text arrived.
// Neither the message body nor the patient's name goes over email; the
// study user id identifies the sender and content stays in the dashboard.
func (n *Notifier) MessageReceived(ctx context.Context, patient *model.Patient) error {
	emails, err := n.CareTeamEmails(ctx, patient.ID)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		n.audit.Entry("no care team emails for received message", "warn", map[string]any{
			"patient": patient.ID,
		})
		return nil
	}

	userID := patient.UserID()
	if userID == "" {
		userID = "no ID assigned"
	}
	msg := fmt.Sprintf("A new message arrived from recipient (%s).", userID)
	text := msg
	htmlBody := fmt.Sprintf("<p>%s</p>", html.EscapeString(msg))
	if n.DashboardURL != "" {
		link := fmt.Sprintf("%s/target?patient=%s", n.DashboardURL, patient.ID)
		text += "\n\nGo to " + link + " to view it."
		htmlBody += fmt.Sprintf(`<p>Go to <a href=%q>the dashboard</a> to view it.</p>`, link)
	}
	return n.mailer.Send(emails, "New message received", text, htmlBody)
}

// DefaultDigestCutoff is how old an unresponded message must be before
// it counts toward a practitioner's digest.
const DefaultDigestCutoff = 24 * time.Hour

// Digest sends each active practitioner a daily summary of their patients
// with messages still awaiting a reply.
type Digest struct {
	fhir   *fhir.Client
	mailer *Mailer
	audit  *audit.Recorder
	// Cutoff overrides DefaultDigestCutoff when positive.
	Cutoff time.Duration
	// DryRun prints assembled emails to Out instead of sending.
	DryRun bool
	Out    io.Writer

	DashboardURL string
	now          func() time.Time
}

func NewDigest(f *fhir.Client, m *Mailer, a *audit.Recorder) *Digest {
	return &Digest{fhir: f, mailer: m, audit: a, Out: os.Stdout, now: time.Now}
}

// Run walks every active practitioner and emails those whose patients have
// messages older than the cutoff still awaiting a reply.  Qualification per
// patient is decided once per run; patients shared across care teams reuse
// the cached verdict.
func (d *Digest) Run(ctx context.Context) error {
	cutoff := d.Cutoff
	if cutoff <= 0 {
		cutoff = DefaultDigestCutoff
	}
	deadline := d.now().Add(-cutoff)
	verdicts := map[string]*model.Patient{} // patient id -> patient if qualified, nil if not

	sent := 0
	err := d.fhir.ActivePractitioners(ctx, func(pr *model.Practitioner) error {
		addr := pr.EmailAddress()
		if addr == "" {
			return nil
		}
		ids, err := d.practitionerPatients(ctx, pr.ID)
		if err != nil {
			d.audit.Entry("digest patient walk failed", "warn", map[string]any{
				"practitioner": pr.ID,
				"error":        err.Error(),
			})
			return nil
		}

		var unresponded []*model.Patient
		for _, pid := range ids {
			p, seen := verdicts[pid]
			if !seen {
				p = d.qualify(ctx, pid, deadline)
				verdicts[pid] = p
			}
			if p != nil {
				unresponded = append(unresponded, p)
			}
		}
		if len(unresponded) == 0 {
			return nil
		}

		subject, text, htmlBody := d.assemble(pr, unresponded)
		if d.DryRun {
			fmt.Fprintf(d.Out, "email to: %s\nsubject: %s\nbody: %s\n\n", addr, subject, text)
			return nil
		}
		if err := d.mailer.Send([]string{addr}, subject, text, htmlBody); err != nil {
			d.audit.Entry("digest email failed", "warn", map[string]any{
				"practitioner": pr.ID,
				"error":        err.Error(),
			})
			return nil
		}
		sent++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk practitioners: %w", err)
	}
	d.audit.Entry("unresponded digest complete", "info", map[string]any{"emails": sent})
	return nil
}

func (d *Digest) practitionerPatients(ctx context.Context, practitionerID string) ([]string, error) {
	teams, err := d.fhir.CareTeamsForPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, team := range teams {
		if team.Subject == nil || team.Subject.Type() != "Patient" {
			continue
		}
		pid := team.Subject.ID()
		if pid == "" || seen[pid] {
			continue
		}
		seen[pid] = true
		ids = append(ids, pid)
	}
	return ids, nil
}

// qualify returns the patient when their oldest unfollowed-up marker is
// older than the deadline, nil otherwise.
func (d *Digest) qualify(ctx context.Context, patientID string, deadline time.Time) *model.Patient {
	var patient model.Patient
	if err := d.fhir.Get(ctx, "Patient", patientID, &patient); err != nil {
		d.audit.Entry("digest patient lookup failed", "warn", map[string]any{
			"patient": patientID,
			"error":   err.Error(),
		})
		return nil
	}
	if !patient.IsActive() {
		return nil
	}
	marker, ok := model.GetExtensionDateTime(&patient, model.LastUnfollowedUpURL)
	if !ok || !marker.Time.Before(deadline) {
		return nil
	}
	return &patient
}

// assemble splits the practitioner's unresponded patients into primary
// (they are the general practitioner) and secondary (following via a care
// team) and reports the oldest outstanding message in each group.
func (d *Digest) assemble(pr *model.Practitioner, patients []*model.Patient) (subject, text, htmlBody string) {
	now := d.now()
	var primary, secondary int
	oldestPrimary, oldestSecondary := now, now
	for _, p := range patients {
		moment := now
		if marker, ok := model.GetExtensionDateTime(p, model.LastUnfollowedUpURL); ok {
			moment = marker.Time
		}
		if len(p.GeneralPractitioner) > 0 && p.GeneralPractitioner[0].ID() == pr.ID {
			primary++
			if moment.Before(oldestPrimary) {
				oldestPrimary = moment
			}
			continue
		}
		secondary++
		if moment.Before(oldestSecondary) {
			oldestSecondary = moment
		}
	}

	subject = fmt.Sprintf("%d patient message/s are unanswered", len(patients))
	var parts []string
	if primary > 0 {
		parts = append(parts, fmt.Sprintf("There are %d unanswered reply/ies for patients you are the primary author for.", primary))
		parts = append(parts, fmt.Sprintf("The oldest is %d day/s old.", ageDays(now, oldestPrimary)))
	}
	if secondary > 0 {
		parts = append(parts, fmt.Sprintf("There are %d unanswered reply/ies for patients you are following.", secondary))
		parts = append(parts, fmt.Sprintf("The oldest is %d day/s old.", ageDays(now, oldestSecondary)))
	}
	msg := strings.Join(parts, " ")
	text = msg
	htmlBody = fmt.Sprintf("<p>%s</p>", html.EscapeString(msg))
	if d.DashboardURL != "" {
		text += "\n\nGo to " + d.DashboardURL + " to review these outstanding messages."
		htmlBody += fmt.Sprintf(`<p>Go to <a href=%q>the dashboard</a> to review these outstanding messages.</p>`, d.DashboardURL)
	}
	return subject, text, htmlBody
}

func ageDays(now, moment time.Time) int {
	return int(now.Sub(moment).Hours() / 24)
}
