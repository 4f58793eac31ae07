// Package notify sends email to care teams: per-message alerts when a
// patient texts in, and the daily unresponded-message digest.
package notify

import (
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/careloop/caring-relay/internal/audit"
)

type MailerOpts struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Suppress short-circuits delivery while still logging what would have
	// been sent.  Used in non-production environments.
	Suppress bool
}

type Mailer struct {
	opts  MailerOpts
	audit *audit.Recorder

	// send is swappable for tests
	send func(addr string, from string, to []string, msg []byte) error
}

func NewMailer(opts MailerOpts, a *audit.Recorder) *Mailer {
	m := &Mailer{opts: opts, audit: a}
	m.send = m.sendSSL
	return m
}

// Send delivers a multipart plain+html message to the given recipients.
func (m *Mailer) Send(to []string, subject, textBody, htmlBody string) error {
	if len(to) == 0 {
		return nil
	}
	if m.opts.Suppress {
		m.audit.Entry("email suppressed", "info", map[string]any{
			"to":      strings.Join(to, ", "),
			"subject": subject,
		})
		return nil
	}

	msg, err := buildMessage(m.opts.From, to, subject, textBody, htmlBody)
	if err != nil {
		return fmt.Errorf("build email: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", m.opts.Host, m.opts.Port)
	if err := m.send(addr, m.opts.From, to, msg); err != nil {
		return fmt.Errorf("send email to %s: %w", strings.Join(to, ", "), err)
	}
	m.audit.Entry("email sent", "info", map[string]any{
		"to":      strings.Join(to, ", "),
		"subject": subject,
	})
	return nil
}

// sendSSL speaks SMTP over an implicit-TLS connection (port 465 style);
// STARTTLS upgrades are not supported by the providers we target.
func (m *Mailer) sendSSL(addr, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.opts.Host})
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, m.opts.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if m.opts.Username != "" {
		auth := smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, to []string, subject, textBody, htmlBody string) ([]byte, error) {
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	// plain part first so clients prefer the html alternative
	pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write([]byte(textBody)); err != nil {
		return nil, err
	}
	hw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := hw.Write([]byte(htmlBody)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}
