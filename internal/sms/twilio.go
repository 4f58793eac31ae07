package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioErrBlacklist is Twilio's error code for a message to a recipient
// who has opted out of the sending number.
const twilioErrBlacklist = 21610

// Twilio sends SMS through the Twilio REST API.
type Twilio struct {
	client         *twilio.RestClient
	fromPhone      string
	statusCallback string
}

type TwilioOpts struct {
	AccountSID     string
	AuthToken      string
	FromPhone      string
	StatusCallback string // public URL Twilio posts delivery updates to
}

func NewTwilio(opts TwilioOpts) (*Twilio, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, errors.New("sms: twilio account sid and auth token required")
	}
	if opts.FromPhone == "" {
		return nil, errors.New("sms: twilio from phone required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return &Twilio{
		client:         client,
		fromPhone:      opts.FromPhone,
		statusCallback: opts.StatusCallback,
	}, nil
}

func (t *Twilio) Send(ctx context.Context, body, toPhone string) (Result, error) {
	params := &twilioapi.CreateMessageParams{}
	params.SetBody(body)
	params.SetTo(toPhone)
	params.SetFrom(t.fromPhone)
	if t.statusCallback != "" {
		params.SetStatusCallback(t.statusCallback)
	}

	msg, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return Result{}, classifySendError(err)
	}

	res := Result{}
	if msg.Sid != nil {
		res.SID = *msg.Sid
	}
	if msg.Status != nil {
		res.Status = *msg.Status
	}
	return res, nil
}

// classifySendError maps Twilio's opt-out rejection onto
// ErrRecipientOptedOut and wraps everything else.
func classifySendError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) && restErr.Code == twilioErrBlacklist {
		return fmt.Errorf("%w: %s", ErrRecipientOptedOut, restErr.Message)
	}
	return fmt.Errorf("sms: provider send failed: %w", err)
}
