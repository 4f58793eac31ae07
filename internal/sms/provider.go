// Package sms abstracts the outbound SMS provider.
package sms

import (
	"context"
	"errors"
)

// Result reports the provider's handle on an accepted message.
type Result struct {
	SID    string
	Status string
}

// ErrRecipientOptedOut distinguishes "recipient replied STOP at the carrier
// level" from generic send failure; callers must treat it as an unsubscribe
// signal, not an error to retry.
var ErrRecipientOptedOut = errors.New("sms: recipient has opted out")

type Provider interface {
	Send(ctx context.Context, body, toPhone string) (Result, error)
}
