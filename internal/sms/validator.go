package sms

import twilioclient "github.com/twilio/twilio-go/client"

// SignatureValidator verifies that webhook calls genuinely originated from
// Twilio, using the shared auth token.
type SignatureValidator struct {
	v twilioclient.RequestValidator
}

func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{v: twilioclient.NewRequestValidator(authToken)}
}

// Valid checks the X-Twilio-Signature header against the public URL and
// posted form parameters.
func (s *SignatureValidator) Valid(url string, params map[string]string, signature string) bool {
	return s.v.Validate(url, params, signature)
}
