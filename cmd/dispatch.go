package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/careloop/caring-relay/internal/dispatcher"
	"github.com/careloop/caring-relay/internal/sms"
)

// dispatchCmd runs one due-request sweep, for cron and operators.
var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send all due scheduled messages once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		cfg := a.cfg

		provider, err := sms.NewTwilio(sms.TwilioOpts{
			AccountSID:     cfg.Twilio.AccountSID,
			AuthToken:      cfg.Twilio.AuthToken,
			FromPhone:      cfg.Twilio.FromPhone,
			StatusCallback: statusCallbackURL(cfg.Twilio.CallbackBaseURL),
		})
		if err != nil {
			return fmt.Errorf("twilio setup: %w", err)
		}

		disp := dispatcher.New(a.fhir, provider, a.tracker, a.audit, cfg.Dispatcher.Cutoff)
		successes, failures := disp.ExecuteDueRequests(cmd.Context())

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"executed": successes,
			"errors":   failures,
		}); err != nil {
			return err
		}
		if len(failures) > 0 {
			return fmt.Errorf("%d request(s) failed", len(failures))
		}
		return nil
	},
}
