package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/careloop/caring-relay/internal/notify"
)

// sendDigestCmd mails each practitioner their unresponded-message summary.
// Scheduled daily in production.
var sendDigestCmd = func() *cobra.Command {
	var dryRun bool
	var cutoff time.Duration
	cmd := &cobra.Command{
		Use:   "send-digest",
		Short: "Email practitioners their count of unresponded messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			digest := notify.NewDigest(a.fhir, a.mailer(), a.audit)
			digest.Cutoff = cutoff
			digest.DryRun = dryRun
			digest.DashboardURL = a.cfg.App.DashboardURL
			return digest.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print emails instead of sending")
	cmd.Flags().DurationVar(&cutoff, "cutoff", notify.DefaultDigestCutoff, "minimum age before a message counts as unresponded")
	return cmd
}()
