package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/careloop/caring-relay/internal/model"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "One-off data maintenance against the FHIR store",
	}
	cmd.AddCommand(newUpdateExtensionsCmd(), reinstatePatientsCmd, deactivatePatientCmd, backfillTelecomPeriodCmd, initReportingCmd)
	return cmd
}

// initReportingCmd creates the ClickHouse audit-event table.
var initReportingCmd = &cobra.Command{
	Use:   "init-reporting",
	Short: "Create the reporting schema in ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		if a.ch == nil {
			return fmt.Errorf("clickhouse.dsn not configured")
		}

		sqlPath := filepath.Join("migrations", "001_audit_events.sql")
		sqlBytes, err := os.ReadFile(sqlPath)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", sqlPath, err)
		}
		// clickhouse-go takes one statement per Exec
		for _, stmt := range strings.Split(string(sqlBytes), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := a.ch.Exec(stmt); err != nil {
				return fmt.Errorf("exec schema statement: %w", err)
			}
		}
		fmt.Println("reporting schema ready")
		return nil
	},
}

func newUpdateExtensionsCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "update-extensions",
		Short: "Recompute tracking extensions for all active patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			count := 0
			err = a.fhir.ActivePatients(ctx, func(p *model.Patient) error {
				if err := a.tracker.MarkNextOutgoing(ctx, p, !dryRun); err != nil {
					return fmt.Errorf("Patient/%s next-outgoing: %w", p.ID, err)
				}
				if err := a.tracker.MarkFollowup(ctx, p, !dryRun); err != nil {
					return fmt.Errorf("Patient/%s follow-up: %w", p.ID, err)
				}
				count++
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("processed %d patient(s) (dry-run=%v)\n", count, dryRun)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without persisting")
	return cmd
}

var reinstatePatientsCmd = &cobra.Command{
	Use:   "reinstate-patients",
	Short: "Mark every patient active",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		active := true
		return a.fhir.AllPatients(ctx, func(p *model.Patient) error {
			if p.IsActive() {
				return nil
			}
			p.Active = &active
			if err := a.fhir.UpdatePatient(ctx, p); err != nil {
				return fmt.Errorf("Patient/%s: %w", p.ID, err)
			}
			a.audit.Entry("patient reactivated", "info", map[string]any{"patient": p.ID})
			return nil
		})
	},
}

var deactivatePatientCmd = &cobra.Command{
	Use:   "deactivate-patient <id>",
	Short: "Mark one patient inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		var patient model.Patient
		if err := a.fhir.Get(ctx, "Patient", args[0], &patient); err != nil {
			return err
		}
		inactive := false
		patient.Active = &inactive
		if err := a.fhir.UpdatePatient(ctx, &patient); err != nil {
			return err
		}
		a.audit.Entry("patient deactivated", "info", map[string]any{"patient": patient.ID})
		return nil
	},
}

// backfillTelecomPeriodCmd stamps a period start on sms contacts missing
// one, so later opt-out handling always has a period to close.
var backfillTelecomPeriodCmd = &cobra.Command{
	Use:   "backfill-telecom-period",
	Short: "Add a period start to sms contacts missing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		start := model.NewFHIRDateTime(time.Now().UTC())
		return a.fhir.AllPatients(ctx, func(p *model.Patient) error {
			cp := p.SMSContact()
			if cp == nil || cp.Period != nil {
				return nil
			}
			cp.Period = &model.Period{Start: &start}
			if err := a.fhir.UpdatePatient(ctx, p); err != nil {
				return fmt.Errorf("Patient/%s: %w", p.ID, err)
			}
			a.audit.Entry("telecom period backfilled", "info", map[string]any{"patient": p.ID})
			return nil
		})
	},
}
