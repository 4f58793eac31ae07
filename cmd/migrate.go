package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/careloop/caring-relay/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage data migrations against the FHIR store",
	}
	cmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateNewCmd, migrateResetCmd)
	return cmd
}

func newRunner() (*migrate.Runner, *app, error) {
	a, err := newApp()
	if err != nil {
		return nil, nil, err
	}
	seq, err := migrate.Registered()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	env := &migrate.Env{FHIR: a.fhir, Tracker: a.tracker, Audit: a.audit}
	runner := migrate.NewRunner(seq, migrate.NewStore(a.fhir), env, a.audit)
	return runner, a, nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all unapplied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, a, err := newRunner()
		if err != nil {
			return err
		}
		defer a.close()
		return runner.Upgrade(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the latest applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, a, err := newRunner()
		if err != nil {
			return err
		}
		defer a.close()
		return runner.Downgrade(cmd.Context())
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied revision and chain tip",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, a, err := newRunner()
		if err != nil {
			return err
		}
		defer a.close()
		applied, tip, err := runner.Status(cmd.Context())
		if err != nil {
			return err
		}
		if applied == "" {
			applied = "(none)"
		}
		fmt.Printf("applied: %s\ntip:     %s\n", applied, tip)
		return nil
	},
}

var migrateNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Scaffold a new migration chained onto the current tip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := migrate.Registered()
		if err != nil {
			return err
		}
		filename, contents := migrate.Scaffold(args[0], seq.Tip())
		path := filepath.Join("internal", "migrate", filename)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite %s", path)
		}
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("created %s\n", path)
		return nil
	},
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the applied-revision pointer (dev stores only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, a, err := newRunner()
		if err != nil {
			return err
		}
		defer a.close()
		return runner.Reset(cmd.Context())
	},
}
