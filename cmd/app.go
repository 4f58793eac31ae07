package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/config"
	"github.com/careloop/caring-relay/internal/db"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/logger"
	"github.com/careloop/caring-relay/internal/notify"
	"github.com/careloop/caring-relay/internal/tracking"
)

// app bundles the collaborators most commands need.  ClickHouse is
// optional: without a DSN the audit recorder only writes to the log.
type app struct {
	cfg     config.Config
	fhir    *fhir.Client
	audit   *audit.Recorder
	tracker *tracking.Tracker
	ch      *sqlx.DB
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	var ch *sqlx.DB
	if cfg.ClickHouse.DSN != "" {
		ch, err = db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("clickhouse connect: %w", err)
		}
	}

	fhirClient := fhir.NewClient(cfg.FHIR.BaseURL, cfg.FHIR.Timeout)
	recorder := audit.NewRecorder(logger.Named("audit"), ch)
	tracker := tracking.New(fhirClient, recorder)

	return &app{
		cfg:     cfg,
		fhir:    fhirClient,
		audit:   recorder,
		tracker: tracker,
		ch:      ch,
	}, nil
}

func (a *app) mailer() *notify.Mailer {
	return notify.NewMailer(notify.MailerOpts{
		Host:     a.cfg.Email.Server,
		Port:     a.cfg.Email.Port,
		Username: a.cfg.Email.Username,
		Password: a.cfg.Email.Password,
		From:     a.cfg.Email.From,
		Suppress: a.cfg.Email.Suppress,
	}, a.audit)
}

func (a *app) notifier() *notify.Notifier {
	n := notify.NewNotifier(a.fhir, a.mailer(), a.audit)
	n.DashboardURL = a.cfg.App.DashboardURL
	return n
}

func (a *app) close() {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	_ = logger.Log.Sync()
}
