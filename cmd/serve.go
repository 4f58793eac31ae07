package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/careloop/caring-relay/internal/callback"
	"github.com/careloop/caring-relay/internal/db"
	"github.com/careloop/caring-relay/internal/dispatcher"
	httpSrv "github.com/careloop/caring-relay/internal/http"
	"github.com/careloop/caring-relay/internal/logger"
	"github.com/careloop/caring-relay/internal/predictor"
	"github.com/careloop/caring-relay/internal/queue"
	"github.com/careloop/caring-relay/internal/sms"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (Twilio webhooks and operator routes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		cfg := a.cfg

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		provider, err := sms.NewTwilio(sms.TwilioOpts{
			AccountSID:     cfg.Twilio.AccountSID,
			AuthToken:      cfg.Twilio.AuthToken,
			FromPhone:      cfg.Twilio.FromPhone,
			StatusCallback: statusCallbackURL(cfg.Twilio.CallbackBaseURL),
		})
		if err != nil {
			return fmt.Errorf("twilio setup: %w", err)
		}

		pred := predictor.NewClient(cfg.Predictor.URL, cfg.Predictor.Timeout)
		proc := callback.New(a.fhir, a.tracker, a.notifier(), pred, a.audit)
		disp := dispatcher.New(a.fhir, provider, a.tracker, a.audit, cfg.Dispatcher.Cutoff)
		retryQueue := queue.New(redisClient, cfg.Retry.MaxAttempts)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Processor:  proc,
			Dispatcher: disp,
			Retry:      retryQueue,
			Audit:      a.audit,
			Redis:      redisClient,
			Validator:  sms.NewSignatureValidator(cfg.Twilio.AuthToken),
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Sugar().Infof("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				logger.Log.Sugar().Errorf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

func statusCallbackURL(base string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/message-status"
}
