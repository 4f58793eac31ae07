package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/callback"
	"github.com/careloop/caring-relay/internal/db"
	"github.com/careloop/caring-relay/internal/metrics"
	"github.com/careloop/caring-relay/internal/predictor"
	"github.com/careloop/caring-relay/internal/queue"
)

// retryCallbacksCmd replays queued status callbacks that raced ahead
// of store visibility.
var retryCallbacksCmd = &cobra.Command{
	Use:   "retry-callbacks",
	Short: "Replay queued delivery-status callbacks once and exit",
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
			return err
		}
		defer func() { _ = redisClient.Close() }()

		pred := predictor.NewClient(cfg.Predictor.URL, cfg.Predictor.Timeout)
		proc := callback.New(a.fhir, a.tracker, a.notifier(), pred, a.audit)
		retryQueue := queue.New(redisClient, cfg.Retry.MaxAttempts)

		return replayStatusCallbacks(cmd.Context(), proc, retryQueue, a.audit)
	},
}

// replayStatusCallbacks gives each queued event exactly one attempt per
// invocation: the sweep is bounded by the queue's depth at entry, so an
// event requeued for a still-missing SID waits for the next scheduled run
// rather than burning all its attempts before the store can catch up.
func replayStatusCallbacks(ctx context.Context, proc *callback.Processor, retryQueue *queue.RetryQueue, a *audit.Recorder) error {
	depth, err := retryQueue.Len(ctx)
	if err != nil {
		return err
	}

	for i := int64(0); i < depth; i++ {
		ev, err := retryQueue.Pop(ctx)
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}

		err = proc.OnStatusUpdate(ctx, ev.SID, ev.Status)
		switch {
		case err == nil:
			metrics.CallbackRetriesTotal.WithLabelValues("resolved").Inc()
		case errors.Is(err, callback.ErrSIDNotFound):
			// still not visible; back on the queue for the next run,
			// bounded by max attempts
			ev.AttemptCount++
			if pushErr := retryQueue.Push(ctx, *ev); pushErr != nil {
				if errors.Is(pushErr, queue.ErrRetriesExhausted) {
					metrics.CallbackRetriesTotal.WithLabelValues("exhausted").Inc()
					a.Entry("dropping status callback after max retries", "error", map[string]any{
						"sid":      ev.SID,
						"status":   ev.Status,
						"attempts": ev.AttemptCount,
					})
					continue
				}
				return pushErr
			}
			metrics.CallbackRetriesTotal.WithLabelValues("requeued").Inc()
		default:
			metrics.CallbackRetriesTotal.WithLabelValues("failed").Inc()
			a.Entry("replaying status callback failed", "error", map[string]any{
				"sid":   ev.SID,
				"error": err.Error(),
			})
		}
	}
	return nil
}
