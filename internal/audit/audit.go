// Package audit is the error/event channel clinicians and operators review.
// Entries always land in the structured log; when a ClickHouse connection is
// configured they are also persisted for reporting.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/careloop/caring-relay/internal/util"
)

type Event struct {
	ID       string         `db:"id" json:"id"`
	Time     time.Time      `db:"ts" json:"time"`
	Level    string         `db:"level" json:"level"`
	Message  string         `db:"message" json:"message"`
	Extra    map[string]any `db:"-" json:"extra,omitempty"`
	RawExtra string         `db:"extra" json:"-"`
}

type Recorder struct {
	log *zap.Logger
	ch  *sqlx.DB // nil when reporting storage is not configured
}

func NewRecorder(log *zap.Logger, ch *sqlx.DB) *Recorder {
	return &Recorder{log: log, ch: ch}
}

// Entry records an audit event at the given level ("debug", "info", "warn",
// "error").  Persistence is best-effort; a reporting-store failure never
// propagates to the caller.
func (r *Recorder) Entry(message, level string, extra map[string]any) {
	fields := make([]zap.Field, 0, len(extra))
	for k, v := range extra {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case "debug":
		r.log.Debug(message, fields...)
	case "warn":
		r.log.Warn(message, fields...)
	case "error":
		r.log.Error(message, fields...)
	default:
		r.log.Info(message, fields...)
	}

	if r.ch == nil {
		return
	}
	rawExtra, _ := json.Marshal(extra)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	const q = `INSERT INTO crelay.audit_events (id, ts, level, message, extra) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.ch.ExecContext(ctx, q, util.NewID(), time.Now().UTC(), level, message, string(rawExtra)); err != nil {
		r.log.Warn("audit event not persisted", zap.Error(err))
	}
}

// List returns persisted audit events, newest first, optionally filtered by
// level.  Returns nil when no reporting store is configured.
func (r *Recorder) List(ctx context.Context, level string, limit, offset int) ([]Event, error) {
	if r.ch == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT id, ts, level, message, extra FROM crelay.audit_events`
	args := []any{}
	if level != "" {
		q += ` WHERE level = ?`
		args = append(args, level)
	}
	q += ` ORDER BY ts DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []Event
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].RawExtra != "" {
			_ = json.Unmarshal([]byte(rows[i].RawExtra), &rows[i].Extra)
		}
	}
	return rows, nil
}
