package migrate

import (
	"context"
	"fmt"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/model"
	"github.com/careloop/caring-relay/internal/tracking"
)

// Env carries the collaborators migration steps may touch.
type Env struct {
	FHIR    *fhir.Client
	Tracker *tracking.Tracker
	Audit   *audit.Recorder
}

// Store persists the latest applied revision id in a Basic resource.
type Store struct {
	fhir *fhir.Client
}

func NewStore(f *fhir.Client) *Store {
	return &Store{fhir: f}
}

// Current returns the applied revision id, "" when no migration has run.
func (s *Store) Current(ctx context.Context) (string, error) {
	tracker, err := s.fhir.MigrationTracker(ctx)
	if err != nil {
		return "", fmt.Errorf("migration tracker lookup: %w", err)
	}
	if tracker == nil {
		return "", nil
	}
	return tracker.MigrationCode(), nil
}

// Set records the applied revision id, creating the tracker resource on
// first use.
func (s *Store) Set(ctx context.Context, id string) error {
	tracker, err := s.fhir.MigrationTracker(ctx)
	if err != nil {
		return fmt.Errorf("migration tracker lookup: %w", err)
	}
	if tracker == nil {
		tracker = &model.Basic{ResourceType: "Basic"}
		tracker.SetMigrationCode(id)
		if err := s.fhir.Create(ctx, "Basic", tracker, tracker); err != nil {
			return fmt.Errorf("create migration tracker: %w", err)
		}
		return nil
	}
	tracker.SetMigrationCode(id)
	if err := s.fhir.Update(ctx, "Basic", tracker.ID, tracker, tracker); err != nil {
		return fmt.Errorf("update migration tracker: %w", err)
	}
	return nil
}

// Runner applies and reverts migrations against the store.
type Runner struct {
	seq   *Sequence
	store *Store
	env   *Env
	audit *audit.Recorder
}

func NewRunner(seq *Sequence, store *Store, env *Env, a *audit.Recorder) *Runner {
	return &Runner{seq: seq, store: store, env: env, audit: a}
}

// Status returns the applied revision and the chain tip.
func (r *Runner) Status(ctx context.Context) (applied, tip string, err error) {
	applied, err = r.store.Current(ctx)
	if err != nil {
		return "", "", err
	}
	return applied, r.seq.Tip(), nil
}

// Upgrade applies every unapplied revision oldest first, recording
// progress after each step so a failure resumes where it stopped.
func (r *Runner) Upgrade(ctx context.Context) error {
	applied, err := r.store.Current(ctx)
	if err != nil {
		return err
	}
	due, err := r.seq.Unapplied(applied)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		r.audit.Entry("migrations up to date", "info", map[string]any{"revision": applied})
		return nil
	}
	for _, m := range due {
		if m.Up == nil {
			return fmt.Errorf("migrate: revision %s (%s) has no up step", m.ID, m.Name)
		}
		if err := m.Up(ctx, r.env); err != nil {
			return fmt.Errorf("migrate: apply %s (%s): %w", m.ID, m.Name, err)
		}
		if err := r.store.Set(ctx, m.ID); err != nil {
			return err
		}
		r.audit.Entry("migration applied", "info", map[string]any{
			"revision": m.ID,
			"name":     m.Name,
		})
	}
	return nil
}

// Downgrade reverts the latest applied revision.
func (r *Runner) Downgrade(ctx context.Context) error {
	applied, err := r.store.Current(ctx)
	if err != nil {
		return err
	}
	if applied == "" {
		return fmt.Errorf("migrate: nothing applied, nothing to revert")
	}
	m := r.seq.Get(applied)
	if m == nil {
		return fmt.Errorf("migrate: applied revision %s not in chain", applied)
	}
	if m.Down == nil {
		return fmt.Errorf("migrate: revision %s (%s) has no down step", m.ID, m.Name)
	}
	if err := m.Down(ctx, r.env); err != nil {
		return fmt.Errorf("migrate: revert %s (%s): %w", m.ID, m.Name, err)
	}
	if err := r.store.Set(ctx, m.Prev); err != nil {
		return err
	}
	r.audit.Entry("migration reverted", "info", map[string]any{
		"revision": m.ID,
		"name":     m.Name,
	})
	return nil
}

// Reset clears the applied pointer without running any down steps.
// Intended for development stores only.
func (r *Runner) Reset(ctx context.Context) error {
	if err := r.store.Set(ctx, ""); err != nil {
		return err
	}
	r.audit.Entry("migration state reset", "warn", nil)
	return nil
}
