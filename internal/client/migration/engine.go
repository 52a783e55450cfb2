// Package migration upgrades client data between format versions: it imports
// the flat legacy store into the database and backfills metadata the newer
// versions rely on.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/logging"
)

const (
	// BaseVersion is assumed when no status has been recorded.
	BaseVersion = "1.0"
	// TargetVersion is the data format this build writes.
	TargetVersion = "2.1"
)

// SensitivityChecker tells which entities carry encrypted fields.
type SensitivityChecker interface {
	HasSensitiveFields(entity string) bool
}

// Step is one migration. It runs when current < Version <= target.
type Step struct {
	Version  string
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

type Engine struct {
	legacy kv.Store
	store  store.EntityStore
	gate   SensitivityChecker
	clock  clockwork.Clock
	logger logging.Logger
	target string

	running atomic.Bool
	steps   []Step
}

type Option func(*Engine)

func WithTarget(v string) Option { return func(e *Engine) { e.target = v } }

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func NewEngine(legacy kv.Store, st store.EntityStore, gate SensitivityChecker, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		legacy: legacy,
		store:  st,
		gate:   gate,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "migration"),
		target: TargetVersion,
	}
	for _, o := range opts {
		o(e)
	}
	e.steps = []Step{
		{Version: "1.1", Name: "legacy-import", Critical: true, Run: e.importLegacy},
		{Version: "2.0", Name: "encryption-backfill", Run: e.backfillEncryption},
		{Version: "2.0", Name: "sync-backfill", Run: e.backfillSync},
		{Version: "2.1", Name: "password-hash", Run: e.hashPasswords},
	}
	return e
}

// Steps returns the registered steps in execution order.
func (e *Engine) Steps() []Step {
	return append([]Step(nil), e.steps...)
}

// Status returns the persisted status, or BaseVersion/pending if none.
func (e *Engine) Status(ctx context.Context) (models.MigrationStatus, error) {
	var st models.MigrationStatus
	ok, err := kv.GetJSON(ctx, e.legacy, kv.KeyMigrationStatus, &st)
	if err != nil {
		return models.MigrationStatus{}, err
	}
	if !ok || st.Version == "" {
		return models.MigrationStatus{Version: BaseVersion, Status: models.MigrationPending}, nil
	}
	return st, nil
}

func (e *Engine) saveStatus(ctx context.Context, st models.MigrationStatus) error {
	return kv.SetJSON(ctx, e.legacy, kv.KeyMigrationStatus, st)
}

func (e *Engine) IsMigrationNeeded(ctx context.Context) (bool, error) {
	st, err := e.Status(ctx)
	if err != nil {
		return false, err
	}
	return CompareVersions(st.Version, e.target) < 0, nil
}

// Run executes the pending steps. A concurrent call returns nil without
// doing anything. A critical step failure restores the pre-migration
// snapshot, records a failed status and returns the error; other failures
// are logged, recorded in the final status, and the run continues.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug(ctx, "migration already running")
		return nil
	}
	defer e.running.Store(false)

	st, err := e.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	if CompareVersions(st.Version, e.target) >= 0 {
		return nil
	}

	var pending []Step
	for _, s := range e.steps {
		if CompareVersions(st.Version, s.Version) < 0 && CompareVersions(s.Version, e.target) <= 0 {
			pending = append(pending, s)
		}
	}

	e.logger.Info(ctx, "migration started", "from", st.Version, "to", e.target, "steps", len(pending))

	snap, err := e.takeSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot before migration: %w", err)
	}

	var soft []error
	for _, s := range pending {
		started := e.clock.Now()
		if err := s.Run(ctx); err != nil {
			if s.Critical {
				return e.fail(ctx, st.Version, s, err, snap)
			}
			e.logger.Error(ctx, "migration step failed, continuing", "version", s.Version, "step", s.Name, "error", err)
			soft = append(soft, fmt.Errorf("%s %s: %w", s.Version, s.Name, err))
			continue
		}
		e.logger.Info(ctx, "migration step done", "version", s.Version, "step", s.Name, "took", e.clock.Since(started))
	}

	final := models.MigrationStatus{
		Version:   e.target,
		Status:    models.MigrationCompleted,
		Timestamp: e.clock.Now().UTC(),
	}
	if err := errors.Join(soft...); err != nil {
		final.Error = err.Error()
	}
	if err := e.saveStatus(ctx, final); err != nil {
		return fmt.Errorf("failed to save migration status: %w", err)
	}

	e.logger.Info(ctx, "migration completed", "version", e.target, "soft_errors", len(soft))
	return nil
}

func (e *Engine) fail(ctx context.Context, from string, s Step, cause error, snap *snapshot) error {
	e.logger.Error(ctx, "critical migration step failed, rolling back", "version", s.Version, "step", s.Name, "error", cause)

	err := fmt.Errorf("critical migration step %s (%s) failed: %w", s.Version, s.Name, cause)
	if rerr := e.restoreSnapshot(ctx, snap); rerr != nil {
		err = errors.Join(err, fmt.Errorf("rollback failed: %w", rerr))
	}

	st := models.MigrationStatus{
		Version:   from,
		Status:    models.MigrationFailed,
		Timestamp: e.clock.Now().UTC(),
		Error:     cause.Error(),
	}
	if serr := e.saveStatus(ctx, st); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
