// Package store persists repairers, jobs and sub-scope progress. The same
// SQL runs on Postgres (pgx) and SQLite (modernc); only placeholders,
// migrations and constraint error detection differ per dialect.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a write violates a uniqueness or state
	// constraint: a second running job, a duplicate identity, or a progress
	// row that is not in the expected state.
	ErrConflict = eris.New("store: conflict")
)

// RecordStore persists canonical repairer records. Only the reconciler
// writes through it.
type RecordStore interface {
	FindByExternalID(ctx context.Context, source model.SourceKind, externalID string) (*model.PersistedRecord, error)
	FindByIdentityKey(ctx context.Context, key string) (*model.PersistedRecord, error)
	// InsertRecord returns the new id, or ErrConflict if either identity
	// path is already taken.
	InsertRecord(ctx context.Context, rec *model.PersistedRecord) (int64, error)
	// UpdateRecord rewrites every mutable column of rec.ID, identity key
	// included. It returns ErrConflict if the key or external id is taken.
	UpdateRecord(ctx context.Context, rec *model.PersistedRecord) error
	GetRecord(ctx context.Context, id int64) (*model.PersistedRecord, error)
	CountRecords(ctx context.Context) (int, error)
}

// JobStore persists job rows.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	// ClaimJob moves a job to running. It fails with ErrConflict when any
	// job is already running.
	ClaimJob(ctx context.Context, id string) error
	FinishJob(ctx context.Context, id string, status model.JobStatus, errMsg string) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	LatestJob(ctx context.Context) (*model.Job, error)
	// LatestJobFor returns the most recent job for the same scope, source
	// and mode.
	LatestJobFor(ctx context.Context, scope model.Scope, source model.SourceKind, mode model.JobMode) (*model.Job, error)
	RunningJob(ctx context.Context) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
	// RecoverInterrupted stops jobs left running by a previous process and
	// returns their running sub-scopes to pending.
	RecoverInterrupted(ctx context.Context) (int, error)
}

// ProgressStore persists per-sub-scope progress rows.
type ProgressStore interface {
	// InitSubScopes creates pending rows for codes, in order, leaving
	// existing rows untouched.
	InitSubScopes(ctx context.Context, jobID string, codes []string) error
	ListSubScopes(ctx context.Context, jobID string) ([]model.SubScopeProgress, error)
	MarkSubScopeRunning(ctx context.Context, jobID, code string) error
	CompleteSubScope(ctx context.Context, jobID, code string, counts model.Counts) error
	FailSubScope(ctx context.Context, jobID, code string, counts model.Counts, errMsg string) error
	// ResetSubScope moves an errored sub-scope back to pending with zeroed
	// counters. Any other state yields ErrConflict.
	ResetSubScope(ctx context.Context, jobID, code string) error
	// ResetInterrupted returns running sub-scopes of a job to pending.
	ResetInterrupted(ctx context.Context, jobID string) error
}

// Store is the full persistence surface.
type Store interface {
	RecordStore
	JobStore
	ProgressStore

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured driver: "postgres" uses dsn as a
// connection string, "sqlite" as a file path.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	}
	return nil, eris.Errorf("store: unknown driver %q", driver)
}
