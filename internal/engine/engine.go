// Package engine orchestrates scraping jobs: one job at a time, processed by
// a single worker loop that walks the job's sub-scopes in order and records
// progress durably so a stopped job can resume where it left off.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/pipeline"
	"github.com/sells-group/repairer-sync/internal/resilience"
	"github.com/sells-group/repairer-sync/internal/scope"
	"github.com/sells-group/repairer-sync/internal/source"
	"github.com/sells-group/repairer-sync/internal/store"
)

var (
	// ErrJobRunning rejects a start while another job is running.
	ErrJobRunning = eris.New("engine: a job is already running")
	// ErrNoJob is returned when there is no job to stop or report on.
	ErrNoJob = eris.New("engine: no job")
	// ErrInvalidRequest wraps bad scope, source or mode values.
	ErrInvalidRequest = eris.New("engine: invalid job request")
	// ErrClosed rejects a start after the worker loop has exited.
	ErrClosed = eris.New("engine: shutting down")
)

// Store is the persistence the engine needs.
type Store interface {
	store.JobStore
	store.ProgressStore
}

// Processor runs fetched candidates through the write path.
// *pipeline.Pipeline implements it.
type Processor interface {
	Run(ctx context.Context, raws []model.RawCandidate, source model.SourceKind, sub *model.SubScope) (pipeline.Result, error)
}

// Config tunes the orchestrator.
type Config struct {
	Retry resilience.RetryConfig
	// MaxPages caps pages fetched per query per sub-scope. Default 3.
	MaxPages int
	// TestCities and TestQueries bound test-mode runs.
	TestCities  int
	TestQueries int
	// FetchTimeout bounds one fetch attempt. Default 45s.
	FetchTimeout time.Duration
}

// StartResult is returned by Start.
type StartResult struct {
	JobID   string `json:"job_id"`
	Resumed bool   `json:"resumed"`
}

// run is the in-memory handle of the active job.
type run struct {
	job    *model.Job
	subs   []model.SubScope
	policy scope.Policy
	stop   atomic.Bool
	done   chan struct{}
}

// Engine is the job orchestrator. Start, Stop, Status and RetrySubScope are
// safe to call concurrently with the worker loop in Run.
type Engine struct {
	store   Store
	walker  *scope.Walker
	sources *source.Registry
	proc    Processor
	cfg     Config
	log     *zap.Logger

	mu     sync.Mutex
	active *run
	closed bool
	work   chan *run
}

// New creates an engine. Call Recover once before starting the worker loop.
func New(st Store, walker *scope.Walker, sources *source.Registry, proc Processor, cfg Config) *Engine {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 45 * time.Second
	}
	return &Engine{
		store:   st,
		walker:  walker,
		sources: sources,
		proc:    proc,
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "engine")),
		work:    make(chan *run, 1),
	}
}

// Recover stops jobs a previous process left running and returns their
// running sub-scopes to pending.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	n, err := e.store.RecoverInterrupted(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "engine: recover interrupted jobs")
	}
	if n > 0 {
		e.log.Warn("stopped jobs interrupted by a previous process", zap.Int("jobs", n))
	}
	return n, nil
}

// Run is the worker loop. It executes started jobs one at a time until ctx
// is done. Cancelling ctx stops the current job at the next sub-scope
// boundary; later Start calls fail with ErrClosed.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.closed = true
			e.mu.Unlock()
			// A job claimed but never picked up is closed out as stopped.
			select {
			case r := <-e.work:
				e.execute(ctx, r)
			default:
			}
			return
		case r := <-e.work:
			e.execute(ctx, r)
		}
	}
}

// Start validates the request, creates or resumes the matching job, claims
// it and hands it to the worker loop. A stopped or failed job with the same
// scope, source and mode is resumed; so is a completed one that has pending
// sub-scopes after a manual retry.
func (e *Engine) Start(ctx context.Context, sc model.Scope, src model.SourceKind, mode model.JobMode) (StartResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return StartResult{}, ErrClosed
	}
	if e.active != nil {
		return StartResult{}, eris.Wrapf(ErrJobRunning, "job %s", e.active.job.ID)
	}

	if _, err := e.sources.Get(src); err != nil {
		return StartResult{}, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	if len(e.sources.Queries(src)) == 0 {
		return StartResult{}, eris.Wrapf(ErrInvalidRequest, "no queries configured for source %s", src)
	}
	resolved, err := e.walker.Resolve(sc)
	if err != nil {
		return StartResult{}, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	policy := scope.PolicyFor(mode, e.cfg.TestCities, e.cfg.TestQueries)
	subs, err := e.walker.Expand(resolved)
	if err != nil {
		return StartResult{}, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}
	subs = policy.SubScopes(subs)
	if len(subs) == 0 {
		return StartResult{}, eris.Wrapf(ErrInvalidRequest, "scope %s has no cities", resolved)
	}

	if running, err := e.store.RunningJob(ctx); err == nil {
		return StartResult{}, eris.Wrapf(ErrJobRunning, "job %s", running.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return StartResult{}, eris.Wrap(err, "engine: check running job")
	}

	job, resumed, err := e.resumable(ctx, resolved, src, mode)
	if err != nil {
		return StartResult{}, err
	}
	if job == nil {
		job = &model.Job{
			ID:     uuid.NewString(),
			Scope:  resolved,
			Source: src,
			Mode:   mode,
			Status: model.JobPending,
		}
		if err := e.store.CreateJob(ctx, job); err != nil {
			return StartResult{}, eris.Wrap(err, "engine: create job")
		}
	}

	codes := make([]string, len(subs))
	for i, s := range subs {
		codes[i] = s.Code()
	}
	// Missing rows are created lazily for resumed jobs; existing rows keep
	// their state.
	if err := e.store.InitSubScopes(ctx, job.ID, codes); err != nil {
		return StartResult{}, eris.Wrap(err, "engine: init sub-scopes")
	}
	if resumed {
		if err := e.store.ResetInterrupted(ctx, job.ID); err != nil {
			return StartResult{}, eris.Wrap(err, "engine: reset interrupted sub-scopes")
		}
	}

	if err := e.store.ClaimJob(ctx, job.ID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return StartResult{}, eris.Wrapf(ErrJobRunning, "%v", err)
		}
		return StartResult{}, eris.Wrap(err, "engine: claim job")
	}
	job.Status = model.JobRunning

	r := &run{job: job, subs: subs, policy: policy, done: make(chan struct{})}
	e.active = r
	e.work <- r

	e.log.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("scope", resolved.String()),
		zap.String("source", string(src)),
		zap.String("mode", string(mode)),
		zap.Int("sub_scopes", len(subs)),
		zap.Bool("resumed", resumed),
	)
	return StartResult{JobID: job.ID, Resumed: resumed}, nil
}

// resumable returns the job a start request should continue, if any.
func (e *Engine) resumable(ctx context.Context, sc model.Scope, src model.SourceKind, mode model.JobMode) (*model.Job, bool, error) {
	prev, err := e.store.LatestJobFor(ctx, sc, src, mode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "engine: find previous job")
	}

	switch prev.Status {
	case model.JobStopped, model.JobFailed:
		return prev, true, nil
	case model.JobCompleted:
		progress, err := e.store.ListSubScopes(ctx, prev.ID)
		if err != nil {
			return nil, false, eris.Wrap(err, "engine: list previous progress")
		}
		for _, p := range progress {
			if p.Status == model.SubScopePending {
				return prev, true, nil
			}
		}
	}
	return nil, false, nil
}

// Stop asks the running job to stop. The worker observes the request at the
// next sub-scope boundary and marks the job stopped.
func (e *Engine) Stop() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return "", ErrNoJob
	}
	e.active.stop.Store(true)
	e.log.Info("stop requested", zap.String("job_id", e.active.job.ID))
	return e.active.job.ID, nil
}

// Running returns the id of the active job, or "".
func (e *Engine) Running() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.job.ID
}

// Status reports a job and its sub-scope progress. An empty id selects the
// most recent job.
func (e *Engine) Status(ctx context.Context, jobID string) (*model.JobStatusReport, error) {
	var (
		job *model.Job
		err error
	)
	if jobID == "" {
		job, err = e.store.LatestJob(ctx)
	} else {
		job, err = e.store.GetJob(ctx, jobID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrNoJob, "%v", err)
	}
	if err != nil {
		return nil, eris.Wrap(err, "engine: load job")
	}

	progress, err := e.store.ListSubScopes(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load progress")
	}

	rep := &model.JobStatusReport{Job: job, SubScopes: progress}
	e.mu.Lock()
	if e.active != nil && e.active.job.ID == job.ID {
		rep.StopRequested = e.active.stop.Load()
	}
	e.mu.Unlock()
	rep.Summarize()
	return rep, nil
}

// ListJobs returns the most recent jobs, newest first.
func (e *Engine) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	jobs, err := e.store.ListJobs(ctx, limit)
	return jobs, eris.Wrap(err, "engine: list jobs")
}

// RetrySubScope puts an errored sub-scope back to pending so the next start
// of the same job processes it again. Any other state is a conflict.
func (e *Engine) RetrySubScope(ctx context.Context, jobID, code string) error {
	if err := e.store.ResetSubScope(ctx, jobID, code); err != nil {
		return eris.Wrap(err, "engine: retry sub-scope")
	}
	e.log.Info("sub-scope reset for retry", zap.String("job_id", jobID), zap.String("sub_scope", code))
	return nil
}

// Wait blocks until jobID is no longer active and returns its final state.
func (e *Engine) Wait(ctx context.Context, jobID string) (*model.Job, error) {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()

	if r != nil && r.job.ID == jobID {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.done:
		}
	}
	job, err := e.store.GetJob(ctx, jobID)
	return job, eris.Wrap(err, "engine: wait")
}
