package engine

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/resilience"
	"github.com/sells-group/repairer-sync/internal/source"
)

// fatalError aborts the whole job: a store write failed, so progress can no
// longer be recorded faithfully. Like quota errors it leaves the sub-scope
// pending.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

type page struct {
	raws []model.RawCandidate
	next *source.Cursor
}

func (e *Engine) execute(ctx context.Context, r *run) {
	job := r.job
	log := e.log.With(
		zap.String("job_id", job.ID),
		zap.String("scope", job.Scope.String()),
		zap.String("source", string(job.Source)),
	)
	// Bookkeeping writes must land even when ctx is being cancelled.
	bg := context.WithoutCancel(ctx)

	defer func() {
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
		close(r.done)
	}()

	finish := func(status model.JobStatus, msg string) {
		if err := e.store.FinishJob(bg, job.ID, status, msg); err != nil {
			log.Error("record job outcome", zap.String("status", string(status)), zap.Error(err))
			return
		}
		switch status {
		case model.JobFailed:
			log.Error("job failed", zap.String("error", msg))
		default:
			log.Info("job finished", zap.String("status", string(status)))
		}
	}

	progress, err := e.store.ListSubScopes(bg, job.ID)
	if err != nil {
		finish(model.JobFailed, eris.Wrap(err, "engine: load progress").Error())
		return
	}
	state := make(map[string]model.SubScopeStatus, len(progress))
	for _, p := range progress {
		state[p.ScopeCode] = p.Status
	}

	fetcher, err := e.sources.Get(job.Source)
	if err != nil {
		finish(model.JobFailed, err.Error())
		return
	}
	queries := r.policy.Queries(e.sources.Queries(job.Source))

	for i := range r.subs {
		sub := r.subs[i]
		if r.stop.Load() || ctx.Err() != nil {
			finish(model.JobStopped, "")
			return
		}
		if st := state[sub.Code()]; st == model.SubScopeDone || st == model.SubScopeErrored {
			continue
		}

		slog := log.With(zap.String("sub_scope", sub.Code()), zap.Int("position", i))
		if err := e.store.MarkSubScopeRunning(bg, job.ID, sub.Code()); err != nil {
			finish(model.JobFailed, eris.Wrap(err, "engine: mark sub-scope running").Error())
			return
		}

		counts, err := e.processSubScope(ctx, fetcher, queries, sub)
		switch {
		case err == nil:
			if err := e.store.CompleteSubScope(bg, job.ID, sub.Code(), counts); err != nil {
				finish(model.JobFailed, eris.Wrap(err, "engine: complete sub-scope").Error())
				return
			}
			slog.Info("sub-scope done",
				zap.Int("fetched", counts.Fetched),
				zap.Int("added", counts.Added),
				zap.Int("updated", counts.Updated),
				zap.Int("skipped", counts.Skipped),
			)

		case ctx.Err() != nil:
			// Shutdown mid sub-scope: leave it pending for the resume.
			if rerr := e.store.ResetInterrupted(bg, job.ID); rerr != nil {
				slog.Error("reset interrupted sub-scope", zap.Error(rerr))
			}
			finish(model.JobStopped, "interrupted")
			return

		case resilience.IsQuotaOrAuth(err) || errors.As(err, new(*fatalError)):
			// The job failed, not this sub-scope: leave it pending so a
			// resume fetches it again. The cause is kept on the job row.
			if rerr := e.store.ResetInterrupted(bg, job.ID); rerr != nil {
				slog.Error("reset failed sub-scope", zap.Error(rerr))
			}
			finish(model.JobFailed, err.Error())
			return

		default:
			if ferr := e.store.FailSubScope(bg, job.ID, sub.Code(), counts, err.Error()); ferr != nil {
				finish(model.JobFailed, eris.Wrap(ferr, "engine: fail sub-scope").Error())
				return
			}
			slog.Warn("sub-scope errored", zap.String("error_class", resilience.Class(err)), zap.Error(err))
		}
	}
	finish(model.JobCompleted, "")
}

// processSubScope fetches every query's pages for sub and pushes each page
// through the processor. Counts reflect the work done before any error.
func (e *Engine) processSubScope(ctx context.Context, f source.Fetcher, queries []string, sub model.SubScope) (model.Counts, error) {
	var counts model.Counts
	for _, q := range queries {
		var cursor *source.Cursor
		for n := 0; n < e.cfg.MaxPages; n++ {
			pg, err := resilience.DoVal(ctx, e.cfg.Retry, func(ctx context.Context) (page, error) {
				fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
				defer cancel()
				raws, next, err := f.Fetch(fctx, q, sub, cursor)
				return page{raws: raws, next: next}, err
			})
			if err != nil {
				return counts, eris.Wrapf(err, "engine: fetch %q page %d", q, n+1)
			}

			res, err := e.proc.Run(ctx, pg.raws, f.Kind(), &sub)
			counts.Add(res.Counts)
			if err != nil {
				if ctx.Err() != nil {
					return counts, eris.Wrap(ctx.Err(), "engine: process page")
				}
				return counts, &fatalError{err: eris.Wrap(err, "engine: process page")}
			}

			if pg.next == nil {
				break
			}
			cursor = pg.next
		}
	}
	return counts, nil
}
