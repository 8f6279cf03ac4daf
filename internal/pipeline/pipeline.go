// Package pipeline runs raw candidates through normalization, geocoding,
// optional classification and reconciliation. Live scrapes and bulk imports
// share it so they cannot diverge in deduplication behavior.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/repairer-sync/internal/classify"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
	"github.com/sells-group/repairer-sync/internal/reconcile"
	"github.com/sells-group/repairer-sync/pkg/geocode"
)

// Reconciler is the write stage. *reconcile.Reconciler implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, c model.Candidate) (reconcile.Outcome, error)
}

// Config tunes the pipeline.
type Config struct {
	// Concurrency bounds in-flight geocode and classify calls. Default 6.
	Concurrency int
	// ClassifyBatch is the number of candidates per classifier call. Default 20.
	ClassifyBatch int
	// DropInvalid drops candidates the classifier marks invalid.
	DropInvalid bool
	// Prompt is passed to the classifier.
	Prompt string
	// GeocodeTimeout bounds a single geocode call. Default 8s.
	GeocodeTimeout time.Duration
}

// Result extends the sub-scope counters with stage diagnostics. Every
// fetched record ends up added, updated or skipped; Malformed and Invalid
// are subsets of Skipped.
type Result struct {
	model.Counts
	Malformed    int `json:"malformed"`
	Invalid      int `json:"invalid"`
	Ungeocoded   int `json:"ungeocoded"`
	Unclassified int `json:"unclassified"`
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Counts.Add(o.Counts)
	r.Malformed += o.Malformed
	r.Invalid += o.Invalid
	r.Ungeocoded += o.Ungeocoded
	r.Unclassified += o.Unclassified
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	norm       *normalize.Normalizer
	geocoder   geocode.Client
	classifier classify.Classifier
	rec        Reconciler
	cfg        Config
}

// New creates a pipeline. geocoder and classifier may be nil to skip those
// stages.
func New(norm *normalize.Normalizer, geocoder geocode.Client, classifier classify.Classifier, rec Reconciler, cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 6
	}
	if cfg.ClassifyBatch <= 0 {
		cfg.ClassifyBatch = 20
	}
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 8 * time.Second
	}
	return &Pipeline{norm: norm, geocoder: geocoder, classifier: classifier, rec: rec, cfg: cfg}
}

// Run processes one batch of raw candidates. sub supplies city defaults and
// may be nil for imports. Candidate-level problems are counted, never
// returned; the only errors are a store failure during reconciliation and
// cancellation.
func (p *Pipeline) Run(ctx context.Context, raws []model.RawCandidate, source model.SourceKind, sub *model.SubScope) (Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("source", string(source)))
	if sub != nil {
		log = log.With(zap.String("sub_scope", sub.Code()))
	}

	var res Result
	res.Fetched = len(raws)

	cands := make([]model.Candidate, 0, len(raws))
	for _, raw := range raws {
		c, err := p.norm.Normalize(raw, source, sub)
		if err != nil {
			res.Malformed++
			res.Skipped++
			continue
		}
		cands = append(cands, c)
	}

	missed, err := p.geocode(ctx, cands)
	if err != nil {
		return res, err
	}
	res.Ungeocoded = missed

	unclassified, err := p.classify(ctx, cands, log)
	if err != nil {
		return res, err
	}
	res.Unclassified = unclassified

	for _, c := range cands {
		if p.cfg.DropInvalid && c.IsValid != nil && !*c.IsValid {
			log.Debug("dropping invalid candidate", zap.String("name", c.Name))
			res.Invalid++
			res.Skipped++
			continue
		}

		out, err := p.rec.Reconcile(ctx, c)
		if err != nil {
			if errors.Is(err, normalize.ErrMalformed) {
				res.Malformed++
				res.Skipped++
				continue
			}
			return res, eris.Wrap(err, "pipeline: reconcile")
		}
		switch out.Decision {
		case model.DecisionInsert:
			res.Added++
		case model.DecisionUpdate:
			res.Updated++
		default:
			res.Skipped++
		}
	}

	log.Debug("batch processed",
		zap.Int("fetched", res.Fetched),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("ungeocoded", res.Ungeocoded),
	)
	return res, nil
}

// geocode fills coordinates in place for candidates that lack them and
// returns how many stayed ungeocoded.
func (p *Pipeline) geocode(ctx context.Context, cands []model.Candidate) (int, error) {
	missed := make([]bool, len(cands))
	if p.geocoder == nil {
		n := 0
		for _, c := range cands {
			if !c.HasCoordinates() {
				n++
			}
		}
		return n, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range cands {
		c := &cands[i]
		if c.HasCoordinates() {
			continue
		}
		addr := geocode.AddressInput{
			Street:     normalize.FirstAddressLine(c.RawAddress),
			City:       c.City,
			PostalCode: c.PostalCode,
			Country:    "FR",
		}
		if addr.Empty() {
			missed[i] = true
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, p.cfg.GeocodeTimeout)
			defer cancel()

			r, err := p.geocoder.Geocode(cctx, addr)
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrap(ctx.Err(), "pipeline: geocode")
				}
				// Provider trouble is a miss, not a failure.
				missed[i] = true
				return nil
			}
			if r == nil || !r.Matched {
				missed[i] = true
				return nil
			}
			lat, lng := r.Latitude, r.Longitude
			c.Lat, c.Lng = &lat, &lng
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, m := range missed {
		if m {
			n++
		}
	}
	return n, nil
}

// classify applies verdicts in place, batch by batch. A failed batch passes
// through unclassified; the count of such candidates is returned.
func (p *Pipeline) classify(ctx context.Context, cands []model.Candidate, log *zap.Logger) (int, error) {
	if p.classifier == nil || len(cands) == 0 {
		return 0, nil
	}

	size := p.cfg.ClassifyBatch
	failed := make([]int, (len(cands)+size-1)/size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for b, start := 0, 0; start < len(cands); b, start = b+1, start+size {
		end := min(start+size, len(cands))
		batch := cands[start:end]
		g.Go(func() error {
			results, err := p.classifier.Classify(gctx, batch, p.cfg.Prompt)
			if err == nil && len(results) != len(batch) {
				err = eris.Errorf("pipeline: classifier returned %d results for %d candidates", len(results), len(batch))
			}
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrap(ctx.Err(), "pipeline: classify")
				}
				if !errors.Is(err, classify.ErrUnavailable) {
					log.Warn("classification skipped for batch", zap.Int("batch", len(batch)), zap.Error(err))
				}
				failed[b] = len(batch)
				return nil
			}
			for i := range batch {
				results[i].Apply(&batch[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, f := range failed {
		n += f
	}
	return n, nil
}
