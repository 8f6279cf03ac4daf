package importer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/model"
)

// batcher buffers payloads into pipeline-sized chunks.
type batcher struct {
	im    *Importer
	rep   *Report
	chunk []model.RawCandidate
}

func (b *batcher) add(ctx context.Context, payload map[string]any) error {
	if len(payload) == 0 {
		return nil
	}
	b.rep.Rows++
	b.chunk = append(b.chunk, model.RawCandidate{Source: model.SourceImport, Payload: payload})
	if len(b.chunk) >= b.im.cfg.ChunkSize {
		return b.flush(ctx)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.chunk) == 0 {
		return nil
	}
	res, err := b.im.run.Run(ctx, b.chunk, model.SourceImport, nil)
	b.rep.Add(res)
	b.chunk = b.chunk[:0]
	if err != nil {
		return eris.Wrap(err, "importer: run pipeline")
	}
	b.im.log.Debug("importer: chunk reconciled",
		zap.Int("rows", b.rep.Rows),
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return nil
}

// table consumes a row stream whose first row is the header.
func (b *batcher) table(ctx context.Context, rowCh <-chan []string, errCh <-chan error) error {
	var (
		h   header
		err error
	)
	first := true
	for row := range rowCh {
		if err != nil {
			continue
		}
		if first {
			first = false
			var ok bool
			if h, ok = resolveHeader(row); !ok {
				err = ErrNoNameColumn
			}
			continue
		}
		err = b.add(ctx, h.payload(row))
	}
	if err != nil {
		return err
	}
	return drain(errCh)
}

// records consumes a stream of already keyed records.
func (b *batcher) records(ctx context.Context, recCh <-chan map[string]any, errCh <-chan error) error {
	var err error
	for rec := range recCh {
		if err != nil {
			continue
		}
		err = b.add(ctx, aliasPayload(rec))
	}
	if err != nil {
		return err
	}
	return drain(errCh)
}

func drain(errCh <-chan error) error {
	for err := range errCh {
		if err != nil {
			return eris.Wrap(err, "importer: read rows")
		}
	}
	return nil
}
