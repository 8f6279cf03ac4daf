// Package importer feeds tabular files of repairers into the same
// Normalize → Geocode → Classify → Reconcile pipeline as live scraping.
package importer

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/repairer-sync/internal/fetcher"
	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/pipeline"
	"github.com/sells-group/repairer-sync/pkg/notion"
)

const notionScheme = "notion://"

// ErrNoNameColumn is returned when no column of a file maps to the name field.
var ErrNoNameColumn = eris.New("importer: no name column in header")

// Runner is the pipeline entry point. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, raws []model.RawCandidate, source model.SourceKind, sub *model.SubScope) (pipeline.Result, error)
}

// Config tunes an import.
type Config struct {
	// ChunkSize is the number of rows sent to the pipeline at once. Default 100.
	ChunkSize int
	// Sheet selects an XLSX sheet by name; the first sheet otherwise.
	Sheet string
	// Delimiter forces the CSV delimiter; 0 sniffs it.
	Delimiter rune
}

// Report holds the counters of one import.
type Report struct {
	pipeline.Result
	Location string `json:"location"`
	// Rows is the number of data rows read, blank rows excluded.
	Rows int `json:"rows"`
	// Errors counts rows the normalizer rejected.
	Errors int `json:"errors"`
}

// Importer reads a file and runs its rows through the pipeline.
type Importer struct {
	fetch  fetcher.Fetcher
	notion notion.Client
	run    Runner
	cfg    Config
	log    *zap.Logger
}

// New creates an Importer. notionClient may be nil when Notion imports are
// not configured.
func New(f fetcher.Fetcher, notionClient notion.Client, run Runner, cfg Config) *Importer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	return &Importer{
		fetch:  f,
		notion: notionClient,
		run:    run,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "importer")),
	}
}

// Import reads location and reconciles every row. location is a local path,
// an http(s):// or ftp:// URL, or notion://<database-id>. The format follows
// the file extension: .csv, .tsv, .txt, .xlsx, .json or a .zip holding one
// of those.
func (im *Importer) Import(ctx context.Context, location string) (Report, error) {
	rep := Report{Location: location}
	b := &batcher{im: im, rep: &rep}

	var err error
	if strings.HasPrefix(location, notionScheme) {
		err = im.readNotion(ctx, strings.TrimPrefix(location, notionScheme), b)
	} else {
		err = im.readFile(ctx, location, b)
	}
	if err == nil {
		err = b.flush(ctx)
	}
	rep.Errors = rep.Malformed

	log := im.log.With(
		zap.String("location", location),
		zap.Int("rows", rep.Rows),
		zap.Int("fetched", rep.Fetched),
		zap.Int("added", rep.Added),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", rep.Errors),
	)
	if err != nil {
		log.Error("importer: import failed", zap.Error(err))
		return rep, err
	}
	log.Info("importer: import complete")
	return rep, nil
}

// Format returns the lowercased extension of location's path, without the
// dot and ignoring any URL query.
func Format(location string) string {
	p := location
	if fetcher.Scheme(location) != "" {
		if u, err := url.Parse(location); err == nil {
			p = u.Path
		}
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

func (im *Importer) readFile(ctx context.Context, location string, b *batcher) error {
	switch format := Format(location); format {
	case "csv", "tsv", "txt":
		body, err := im.fetch.Download(ctx, location)
		if err != nil {
			return eris.Wrapf(err, "importer: download %s", location)
		}
		defer body.Close() //nolint:errcheck
		delim := im.cfg.Delimiter
		if delim == 0 && format == "tsv" {
			delim = '\t'
		}
		rowCh, errCh := fetcher.StreamCSV(ctx, body, fetcher.CSVOptions{
			Delimiter:  delim,
			LazyQuotes: true,
			TrimSpace:  true,
		})
		return b.table(ctx, rowCh, errCh)

	case "json":
		body, err := im.fetch.Download(ctx, location)
		if err != nil {
			return eris.Wrapf(err, "importer: download %s", location)
		}
		defer body.Close() //nolint:errcheck
		recCh, errCh := fetcher.DecodeRecords(ctx, body)
		return b.records(ctx, recCh, errCh)

	case "xlsx":
		local, cleanup, err := im.localCopy(ctx, location)
		if err != nil {
			return err
		}
		defer cleanup()
		rowCh, errCh := fetcher.StreamXLSX(ctx, local, fetcher.XLSXOptions{SheetName: im.cfg.Sheet})
		return b.table(ctx, rowCh, errCh)

	case "zip":
		local, cleanup, err := im.localCopy(ctx, location)
		if err != nil {
			return err
		}
		defer cleanup()
		dir, err := os.MkdirTemp("", "repairer-import-*")
		if err != nil {
			return eris.Wrap(err, "importer: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		inner, err := fetcher.ExtractDataFile(local, dir, "csv", "tsv", "txt", "json", "xlsx")
		if err != nil {
			return eris.Wrap(err, "importer: extract archive")
		}
		return im.readFile(ctx, inner, b)
	}
	return eris.Errorf("importer: unsupported format %q for %s", Format(location), location)
}

// localCopy returns a path on disk holding location, downloading remote
// files to a temp file. cleanup removes anything it created.
func (im *Importer) localCopy(ctx context.Context, location string) (string, func(), error) {
	switch fetcher.Scheme(location) {
	case "":
		return location, func() {}, nil
	case "file":
		return strings.TrimPrefix(location, "file://"), func() {}, nil
	}
	dir, err := os.MkdirTemp("", "repairer-import-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "importer: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	local := filepath.Join(dir, "download."+Format(location))
	if _, err := fetcher.DownloadToFile(ctx, im.fetch, location, local); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "importer: download %s", location)
	}
	return local, cleanup, nil
}

func (im *Importer) readNotion(ctx context.Context, dbID string, b *batcher) error {
	if im.notion == nil {
		return eris.New("importer: notion is not configured")
	}
	if dbID == "" {
		return eris.New("importer: missing notion database id")
	}
	rows, err := notion.Rows(ctx, im.notion, dbID)
	if err != nil {
		return eris.Wrap(err, "importer: read notion database")
	}
	for _, row := range rows {
		rec := make(map[string]any, len(row))
		for k, v := range row {
			rec[k] = v
		}
		p := aliasPayload(rec)
		if _, ok := p["external_id"]; !ok && row["notion_page_id"] != "" {
			p["external_id"] = row["notion_page_id"]
		}
		if err := b.add(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
