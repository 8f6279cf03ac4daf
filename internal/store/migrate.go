package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationsFS embed.FS

// migrate applies the embedded migrations for one dialect directory.
func migrate(ctx context.Context, dialect goose.Dialect, dir string, sqlDB *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+dir)
	if err != nil {
		return eris.Wrapf(err, "store: open %s migrations", dir)
	}
	provider, err := goose.NewProvider(dialect, sqlDB, sub)
	if err != nil {
		return eris.Wrapf(err, "store: init %s migrations", dir)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return eris.Wrapf(err, "store: apply %s migrations", dir)
	}
	for _, r := range results {
		zap.L().Info("store: migration applied",
			zap.String("dialect", dir),
			zap.Int64("version", r.Source.Version),
			zap.Duration("duration", r.Duration),
		)
	}
	return nil
}
