package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// migrationAdvisoryLock keys pg_advisory_lock so overlapping deploys never
// run migrations concurrently.
const migrationAdvisoryLock = 7215001

// migration is one embedded .sql file, identified by its filename.
type migration struct {
	Version  string
	SQL      string
	Checksum string
}

// loadMigrations reads the embedded migration files for a driver, sorted by
// filename (lexicographic = numeric order with zero-padded names).
func loadMigrations(dir string) ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read migration dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	out := make([]migration, 0, len(entries))
	for _, entry := range entries {
		data, err := migrationFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "store: read migration %s", entry.Name())
		}
		sum := sha256.Sum256(data)
		out = append(out, migration{
			Version:  entry.Name(),
			SQL:      string(data),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	return out, nil
}

// migrationExec is the minimal execution surface shared by both drivers.
type migrationExec interface {
	exec(ctx context.Context, sql string, args ...any) error
	queryApplied(ctx context.Context) (map[string]string, error)
	record(ctx context.Context, m migration, elapsed time.Duration) error
}

// applyMigrations runs every pending migration in order and records it in
// schema_migrations. A version whose checksum no longer matches the applied
// record is an error; migration files are immutable once shipped.
func applyMigrations(ctx context.Context, dir string, ex migrationExec) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	migrations, err := loadMigrations(dir)
	if err != nil {
		return err
	}

	applied, err := ex.queryApplied(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return eris.Errorf("store: migration %s checksum mismatch (applied %s, file %s)",
					m.Version, sum, m.Checksum)
			}
			continue
		}

		log.Info("applying migration", zap.String("version", m.Version))
		start := time.Now()
		if err := ex.exec(ctx, m.SQL); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", m.Version)
		}
		if err := ex.record(ctx, m, time.Since(start)); err != nil {
			return eris.Wrapf(err, "store: record migration %s", m.Version)
		}
		log.Info("migration applied",
			zap.String("version", m.Version),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}
