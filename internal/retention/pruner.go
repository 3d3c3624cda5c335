// Package retention deletes observations past their retention window,
// optionally archiving the doomed rows to CSV first. Products and targets
// are never touched.
package retention

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/store"
)

// Result reports what one prune run did.
type Result struct {
	Cutoff      time.Time `json:"cutoff"`
	Pruned      int64     `json:"pruned"`
	ArchivePath string    `json:"archive_path,omitempty"`
}

// Pruner deletes old observations through the store.
type Pruner struct {
	store      store.Store
	days       int
	archiveDir string
	log        *zap.Logger
}

// New builds a pruner keeping the last days of observations. A non-empty
// archiveDir gets a CSV of the deleted rows per run.
func New(st store.Store, days int, archiveDir string) *Pruner {
	return &Pruner{
		store:      st,
		days:       days,
		archiveDir: archiveDir,
		log:        zap.L().With(zap.String("component", "retention")),
	}
}

// Run archives (when configured) and deletes everything captured before the
// cutoff. The archive is written before any row is deleted; an archive
// failure aborts the run.
func (p *Pruner) Run(ctx context.Context) (*Result, error) {
	if p.days <= 0 {
		return nil, eris.New("retention: days must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -p.days)
	res := &Result{Cutoff: cutoff}

	if p.archiveDir != "" {
		doomed, err := p.store.ObservationsBefore(ctx, cutoff)
		if err != nil {
			return nil, eris.Wrap(err, "retention: load rows to archive")
		}
		if len(doomed) > 0 {
			path, err := p.writeArchive(doomed, cutoff)
			if err != nil {
				return nil, err
			}
			res.ArchivePath = path
			p.log.Info("archived observations",
				zap.String("path", path),
				zap.Int("rows", len(doomed)),
			)
		}
	}

	pruned, err := p.store.PruneObservations(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "retention: prune")
	}
	res.Pruned = pruned
	p.log.Info("pruned observations",
		zap.Time("cutoff", cutoff),
		zap.Int64("rows", pruned),
	)
	return res, nil
}

func (p *Pruner) writeArchive(rows []store.ArchivedObservation, cutoff time.Time) (string, error) {
	if err := os.MkdirAll(p.archiveDir, 0o755); err != nil {
		return "", eris.Wrap(err, "retention: create archive dir")
	}
	name := fmt.Sprintf("observations-%s.csv", cutoff.Format("20060102T150405"))
	path := filepath.Join(p.archiveDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "retention: create archive file")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write([]string{"observation_id", "product_id", "url", "title", "price", "currency", "captured_at"}); err != nil {
		return "", eris.Wrap(err, "retention: write archive header")
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			strconv.FormatInt(row.ProductID, 10),
			row.URL,
			row.Title,
			strconv.FormatFloat(row.Price, 'f', 2, 64),
			string(row.Currency),
			row.CapturedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return "", eris.Wrap(err, "retention: write archive row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrap(err, "retention: flush archive")
	}
	return path, nil
}
