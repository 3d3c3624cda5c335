package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/sites"
	"github.com/pricelens/pricelens/internal/store"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import historical observations from CSV",
	Long: `Loads observations from a CSV file in the archive/export format
(header row with url, title, price, currency, captured_at columns).
Rows landing inside the dedup window of an existing observation are
skipped; everything else is inserted with its original timestamp.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		rows, err := readImportCSV(importCSVPath)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return eris.Errorf("no importable rows in %s", importCSVPath)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		inserted, err := st.ImportObservations(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.Int("rows", len(rows)),
			zap.Int64("inserted", inserted),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}

// readImportCSV parses an archive-format CSV into import rows. Column order
// is taken from the header, so exports with extra columns still load.
func readImportCSV(path string) ([]store.ImportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "import: open csv")
	}
	defer f.Close() //nolint:errcheck

	registry, err := sites.Load()
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrap(err, "import: read header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"url", "price", "captured_at"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("import: csv missing %q column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var rows []store.ImportRow
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "import: read csv")
		}
		line++

		price, err := strconv.ParseFloat(field(record, "price"), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "import: line %d: bad price", line)
		}
		capturedAt, err := time.Parse(time.RFC3339, field(record, "captured_at"))
		if err != nil {
			return nil, eris.Wrapf(err, "import: line %d: bad captured_at", line)
		}

		url := field(record, "url")
		site := field(record, "site")
		if site == "" {
			site = registry.Match(url).Name
		}

		rows = append(rows, store.ImportRow{
			URL:        url,
			Site:       site,
			Title:      field(record, "title"),
			Price:      price,
			Currency:   model.NormalizeCurrency(field(record, "currency")),
			CapturedAt: capturedAt.UTC(),
		})
	}
	return rows, nil
}
