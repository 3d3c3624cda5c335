package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/store"
)

var (
	exportOutPath   string
	exportProductID int64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export observation history to XLSX or CSV",
	Long: `Writes all recorded observations, joined with their product's URL and
title, to the given file. The format follows the file extension (.xlsx
or .csv). Use --product to limit the export to one product.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rows, err := st.ObservationsBefore(ctx, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if exportProductID != 0 {
			filtered := rows[:0]
			for _, r := range rows {
				if r.ProductID == exportProductID {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}

		switch filepath.Ext(exportOutPath) {
		case ".xlsx":
			err = writeXLSX(exportOutPath, rows)
		case ".csv":
			err = writeCSV(exportOutPath, rows)
		default:
			return eris.Errorf("unsupported export extension %q (want .xlsx or .csv)", filepath.Ext(exportOutPath))
		}
		if err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.Int("rows", len(rows)),
			zap.String("out", exportOutPath),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "", "output file path (required)")
	exportCmd.Flags().Int64Var(&exportProductID, "product", 0, "export only this product's history")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}

var exportHeader = []string{"observation_id", "product_id", "url", "title", "price", "currency", "captured_at"}

// writeXLSX writes the export as a single-sheet workbook.
func writeXLSX(path string, rows []store.ArchivedObservation) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("observations")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeader {
		header.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetInt64(r.ID)
		row.AddCell().SetInt64(r.ProductID)
		row.AddCell().SetString(r.URL)
		row.AddCell().SetString(r.Title)
		row.AddCell().SetFloat(r.Price)
		row.AddCell().SetString(string(r.Currency))
		row.AddCell().SetString(r.CapturedAt.UTC().Format(time.RFC3339))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save xlsx")
	}
	return nil
}

// writeCSV writes the export with the same columns the retention archiver
// uses, so both files are interchangeable on import.
func writeCSV(path string, rows []store.ArchivedObservation) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.ProductID, 10),
			r.URL,
			r.Title,
			strconv.FormatFloat(r.Price, 'f', 2, 64),
			string(r.Currency),
			r.CapturedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush")
}
