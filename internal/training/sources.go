package training

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lib/pq"
	"github.com/xuri/excelize/v2"
)

// NewSource picks a Source for location: a postgres:// URL reads table from
// Postgres, a .xlsx file is read with excelize, anything else is treated as CSV.
func NewSource(location, table string) Source {
	switch {
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return &PostgresSource{DSN: location, Table: table}
	case strings.EqualFold(filepath.Ext(location), ".xlsx"):
		return &XLSXSource{Path: location}
	default:
		return &CSVSource{Path: location}
	}
}

// ─── CSV ──────────────────────────────────────────────────────────────────────

// CSVSource reads a comma-separated file whose first record is the header.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Load(_ context.Context) (Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return Table{}, fmt.Errorf("training: open csv: %w", err)
	}
	defer f.Close()

	return readCSV(f)
}

func readCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("training: read csv header: %w", err)
	}

	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("training: read csv records: %w", err)
	}

	return tableFromRecords(header, records), nil
}

// ─── XLSX ─────────────────────────────────────────────────────────────────────

// XLSXSource reads a spreadsheet. Sheet defaults to the first sheet.
type XLSXSource struct {
	Path  string
	Sheet string
}

func (s *XLSXSource) Load(_ context.Context) (Table, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return Table{}, fmt.Errorf("training: open xlsx: %w", err)
	}
	defer f.Close()

	sheet := s.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return Table{}, nil
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("training: read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return Table{}, nil
	}

	return tableFromRecords(rows[0], rows[1:]), nil
}

// ─── POSTGRES ─────────────────────────────────────────────────────────────────

// PostgresSource reads every row of Table. When DB is nil a short-lived
// connection is opened from DSN and closed once the rows are read, since the
// context is built only once per process.
type PostgresSource struct {
	DB    *sql.DB
	DSN   string
	Table string
}

func (s *PostgresSource) Load(ctx context.Context) (Table, error) {
	db := s.DB
	if db == nil {
		var err error
		db, err = sql.Open("postgres", s.DSN)
		if err != nil {
			return Table{}, fmt.Errorf("training: open postgres: %w", err)
		}
		defer db.Close()
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+pq.QuoteIdentifier(s.Table))
	if err != nil {
		return Table{}, fmt.Errorf("training: query %s: %w", s.Table, err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return Table{}, fmt.Errorf("training: columns: %w", err)
	}

	var records [][]string
	for rows.Next() {
		cells := make([]sql.NullString, len(header))
		dest := make([]any, len(header))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Table{}, fmt.Errorf("training: scan row: %w", err)
		}
		rec := make([]string, len(cells))
		for i, c := range cells {
			rec[i] = c.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("training: iterate rows: %w", err)
	}

	return tableFromRecords(header, records), nil
}
