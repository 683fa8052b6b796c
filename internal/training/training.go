// Package training turns historical respiratory case records into the static
// text block that is prepended to every analysis prompt.
//
// The context is built once at process start and is read-only afterwards.
// Nothing here fits or trains a model: the rows are only counted and rendered.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ─── TYPES ────────────────────────────────────────────────────────────────────

// Context is the rendered training context. It is a plain value: callers pass
// it into the analysis pipeline instead of reaching for a shared singleton.
type Context string

// Row is one historical case. Only the disease label matters for the context;
// Conditions is kept so sources can be checked for the column's presence.
type Row struct {
	Disease    string
	Conditions string
}

// Table is the result of reading a Source. HasDisease / HasConditions report
// whether the expected columns were found at all.
type Table struct {
	Rows          []Row
	HasDisease    bool
	HasConditions bool
}

// Source reads historical case rows from some backing store.
type Source interface {
	Load(ctx context.Context) (Table, error)
}

// Column names recognised in headers (case-insensitive, trimmed).
const (
	ColumnDisease    = "maladie"
	ColumnConditions = "conditions"
)

// ─── BUILDER ──────────────────────────────────────────────────────────────────

const contextHeader = "Tu es RespirIA, un assistant médical spécialisé dans la prédiction des risques respiratoires.\n" +
	"CONNAISSANCES MÉDICALES (basées sur les données d'entraînement) :\n"

// Build renders t into a Context. Diseases are listed in order of first
// appearance, each with the number of rows carrying that label, and only when
// both the disease and conditions columns are present. The total row count is
// always appended, so zero rows still yields a non-empty header-only block.
func Build(t Table) Context {
	var sb strings.Builder
	sb.WriteString(contextHeader)

	if t.HasDisease && t.HasConditions {
		counts := make(map[string]int)
		var order []string
		for _, r := range t.Rows {
			label := strings.TrimSpace(r.Disease)
			if label == "" {
				continue
			}
			if _, seen := counts[label]; !seen {
				order = append(order, label)
			}
			counts[label]++
		}
		for _, label := range order {
			fmt.Fprintf(&sb, "\n%s :\n", strings.ToUpper(label))
			fmt.Fprintf(&sb, "- Cas observés : %d\n", counts[label])
		}
	}

	fmt.Fprintf(&sb, "\n\nTOTAL DES CAS ANALYSÉS : %d\n", len(t.Rows))
	return Context(sb.String())
}

// Load reads src and builds the context. It never fails: a source error is
// logged and degrades to the empty context so the service still starts.
func Load(ctx context.Context, src Source, logger *slog.Logger) Context {
	start := time.Now()

	t, err := src.Load(ctx)
	if err != nil {
		logger.Error("training: load failed, continuing without context", "error", err)
		return ""
	}

	logger.Info("training: data loaded",
		"rows", len(t.Rows),
		"has_disease", t.HasDisease,
		"has_conditions", t.HasConditions,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Build(t)
}

// ─── HEADER HELPERS ───────────────────────────────────────────────────────────

// columns locates the disease and conditions columns in a header row.
// A missing column is reported as -1.
type columns struct {
	disease    int
	conditions int
}

func findColumns(header []string) columns {
	c := columns{disease: -1, conditions: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case ColumnDisease:
			if c.disease < 0 {
				c.disease = i
			}
		case ColumnConditions:
			if c.conditions < 0 {
				c.conditions = i
			}
		}
	}
	return c
}

// tableFromRecords converts a header + records grid (CSV, XLSX, SQL) into a
// Table. Short records simply leave the missing cells empty.
func tableFromRecords(header []string, records [][]string) Table {
	cols := findColumns(header)
	t := Table{
		Rows:          make([]Row, 0, len(records)),
		HasDisease:    cols.disease >= 0,
		HasConditions: cols.conditions >= 0,
	}
	for _, rec := range records {
		t.Rows = append(t.Rows, Row{
			Disease:    cell(rec, cols.disease),
			Conditions: cell(rec, cols.conditions),
		})
	}
	return t
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}
