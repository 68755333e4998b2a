// Package dataset loads the historical match table and exposes it in a
// row-and-column addressable form for the core and its callers.
package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrLoad marks a dataset that could not be read at all.
var ErrLoad = errors.New("dataset load failed")

// Row is one record keyed by column name. Missing columns read as "".
type Row map[string]string

// Get returns the trimmed cell value and whether it holds data. Empty cells
// and the usual dataframe null spellings count as missing.
func (r Row) Get(column string) (string, bool) {
	v, ok := r[column]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "nan", "null", "none", "<na>", "nat":
		return "", false
	}
	return v, true
}

// Table is an immutable, header-first view of the dataset.
type Table struct {
	columns []string
	rows    []Row
}

// New builds a table from explicit columns and rows.
func New(columns []string, rows []Row) *Table {
	return &Table{columns: append([]string(nil), columns...), rows: rows}
}

// Load reads a comma separated file whose first record is the header.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", path), ErrLoad)
	}
	defer f.Close()
	t, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return t, nil
}

// Read parses CSV from r. Ragged records are tolerated: short records leave
// trailing columns empty and extra cells are dropped.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Mark(errors.New("missing header row"), ErrLoad)
		}
		return nil, errors.Mark(err, ErrLoad)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Mark(err, ErrLoad)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return &Table{columns: columns, rows: rows}, nil
}

func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Row(i int) Row { return t.rows[i] }

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the present values of one column in row order. Missing
// cells are left out.
func (t *Table) Column(name string) []string {
	out := make([]string, 0, len(t.rows))
	for _, r := range t.rows {
		if v, ok := r.Get(name); ok {
			out = append(out, v)
		}
	}
	return out
}

// Filter returns a new table with the rows matching keep.
func (t *Table) Filter(keep func(Row) bool) *Table {
	var rows []Row
	for _, r := range t.rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return &Table{columns: t.columns, rows: rows}
}

// SortBy returns a new table ordered lexically by column. Rows with a
// missing value sort last either way.
func (t *Table) SortBy(column string, desc bool) *Table {
	rows := append([]Row(nil), t.rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := rows[i].Get(column)
		b, bok := rows[j].Get(column)
		if aok != bok {
			return aok
		}
		if desc {
			return a > b
		}
		return a < b
	})
	return &Table{columns: t.columns, rows: rows}
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.rows) {
		n = len(t.rows)
	}
	return &Table{columns: t.columns, rows: t.rows[:n]}
}

// Each calls fn with the zero-based index and row until fn returns false.
func (t *Table) Each(fn func(i int, r Row) bool) {
	for i, r := range t.rows {
		if !fn(i, r) {
			return
		}
	}
}
