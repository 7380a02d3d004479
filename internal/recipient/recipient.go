// Package recipient holds the tabular recipient data of a campaign.
//
// A Set has an ordered list of declared columns and rows of string values.
// Every row is validated against the declared columns when it enters the
// set, so a Record always has exactly one value per column.
package recipient

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// Set is an ordered recipient table.
type Set struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewSet creates a set from declared columns and positional rows.
func NewSet(columns []string, rows [][]string) (*Set, error) {
	s, err := newEmptySet(columns)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, domain.NewValidationError("rows",
				fmt.Sprintf("row %d has %d values, expected %d", i, len(row), len(columns)))
		}
		s.rows = append(s.rows, trimAll(row))
	}
	return s, nil
}

func newEmptySet(columns []string) (*Set, error) {
	if len(columns) == 0 {
		return nil, domain.NewValidationError("columns", "at least one column is required")
	}
	s := &Set{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, domain.NewValidationError("columns", fmt.Sprintf("column %d has an empty name", i))
		}
		if _, dup := s.index[c]; dup {
			return nil, domain.NewValidationError("columns", fmt.Sprintf("duplicate column %q", c))
		}
		s.columns[i] = c
		s.index[c] = i
	}
	return s, nil
}

// Columns returns a copy of the declared columns.
func (s *Set) Columns() []string {
	return slices.Clone(s.columns)
}

// HasColumn reports whether name is a declared column.
func (s *Set) HasColumn(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of rows.
func (s *Set) Len() int {
	return len(s.rows)
}

// Row returns the record at position i.
func (s *Set) Row(i int) (Record, error) {
	if i < 0 || i >= len(s.rows) {
		return Record{}, domain.ErrRowOutOfRange
	}
	return s.record(i), nil
}

// Records returns all rows in order.
func (s *Set) Records() []Record {
	out := make([]Record, len(s.rows))
	for i := range s.rows {
		out[i] = s.record(i)
	}
	return out
}

func (s *Set) record(i int) Record {
	return Record{columns: s.columns, values: slices.Clone(s.rows[i])}
}

// Add appends a row built from named values. Unknown names are rejected,
// missing ones become empty, and a row with no non-blank value is rejected.
func (s *Set) Add(values map[string]string) error {
	row, err := s.fromMap(values)
	if err != nil {
		return err
	}
	s.rows = append(s.rows, row)
	return nil
}

// Update replaces the row at position i.
func (s *Set) Update(i int, values map[string]string) error {
	if i < 0 || i >= len(s.rows) {
		return domain.ErrRowOutOfRange
	}
	row, err := s.fromMap(values)
	if err != nil {
		return err
	}
	s.rows[i] = row
	return nil
}

// Delete removes the row at position i.
func (s *Set) Delete(i int) error {
	if i < 0 || i >= len(s.rows) {
		return domain.ErrRowOutOfRange
	}
	s.rows = slices.Delete(s.rows, i, i+1)
	return nil
}

func (s *Set) fromMap(values map[string]string) ([]string, error) {
	row := make([]string, len(s.columns))
	for k, v := range values {
		idx, ok := s.index[k]
		if !ok {
			return nil, domain.NewValidationError("values", fmt.Sprintf("unknown column %q", k))
		}
		row[idx] = strings.TrimSpace(v)
	}
	if blank(row) {
		return nil, domain.NewValidationError("values", "row has no values")
	}
	return row, nil
}

type setJSON struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (s *Set) MarshalJSON() ([]byte, error) {
	rows := s.rows
	if rows == nil {
		rows = [][]string{}
	}
	return json.Marshal(setJSON{Columns: s.columns, Rows: rows})
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var raw setJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewSet(raw.Columns, raw.Rows)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// DetectEmailColumn returns the first column whose name mentions mail,
// or "" when none does.
func DetectEmailColumn(columns []string) string {
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c), "mail") {
			return c
		}
	}
	return ""
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func blank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
