package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// ParseResult is the outcome of reading a CSV upload.
type ParseResult struct {
	Set *Set
	// Rejected holds the 1-based line numbers of non-blank rows whose
	// value count did not match the header.
	Rejected []int
	// EmailColumn is the detected address column, if any.
	EmailColumn string
}

// ParseCSV reads a header row followed by data rows. Blank rows are
// skipped and rows with the wrong number of values are rejected.
func ParseCSV(r io.Reader) (ParseResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ParseResult{}, domain.NewValidationError("csv", "file is empty")
	}
	if err != nil {
		return ParseResult{}, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	set, err := newEmptySet(trimAll(header))
	if err != nil {
		return ParseResult{}, err
	}

	res := ParseResult{Set: set, EmailColumn: DetectEmailColumn(set.columns)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ParseResult{}, fmt.Errorf("read csv: %w", err)
		}
		row := trimAll(rec)
		if blank(row) {
			continue
		}
		if len(row) != len(set.columns) {
			line, _ := cr.FieldPos(0)
			res.Rejected = append(res.Rejected, line)
			continue
		}
		set.rows = append(set.rows, row)
	}
	return res, nil
}

// WriteCSV writes the set with its header row.
func (s *Set) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.columns); err != nil {
		return err
	}
	if err := cw.WriteAll(s.rows); err != nil {
		return err
	}
	return cw.Error()
}
