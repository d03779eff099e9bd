// Package ingest turns uploaded billing CSV files into MonthlyReports.
package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"costlens/internal/core"
)

const (
	ColumnProductName = "product_name"
	ColumnCost        = "cost"
)

// Row is one data record reduced to the two columns the engine reads.
type Row struct {
	Line        int
	ProductName string
	Cost        string
}

// ParseWarning is a record the CSV layer could not read cleanly.
type ParseWarning struct {
	Line    int // 0 if unknown
	Message string
}

// ReadRows reads a header row, locates product_name and cost, and returns the
// data rows. Malformed records become warnings; a missing required column or
// an I/O error fails the whole file.
func ReadRows(r io.Reader) ([]Row, []ParseWarning, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("empty file: %w", core.ErrMissingColumns)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	nameCol, costCol := -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch h {
		case ColumnProductName:
			if nameCol == -1 {
				nameCol = i
			}
		case ColumnCost:
			if costCol == -1 {
				costCol = i
			}
		}
	}
	if nameCol == -1 || costCol == -1 {
		var missing []string
		if nameCol == -1 {
			missing = append(missing, ColumnProductName)
		}
		if costCol == -1 {
			missing = append(missing, ColumnCost)
		}
		return nil, nil, fmt.Errorf("missing %s: %w", strings.Join(missing, ","), core.ErrMissingColumns)
	}
	need := max(nameCol, costCol) + 1

	var (
		rows     []Row
		warnings []ParseWarning
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line := pe.StartLine
				if line == 0 {
					line = pe.Line
				}
				warnings = append(warnings, ParseWarning{Line: line, Message: pe.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < need {
			warnings = append(warnings, ParseWarning{
				Line:    line,
				Message: fmt.Sprintf("too few fields: expected at least %d, got %d", need, len(rec)),
			})
			continue
		}
		rows = append(rows, Row{Line: line, ProductName: rec[nameCol], Cost: rec[costCol]})
	}
	return rows, warnings, nil
}
