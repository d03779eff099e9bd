package ingest

import (
	"fmt"
	"io"

	"costlens/internal/core"
)

// MaxWarningsPerFile caps the warnings kept for a single file.
const MaxWarningsPerFile = 5

// FileResult is a successfully built report plus its non-fatal warnings.
type FileResult struct {
	FileName     string
	Report       core.MonthlyReport
	Warnings     []core.Warning // at most MaxWarningsPerFile
	WarningCount int            // all warnings, including dropped ones
}

// BuildReport folds normalized rows into one MonthlyReport. Rows that do not
// normalize are counted as skipped and are not warnings.
func BuildReport(file core.ReportFile, rows []Row, parseWarnings []ParseWarning) FileResult {
	services := core.NewCostMapBuilder()
	skipped := 0
	for _, row := range rows {
		sc, ok := core.NormalizeRow(row.ProductName, row.Cost)
		if !ok {
			skipped++
			continue
		}
		services.Add(sc.Service, sc.Cost)
	}
	m := services.Build()

	res := FileResult{
		FileName: file.Name,
		Report: core.MonthlyReport{
			Month:       file.Month,
			Identity:    file.Identity(),
			FileName:    file.Name,
			Services:    m,
			Total:       m.Sum(),
			RowCount:    len(rows),
			SkippedRows: skipped,
		},
		WarningCount: len(parseWarnings),
	}
	for _, pw := range parseWarnings {
		if len(res.Warnings) == MaxWarningsPerFile {
			break
		}
		res.Warnings = append(res.Warnings, core.Warning{
			FileName: file.Name,
			Row:      pw.Line,
			Message:  pw.Message,
		})
	}
	return res
}

// ParseFile reads one uploaded file end to end. Either a full report comes
// back or an error naming the file; there is no partial result.
func ParseFile(name string, r io.Reader) (FileResult, error) {
	file, err := core.ParseReportFileName(name)
	if err != nil {
		return FileResult{}, err
	}
	rows, warnings, err := ReadRows(r)
	if err != nil {
		return FileResult{}, fmt.Errorf("%s: %w", file.Name, err)
	}
	return BuildReport(file, rows, warnings), nil
}
