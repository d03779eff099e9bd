// Package sheets defines where monthly cost summaries are exported to.
package sheets

import "context"

type (
	// Line is one service total. Costs are decimal strings.
	Line struct {
		Service string
		Cost    string
	}

	// Summary is one monthly report as it leaves the session.
	Summary struct {
		Month     string
		Identity  string
		AccountID string
		FileName  string
		Total     string
		Services  []Line
	}

	// SummaryExporter writes a summary somewhere durable and returns a
	// reference to what it wrote.
	SummaryExporter interface {
		ExportSummary(ctx context.Context, s Summary) (ref string, err error)
	}
)
