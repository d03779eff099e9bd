// Package google exports monthly cost summaries to a Google Sheets
// spreadsheet, one sheet per year.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	ports "costlens/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var header = []any{"Month", "Identity", "Account", "File", "Service", "Cost"}

type Options struct {
	SpreadsheetID   string
	SheetName       string // base name, prefixed with the report year
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	mu         sync.Mutex
	headerDone map[string]bool
}

var _ ports.SummaryExporter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts.SpreadsheetID, opts.SheetName), nil
}

// NewWithService wraps an existing service, which tests point at a fake
// endpoint.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetBase string) *Client {
	sheetBase = strings.TrimSpace(sheetBase)
	if sheetBase == "" {
		sheetBase = "Costs"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		sheetBase:     sheetBase,
		headerDone:    map[string]bool{},
	}
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(opts.CredentialsJSON)
	case strings.TrimSpace(opts.CredentialsFile) != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", opts.CredentialsFile)
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ExportSummary appends one row per service to the sheet of the summary's
// year and returns the updated range.
func (c *Client) ExportSummary(ctx context.Context, s ports.Summary) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if len(s.Month) < 4 {
		return "", fmt.Errorf("invalid month %q", s.Month)
	}
	year, err := strconv.Atoi(s.Month[:4])
	if err != nil {
		return "", fmt.Errorf("invalid month %q: %w", s.Month, err)
	}
	sheet := yearPrefixedName(c.sheetBase, year)

	if err := c.ensureHeader(ctx, sheet); err != nil {
		return "", err
	}

	rows := summaryRows(s)
	if len(rows) == 0 {
		return "", nil
	}
	rng := fmt.Sprintf("%s!A:F", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Summary exported to Google Sheets",
		"month", s.Month,
		"identity", s.Identity,
		"rows", len(rows),
		"range", ref)
	return ref, nil
}

// ensureHeader writes the header row once per sheet when the sheet is empty.
func (c *Client) ensureHeader(ctx context.Context, sheet string) error {
	c.mu.Lock()
	done := c.headerDone[sheet]
	c.mu.Unlock()
	if done {
		return nil
	}

	rng := fmt.Sprintf("%s!A1:F1", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", sheet, err)
	}
	if len(resp.Values) == 0 {
		_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write header of %s: %w", sheet, err)
		}
	}

	c.mu.Lock()
	c.headerDone[sheet] = true
	c.mu.Unlock()
	return nil
}

func summaryRows(s ports.Summary) [][]any {
	rows := make([][]any, 0, len(s.Services))
	for _, l := range s.Services {
		rows = append(rows, []any{s.Month, s.Identity, s.AccountID, s.FileName, l.Service, l.Cost})
	}
	return rows
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
