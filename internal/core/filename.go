package core

import (
	"path"
	"regexp"
	"strings"
	"time"
)

const monthLayout = "2006-01"

var (
	monthToken   = regexp.MustCompile(`(?i)monthly-report-(\d{4}-\d{2})`)
	accountToken = regexp.MustCompile(`(?i)-(\d+)\.csv$`)
)

// ReportFile is what the file name of an export tells us.
type ReportFile struct {
	Name      string
	Month     string
	AccountID string
}

// Identity returns the upsert identity for reports built from this file.
func (f ReportFile) Identity() Identity {
	return NewIdentity(f.AccountID, f.Name)
}

// ParseReportFileName reads month and optional account id from names shaped
// like monthly-report-2024-05-123456789012.csv. Matching ignores case and any
// directory part.
func ParseReportFileName(name string) (ReportFile, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	m := monthToken.FindStringSubmatchIndex(base)
	if m == nil {
		return ReportFile{}, &MissingMonthError{FileName: base}
	}
	month := base[m[2]:m[3]]
	if _, err := ParseMonth(month); err != nil {
		return ReportFile{}, &MissingMonthError{FileName: base}
	}
	f := ReportFile{Name: base, Month: month}
	// The account is the trailing number before .csv, anywhere after the month.
	if a := accountToken.FindStringSubmatch(base[m[1]:]); a != nil {
		f.AccountID = a[1]
	}
	return f, nil
}

// ParseMonth validates a YYYY-MM key.
func ParseMonth(month string) (time.Time, error) {
	t, err := time.Parse(monthLayout, month)
	if err != nil {
		return time.Time{}, ErrMissingMonth
	}
	return t, nil
}

// YearOf returns the YYYY part of a month key.
func YearOf(month string) string {
	if len(month) < 4 {
		return month
	}
	return month[:4]
}
