package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type (
	// Identity names the owner of a MonthlyReport. A report either carries an
	// account id parsed from its file name or falls back to the file name.
	Identity struct {
		account  string
		fileName string
	}

	ServiceCost struct {
		Service string
		Cost    decimal.Decimal
	}

	// Warning is a non-fatal parse problem attached to one uploaded file.
	Warning struct {
		FileName string
		Row      int // 0 when the parser could not tell
		Message  string
	}

	MonthlyReport struct {
		Month    string // YYYY-MM
		Identity Identity
		FileName string
		Services CostMap
		Total    decimal.Decimal

		RowCount    int
		SkippedRows int
	}
)

var (
	ErrMissingMonth   = errors.New("file name has no YYYY-MM month")
	ErrMissingColumns = errors.New("csv header is missing required columns")
	ErrNegativeCost   = errors.New("service cost is negative")
	ErrInvalidCost    = errors.New("invalid cost")
	ErrTotalMismatch  = errors.New("report total does not match service sum")
)

// MissingMonthError rejects a whole file whose name does not carry a month.
type MissingMonthError struct {
	FileName string
}

func (e *MissingMonthError) Error() string {
	return fmt.Sprintf("%s: %v", e.FileName, ErrMissingMonth)
}

func (e *MissingMonthError) Is(target error) bool {
	return target == ErrMissingMonth
}

// NewIdentity prefers the account id and falls back to the file name.
func NewIdentity(accountID, fileName string) Identity {
	accountID = strings.TrimSpace(accountID)
	if accountID != "" {
		return Identity{account: accountID}
	}
	return Identity{fileName: fileName}
}

// AccountIdentity and FileIdentity build the two variants explicitly.
func AccountIdentity(id string) Identity { return Identity{account: id} }

func FileIdentity(name string) Identity { return Identity{fileName: name} }

// Key is the value used for upsert identity, filtering and display.
func (i Identity) Key() string {
	if i.account != "" {
		return i.account
	}
	return i.fileName
}

func (i Identity) IsAccount() bool { return i.account != "" }

func (i Identity) AccountID() (string, bool) {
	return i.account, i.account != ""
}

func (i Identity) String() string {
	if i.IsAccount() {
		return "account:" + i.account
	}
	return "file:" + i.fileName
}

// IdentityKey returns the upsert key of the report.
func (r MonthlyReport) IdentityKey() string {
	return r.Identity.Key()
}

func (r MonthlyReport) Validate() error {
	if _, err := ParseMonth(r.Month); err != nil {
		return err
	}
	if r.Identity.Key() == "" {
		return errors.New("report identity is empty")
	}
	var negative string
	r.Services.Each(func(name string, cost decimal.Decimal) {
		if negative == "" && cost.Sign() < 0 {
			negative = name
		}
	})
	if negative != "" {
		return fmt.Errorf("%s: %w", negative, ErrNegativeCost)
	}
	if !r.Total.Equal(r.Services.Sum()) {
		return ErrTotalMismatch
	}
	return nil
}

func (w Warning) String() string {
	row := "unknown row"
	if w.Row > 0 {
		row = fmt.Sprintf("row %d", w.Row)
	}
	return fmt.Sprintf("%s (%s): %s", w.FileName, row, w.Message)
}
