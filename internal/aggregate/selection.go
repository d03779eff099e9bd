package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Mode picks which dimension becomes the chart series.
type Mode string

const (
	ModeService Mode = "service"
	ModeAccount Mode = "account"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeService:
		return ModeService, nil
	case ModeAccount:
		return ModeAccount, nil
	}
	return "", fmt.Errorf("unknown aggregation mode %q", s)
}

// Selection is the active filter state handed to the views.
type Selection struct {
	Accounts []string `json:"accounts"`
	Months   []string `json:"months"`
	Services []string `json:"services"`
	Mode     Mode     `json:"mode"`
}

// Empty reports whether any dimension has nothing selected.
func (s Selection) Empty() bool {
	return len(s.Accounts) == 0 || len(s.Months) == 0 || len(s.Services) == 0
}

// Fingerprint is order-insensitive, so equal sets give equal keys.
func (s Selection) Fingerprint() string {
	h := sha256.New()
	for _, dim := range [][]string{s.Accounts, s.Months, s.Services} {
		keys := append([]string(nil), dim...)
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{0x1f})
		}
		h.Write([]byte{0x1e})
	}
	h.Write([]byte(s.Mode))
	return hex.EncodeToString(h.Sum(nil))
}

type set map[string]struct{}

func setOf(keys []string) set {
	s := make(set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s set) has(k string) bool {
	_, ok := s[k]
	return ok
}
