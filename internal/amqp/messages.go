package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"costlens/internal/core"
)

// ServiceLine is one service total carried by an event. Costs travel as
// decimal strings so no precision is lost.
type ServiceLine struct {
	Service string `json:"service"`
	Cost    string `json:"cost"`
}

// ReportImportedMessage announces a monthly report that was stored. It
// carries the full service breakdown because the store does not outlive the
// session that produced it.
type ReportImportedMessage struct {
	BatchID      string        `json:"batch_id"`
	StoreVersion uint64        `json:"store_version"`
	Month        string        `json:"month"`
	Identity     string        `json:"identity"`
	AccountID    string        `json:"account_id,omitempty"`
	FileName     string        `json:"file_name"`
	Total        string        `json:"total"`
	Services     []ServiceLine `json:"services"`
	Timestamp    time.Time     `json:"timestamp"`
}

func NewReportImportedMessage(batchID string, version uint64, r core.MonthlyReport) *ReportImportedMessage {
	msg := &ReportImportedMessage{
		BatchID:      batchID,
		StoreVersion: version,
		Month:        r.Month,
		Identity:     r.IdentityKey(),
		FileName:     r.FileName,
		Total:        r.Total.String(),
		Services:     make([]ServiceLine, 0, r.Services.Len()),
		Timestamp:    time.Now().UTC(),
	}
	if id, ok := r.Identity.AccountID(); ok {
		msg.AccountID = id
	}
	for _, sc := range r.Services.Pairs() {
		msg.Services = append(msg.Services, ServiceLine{Service: sc.Service, Cost: sc.Cost.String()})
	}
	return msg
}

func (m *ReportImportedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReportImportedMessageFromJSON(data []byte) (*ReportImportedMessage, error) {
	var msg ReportImportedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Month == "" || msg.Identity == "" {
		return nil, errors.New("report message without month or identity")
	}
	return &msg, nil
}
