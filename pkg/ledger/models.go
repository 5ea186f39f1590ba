// Package ledger implements the Spending Ledger / Budget Guard (C10):
// per-period spend accounting keyed on (agent_id, zone_id, period_type,
// period_start), grounded on
// src/nexus/pay/spending_policy_service.py's ledger upsert.
package ledger

import "time"

// PeriodType is the spending ledger's accounting window.
type PeriodType string

const (
	Daily   PeriodType = "daily"
	Weekly  PeriodType = "weekly"
	Monthly PeriodType = "monthly"
)

// Row is spending ledger row. Amounts are stored in
// micro-credits (integer) to avoid decimal drift.
type Row struct {
	AgentID          string
	ZoneID           string
	PeriodType       PeriodType
	PeriodStart      time.Time
	AmountSpentMicro int64
	TxCount          int64
	UpdatedAt        time.Time
}

// currentPeriodStart truncates ref to period_type's window start, mirroring
// _current_period_start: daily keeps the day, weekly rewinds to Monday,
// monthly rewinds to the 1st.
func currentPeriodStart(periodType PeriodType, ref time.Time) time.Time {
	y, m, d := ref.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, ref.Location())
	switch periodType {
	case Weekly:
		offset := (int(day.Weekday()) - int(time.Monday) + 7) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, ref.Location())
	default:
		return day
	}
}
