package ledger

import (
	"context"
	"database/sql"
	"time"

	"nexus/pkg/errtypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS spending_ledger (
	agent_id           TEXT NOT NULL,
	zone_id            TEXT NOT NULL,
	period_type        TEXT NOT NULL,
	period_start       DATE NOT NULL,
	amount_spent_micro INTEGER NOT NULL DEFAULT 0,
	tx_count           INTEGER NOT NULL DEFAULT 0,
	updated_at         TIMESTAMP NOT NULL,
	PRIMARY KEY (agent_id, zone_id, period_type, period_start)
);
`

// Store is the Spending Ledger / Budget Guard (C10).
type Store struct {
	db *sql.DB
}

// New wires a Store and runs its migration.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errtypes.BackendError{BackendName: "ledger", Err: err}
	}
	return &Store{db: db}, nil
}

// Charge upserts the ledger row for the period window containing now,
// incrementing amount_spent_micro and tx_count, and returns the new
// totals.
func (s *Store) Charge(ctx context.Context, agentID, zoneID string, periodType PeriodType, amountMicro int64, now time.Time) (*Row, error) {
	periodStart := currentPeriodStart(periodType, now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spending_ledger (agent_id, zone_id, period_type, period_start, amount_spent_micro, tx_count, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (agent_id, zone_id, period_type, period_start) DO UPDATE SET
			amount_spent_micro = amount_spent_micro + excluded.amount_spent_micro,
			tx_count = tx_count + 1,
			updated_at = excluded.updated_at`,
		agentID, zoneID, string(periodType), periodStart, amountMicro, now.UTC(),
	)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "ledger", Err: err}
	}
	return s.get(ctx, agentID, zoneID, periodType, periodStart)
}

func (s *Store) get(ctx context.Context, agentID, zoneID string, periodType PeriodType, periodStart time.Time) (*Row, error) {
	var r Row
	var pType string
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, zone_id, period_type, period_start, amount_spent_micro, tx_count, updated_at
		FROM spending_ledger WHERE agent_id = ? AND zone_id = ? AND period_type = ? AND period_start = ?`,
		agentID, zoneID, string(periodType), periodStart,
	).Scan(&r.AgentID, &r.ZoneID, &pType, &r.PeriodStart, &r.AmountSpentMicro, &r.TxCount, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return &Row{AgentID: agentID, ZoneID: zoneID, PeriodType: periodType, PeriodStart: periodStart}, nil
	}
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "ledger", Err: err}
	}
	r.PeriodType = PeriodType(pType)
	return &r, nil
}

// CheckBudget reports whether agentID/zoneID has spent less than limitMicro
// in the period window containing now, and how much remains.
func (s *Store) CheckBudget(ctx context.Context, agentID, zoneID string, periodType PeriodType, limitMicro int64, now time.Time) (allowed bool, remainingMicro int64, err error) {
	periodStart := currentPeriodStart(periodType, now)
	row, err := s.get(ctx, agentID, zoneID, periodType, periodStart)
	if err != nil {
		return false, 0, err
	}
	remaining := limitMicro - row.AmountSpentMicro
	return remaining > 0, remaining, nil
}
