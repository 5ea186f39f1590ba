package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"nexus/pkg/errtypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id     TEXT PRIMARY KEY,
	zone_id      TEXT NOT NULL,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	generation   INTEGER NOT NULL DEFAULT 1,
	capabilities TEXT,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_zone ON agents (zone_id);
`

// Store is the Agent Registry (C11).
type Store struct {
	db *sql.DB
}

// New wires a Store and runs its migration.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	return &Store{db: db}, nil
}

// Create inserts a new agent record at generation 1.
func (s *Store) Create(ctx context.Context, r Record) (*Record, error) {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt, r.Generation = now, now, 1
	if r.Status == "" {
		r.Status = StatusActive
	}
	caps, err := json.Marshal(r.Capabilities)
	if err != nil {
		return nil, errtypes.ValidationError("agent: invalid capabilities")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, zone_id, name, status, generation, capabilities, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.AgentID, r.ZoneID, r.Name, string(r.Status), r.Generation, caps, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	return &r, nil
}

// Get returns the agent record for agentID.
func (s *Store) Get(ctx context.Context, agentID string) (*Record, error) {
	return s.get(ctx, s.db, agentID)
}

func (s *Store) get(ctx context.Context, q queryRower, agentID string) (*Record, error) {
	var r Record
	var status string
	var capsJSON sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT agent_id, zone_id, name, status, generation, capabilities, created_at, updated_at
		FROM agents WHERE agent_id = ?`, agentID,
	).Scan(&r.AgentID, &r.ZoneID, &r.Name, &status, &r.Generation, &capsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errtypes.NotFound(agentID)
	}
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	r.Status = Status(status)
	if capsJSON.Valid && capsJSON.String != "" {
		_ = json.Unmarshal([]byte(capsJSON.String), &r.Capabilities)
	}
	return &r, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// List returns every agent record in zoneID.
func (s *Store) List(ctx context.Context, zoneID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, zone_id, name, status, generation, capabilities, created_at, updated_at
		FROM agents WHERE zone_id = ? ORDER BY created_at`, zoneID)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var status string
		var capsJSON sql.NullString
		if err := rows.Scan(&r.AgentID, &r.ZoneID, &r.Name, &status, &r.Generation, &capsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errtypes.BackendError{BackendName: "agent", Err: err}
		}
		r.Status = Status(status)
		if capsJSON.Valid && capsJSON.String != "" {
			_ = json.Unmarshal([]byte(capsJSON.String), &r.Capabilities)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transition updates agentID's status iff its current generation matches
// expectedGeneration, incrementing generation on success. On mismatch it
// returns errtypes.Conflict wrapping a StaleAgentError.
func (s *Store) Transition(ctx context.Context, agentID string, expectedGeneration int64, newStatus Status) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	current, err := s.get(ctx, tx, agentID)
	if err != nil {
		return nil, err
	}
	if current.Generation != expectedGeneration {
		return nil, errtypes.StaleAgentError{
			AgentID:            agentID,
			ExpectedGeneration: expectedGeneration,
			ActualGeneration:   current.Generation,
		}
	}

	now := time.Now().UTC()
	newGeneration := current.Generation + 1
	res, err := tx.ExecContext(ctx, `
		UPDATE agents SET status = ?, generation = ?, updated_at = ?
		WHERE agent_id = ? AND generation = ?`,
		string(newStatus), newGeneration, now, agentID, expectedGeneration,
	)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}
	if affected == 0 {
		// another writer won the race between our read and this update.
		return nil, errtypes.StaleAgentError{
			AgentID:            agentID,
			ExpectedGeneration: expectedGeneration,
			ActualGeneration:   current.Generation + 1,
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errtypes.BackendError{BackendName: "agent", Err: err}
	}

	current.Status = newStatus
	current.Generation = newGeneration
	current.UpdatedAt = now
	return current, nil
}
