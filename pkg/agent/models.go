// Package agent implements the Agent Registry (C11): CRUD over agent
// records plus an optimistic-concurrency transition operation
//.
package agent

import "time"

// Status is an agent record's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRetired   Status = "retired"
)

// Record is Agent record: `(agent_id, zone_id, name, status,
// generation, capabilities, created_at, updated_at)`.
type Record struct {
	AgentID      string
	ZoneID       string
	Name         string
	Status       Status
	Generation   int64
	Capabilities []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
