// Package memory implements the Memory / Consolidation Core (C9): the
// bi-temporal "upsert as append" contract over memory rows, plus an
// optional batch consolidation job, grounded on
// pkg/metadata's Put (same supersede-and-append shape applied to file
// versions) and memory row.
package memory

import "time"

// Scope is who a memory is recorded for.
type Scope string

const (
	ScopeAgent   Scope = "agent"
	ScopeUser    Scope = "user"
	ScopeZone    Scope = "zone"
	ScopeGlobal  Scope = "global"
	ScopeSession Scope = "session"
)

// Visibility controls who else may read a memory.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// State tracks whether a memory has been soft-deleted.
type State string

const (
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

// Row is bi-temporal memory row.
type Row struct {
	MemoryID         string
	ContentHash      string
	ZoneID           string
	UserID           string
	AgentID          string
	Scope            Scope
	Visibility       Visibility
	MemoryType       string
	Importance       float64
	Namespace        string
	PathKey          string
	CurrentVersion   int64
	SupersedesID     string
	SupersededByID   string
	ValidAt          *time.Time
	InvalidAt        *time.Time
	CreatedAt        time.Time
	State            State
	Archived         bool
	ParentMemoryID   string
	ConsolidatedFrom []string
	Entities         string // JSON
	Temporal         string // JSON
	Relationships    string // JSON
	Embedding        []float32
}

// IsCurrent reports whether row is the live head of its supersede chain
//.
func (r *Row) IsCurrent() bool {
	return r.InvalidAt == nil && r.SupersededByID == ""
}

// CreateRequest is the input to Store.Create.
type CreateRequest struct {
	ContentHash   string
	ZoneID        string
	UserID        string
	AgentID       string
	Scope         Scope
	Visibility    Visibility
	MemoryType    string
	Importance    float64
	Namespace     string
	PathKey       string
	Entities      string
	Temporal      string
	Relationships string
	Embedding     []float32
	// IsCorrection, when true and a predecessor exists, carries the
	// predecessor's valid_at forward instead of stamping a fresh one
	//.
	IsCorrection bool
	ValidAt      *time.Time
}
