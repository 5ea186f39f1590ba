package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"nexus/pkg/errtypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	memory_id          TEXT PRIMARY KEY,
	content_hash       TEXT NOT NULL,
	zone_id            TEXT,
	user_id            TEXT,
	agent_id           TEXT,
	scope              TEXT NOT NULL,
	visibility         TEXT NOT NULL,
	memory_type        TEXT,
	importance         REAL NOT NULL DEFAULT 0,
	namespace          TEXT,
	path_key           TEXT,
	current_version    INTEGER NOT NULL DEFAULT 1,
	supersedes_id      TEXT,
	superseded_by_id   TEXT,
	valid_at           TIMESTAMP,
	invalid_at         TIMESTAMP,
	created_at         TIMESTAMP NOT NULL,
	state              TEXT NOT NULL DEFAULT 'active',
	archived           INTEGER NOT NULL DEFAULT 0,
	parent_memory_id   TEXT,
	consolidated_from  TEXT,
	entities           TEXT,
	temporal           TEXT,
	relationships      TEXT,
	embedding          TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_zone ON memories(zone_id);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_current_path_key
	ON memories(user_id, path_key)
	WHERE invalid_at IS NULL AND superseded_by_id IS NULL;
`

// Store is the Memory / Consolidation Core (C9).
type Store struct {
	db *sql.DB
}

// New wires a Store and runs its migration.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "memory: could not migrate schema")
	}
	return &Store{db: db}, nil
}

// Create implements "upsert as append": a write for the
// same (user_id, path_key) never overwrites; it inserts a new row and
// supersedes the prior one, all inside one transaction.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "memory", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	now := time.Now().UTC()

	prev, err := s.findCurrent(ctx, tx, req.UserID, req.PathKey)
	if err != nil {
		return nil, err
	}

	row := &Row{
		MemoryID:       uuid.NewString(),
		ContentHash:    req.ContentHash,
		ZoneID:         req.ZoneID,
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		Scope:          req.Scope,
		Visibility:     req.Visibility,
		MemoryType:     req.MemoryType,
		Importance:     req.Importance,
		Namespace:      req.Namespace,
		PathKey:        req.PathKey,
		CurrentVersion: 1,
		CreatedAt:      now,
		State:          StateActive,
		Entities:       req.Entities,
		Temporal:       req.Temporal,
		Relationships:  req.Relationships,
		Embedding:      req.Embedding,
	}

	if prev != nil {
		row.SupersedesID = prev.MemoryID
		row.CurrentVersion = prev.CurrentVersion + 1
		if req.IsCorrection {
			row.ValidAt = prev.ValidAt
		} else {
			row.ValidAt = req.ValidAt
		}
	} else {
		row.ValidAt = req.ValidAt
	}

	if err := s.insert(ctx, tx, row); err != nil {
		return nil, err
	}

	if prev != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET invalid_at = ?, superseded_by_id = ?, path_key = NULL
			WHERE memory_id = ?`,
			now, row.MemoryID, prev.MemoryID,
		); err != nil {
			return nil, errtypes.BackendError{BackendName: "memory", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errtypes.BackendError{BackendName: "memory", Err: err}
	}
	return row, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) findCurrent(ctx context.Context, tx queryRower, userID, pathKey string) (*Row, error) {
	if pathKey == "" {
		return nil, nil
	}
	row, err := scanRow(tx.QueryRowContext(ctx, `
		SELECT memory_id, content_hash, zone_id, user_id, agent_id, scope, visibility,
		       memory_type, importance, namespace, path_key, current_version, supersedes_id,
		       superseded_by_id, valid_at, invalid_at, created_at, state, archived,
		       parent_memory_id, consolidated_from, entities, temporal, relationships, embedding
		FROM memories
		WHERE user_id = ? AND path_key = ? AND invalid_at IS NULL AND superseded_by_id IS NULL`,
		userID, pathKey,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "memory", Err: err}
	}
	return row, nil
}

// Get returns a memory by id regardless of its current/superseded state.
func (s *Store) Get(ctx context.Context, memoryID string) (*Row, error) {
	row, err := scanRow(s.db.QueryRowContext(ctx, `
		SELECT memory_id, content_hash, zone_id, user_id, agent_id, scope, visibility,
		       memory_type, importance, namespace, path_key, current_version, supersedes_id,
		       superseded_by_id, valid_at, invalid_at, created_at, state, archived,
		       parent_memory_id, consolidated_from, entities, temporal, relationships, embedding
		FROM memories WHERE memory_id = ?`,
		memoryID,
	))
	if err == sql.ErrNoRows {
		return nil, errtypes.NotFound(memoryID)
	}
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "memory", Err: err}
	}
	return row, nil
}

// AtTime resolves the version of (userID, pathKey)'s supersede chain that
// was live at instant t, implementing point-in-time
// predicate. Because a superseded row's path_key is cleared (to free the
// unique slot), the chain is walked backwards from the current head via
// supersedes_id rather than matched by path_key directly.
func (s *Store) AtTime(ctx context.Context, userID, pathKey string, t time.Time) (*Row, error) {
	head, err := s.findCurrent(ctx, s.db, userID, pathKey)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, errtypes.NotFound(pathKey)
	}

	for row := head; row != nil; {
		if liveAt(row, t) {
			return row, nil
		}
		if row.SupersedesID == "" {
			break
		}
		row, err = s.Get(ctx, row.SupersedesID)
		if err != nil {
			return nil, err
		}
	}
	return nil, errtypes.NotFound(pathKey)
}

func liveAt(r *Row, t time.Time) bool {
	if r.ValidAt != nil && r.ValidAt.After(t) {
		return false
	}
	if r.InvalidAt != nil && !r.InvalidAt.After(t) {
		return false
	}
	return true
}

// Delete non-destructively retires a memory: invalid_at = now, state =
// deleted.
func (s *Store) Delete(ctx context.Context, memoryID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET invalid_at = ?, state = ?
		WHERE memory_id = ? AND invalid_at IS NULL`,
		now, StateDeleted, memoryID,
	)
	if err != nil {
		return errtypes.BackendError{BackendName: "memory", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errtypes.BackendError{BackendName: "memory", Err: err}
	}
	if n == 0 {
		return errtypes.NotFound(memoryID)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, r *Row) error {
	embedding, err := marshalFloats(r.Embedding)
	if err != nil {
		return errtypes.BackendError{BackendName: "memory", Err: err}
	}
	consolidatedFrom, err := marshalStrings(r.ConsolidatedFrom)
	if err != nil {
		return errtypes.BackendError{BackendName: "memory", Err: err}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories
			(memory_id, content_hash, zone_id, user_id, agent_id, scope, visibility,
			 memory_type, importance, namespace, path_key, current_version, supersedes_id,
			 superseded_by_id, valid_at, invalid_at, created_at, state, archived,
			 parent_memory_id, consolidated_from, entities, temporal, relationships, embedding)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.MemoryID, r.ContentHash, nullableString(r.ZoneID), nullableString(r.UserID),
		nullableString(r.AgentID), string(r.Scope), string(r.Visibility),
		nullableString(r.MemoryType), r.Importance, nullableString(r.Namespace),
		nullableString(r.PathKey), r.CurrentVersion, nullableString(r.SupersedesID),
		nullableString(r.SupersededByID), r.ValidAt, r.InvalidAt, r.CreatedAt,
		string(r.State), r.Archived, nullableString(r.ParentMemoryID), consolidatedFrom,
		nullableString(r.Entities), nullableString(r.Temporal), nullableString(r.Relationships),
		embedding,
	)
	if err != nil {
		return errtypes.BackendError{BackendName: "memory", Err: err}
	}
	return nil
}

func scanRow(row *sql.Row) (*Row, error) {
	var r Row
	var zoneID, userID, agentID, memoryType, namespace, pathKey, supersedesID,
		supersededByID, parentMemoryID, consolidatedFrom, entities, temporal,
		relationships, embedding sql.NullString
	var validAt, invalidAt sql.NullTime
	var scope, visibility, state string
	var archived bool

	err := row.Scan(&r.MemoryID, &r.ContentHash, &zoneID, &userID, &agentID, &scope, &visibility,
		&memoryType, &r.Importance, &namespace, &pathKey, &r.CurrentVersion, &supersedesID,
		&supersededByID, &validAt, &invalidAt, &r.CreatedAt, &state, &archived,
		&parentMemoryID, &consolidatedFrom, &entities, &temporal, &relationships, &embedding)
	if err != nil {
		return nil, err
	}

	r.ZoneID, r.UserID, r.AgentID = zoneID.String, userID.String, agentID.String
	r.MemoryType, r.Namespace, r.PathKey = memoryType.String, namespace.String, pathKey.String
	r.SupersedesID, r.SupersededByID = supersedesID.String, supersededByID.String
	r.ParentMemoryID = parentMemoryID.String
	r.Entities, r.Temporal, r.Relationships = entities.String, temporal.String, relationships.String
	r.Scope, r.Visibility, r.State = Scope(scope), Visibility(visibility), State(state)
	r.Archived = archived
	if validAt.Valid {
		r.ValidAt = &validAt.Time
	}
	if invalidAt.Valid {
		r.InvalidAt = &invalidAt.Time
	}
	if consolidatedFrom.Valid && consolidatedFrom.String != "" {
		if err := json.Unmarshal([]byte(consolidatedFrom.String), &r.ConsolidatedFrom); err != nil {
			return nil, err
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &r.Embedding); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func marshalFloats(v []float32) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalStrings(v []string) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
