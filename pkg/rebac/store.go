package rebac

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"nexus/pkg/errtypes"
)

const tupleSchema = `
CREATE TABLE IF NOT EXISTS rebac_tuples (
	tuple_id          TEXT PRIMARY KEY,
	subject_type      TEXT NOT NULL,
	subject_id        TEXT NOT NULL,
	subject_relation   TEXT,
	relation          TEXT NOT NULL,
	object_type       TEXT NOT NULL,
	object_id         TEXT NOT NULL,
	tenant_id         TEXT NOT NULL,
	conditions        TEXT,
	expires_at        TIMESTAMP,
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rebac_forward ON rebac_tuples (subject_type, subject_id, relation, tenant_id);
CREATE INDEX IF NOT EXISTS idx_rebac_reverse ON rebac_tuples (object_type, object_id, relation, tenant_id);
`

func migrateTupleStore(db *sql.DB) error {
	_, err := db.Exec(tupleSchema)
	return err
}

// WriteTuple inserts t and returns the new zone/tenant revision plus a
// signed consistency token.
func (e *Engine) WriteTuple(ctx context.Context, t Tuple) (*WriteResult, error) {
	id := uuid.NewString()
	var condJSON []byte
	if t.Conditions != nil {
		var err error
		condJSON, err = json.Marshal(t.Conditions)
		if err != nil {
			return nil, errtypes.ValidationError("rebac: invalid conditions")
		}
	}
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO rebac_tuples
			(tuple_id, subject_type, subject_id, subject_relation, relation,
			 object_type, object_id, tenant_id, conditions, expires_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		id, t.Subject.Type, t.Subject.ID, nullable(t.Subject.Relation), t.Relation,
		t.Object.Type, t.Object.ID, t.TenantID, condJSON, t.ExpiresAt, time.Now().UTC(),
	)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "rebac", Err: err}
	}

	rev, err := e.bumpAndInvalidate(t.TenantID)
	if err != nil {
		return nil, err
	}
	return &WriteResult{TupleID: id, Revision: rev, ConsistencyToken: e.signToken(t.TenantID, rev)}, nil
}

// DeleteTuple removes a tuple by id and bumps the tenant's revision.
func (e *Engine) DeleteTuple(ctx context.Context, tenantID, tupleID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM rebac_tuples WHERE tuple_id = ? AND tenant_id = ?`, tupleID, tenantID)
	if err != nil {
		return errtypes.BackendError{BackendName: "rebac", Err: err}
	}
	_, err = e.bumpAndInvalidate(tenantID)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// findTuples returns all non-expired tuples matching (subjectType, subjectID,
// relation, object) within tenantID, plus any wildcard ("*","*") grant of
// the same relation (which applies across every tenant).
func (e *Engine) findTuples(ctx context.Context, tenantID, relation string, obj ObjectRef) ([]Tuple, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT subject_type, subject_id, subject_relation, relation, object_type, object_id,
		       tenant_id, conditions, expires_at
		FROM rebac_tuples
		WHERE relation = ? AND object_type = ? AND object_id = ?
		  AND (tenant_id = ? OR (subject_type = '*' AND subject_id = '*'))`,
		relation, obj.Type, obj.ID, tenantID,
	)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "rebac", Err: err}
	}
	defer rows.Close()

	now := time.Now()
	var out []Tuple
	for rows.Next() {
		t, err := scanTuple(rows)
		if err != nil {
			return nil, err
		}
		if t.Expired(now) {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// findParentTuples enumerates tuples with the given tupleset relation
// pointing at obj — used by tuple_to_userset to find parent objects.
func (e *Engine) findParentTuples(ctx context.Context, tenantID, tuplesetRelation string, obj ObjectRef) ([]Tuple, error) {
	return e.findTuples(ctx, tenantID, tuplesetRelation, obj)
}

func scanTuple(rows *sql.Rows) (Tuple, error) {
	var t Tuple
	var subjRelation sql.NullString
	var condJSON sql.NullString
	var expiresAt sql.NullTime
	if err := rows.Scan(&t.Subject.Type, &t.Subject.ID, &subjRelation, &t.Relation,
		&t.Object.Type, &t.Object.ID, &t.TenantID, &condJSON, &expiresAt); err != nil {
		return t, errtypes.BackendError{BackendName: "rebac", Err: err}
	}
	t.Subject.Relation = subjRelation.String
	if expiresAt.Valid {
		exp := expiresAt.Time
		t.ExpiresAt = &exp
	}
	if condJSON.Valid && condJSON.String != "" {
		_ = json.Unmarshal([]byte(condJSON.String), &t.Conditions)
	}
	return t, nil
}
