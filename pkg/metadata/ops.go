package metadata

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"nexus/pkg/errtypes"
	"nexus/pkg/eventbus"
)

// Rename implements rename(old, new): validates old exists
// non-deleted, rejects a collision with a live row at new, and bumps the
// zone revision.
func (s *Store) Rename(ctx context.Context, zoneID, oldPath, newPath, agentID string) (*FilePathRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := s.findLive(ctx, tx, zoneID, oldPath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errtypes.NotFound(oldPath)
	}
	collision, err := s.findLive(ctx, tx, zoneID, newPath)
	if err != nil {
		return nil, err
	}
	if collision != nil {
		return nil, errtypes.Conflict(newPath)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE file_paths SET virtual_path = ?, updated_at = ? WHERE path_id = ?`,
		newPath, now, row.PathID,
	); err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}

	if err := s.appendOp(ctx, tx, OperationLogRow{
		OperationID:   uuid.NewString(),
		OperationType: "rename",
		ZoneID:        zoneID,
		AgentID:       agentID,
		Path:          oldPath,
		NewPath:       newPath,
		Status:        "success",
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	if _, err := s.rev.RevisionBump(zoneID); err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.OperationEvent{Type: "rename", ZoneID: zoneID, Path: newPath})
	}

	row.VirtualPath = newPath
	row.UpdatedAt = now
	return row, nil
}

// Delete soft-deletes the live row at (zoneID, virtualPath).
func (s *Store) Delete(ctx context.Context, zoneID, virtualPath, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := s.findLive(ctx, tx, zoneID, virtualPath)
	if err != nil {
		return err
	}
	if row == nil {
		return errtypes.NotFound(virtualPath)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE file_paths SET deleted_at = ?, updated_at = ? WHERE path_id = ?`,
		now, now, row.PathID,
	); err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}

	if err := s.appendOp(ctx, tx, OperationLogRow{
		OperationID:   uuid.NewString(),
		OperationType: "delete",
		ZoneID:        zoneID,
		AgentID:       agentID,
		Path:          virtualPath,
		Status:        "success",
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	if _, err := s.rev.RevisionBump(zoneID); err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.OperationEvent{Type: "delete", ZoneID: zoneID, Path: virtualPath})
	}
	return nil
}

// List performs an indexed range scan on virtual_path under prefix.
func (s *Store) List(ctx context.Context, zoneID, prefix string, recursive bool) ([]*FilePathRow, error) {
	like := prefix + "%"
	q := `SELECT path_id, virtual_path, zone_id, backend_id, physical_path, size_bytes,
	             content_hash, file_type, created_at, updated_at, deleted_at, current_version,
	             owner_id, locked_by
	      FROM file_paths
	      WHERE zone_id = ? AND virtual_path LIKE ? AND deleted_at IS NULL
	      ORDER BY virtual_path`
	rows, err := s.db.QueryContext(ctx, q, zoneID, like)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	defer rows.Close()

	var out []*FilePathRow
	for rows.Next() {
		r, err := scanFilePathRow(rows)
		if err != nil {
			return nil, err
		}
		if !recursive && hasDeeperSegment(prefix, r.VirtualPath) {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func hasDeeperSegment(prefix, path string) bool {
	rest := path[len(prefix):]
	for i, c := range rest {
		if c == '/' && i < len(rest)-1 {
			return true
		}
	}
	return false
}

func scanFilePathRow(rows *sql.Rows) (*FilePathRow, error) {
	r := &FilePathRow{}
	var deletedAt sql.NullTime
	if err := rows.Scan(&r.PathID, &r.VirtualPath, &r.ZoneID, &r.BackendID, &r.PhysicalPath,
		&r.SizeBytes, &r.ContentHash, &r.FileType, &r.CreatedAt, &r.UpdatedAt,
		&deletedAt, &r.CurrentVersion, &r.OwnerID, &r.LockedBy); err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return r, nil
}

// PageCursor is the opaque keyset-pagination cursor for ListPaginated.
type PageCursor struct {
	LastPath  string `json:"last_path"`
	ZoneID    string `json:"zone_id"`
	Prefix    string `json:"prefix"`
	Recursive bool   `json:"recursive"`
}

// Encode serializes the cursor for transport. Round-tripping Encode/Decode
// must be lossless.
func (c PageCursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor decodes a cursor previously produced by Encode, refusing to
// decode one whose filters differ from the current call's.
func DecodeCursor(encoded, zoneID, prefix string, recursive bool) (*PageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errtypes.ValidationError("metadata: malformed cursor")
	}
	var c PageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errtypes.ValidationError("metadata: malformed cursor")
	}
	if c.ZoneID != zoneID || c.Prefix != prefix || c.Recursive != recursive {
		return nil, errtypes.ValidationError("metadata: cursor filters do not match this call")
	}
	return &c, nil
}

// ListPaginated returns up to limit rows starting after cursor's last path,
// plus the cursor for the next page (empty once exhausted).
//
// When recursive is false, rows whose virtual_path has a deeper segment
// under prefix are filtered out after the SQL fetch, so a single
// LIMIT limit+1 batch can come back under limit even though more
// qualifying shallow rows exist further down the table. fetchBatch keeps
// pulling successive raw batches (advancing "after" past the last raw row
// seen, not the last qualifying one) until either limit+1 qualifying rows
// have been collected or the table is exhausted.
func (s *Store) ListPaginated(ctx context.Context, zoneID, prefix string, recursive bool, cursor *PageCursor, limit int) ([]*FilePathRow, *PageCursor, error) {
	after := ""
	if cursor != nil {
		after = cursor.LastPath
	}

	var out []*FilePathRow
	for {
		batch, lastRaw, rawCount, err := s.fetchBatch(ctx, zoneID, prefix, after, limit+1)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range batch {
			if recursive || !hasDeeperSegment(prefix, r.VirtualPath) {
				out = append(out, r)
			}
		}
		if rawCount < limit+1 {
			// table exhausted: no further raw rows to fetch.
			break
		}
		if len(out) > limit {
			break
		}
		after = lastRaw
	}

	var next *PageCursor
	if len(out) > limit {
		out = out[:limit]
		next = &PageCursor{LastPath: out[len(out)-1].VirtualPath, ZoneID: zoneID, Prefix: prefix, Recursive: recursive}
	}
	return out, next, nil
}

// fetchBatch runs one raw SQL page of up to n rows after the given path,
// returning the scanned rows, the virtual_path of the last raw row (for
// resuming the scan regardless of later filtering), and how many raw rows
// came back.
func (s *Store) fetchBatch(ctx context.Context, zoneID, prefix, after string, n int) ([]*FilePathRow, string, int, error) {
	like := prefix + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT path_id, virtual_path, zone_id, backend_id, physical_path, size_bytes,
		       content_hash, file_type, created_at, updated_at, deleted_at, current_version,
		       owner_id, locked_by
		FROM file_paths
		WHERE zone_id = ? AND virtual_path LIKE ? AND virtual_path > ? AND deleted_at IS NULL
		ORDER BY virtual_path
		LIMIT ?`,
		zoneID, like, after, n,
	)
	if err != nil {
		return nil, "", 0, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	defer rows.Close()

	var batch []*FilePathRow
	var lastRaw string
	for rows.Next() {
		r, err := scanFilePathRow(rows)
		if err != nil {
			return nil, "", 0, err
		}
		batch = append(batch, r)
		lastRaw = r.VirtualPath
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	return batch, lastRaw, len(batch), nil
}
