// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package metadata implements the Record Store (C2) and the Metadata Store
// Façade (C4): file-path rows, version-history rows, and the operation
// log, behind a single FileMetadataProtocol-style API, modeled the way
// pkg/share/manager/sql composes a *sql.DB behind the share.Manager
// interface.
package metadata

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"nexus/pkg/errtypes"
	"nexus/pkg/eventbus"
	"nexus/pkg/lock"
)

// Revisioner bumps a per-zone monotonic counter. Implemented by
// *lock.Service; kept as a narrow interface so the façade doesn't import
// the full lock package surface.
type Revisioner interface {
	RevisionBump(zoneID string) (int64, error)
}

// Store is the Record Store + Metadata Façade (C2+C4).
type Store struct {
	db  *sql.DB
	rev Revisioner
	bus *eventbus.Bus
}

// New wires a Store to its SQL handle, the Lock & Revision Service, and the
// event bus that the search daemon subscribes to.
func New(db *sql.DB, rev *lock.Service, bus *eventbus.Bus) (*Store, error) {
	s := &Store{db: db, rev: rev, bus: bus}
	if err := s.Migrate(); err != nil {
		return nil, errors.Wrap(err, "metadata: could not migrate schema")
	}
	return s, nil
}

// Put implements transactional put(metadata) contract.
func (s *Store) Put(ctx context.Context, req PutRequest) (*FilePathRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	now := time.Now().UTC()

	row, err := s.findLive(ctx, tx, req.ZoneID, req.VirtualPath)
	if err != nil {
		return nil, err
	}

	if row == nil {
		// free the unique slot held by a soft-deleted row, if any.
		if err := s.purgeSoftDeleted(ctx, tx, req.ZoneID, req.VirtualPath); err != nil {
			return nil, err
		}
		row = &FilePathRow{
			PathID:         uuid.NewString(),
			VirtualPath:    req.VirtualPath,
			ZoneID:         req.ZoneID,
			BackendID:      req.BackendID,
			PhysicalPath:   req.PhysicalPath,
			SizeBytes:      req.SizeBytes,
			ContentHash:    req.ContentHash,
			FileType:       req.FileType,
			CreatedAt:      now,
			UpdatedAt:      now,
			CurrentVersion: 1,
			OwnerID:        req.OwnerID,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_paths
				(path_id, virtual_path, zone_id, backend_id, physical_path, size_bytes,
				 content_hash, file_type, created_at, updated_at, current_version, owner_id)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			row.PathID, row.VirtualPath, row.ZoneID, row.BackendID, row.PhysicalPath,
			row.SizeBytes, row.ContentHash, row.FileType, row.CreatedAt, row.UpdatedAt,
			row.CurrentVersion, row.OwnerID,
		); err != nil {
			return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
		}
		if err := s.insertVersion(ctx, tx, VersionHistoryRow{
			VersionID:     uuid.NewString(),
			ResourceType:  "file",
			ResourceID:    row.PathID,
			VersionNumber: 1,
			ContentHash:   req.ContentHash,
			SizeBytes:     req.SizeBytes,
			MimeType:      req.MimeType,
			SourceType:    "original",
			ChangeReason:  req.ChangeReason,
			CreatedBy:     req.AgentID,
			CreatedAt:     now,
		}); err != nil {
			return nil, err
		}
	} else {
		var newVersion int64
		err := tx.QueryRowContext(ctx, `
			UPDATE file_paths SET
				current_version = current_version + 1,
				content_hash = ?, size_bytes = ?, physical_path = ?,
				backend_id = ?, updated_at = ?
			WHERE path_id = ?
			RETURNING current_version`,
			req.ContentHash, req.SizeBytes, req.PhysicalPath, req.BackendID, now, row.PathID,
		).Scan(&newVersion)
		if err != nil {
			return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
		}

		parentVersionID, err := s.versionIDAt(ctx, tx, row.PathID, newVersion-1)
		if err != nil {
			return nil, err
		}
		if err := s.insertVersion(ctx, tx, VersionHistoryRow{
			VersionID:       uuid.NewString(),
			ResourceType:    "file",
			ResourceID:      row.PathID,
			VersionNumber:   newVersion,
			ContentHash:     req.ContentHash,
			SizeBytes:       req.SizeBytes,
			MimeType:        req.MimeType,
			ParentVersionID: parentVersionID,
			SourceType:      "original",
			ChangeReason:    req.ChangeReason,
			CreatedBy:       req.AgentID,
			CreatedAt:       now,
		}); err != nil {
			return nil, err
		}
		row.CurrentVersion = newVersion
		row.ContentHash = req.ContentHash
		row.SizeBytes = req.SizeBytes
		row.PhysicalPath = req.PhysicalPath
		row.UpdatedAt = now
	}

	if err := s.appendOp(ctx, tx, OperationLogRow{
		OperationID:   uuid.NewString(),
		OperationType: "write",
		ZoneID:        req.ZoneID,
		AgentID:       req.AgentID,
		Path:          req.VirtualPath,
		SnapshotHash:  req.ContentHash,
		Status:        "success",
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}

	if _, err := s.rev.RevisionBump(req.ZoneID); err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.OperationEvent{Type: "write", ZoneID: req.ZoneID, Path: req.VirtualPath})
	}

	return row, nil
}

// queryRower is satisfied by both *sql.Tx and *sql.DB, so findLive can run
// inside a transaction (Put) or standalone (Get).
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) findLive(ctx context.Context, tx queryRower, zoneID, virtualPath string) (*FilePathRow, error) {
	row := &FilePathRow{}
	var deletedAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT path_id, virtual_path, zone_id, backend_id, physical_path, size_bytes,
		       content_hash, file_type, created_at, updated_at, deleted_at, current_version,
		       owner_id, locked_by
		FROM file_paths WHERE zone_id = ? AND virtual_path = ? AND deleted_at IS NULL`,
		zoneID, virtualPath,
	).Scan(&row.PathID, &row.VirtualPath, &row.ZoneID, &row.BackendID, &row.PhysicalPath,
		&row.SizeBytes, &row.ContentHash, &row.FileType, &row.CreatedAt, &row.UpdatedAt,
		&deletedAt, &row.CurrentVersion, &row.OwnerID, &row.LockedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	if deletedAt.Valid {
		row.DeletedAt = &deletedAt.Time
	}
	return row, nil
}

func (s *Store) purgeSoftDeleted(ctx context.Context, tx *sql.Tx, zoneID, virtualPath string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM file_paths WHERE zone_id = ? AND virtual_path = ? AND deleted_at IS NOT NULL`,
		zoneID, virtualPath)
	if err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	return nil
}

func (s *Store) insertVersion(ctx context.Context, tx *sql.Tx, v VersionHistoryRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO version_history
			(version_id, resource_type, resource_id, version_number, content_hash, size_bytes,
			 mime_type, parent_version_id, source_type, change_reason, created_by, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.VersionID, v.ResourceType, v.ResourceID, v.VersionNumber, v.ContentHash, v.SizeBytes,
		nullableString(v.MimeType), nullableString(v.ParentVersionID), v.SourceType,
		nullableString(v.ChangeReason), nullableString(v.CreatedBy), v.CreatedAt,
	)
	if err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	return nil
}

func (s *Store) versionIDAt(ctx context.Context, tx *sql.Tx, resourceID string, versionNumber int64) (string, error) {
	if versionNumber < 1 {
		return "", nil
	}
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT version_id FROM version_history
		WHERE resource_type = 'file' AND resource_id = ? AND version_number = ?`,
		resourceID, versionNumber,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	return id, nil
}

func (s *Store) appendOp(ctx context.Context, tx *sql.Tx, op OperationLogRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operation_log
			(operation_id, operation_type, zone_id, agent_id, path, new_path,
			 snapshot_hash, metadata_snapshot, status, error_message, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		op.OperationID, op.OperationType, op.ZoneID, nullableString(op.AgentID), op.Path,
		nullableString(op.NewPath), nullableString(op.SnapshotHash), nullableString(op.MetadataSnapshot),
		op.Status, nullableString(op.ErrorMessage), op.CreatedAt,
	)
	if err != nil {
		return errtypes.BackendError{BackendName: "metadata", Err: err}
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Get returns the live row for (zoneID, virtualPath).
func (s *Store) Get(ctx context.Context, zoneID, virtualPath string) (*FilePathRow, error) {
	row, err := s.findLive(ctx, s.db, zoneID, virtualPath)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errtypes.NotFound(virtualPath)
	}
	return row, nil
}
