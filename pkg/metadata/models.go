package metadata

import "time"

// FilePathRow is "File-path row".
type FilePathRow struct {
	PathID         string
	VirtualPath    string
	ZoneID         string
	BackendID      string
	PhysicalPath   string
	SizeBytes      int64
	ContentHash    string
	FileType       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	CurrentVersion int64
	OwnerID        string
	LockedBy       string
}

// VersionHistoryRow is "Version-history row".
type VersionHistoryRow struct {
	VersionID       string
	ResourceType    string // file, memory, skill
	ResourceID      string
	VersionNumber   int64
	ContentHash     string
	SizeBytes       int64
	MimeType        string
	ParentVersionID string
	SourceType      string // original, update, fork, merge, consolidated, rollback
	ChangeReason    string
	CreatedBy       string
	CreatedAt       time.Time
}

// OperationLogRow is "Operation-log row".
type OperationLogRow struct {
	OperationID      string
	OperationType    string // write, delete, rename, mkdir, rmdir, chmod, chown, ...
	ZoneID           string
	AgentID          string
	Path             string
	NewPath          string
	SnapshotHash     string
	MetadataSnapshot string
	Status           string // success, failure
	ErrorMessage     string
	CreatedAt        time.Time
}

// PutRequest is the façade's write contract).
type PutRequest struct {
	VirtualPath  string
	ZoneID       string
	BackendID    string
	PhysicalPath string
	SizeBytes    int64
	ContentHash  string
	FileType     string
	MimeType     string
	OwnerID      string
	AgentID      string
	ChangeReason string
}
