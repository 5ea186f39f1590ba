// Package mount implements the Namespace / Mount Resolver (C6): per-subject
// sorted mount-path tables and a bounded decision cache answering
// is_visible/filter_visible in O(log n) per path.
package mount

import "time"

// SubjectKey identifies the subject a mount table belongs to.
type SubjectKey struct {
	SubjectType string
	SubjectID   string
	ZoneID      string
}

// Table is one subject's pre-sorted, de-duplicated mount-path list. Paths
// are stored sorted lexicographically so is_visible can binary-search for
// the candidate prefix instead of scanning.
type Table struct {
	Paths []string
}

type dcacheEntry struct {
	visible   bool
	expiresAt time.Time
}
