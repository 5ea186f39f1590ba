package mount

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"nexus/pkg/lock"
)

// RevisionSource supplies the current revision bucket for a zone so dcache
// keys invalidate implicitly on writes, mirroring pkg/rebac's cache design.
type RevisionSource interface {
	CurrentRevision(zoneID string) (int64, error)
}

// Resolver is the Namespace / Mount Resolver (C6).
type Resolver struct {
	cfg *config
	rev RevisionSource

	tables *lru.Cache // SubjectKey -> *Table

	dMu    sync.Mutex
	dcache *lru.Cache // string key -> dcacheEntry
}

var _ RevisionSource = (*lock.Service)(nil)

// New builds a Resolver. rev supplies revision buckets for cache keys.
func New(m map[string]interface{}, rev RevisionSource) (*Resolver, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	tables, err := lru.New(c.CacheMaxSize)
	if err != nil {
		return nil, errors.Wrap(err, "mount: could not create table cache")
	}
	dcache, err := lru.New(c.CacheMaxSize)
	if err != nil {
		return nil, errors.Wrap(err, "mount: could not create dcache")
	}
	return &Resolver{cfg: c, rev: rev, tables: tables, dcache: dcache}, nil
}

// SetMountPaths replaces subj's mount-path table, sorting and de-duplicating
// the input so IsVisible can binary-search it.
func (r *Resolver) SetMountPaths(subj SubjectKey, paths []string) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	sorted = dedup(sorted)
	r.tables.Add(subj, &Table{Paths: sorted})
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, p := range sorted {
		if i == 0 || p != prev {
			out = append(out, p)
		}
		prev = p
	}
	return out
}

func (r *Resolver) table(subj SubjectKey) *Table {
	v, ok := r.tables.Get(subj)
	if !ok {
		return &Table{}
	}
	return v.(*Table)
}

// isVisibleUncached answers whether path is covered by one of t's mount
// paths (path equals a mount path, or has it as a "/"-bounded prefix), via
// binary search over the sorted slice.
func (t *Table) isVisibleUncached(path string) bool {
	n := len(t.Paths)
	// binary-search for the first mount path > path; every entry at or
	// before that point is <= path and is a candidate. Lexicographic order
	// does not guarantee only the immediate predecessor can be a prefix
	// (e.g. "/a" < "/a-zz" < "/a/b" all sort before "/a/b" because '-' <
	// '/'), so every such candidate must be checked.
	i := sort.Search(n, func(i int) bool { return t.Paths[i] > path })
	for idx := i - 1; idx >= 0; idx-- {
		mp := t.Paths[idx]
		if mp == path || strings.HasPrefix(path, strings.TrimSuffix(mp, "/")+"/") {
			return true
		}
	}
	return false
}

func dcacheKey(subj SubjectKey, path string, revisionBucket int64) string {
	return fmt.Sprintf("%s:%s:%s|%s|%d", subj.SubjectType, subj.SubjectID, subj.ZoneID, path, revisionBucket)
}

func (r *Resolver) revisionBucket(zoneID string) (int64, error) {
	if r.rev == nil {
		return 0, nil
	}
	return r.rev.CurrentRevision(zoneID)
}

// IsVisible answers is_visible(subject, path, zone) in O(log n), consulting
// and populating dcache.
func (r *Resolver) IsVisible(ctx context.Context, subj SubjectKey, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	bucket, err := r.revisionBucket(subj.ZoneID)
	if err != nil {
		return false, err
	}
	key := dcacheKey(subj, path, bucket)

	r.dMu.Lock()
	if v, ok := r.dcache.Get(key); ok {
		entry := v.(dcacheEntry)
		if time.Now().Before(entry.expiresAt) {
			r.dMu.Unlock()
			return entry.visible, nil
		}
		r.dcache.Remove(key)
	}
	r.dMu.Unlock()

	visible := r.table(subj).isVisibleUncached(path)
	r.setDcache(key, visible)
	return visible, nil
}

func (r *Resolver) setDcache(key string, visible bool) {
	ttl := r.cfg.DcacheNegativeTTL
	if visible {
		ttl = r.cfg.DcachePositiveTTL
	}
	r.dMu.Lock()
	defer r.dMu.Unlock()
	r.dcache.Add(key, dcacheEntry{visible: visible, expiresAt: time.Now().Add(ttl)})
}

// FilterVisible is the batch visibility primitive: it preserves input
// order for the paths that survive, and populates dcache so a second
// identical call is a 100% cache hit.
func (r *Resolver) FilterVisible(ctx context.Context, subj SubjectKey, paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		visible, err := r.IsVisible(ctx, subj, p)
		if err != nil {
			return nil, err
		}
		if visible {
			out = append(out, p)
		}
	}
	return out, nil
}
