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

// Package cas implements the content-addressable storage engine (C1):
// hash-keyed blobs with reference-counted dedup, atomic publish, and
// streaming reads, laid out on disk the way reva's decomposedfs lays out
// blobs and revisions (see pkg/storage/utils/decomposedfs).
package cas

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"nexus/pkg/errtypes"
)

// Store is the content store (C1).
type Store struct {
	root  string
	cfg   *config
	cache *ristretto.Cache
	sf    singleflight.Group
}

// New builds a Store from a config map, following the
// map[string]interface{} + mapstructure convention used throughout
// this module.
func New(m map[string]interface{}) (*Store, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(c)
}

// NewFromConfig builds a Store from an already-parsed config.
func NewFromConfig(c *config) (*Store, error) {
	c.init()
	if err := os.MkdirAll(filepath.Join(c.RootPath, "cas"), 0755); err != nil {
		return nil, errors.Wrap(err, "cas: could not create root directory")
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(c.CacheMaxSize) * 10,
		MaxCost:     int64(c.CacheMaxSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cas: could not create content cache")
	}
	return &Store{root: c.RootPath, cfg: c, cache: cache}, nil
}

// newHasher returns the digest algorithm used to key blobs. SHA-256 from
// the standard library; see DESIGN.md for why this is the one
// standard-library exception in this package.
func newHasher() hash.Hash { return sha256.New() }

// Write stores content, returning its hash. If the blob already exists its
// ref-count is incremented instead of writing duplicate bytes.
func (s *Store) Write(ctx context.Context, content []byte) (string, error) {
	h := newHasher()
	h.Write(content)
	digest := hex.EncodeToString(h.Sum(nil))

	// singleflight collapses concurrent writes of identical bytes into one
	// publish; a per-hash file lock also serializes writers racing from
	// other processes.
	_, err, _ := s.sf.Do(digest, func() (interface{}, error) {
		return nil, s.publish(digest, content)
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// WriteStream computes the hash incrementally while draining chunks, then
// performs a single atomic publish.
func (s *Store) WriteStream(ctx context.Context, chunks <-chan []byte) (string, error) {
	var buf bytes.Buffer
	h := newHasher()
	for chunk := range chunks {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		h.Write(chunk)
		buf.Write(chunk)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if err := s.publish(digest, buf.Bytes()); err != nil {
		return "", err
	}
	return digest, nil
}

// publish writes content under a per-hash advisory lock: if the blob is
// already present its ref-count is bumped and the new bytes discarded,
// otherwise it is published via temp-write + fsync + rename.
func (s *Store) publish(digest string, content []byte) error {
	bp := blobPath(s.root, digest)
	mp := metaPath(s.root, digest)
	if err := os.MkdirAll(dirOf(bp), 0755); err != nil {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}

	fl := flock.New(lockPath(s.root, digest))
	if err := fl.Lock(); err != nil {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	defer fl.Unlock()

	if _, err := os.Stat(bp); err == nil {
		meta, merr := readMeta(context.Background(), mp)
		if merr != nil {
			return errtypes.BackendError{BackendName: "cas", Err: merr}
		}
		meta.RefCount++
		return writeMeta(mp, meta)
	}

	if err := atomicWrite(bp, content); err != nil {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	meta := &blobMeta{RefCount: 1, Size: int64(len(content))}
	if err := writeMeta(mp, meta); err != nil {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	s.cache.Set(digest, content, int64(len(content)))
	return nil
}

// Read returns the exact bytes for hash, verifying the digest recomputes to
// the requested key before returning: a hash mismatch is always a hard
// error, never silently swallowed.
func (s *Store) Read(ctx context.Context, digest string) ([]byte, error) {
	if v, ok := s.cache.Get(digest); ok {
		return v.([]byte), nil
	}
	bp := blobPath(s.root, digest)
	content, err := os.ReadFile(bp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(digest)
		}
		return nil, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	h := newHasher()
	h.Write(content)
	if hex.EncodeToString(h.Sum(nil)) != digest {
		return nil, errors.Errorf("cas: hash mismatch for %s: content corrupted", digest)
	}
	s.cache.Set(digest, content, int64(len(content)))
	return content, nil
}

// Delete decrements the blob's ref-count; once it reaches zero the blob and
// its metadata are unlinked and empty directory prefixes are reaped.
func (s *Store) Delete(ctx context.Context, digest string) error {
	bp := blobPath(s.root, digest)
	mp := metaPath(s.root, digest)

	fl := flock.New(lockPath(s.root, digest))
	if err := fl.Lock(); err != nil {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	defer fl.Unlock()

	meta, err := readMeta(ctx, mp)
	if err != nil {
		if os.IsNotExist(err) {
			return errtypes.NotFound(digest)
		}
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}

	meta.RefCount--
	if meta.RefCount > 0 {
		return writeMeta(mp, meta)
	}

	if meta.ProtectedUntil != nil && meta.ProtectedUntil.After(time.Now()) {
		// grace period not yet elapsed: persist the zeroed ref-count but
		// keep the bytes around for GC to collect later.
		return writeMeta(mp, meta)
	}

	s.cache.Del(digest)
	if err := os.Remove(bp); err != nil && !os.IsNotExist(err) {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	if err := os.Remove(mp); err != nil && !os.IsNotExist(err) {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	reapEmptyDirs(dirOf(bp), s.root)

	// last referent gone: release and remove the advisory lock file itself,
	// so a fully-dereferenced digest leaves nothing behind. Unlock here
	// (ahead of the deferred Unlock, which is then a harmless no-op) since
	// the file must not be removed while still held.
	fl.Unlock()
	if err := os.Remove(lockPath(s.root, digest)); err != nil && !os.IsNotExist(err) {
		return errtypes.BackendError{BackendName: "cas", Err: err}
	}
	return nil
}

// reapEmptyDirs removes empty directory prefixes up to (not including)
// root/cas.
func reapEmptyDirs(dir, root string) {
	base := filepath.Join(root, "cas")
	for dir != base && len(dir) > len(base) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		parent := dirOf(dir)
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = parent
	}
}

// Exists reports whether a blob is present.
func (s *Store) Exists(ctx context.Context, digest string) bool {
	_, err := os.Stat(blobPath(s.root, digest))
	return err == nil
}

// Size returns a blob's byte size.
func (s *Store) Size(ctx context.Context, digest string) (int64, error) {
	meta, err := readMeta(ctx, metaPath(s.root, digest))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errtypes.NotFound(digest)
		}
		return 0, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	return meta.Size, nil
}

// RefCount returns a blob's current reference count.
func (s *Store) RefCount(ctx context.Context, digest string) (int64, error) {
	meta, err := readMeta(ctx, metaPath(s.root, digest))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errtypes.NotFound(digest)
		}
		return 0, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	return meta.RefCount, nil
}
