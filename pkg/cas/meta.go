package cas

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// blobMeta is the JSON sidecar stored next to every blob.
type blobMeta struct {
	RefCount        int64      `json:"ref_count"`
	Size            int64      `json:"size"`
	ProtectedUntil  *time.Time `json:"protected_until,omitempty"`
}

// readMeta reads and decodes a blob's .meta file, retrying with bounded
// exponential jitter on transient JSON-decode / OS errors: concurrent
// writers may be mid-rename when a reader shows up.
func readMeta(ctx context.Context, path string) (*blobMeta, error) {
	var m blobMeta

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries instead

	op := func() error {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(err)
			}
			return err // transient OS error, retry
		}
		if uerr := json.Unmarshal(raw, &m); uerr != nil {
			return uerr // transient partial-write race, retry
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 10), ctx))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// writeMeta atomically publishes a blob's .meta file: write to a temp file
// in the same directory, fsync, rename into place.
func writeMeta(path string, m *blobMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return atomicWrite(path, raw)
}

// atomicWrite writes data to a temp file in filepath.Dir(path), fsyncs, and
// renames it into place, per the publish contract.
func atomicWrite(path string, data []byte) error {
	dir := dirOf(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
