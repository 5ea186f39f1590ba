// Package local adapts pkg/cas into the backend.Backend port (C14) and
// self-registers as "local", the way
// pkg/storage/favorite/micro registers itself against the favorite
// registry from its own init().
package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"nexus/pkg/backend"
	"nexus/pkg/cas"
	"nexus/pkg/errtypes"
)

func init() {
	backend.Register("local", New)
}

// Adapter is the in-tree CAS-backed Backend.
type Adapter struct {
	store   *cas.Store
	dirRoot string
}

// New builds a local Adapter from a config map shared with cas.New.
func New(m map[string]interface{}) (backend.Backend, error) {
	store, err := cas.New(m)
	if err != nil {
		return nil, err
	}
	root, _ := m["root_path"].(string)
	return &Adapter{store: store, dirRoot: filepath.Join(root, "dirs")}, nil
}

func timed(name, path string, start time.Time, success bool, err error) backend.Response {
	r := backend.Response{
		Success: success, BackendName: name, Path: path,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.Message = err.Error()
		r.ErrorCode = errCode(err)
	}
	return r
}

func errCode(err error) string {
	switch {
	case errtypes.IsNotFound(err):
		return "not_found"
	case errtypes.IsConflict(err):
		return "conflict"
	default:
		return "error"
	}
}

func (a *Adapter) WriteContent(ctx context.Context, content []byte) (backend.Response, error) {
	start := time.Now()
	hash, err := a.store.Write(ctx, content)
	resp := timed("local", hash, start, err == nil, err)
	resp.Data = []byte(hash)
	return resp, err
}

func (a *Adapter) ReadContent(ctx context.Context, hash string) (backend.Response, error) {
	start := time.Now()
	content, err := a.store.Read(ctx, hash)
	resp := timed("local", hash, start, err == nil, err)
	resp.Data = content
	return resp, err
}

func (a *Adapter) DeleteContent(ctx context.Context, hash string) (backend.Response, error) {
	start := time.Now()
	err := a.store.Delete(ctx, hash)
	return timed("local", hash, start, err == nil, err), err
}

func (a *Adapter) ContentExists(ctx context.Context, hash string) (bool, error) {
	return a.store.Exists(ctx, hash), nil
}

func (a *Adapter) GetContentSize(ctx context.Context, hash string) (int64, error) {
	return a.store.Size(ctx, hash)
}

func (a *Adapter) GetRefCount(ctx context.Context, hash string) (int64, error) {
	return a.store.RefCount(ctx, hash)
}

func (a *Adapter) dirPath(path string) string {
	return filepath.Join(a.dirRoot, path)
}

func (a *Adapter) Mkdir(ctx context.Context, path string, parents, existOK bool) error {
	p := a.dirPath(path)
	var err error
	if parents {
		err = os.MkdirAll(p, 0755)
	} else {
		err = os.Mkdir(p, 0755)
	}
	if err != nil && existOK && os.IsExist(err) {
		return nil
	}
	if err != nil {
		return errtypes.BackendError{BackendName: "local", Err: err}
	}
	return nil
}

func (a *Adapter) Rmdir(ctx context.Context, path string, recursive bool) error {
	p := a.dirPath(path)
	var err error
	if recursive {
		err = os.RemoveAll(p)
	} else {
		err = os.Remove(p)
	}
	if err != nil {
		return errtypes.BackendError{BackendName: "local", Err: err}
	}
	return nil
}

func (a *Adapter) IsDirectory(ctx context.Context, path string) (bool, error) {
	fi, err := os.Stat(a.dirPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errtypes.BackendError{BackendName: "local", Err: err}
	}
	return fi.IsDir(), nil
}

func (a *Adapter) ListDir(ctx context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(a.dirPath(path))
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "local", Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		SupportsRename:       true,
		HasVirtualFilesystem: true,
		HasRootPath:          true,
		UserScoped:           false,
		ThreadSafe:           true,
		IsPassthrough:        false,
	}
}

// readCloser adapts a byte slice into backend.ReadCloser for StreamRange.
type readCloser struct{ *bytes.Reader }

func (readCloser) Close() error { return nil }

func (a *Adapter) StreamContent(ctx context.Context, hash string) (backend.ReadCloser, error) {
	content, err := a.store.Read(ctx, hash)
	if err != nil {
		return nil, err
	}
	return readCloser{bytes.NewReader(content)}, nil
}

func (a *Adapter) StreamRange(ctx context.Context, hash string, offset, length int64) (backend.ReadCloser, error) {
	content, err := a.store.StreamRange(ctx, hash, offset, offset+length)
	if err != nil {
		return nil, err
	}
	return readCloser{bytes.NewReader(content)}, nil
}

func (a *Adapter) WriteStream(ctx context.Context, r backend.ReadCloser) (backend.Response, error) {
	start := time.Now()
	defer r.Close()
	buf := make([]byte, 32*1024)
	chunks := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		defer close(chunks)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errCh <- err
				}
				return
			}
		}
	}()
	hash, err := a.store.WriteStream(ctx, chunks)
	select {
	case chErr := <-errCh:
		if err == nil {
			err = chErr
		}
	default:
	}
	resp := timed("local", hash, start, err == nil, err)
	resp.Data = []byte(hash)
	return resp, err
}

var _ backend.StreamingBackend = (*Adapter)(nil)
