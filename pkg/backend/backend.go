// Package backend defines the storage-adapter contract (C14) and a
// package-level registry following reva's init()-based
// self-registration (pkg/storage/favorite/micro registers itself against
// pkg/storage/favorite/registry the same way): each adapter package calls
// Register(name, New) from its own init().
package backend

import (
	"context"
	"fmt"
	"sync"
)

// Response is uniform adapter result envelope.
type Response struct {
	Success         bool
	Data            []byte
	ErrorCode       string
	Message         string
	ExecutionTimeMs int64
	BackendName     string
	Path            string
}

// FileInfo is the optional delta-sync probe result.
type FileInfo struct {
	Size           int64
	Mtime          int64
	BackendVersion string
	ContentHash    string
}

// Capabilities flags what optional behavior a Backend supports; callers must check these before relying on the corresponding
// optional method.
type Capabilities struct {
	SupportsRename       bool
	HasVirtualFilesystem bool
	HasRootPath          bool
	UserScoped           bool
	ThreadSafe           bool
	IsPassthrough        bool
}

// Backend is the storage adapter port every concrete backend implements
//.
type Backend interface {
	WriteContent(ctx context.Context, content []byte) (Response, error)
	ReadContent(ctx context.Context, hash string) (Response, error)
	DeleteContent(ctx context.Context, hash string) (Response, error)
	ContentExists(ctx context.Context, hash string) (bool, error)
	GetContentSize(ctx context.Context, hash string) (int64, error)
	GetRefCount(ctx context.Context, hash string) (int64, error)

	Mkdir(ctx context.Context, path string, parents, existOK bool) error
	Rmdir(ctx context.Context, path string, recursive bool) error
	IsDirectory(ctx context.Context, path string) (bool, error)
	ListDir(ctx context.Context, path string) ([]string, error)

	Capabilities() Capabilities
}

// StreamingBackend is the optional streaming extension.
type StreamingBackend interface {
	Backend
	StreamContent(ctx context.Context, hash string) (ReadCloser, error)
	StreamRange(ctx context.Context, hash string, offset, length int64) (ReadCloser, error)
	WriteStream(ctx context.Context, r ReadCloser) (Response, error)
}

// DeltaSyncBackend is the optional delta-sync extension.
type DeltaSyncBackend interface {
	Backend
	GetFileInfo(ctx context.Context, path string) (FileInfo, error)
}

// ReadCloser mirrors io.ReadCloser without importing io for this narrow
// surface, kept distinct so backend implementations aren't forced to
// depend on this package's import set just to satisfy the streaming port.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// NewFunc constructs a Backend from a config map, following every other
// pluggable component in this module (lock.New, rebac.New, ...).
type NewFunc func(m map[string]interface{}) (Backend, error)

var (
	mu    sync.Mutex
	ctors = map[string]NewFunc{}
)

// Register adds a named backend constructor to the registry. Adapter
// packages call this from their own init().
func Register(name string, fn NewFunc) {
	mu.Lock()
	defer mu.Unlock()
	ctors[name] = fn
}

// New constructs the named backend from m. Returns an error if name was
// never registered.
func New(name string, m map[string]interface{}) (Backend, error) {
	mu.Lock()
	fn, ok := ctors[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("backend: no backend registered under name %q", name)
	}
	return fn(m)
}

// Registered lists every backend name currently registered.
func Registered() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(ctors))
	for name := range ctors {
		names = append(names, name)
	}
	return names
}
