package cas_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nexus/pkg/cas"
	"nexus/pkg/errtypes"
)

func newStoreAt(t *testing.T, root string) *cas.Store {
	t.Helper()
	s, err := cas.New(map[string]interface{}{
		"root_path": root,
	})
	require.NoError(t, err)
	return s
}

func newStore(t *testing.T) *cas.Store {
	t.Helper()
	return newStoreAt(t, t.TempDir())
}

func countLockFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".lock" {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestWriteDedupAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	h1, err := s.Write(ctx, []byte("hello"))
	require.NoError(t, err)

	h2, err := s.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	rc, err := s.RefCount(ctx, h1)
	require.NoError(t, err)
	require.EqualValues(t, 2, rc)

	require.NoError(t, s.Delete(ctx, h1))
	rc, err = s.RefCount(ctx, h1)
	require.NoError(t, err)
	require.EqualValues(t, 1, rc)

	content, err := s.Read(ctx, h1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	require.NoError(t, s.Delete(ctx, h1))
	require.False(t, s.Exists(ctx, h1))

	_, err = s.Read(ctx, h1)
	require.True(t, errtypes.IsNotFound(err))
}

func TestDeleteRemovesLockFileOnLastReferent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := newStoreAt(t, root)

	h, err := s.Write(ctx, []byte("solo"))
	require.NoError(t, err)
	require.Equal(t, 1, countLockFiles(t, root), "lock file created alongside the blob")

	require.NoError(t, s.Delete(ctx, h))
	require.False(t, s.Exists(ctx, h))
	require.Equal(t, 0, countLockFiles(t, root), "lock file must not outlive its blob's last referent")
}

func TestWriteEmptyContent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	h, err := s.Write(ctx, []byte{})
	require.NoError(t, err)
	require.True(t, s.Exists(ctx, h))

	content, err := s.Read(ctx, h)
	require.NoError(t, err)
	require.Empty(t, content)
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	err := s.Delete(ctx, "deadbeef")
	require.True(t, errtypes.IsNotFound(err))
}

func TestBatchRead(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	h1, _ := s.Write(ctx, []byte("one"))
	h2, _ := s.Write(ctx, []byte("two"))

	results := s.BatchRead(ctx, []string{h1, h2, "missing"})
	require.Len(t, results, 2)
	require.Equal(t, "one", string(results[h1]))
	require.Equal(t, "two", string(results[h2]))
}

func TestStreamRange(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	h, err := s.Write(ctx, []byte("0123456789"))
	require.NoError(t, err)

	chunk, err := s.StreamRange(ctx, h, 2, 5)
	require.NoError(t, err)
	require.Equal(t, "2345", string(chunk))
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	h, err := s.Write(ctx, []byte("abcdefgh"))
	require.NoError(t, err)

	ch, err := s.Stream(ctx, h, 3)
	require.NoError(t, err)

	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	require.Equal(t, "abcdefgh", string(out))
}
