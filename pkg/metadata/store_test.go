package metadata_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"nexus/pkg/errtypes"
	"nexus/pkg/eventbus"
	"nexus/pkg/lock"
	"nexus/pkg/metadata"
)

func newStore(t *testing.T) (*metadata.Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	revSvc, err := lock.New(map[string]interface{}{"plugin": "memory"})
	require.NoError(t, err)
	bus := eventbus.New()
	s, err := metadata.New(db, revSvc, bus)
	require.NoError(t, err)
	return s, db
}

func TestPutCreatesVersionOne(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	row, err := s.Put(ctx, metadata.PutRequest{
		VirtualPath: "/a", ZoneID: "z1", ContentHash: "h1", BackendID: "local",
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, row.CurrentVersion)
}

func TestPutIncrementsVersionChain(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h1", BackendID: "local"})
	require.NoError(t, err)

	row2, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h2", BackendID: "local"})
	require.NoError(t, err)
	require.EqualValues(t, 2, row2.CurrentVersion)

	got, err := s.Get(ctx, "z1", "/a")
	require.NoError(t, err)
	require.Equal(t, "h2", got.ContentHash)
	require.EqualValues(t, 2, got.CurrentVersion)
}

func TestRenameRejectsCollision(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h1", BackendID: "local"})
	require.NoError(t, err)
	_, err = s.Put(ctx, metadata.PutRequest{VirtualPath: "/b", ZoneID: "z1", ContentHash: "h2", BackendID: "local"})
	require.NoError(t, err)

	_, err = s.Rename(ctx, "z1", "/a", "/b", "")
	require.True(t, errtypes.IsConflict(err))
}

func TestRenameUpdatesPath(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h1", BackendID: "local"})
	require.NoError(t, err)

	row, err := s.Rename(ctx, "z1", "/a", "/a2", "")
	require.NoError(t, err)
	require.Equal(t, "/a2", row.VirtualPath)

	_, err = s.Get(ctx, "z1", "/a")
	require.True(t, errtypes.IsNotFound(err))
}

func TestListPrefixNonRecursive(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	for _, p := range []string{"/dir/a", "/dir/sub/b", "/other/c"} {
		_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: p, ZoneID: "z1", ContentHash: "h", BackendID: "local"})
		require.NoError(t, err)
	}
	rows, err := s.List(ctx, "z1", "/dir/", false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "/dir/a", rows[0].VirtualPath)
}

func TestListPaginatedCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: p, ZoneID: "z1", ContentHash: "h", BackendID: "local"})
		require.NoError(t, err)
	}

	page1, cursor1, err := s.ListPaginated(ctx, "z1", "/", true, nil, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotNil(t, cursor1)

	encoded := cursor1.Encode()
	decoded, err := metadata.DecodeCursor(encoded, "z1", "/", true)
	require.NoError(t, err)
	require.Equal(t, cursor1.LastPath, decoded.LastPath)

	page2, cursor2, err := s.ListPaginated(ctx, "z1", "/", true, decoded, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Nil(t, cursor2)

	seen := map[string]bool{}
	for _, r := range append(page1, page2...) {
		require.False(t, seen[r.VirtualPath], "no duplicates across pages")
		seen[r.VirtualPath] = true
	}
}

func TestListPaginatedNonRecursiveSkipsDeepRowsWithoutTruncating(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	// interleave deep rows between shallow ones so a raw LIMIT window can
	// come back with fewer than limit qualifying (shallow) rows even
	// though more shallow rows exist further down the table.
	paths := []string{
		"/dir/a", "/dir/sub/x1", "/dir/sub/x2", "/dir/sub/x3",
		"/dir/b", "/dir/sub/x4", "/dir/sub/x5", "/dir/sub/x6",
		"/dir/c",
	}
	for _, p := range paths {
		_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: p, ZoneID: "z1", ContentHash: "h", BackendID: "local"})
		require.NoError(t, err)
	}

	var all []string
	var cursor *metadata.PageCursor
	for {
		page, next, err := s.ListPaginated(ctx, "z1", "/dir/", false, cursor, 2)
		require.NoError(t, err)
		for _, r := range page {
			all = append(all, r.VirtualPath)
		}
		if next == nil {
			break
		}
		cursor = next
	}
	require.Equal(t, []string{"/dir/a", "/dir/b", "/dir/c"}, all, "every shallow row must surface, none dropped by pagination")
}

func TestDecodeCursorRejectsFilterMismatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h", BackendID: "local"})
	require.NoError(t, err)

	_, cursor, err := s.ListPaginated(ctx, "z1", "/", true, nil, 1)
	require.NoError(t, err)
	require.NotNil(t, cursor)

	_, err = metadata.DecodeCursor(cursor.Encode(), "z2", "/", true)
	require.Error(t, err)
}

func TestDeleteIsSoft(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	_, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h", BackendID: "local"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "z1", "/a", ""))
	_, err = s.Get(ctx, "z1", "/a")
	require.True(t, errtypes.IsNotFound(err))

	// writing again frees the soft-deleted slot and starts a fresh version 1
	row, err := s.Put(ctx, metadata.PutRequest{VirtualPath: "/a", ZoneID: "z1", ContentHash: "h2", BackendID: "local"})
	require.NoError(t, err)
	require.EqualValues(t, 1, row.CurrentVersion)
}
