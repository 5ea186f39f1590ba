package rebac_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"nexus/pkg/lock"
	"nexus/pkg/rebac"
)

func fileNamespaceConfig() rebac.NamespaceConfig {
	return rebac.NamespaceConfig{Types: map[string]rebac.TypeConfig{
		"file": {
			Relations: []string{"reader", "writer"},
			Permissions: map[string]rebac.Rewrite{
				"read": {Kind: rebac.Union, Children: []rebac.Rewrite{
					{Kind: rebac.This, Relation: "reader"},
					{Kind: rebac.This, Relation: "writer"},
				}},
				"write": {Kind: rebac.This, Relation: "writer"},
			},
		},
	}}
}

func newEngine(t *testing.T) *rebac.Engine {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	revSvc, err := lock.New(map[string]interface{}{"plugin": "memory"})
	require.NoError(t, err)
	e, err := rebac.New(nil, db, revSvc, []byte("test-secret"))
	require.NoError(t, err)

	e.SetNamespaceConfig("t_a", fileNamespaceConfig())
	e.SetNamespaceConfig("t_b", fileNamespaceConfig())
	return e
}

func TestWildcardGrantsAcrossTenants(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.WriteTuple(ctx, rebac.Tuple{
		Subject:  rebac.SubjectRef{Type: "*", ID: "*"},
		Relation: "reader",
		Object:   rebac.ObjectRef{Type: "file", ID: "/pub.txt"},
		TenantID: "t_a",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, rebac.CheckRequest{
		Subject: rebac.SubjectRef{Type: "user", ID: "u"}, Permission: "read",
		Object: rebac.ObjectRef{Type: "file", ID: "/pub.txt"}, TenantID: "t_b",
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = e.Check(ctx, rebac.CheckRequest{
		Subject: rebac.SubjectRef{Type: "user", ID: "u"}, Permission: "write",
		Object: rebac.ObjectRef{Type: "file", ID: "/pub.txt"}, TenantID: "t_b",
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestExpiredTupleNeverGrants(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	past := time.Now().Add(-time.Hour)

	_, err := e.WriteTuple(ctx, rebac.Tuple{
		Subject:   rebac.SubjectRef{Type: "user", ID: "u"},
		Relation:  "reader",
		Object:    rebac.ObjectRef{Type: "file", ID: "/a"},
		TenantID:  "t_a",
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, rebac.CheckRequest{
		Subject: rebac.SubjectRef{Type: "user", ID: "u"}, Permission: "read",
		Object: rebac.ObjectRef{Type: "file", ID: "/a"}, TenantID: "t_a",
	})
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestGraphDepthLimitIsIndeterminate(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	revSvc, err := lock.New(map[string]interface{}{"plugin": "memory"})
	require.NoError(t, err)
	e, err := rebac.New(map[string]interface{}{"max_depth": 50}, db, revSvc, []byte("s"))
	require.NoError(t, err)

	typeCfg := rebac.TypeConfig{
		Relations: []string{"reader", "parent"},
		Permissions: map[string]rebac.Rewrite{
			"read": {Kind: rebac.Union, Children: []rebac.Rewrite{
				{Kind: rebac.This, Relation: "reader"},
				{Kind: rebac.TupleToUserset, TuplesetRelation: "parent", ComputedRelation: "read"},
			}},
		},
	}
	e.SetNamespaceConfig("t_a", rebac.NamespaceConfig{Types: map[string]rebac.TypeConfig{"file": typeCfg}})

	// build a 100-node parent chain: file/n0 -> parent -> file/n1 -> ... -> file/n100
	for i := 0; i < 100; i++ {
		child := objID(i)
		parent := objID(i + 1)
		_, err := e.WriteTuple(ctx, rebac.Tuple{
			Subject:  rebac.SubjectRef{Type: "file", ID: parent},
			Relation: "parent",
			Object:   rebac.ObjectRef{Type: "file", ID: child},
			TenantID: "t_a",
		})
		require.NoError(t, err)
	}
	// grant reader only at the deepest ancestor
	_, err = e.WriteTuple(ctx, rebac.Tuple{
		Subject: rebac.SubjectRef{Type: "user", ID: "u"}, Relation: "reader",
		Object: rebac.ObjectRef{Type: "file", ID: objID(100)}, TenantID: "t_a",
	})
	require.NoError(t, err)

	res, err := e.Check(ctx, rebac.CheckRequest{
		Subject: rebac.SubjectRef{Type: "user", ID: "u"}, Permission: "read",
		Object: rebac.ObjectRef{Type: "file", ID: objID(0)}, TenantID: "t_a",
	})
	require.NoError(t, err)
	require.True(t, res.Indeterminate)
	require.Equal(t, "depth", res.LimitExceeded.LimitType)
}

func objID(i int) string {
	return "n" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
