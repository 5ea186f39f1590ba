package enforcer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nexus/pkg/enforcer"
	"nexus/pkg/errtypes"
	"nexus/pkg/mount"
	"nexus/pkg/rebac"
)

type fakeAudit struct{ entries []enforcer.AuditEntry }

func (f *fakeAudit) Append(e enforcer.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fakeRebac struct {
	allow map[string]bool // "subject|perm|object|tenant" -> allowed
}

func (f *fakeRebac) key(req rebac.CheckRequest) string {
	return req.Subject.ID + "|" + req.Permission + "|" + req.Object.ID + "|" + req.TenantID
}

func (f *fakeRebac) Check(ctx context.Context, req rebac.CheckRequest) (rebac.CheckResult, error) {
	return rebac.CheckResult{Allowed: f.allow[f.key(req)]}, nil
}

type fakeMount struct{ visible map[string]bool }

func (f *fakeMount) IsVisible(ctx context.Context, subj mount.SubjectKey, path string) (bool, error) {
	return f.visible[subj.SubjectID+"|"+path], nil
}

func TestSystemBypassOnlyUnderSystemPrefix(t *testing.T) {
	audit := &fakeAudit{}
	e, err := enforcer.New(nil, &fakeRebac{}, &fakeMount{}, audit)
	require.NoError(t, err)

	allowed, err := e.Check(context.Background(), "/system/health", enforcer.Read,
		enforcer.RequestContext{SubjectType: "svc", SubjectID: "daemon", IsSystem: true})
	require.NoError(t, err)
	require.True(t, allowed)

	_, err = e.Check(context.Background(), "/workspace/a.txt", enforcer.Read,
		enforcer.RequestContext{SubjectType: "svc", SubjectID: "daemon", IsSystem: true})
	require.Error(t, err)
	require.True(t, errtypes.IsPermissionDenied(err))
	require.Len(t, audit.entries, 2)
}

func TestAdminBypassRequiresCapabilityAndOwnZone(t *testing.T) {
	audit := &fakeAudit{}
	e, err := enforcer.New(map[string]interface{}{"allow_admin_bypass": true}, &fakeRebac{}, &fakeMount{}, audit)
	require.NoError(t, err)

	allowed, err := e.Check(context.Background(), "/workspace/a.txt", enforcer.Write,
		enforcer.RequestContext{SubjectType: "user", SubjectID: "root", IsAdmin: true, ZoneID: "z1", AdminCapabilities: []string{"WRITE"}})
	require.NoError(t, err)
	require.True(t, allowed)
	require.Len(t, audit.entries, 1)
	require.Equal(t, enforcer.BypassAdmin, audit.entries[0].BypassType)
}

func TestCrossZoneAdminDeniedWithoutManageZones(t *testing.T) {
	e, err := enforcer.New(nil, &fakeRebac{}, &fakeMount{}, nil)
	require.NoError(t, err)

	_, err = e.Check(context.Background(), "/zone/B/secret.txt", enforcer.Read,
		enforcer.RequestContext{SubjectType: "user", SubjectID: "root", IsAdmin: true, ZoneID: "A"})
	require.Error(t, err)
	require.True(t, errtypes.IsPermissionDenied(err))
}

func TestRebacAncestorWalkStopsOnFirstAllow(t *testing.T) {
	rb := &fakeRebac{allow: map[string]bool{
		"alice|read|/a/b|z1": true,
	}}
	e, err := enforcer.New(nil, rb, &fakeMount{}, nil)
	require.NoError(t, err)

	allowed, err := e.Check(context.Background(), "/a/b/c", enforcer.Read,
		enforcer.RequestContext{SubjectType: "user", SubjectID: "alice", ZoneID: "z1"})
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestTraverseImpliedByReadOrWrite(t *testing.T) {
	rb := &fakeRebac{allow: map[string]bool{
		"alice|write|/a|z1": true,
	}}
	e, err := enforcer.New(nil, rb, &fakeMount{}, nil)
	require.NoError(t, err)

	allowed, err := e.Check(context.Background(), "/a/b", enforcer.Traverse,
		enforcer.RequestContext{SubjectType: "user", SubjectID: "alice", ZoneID: "z1"})
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMountFastPathSkipsRebac(t *testing.T) {
	mnt := &fakeMount{visible: map[string]bool{"alice|/a/b.txt": true}}
	e, err := enforcer.New(nil, &fakeRebac{}, mnt, nil)
	require.NoError(t, err)

	allowed, err := e.Check(context.Background(), "/a/b.txt", enforcer.Read,
		enforcer.RequestContext{SubjectType: "user", SubjectID: "alice", ZoneID: "z1"})
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestDenyByDefault(t *testing.T) {
	e, err := enforcer.New(nil, &fakeRebac{}, &fakeMount{}, nil)
	require.NoError(t, err)

	allowed, err := e.Check(context.Background(), "/nope", enforcer.Read,
		enforcer.RequestContext{SubjectType: "user", SubjectID: "nobody", ZoneID: "z1"})
	require.NoError(t, err)
	require.False(t, allowed)
}
