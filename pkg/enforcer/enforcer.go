package enforcer

import (
	"context"
	"strings"
	"time"

	"nexus/pkg/errtypes"
	"nexus/pkg/mount"
	"nexus/pkg/rebac"
)

// RebacChecker is the subset of *rebac.Engine the enforcer needs. Matching
// it by interface (rather than importing the concrete type everywhere) lets
// tests supply a fake.
type RebacChecker interface {
	Check(ctx context.Context, req rebac.CheckRequest) (rebac.CheckResult, error)
}

// MountResolver is the subset of *mount.Resolver the enforcer needs.
type MountResolver interface {
	IsVisible(ctx context.Context, subj mount.SubjectKey, path string) (bool, error)
}

// Enforcer is the Permission Enforcer (C7).
type Enforcer struct {
	cfg   *config
	rebac RebacChecker
	mnt   MountResolver
	audit AuditStore
}

// New builds an Enforcer. audit may be nil to discard audit entries.
func New(m map[string]interface{}, rebacEngine RebacChecker, mountResolver MountResolver, audit AuditStore) (*Enforcer, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	return &Enforcer{cfg: c, rebac: rebacEngine, mnt: mountResolver, audit: audit}, nil
}

func (e *Enforcer) writeAudit(entry AuditEntry) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(entry)
}

// zoneOfPath extracts the "B" in "/zone/B/..." conventioned paths; the
// empty string means the path carries no explicit zone segment.
func zoneOfPath(path string) string {
	const prefix = "/zone/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Check answers (subject, path, permission) -> allow/deny, evaluated in
// deny-by-default order.
func (e *Enforcer) Check(ctx context.Context, path string, perm Permission, rc RequestContext) (bool, error) {
	now := time.Now().UTC()

	// 1. system bypass
	if rc.IsSystem {
		allowed := strings.HasPrefix(path, "/system/")
		e.writeAudit(AuditEntry{
			SubjectType: rc.SubjectType, SubjectID: rc.SubjectID, ZoneID: rc.ZoneID,
			Path: path, Permission: perm, BypassType: BypassSystem, Allowed: allowed,
			DenialReason: denialReasonIf(!allowed, "system subject may only access /system/*"),
			Timestamp:    now,
		})
		if !allowed {
			return false, errtypes.PermissionDenied{Path: path, Reason: "system bypass not allowed"}
		}
		return true, nil
	}

	// 2. admin bypass within the subject's own zone
	if rc.IsAdmin && e.cfg.AllowAdminBypass && rc.ZoneID != "" {
		pz := zoneOfPath(path)
		if (pz == "" || pz == rc.ZoneID) && rc.HasCapability(strings.ToUpper(string(perm))) {
			e.writeAudit(AuditEntry{
				SubjectType: rc.SubjectType, SubjectID: rc.SubjectID, ZoneID: rc.ZoneID,
				Path: path, Permission: perm, BypassType: BypassAdmin, Allowed: true, Timestamp: now,
			})
			return true, nil
		}
	}

	// 3. cross-zone admin access requires MANAGE_ZONES
	if rc.IsAdmin {
		if pz := zoneOfPath(path); pz != "" && pz != rc.ZoneID && !rc.HasCapability(CapabilityManageZones) {
			e.writeAudit(AuditEntry{
				SubjectType: rc.SubjectType, SubjectID: rc.SubjectID, ZoneID: rc.ZoneID,
				Path: path, Permission: perm, BypassType: BypassAdmin, Allowed: false,
				DenialReason: "cross-zone access requires MANAGE_ZONES capability",
				Timestamp:    now,
			})
			return false, errtypes.PermissionDenied{Path: path, Reason: "cross-zone access requires MANAGE_ZONES capability"}
		}
	}

	// 4a. mount resolver fast path: C6's dcache already reflects every path
	// the subject can read via C5, so a read/traverse check that hits it
	// skips the ReBAC walk entirely.
	if e.mnt != nil && (perm == Read || perm == Traverse) {
		visible, err := e.mnt.IsVisible(ctx, mount.SubjectKey{SubjectType: rc.SubjectType, SubjectID: rc.SubjectID, ZoneID: rc.ZoneID}, path)
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}

	// 4b. ReBAC: direct permission, then walk ancestors. TRAVERSE is implied
	// by READ or WRITE.
	relevant := []Permission{perm}
	if perm == Traverse {
		relevant = []Permission{Traverse, Read, Write}
	}
	for _, candidate := range ancestorChain(path) {
		for _, p := range relevant {
			res, err := e.rebac.Check(ctx, rebac.CheckRequest{
				Subject:    rebac.SubjectRef{Type: rc.SubjectType, ID: rc.SubjectID},
				Permission: string(p),
				Object:     rebac.ObjectRef{Type: "path", ID: candidate},
				TenantID:   rc.ZoneID,
			})
			if err != nil {
				return false, err
			}
			if res.Indeterminate {
				return false, errtypes.Indeterminate{Reason: "rebac: " + res.LimitExceeded.LimitType + " limit exceeded"}
			}
			if res.Allowed {
				return true, nil
			}
		}
	}
	return false, nil
}

// ancestorChain returns path, its parent, grandparent, ... down to "/",
// e.g. "/a/b/c" -> ["/a/b/c", "/a/b", "/a", "/"].
func ancestorChain(path string) []string {
	var chain []string
	p := strings.TrimSuffix(path, "/")
	for {
		if p == "" {
			chain = append(chain, "/")
			break
		}
		chain = append(chain, p)
		idx := strings.LastIndexByte(p, '/')
		if idx <= 0 {
			if idx == 0 && p != "/" {
				chain = append(chain, "/")
			}
			break
		}
		p = p[:idx]
	}
	return chain
}

func denialReasonIf(cond bool, reason string) string {
	if cond {
		return reason
	}
	return ""
}
