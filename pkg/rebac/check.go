package rebac

import (
	"context"
	"time"

	"nexus/pkg/errtypes"
)

// CheckRequest is a single permission check.
type CheckRequest struct {
	Subject     SubjectRef
	Permission  string
	Object      ObjectRef
	TenantID    string
	Context     map[string]interface{}
	Consistency ConsistencyLevel
	MinRevision int64
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Allowed       bool
	Indeterminate bool
	LimitExceeded *errtypes.LimitExceeded
}

// traversal tracks the graph-limit counters for one Check call
//.
type traversal struct {
	cfg       *config
	depth     int
	visited   int
	tupleQrys int
	start     time.Time
}

func (e *Engine) newTraversal() *traversal {
	return &traversal{cfg: e.cfg, start: time.Now()}
}

func (t *traversal) enter() *errtypes.LimitExceeded {
	t.depth++
	t.visited++
	if t.depth > t.cfg.MaxDepth {
		return &errtypes.LimitExceeded{LimitType: "depth", LimitValue: int64(t.cfg.MaxDepth), Actual: int64(t.depth)}
	}
	if t.visited > t.cfg.MaxVisitedNodes {
		return &errtypes.LimitExceeded{LimitType: "visited_nodes", LimitValue: int64(t.cfg.MaxVisitedNodes), Actual: int64(t.visited)}
	}
	if elapsed := time.Since(t.start).Milliseconds(); elapsed > int64(t.cfg.MaxExecutionTimeMs) {
		return &errtypes.LimitExceeded{LimitType: "execution_time_ms", LimitValue: int64(t.cfg.MaxExecutionTimeMs), Actual: elapsed}
	}
	return nil
}

func (t *traversal) leave() { t.depth-- }

func (t *traversal) countTupleQuery(fanOut int) *errtypes.LimitExceeded {
	t.tupleQrys++
	if t.tupleQrys > t.cfg.MaxTupleQueries {
		return &errtypes.LimitExceeded{LimitType: "tuple_queries", LimitValue: int64(t.cfg.MaxTupleQueries), Actual: int64(t.tupleQrys)}
	}
	if fanOut > t.cfg.MaxFanOut {
		return &errtypes.LimitExceeded{LimitType: "fan_out", LimitValue: int64(t.cfg.MaxFanOut), Actual: int64(fanOut)}
	}
	return nil
}

// Check answers "may subject perform permission on object within tenant?"
// per the five-step algorithm.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	nsCfg, ok := e.namespaceConfig(req.TenantID)
	if !ok {
		return CheckResult{}, errtypes.ValidationError("rebac: no namespace config for tenant " + req.TenantID)
	}
	typeCfg, ok := nsCfg.Types[req.Object.Type]
	if !ok {
		return CheckResult{}, errtypes.ValidationError("rebac: no namespace config for type " + req.Object.Type)
	}
	rewrite, ok := typeCfg.Permissions[req.Permission]
	if !ok {
		return CheckResult{}, errtypes.ValidationError("rebac: unknown permission " + req.Permission)
	}

	bucket, err := e.revisionBucket(req.TenantID)
	if err != nil {
		return CheckResult{}, err
	}

	if req.Consistency == AtLeastAsFresh && bucket < req.MinRevision {
		// cached state may be stale relative to the caller's token; force a
		// fresh SSOT read for this call only.
	} else if req.Consistency != FullyConsistent {
		key := cacheKey(req, bucket)
		if allowed, ok := e.cacheGet(key); ok {
			return CheckResult{Allowed: allowed}, nil
		}
	}

	tr := e.newTraversal()
	allowed, limitErr, err := e.evalRewrite(ctx, tr, req.TenantID, rewrite, req.Subject, req.Object)
	if err != nil {
		return CheckResult{}, err
	}
	if limitErr != nil {
		// Indeterminate results are never cached.
		return CheckResult{Indeterminate: true, LimitExceeded: limitErr}, nil
	}

	key := cacheKey(req, bucket)
	e.cacheSet(key, allowed)
	return CheckResult{Allowed: allowed}, nil
}

// evalRewrite evaluates a rewrite tree node against (subject, object),
// short-circuiting union/intersection/exclusion per the step 4.
func (e *Engine) evalRewrite(ctx context.Context, tr *traversal, tenantID string, r Rewrite, subj SubjectRef, obj ObjectRef) (bool, *errtypes.LimitExceeded, error) {
	select {
	case <-ctx.Done():
		return false, nil, ctx.Err()
	default:
	}
	if le := tr.enter(); le != nil {
		return false, le, nil
	}
	defer tr.leave()

	switch r.Kind {
	case This:
		return e.checkDirect(ctx, tr, tenantID, r.Relation, subj, obj)

	case ComputedUserset:
		return e.checkDirect(ctx, tr, tenantID, r.Relation, subj, obj)

	case TupleToUserset:
		parents, err := e.findParentTuples(ctx, tenantID, r.TuplesetRelation, obj)
		if err != nil {
			return false, nil, err
		}
		if le := tr.countTupleQuery(len(parents)); le != nil {
			return false, le, nil
		}
		for _, p := range parents {
			parentObj := ObjectRef{Type: p.Subject.Type, ID: p.Subject.ID}
			childRewrite := Rewrite{Kind: ComputedUserset, Relation: r.ComputedRelation}
			ok, le, err := e.evalRewrite(ctx, tr, tenantID, childRewrite, subj, parentObj)
			if err != nil {
				return false, nil, err
			}
			if le != nil {
				return false, le, nil
			}
			if ok {
				return true, nil, nil
			}
		}
		return false, nil, nil

	case Union:
		for _, child := range r.Children {
			ok, le, err := e.evalRewrite(ctx, tr, tenantID, child, subj, obj)
			if err != nil {
				return false, nil, err
			}
			if le != nil {
				return false, le, nil
			}
			if ok {
				return true, nil, nil
			}
		}
		return false, nil, nil

	case Intersection:
		for _, child := range r.Children {
			ok, le, err := e.evalRewrite(ctx, tr, tenantID, child, subj, obj)
			if err != nil {
				return false, nil, err
			}
			if le != nil {
				return false, le, nil
			}
			if !ok {
				return false, nil, nil
			}
		}
		return true, nil, nil

	case Exclusion:
		baseOK, le, err := e.evalRewrite(ctx, tr, tenantID, *r.Base, subj, obj)
		if err != nil {
			return false, nil, err
		}
		if le != nil {
			return false, le, nil
		}
		if !baseOK {
			return false, nil, nil
		}
		subOK, le, err := e.evalRewrite(ctx, tr, tenantID, *r.Subtract, subj, obj)
		if err != nil {
			return false, nil, err
		}
		if le != nil {
			return false, le, nil
		}
		return !subOK, nil, nil
	}
	return false, nil, nil
}

// checkDirect looks for a direct tuple of the given relation on obj
// matching subj, or the public wildcard subject. Leaf queries stop as soon
// as a direct match is found.
func (e *Engine) checkDirect(ctx context.Context, tr *traversal, tenantID, relation string, subj SubjectRef, obj ObjectRef) (bool, *errtypes.LimitExceeded, error) {
	tuples, err := e.findTuples(ctx, tenantID, relation, obj)
	if err != nil {
		return false, nil, err
	}
	if le := tr.countTupleQuery(len(tuples)); le != nil {
		return false, le, nil
	}
	for _, t := range tuples {
		if t.Subject.IsWildcard() {
			return true, nil, nil
		}
		if t.Subject.Type == subj.Type && t.Subject.ID == subj.ID {
			return true, nil, nil
		}
		// userset subject: (group, eng, member) grants relation to every
		// member of group eng's "member" relation — recurse one level.
		if t.Subject.Relation != "" {
			usersetObj := ObjectRef{Type: t.Subject.Type, ID: t.Subject.ID}
			ok, le, err := e.checkDirect(ctx, tr, tenantID, t.Subject.Relation, subj, usersetObj)
			if err != nil {
				return false, nil, err
			}
			if le != nil {
				return false, le, nil
			}
			if ok {
				return true, nil, nil
			}
		}
	}
	return false, nil, nil
}
