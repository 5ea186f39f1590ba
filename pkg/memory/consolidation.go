package memory

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"nexus/pkg/errtypes"
)

// ConsolidationConfig tunes the affinity-clustering batch job: affinity = beta*cos(vi,vj) + (1-beta)*exp(-lambda*|ti-tj|).
type ConsolidationConfig struct {
	Beta      float64
	Lambda    float64
	Threshold float64 // minimum affinity to merge two memories into one cluster
}

func defaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{Beta: 0.7, Lambda: 1.0 / (24 * 3600), Threshold: 0.6}
}

// Consolidate groups the given low-importance candidate memories by
// semantic + temporal affinity using average-linkage clustering, and
// emits one new consolidated memory per resulting cluster. Sources are
// archived in place: importance floored to 0.1, archived set, and
// parent_memory_id linked to the new consolidated memory.
func (s *Store) Consolidate(ctx context.Context, candidates []*Row, cfg ConsolidationConfig) ([]*Row, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	clusters := clusterByAffinity(candidates, cfg)

	out := make([]*Row, 0, len(clusters))
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			// never below cfg.Threshold to merge with anything: leave the
			// source memory as-is rather than wrapping it in a pointless
			// new "consolidated" row of one.
			continue
		}
		consolidated, err := s.emitConsolidated(ctx, cluster)
		if err != nil {
			return nil, err
		}
		out = append(out, consolidated)
	}
	return out, nil
}

// clusterByAffinity runs average-linkage agglomerative clustering:
// start with every memory in its own cluster, repeatedly merge the pair
// of clusters with the highest average pairwise affinity, stopping once
// the best remaining merge is below cfg.Threshold.
func clusterByAffinity(rows []*Row, cfg ConsolidationConfig) [][]*Row {
	clusters := make([][]*Row, len(rows))
	for i, r := range rows {
		clusters[i] = []*Row{r}
	}

	for {
		bestI, bestJ, bestScore := -1, -1, -1.0
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				score := averageAffinity(clusters[i], clusters[j], cfg)
				if score > bestScore {
					bestI, bestJ, bestScore = i, j, score
				}
			}
		}
		if bestI == -1 || bestScore < cfg.Threshold {
			break
		}
		merged := append(append([]*Row{}, clusters[bestI]...), clusters[bestJ]...)
		next := make([][]*Row, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		next = append(next, merged)
		clusters = next
	}
	return clusters
}

func averageAffinity(a, b []*Row, cfg ConsolidationConfig) float64 {
	sum := 0.0
	for _, ra := range a {
		for _, rb := range b {
			sum += affinity(ra, rb, cfg)
		}
	}
	return sum / float64(len(a)*len(b))
}

func affinity(a, b *Row, cfg ConsolidationConfig) float64 {
	sem := cosine(a.Embedding, b.Embedding)
	dt := math.Abs(a.CreatedAt.Sub(b.CreatedAt).Seconds())
	temporal := math.Exp(-cfg.Lambda * dt)
	return cfg.Beta*sem + (1-cfg.Beta)*temporal
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *Store) emitConsolidated(ctx context.Context, cluster []*Row) (*Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errtypes.BackendError{BackendName: "memory", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	now := time.Now().UTC()
	maxImportance := 0.0
	ids := make([]string, len(cluster))
	for i, r := range cluster {
		ids[i] = r.MemoryID
		if r.Importance > maxImportance {
			maxImportance = r.Importance
		}
	}
	importance := maxImportance + 0.1
	if importance > 1 {
		importance = 1
	}

	consolidated := &Row{
		MemoryID:         uuid.NewString(),
		ContentHash:      cluster[0].ContentHash,
		ZoneID:           cluster[0].ZoneID,
		UserID:           cluster[0].UserID,
		AgentID:          cluster[0].AgentID,
		Scope:            cluster[0].Scope,
		Visibility:       cluster[0].Visibility,
		MemoryType:       "consolidated",
		Importance:       importance,
		CurrentVersion:   1,
		CreatedAt:        now,
		State:            StateActive,
		ConsolidatedFrom: ids,
	}
	if err := s.insert(ctx, tx, consolidated); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET archived = 1, importance = 0.1, parent_memory_id = ?
			WHERE memory_id = ?`,
			consolidated.MemoryID, id,
		); err != nil {
			return nil, errtypes.BackendError{BackendName: "memory", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errtypes.BackendError{BackendName: "memory", Err: err}
	}
	return consolidated, nil
}
