package search

import (
	"sort"
	"strconv"
)

// fuse combines keyword and semantic result sets into a single ranked
// list, capped at limit, per the three fusion modes. Ties are
// broken by path then chunk index so output stays deterministic across
// runs over the same inputs.
func fuse(keyword, semantic []Result, method Fusion, alpha float64, rrfK int, limit int) []Result {
	type fused struct {
		result       Result
		keywordRank  int // 1-based, 0 = absent
		semanticRank int
		keywordScore float64
		semanticScore float64
	}

	byDoc := map[string]*fused{}
	order := []string{}
	docKey := func(r Result) string {
		return r.Path + "\x00" + strconv.Itoa(r.ChunkIndex)
	}

	for i, r := range keyword {
		k := docKey(r)
		f, ok := byDoc[k]
		if !ok {
			f = &fused{result: r}
			byDoc[k] = f
			order = append(order, k)
		}
		f.keywordRank = i + 1
		f.keywordScore = r.Score
	}
	for i, r := range semantic {
		k := docKey(r)
		f, ok := byDoc[k]
		if !ok {
			f = &fused{result: r}
			byDoc[k] = f
			order = append(order, k)
		}
		f.semanticRank = i + 1
		f.semanticScore = r.Score
	}

	kwMax, semMax := maxScore(keyword), maxScore(semantic)

	entries := make([]*fused, 0, len(order))
	for _, k := range order {
		entries = append(entries, byDoc[k])
	}

	for _, f := range entries {
		switch method {
		case FusionWeighted:
			kwNorm := normalize(f.keywordScore, kwMax)
			semNorm := normalize(f.semanticScore, semMax)
			f.result.Score = alpha*semNorm + (1-alpha)*kwNorm
		case FusionRRFWeighted:
			rrf := rrfScore(f.keywordRank, rrfK) + rrfScore(f.semanticRank, rrfK)
			kwNorm := normalize(f.keywordScore, kwMax)
			semNorm := normalize(f.semanticScore, semMax)
			weighted := alpha*semNorm + (1-alpha)*kwNorm
			f.result.Score = rrf * (1 + weighted)
		default: // FusionRRF
			f.result.Score = rrfScore(f.keywordRank, rrfK) + rrfScore(f.semanticRank, rrfK)
		}
		if f.keywordScore != 0 {
			ks := f.keywordScore
			f.result.KeywordScore = &ks
		}
		if f.semanticScore != 0 {
			vs := f.semanticScore
			f.result.VectorScore = &vs
		}
		f.result.SearchType = ModeHybrid
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].result.Score != entries[j].result.Score {
			return entries[i].result.Score > entries[j].result.Score
		}
		if entries[i].result.Path != entries[j].result.Path {
			return entries[i].result.Path < entries[j].result.Path
		}
		return entries[i].result.ChunkIndex < entries[j].result.ChunkIndex
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Result, len(entries))
	for i, f := range entries {
		out[i] = f.result
	}
	return out
}

func rrfScore(rank, k int) float64 {
	if rank == 0 {
		return 0
	}
	return 1.0 / float64(k+rank)
}

func maxScore(results []Result) float64 {
	var max float64
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	return max
}

func normalize(score, max float64) float64 {
	if max == 0 {
		return 0
	}
	return score / max
}
