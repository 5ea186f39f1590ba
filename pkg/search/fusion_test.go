package search

import "testing"

func TestFuseWeightedNormalizesByMaxScore(t *testing.T) {
	keyword := []Result{{Path: "/a.txt", Score: 10}}
	semantic := []Result{{Path: "/a.txt", Score: 0.5}}

	out := fuse(keyword, semantic, FusionWeighted, 0.5, 60, 10)
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	// kwNorm = 10/10 = 1, semNorm = 0.5/0.5 = 1, score = 0.5*1 + 0.5*1 = 1
	if out[0].Score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", out[0].Score)
	}
}

func TestFuseBreaksEqualRRFScoreTiesByPath(t *testing.T) {
	// /b.txt (keyword rank 1) and /a.txt (semantic rank 1) land on the
	// identical RRF score 1/(60+1); the deterministic tie-break by path
	// must put /a.txt first. /z.txt trails at rank 2.
	keyword := []Result{
		{Path: "/b.txt", Score: 1},
		{Path: "/z.txt", Score: 1},
	}
	semantic := []Result{{Path: "/a.txt", Score: 1}}

	out := fuse(keyword, semantic, FusionRRF, 0.5, 60, 10)
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0].Path != "/a.txt" {
		t.Fatalf("expected /a.txt first, got %+v", out[0])
	}
	if out[1].Path != "/b.txt" {
		t.Fatalf("expected /b.txt second, got %+v", out[1])
	}
	if out[2].Path != "/z.txt" {
		t.Fatalf("expected /z.txt last, got %+v", out[2])
	}
}

func TestFuseRespectsLimit(t *testing.T) {
	keyword := []Result{
		{Path: "/a.txt", Score: 3},
		{Path: "/b.txt", Score: 2},
		{Path: "/c.txt", Score: 1},
	}
	out := fuse(keyword, nil, FusionRRF, 0.5, 60, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
}
