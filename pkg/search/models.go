// Package search implements the Hot Search Daemon (C8): a long-running
// component that keeps keyword and semantic indexes warm and serves
// low-latency hybrid queries.
package search

import "time"

// Mode selects which index search queries.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Fusion selects how hybrid search combines keyword and semantic result
// sets.
type Fusion string

const (
	FusionRRF         Fusion = "rrf"
	FusionWeighted    Fusion = "weighted"
	FusionRRFWeighted Fusion = "rrf_weighted"
)

// Result is a single ranked search hit.
type Result struct {
	Path         string
	ChunkIndex   int
	ChunkText    string
	Score        float64
	StartOffset  *int64
	EndOffset    *int64
	LineStart    *int
	LineEnd      *int
	KeywordScore *float64
	VectorScore  *float64
	SearchType   Mode
}

// Stats is the daemon's running statistics, surfaced on a health endpoint.
type Stats struct {
	StartupTimeMs      float64
	BM25Documents      int
	BM25LoadTimeMs     float64
	DBPoolSize         int
	DBPoolWarmupTimeMs float64
	VectorWarmupTimeMs float64
	TotalQueries       int64
	AvgLatencyMs       float64
	P99LatencyMs       float64
	LastIndexRefresh   *time.Time
	TrigramAvailable   bool
}
