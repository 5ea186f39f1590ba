package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"

	"nexus/pkg/eventbus"
)

var errNotInitialized = errors.New("search: daemon not initialized, call Startup first")

// KeywordIndex is the trigram/BM25/FTS keyword backend.
type KeywordIndex interface {
	Warm(ctx context.Context) (docCount int, err error)
	Search(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error)
}

// VectorIndex is the semantic/HNSW backend.
type VectorIndex interface {
	Warm(ctx context.Context) error
	Search(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error)
}

// DBPool is warmed at startup with a trivial round-trip query (SELECT 1).
type DBPool interface {
	Warm(ctx context.Context) (poolSize int, err error)
}

// Daemon is the Search Daemon (C8).
type Daemon struct {
	cfg *config

	trigram  KeywordIndex // fastest, tried first; may be nil
	bm25     KeywordIndex // in-memory fallback; may be nil
	fts      KeywordIndex // database-native fallback; may be nil
	vector   VectorIndex  // may be nil
	dbPool   DBPool       // may be nil
	bus      *eventbus.Bus

	mu          sync.Mutex
	initialized bool
	stats       Stats
	latencies   []float64

	refreshMu     sync.Mutex
	pendingPaths  map[string]struct{}
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// Deps wires the daemon's optional backends. Every field may be nil; the
// daemon degrades gracefully, cascading through Zoekt -> BM25S -> FTS.
type Deps struct {
	Trigram KeywordIndex
	BM25    KeywordIndex
	FTS     KeywordIndex
	Vector  VectorIndex
	DBPool  DBPool
	Bus     *eventbus.Bus
}

// New builds a Daemon from a config map and its backend dependencies.
func New(m map[string]interface{}, deps Deps) (*Daemon, error) {
	cfg := defaultConfig()
	if m != nil {
		if err := mapstructure.Decode(m, cfg); err != nil {
			return nil, err
		}
	}
	return &Daemon{
		cfg:          cfg,
		trigram:      deps.Trigram,
		bm25:         deps.BM25,
		fts:          deps.FTS,
		vector:       deps.Vector,
		dbPool:       deps.DBPool,
		bus:          deps.Bus,
		pendingPaths: map[string]struct{}{},
	}, nil
}

// Startup pre-warms every configured index in parallel and starts the
// debounced refresh loop, mirroring SearchDaemon.startup's asyncio.gather.
func (d *Daemon) Startup(ctx context.Context) error {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	var bm25Start time.Time
	g.Go(func() error {
		if d.bm25 == nil {
			return nil
		}
		bm25Start = time.Now()
		count, err := d.bm25.Warm(gctx)
		if err != nil {
			return nil // non-fatal: warmup failures never block startup
		}
		d.mu.Lock()
		d.stats.BM25Documents = count
		d.stats.BM25LoadTimeMs = msSince(bm25Start)
		d.mu.Unlock()
		return nil
	})

	var poolStart time.Time
	g.Go(func() error {
		if d.dbPool == nil {
			return nil
		}
		poolStart = time.Now()
		size, err := d.dbPool.Warm(gctx)
		if err != nil {
			return nil
		}
		d.mu.Lock()
		d.stats.DBPoolSize = size
		d.stats.DBPoolWarmupTimeMs = msSince(poolStart)
		d.mu.Unlock()
		return nil
	})

	_ = g.Wait() // warmup failures are logged upstream and never block startup

	if d.vector != nil {
		vStart := time.Now()
		if err := d.vector.Warm(ctx); err == nil {
			d.mu.Lock()
			d.stats.VectorWarmupTimeMs = msSince(vStart)
			d.mu.Unlock()
		}
	}

	d.mu.Lock()
	d.stats.TrigramAvailable = d.trigram != nil
	d.stats.StartupTimeMs = msSince(start)
	d.initialized = true
	d.mu.Unlock()

	if d.cfg.RefreshEnabled {
		rctx, cancel := context.WithCancel(context.Background())
		d.refreshCancel = cancel
		d.refreshDone = make(chan struct{})
		if d.bus != nil {
			d.bus.Subscribe(func(ev eventbus.OperationEvent) {
				d.NotifyFileChange(ev.Path, ev.Type)
			})
		}
		go d.refreshLoop(rctx)
	}

	return nil
}

// Shutdown stops the background refresh loop.
func (d *Daemon) Shutdown() {
	if d.refreshCancel != nil {
		d.refreshCancel()
		<-d.refreshDone
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

// Search dispatches to the keyword, semantic, or hybrid algorithm and
// records query latency.
func (d *Daemon) Search(ctx context.Context, query string, mode Mode, limit int, pathFilter string, alpha float64, fusion Fusion) ([]Result, error) {
	d.mu.Lock()
	initialized := d.initialized
	d.mu.Unlock()
	if !initialized {
		return nil, errNotInitialized
	}

	start := time.Now()
	var (
		results []Result
		err     error
	)
	switch mode {
	case ModeKeyword:
		results, err = d.keywordSearch(ctx, query, limit, pathFilter)
	case ModeSemantic:
		results, err = d.semanticSearch(ctx, query, limit, pathFilter)
	default:
		results, err = d.hybridSearch(ctx, query, limit, pathFilter, alpha, fusion)
	}
	d.trackLatency(msSince(start))
	return results, err
}

func (d *Daemon) keywordSearch(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error) {
	for _, idx := range []KeywordIndex{d.trigram, d.bm25, d.fts} {
		if idx == nil {
			continue
		}
		results, err := idx.Search(ctx, query, limit, pathFilter)
		if err == nil && len(results) > 0 {
			return results, nil
		}
	}
	return nil, nil
}

func (d *Daemon) semanticSearch(ctx context.Context, query string, limit int, pathFilter string) ([]Result, error) {
	if d.vector == nil {
		return nil, nil
	}
	return d.vector.Search(ctx, query, limit, pathFilter)
}

func (d *Daemon) hybridSearch(ctx context.Context, query string, limit int, pathFilter string, alpha float64, fusion Fusion) ([]Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	var keyword, semantic []Result
	g.Go(func() error {
		r, err := d.keywordSearch(gctx, query, limit*3, pathFilter)
		if err != nil {
			return nil // keyword failure degrades, not fatal, per _hybrid_search
		}
		keyword = r
		return nil
	})
	g.Go(func() error {
		r, err := d.semanticSearch(gctx, query, limit*3, pathFilter)
		if err != nil {
			return nil
		}
		semantic = r
		return nil
	})
	_ = g.Wait()

	rrfK := d.cfg.RRFK
	return fuse(keyword, semantic, fusion, alpha, rrfK, limit), nil
}

// NotifyFileChange records a changed path for the next debounced refresh
// batch.
func (d *Daemon) NotifyFileChange(path, changeType string) {
	if !d.cfg.RefreshEnabled {
		return
	}
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()
	d.pendingPaths[path] = struct{}{}
}

func (d *Daemon) refreshLoop(ctx context.Context) {
	defer close(d.refreshDone)
	ticker := time.NewTicker(d.cfg.debounce())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flushRefresh()
		}
	}
}

func (d *Daemon) flushRefresh() {
	d.refreshMu.Lock()
	if len(d.pendingPaths) == 0 {
		d.refreshMu.Unlock()
		return
	}
	paths := make([]string, 0, len(d.pendingPaths))
	for p := range d.pendingPaths {
		paths = append(paths, p)
	}
	d.pendingPaths = map[string]struct{}{}
	d.refreshMu.Unlock()
	sort.Strings(paths) // deterministic refresh order for tests

	now := time.Now()
	d.mu.Lock()
	d.stats.LastIndexRefresh = &now
	d.mu.Unlock()
	// Actual incremental index refresh for paths is owned by whichever
	// KeywordIndex/VectorIndex implementation is wired in; the daemon only
	// tracks that a refresh happened.
}

func (d *Daemon) trackLatency(ms float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latencies = append(d.latencies, ms)
	if len(d.latencies) > d.cfg.MaxLatencySamples {
		d.latencies = d.latencies[1:]
	}
	d.stats.TotalQueries++

	sum := 0.0
	sorted := make([]float64, len(d.latencies))
	copy(sorted, d.latencies)
	for _, v := range sorted {
		sum += v
	}
	d.stats.AvgLatencyMs = sum / float64(len(sorted))
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	d.stats.P99LatencyMs = sorted[idx]
}

// Stats returns a snapshot of the daemon's running statistics.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// IsInitialized reports whether Startup has completed.
func (d *Daemon) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}
