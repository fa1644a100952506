package matrix

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"calroute/internal/config"
	"calroute/internal/geo"
	"calroute/internal/metrics"
	"calroute/internal/model"
)

// Builder fetches pairwise travel costs from the oracle with bounded
// concurrency and a rate limit, caching answers by (from, to, mode) for the
// lifetime of one planning session.
type Builder struct {
	oracle      geo.Oracle
	limiter     *rate.Limiter
	concurrency int
	timeout     time.Duration
	ttl         time.Duration

	now func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	From, To string
	Mode     model.TravelMode
}

type cacheEntry struct {
	cost    geo.Cost
	unknown bool
	at      time.Time
}

func NewBuilder(oracle geo.Oracle, cfg config.Oracle) *Builder {
	qps := cfg.RateQPS
	if qps <= 0 {
		qps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 4
	}
	return &Builder{
		oracle:      oracle,
		limiter:     rate.NewLimiter(rate.Limit(qps), burst),
		concurrency: conc,
		timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		ttl:         time.Duration(cfg.CacheTTLMin) * time.Minute,
		now:         time.Now,
		cache:       map[cacheKey]cacheEntry{},
	}
}

// Build returns the (N)x(N) cost matrix over locs for one mode. Oracle
// failures degrade the pair to Unknown; only context cancellation aborts.
func (b *Builder) Build(ctx context.Context, locs []model.Location, mode model.TravelMode) (*Matrix, error) {
	m := New(locs)
	if err := b.fill(ctx, m, mode); err != nil {
		return nil, err
	}
	return m, nil
}

// BuildBest builds one matrix per mode and keeps the fastest finite answer
// per ordered pair, recording the winning mode for leg annotation.
func (b *Builder) BuildBest(ctx context.Context, locs []model.Location, modes []model.TravelMode) (*Matrix, error) {
	if len(modes) == 0 {
		return nil, errors.New("at least one travel mode required")
	}
	best, err := b.Build(ctx, locs, modes[0])
	if err != nil {
		return nil, err
	}
	for _, mode := range modes[1:] {
		m, err := b.Build(ctx, locs, mode)
		if err != nil {
			return nil, err
		}
		for i := 0; i < best.N(); i++ {
			for j := 0; j < best.N(); j++ {
				if i == j || m.IsUnknown(i, j) {
					continue
				}
				if best.IsUnknown(i, j) || m.DurSec[i][j] < best.DurSec[i][j] {
					best.DurSec[i][j] = m.DurSec[i][j]
					best.DistM[i][j] = m.DistM[i][j]
					best.Modes[i][j] = m.Modes[i][j]
				}
			}
		}
	}
	return best, nil
}

func (b *Builder) fill(ctx context.Context, m *Matrix, mode model.TravelMode) error {
	n := m.N()
	type pair struct{ i, j int }
	fetch := []pair{}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			m.Modes[i][j] = mode
			if c, unknown, ok := b.cached(m.Locs[i], m.Locs[j], mode); ok {
				if !unknown {
					m.DurSec[i][j] = c.DurationSec
					m.DistM[i][j] = c.DistanceM
				}
				continue
			}
			fetch = append(fetch, pair{i, j})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	var mu sync.Mutex
	for _, p := range fetch {
		p := p
		g.Go(func() error {
			if err := b.limiter.Wait(gctx); err != nil {
				return err
			}
			cctx := gctx
			cancel := func() {}
			if b.timeout > 0 {
				cctx, cancel = context.WithTimeout(gctx, b.timeout)
			}
			c, err := b.oracle.TravelCost(cctx, m.Locs[p.i], m.Locs[p.j], mode)
			cancel()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Degrade the pair, never the run.
				metrics.OracleQueries.WithLabelValues(string(mode), "unknown").Inc()
				b.store(m.Locs[p.i], m.Locs[p.j], mode, geo.Cost{}, true)
				return nil
			}
			metrics.OracleQueries.WithLabelValues(string(mode), "ok").Inc()
			b.store(m.Locs[p.i], m.Locs[p.j], mode, c, false)
			mu.Lock()
			m.DurSec[p.i][p.j] = c.DurationSec
			m.DistM[p.i][p.j] = c.DistanceM
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (b *Builder) cached(from, to model.Location, mode model.TravelMode) (geo.Cost, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.cache[cacheKey{From: from.Key(), To: to.Key(), Mode: mode}]
	if !ok {
		return geo.Cost{}, false, false
	}
	if b.ttl > 0 && b.now().Sub(e.at) > b.ttl {
		return geo.Cost{}, false, false
	}
	return e.cost, e.unknown, true
}

func (b *Builder) store(from, to model.Location, mode model.TravelMode, c geo.Cost, unknown bool) {
	b.mu.Lock()
	b.cache[cacheKey{From: from.Key(), To: to.Key(), Mode: mode}] = cacheEntry{cost: c, unknown: unknown, at: b.now()}
	b.mu.Unlock()
}
