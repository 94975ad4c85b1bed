package reliability

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type GatePolicy string

const (
	// GateSemaphore bounds in-flight calls; waiters are admitted FIFO.
	GateSemaphore GatePolicy = "semaphore"
	// GateTokenBucket bounds call rate; acquire consumes one token or waits
	// for one to accrue.
	GateTokenBucket GatePolicy = "token_bucket"
)

type GateConfig struct {
	Policy GatePolicy `yaml:"policy"`
	// Capacity is the semaphore size, or the bucket burst size.
	Capacity int64 `yaml:"capacity"`
	// RefillPerSec is tokens per second; token bucket only.
	RefillPerSec float64 `yaml:"refill_per_sec"`
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Policy:   GateSemaphore,
		Capacity: 8,
	}
}

// Gate bounds concurrent (or per-rate) access to one target.
type Gate struct {
	name string
	cfg  GateConfig

	sem    *semaphore.Weighted
	bucket *rate.Limiter

	mu       sync.Mutex
	inFlight int64
	waiting  int64
}

func newGate(name string, cfg GateConfig) *Gate {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultGateConfig().Capacity
	}

	g := &Gate{name: name, cfg: cfg}

	switch cfg.Policy {
	case GateTokenBucket:
		refill := cfg.RefillPerSec
		if refill <= 0 {
			refill = float64(cfg.Capacity)
		}
		g.bucket = rate.NewLimiter(rate.Limit(refill), int(cfg.Capacity))
	default:
		g.cfg.Policy = GateSemaphore
		g.sem = semaphore.NewWeighted(cfg.Capacity)
	}

	return g
}

// Acquire blocks until the gate admits the caller or ctx is done. The
// returned release must be called exactly once per successful acquire; it is
// idempotent so every exit path can call it safely.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	g.mu.Lock()
	g.waiting++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting--
		if err == nil {
			g.inFlight++
		}
		g.mu.Unlock()
	}()

	switch g.cfg.Policy {
	case GateTokenBucket:
		if err := g.bucket.Wait(ctx); err != nil {
			return nil, fmt.Errorf("token bucket wait: %w", err)
		}
	default:
		// semaphore.Weighted admits waiters in FIFO order.
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("semaphore acquire: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.inFlight--
			g.mu.Unlock()
			if g.sem != nil {
				g.sem.Release(1)
			}
		})
	}, nil
}

// GateStats is a read-only snapshot of one gate.
type GateStats struct {
	Name      string     `json:"name"`
	Policy    GatePolicy `json:"policy"`
	Capacity  int64      `json:"capacity"`
	InFlight  int64      `json:"inFlight"`
	Waiting   int64      `json:"waiting"`
	Available float64    `json:"available"`
}

func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GateStats{
		Name:     g.name,
		Policy:   g.cfg.Policy,
		Capacity: g.cfg.Capacity,
		InFlight: g.inFlight,
		Waiting:  g.waiting,
	}
	if g.bucket != nil {
		stats.Available = g.bucket.Tokens()
	} else {
		stats.Available = float64(g.cfg.Capacity - g.inFlight)
	}
	return stats
}

// GateRegistry holds one gate per target, created lazily with the default
// config or a per-target override.
type GateRegistry struct {
	mu        sync.Mutex
	cfg       GateConfig
	overrides map[string]GateConfig
	gates     map[string]*Gate
}

func NewGateRegistry(cfg GateConfig, overrides map[string]GateConfig) *GateRegistry {
	return &GateRegistry{
		cfg:       cfg,
		overrides: overrides,
		gates:     make(map[string]*Gate),
	}
}

func (r *GateRegistry) Get(name string) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gates[name]; ok {
		return g
	}

	cfg := r.cfg
	if override, ok := r.overrides[name]; ok {
		cfg = override
	}
	g := newGate(name, cfg)
	r.gates[name] = g
	return g
}

func (r *GateRegistry) Stats() map[string]GateStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]GateStats, len(r.gates))
	for name, g := range r.gates {
		stats[name] = g.Stats()
	}
	return stats
}
