// Package pool provides a bounded, health-checked pool of Qdrant gRPC
// clients (C2). It guarantees total live clients never exceed the
// configured size, that a handed-out client is never shared between two
// concurrent callers, and that recycling happens off the acquire path so
// callers never block on health-check jitter past their timeout.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/qdrant/go-client/qdrant"
)

// Tier selects which health-check depth to run before a client is handed out.
type Tier int

const (
	// TierFast is a cheap ping (~50ms budget).
	TierFast Tier = iota
	// TierMedium lists collections (~100ms budget).
	TierMedium
	// TierDeep counts points and checks schema (~200ms budget).
	TierDeep
)

// Timeouts holds the standard and relaxed timeout budgets per tier. The
// pool switches from standard to relaxed when its moving-window latency
// tracker observes sustained high latency.
type Timeouts struct {
	Fast, Medium, Deep                       time.Duration
	RelaxedFast, RelaxedMedium, RelaxedDeep time.Duration
}

// Dialer constructs a new Qdrant client. Extracted as a function type so
// tests can substitute a fake without a real network dependency.
type Dialer func(ctx context.Context) (*qdrant.Client, error)

// Handle wraps a leased client. Callers must call Release exactly once.
type Handle struct {
	Client    *qdrant.Client
	createdAt time.Time
	lastCheck time.Time
	failed    bool
	pool      *Pool
}

// Release returns the handle to the pool. Safe to call from any goroutine,
// including from defer on an error path.
func (h *Handle) Release() {
	h.pool.release(h)
}

// MarkFailed flags the handle so Release recycles it instead of
// returning it to the idle set. Call this when an operation on the
// client surfaced a transport error.
func (h *Handle) MarkFailed() {
	h.failed = true
}

// Pool is a bounded set of Qdrant clients with tiered health checks.
type Pool struct {
	mu      sync.Mutex
	idle    []*Handle
	live    int
	size    int
	recycle time.Duration
	dial    Dialer
	timeouts Timeouts
	relaxed  bool
	latency  *latencyWindow
	sem      chan struct{}
}

// New creates a Pool. dial is called lazily, at most `size` times over
// the pool's lifetime steady-state (more if clients are recycled).
func New(size int, recycleSeconds int, timeouts Timeouts, dial Dialer) *Pool {
	if size <= 0 {
		size = 8
	}
	return &Pool{
		size:     size,
		recycle:  time.Duration(recycleSeconds) * time.Second,
		dial:     dial,
		timeouts: timeouts,
		latency:  newLatencyWindow(32),
		sem:      make(chan struct{}, size),
	}
}

// Acquire returns a handle guaranteed to have passed a fast health check
// within the tier's current TTL. It fails with a ResourceExhausted
// ragerr.Error if the pool is saturated beyond timeout.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)

	select {
	case p.sem <- struct{}{}:
	case <-time.After(time.Until(deadline)):
		return nil, ragerr.New(ragerr.KindResourceExhausted, "connection pool saturated")
	case <-ctx.Done():
		return nil, ragerr.Wrap(ragerr.KindTimeout, ctx.Err(), "acquire canceled")
	}

	h, err := p.take(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// take returns a handle from the idle set or dials a new one, releasing
// the semaphore slot Acquire reserved if it fails for any reason. The
// slot is released exactly once per failure: directly here on a dial
// failure (nothing else owns it yet), or via discard on a health-check
// failure (discard both retires the handle and releases the slot).
func (p *Pool) take(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	var h *Handle
	for len(p.idle) > 0 {
		candidate := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.shouldRecycle(candidate) {
			p.live--
			if c := candidate.Client; c != nil {
				go func() { _ = c.Close() }()
			}
			continue
		}
		h = candidate
		break
	}
	needsDial := h == nil
	p.mu.Unlock()

	if needsDial {
		client, err := p.dial(ctx)
		if err != nil {
			<-p.sem
			return nil, ragerr.Wrap(ragerr.KindTransportError, err, "dialing vector store")
		}
		h = &Handle{Client: client, createdAt: time.Now(), pool: p}
		p.mu.Lock()
		p.live++
		p.mu.Unlock()
	}

	tier := TierFast
	budget := p.currentTimeout(tier)
	checkCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	if time.Since(h.lastCheck) > budget {
		if _, err := h.Client.HealthCheck(checkCtx); err != nil {
			p.discard(h)
			return nil, ragerr.Wrap(ragerr.KindTransportError, err, "health check failed")
		}
		h.lastCheck = time.Now()
	}

	return h, nil
}

func (p *Pool) shouldRecycle(h *Handle) bool {
	if h.failed {
		return true
	}
	if p.recycle > 0 && time.Since(h.createdAt) > p.recycle {
		return true
	}
	return false
}

// discard retires h: closes its client, drops it from the live count,
// and releases the semaphore slot Acquire reserved for it. The sole
// releaser on the health-check-failure path — callers must not also
// release that slot.
func (p *Pool) discard(h *Handle) {
	if h.Client != nil {
		_ = h.Client.Close()
	}
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	<-p.sem
}

func (p *Pool) release(h *Handle) {
	defer func() { <-p.sem }()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shouldRecycle(h) {
		p.live--
		go func() { _ = h.Client.Close() }()
		return
	}
	p.idle = append(p.idle, h)
}

// RecordLatency feeds an observed operation duration into the moving
// window that decides whether the pool should promote to the relaxed
// health-check tier.
func (p *Pool) RecordLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency.add(d)
	p.relaxed = p.latency.sustainedHigh(200 * time.Millisecond)
}

func (p *Pool) currentTimeout(tier Tier) time.Duration {
	p.mu.Lock()
	relaxed := p.relaxed
	p.mu.Unlock()

	switch tier {
	case TierFast:
		if relaxed {
			return p.timeouts.RelaxedFast
		}
		return p.timeouts.Fast
	case TierMedium:
		if relaxed {
			return p.timeouts.RelaxedMedium
		}
		return p.timeouts.Medium
	default:
		if relaxed {
			return p.timeouts.RelaxedDeep
		}
		return p.timeouts.Deep
	}
}

// LiveCount reports the number of clients currently dialed (idle + in use).
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close closes all idle clients. In-flight handles close themselves on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, h := range p.idle {
		if err := h.Client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing pooled client: %w", err)
		}
	}
	p.idle = nil
	p.live = 0
	return firstErr
}
