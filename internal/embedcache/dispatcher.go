package embedcache

import "context"

// Dispatcher runs Cache operations on a small fixed pool of goroutines so
// sqlite's blocking I/O never runs inline on a caller's own goroutine:
// cooperative schedulers must not stall on cache I/O.
type Dispatcher struct {
	cache *Cache
	jobs  chan func()
	done  chan struct{}
}

// NewDispatcher starts workers goroutines draining a bounded job queue
// against cache.
func NewDispatcher(cache *Cache, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		cache: cache,
		jobs:  make(chan func(), workers*4),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	for job := range d.jobs {
		job()
	}
}

// Close stops accepting new work. Workers still drain jobs already queued,
// but Close returns without waiting for them to finish.
func (d *Dispatcher) Close() {
	close(d.jobs)
}

func (d *Dispatcher) run(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case d.jobs <- func() { errCh <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dispatches Cache.Get onto a worker goroutine.
func (d *Dispatcher) Get(ctx context.Context, text, model string) ([]float32, bool, error) {
	var vec []float32
	var hit bool
	err := d.run(ctx, func() error {
		var innerErr error
		vec, hit, innerErr = d.cache.Get(ctx, text, model)
		return innerErr
	})
	return vec, hit, err
}

// BatchGet dispatches Cache.BatchGet onto a worker goroutine.
func (d *Dispatcher) BatchGet(ctx context.Context, texts []string, model string) ([][]float32, error) {
	var out [][]float32
	err := d.run(ctx, func() error {
		var innerErr error
		out, innerErr = d.cache.BatchGet(ctx, texts, model)
		return innerErr
	})
	return out, err
}

// BatchSet dispatches Cache.BatchSet onto a worker goroutine.
func (d *Dispatcher) BatchSet(ctx context.Context, texts []string, model string, vectors [][]float32) error {
	return d.run(ctx, func() error {
		return d.cache.BatchSet(ctx, texts, model, vectors)
	})
}

// Vacuum dispatches Cache.Vacuum onto a worker goroutine.
func (d *Dispatcher) Vacuum(ctx context.Context) (int64, error) {
	var n int64
	err := d.run(ctx, func() error {
		var innerErr error
		n, innerErr = d.cache.Vacuum(ctx)
		return innerErr
	})
	return n, err
}
