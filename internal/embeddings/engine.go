package embeddings

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragmemory/internal/embedcache"
)

// EngineConfig controls the cache-first, threshold-gated parallel batching
// behavior of Engine.BatchGenerate.
type EngineConfig struct {
	// EnableParallel turns on worker fan-out for large miss batches.
	EnableParallel bool
	// ParallelWorkers bounds concurrent embedding goroutines.
	ParallelWorkers int
	// ParallelBatchThreshold: miss batches smaller than this are embedded
	// inline regardless of EnableParallel.
	ParallelBatchThreshold int
	// ShowProgress logs the cache-hit ratio per call when true.
	ShowProgress bool
}

// Engine wraps a Provider with the content-addressed cache and the
// cache-first batch_generate algorithm.
type Engine struct {
	provider Provider
	cache    *embedcache.Dispatcher
	model    string
	cfg      EngineConfig
	logger   *zap.Logger
	procPool *ProcessPool
}

// NewEngine builds an Engine over an already-constructed Provider and
// embedding cache dispatcher.
func NewEngine(provider Provider, cache *embedcache.Dispatcher, model string, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.ParallelWorkers <= 0 {
		cfg.ParallelWorkers = 4
	}
	if cfg.ParallelBatchThreshold <= 0 {
		cfg.ParallelBatchThreshold = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{provider: provider, cache: cache, model: model, cfg: cfg, logger: logger}
}

// SetProcessPool wires a ProcessPool of OS-level embed-worker
// processes into the engine. Once set, generateParallel dispatches
// large miss batches to those processes instead of in-process
// goroutines. Left unset, generateParallel falls back to goroutines
// (this is the path every existing test exercises, since constructing
// a ProcessPool requires spawning a real subprocess).
func (e *Engine) SetProcessPool(p *ProcessPool) {
	e.procPool = p
}

// Generate embeds a single text, going through the cache.
func (e *Engine) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.BatchGenerate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// BatchGenerate implements the cache-first batch_generate algorithm: query
// the cache for hits/misses, embed misses (inline or fanned out across
// workers depending on batch size), write misses back to the cache, and
// reassemble in the original order.
func (e *Engine) BatchGenerate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	cached, err := e.cache.BatchGet(ctx, texts, e.model)
	if err != nil {
		return nil, fmt.Errorf("querying embedding cache: %w", err)
	}

	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, vec := range cached {
		if vec != nil {
			result[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if e.cfg.ShowProgress {
		hitRatio := float64(len(texts)-len(missTexts)) / float64(len(texts))
		e.logger.Info("embedding cache lookup",
			zap.Int("total", len(texts)),
			zap.Int("hits", len(texts)-len(missTexts)),
			zap.Float64("hit_ratio", hitRatio),
		)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	generated, err := e.generateMisses(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		result[idx] = generated[j]
	}

	if err := e.cache.BatchSet(ctx, missTexts, e.model, generated); err != nil {
		return nil, fmt.Errorf("writing embedding cache: %w", err)
	}

	return result, nil
}

func (e *Engine) generateMisses(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.cfg.EnableParallel || len(texts) < e.cfg.ParallelBatchThreshold {
		return e.generateInlineWithRetry(ctx, texts)
	}
	return e.generateParallel(ctx, texts)
}

// generateInlineWithRetry embeds texts in a single call. On failure it
// retries once before surfacing an EmbeddingFailed error naming the
// offending batch's lead text.
func (e *Engine) generateInlineWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.provider.EmbedDocuments(ctx, texts)
	if err == nil {
		return vecs, nil
	}

	vecs, retryErr := e.provider.EmbedDocuments(ctx, texts)
	if retryErr == nil {
		return vecs, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingFailed, preview(texts[0]), retryErr)
}

// generateParallel partitions texts across ParallelWorkers and embeds
// each partition concurrently. When a ProcessPool is wired (see
// SetProcessPool) each partition goes to its own OS process, the
// model's actual unit of CPU-bound parallelism; without one it falls
// back to in-process goroutines, sharing the one Provider behind its
// RWMutex (the only path available to tests, which construct an Engine
// without spawning subprocesses). Either way a failed partition is
// retried once inline before failing the whole batch.
func (e *Engine) generateParallel(ctx context.Context, texts []string) ([][]float32, error) {
	workers := e.cfg.ParallelWorkers
	if workers > len(texts) {
		workers = len(texts)
	}

	chunkSize := (len(texts) + workers - 1) / workers
	results := make([][][]float32, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunkSize
		if start >= len(texts) {
			continue
		}
		end := start + chunkSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		g.Go(func() error {
			vecs, err := e.embedChunk(gctx, chunk)
			if err != nil {
				return err
			}
			results[w] = vecs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, chunkResult := range results {
		out = append(out, chunkResult...)
	}
	return out, nil
}

// embedChunk sends one partition to a worker process if a ProcessPool
// is wired, retrying once inline (in this process, via the shared
// Provider) on any process-pool failure — a crashed or unreachable
// worker must not fail the whole batch any more than a single inline
// retry failure would.
func (e *Engine) embedChunk(ctx context.Context, chunk []string) ([][]float32, error) {
	if e.procPool == nil {
		return e.generateInlineWithRetry(ctx, chunk)
	}
	vecs, err := e.procPool.EmbedDocuments(ctx, chunk)
	if err == nil {
		return vecs, nil
	}
	e.logger.Warn("embed worker process failed, retrying chunk inline", zap.Error(err))
	return e.generateInlineWithRetry(ctx, chunk)
}

func preview(text string) string {
	const maxLen = 60
	t := strings.TrimSpace(text)
	if len(t) > maxLen {
		return t[:maxLen] + "..."
	}
	return t
}
