package embeddings

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragmemory/internal/embedcache"
)

type fakeProvider struct {
	calls     int32
	failFirst bool
	failed    int32
}

func (f *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.failFirst && atomic.AddInt32(&f.failed, 1) == 1 {
		return nil, ErrEmbeddingFailed
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t))}
	}
	return vecs, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (f *fakeProvider) Dimension() int { return 1 }
func (f *fakeProvider) Close() error   { return nil }

func newTestEngine(t *testing.T, cfg EngineConfig, provider Provider) *Engine {
	t.Helper()
	cache, err := embedcache.Open(":memory:", 30*24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	dispatcher := embedcache.NewDispatcher(cache, 2)
	t.Cleanup(dispatcher.Close)
	return NewEngine(provider, dispatcher, "test-model", cfg, nil)
}

func TestEngine_BatchGenerate_CachesMisses(t *testing.T) {
	provider := &fakeProvider{}
	e := newTestEngine(t, EngineConfig{}, provider)
	ctx := context.Background()

	vecs, err := e.BatchGenerate(ctx, []string{"aa", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}}, vecs)
	assert.Equal(t, int32(1), provider.calls)

	// Second call should be served entirely from cache.
	vecs2, err := e.BatchGenerate(ctx, []string{"aa", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, vecs, vecs2)
	assert.Equal(t, int32(1), provider.calls, "second call must not hit the provider")
}

func TestEngine_BatchGenerate_PartialHit(t *testing.T) {
	provider := &fakeProvider{}
	e := newTestEngine(t, EngineConfig{}, provider)
	ctx := context.Background()

	_, err := e.BatchGenerate(ctx, []string{"aa"})
	require.NoError(t, err)

	vecs, err := e.BatchGenerate(ctx, []string{"aa", "ccccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {5}}, vecs)
	assert.Equal(t, int32(2), provider.calls, "only the miss should trigger a new provider call")
}

func TestEngine_BatchGenerate_RetriesOnceOnFailure(t *testing.T) {
	provider := &fakeProvider{failFirst: true}
	e := newTestEngine(t, EngineConfig{}, provider)

	vecs, err := e.BatchGenerate(context.Background(), []string{"retry-me"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{8}}, vecs)
}

func TestEngine_BatchGenerate_FailsAfterSecondRetry(t *testing.T) {
	provider := &failingProvider{}
	e := newTestEngine(t, EngineConfig{}, provider)

	_, err := e.BatchGenerate(context.Background(), []string{"doomed text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doomed text")
}

type failingProvider struct{}

func (f *failingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrEmbeddingFailed
}
func (f *failingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrEmbeddingFailed
}
func (f *failingProvider) Dimension() int { return 1 }
func (f *failingProvider) Close() error   { return nil }

func TestEngine_BatchGenerate_ParallelPath(t *testing.T) {
	provider := &fakeProvider{}
	cfg := EngineConfig{EnableParallel: true, ParallelWorkers: 4, ParallelBatchThreshold: 2}
	e := newTestEngine(t, cfg, provider)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.BatchGenerate(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0])
	}
}

func TestEngine_BatchGenerate_EmptyInput(t *testing.T) {
	provider := &fakeProvider{}
	e := newTestEngine(t, EngineConfig{}, provider)

	vecs, err := e.BatchGenerate(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
