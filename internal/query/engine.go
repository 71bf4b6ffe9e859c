package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragmemory/internal/embeddings"
	"github.com/fyrsmithlabs/ragmemory/internal/memory"
	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// Config controls engine-wide defaults not supplied per call.
type Config struct {
	Collection string
	Alpha      float64 // default fusion weight when a call omits one
}

// Engine is the C8 Query Engine. It implements memory.Retriever, so
// internal/memory's Service can delegate retrieve to it without
// internal/memory importing this package back.
type Engine struct {
	store    vectorstore.Store
	embedder *embeddings.Engine
	cfg      Config
	logger   *zap.Logger
}

// New builds an Engine over already-constructed collaborators.
func New(store vectorstore.Store, embedder *embeddings.Engine, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// scrollCap bounds the pre-filtered candidate set the lexical stage
// runs over: the store returns up to this many candidates for lexical
// scoring to work with.
const scrollCap = 200

// Retrieve runs the full C8 pipeline: expand, dense, lexical (hybrid
// only), fuse (hybrid only), rank & trim, touch, explain & quality.
func (e *Engine) Retrieve(ctx context.Context, q string, filters vectorstore.Filter, limit int, mode memory.Mode, alpha float64, expander memory.Expander) ([]memory.Result, memory.Quality, error) {
	if limit <= 0 {
		limit = 10
	}
	if alpha == 0 {
		alpha = e.cfg.Alpha
	}
	if expander == nil {
		expander = memory.IdentityExpander{}
	}

	if mode == memory.ModeFilterOnly {
		return e.retrieveFilterOnly(ctx, filters, limit)
	}

	_ = stateExpanding
	queries := expander.Expand(ctx, q)
	if len(queries) == 0 {
		queries = []string{q}
	}
	primary := queries[0]

	if err := ctx.Err(); err != nil {
		return nil, memory.Quality{}, err
	}

	_ = stateSearching
	vec, err := e.embedder.Generate(ctx, primary)
	if err != nil {
		return nil, memory.Quality{}, ragerr.Wrap(ragerr.KindEmbeddingFailed, err, "embedding query")
	}

	denseK := limit * 3
	if denseK > 50 {
		denseK = 50
	}
	if denseK < 1 {
		denseK = 1
	}

	denseResults, err := e.store.Search(ctx, e.cfg.Collection, vec, denseK, filters)
	if err != nil {
		return nil, memory.Quality{}, err
	}

	dense := make([]scoredID, 0, len(denseResults))
	denseMems := make(map[string]*memory.Memory, len(denseResults))
	for _, r := range denseResults {
		m, decErr := memory.FromPoint(vectorstore.Point{ID: r.ID, Payload: r.Payload})
		if decErr != nil {
			e.logger.Warn("dropping undecodable dense result", zap.String("id", r.ID), zap.Error(decErr))
			continue
		}
		dense = append(dense, scoredID{id: r.ID, score: float64(r.Score)})
		denseMems[r.ID] = m
	}

	if mode == memory.ModeSemantic {
		if err := ctx.Err(); err != nil {
			return nil, memory.Quality{}, err
		}
		candidates := make([]candidate, 0, len(dense))
		denseNorm := normalize(dense)
		for _, s := range dense {
			candidates = append(candidates, candidate{mem: denseMems[s.id], fused: denseNorm[s.id], hasDense: true, denseNorm: denseNorm[s.id]})
		}
		ranked := rankAndTrim(candidates, limit)
		return e.finish(ctx, ranked)
	}

	// Hybrid: lexical stage over the same filter's candidate set.
	page, err := e.store.Scroll(ctx, e.cfg.Collection, filters, "", scrollCap)
	if err != nil {
		return nil, memory.Quality{}, err
	}

	lexHits, err := lexicalSearch(ctx, page.Points, primary, denseK)
	if err != nil {
		e.logger.Warn("lexical stage failed, falling back to dense-only", zap.Error(err))
		lexHits = nil
	}

	lexMems := make(map[string]*memory.Memory, len(page.Points))
	for _, p := range page.Points {
		if m, decErr := memory.FromPoint(p); decErr == nil {
			lexMems[p.ID] = m
		}
	}

	_ = stateFusing
	fused := fuse(dense, denseMems, lexHits, lexMems, alpha)

	_ = stateRanking
	ranked := rankAndTrim(fused, limit)
	return e.finish(ctx, ranked)
}

// retrieveFilterOnly skips embedding entirely and uses scroll instead
// of a vector search. Results carry no fused score (scored 1.0
// uniformly) since there is no ranking signal beyond the filter
// itself.
func (e *Engine) retrieveFilterOnly(ctx context.Context, filters vectorstore.Filter, limit int) ([]memory.Result, memory.Quality, error) {
	page, err := e.store.Scroll(ctx, e.cfg.Collection, filters, "", limit)
	if err != nil {
		return nil, memory.Quality{}, err
	}

	candidates := make([]candidate, 0, len(page.Points))
	for _, p := range page.Points {
		m, decErr := memory.FromPoint(p)
		if decErr != nil {
			e.logger.Warn("dropping undecodable filter_only result", zap.String("id", p.ID), zap.Error(decErr))
			continue
		}
		candidates = append(candidates, candidate{mem: m, fused: 1.0})
	}
	ranked := rankAndTrim(candidates, limit)
	return e.finish(ctx, ranked)
}

// finish runs the shared Touch and Explain & quality-score tail
// stages common to every mode.
func (e *Engine) finish(ctx context.Context, ranked []candidate) ([]memory.Result, memory.Quality, error) {
	_ = stateTouching
	e.touch(ctx, ranked)

	results := make([]memory.Result, len(ranked))
	for i, c := range ranked {
		results[i] = memory.Result{Memory: c.mem, Score: c.fused, Explanation: explain(c)}
	}

	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Score
	}
	_ = stateDone
	return results, memory.BucketForScore(topScore, len(results) > 0), nil
}

// touch increments access_count and stamps last_accessed for every
// returned memory. Implemented synchronously but error-swallowed
// (logged, never returned) so a touch failure never fails the
// surrounding retrieve call.
func (e *Engine) touch(ctx context.Context, ranked []candidate) {
	now := time.Now().UTC()
	for _, c := range ranked {
		if c.mem == nil {
			continue
		}
		page, err := e.store.Scroll(ctx, e.cfg.Collection, vectorstore.Filter{"id": c.mem.ID}, "", 1)
		if err != nil || len(page.Points) == 0 {
			e.logger.Debug("touch: could not reload point", zap.String("id", c.mem.ID), zap.Error(err))
			continue
		}
		pt := page.Points[0]
		m, err := memory.FromPoint(pt)
		if err != nil {
			e.logger.Debug("touch: could not decode point", zap.String("id", c.mem.ID), zap.Error(err))
			continue
		}
		m.Touch(now)
		updated := m.ToPoint(pt.Vector)
		if err := e.store.Upsert(ctx, e.cfg.Collection, []vectorstore.Point{updated}); err != nil {
			e.logger.Debug("touch: upsert failed", zap.String("id", c.mem.ID), zap.Error(err))
		}
	}
}

var _ memory.Retriever = (*Engine)(nil)
