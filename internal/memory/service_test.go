package memory

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragmemory/internal/embedcache"
	"github.com/fyrsmithlabs/ragmemory/internal/embeddings"
	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// fakeProvider returns a fixed-dimension zero vector regardless of
// input, same shape as internal/query's test double.
type fakeProvider struct{ dim int }

func (p *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
	}
	return out, nil
}
func (p *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, p.dim), nil
}
func (p *fakeProvider) Dimension() int { return p.dim }
func (p *fakeProvider) Close() error   { return nil }

// fakeStore is a minimal in-memory vectorstore.Store sufficient to
// exercise Service without a real Qdrant instance.
type fakeStore struct {
	mu     sync.Mutex
	points map[string]vectorstore.Point
}

func newFakeStore() *fakeStore { return &fakeStore{points: map[string]vectorstore.Point{}} }

func (s *fakeStore) EnsureCollection(ctx context.Context, spec vectorstore.CollectionSpec) error {
	return nil
}

func (s *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.points, id)
	}
	return nil
}

func (s *fakeStore) DeleteByFilter(ctx context.Context, collection string, f vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if matchesFilter(p, f) {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *fakeStore) Search(ctx context.Context, collection string, vector []float32, k int, f vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) Scroll(ctx context.Context, collection string, f vectorstore.Filter, cursor string, limit int) (vectorstore.ScrollPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var page vectorstore.ScrollPage
	for _, p := range s.points {
		if matchesFilter(p, f) {
			page.Points = append(page.Points, p)
		}
	}
	if limit > 0 && len(page.Points) > limit {
		page.Points = page.Points[:limit]
	}
	return page, nil
}

func matchesFilter(p vectorstore.Point, f vectorstore.Filter) bool {
	for k, v := range f {
		if p.Payload[k] != v {
			return false
		}
	}
	return true
}

func (s *fakeStore) Count(ctx context.Context, collection string, f vectorstore.Filter) (int, error) {
	return len(s.points), nil
}
func (s *fakeStore) RenameProject(ctx context.Context, collection, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload["project_name"] == oldName {
			p.Payload["project_name"] = newName
			s.points[id] = p
		}
	}
	return nil
}
func (s *fakeStore) DeleteProject(ctx context.Context, collection, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Payload["project_name"] == name {
			delete(s.points, id)
		}
	}
	return nil
}
func (s *fakeStore) CollectionInfo(ctx context.Context, collection string) (*vectorstore.CollectionInfo, error) {
	return &vectorstore.CollectionInfo{Name: collection, PointCount: len(s.points)}, nil
}
func (s *fakeStore) Close() error { return nil }

// fakeRetriever lets retrieve-delegation tests assert Service.Retrieve
// forwards to whatever Retriever it was built with.
type fakeRetriever struct {
	called bool
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string, filters vectorstore.Filter, limit int, mode Mode, alpha float64, expander Expander) ([]Result, Quality, error) {
	r.called = true
	return nil, Quality{Bucket: QualityNoResults}, nil
}

func newTestService(t *testing.T, store *fakeStore, cfg Config) (*Service, *RelationshipStore) {
	t.Helper()
	cache, err := embedcache.Open(":memory:", 0)
	if err != nil {
		t.Fatalf("opening embedding cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	dispatcher := embedcache.NewDispatcher(cache, 2)
	t.Cleanup(func() { dispatcher.Close() })
	embedder := embeddings.NewEngine(&fakeProvider{dim: 8}, dispatcher, "fake-model", embeddings.EngineConfig{}, zap.NewNop())

	rels, err := OpenRelationshipStore(":memory:")
	if err != nil {
		t.Fatalf("opening relationship store: %v", err)
	}
	t.Cleanup(func() { rels.Close() })

	if cfg.Collection == "" {
		cfg.Collection = "codebase"
	}
	return NewService(store, embedder, &fakeRetriever{}, rels, cfg, zap.NewNop()), rels
}

func TestStore_RejectsEmptyContent(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{})
	_, err := svc.Store(context.Background(), "   ", CategoryFact, StoreInput{})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	if kind, _ := ragerr.KindOf(err); kind != ragerr.KindInvalidInput {
		t.Fatalf("Kind = %v, want invalid_input", kind)
	}
}

func TestStore_ProjectScopeSetsScopeAndProjectName(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{})
	id, err := svc.Store(context.Background(), "hello world", CategoryFact, StoreInput{ProjectName: "demo"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := svc.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Scope != ScopeProject || got.ProjectName != "demo" {
		t.Fatalf("got scope=%s project=%s, want project/demo", got.Scope, got.ProjectName)
	}
}

func TestStore_RejectsWhenReadOnly(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{ReadOnly: true})
	_, err := svc.Store(context.Background(), "hello", CategoryFact, StoreInput{})
	if kind, _ := ragerr.KindOf(err); kind != ragerr.KindReadOnly {
		t.Fatalf("Kind = %v, want read_only", kind)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{})
	_, err := svc.GetByID(context.Background(), "missing")
	if kind, _ := ragerr.KindOf(err); kind != ragerr.KindNotFound {
		t.Fatalf("Kind = %v, want not_found", kind)
	}
}

func TestUpdate_CannotBeCalledWhenReadOnly(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, Config{})
	id, err := svc.Store(context.Background(), "original", CategoryFact, StoreInput{})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	svc.cfg.ReadOnly = true
	newContent := "changed"
	err = svc.Update(context.Background(), id, UpdatePatch{Content: &newContent})
	if kind, _ := ragerr.KindOf(err); kind != ragerr.KindReadOnly {
		t.Fatalf("Kind = %v, want read_only", kind)
	}
}

func TestUpdate_PreservesVectorWhenContentUnchanged(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, Config{})
	id, err := svc.Store(context.Background(), "original content", CategoryFact, StoreInput{})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	before := store.points[id].Vector

	importance := 0.9
	if err := svc.Update(context.Background(), id, UpdatePatch{Importance: &importance}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	after := store.points[id].Vector
	if len(before) != len(after) {
		t.Fatalf("vector length changed across a metadata-only update")
	}
}

func TestDelete_RemovesPointAndRelationships(t *testing.T) {
	store := newFakeStore()
	svc, rels := newTestService(t, store, Config{})
	a, _ := svc.Store(context.Background(), "memory a", CategoryFact, StoreInput{})
	b, _ := svc.Store(context.Background(), "memory b", CategoryFact, StoreInput{})
	if err := svc.AddRelationship(context.Background(), a, b, RelationRelated, 0.9); err != nil {
		t.Fatalf("AddRelationship() error = %v", err)
	}

	if err := svc.Delete(context.Background(), a); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := store.points[a]; ok {
		t.Fatal("expected point a to be removed")
	}
	remaining, err := rels.ForMemory(context.Background(), b)
	if err != nil {
		t.Fatalf("ForMemory() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected relationship to a to be deleted, got %d remaining", len(remaining))
	}
}

func TestMigrateScope_ToGlobalClearsProjectName(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, Config{})
	id, _ := svc.Store(context.Background(), "scoped", CategoryFact, StoreInput{ProjectName: "demo"})

	if err := svc.MigrateScope(context.Background(), id, nil); err != nil {
		t.Fatalf("MigrateScope() error = %v", err)
	}
	got, err := svc.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Scope != ScopeGlobal || got.ProjectName != "" {
		t.Fatalf("got scope=%s project=%q, want global/empty", got.Scope, got.ProjectName)
	}
}

func TestBulkReclassify_UpdatesContextLevelOfEveryMatch(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, Config{})
	for i := 0; i < 3; i++ {
		if _, err := svc.Store(context.Background(), "memory", CategoryFact, StoreInput{ProjectName: "demo"}); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	count, err := svc.BulkReclassify(context.Background(), vectorstore.ProjectFilter("demo"), ContextLevelArchive)
	if err != nil {
		t.Fatalf("BulkReclassify() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	for _, p := range store.points {
		if p.Payload["context_level"] != string(ContextLevelArchive) {
			t.Fatalf("context_level = %v, want archive", p.Payload["context_level"])
		}
	}
}

func TestListProjects_ReturnsDistinctNames(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, Config{})
	svc.Store(context.Background(), "a", CategoryFact, StoreInput{ProjectName: "alpha"})
	svc.Store(context.Background(), "b", CategoryFact, StoreInput{ProjectName: "beta"})
	svc.Store(context.Background(), "c", CategoryFact, StoreInput{ProjectName: "alpha"})

	projects, err := svc.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("len(projects) = %d, want 2", len(projects))
	}
}

func TestRetrieve_DelegatesToRetriever(t *testing.T) {
	store := newFakeStore()
	retriever := &fakeRetriever{}
	cache, _ := embedcache.Open(":memory:", 0)
	t.Cleanup(func() { cache.Close() })
	dispatcher := embedcache.NewDispatcher(cache, 1)
	t.Cleanup(func() { dispatcher.Close() })
	embedder := embeddings.NewEngine(&fakeProvider{dim: 8}, dispatcher, "fake-model", embeddings.EngineConfig{}, zap.NewNop())
	rels, _ := OpenRelationshipStore(":memory:")
	t.Cleanup(func() { rels.Close() })

	svc := NewService(store, embedder, retriever, rels, Config{Collection: "codebase"}, zap.NewNop())
	_, _, err := svc.Retrieve(context.Background(), "query", nil, 5, ModeSemantic, 0.5, nil)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !retriever.called {
		t.Fatal("expected Service.Retrieve to delegate to the Retriever")
	}
}

func TestSetGetActiveProject(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{})
	if svc.GetActiveProject() != nil {
		t.Fatal("expected no active project initially")
	}
	name := "demo"
	svc.SetActiveProject(&name)
	got := svc.GetActiveProject()
	if got == nil || *got != "demo" {
		t.Fatalf("GetActiveProject() = %v, want demo", got)
	}
}

func TestRenameProject_UpdatesActiveProjectPointer(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{})
	alpha := "alpha"
	svc.SetActiveProject(&alpha)

	if err := svc.RenameProject(context.Background(), "alpha", "beta"); err != nil {
		t.Fatalf("RenameProject() error = %v", err)
	}

	got := svc.GetActiveProject()
	if got == nil || *got != "beta" {
		t.Fatalf("GetActiveProject() = %v, want beta", got)
	}
}

func TestRenameProject_LeavesUnrelatedActiveProjectAlone(t *testing.T) {
	svc, _ := newTestService(t, newFakeStore(), Config{})
	other := "other"
	svc.SetActiveProject(&other)

	if err := svc.RenameProject(context.Background(), "alpha", "beta"); err != nil {
		t.Fatalf("RenameProject() error = %v", err)
	}

	got := svc.GetActiveProject()
	if got == nil || *got != "other" {
		t.Fatalf("GetActiveProject() = %v, want unchanged \"other\"", got)
	}
}
