package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragmemory/internal/embedcache"
	"github.com/fyrsmithlabs/ragmemory/internal/embeddings"
	"github.com/fyrsmithlabs/ragmemory/internal/ignore"
	"github.com/fyrsmithlabs/ragmemory/internal/parser"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// fakeProvider returns a deterministic, cheap vector so tests never touch
// a real model. Grounded on embeddings.fakeProvider's shape (engine_test.go).
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

// memStore is an in-memory vectorstore.Store sufficient to exercise
// upsert/delete-by-filter/project-delete without a real Qdrant instance.
type memStore struct {
	mu     sync.Mutex
	points map[string][]vectorstore.Point // collection -> points
}

func newMemStore() *memStore { return &memStore{points: map[string][]vectorstore.Point{}} }

func (s *memStore) EnsureCollection(ctx context.Context, spec vectorstore.CollectionSpec) error {
	return nil
}

func (s *memStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.points[collection]
	for _, p := range points {
		replaced := false
		for i, e := range existing {
			if e.ID == p.ID {
				existing[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, p)
		}
	}
	s.points[collection] = existing
	return nil
}

func (s *memStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var kept []vectorstore.Point
	for _, p := range s.points[collection] {
		if !idSet[p.ID] {
			kept = append(kept, p)
		}
	}
	s.points[collection] = kept
	return nil
}

func (s *memStore) DeleteByFilter(ctx context.Context, collection string, f vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []vectorstore.Point
	for _, p := range s.points[collection] {
		if matchesFilter(p, f) {
			continue
		}
		kept = append(kept, p)
	}
	s.points[collection] = kept
	return nil
}

func matchesFilter(p vectorstore.Point, f vectorstore.Filter) bool {
	for k, v := range f {
		if p.Payload[k] != v {
			return false
		}
	}
	return true
}

func (s *memStore) Search(ctx context.Context, collection string, vector []float32, k int, f vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (s *memStore) Scroll(ctx context.Context, collection string, f vectorstore.Filter, cursor string, limit int) (vectorstore.ScrollPage, error) {
	return vectorstore.ScrollPage{}, nil
}

func (s *memStore) Count(ctx context.Context, collection string, f vectorstore.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.points[collection] {
		if matchesFilter(p, f) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RenameProject(ctx context.Context, collection, oldName, newName string) error {
	return nil
}

func (s *memStore) DeleteProject(ctx context.Context, collection, name string) error {
	return s.DeleteByFilter(ctx, collection, vectorstore.Filter{"project_name": name})
}

func (s *memStore) CollectionInfo(ctx context.Context, collection string) (*vectorstore.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &vectorstore.CollectionInfo{Name: collection, PointCount: len(s.points[collection])}, nil
}

func (s *memStore) Close() error { return nil }

func newTestIndexer(t *testing.T) (*Indexer, *memStore) {
	t.Helper()
	store := newMemStore()
	cache, err := embedcache.Open(":memory:", 0)
	if err != nil {
		t.Fatalf("opening embedding cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	dispatcher := embedcache.NewDispatcher(cache, 2)
	t.Cleanup(func() { dispatcher.Close() })

	engine := embeddings.NewEngine(&fakeProvider{dim: 8}, dispatcher, "fake-model", embeddings.EngineConfig{}, zap.NewNop())

	fi, err := OpenFileIndex(":memory:")
	if err != nil {
		t.Fatalf("opening file index: %v", err)
	}
	t.Cleanup(func() { fi.Close() })

	p := parser.New()
	ix := New(store, engine, p, fi, Config{FileConcurrency: 2}, zap.NewNop())
	return ix, store
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexer_Run_IndexesGoFile(t *testing.T) {
	ix, store := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() string { return \"hi\" }\n")

	result, err := ix.Run(context.Background(), "proj", "codebase", dir, ignore.NewMatcher(nil), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Fatalf("FilesIndexed = %d, want 1", result.FilesIndexed)
	}
	if result.UnitsIndexed == 0 {
		t.Fatal("expected at least one indexed unit")
	}
	if len(store.points["codebase"]) != result.UnitsIndexed {
		t.Fatalf("stored points = %d, want %d", len(store.points["codebase"]), result.UnitsIndexed)
	}
}

func TestIndexer_Run_SkipsUnchangedFile(t *testing.T) {
	ix, store := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() {}\n")

	ctx := context.Background()
	matcher := ignore.NewMatcher(nil)
	if _, err := ix.Run(ctx, "proj", "codebase", dir, matcher, nil); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	firstCount := len(store.points["codebase"])

	result, err := ix.Run(ctx, "proj", "codebase", dir, matcher, nil)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if result.FilesSkipped != 1 {
		t.Fatalf("FilesSkipped = %d, want 1", result.FilesSkipped)
	}
	if len(store.points["codebase"]) != firstCount {
		t.Fatal("unchanged file re-index must not duplicate points")
	}
}

func TestIndexer_Run_ReindexesChangedFile(t *testing.T) {
	ix, store := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() {}\n")

	ctx := context.Background()
	matcher := ignore.NewMatcher(nil)
	if _, err := ix.Run(ctx, "proj", "codebase", dir, matcher, nil); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() {}\n\nfunc World() {}\n")
	result, err := ix.Run(ctx, "proj", "codebase", dir, matcher, nil)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Fatalf("FilesIndexed = %d, want 1 (changed file reprocessed)", result.FilesIndexed)
	}
	if len(store.points["codebase"]) != result.UnitsIndexed {
		t.Fatalf("delete-previous must leave exactly the latest units: got %d, want %d",
			len(store.points["codebase"]), result.UnitsIndexed)
	}
}

func TestIndexer_Run_HonorsIgnoreMatcher(t *testing.T) {
	ix, store := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "vendor/lib.go", "package lib\n\nfunc Lib() {}\n")
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() {}\n")

	result, err := ix.Run(context.Background(), "proj", "codebase", dir, ignore.NewMatcher(nil), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Fatalf("FilesIndexed = %d, want 1 (vendor/ excluded)", result.FilesIndexed)
	}
	for _, p := range store.points["codebase"] {
		if p.Payload["file_path"] == "vendor/lib.go" {
			t.Fatal("vendor/ file must not be indexed")
		}
	}
}

func TestIndexer_Run_SkipsBinaryFile(t *testing.T) {
	ix, _ := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "data.bin", "\x00\x01\x02\x03binary")
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() {}\n")

	result, err := ix.Run(context.Background(), "proj", "codebase", dir, ignore.NewMatcher(nil), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Fatalf("FilesIndexed = %d, want 1 (binary file skipped)", result.FilesIndexed)
	}
}

func TestIndexer_ReindexProject_ClearsAndRebuilds(t *testing.T) {
	ix, store := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello() {}\n")

	ctx := context.Background()
	matcher := ignore.NewMatcher(nil)
	if _, err := ix.Run(ctx, "proj", "codebase", dir, matcher, nil); err != nil {
		t.Fatalf("initial Run() error = %v", err)
	}

	result, err := ix.ReindexProject(ctx, "proj", "codebase", dir, matcher, nil)
	if err != nil {
		t.Fatalf("ReindexProject() error = %v", err)
	}
	if result.FilesIndexed != 1 {
		t.Fatalf("FilesIndexed = %d, want 1", result.FilesIndexed)
	}
	if len(store.points["codebase"]) != result.UnitsIndexed {
		t.Fatal("reindex_project must leave exactly the fresh units")
	}
}

func TestIndexer_Run_ReportsProgress(t *testing.T) {
	ix, _ := newTestIndexer(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n\nfunc A() {}\n")
	writeFile(t, dir, "b.go", "package b\n\nfunc B() {}\n")

	var mu sync.Mutex
	var lastDone int
	reporter := ReporterFunc(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.FilesDone > lastDone {
			lastDone = p.FilesDone
		}
	})

	_, err := ix.Run(context.Background(), "proj", "codebase", dir, ignore.NewMatcher(nil), reporter)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lastDone != 2 {
		t.Fatalf("final reported FilesDone = %d, want 2", lastDone)
	}
}
