package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragmemory/internal/embeddings"
	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// Config controls service-wide behavior not already captured by its
// collaborators.
type Config struct {
	Collection string
	ReadOnly   bool
}

// Service is the C9 Memory Service: the high-level surface clients use
// to store, retrieve, list, update, and delete memories, plus
// provenance capture, relationship tracking, and lifecycle
// transitions. It generalizes a single project-scoped confidence model
// into a richer scope/category/provenance/lifecycle schema.
type Service struct {
	store     vectorstore.Store
	embedder  *embeddings.Engine
	retriever Retriever
	rels      *RelationshipStore
	cfg       Config
	logger    *zap.Logger

	mu            sync.Mutex
	activeProject *string
}

// NewService builds a Service over already-constructed collaborators.
func NewService(store vectorstore.Store, embedder *embeddings.Engine, retriever Retriever, rels *RelationshipStore, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, embedder: embedder, retriever: retriever, rels: rels, cfg: cfg, logger: logger}
}

func (s *Service) checkWritable() error {
	if s.cfg.ReadOnly {
		return ragerr.New(ragerr.KindReadOnly, "mutating operation rejected: service is read_only")
	}
	return nil
}

// StoreInput carries the optional fields Store accepts beyond content
// and category.
type StoreInput struct {
	ProjectName    string
	Scope          Scope
	Importance     *float64
	Tags           []string
	Metadata       map[string]any
	Source         ProvenanceSource
	FileContext    string
	ConversationID string
}

// Store creates a new memory and returns its id. Rejects empty content
// and rejects mutation when read_only.
func (s *Service) Store(ctx context.Context, content string, category Category, in StoreInput) (string, error) {
	if err := s.checkWritable(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ragerr.New(ragerr.KindInvalidInput, "content must be non-empty")
	}

	now := time.Now().UTC()
	source := in.Source
	if source == "" {
		source = SourceUserExplicit
	}

	m := NewMemory(uuid.NewString(), content, category, source, now)
	if in.ProjectName != "" {
		m.ProjectName = in.ProjectName
		m.Scope = ScopeProject
	}
	if in.Scope != "" {
		m.Scope = in.Scope
	}
	if in.Importance != nil {
		m.Importance = *in.Importance
	}
	m.Tags = normalizeTags(in.Tags)
	if in.Metadata != nil {
		for k, v := range in.Metadata {
			m.Metadata[k] = v
		}
	}
	m.Provenance.FileContext = in.FileContext
	m.Provenance.ConversationID = in.ConversationID

	if msg := m.Validate(); msg != "" {
		return "", ragerr.New(ragerr.KindInvalidInput, msg)
	}

	vec, err := s.embedder.Generate(ctx, content)
	if err != nil {
		return "", ragerr.Wrap(ragerr.KindEmbeddingFailed, err, "embedding memory content")
	}

	if err := s.store.Upsert(ctx, s.cfg.Collection, []vectorstore.Point{m.ToPoint(vec)}); err != nil {
		return "", err
	}
	return m.ID, nil
}

// StoreBatchItem is one item of a StoreBatch call.
type StoreBatchItem struct {
	Content  string
	Category Category
	Input    StoreInput
}

// StoreBatch embeds and upserts every item in a single store
// round-trip: all or nothing on a transport error.
func (s *Service) StoreBatch(ctx context.Context, items []StoreBatchItem) ([]string, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	memories := make([]*Memory, len(items))
	texts := make([]string, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			return nil, ragerr.New(ragerr.KindInvalidInput, fmt.Sprintf("item %d: content must be non-empty", i))
		}
		source := item.Input.Source
		if source == "" {
			source = SourceUserExplicit
		}
		m := NewMemory(uuid.NewString(), item.Content, item.Category, source, now)
		if item.Input.ProjectName != "" {
			m.ProjectName = item.Input.ProjectName
			m.Scope = ScopeProject
		}
		if item.Input.Scope != "" {
			m.Scope = item.Input.Scope
		}
		if item.Input.Importance != nil {
			m.Importance = *item.Input.Importance
		}
		m.Tags = normalizeTags(item.Input.Tags)
		for k, v := range item.Input.Metadata {
			m.Metadata[k] = v
		}
		if msg := m.Validate(); msg != "" {
			return nil, ragerr.New(ragerr.KindInvalidInput, fmt.Sprintf("item %d: %s", i, msg))
		}
		memories[i] = m
		texts[i] = item.Content
	}

	vectors, err := s.embedder.BatchGenerate(ctx, texts)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindEmbeddingFailed, err, "embedding batch")
	}

	points := make([]vectorstore.Point, len(memories))
	ids := make([]string, len(memories))
	for i, m := range memories {
		points[i] = m.ToPoint(vectors[i])
		ids[i] = m.ID
	}
	if err := s.store.Upsert(ctx, s.cfg.Collection, points); err != nil {
		return nil, err
	}
	return ids, nil
}

// Retrieve delegates to the C8 Query Engine.
func (s *Service) Retrieve(ctx context.Context, query string, filters vectorstore.Filter, limit int, mode Mode, alpha float64, expander Expander) ([]Result, Quality, error) {
	return s.retriever.Retrieve(ctx, query, filters, limit, mode, alpha, expander)
}

// GetByID fetches a single memory, or a NotFound ragerr.Error.
func (s *Service) GetByID(ctx context.Context, id string) (*Memory, error) {
	page, err := s.store.Scroll(ctx, s.cfg.Collection, vectorstore.Filter{"id": id}, "", 1)
	if err != nil {
		return nil, err
	}
	if len(page.Points) == 0 {
		return nil, ragerr.New(ragerr.KindNotFound, "memory not found").WithID(id)
	}
	return FromPoint(page.Points[0])
}

// List returns a page of memories matching filters. Pagination is
// cursor-based (an opaque token from the previous page's NextCursor),
// not a numeric offset: the underlying vector store adapter is
// cursor-paginated throughout (C3's Scroll contract), so List follows
// that same convention rather than emulating a numeric offset over it.
func (s *Service) List(ctx context.Context, filters vectorstore.Filter, cursor string, limit int) ([]*Memory, string, error) {
	if limit <= 0 {
		limit = 100
	}
	page, err := s.store.Scroll(ctx, s.cfg.Collection, filters, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	memories := make([]*Memory, 0, len(page.Points))
	for _, p := range page.Points {
		m, err := FromPoint(p)
		if err != nil {
			s.logger.Warn("dropping undecodable point from list", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		memories = append(memories, m)
	}
	return memories, page.NextCursor, nil
}

// UpdatePatch carries the fields Update may change. A nil field is
// left untouched. id, created_at, and scope can never be changed here
// — scope change is MigrateScope's job.
type UpdatePatch struct {
	Content      *string
	Importance   *float64
	ContextLevel *ContextLevel
	Tags         []string
	Metadata     map[string]any
}

// Update applies patch to the memory at id, bumping updated_at.
func (s *Service) Update(ctx context.Context, id string, patch UpdatePatch) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	m, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if patch.Content != nil {
		if strings.TrimSpace(*patch.Content) == "" {
			return ragerr.New(ragerr.KindInvalidInput, "content must be non-empty").WithID(id)
		}
		m.Content = *patch.Content
	}
	if patch.Importance != nil {
		m.Importance = *patch.Importance
	}
	if patch.ContextLevel != nil {
		m.ContextLevel = *patch.ContextLevel
	}
	if patch.Tags != nil {
		m.Tags = normalizeTags(patch.Tags)
	}
	for k, v := range patch.Metadata {
		m.Metadata[k] = v
	}
	m.UpdatedAt = time.Now().UTC()

	if msg := m.Validate(); msg != "" {
		return ragerr.New(ragerr.KindInvalidInput, msg).WithID(id)
	}

	vec, err := s.reembedIfNeeded(ctx, m, patch.Content != nil)
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, s.cfg.Collection, []vectorstore.Point{m.ToPoint(vec)})
}

// reembedIfNeeded re-generates the embedding only when content
// changed; otherwise it preserves the existing vector via a
// with-vectors scroll, avoiding an unnecessary embedding call for a
// metadata-only patch.
func (s *Service) reembedIfNeeded(ctx context.Context, m *Memory, contentChanged bool) ([]float32, error) {
	if contentChanged {
		vec, err := s.embedder.Generate(ctx, m.Content)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.KindEmbeddingFailed, err, "re-embedding updated content")
		}
		return vec, nil
	}
	page, err := s.store.Scroll(ctx, s.cfg.Collection, vectorstore.Filter{"id": m.ID}, "", 1)
	if err != nil || len(page.Points) == 0 {
		return nil, ragerr.Wrap(ragerr.KindNotFound, err, "reloading vector for update").WithID(m.ID)
	}
	return page.Points[0].Vector, nil
}

// Delete removes a single memory and its relationships.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.store.DeleteByFilter(ctx, s.cfg.Collection, vectorstore.Filter{"id": id}); err != nil {
		return err
	}
	if s.rels != nil {
		return s.rels.DeleteForMemory(ctx, id)
	}
	return nil
}

// DeleteMany removes a batch of memories and their relationships.
func (s *Service) DeleteMany(ctx context.Context, ids []string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MigrateScope changes a memory's project/global membership. A nil
// newProjectName migrates the memory to global scope.
func (s *Service) MigrateScope(ctx context.Context, id string, newProjectName *string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	m, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if newProjectName == nil || *newProjectName == "" {
		m.Scope = ScopeGlobal
		m.ProjectName = ""
	} else {
		m.Scope = ScopeProject
		m.ProjectName = *newProjectName
	}
	m.UpdatedAt = time.Now().UTC()

	page, err := s.store.Scroll(ctx, s.cfg.Collection, vectorstore.Filter{"id": id}, "", 1)
	if err != nil || len(page.Points) == 0 {
		return ragerr.Wrap(ragerr.KindNotFound, err, "reloading vector for migrate_scope").WithID(id)
	}

	pt := m.ToPoint(page.Points[0].Vector)
	if m.Scope == ScopeGlobal {
		delete(pt.Payload, "project_name")
	}
	return s.store.Upsert(ctx, s.cfg.Collection, []vectorstore.Point{pt})
}

// bulkReclassifyPageSize bounds each page of BulkReclassify so a
// reclassify over a large project commits in atomic, bounded chunks.
const bulkReclassifyPageSize = 200

// BulkReclassify updates context_level for every memory matching
// filters, paginated and atomic per page (a failure partway through
// leaves earlier pages committed and later ones untouched, rather than
// attempting a single all-or-nothing transaction across the whole
// vector store).
func (s *Service) BulkReclassify(ctx context.Context, filters vectorstore.Filter, newLevel ContextLevel) (int, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}

	updated := 0
	cursor := ""
	for {
		page, err := s.store.Scroll(ctx, s.cfg.Collection, filters, cursor, bulkReclassifyPageSize)
		if err != nil {
			return updated, err
		}
		if len(page.Points) == 0 {
			break
		}
		for i := range page.Points {
			page.Points[i].Payload["context_level"] = string(newLevel)
			page.Points[i].Payload["updated_at"] = time.Now().UTC().Format(time.RFC3339)
		}
		if err := s.store.Upsert(ctx, s.cfg.Collection, page.Points); err != nil {
			return updated, err
		}
		updated += len(page.Points)

		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}
	return updated, nil
}

// AddRelationship records a relationship between two memories.
func (s *Service) AddRelationship(ctx context.Context, sourceID, targetID string, kind RelationshipKind, confidence float64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.rels.Add(ctx, Relationship{
		SourceID: sourceID, TargetID: targetID, Kind: kind,
		Confidence: confidence, DetectedAt: time.Now().UTC(), DetectedBy: "user",
	})
}

// ListProjects returns every distinct project_name with at least one
// memory. The store has no native group-by, so this scrolls the full
// collection and collects distinct values in-process — acceptable at
// the scale this engine targets (a single operator's projects), not a
// general-purpose aggregation path.
func (s *Service) ListProjects(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var projects []string
	cursor := ""
	for {
		page, err := s.store.Scroll(ctx, s.cfg.Collection, nil, cursor, 500)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			name, _ := p.Payload["project_name"].(string)
			if name != "" && !seen[name] {
				seen[name] = true
				projects = append(projects, name)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return projects, nil
}

// ProjectStats summarizes a project's memories.
type ProjectStats struct {
	ProjectName     string
	MemoryCount     int
	CategoryCounts  map[Category]int
	LifecycleCounts map[LifecycleState]int
}

// ProjectStats computes summary counts for a project by scrolling its
// scoped memories.
func (s *Service) ProjectStats(ctx context.Context, name string) (*ProjectStats, error) {
	stats := &ProjectStats{
		ProjectName:     name,
		CategoryCounts:  map[Category]int{},
		LifecycleCounts: map[LifecycleState]int{},
	}
	cursor := ""
	for {
		page, err := s.store.Scroll(ctx, s.cfg.Collection, vectorstore.ProjectFilter(name), cursor, 500)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			m, err := FromPoint(p)
			if err != nil {
				continue
			}
			stats.MemoryCount++
			stats.CategoryCounts[m.Category]++
			stats.LifecycleCounts[m.LifecycleState]++
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return stats, nil
}

// DeleteProject deletes every memory scoped to name.
func (s *Service) DeleteProject(ctx context.Context, name string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return s.store.DeleteProject(ctx, s.cfg.Collection, name)
}

// RenameProject rewrites project_name from old to new across every
// matching memory. If the active-project pointer currently names
// oldName, it is swapped to newName so it keeps pointing at the same
// project through the rename.
func (s *Service) RenameProject(ctx context.Context, oldName, newName string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.store.RenameProject(ctx, s.cfg.Collection, oldName, newName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeProject != nil && *s.activeProject == oldName {
		renamed := newName
		s.activeProject = &renamed
	}
	return nil
}

// SetActiveProject sets (or, with nil, clears) the process-local
// active-project pointer. The durable form of this value lives in a
// metadata store; this in-memory pointer is the in-process view of
// that same value — the composition root is responsible for
// loading/saving it.
func (s *Service) SetActiveProject(name *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeProject = name
}

// GetActiveProject returns the current active project, or nil if none
// is set.
func (s *Service) GetActiveProject() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeProject
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if norm, ok := NormalizeTag(t); ok {
			out = append(out, norm)
		}
	}
	return out
}
