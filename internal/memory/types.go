// Package memory implements the C9 Memory Service: the high-level
// store/retrieve/list/update/delete surface over the vector store
// adapter, plus provenance capture, relationship tracking, and
// lifecycle transitions. Its Memory type is the domain model shared
// with internal/query (C8), which returns Memory values scored and
// explained.
//
// Memory generalizes a simpler confidence/usage/state record into a
// richer schema: category, scope, context_level, tags, provenance,
// metadata, lifecycle_state, access_count.
package memory

import (
	"strings"
	"time"
)

// Category is the closed set of memory categories.
type Category string

const (
	CategoryConversation    Category = "conversation"
	CategoryCode            Category = "code"
	CategoryDocumentation   Category = "documentation"
	CategoryPreference      Category = "preference"
	CategoryFact            Category = "fact"
	CategoryEvent           Category = "event"
	CategoryProjectContext  Category = "project-context"
	CategorySessionState    Category = "session-state"
)

// Scope is global or project-bound.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// ContextLevel is a coarse importance bucket, distinct from the finer
// Importance gradient.
type ContextLevel string

const (
	ContextLevelCritical ContextLevel = "critical"
	ContextLevelCore     ContextLevel = "core"
	ContextLevelDetail   ContextLevel = "detail"
	ContextLevelArchive  ContextLevel = "archive"
)

// LifecycleState tracks how "warm" a memory is, recomputed from access
// recency but persisted for fast filtering.
type LifecycleState string

const (
	LifecycleActive   LifecycleState = "active"
	LifecycleRecent   LifecycleState = "recent"
	LifecycleArchived LifecycleState = "archived"
	LifecycleStale    LifecycleState = "stale"
)

// ProvenanceSource is where a memory's content originated.
type ProvenanceSource string

const (
	SourceUserExplicit  ProvenanceSource = "user_explicit"
	SourceInferred      ProvenanceSource = "inferred"
	SourceDocumentation ProvenanceSource = "documentation"
	SourceAutoClassified ProvenanceSource = "auto_classified"
	SourceImported      ProvenanceSource = "imported"
)

// defaultConfidence returns the provenance confidence assigned per
// source when the caller does not supply one explicitly.
func defaultConfidence(source ProvenanceSource) float64 {
	switch source {
	case SourceImported:
		return 0.5
	case SourceUserExplicit:
		return 0.8
	default:
		return 0.8
	}
}

// Provenance records where a memory's content came from and how much
// it is to be trusted.
type Provenance struct {
	Source         ProvenanceSource
	Confidence     float64
	Verified       bool
	FileContext    string
	ConversationID string
}

// RelationshipKind is the closed set of relationship types between two
// memories.
type RelationshipKind string

const (
	RelationSupports    RelationshipKind = "supports"
	RelationContradicts RelationshipKind = "contradicts"
	RelationRelated     RelationshipKind = "related"
	RelationSupersedes  RelationshipKind = "supersedes"
)

// Relationship links two memories. Reflexive relationships (SourceID ==
// TargetID) are forbidden, and at most one relationship of a given Kind
// may exist between an ordered pair; both invariants are enforced by
// the service, not this type.
type Relationship struct {
	SourceID   string
	TargetID   string
	Kind       RelationshipKind
	Confidence float64
	DetectedAt time.Time
	DetectedBy string // "auto", "user", or "system"
}

// Memory is the unit of storage and the richest domain type in this
// package. Embedding is intentionally absent from this struct — it is
// carried alongside as a []float32 only at the vectorstore.Point
// boundary, never serialized in a Memory's exported/round-trip form.
type Memory struct {
	ID             string
	Content        string
	Category       Category
	ProjectName    string // empty means global
	Scope          Scope
	ContextLevel   ContextLevel
	Importance     float64
	Tags           []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessed   time.Time
	LifecycleState LifecycleState
	AccessCount    int64
	Provenance     Provenance
	Metadata       map[string]any
}

// NewMemory builds a Memory with its defaults: context_level core,
// lifecycle active, access_count 0, timestamps at now, and provenance
// confidence defaulted by source (verified false).
func NewMemory(id, content string, category Category, source ProvenanceSource, now time.Time) *Memory {
	return &Memory{
		ID:             id,
		Content:        content,
		Category:       category,
		Scope:          ScopeGlobal,
		ContextLevel:   ContextLevelCore,
		Importance:     0.5,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessed:   now,
		LifecycleState: LifecycleActive,
		AccessCount:    0,
		Provenance: Provenance{
			Source:     source,
			Confidence: defaultConfidence(source),
			Verified:   false,
		},
		Metadata: map[string]any{},
	}
}

// Validate checks a Memory's invariants. Returns the first violated
// invariant's description, or "" if valid.
func (m *Memory) Validate() string {
	if strings.TrimSpace(m.Content) == "" {
		return "content must be non-empty after trim"
	}
	if m.Scope == ScopeProject && m.ProjectName == "" {
		return "scope == project requires project_name"
	}
	if m.Importance < 0 || m.Importance > 1 {
		return "importance must be in [0, 1]"
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		return "updated_at must be >= created_at"
	}
	if m.Category == CategoryCode {
		for _, key := range []string{"file_path", "language", "unit_type", "start_line", "end_line"} {
			if _, ok := m.Metadata[key]; !ok {
				return "category code requires metadata." + key
			}
		}
	}
	return ""
}

// Touch increments AccessCount and stamps LastAccessed, raising
// LifecycleState from recent back to active on retrieval.
// AccessCount only ever increases.
func (m *Memory) Touch(now time.Time) {
	m.AccessCount++
	m.LastAccessed = now
	if m.LifecycleState == LifecycleRecent {
		m.LifecycleState = LifecycleActive
	}
}

// Lifecycle age bands, keyed off time since last_accessed. A memory
// that hasn't been touched in under a week reads as active, under a
// month as recent, under a quarter as archived, and stale beyond that.
const (
	lifecycleRecentAge   = 7 * 24 * time.Hour
	lifecycleArchivedAge = 30 * 24 * time.Hour
	lifecycleStaleAge    = 90 * 24 * time.Hour
)

// RecomputeLifecycle derives the lifecycle bucket implied by how long
// it has been since lastAccessed, independent of whatever state was
// last persisted. FromPoint calls this on every decode so
// lifecycle_state never drifts stale in memory even when nothing has
// written the point back; Touch's recent-to-active bump on retrieval
// then persists the refreshed value.
func RecomputeLifecycle(lastAccessed, now time.Time) LifecycleState {
	age := now.Sub(lastAccessed)
	switch {
	case age < lifecycleRecentAge:
		return LifecycleActive
	case age < lifecycleArchivedAge:
		return LifecycleRecent
	case age < lifecycleStaleAge:
		return LifecycleArchived
	default:
		return LifecycleStale
	}
}

// NormalizeTag lowercases a tag and reports whether it matches the
// tag dialect ([a-z0-9\-_/]+, length <= 64) after lowercasing.
func NormalizeTag(tag string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(tag))
	if lower == "" || len(lower) > 64 {
		return "", false
	}
	for _, r := range lower {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '/'
		if !ok {
			return "", false
		}
	}
	return lower, true
}
