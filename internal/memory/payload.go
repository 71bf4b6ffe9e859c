package memory

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// ToPoint projects a Memory into a vectorstore.Point, writing every
// reserved payload key. embedding may be nil for a memory that has not
// yet been embedded (callers fill it in before Upsert).
func (m *Memory) ToPoint(embedding []float32) vectorstore.Point {
	payload := map[string]any{
		"id":              m.ID,
		"content":         m.Content,
		"category":        string(m.Category),
		"scope":           string(m.Scope),
		"context_level":   string(m.ContextLevel),
		"importance":      m.Importance,
		"lifecycle_state": string(m.LifecycleState),
		"created_at":      m.CreatedAt.Format(time.RFC3339),
		"updated_at":      m.UpdatedAt.Format(time.RFC3339),
		"last_accessed":   m.LastAccessed.Format(time.RFC3339),
		"access_count":    m.AccessCount,
		"tags":            m.Tags,
		"schema_version":  int64(vectorstore.CurrentSchemaVersion),
		"provenance": map[string]any{
			"source":          string(m.Provenance.Source),
			"confidence":      m.Provenance.Confidence,
			"verified":        m.Provenance.Verified,
			"file_context":    m.Provenance.FileContext,
			"conversation_id": m.Provenance.ConversationID,
		},
	}
	if m.ProjectName != "" {
		payload["project_name"] = m.ProjectName
	}
	for k, v := range m.Metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	return vectorstore.Point{ID: m.ID, Vector: embedding, Payload: payload}
}

// FromPoint reconstructs a Memory from a stored point's payload. Any
// key not among the reserved set lands in Metadata. lifecycle_state is
// not trusted from the payload verbatim: it is recomputed from
// last_accessed so a point nobody has touched in a while decodes as
// archived/stale even if it was written back when it was active.
func FromPoint(p vectorstore.Point) (*Memory, error) {
	payload := p.Payload
	m := &Memory{ID: p.ID, Metadata: map[string]any{}}

	m.Content, _ = payload["content"].(string)
	m.Category = Category(asString(payload["category"]))
	m.ProjectName = asString(payload["project_name"])
	m.Scope = Scope(asString(payload["scope"]))
	m.ContextLevel = ContextLevel(asString(payload["context_level"]))
	m.Importance = asFloat(payload["importance"])
	m.AccessCount = asInt(payload["access_count"])
	m.Tags = asStringSlice(payload["tags"])

	var err error
	if m.CreatedAt, err = parseTimestamp(payload["created_at"]); err != nil {
		return nil, ragerr.Wrap(ragerr.KindInvalidInput, err, "parsing created_at").WithID(p.ID)
	}
	if m.UpdatedAt, err = parseTimestamp(payload["updated_at"]); err != nil {
		return nil, ragerr.Wrap(ragerr.KindInvalidInput, err, "parsing updated_at").WithID(p.ID)
	}
	if m.LastAccessed, err = parseTimestamp(payload["last_accessed"]); err != nil {
		return nil, ragerr.Wrap(ragerr.KindInvalidInput, err, "parsing last_accessed").WithID(p.ID)
	}
	m.LifecycleState = RecomputeLifecycle(m.LastAccessed, time.Now())

	if prov, ok := payload["provenance"].(map[string]any); ok {
		m.Provenance = Provenance{
			Source:         ProvenanceSource(asString(prov["source"])),
			Confidence:     asFloat(prov["confidence"]),
			Verified:       asBool(prov["verified"]),
			FileContext:    asString(prov["file_context"]),
			ConversationID: asString(prov["conversation_id"]),
		}
	}

	reserved := map[string]bool{
		"id": true, "content": true, "category": true, "project_name": true,
		"scope": true, "context_level": true, "importance": true,
		"lifecycle_state": true, "created_at": true, "updated_at": true,
		"last_accessed": true, "access_count": true, "tags": true,
		"provenance": true, "schema_version": true,
	}
	for k, v := range payload {
		if !reserved[k] {
			m.Metadata[k] = v
		}
	}
	return m, nil
}

// parseTimestamp requires RFC 3339 with an explicit offset: reading an
// offset-naive timestamp is an error.
func parseTimestamp(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("timestamp field missing or not a string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is not RFC3339 offset-aware: %w", s, err)
	}
	return t, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
