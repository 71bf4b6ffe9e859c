// Package vectorstore provides the C3 vector store adapter: collection
// lifecycle, point upsert/delete, dense search, scroll, count, and
// project rename/delete, backed by Qdrant.
package vectorstore

// Point is a single stored vector with its payload.
type Point struct {
	// ID is the point's stable identifier (a UUID string).
	ID string

	// Vector is the dense embedding. Its length must match the
	// collection's configured dimension.
	Vector []float32

	// Payload holds the reserved memory fields (project_name, category,
	// importance, tags, ...) plus any caller-supplied extras. Values are
	// restricted to string, int64, float64, bool, []string and nested
	// maps of the same (the subset qdrant.Value can represent).
	Payload map[string]any
}

// SearchResult is a scored match returned from Search.
//
// Score is populated exclusively from the vector database's own scored
// result, never derived from or overwritten by a payload field. A
// payload containing a "score" key must not leak into this field; see
// qdrant.go's scoredPointToResult for the enforcement point.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// CollectionSpec describes the shape a collection must have.
// EnsureCollection creates a collection matching this spec if absent,
// and fails with a SchemaMismatch ragerr.Error if an existing
// collection's dimension or schema version disagrees.
type CollectionSpec struct {
	Name                 string
	VectorDim            uint64
	Distance             string // "cosine" (default), "euclid", "dot"
	PayloadSchemaVersion int
}

// ScrollPage is one page of a cursor-stable scroll over a collection.
type ScrollPage struct {
	Points     []Point
	NextCursor string // empty when there are no more pages
}

// CollectionInfo reports collection metadata.
type CollectionInfo struct {
	Name       string
	PointCount int
	VectorDim  int
}
