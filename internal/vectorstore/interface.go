package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when attempting to create an existing collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// CurrentSchemaVersion is the payload schema version this adapter
// understands. EnsureCollection and Search refuse to operate on a
// collection whose stored schema_version exceeds this value.
const CurrentSchemaVersion = 1

// Store is the C3 vector store adapter contract: collection lifecycle,
// point upsert/delete, dense search, scroll, count, and project
// rename/delete. A single collection holds every project's memories,
// scoped by the project_name payload field; there is no cross-tenant
// access control beyond this per-project scoping.
type Store interface {
	// EnsureCollection is idempotent: creates the collection if absent,
	// or verifies an existing collection's dimension and schema version
	// match spec. Never silently recreates on mismatch; returns a
	// ragerr.Error with Kind SchemaMismatch instead.
	EnsureCollection(ctx context.Context, spec CollectionSpec) error

	// Upsert stores points atomically per point. On success, all listed
	// points are durably visible to searches issued after this call
	// returns (an explicit wait-for-index).
	Upsert(ctx context.Context, collection string, points []Point) error

	// Delete removes points by id. Deleting a non-existent id succeeds.
	Delete(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every point matching f. An empty filter is
	// rejected to prevent an accidental full-collection wipe.
	DeleteByFilter(ctx context.Context, collection string, f Filter) error

	// Search returns up to k matches ordered by score descending. Score
	// is cosine similarity in [-1, 1].
	Search(ctx context.Context, collection string, vector []float32, k int, f Filter) ([]SearchResult, error)

	// Scroll returns one cursor-stable page. Pass an empty cursor to
	// start; NextCursor is empty on the final page.
	Scroll(ctx context.Context, collection string, f Filter, cursor string, limit int) (ScrollPage, error)

	// Count returns the exact number of points matching f.
	Count(ctx context.Context, collection string, f Filter) (int, error)

	// RenameProject rewrites project_name from old to new across every
	// matching point via scroll + payload overwrite, one page at a time.
	// The rename is not atomic: a failure partway leaves the pages
	// already written under the new name.
	RenameProject(ctx context.Context, collection, oldName, newName string) error

	// DeleteProject deletes every point scoped to name and verifies via
	// a post-count that none remain.
	DeleteProject(ctx context.Context, collection, name string) error

	// CollectionInfo returns point count and vector dimension.
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)

	// Close releases the adapter's connection pool.
	Close() error
}
