package memory

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
)

const relationshipSchemaDDL = `
CREATE TABLE IF NOT EXISTS relationships (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	confidence REAL NOT NULL,
	detected_at INTEGER NOT NULL,
	detected_by TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, kind)
);
`

// RelationshipStore is the C9 relationship table. Relationships have
// no natural home in the vector store's point-per-memory model, so
// they get their own SQLite table — same conventions as
// internal/indexer's file index and internal/embedcache's cache (WAL,
// single connection, upsert via ON CONFLICT).
type RelationshipStore struct {
	db *sql.DB
}

// OpenRelationshipStore opens (creating if necessary) the relationship
// database.
func OpenRelationshipStore(path string) (*RelationshipStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, ragerr.Wrap(ragerr.KindInvalidInput, err, "creating relationship store directory")
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "opening relationship store")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(relationshipSchemaDDL); err != nil {
		db.Close()
		return nil, ragerr.Wrap(ragerr.KindSchemaMismatch, err, "initializing relationship schema")
	}
	return &RelationshipStore{db: db}, nil
}

// Close releases the underlying database handle.
func (rs *RelationshipStore) Close() error { return rs.db.Close() }

// Add records a relationship, rejecting a reflexive pair. At most one
// relationship of a given kind may exist between an ordered pair; a
// second Add for the same (source, target, kind) overwrites the first
// (confidence/detected_at/detected_by refreshed), which is how a
// caller corrects an earlier auto-detected relationship.
func (rs *RelationshipStore) Add(ctx context.Context, rel Relationship) error {
	if rel.SourceID == rel.TargetID {
		return ragerr.New(ragerr.KindInvalidInput, "a memory cannot relate to itself").WithID(rel.SourceID)
	}
	_, err := rs.db.ExecContext(ctx,
		`INSERT INTO relationships (source_id, target_id, kind, confidence, detected_at, detected_by)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, kind) DO UPDATE SET
			confidence = excluded.confidence, detected_at = excluded.detected_at, detected_by = excluded.detected_by`,
		rel.SourceID, rel.TargetID, string(rel.Kind), rel.Confidence, rel.DetectedAt.Unix(), rel.DetectedBy,
	)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "recording relationship")
	}
	return nil
}

// ForMemory returns every relationship where id is either endpoint.
func (rs *RelationshipStore) ForMemory(ctx context.Context, id string) ([]Relationship, error) {
	rows, err := rs.db.QueryContext(ctx,
		`SELECT source_id, target_id, kind, confidence, detected_at, detected_by FROM relationships
		 WHERE source_id = ? OR target_id = ?`, id, id)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "listing relationships")
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// Repoint rewrites every relationship endpoint equal to oldID to
// newID, used by Merge to preserve relationships pointing at a loser
// onto the keep target. A relationship that would become reflexive
// after repointing is dropped instead of violating the no-self-loop
// invariant.
func (rs *RelationshipStore) Repoint(ctx context.Context, oldID, newID string) error {
	rels, err := rs.ForMemory(ctx, oldID)
	if err != nil {
		return err
	}
	for _, r := range rels {
		src, tgt := r.SourceID, r.TargetID
		if src == oldID {
			src = newID
		}
		if tgt == oldID {
			tgt = newID
		}
		if src == tgt {
			continue
		}
		if err := rs.Add(ctx, Relationship{SourceID: src, TargetID: tgt, Kind: r.Kind, Confidence: r.Confidence, DetectedAt: r.DetectedAt, DetectedBy: r.DetectedBy}); err != nil {
			return err
		}
	}
	return rs.DeleteForMemory(ctx, oldID)
}

// DeleteForMemory removes every relationship referencing id, used when
// the memory itself is deleted.
func (rs *RelationshipStore) DeleteForMemory(ctx context.Context, id string) error {
	_, err := rs.db.ExecContext(ctx, `DELETE FROM relationships WHERE source_id = ? OR target_id = ?`, id, id)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "deleting relationships")
	}
	return nil
}

func scanRelationships(rows *sql.Rows) ([]Relationship, error) {
	var out []Relationship
	for rows.Next() {
		var r Relationship
		var kind, detectedBy string
		var unixSeconds int64
		if err := rows.Scan(&r.SourceID, &r.TargetID, &kind, &r.Confidence, &unixSeconds, &detectedBy); err != nil {
			return nil, ragerr.Wrap(ragerr.KindTransportError, err, "scanning relationship")
		}
		r.Kind = RelationshipKind(kind)
		r.DetectedAt = time.Unix(unixSeconds, 0).UTC()
		r.DetectedBy = detectedBy
		out = append(out, r)
	}
	return out, rows.Err()
}
