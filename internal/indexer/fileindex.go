package indexer

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
)

const fileIndexSchemaDDL = `
CREATE TABLE IF NOT EXISTS file_index (
	project_name TEXT NOT NULL,
	path TEXT NOT NULL,
	hash TEXT NOT NULL,
	indexed_at INTEGER NOT NULL,
	unit_count INTEGER NOT NULL,
	PRIMARY KEY (project_name, path)
);
`

// FileIndex is the persisted (project_name, path) -> last_hash table the
// Decide step consults to skip unchanged files. Paths are stored relative
// to the indexed root, not as absolute paths. It is the
// indexer's own bookkeeping store, separate from both the embedding
// cache and the vector store.
type FileIndex struct {
	db *sql.DB
}

// OpenFileIndex opens (creating if necessary) the file-index database.
func OpenFileIndex(path string) (*FileIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, ragerr.Wrap(ragerr.KindInvalidInput, err, "creating file index directory")
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "opening file index")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pooling

	if _, err := db.Exec(fileIndexSchemaDDL); err != nil {
		db.Close()
		return nil, ragerr.Wrap(ragerr.KindSchemaMismatch, err, "initializing file index schema")
	}
	return &FileIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (fi *FileIndex) Close() error {
	return fi.db.Close()
}

// Lookup returns the last-recorded hash for (project, path), or
// ok=false if the file has never been indexed.
func (fi *FileIndex) Lookup(ctx context.Context, project, path string) (hash string, ok bool, err error) {
	err = fi.db.QueryRowContext(ctx,
		`SELECT hash FROM file_index WHERE project_name = ? AND path = ?`, project, path,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, ragerr.Wrap(ragerr.KindTransportError, err, "reading file index")
	}
	return hash, true, nil
}

// Record upserts the (project, path) row after a successful index pass.
func (fi *FileIndex) Record(ctx context.Context, entry FileIndexEntry) error {
	_, err := fi.db.ExecContext(ctx,
		`INSERT INTO file_index (project_name, path, hash, indexed_at, unit_count) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_name, path) DO UPDATE SET hash = excluded.hash, indexed_at = excluded.indexed_at, unit_count = excluded.unit_count`,
		entry.ProjectName, entry.Path, entry.Hash, entry.IndexedAt.Unix(), entry.UnitCount,
	)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "recording file index entry")
	}
	return nil
}

// Delete removes the (project, path) row, used by delete_file_index and
// as part of reindex_project's reset.
func (fi *FileIndex) Delete(ctx context.Context, project, path string) error {
	_, err := fi.db.ExecContext(ctx, `DELETE FROM file_index WHERE project_name = ? AND path = ?`, project, path)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "deleting file index entry")
	}
	return nil
}

// ClearProject removes every row for project, used by reindex_project.
func (fi *FileIndex) ClearProject(ctx context.Context, project string) error {
	_, err := fi.db.ExecContext(ctx, `DELETE FROM file_index WHERE project_name = ?`, project)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "clearing file index for project")
	}
	return nil
}

// Paths returns every indexed path recorded for project.
func (fi *FileIndex) Paths(ctx context.Context, project string) ([]string, error) {
	rows, err := fi.db.QueryContext(ctx, `SELECT path FROM file_index WHERE project_name = ?`, project)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "listing file index paths")
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, ragerr.Wrap(ragerr.KindTransportError, err, "scanning file index path")
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
