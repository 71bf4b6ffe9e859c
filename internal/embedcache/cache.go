// Package embedcache persists content-addressed embedding vectors so the
// indexer never re-embeds unchanged text. Keys are SHA-256(text)+model;
// entries expire after a configurable TTL.
package embedcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	hash TEXT NOT NULL,
	model TEXT NOT NULL,
	vector BLOB NOT NULL,
	inserted_at INTEGER NOT NULL,
	PRIMARY KEY (hash, model)
);
CREATE INDEX IF NOT EXISTS idx_embedding_cache_inserted_at ON embedding_cache(inserted_at);
`

// Cache is a SQLite-backed content-addressed embedding store.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// Open opens (creating if necessary) the embedding cache database at path.
// ttl governs how old an entry may be before Vacuum removes it.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, ragerr.Wrap(ragerr.KindInvalidInput, err, "creating embedding cache directory")
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "opening embedding cache")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no internal connection pooling

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, ragerr.Wrap(ragerr.KindSchemaMismatch, err, "initializing embedding cache schema")
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[4*i] = byte(bits)
		buf[4*i+1] = byte(bits >> 8)
		buf[4*i+2] = byte(bits >> 16)
		buf[4*i+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		bits := uint32(buf[4*i]) | uint32(buf[4*i+1])<<8 | uint32(buf[4*i+2])<<16 | uint32(buf[4*i+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// Get returns the cached vector for (text, model), or (nil, false) on a miss.
func (c *Cache) Get(ctx context.Context, text, model string) ([]float32, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT vector FROM embedding_cache WHERE hash = ? AND model = ?`,
		cacheKey(text), model,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ragerr.Wrap(ragerr.KindTransportError, err, "reading embedding cache")
	}
	return decodeVector(blob), true, nil
}

// BatchGet looks up vectors for texts under model, order-preserving. A miss
// is represented as a nil entry at that index.
func (c *Cache) BatchGet(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keyToIndices := make(map[string][]int, len(texts))
	for i, t := range texts {
		k := cacheKey(t)
		keyToIndices[k] = append(keyToIndices[k], i)
	}

	query, args := buildInQuery(keyToIndices, model)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "batch reading embedding cache")
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, ragerr.Wrap(ragerr.KindTransportError, err, "scanning embedding cache row")
		}
		vec := decodeVector(blob)
		for _, idx := range keyToIndices[hash] {
			out[idx] = vec
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "iterating embedding cache rows")
	}
	return out, nil
}

func buildInQuery(keyToIndices map[string][]int, model string) (string, []any) {
	placeholders := make([]byte, 0, len(keyToIndices)*2)
	args := make([]any, 0, len(keyToIndices)+1)
	first := true
	for hash := range keyToIndices {
		if !first {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
			first = false
		}
		args = append(args, hash)
	}
	args = append(args, model)
	query := fmt.Sprintf(`SELECT hash, vector FROM embedding_cache WHERE hash IN (%s) AND model = ?`, string(placeholders))
	return query, args
}

// Set stores a single (text, model) -> vector mapping, overwriting any
// existing entry.
func (c *Cache) Set(ctx context.Context, text, model string, vector []float32) error {
	return c.BatchSet(ctx, []string{text}, model, [][]float32{vector})
}

// BatchSet stores vectors for texts under model in a single transaction.
func (c *Cache) BatchSet(ctx context.Context, texts []string, model string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return ragerr.New(ragerr.KindInvalidInput, "texts and vectors length mismatch")
	}
	if len(texts) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "beginning embedding cache transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embedding_cache (hash, model, vector, inserted_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash, model) DO UPDATE SET vector = excluded.vector, inserted_at = excluded.inserted_at`,
	)
	if err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "preparing embedding cache upsert")
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, text := range texts {
		if _, err := stmt.ExecContext(ctx, cacheKey(text), model, encodeVector(vectors[i]), now); err != nil {
			return ragerr.Wrap(ragerr.KindTransportError, err, "writing embedding cache entry")
		}
	}

	if err := tx.Commit(); err != nil {
		return ragerr.Wrap(ragerr.KindTransportError, err, "committing embedding cache transaction")
	}
	return nil
}

// Vacuum removes entries older than the configured TTL and returns the
// number of rows removed.
func (c *Cache) Vacuum(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-c.ttl).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE inserted_at < ?`, cutoff)
	if err != nil {
		return 0, ragerr.Wrap(ragerr.KindTransportError, err, "vacuuming embedding cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ragerr.Wrap(ragerr.KindTransportError, err, "counting vacuumed embedding cache rows")
	}
	return n, nil
}
