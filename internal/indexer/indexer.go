package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragmemory/internal/config"
	"github.com/fyrsmithlabs/ragmemory/internal/embeddings"
	"github.com/fyrsmithlabs/ragmemory/internal/ignore"
	"github.com/fyrsmithlabs/ragmemory/internal/parser"
	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// Config controls indexer behavior not already captured by its
// collaborators (file concurrency).
type Config struct {
	// FileConcurrency bounds how many files are processed at once.
	FileConcurrency int
}

// Indexer drives the C7 per-file pipeline: discover, identify, decide,
// parse, delete-previous, embed, upsert, record.
type Indexer struct {
	store     vectorstore.Store
	engine    *embeddings.Engine
	parser    *parser.Parser
	fileIndex *FileIndex
	cfg       Config
	logger    *zap.Logger
}

// New builds an Indexer over already-constructed collaborators.
func New(store vectorstore.Store, engine *embeddings.Engine, p *parser.Parser, fileIndex *FileIndex, cfg Config, logger *zap.Logger) *Indexer {
	if cfg.FileConcurrency <= 0 {
		cfg.FileConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{store: store, engine: engine, parser: p, fileIndex: fileIndex, cfg: cfg, logger: logger}
}

// Run indexes every file under root into collection, scoped to project.
// Parallelism across files is bounded by cfg.FileConcurrency; the
// Identify/Decide/Parse/Delete-previous/Embed/Upsert/Record steps for a
// single file are strictly ordered.
func (ix *Indexer) Run(ctx context.Context, project, collection, root string, matcher *ignore.Matcher, reporter Reporter) (*Result, error) {
	start := time.Now()

	paths, err := discover(root, matcher)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindTransportError, err, "discovering files").WithProject(project)
	}

	result := &Result{FilesTotal: len(paths)}
	var mu sync.Mutex
	var done int

	report := func() {
		if reporter == nil {
			return
		}
		mu.Lock()
		p := Progress{FilesTotal: result.FilesTotal, FilesDone: done, UnitsIndexed: result.UnitsIndexed}
		mu.Unlock()
		reporter.Report(p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.FileConcurrency)

	for _, relPath := range paths {
		relPath := relPath
		g.Go(func() error {
			fr := ix.indexFile(gctx, project, collection, root, relPath)

			mu.Lock()
			done++
			if fr.Err != nil {
				result.FilesFailed++
				result.Failed = append(result.Failed, fr)
			} else if fr.Skipped {
				result.FilesSkipped++
			} else {
				result.FilesIndexed++
				result.UnitsIndexed += fr.UnitCount
			}
			mu.Unlock()

			report()
			return nil // file-level errors never abort the group
		})
	}
	// errgroup.Wait only returns non-nil if a goroutine itself returned an
	// error; file failures are captured in result.Failed instead, so one
	// bad file never aborts indexing of the rest.
	_ = g.Wait()

	result.Duration = time.Since(start)
	return result, nil
}

// indexFile runs the strictly-ordered per-file pipeline (steps 2-8).
func (ix *Indexer) indexFile(ctx context.Context, project, collection, root, relPath string) FileResult {
	fr := FileResult{Path: relPath}

	absPath := filepath.Join(root, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		fr.Err = fmt.Errorf("reading %s: %w", relPath, err)
		return fr
	}

	// Identify.
	hash := fileHash(content)

	// Decide.
	prevHash, ok, err := ix.fileIndex.Lookup(ctx, project, relPath)
	if err != nil {
		fr.Err = err
		return fr
	}
	if ok && prevHash == hash {
		fr.Skipped = true
		return fr
	}

	// Parse.
	units, diag := ix.parseFile(ctx, relPath, content)
	if diag != nil {
		ix.logger.Debug("parse diagnostic", zap.String("file", relPath), zap.String("message", diag.Message))
	}

	// Delete-previous: guarantees idempotence on re-index.
	if err := ix.store.DeleteByFilter(ctx, collection, vectorstore.Filter{
		"project_name": project,
		"file_path":    relPath,
	}); err != nil {
		fr.Err = fmt.Errorf("deleting previous units for %s: %w", relPath, err)
		return fr
	}

	if len(units) == 0 {
		if err := ix.fileIndex.Record(ctx, FileIndexEntry{
			ProjectName: project, Path: relPath, Hash: hash, IndexedAt: time.Now().UTC(), UnitCount: 0,
		}); err != nil {
			fr.Err = err
			return fr
		}
		return fr
	}

	// Embed.
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Content
	}
	vectors, err := ix.engine.BatchGenerate(ctx, texts)
	if err != nil {
		fr.Err = fmt.Errorf("embedding units for %s: %w", relPath, err)
		return fr
	}

	// Upsert.
	points := make([]vectorstore.Point, len(units))
	now := time.Now().UTC()
	for i, u := range units {
		id := config.DeriveMemoryID(project, relPath, string(u.UnitType), u.Name, u.StartLine)
		points[i] = vectorstore.Point{
			ID:     id,
			Vector: vectors[i],
			Payload: map[string]any{
				"id":              id,
				"content":         u.Content,
				"category":        "code",
				"project_name":    project,
				"scope":           "project",
				"context_level":   "core",
				"importance":      0.5,
				"file_path":       relPath,
				"language":        u.Language,
				"unit_type":       string(u.UnitType),
				"name":            u.Name,
				"signature":       u.Signature,
				"start_line":      int64(u.StartLine),
				"end_line":        int64(u.EndLine),
				"created_at":      now.Format(time.RFC3339),
				"updated_at":      now.Format(time.RFC3339),
				"last_accessed":   now.Format(time.RFC3339),
				"lifecycle_state": "active",
				"access_count":    int64(0),
			},
		}
	}
	if err := ix.store.Upsert(ctx, collection, points); err != nil {
		fr.Err = fmt.Errorf("upserting units for %s: %w", relPath, err)
		return fr
	}

	// Record.
	if err := ix.fileIndex.Record(ctx, FileIndexEntry{
		ProjectName: project, Path: relPath, Hash: hash, IndexedAt: now, UnitCount: len(units),
	}); err != nil {
		fr.Err = err
		return fr
	}

	fr.UnitCount = len(units)
	return fr
}

func (ix *Indexer) parseFile(ctx context.Context, relPath string, content []byte) ([]parser.SemanticUnit, *parser.Diagnostic) {
	ext := strings.ToLower(filepath.Ext(relPath))
	if lang, ok := parser.IsConfigExtension(ext); ok {
		return parser.ParseConfig(lang, relPath, content)
	}
	return ix.parser.Parse(ctx, ext, relPath, content)
}

func fileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DeleteFileIndex removes all units under (project, path) and the
// corresponding file-index row.
func (ix *Indexer) DeleteFileIndex(ctx context.Context, project, collection, path string) error {
	if err := ix.store.DeleteByFilter(ctx, collection, vectorstore.Filter{
		"project_name": project,
		"file_path":    path,
	}); err != nil {
		return fmt.Errorf("deleting units for %s: %w", path, err)
	}
	return ix.fileIndex.Delete(ctx, project, path)
}

// ReindexProject deletes every memory and file-index row for project,
// then indexes root fresh. Used to recover from a corrupted file-index
// state or a schema bump.
func (ix *Indexer) ReindexProject(ctx context.Context, project, collection, root string, matcher *ignore.Matcher, reporter Reporter) (*Result, error) {
	if err := ix.store.DeleteProject(ctx, collection, project); err != nil {
		return nil, fmt.Errorf("deleting project %s: %w", project, err)
	}
	if err := ix.fileIndex.ClearProject(ctx, project); err != nil {
		return nil, err
	}
	return ix.Run(ctx, project, collection, root, matcher, reporter)
}
