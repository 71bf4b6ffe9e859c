// Package indexer implements the C7 incremental indexing pipeline: file
// discovery, ignore-rule filtering, change detection, semantic-unit
// extraction, delete-before-reinsert, cache-aware embedding, and bulk
// upsert into the vector store.
package indexer

import "time"

// Progress is delivered to an optional Reporter after each file
// completes; updates are not throttled.
// The reporter is a collaborator, not the source of truth — indexing
// correctness never depends on the reporter being wired up.
type Progress struct {
	FilesTotal    int
	FilesDone     int
	UnitsIndexed  int
}

// Reporter receives Progress updates during Run.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(Progress)

func (f ReporterFunc) Report(p Progress) { f(p) }

// FileResult records the outcome of indexing a single file.
type FileResult struct {
	Path      string
	UnitCount int
	Skipped   bool
	Err       error
}

// Result summarizes one Run or ReindexProject call.
type Result struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
	FilesFailed  int
	UnitsIndexed int
	Failed       []FileResult
	Duration     time.Duration
}

// FileIndexEntry is one row of the file-index table consulted during the
// Identify/Decide steps and updated during Record.
type FileIndexEntry struct {
	ProjectName string
	Path        string
	Hash        string
	IndexedAt   time.Time
	UnitCount   int
}
