package memory

import (
	"context"

	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// Mode selects which C8 retrieval stages run. Defined here (rather
// than in internal/query, which implements the algorithm) so that
// Service can depend on a Retriever interface without importing
// internal/query — internal/query already depends on internal/memory
// for the Memory type itself, and a reverse import would cycle.
type Mode string

const (
	ModeSemantic   Mode = "semantic"
	ModeHybrid     Mode = "hybrid"
	ModeFilterOnly Mode = "filter_only"
)

// Expander pluggably adds synonyms/variants to a query. The original
// query must always appear first in the returned slice; a nil Expander
// is treated as a no-op by internal/query.
type Expander interface {
	Expand(ctx context.Context, query string) []string
}

// IdentityExpander performs no expansion.
type IdentityExpander struct{}

func (IdentityExpander) Expand(_ context.Context, query string) []string {
	return []string{query}
}

// Result is one scored, explained retrieve hit.
type Result struct {
	Memory      *Memory
	Score       float64
	Explanation []string
}

// QualityBucket buckets an overall result set by its top score.
type QualityBucket string

const (
	QualityExcellent QualityBucket = "excellent"
	QualityGood      QualityBucket = "good"
	QualityModerate  QualityBucket = "moderate"
	QualityLow       QualityBucket = "low"
	QualityNoResults QualityBucket = "no_results"
)

// Quality reports the overall retrieve outcome alongside actionable
// suggestions.
type Quality struct {
	Bucket      QualityBucket
	Suggestions []string
}

// BucketForScore buckets the overall retrieve outcome by its top
// result's score.
func BucketForScore(topScore float64, hasResults bool) Quality {
	if !hasResults {
		return Quality{Bucket: QualityNoResults, Suggestions: []string{
			"broaden or rephrase the query", "check the project_name filter", "verify the project has been indexed",
		}}
	}
	switch {
	case topScore >= 0.85:
		return Quality{Bucket: QualityExcellent}
	case topScore >= 0.70:
		return Quality{Bucket: QualityGood, Suggestions: []string{"refine query for a tighter match"}}
	case topScore >= 0.55:
		return Quality{Bucket: QualityModerate, Suggestions: []string{"refine query", "check project name", "verify indexing"}}
	default:
		return Quality{Bucket: QualityLow, Suggestions: []string{"refine query", "check project name", "verify indexing", "try filter_only mode with explicit filters"}}
	}
}

// Retriever is the C8 Query Engine's capability surface as seen by the
// Memory Service: retrieve delegates to it rather than reimplementing
// expansion/fusion/ranking.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filters vectorstore.Filter, limit int, mode Mode, alpha float64, expander Expander) ([]Result, Quality, error)
}
