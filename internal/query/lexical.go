package query

import (
	"context"

	"github.com/blevesearch/bleve/v2"

	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// lexicalDoc is the shape indexed into the ephemeral BM25 index.
type lexicalDoc struct {
	Content string `json:"content"`
}

// lexicalSearch runs a BM25 match query over candidates' content,
// scoped to the filter's pre-filtered candidate set: lexical scoring
// is approximate over that set, not over the whole collection. The
// index is ephemeral: built fresh per call and discarded, since the
// candidate set itself is already a per-query scroll result, not a
// standing corpus. Grounded on BleveBM25Index (NewMemOnly +
// batch index + NewMatchQuery on "content" + SearchInContext), without
// that file's custom code tokenizer — memories are free-form text as
// often as code, so the default analyzer is the better general fit.
func lexicalSearch(ctx context.Context, candidates []vectorstore.Point, query string, limit int) ([]scoredID, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	batch := idx.NewBatch()
	for _, c := range candidates {
		content, _ := c.Payload["content"].(string)
		if err := batch.Index(c.ID, lexicalDoc{Content: content}); err != nil {
			return nil, err
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, err
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]scoredID, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = scoredID{id: hit.ID, score: hit.Score}
	}
	return out, nil
}
