package memory

import (
	"context"
	"math"

	"github.com/fyrsmithlabs/ragmemory/internal/ragerr"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

// duplicateScanPageSize bounds each page fetched while scanning a
// project for near-duplicates.
const duplicateScanPageSize = 200

// FindDuplicates groups a project's memories into near-duplicate
// clusters using a cosine similarity threshold. Clustering is
// single-link: a memory joins the first cluster containing any member
// it is similar enough to. This is cheap and produces useful
// near-duplicate groups, but does not promise a globally optimal
// partition. Only clusters with 2+ members are returned.
func (s *Service) FindDuplicates(ctx context.Context, project string, threshold float64) ([][]string, error) {
	if threshold <= 0 {
		threshold = 0.95
	}

	var ids []string
	var vectors [][]float32
	cursor := ""
	for {
		page, err := s.store.Scroll(ctx, s.cfg.Collection, vectorstore.ProjectFilter(project), cursor, duplicateScanPageSize)
		if err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			if len(p.Vector) == 0 {
				continue
			}
			ids = append(ids, p.ID)
			vectors = append(vectors, p.Vector)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	vectorByID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		vectorByID[id] = vectors[i]
	}

	var clusters [][]string
	for _, id := range ids {
		placed := -1
		for c, members := range clusters {
			for _, memberID := range members {
				if cosineSimilarity(vectorByID[id], vectorByID[memberID]) >= threshold {
					placed = c
					break
				}
			}
			if placed >= 0 {
				break
			}
		}
		if placed >= 0 {
			clusters[placed] = append(clusters[placed], id)
		} else {
			clusters = append(clusters, []string{id})
		}
	}

	out := make([][]string, 0, len(clusters))
	for _, c := range clusters {
		if len(c) >= 2 {
			out = append(out, c)
		}
	}
	return out, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 for mismatched lengths or a zero vector rather
// than erroring, since a degenerate embedding should never abort a
// duplicate scan.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Merge concatenates the content and unions the tags/metadata of every
// memory in ids into keepID, deletes the losers, and repoints any
// relationship referencing a loser onto keepID. keepID must itself be
// one of ids.
func (s *Service) Merge(ctx context.Context, ids []string, keepID string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if len(ids) < 2 {
		return ragerr.New(ragerr.KindInvalidInput, "merge requires at least two memory ids")
	}
	keepFound := false
	for _, id := range ids {
		if id == keepID {
			keepFound = true
			break
		}
	}
	if !keepFound {
		return ragerr.New(ragerr.KindInvalidInput, "keep_id must be one of the merged ids").WithID(keepID)
	}

	keep, err := s.GetByID(ctx, keepID)
	if err != nil {
		return err
	}

	tagSet := make(map[string]bool)
	for _, t := range keep.Tags {
		tagSet[t] = true
	}

	var losers []string
	for _, id := range ids {
		if id == keepID {
			continue
		}
		loser, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		keep.Content = keep.Content + "\n\n---\n\n" + loser.Content
		for _, t := range loser.Tags {
			tagSet[t] = true
		}
		for k, v := range loser.Metadata {
			if _, exists := keep.Metadata[k]; !exists {
				keep.Metadata[k] = v
			}
		}
		if loser.Importance > keep.Importance {
			keep.Importance = loser.Importance
		}
		losers = append(losers, id)
	}

	keep.Tags = keep.Tags[:0]
	for t := range tagSet {
		keep.Tags = append(keep.Tags, t)
	}

	vec, err := s.embedder.Generate(ctx, keep.Content)
	if err != nil {
		return ragerr.Wrap(ragerr.KindEmbeddingFailed, err, "re-embedding merged content")
	}
	if err := s.store.Upsert(ctx, s.cfg.Collection, []vectorstore.Point{keep.ToPoint(vec)}); err != nil {
		return err
	}

	for _, loserID := range losers {
		if s.rels != nil {
			if err := s.rels.Repoint(ctx, loserID, keepID); err != nil {
				return err
			}
		}
		if err := s.store.DeleteByFilter(ctx, s.cfg.Collection, vectorstore.Filter{"id": loserID}); err != nil {
			return err
		}
	}
	return nil
}
