package query

import (
	"sort"

	"github.com/fyrsmithlabs/ragmemory/internal/memory"
)

// scoredID is one side's raw score for a candidate id, before
// normalization.
type scoredID struct {
	id    string
	score float64
}

// normalize min-max normalizes scores within a single list to [0, 1].
// A single-element (or empty) list normalizes to 1.0 for its member(s),
// since min == max leaves no gradient to express.
func normalize(scores []scoredID) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0].score, scores[0].score
	for _, s := range scores {
		if s.score < min {
			min = s.score
		}
		if s.score > max {
			max = s.score
		}
	}
	spread := max - min
	for _, s := range scores {
		if spread == 0 {
			out[s.id] = 1.0
			continue
		}
		out[s.id] = (s.score - min) / spread
	}
	return out
}

// candidate is a fusion-stage working value: one memory plus whichever
// of the dense/lexical normalized scores it appeared in.
type candidate struct {
	mem       *memory.Memory
	fused     float64
	hasDense  bool
	hasLex    bool
	denseNorm float64
	lexNorm   float64
}

// fuse combines dense and lexical result lists: an alpha-weighted sum
// of per-list min-max normalized scores, over the union of ids
// appearing in either list.
func fuse(dense []scoredID, denseMems map[string]*memory.Memory, lex []scoredID, lexMems map[string]*memory.Memory, alpha float64) []candidate {
	denseNorm := normalize(dense)
	lexNorm := normalize(lex)

	byID := make(map[string]*candidate)
	for id, norm := range denseNorm {
		byID[id] = &candidate{mem: denseMems[id], hasDense: true, denseNorm: norm}
	}
	for id, norm := range lexNorm {
		c, ok := byID[id]
		if !ok {
			c = &candidate{mem: lexMems[id]}
			byID[id] = c
		}
		c.hasLex = true
		c.lexNorm = norm
	}

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		c.fused = alpha*c.denseNorm + (1-alpha)*c.lexNorm
		out = append(out, *c)
	}
	return out
}

// rankAndTrim sorts candidates by fused score descending with a
// deterministic tie-break (importance desc, last_accessed desc, id
// asc), then takes the first limit.
func rankAndTrim(candidates []candidate, limit int) []candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.fused != b.fused {
			return a.fused > b.fused
		}
		if a.mem.Importance != b.mem.Importance {
			return a.mem.Importance > b.mem.Importance
		}
		if !a.mem.LastAccessed.Equal(b.mem.LastAccessed) {
			return a.mem.LastAccessed.After(b.mem.LastAccessed)
		}
		return a.mem.ID < b.mem.ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
