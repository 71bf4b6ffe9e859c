package query

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragmemory/internal/memory"
)

// explain builds the per-result ranked-reason list: exact-match
// strength, project/scope context, verification provenance,
// importance.
func explain(c candidate) []string {
	var reasons []string

	if c.hasDense {
		reasons = append(reasons, fmt.Sprintf("semantic match (%.2f)", c.denseNorm))
	}
	if c.hasLex {
		reasons = append(reasons, fmt.Sprintf("keyword match (%.2f)", c.lexNorm))
	}

	m := c.mem
	if m == nil {
		return reasons
	}

	if m.Scope == memory.ScopeProject && m.ProjectName != "" {
		reasons = append(reasons, fmt.Sprintf("in project %s", m.ProjectName))
	}
	if m.Provenance.Verified {
		age := time.Since(m.UpdatedAt)
		reasons = append(reasons, fmt.Sprintf("verified %s ago", roundDuration(age)))
	}
	if m.Importance >= 0.8 {
		reasons = append(reasons, fmt.Sprintf("high importance (%.1f)", m.Importance))
	}
	return reasons
}

// roundDuration renders a duration at day granularity once it exceeds
// a day, otherwise at hour granularity — explanations read better as
// "3 days" than "72h3m12s".
func roundDuration(d time.Duration) string {
	if d >= 24*time.Hour {
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours <= 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
