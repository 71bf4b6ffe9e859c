package ignore

import (
	"path/filepath"

	"github.com/gobwas/glob"
)

// builtinExcludes are always excluded regardless of project ignore files:
// VCS metadata, common build output, and vendored dependency directories.
var builtinExcludes = []string{
	"**/.git/**",
	"**/.hg/**",
	"**/.svn/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/.venv/**",
	"**/__pycache__/**",
	"**/target/**", // Rust/Java build output
}

// Matcher compiles a set of gitignore-derived glob patterns for fast
// per-path matching during the indexer's discover step.
type Matcher struct {
	globs []glob.Glob
}

// NewMatcher compiles patterns (as produced by Parser.ParseProject) plus
// the built-in excludes into a Matcher. Invalid patterns are skipped
// rather than failing the whole match set — one malformed ignore line
// should not disable every other exclude rule.
func NewMatcher(patterns []string) *Matcher {
	all := make([]string, 0, len(patterns)+len(builtinExcludes))
	all = append(all, builtinExcludes...)
	all = append(all, patterns...)

	m := &Matcher{globs: make([]glob.Glob, 0, len(all))}
	for _, p := range all {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		m.globs = append(m.globs, g)
	}
	return m
}

// Match reports whether relPath (slash-separated, relative to the project
// root) matches any compiled exclude pattern.
func (m *Matcher) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, g := range m.globs {
		// A leading "**/" still needs a "/" before the next segment, so
		// the path is also tried with a leading slash to match at the root.
		if g.Match(relPath) || g.Match("/"+relPath) {
			return true
		}
	}
	return false
}
