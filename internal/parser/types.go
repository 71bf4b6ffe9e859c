// Package parser dispatches source files to per-language tree-sitter
// extractors and produces SemanticUnits for the indexer.
package parser

// UnitType enumerates the kinds of SemanticUnit a language extractor may
// produce. Not every language produces every kind (documented parser
// limits, not bugs: Swift has no free functions, Ruby distinguishes only
// instance methods).
type UnitType string

const (
	UnitFunction UnitType = "function"
	UnitClass    UnitType = "class"
	UnitModule   UnitType = "module"
	UnitProtocol UnitType = "protocol"
	UnitStruct   UnitType = "struct"
	UnitMethod   UnitType = "method"
)

// SemanticUnit is a transient extraction result; it becomes a code-category
// Memory once embedded and upserted by the indexer. Units have no identity
// of their own — the containing Memory's id is derived deterministically
// from (project_name, file_path, unit_type, name, start_line).
type SemanticUnit struct {
	UnitType  UnitType
	Name      string
	Signature string
	Content   string
	Language  string // canonical capitalized form, e.g. "Python"

	StartLine int // 1-based, inclusive
	EndLine   int
	StartByte uint32
	EndByte   uint32
}

// Diagnostic describes a soft parse failure. Indexing continues past it.
type Diagnostic struct {
	File    string
	Message string
}
