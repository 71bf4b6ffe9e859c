package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser extracts SemanticUnits from source files using tree-sitter
// grammars, dispatched by file extension through a LanguageRegistry.
type Parser struct {
	registry *LanguageRegistry
}

// New creates a Parser backed by the default language registry.
func New() *Parser {
	return &Parser{registry: DefaultRegistry()}
}

// NewWithRegistry creates a Parser backed by a custom registry.
func NewWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{registry: registry}
}

// ErrUnsupportedExtension's message is carried in the Diagnostic that
// Parse returns when no language is registered for a file's extension.
// Callers treat this as a skip, not a
// fatal error — an unparsable file must not abort indexing of the
// surrounding directory.
type ErrUnsupportedExtension struct{ Ext string }

func (e *ErrUnsupportedExtension) Error() string {
	return fmt.Sprintf("parser: no language registered for extension %q", e.Ext)
}

// Parse extracts SemanticUnits from source under the given file extension.
// On any parse failure it returns an empty slice and a Diagnostic rather
// than an error: unparsable files are a soft failure.
func (p *Parser) Parse(ctx context.Context, ext string, path string, source []byte) ([]SemanticUnit, *Diagnostic) {
	cfg, ok := p.registry.ByExtension(ext)
	if !ok {
		return nil, &Diagnostic{File: path, Message: (&ErrUnsupportedExtension{Ext: ext}).Error()}
	}

	tsLang, ok := p.registry.TreeSitterLanguage(cfg.Name)
	if !ok {
		return nil, &Diagnostic{File: path, Message: fmt.Sprintf("no tree-sitter grammar for %s", cfg.Name)}
	}

	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(tsLang)

	tree, err := sp.ParseCtx(ctx, nil, source)
	if err != nil || tree == nil {
		return nil, &Diagnostic{File: path, Message: fmt.Sprintf("parsing %s: %v", cfg.Name, err)}
	}
	defer tree.Close()

	var units []SemanticUnit
	walk(tree.RootNode(), func(n *sitter.Node) bool {
		if unit, ok := extractUnit(n, source, cfg); ok {
			units = append(units, unit)
		}
		return true
	})

	return units, nil
}

func walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), fn)
	}
}

func extractUnit(n *sitter.Node, source []byte, cfg *LanguageConfig) (SemanticUnit, bool) {
	unitType, ok := cfg.unitTypeFor(n.Type())
	if !ok {
		return SemanticUnit{}, false
	}

	name := extractName(n, source, cfg)
	if name == "" {
		return SemanticUnit{}, false
	}

	content := nodeContent(n, source)
	return SemanticUnit{
		UnitType:  unitType,
		Name:      name,
		Signature: firstLine(content),
		Content:   content,
		Language:  cfg.Name,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
	}, true
}

// extractName finds a node's identifier child. Go's method declarations
// name their receiver-bound identifier field_identifier rather than
// identifier, and type_declaration nests the name inside type_spec — both
// handled explicitly since the generic fallback below would miss them.
func extractName(n *sitter.Node, source []byte, cfg *LanguageConfig) string {
	if cfg.Name == "Go" {
		if name := extractGoName(n, source); name != "" {
			return name
		}
	}

	nameField := cfg.NameField
	if nameField == "" {
		nameField = "name"
	}
	if field := n.ChildByFieldName(nameField); field != nil {
		return nodeContent(field, source)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "identifier" || child.Type() == "type_identifier" || child.Type() == "field_identifier" {
			return nodeContent(child, source)
		}
	}
	return ""
}

func extractGoName(n *sitter.Node, source []byte) string {
	switch n.Type() {
	case "method_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			if child := n.Child(i); child.Type() == "field_identifier" {
				return nodeContent(child, source)
			}
		}
	case "type_declaration":
		for i := 0; i < int(n.ChildCount()); i++ {
			spec := n.Child(i)
			if spec.Type() != "type_spec" {
				continue
			}
			for j := 0; j < int(spec.ChildCount()); j++ {
				if grandchild := spec.Child(j); grandchild.Type() == "type_identifier" {
					return nodeContent(grandchild, source)
				}
			}
		}
	}
	return ""
}

func nodeContent(n *sitter.Node, source []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if start >= end || int(end) > len(source) {
		return ""
	}
	return string(source[start:end])
}

func firstLine(content string) string {
	if idx := strings.IndexByte(content, '\n'); idx != -1 {
		return strings.TrimSpace(content[:idx])
	}
	return strings.TrimSpace(content)
}
