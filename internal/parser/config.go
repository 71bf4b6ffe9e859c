package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// configExtensions lists the non-programming file extensions the parser
// treats as structural config rather than tree-sitter source. None of
// these grammars are bundled with smacker/go-tree-sitter in a form this
// module imports elsewhere, so config files get a lighter-weight
// extraction: one module-level SemanticUnit per top-level key rather than
// a full AST walk. That is sufficient for retrieval (the embedded content
// is the key's subtree, rendered back to text) even though it doesn't
// track byte-exact source spans the way the tree-sitter path does.
var configExtensions = map[string]string{
	".json": "JSON",
	".yaml": "YAML",
	".yml":  "YAML",
	".toml": "TOML",
}

// IsConfigExtension reports whether ext is handled by ParseConfig rather
// than the tree-sitter Parser.
func IsConfigExtension(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	lang, ok := configExtensions[ext]
	return lang, ok
}

// ParseConfig extracts one SemanticUnit per top-level key for JSON/YAML
// config files. TOML is scanned for `[section]`/`[[section]]` headers
// rather than fully parsed — this module carries no TOML decoder (see
// DESIGN.md for why `BurntSushi/toml` was dropped), and section headers
// are sufficient to produce retrievable, named units.
func ParseConfig(language, path string, source []byte) ([]SemanticUnit, *Diagnostic) {
	switch language {
	case "JSON":
		return parseJSONUnits(path, source)
	case "YAML":
		return parseYAMLUnits(path, source)
	case "TOML":
		return parseTOMLUnits(path, source), nil
	default:
		return nil, &Diagnostic{File: path, Message: fmt.Sprintf("unsupported config language %q", language)}
	}
}

func parseJSONUnits(path string, source []byte) ([]SemanticUnit, *Diagnostic) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, &Diagnostic{File: path, Message: fmt.Sprintf("parsing JSON: %v", err)}
	}

	units := make([]SemanticUnit, 0, len(doc))
	for key, raw := range doc {
		units = append(units, SemanticUnit{
			UnitType: UnitModule,
			Name:     key,
			Content:  string(raw),
			Language: "JSON",
		})
	}
	return units, nil
}

func parseYAMLUnits(path string, source []byte) ([]SemanticUnit, *Diagnostic) {
	var doc yaml.Node
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, &Diagnostic{File: path, Message: fmt.Sprintf("parsing YAML: %v", err)}
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}

	var units []SemanticUnit
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valNode := root.Content[i], root.Content[i+1]
		rendered, err := yaml.Marshal(valNode)
		if err != nil {
			continue
		}
		units = append(units, SemanticUnit{
			UnitType:  UnitModule,
			Name:      keyNode.Value,
			Content:   string(rendered),
			Language:  "YAML",
			StartLine: keyNode.Line,
		})
	}
	return units, nil
}

func parseTOMLUnits(path string, source []byte) []SemanticUnit {
	var units []SemanticUnit
	var currentName string
	var currentLines []string
	startLine := 0

	flush := func(endLine int) {
		if currentName == "" {
			return
		}
		units = append(units, SemanticUnit{
			UnitType:  UnitModule,
			Name:      currentName,
			Content:   strings.Join(currentLines, "\n"),
			Language:  "TOML",
			StartLine: startLine,
			EndLine:   endLine,
		})
	}

	for i, line := range strings.Split(string(source), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			flush(i)
			currentName = strings.Trim(trimmed, "[]")
			currentLines = []string{line}
			startLine = i + 1
			continue
		}
		if currentName != "" {
			currentLines = append(currentLines, line)
		}
	}
	flush(strings.Count(string(source), "\n") + 1)

	return units
}
