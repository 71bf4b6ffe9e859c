package parser

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/sql"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig declares, per language, which tree-sitter node types map
// onto which SemanticUnit kind and the field holding a unit's name. Two
// languages rarely agree on grammar node names, so each extractor declares
// its own mapping rather than sharing one schema.
type LanguageConfig struct {
	// Name is the canonical capitalized language name returned on
	// SemanticUnit.Language ("Python", "Ruby").
	Name       string
	Extensions []string
	NameField  string

	FunctionTypes []string
	MethodTypes   []string
	ClassTypes    []string
	StructTypes   []string
	ProtocolTypes []string
	ModuleTypes   []string
}

func (c *LanguageConfig) unitTypeFor(nodeType string) (UnitType, bool) {
	switch {
	case contains(c.FunctionTypes, nodeType):
		return UnitFunction, true
	case contains(c.MethodTypes, nodeType):
		return UnitMethod, true
	case contains(c.ClassTypes, nodeType):
		return UnitClass, true
	case contains(c.StructTypes, nodeType):
		return UnitStruct, true
	case contains(c.ProtocolTypes, nodeType):
		return UnitProtocol, true
	case contains(c.ModuleTypes, nodeType):
		return UnitModule, true
	default:
		return "", false
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// LanguageRegistry maps file extensions to tree-sitter grammars and their
// SemanticUnit extraction rules.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry builds a registry covering the full set of
// supported programming languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name: "Go", Extensions: []string{".go"}, NameField: "name",
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		StructTypes:   []string{"type_declaration"},
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name: "Python", Extensions: []string{".py"}, NameField: "name",
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition"},
	}, python.GetLanguage())

	jsConfig := &LanguageConfig{
		Name: "JavaScript", Extensions: []string{".js", ".mjs", ".jsx"}, NameField: "name",
		FunctionTypes: []string{"function_declaration", "function"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
	}
	r.register(jsConfig, javascript.GetLanguage())

	tsConfig := &LanguageConfig{
		Name: "TypeScript", Extensions: []string{".ts"}, NameField: "name",
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ProtocolTypes: []string{"interface_declaration"},
	}
	r.register(tsConfig, typescript.GetLanguage())
	r.register(&LanguageConfig{
		Name: "TSX", Extensions: []string{".tsx"}, NameField: tsConfig.NameField,
		FunctionTypes: tsConfig.FunctionTypes, MethodTypes: tsConfig.MethodTypes,
		ClassTypes: tsConfig.ClassTypes, ProtocolTypes: tsConfig.ProtocolTypes,
	}, tsx.GetLanguage())

	r.register(&LanguageConfig{
		Name: "Java", Extensions: []string{".java"}, NameField: "name",
		FunctionTypes: []string{},
		MethodTypes:   []string{"method_declaration"},
		ClassTypes:    []string{"class_declaration"},
		ProtocolTypes: []string{"interface_declaration"},
	}, java.GetLanguage())

	r.register(&LanguageConfig{
		Name: "Rust", Extensions: []string{".rs"}, NameField: "name",
		FunctionTypes: []string{"function_item"},
		StructTypes:   []string{"struct_item"},
		ProtocolTypes: []string{"trait_item"},
		ModuleTypes:   []string{"mod_item"},
	}, rust.GetLanguage())

	r.register(&LanguageConfig{
		// Ruby extracts instance methods only, per documented parser limits:
		// singleton methods (def self.foo) are not distinguished.
		Name: "Ruby", Extensions: []string{".rb"}, NameField: "name",
		MethodTypes: []string{"method"},
		ClassTypes:  []string{"class"},
		ModuleTypes: []string{"module"},
	}, ruby.GetLanguage())

	r.register(&LanguageConfig{
		// Swift extracts protocol/struct/class, no free functions — a
		// documented parser limit, not a bug.
		Name: "Swift", Extensions: []string{".swift"}, NameField: "name",
		StructTypes:   []string{"class_declaration"}, // smacker's swift grammar folds struct/class together
		ProtocolTypes: []string{"protocol_declaration"},
	}, swift.GetLanguage())

	r.register(&LanguageConfig{
		Name: "Kotlin", Extensions: []string{".kt", ".kts"}, NameField: "name",
		FunctionTypes: []string{"function_declaration"},
		ClassTypes:    []string{"class_declaration"},
	}, kotlin.GetLanguage())

	r.register(&LanguageConfig{
		Name: "PHP", Extensions: []string{".php"}, NameField: "name",
		FunctionTypes: []string{"function_definition"},
		MethodTypes:   []string{"method_declaration"},
		ClassTypes:    []string{"class_declaration"},
		ProtocolTypes: []string{"interface_declaration"},
	}, php.GetLanguage())

	r.register(&LanguageConfig{
		Name: "C", Extensions: []string{".c", ".h"}, NameField: "declarator",
		FunctionTypes: []string{"function_definition"},
		StructTypes:   []string{"struct_specifier"},
	}, c.GetLanguage())

	r.register(&LanguageConfig{
		Name: "C++", Extensions: []string{".cpp", ".cc", ".cxx", ".hpp"}, NameField: "declarator",
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_specifier"},
		StructTypes:   []string{"struct_specifier"},
	}, cpp.GetLanguage())

	r.register(&LanguageConfig{
		Name: "C#", Extensions: []string{".cs"}, NameField: "name",
		MethodTypes:   []string{"method_declaration"},
		ClassTypes:    []string{"class_declaration"},
		StructTypes:   []string{"struct_declaration"},
		ProtocolTypes: []string{"interface_declaration"},
	}, csharp.GetLanguage())

	r.register(&LanguageConfig{
		Name: "SQL", Extensions: []string{".sql"}, NameField: "name",
		ModuleTypes: []string{"statement"},
	}, sql.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(cfg *LanguageConfig, lang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	r.tsLanguages[cfg.Name] = lang
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

// ByExtension looks up the language config for a file extension (with or
// without a leading dot).
func (r *LanguageRegistry) ByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

// TreeSitterLanguage returns the tree-sitter grammar for a canonical
// language name.
func (r *LanguageRegistry) TreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the package-wide language registry.
func DefaultRegistry() *LanguageRegistry { return defaultRegistry }
