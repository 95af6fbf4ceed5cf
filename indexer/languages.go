package indexer

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammar pairs a tree-sitter language with the node types that start a definition.
type grammar struct {
	name        string
	language    func() *sitter.Language
	definitions map[string]bool
}

func defs(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

var (
	jsDefinitions = []string{
		"function_declaration", "generator_function_declaration", "class_declaration",
		"method_definition", "lexical_declaration", "variable_declaration", "export_statement",
	}
	tsDefinitions = append(append([]string{}, jsDefinitions...),
		"interface_declaration", "type_alias_declaration", "enum_declaration",
		"abstract_class_declaration", "internal_module",
	)
	cDefinitions = []string{
		"function_definition", "struct_specifier", "enum_specifier", "union_specifier", "type_definition",
	}
	cppDefinitions = append(append([]string{}, cDefinitions...),
		"class_specifier", "namespace_definition", "template_declaration",
	)
)

var grammars = map[string]*grammar{
	".go": {name: "go", language: golang.GetLanguage, definitions: defs(
		"function_declaration", "method_declaration", "type_declaration",
	)},
	".js":  {name: "javascript", language: javascript.GetLanguage, definitions: defs(jsDefinitions...)},
	".jsx": {name: "javascript", language: javascript.GetLanguage, definitions: defs(jsDefinitions...)},
	".mjs": {name: "javascript", language: javascript.GetLanguage, definitions: defs(jsDefinitions...)},
	".ts":  {name: "typescript", language: typescript.GetLanguage, definitions: defs(tsDefinitions...)},
	".tsx": {name: "tsx", language: tsx.GetLanguage, definitions: defs(tsDefinitions...)},
	".py": {name: "python", language: python.GetLanguage, definitions: defs(
		"function_definition", "class_definition", "decorated_definition",
	)},
	".rs": {name: "rust", language: rust.GetLanguage, definitions: defs(
		"function_item", "impl_item", "struct_item", "enum_item", "trait_item", "mod_item", "macro_definition",
	)},
	".java": {name: "java", language: java.GetLanguage, definitions: defs(
		"class_declaration", "interface_declaration", "enum_declaration", "record_declaration",
		"method_declaration", "constructor_declaration",
	)},
	".c":   {name: "c", language: c.GetLanguage, definitions: defs(cDefinitions...)},
	".h":   {name: "c", language: c.GetLanguage, definitions: defs(cDefinitions...)},
	".cpp": {name: "cpp", language: cpp.GetLanguage, definitions: defs(cppDefinitions...)},
	".cc":  {name: "cpp", language: cpp.GetLanguage, definitions: defs(cppDefinitions...)},
	".hpp": {name: "cpp", language: cpp.GetLanguage, definitions: defs(cppDefinitions...)},
	".rb": {name: "ruby", language: ruby.GetLanguage, definitions: defs(
		"method", "singleton_method", "class", "module",
	)},
	".php": {name: "php", language: php.GetLanguage, definitions: defs(
		"function_definition", "class_declaration", "method_declaration", "interface_declaration", "trait_declaration",
	)},
	".cs": {name: "csharp", language: csharp.GetLanguage, definitions: defs(
		"class_declaration", "interface_declaration", "struct_declaration", "enum_declaration", "record_declaration",
		"method_declaration", "constructor_declaration", "namespace_declaration",
	)},
}

// fallbackOnly extensions are indexed with line windows since no grammar is linked for them.
var fallbackOnly = map[string]bool{
	".kt":     true,
	".swift":  true,
	".scala":  true,
	".lua":    true,
	".sh":     true,
	".vue":    true,
	".svelte": true,
}

// IsSupported reports whether a file extension is indexed at all.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := grammars[ext]
	return ok || fallbackOnly[ext]
}

// SupportedExtensions lists every indexed extension.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(grammars)+len(fallbackOnly))
	for ext := range grammars {
		exts = append(exts, ext)
	}
	for ext := range fallbackOnly {
		exts = append(exts, ext)
	}
	return exts
}
