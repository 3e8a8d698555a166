package ingest

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageSpec describes how to cut one language at declaration
// boundaries.
type languageSpec struct {
	name    string
	grammar *sitter.Language

	// declTypes are the root-level node types that become chunks.
	declTypes map[string]bool

	// nameTypes are node types that carry a declaration's name, searched
	// breadth-first inside the declaration.
	nameTypes []string

	// headerTypes are the root-level nodes kept as shared context for every
	// chunk (package clause, imports).
	headerTypes map[string]bool

	// lineComment introduces doc comments attached to a declaration.
	lineComment string
}

// languages maps extension to spec. Built once; read-only afterwards.
var languages = buildLanguages()

func buildLanguages() map[string]*languageSpec {
	goSpec := &languageSpec{
		name:    "go",
		grammar: golang.GetLanguage(),
		declTypes: map[string]bool{
			"function_declaration": true,
			"method_declaration":   true,
			"type_declaration":     true,
			"const_declaration":    true,
			"var_declaration":      true,
		},
		nameTypes: []string{"identifier", "field_identifier", "type_identifier"},
		headerTypes: map[string]bool{
			"package_clause":     true,
			"import_declaration": true,
		},
		lineComment: "//",
	}

	pySpec := &languageSpec{
		name:    "python",
		grammar: python.GetLanguage(),
		declTypes: map[string]bool{
			"function_definition": true,
			"class_definition":    true,
		},
		nameTypes: []string{"identifier"},
		headerTypes: map[string]bool{
			"import_statement":      true,
			"import_from_statement": true,
		},
		lineComment: "#",
	}

	jsSpec := &languageSpec{
		name:    "javascript",
		grammar: javascript.GetLanguage(),
		declTypes: map[string]bool{
			"function_declaration": true,
			"class_declaration":    true,
			"lexical_declaration":  true,
			"variable_declaration": true,
			"export_statement":     true,
		},
		nameTypes:   []string{"identifier"},
		headerTypes: map[string]bool{"import_statement": true},
		lineComment: "//",
	}

	tsSpec := &languageSpec{
		name:    "typescript",
		grammar: typescript.GetLanguage(),
		declTypes: map[string]bool{
			"function_declaration":   true,
			"class_declaration":      true,
			"interface_declaration":  true,
			"type_alias_declaration": true,
			"enum_declaration":       true,
			"lexical_declaration":    true,
			"variable_declaration":   true,
			"export_statement":       true,
		},
		nameTypes:   []string{"identifier", "type_identifier"},
		headerTypes: map[string]bool{"import_statement": true},
		lineComment: "//",
	}

	tsxSpec := &languageSpec{
		name:        "tsx",
		grammar:     tsx.GetLanguage(),
		declTypes:   tsSpec.declTypes,
		nameTypes:   tsSpec.nameTypes,
		headerTypes: tsSpec.headerTypes,
		lineComment: "//",
	}

	jsxSpec := &languageSpec{
		name:        "jsx",
		grammar:     javascript.GetLanguage(),
		declTypes:   jsSpec.declTypes,
		nameTypes:   jsSpec.nameTypes,
		headerTypes: jsSpec.headerTypes,
		lineComment: "//",
	}

	return map[string]*languageSpec{
		".go":  goSpec,
		".py":  pySpec,
		".js":  jsSpec,
		".mjs": jsSpec,
		".jsx": jsxSpec,
		".ts":  tsSpec,
		".tsx": tsxSpec,
	}
}
