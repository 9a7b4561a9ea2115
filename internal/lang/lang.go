package lang

// Language represents a supported kernel source language.
type Language string

const (
	CPP Language = "cpp"
)

// LanguageSpec defines the tree-sitter node types the converter relies on.
type LanguageSpec struct {
	Language          Language
	FileExtensions    []string
	FunctionNodeTypes []string
	// ScopeNodeTypes are containers whose children may hold function definitions.
	ScopeNodeTypes []string
	CallNodeTypes  []string
	// DirectiveNodeTypes lists preprocessor nodes that may carry a #pragma.
	DirectiveNodeTypes []string
	// ParameterNodeTypes lists parameter declaration node kinds inside a parameter_list.
	ParameterNodeTypes []string
	// DeclarationNodeTypes lists local declaration node kinds (channel declaration sites).
	DeclarationNodeTypes []string
	// ChannelTypeNames maps a channel template name to the direction it implies:
	// "" for undirected, "in" or "out" for directed channels.
	ChannelTypeNames map[string]string
	// PointerDeclaratorTypes lists declarator kinds that make a parameter a pointer.
	PointerDeclaratorTypes []string
}

// registry maps file extensions to language specs.
var registry = map[string]*LanguageSpec{}

// Register adds a LanguageSpec to the global registry.
func Register(spec *LanguageSpec) {
	for _, ext := range spec.FileExtensions {
		registry[ext] = spec
	}
}

// ForExtension returns the LanguageSpec for a file extension (e.g. ".cpp").
func ForExtension(ext string) *LanguageSpec {
	return registry[ext]
}

// ForLanguage returns the LanguageSpec for a language.
func ForLanguage(lang Language) *LanguageSpec {
	for _, spec := range registry {
		if spec.Language == lang {
			return spec
		}
	}
	return nil
}

// LanguageForExtension returns the Language for a file extension.
func LanguageForExtension(ext string) (Language, bool) {
	spec := registry[ext]
	if spec == nil {
		return "", false
	}
	return spec.Language, true
}
