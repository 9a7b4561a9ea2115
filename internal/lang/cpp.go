package lang

func init() {
	Register(&LanguageSpec{
		Language:       CPP,
		FileExtensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx", ".h"},
		FunctionNodeTypes: []string{
			"function_definition",
		},
		ScopeNodeTypes: []string{
			"translation_unit",
			"namespace_definition",
			"declaration_list",
			"linkage_specification",
			"template_declaration",
		},
		CallNodeTypes: []string{"call_expression"},
		DirectiveNodeTypes: []string{
			"preproc_call",
		},
		ParameterNodeTypes: []string{
			"parameter_declaration",
			"optional_parameter_declaration",
		},
		DeclarationNodeTypes: []string{
			"declaration",
		},
		ChannelTypeNames: map[string]string{
			"stream":  "",
			"istream": "in",
			"ostream": "out",
		},
		PointerDeclaratorTypes: []string{
			"pointer_declarator",
			"array_declarator",
			"abstract_pointer_declarator",
		},
	})
}
