package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/tapaconv/internal/lang"
	"github.com/DeusData/tapaconv/internal/parser"
)

// DefaultStreamNamespace is the namespace of the target dialect's channel types.
const DefaultStreamNamespace = "tapa"

// Catalog is a parsed kernel source with its function records.
// Function records hold tree nodes, so the Catalog must stay open while
// tasks and channel operations are scanned.
type Catalog struct {
	Source    []byte
	Functions []*Function
	tree      *tree_sitter.Tree
}

// Extract fills in the function records from the parsed tree.
func (c *Catalog) Extract() error {
	fns, err := ExtractFunctions(c.Root(), c.Source)
	if err != nil {
		return err
	}
	c.Functions = fns
	return nil
}

// Close releases the syntax tree.
func (c *Catalog) Close() {
	if c.tree != nil {
		c.tree.Close()
		c.tree = nil
	}
}

// Root returns the translation unit node.
func (c *Catalog) Root() *tree_sitter.Node {
	return c.tree.RootNode()
}

// Lookup returns every function with the given name (overloads included)
// in source order.
func (c *Catalog) Lookup(name string) []*Function {
	var out []*Function
	for _, fn := range c.Functions {
		if fn.Name == name {
			out = append(out, fn)
		}
	}
	return out
}

// SetNamespace selects the namespace used when rendering channel parameters.
func (c *Catalog) SetNamespace(ns string) {
	for _, fn := range c.Functions {
		fn.ns = ns
	}
}

// ExtractFunctions returns the function definitions under root in source order.
// Only namespace-level definitions are cataloged; class members are not tasks.
func ExtractFunctions(root *tree_sitter.Node, source []byte) ([]*Function, error) {
	spec := lang.ForLanguage(lang.CPP)
	if spec == nil {
		return nil, fmt.Errorf("no language spec for %s", lang.CPP)
	}
	scopes := toSet(spec.ScopeNodeTypes)
	fnTypes := toSet(spec.FunctionNodeTypes)

	var fns []*Function
	var firstErr error
	parser.Walk(root, func(node *tree_sitter.Node) bool {
		if firstErr != nil {
			return false
		}
		if fnTypes[node.Kind()] {
			fn, err := extractFunction(node, source, spec)
			if err != nil {
				firstErr = err
				return false
			}
			if fn != nil {
				fns = append(fns, fn)
			}
			return false
		}
		return scopes[node.Kind()] || isConditionalBlock(node.Kind())
	})
	if firstErr != nil {
		return nil, firstErr
	}
	slog.Debug("catalog.functions", "count", len(fns))
	return fns, nil
}

// isConditionalBlock reports preprocessor blocks that commonly wrap kernels
// (#ifndef __SYNTHESIS__ and friends).
func isConditionalBlock(kind string) bool {
	switch kind {
	case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "preproc_elifdef":
		return true
	}
	return false
}

func extractFunction(node *tree_sitter.Node, source []byte, spec *lang.LanguageSpec) (*Function, error) {
	decl := functionDeclarator(node)
	if decl == nil {
		return nil, nil
	}
	nameNode := decl.ChildByFieldName("declarator")
	if nameNode == nil {
		return nil, nil
	}
	switch nameNode.Kind() {
	case "identifier", "qualified_identifier", "field_identifier":
	default:
		return nil, nil // operators, destructors
	}
	paramsNode := decl.ChildByFieldName("parameters")
	body := node.ChildByFieldName("body")
	if paramsNode == nil || body == nil {
		return nil, nil
	}

	fn := &Function{
		Name:        parser.NodeText(nameNode, source),
		Start:       node.StartByte(),
		ParamsStart: paramsNode.StartByte(),
		ParamsEnd:   paramsNode.EndByte(),
		Line:        parser.Line(node),
		source:      source,
		def:         node,
		body:        body,
	}
	if typeNode := node.ChildByFieldName("type"); typeNode != nil {
		fn.ReturnType = parser.NodeText(typeNode, source)
	}

	if err := scanBody(node, body, fn); err != nil {
		return nil, err
	}
	params, err := extractParams(fn, paramsNode, source, spec)
	if err != nil {
		return nil, err
	}
	fn.Params = params
	return fn, nil
}

// functionDeclarator finds the function_declarator under a definition,
// looking through pointer and reference declarators of the return type.
func functionDeclarator(node *tree_sitter.Node) *tree_sitter.Node {
	d := node.ChildByFieldName("declarator")
	for d != nil {
		if d.Kind() == "function_declarator" {
			return d
		}
		next := d.ChildByFieldName("declarator")
		if next == nil && d.NamedChildCount() > 0 {
			next = d.NamedChild(d.NamedChildCount() - 1)
		}
		d = next
	}
	return nil
}

// scanBody balances braces over the function's lexical tokens, starting at
// the body's opening brace. Tokens inserted by error recovery are ignored, so
// a body whose closing brace is only implied fails here.
func scanBody(node, body *tree_sitter.Node, fn *Function) error {
	depth := 0
	opened := false
	for _, tok := range parser.Tokens(node) {
		if tok.Missing || tok.Start < body.StartByte() {
			continue
		}
		switch tok.Kind {
		case "{":
			if !opened {
				opened = true
				fn.BodyStart = tok.Start
			}
			depth++
		case "}":
			if !opened {
				continue
			}
			depth--
			if depth == 0 {
				fn.End = tok.End
				return nil
			}
		}
	}
	return &UnbalancedBodyError{Function: fn.Name, Line: fn.Line}
}

func extractParams(fn *Function, paramsNode *tree_sitter.Node, source []byte, spec *lang.LanguageSpec) ([]*Parameter, error) {
	paramKinds := toSet(spec.ParameterNodeTypes)

	var raws []*tree_sitter.Node
	for _, child := range parser.NamedChildren(paramsNode) {
		switch {
		case paramKinds[child.Kind()]:
			raws = append(raws, child)
		case child.Kind() == "comment":
		default:
			return nil, &MalformedParameterError{
				Function: fn.Name,
				Raw:      parser.NodeText(child, source),
				Reason:   "unsupported parameter form " + child.Kind(),
			}
		}
	}
	if len(raws) == 1 && strings.TrimSpace(parser.NodeText(raws[0], source)) == "void" {
		return nil, nil
	}

	params := make([]*Parameter, 0, len(raws))
	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		p, err := parseParameter(fn.Name, raw, source, spec)
		if err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, &MalformedParameterError{Function: fn.Name, Raw: p.Raw, Reason: "duplicate parameter name"}
		}
		seen[p.Name] = true
		params = append(params, p)
	}
	return params, nil
}

// parseParameter takes the trailing identifier of a raw parameter as its name
// and everything before it as the type. Trailing array brackets are peeled
// first; their lengths are kept innermost last.
func parseParameter(fnName string, node *tree_sitter.Node, source []byte, spec *lang.LanguageSpec) (*Parameter, error) {
	raw := strings.TrimSpace(parser.NodeText(node, source))
	malformed := func(reason string) error {
		return &MalformedParameterError{Function: fnName, Raw: raw, Reason: reason}
	}

	var toks []parser.Token
	for _, tok := range parser.Tokens(node) {
		if tok.Kind == "comment" || tok.Missing {
			continue
		}
		if tok.Kind == "=" && node.Kind() == "optional_parameter_declaration" {
			break
		}
		toks = append(toks, tok)
	}

	var dims []string
	for len(toks) > 0 && toks[len(toks)-1].Kind == "]" {
		last := len(toks) - 1
		depth, i := 0, last
		for ; i >= 0; i-- {
			if toks[i].Kind == "]" {
				depth++
			} else if toks[i].Kind == "[" {
				depth--
				if depth == 0 {
					break
				}
			}
		}
		if i < 0 {
			return nil, malformed("unbalanced array brackets")
		}
		dims = append([]string{squeeze(string(source[toks[i].End:toks[last].Start]))}, dims...)
		toks = toks[:i]
	}

	if len(toks) == 0 || toks[len(toks)-1].Kind != "identifier" {
		return nil, malformed("no trailing identifier")
	}
	nameTok := toks[len(toks)-1]
	name := string(source[nameTok.Start:nameTok.End])
	prefix := strings.TrimSpace(string(source[node.StartByte():nameTok.Start]))
	if prefix == "" {
		return nil, malformed("missing type")
	}

	tag, err := classifyType(node, prefix, dims, source, spec)
	if err != nil {
		return nil, &UnsupportedChannelError{Function: fnName, Name: name, Line: parser.Line(node), Reason: err.Error()}
	}
	return &Parameter{Name: name, Type: tag, Raw: raw}, nil
}

// classifyType tags a parameter type. A channel template declared as an
// array is a channel array; any other array or pointer declarator is a
// Pointer. The returned error names a channel form with no equivalent.
func classifyType(node *tree_sitter.Node, prefix string, dims []string, source []byte, spec *lang.LanguageSpec) (TypeTag, error) {
	pointer := false
	if declarator := node.ChildByFieldName("declarator"); declarator != nil {
		for _, k := range spec.PointerDeclaratorTypes {
			if declarator.Kind() == k && k != "array_declarator" {
				pointer = true
			}
		}
	}

	if tmpl, elem, ok := channelTemplate(node.ChildByFieldName("type"), source, spec); ok {
		switch {
		case pointer:
			return TypeTag{}, fmt.Errorf("pointer to a channel is not supported")
		case len(dims) > 1:
			return TypeTag{}, fmt.Errorf("multi-dimensional channel arrays are not supported")
		case len(dims) == 1 && dims[0] == "":
			return TypeTag{}, fmt.Errorf("channel array needs an explicit length")
		}
		tag := TypeTag{Kind: Channel, Element: elem, Dir: templateDirection(spec.ChannelTypeNames[tmpl])}
		if len(dims) == 1 {
			tag.Size = dims[0]
		}
		return tag, nil
	}

	if !pointer && len(dims) == 0 {
		return TypeTag{Kind: Scalar}, nil
	}
	pointee := prefix
	if len(dims) == 0 {
		pointee = strings.TrimSuffix(pointee, "*")
	}
	return TypeTag{Kind: Pointer, Pointee: squeeze(pointee)}, nil
}

// channelTemplate reports whether typeNode names a channel template and
// returns the template name and its first argument.
func channelTemplate(typeNode *tree_sitter.Node, source []byte, spec *lang.LanguageSpec) (name, element string, ok bool) {
	n := typeNode
	for n != nil && n.Kind() == "qualified_identifier" {
		n = n.ChildByFieldName("name")
	}
	if n == nil || n.Kind() != "template_type" {
		return "", "", false
	}
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return "", "", false
	}
	name = parser.NodeText(nameNode, source)
	if _, known := spec.ChannelTypeNames[name]; !known {
		return "", "", false
	}
	for _, arg := range parser.NamedChildren(n.ChildByFieldName("arguments")) {
		if arg.Kind() == "comment" {
			continue
		}
		return name, squeeze(parser.NodeText(arg, source)), true
	}
	return "", "", false
}

func templateDirection(tag string) Direction {
	switch tag {
	case "in":
		return Input
	case "out":
		return Output
	}
	return Unknown
}

// declaratorName returns the identifier a declarator introduces.
func declaratorName(d *tree_sitter.Node, source []byte) string {
	for d != nil {
		switch d.Kind() {
		case "identifier", "field_identifier":
			return parser.NodeText(d, source)
		case "reference_declarator", "parenthesized_declarator":
			if d.NamedChildCount() == 0 {
				return ""
			}
			d = d.NamedChild(d.NamedChildCount() - 1)
		default:
			d = d.ChildByFieldName("declarator")
		}
	}
	return ""
}

func squeeze(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
