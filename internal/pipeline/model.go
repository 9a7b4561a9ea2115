package pipeline

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Direction is the resolved direction of a channel parameter.
// Unknown is the bottom of the lattice; Input and Output are incomparable,
// and Both marks a conflict that is reported, never stored.
type Direction int

const (
	Unknown Direction = iota
	Input
	Output
	Both
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	case Both:
		return "both"
	}
	return "unknown"
}

// Resolved reports whether d is Input or Output.
func (d Direction) Resolved() bool {
	return d == Input || d == Output
}

// Join returns the least upper bound of a and b.
func Join(a, b Direction) Direction {
	switch {
	case a == b:
		return a
	case a == Unknown:
		return b
	case b == Unknown:
		return a
	}
	return Both
}

// TypeKind classifies a parameter's declared type.
type TypeKind int

const (
	Scalar TypeKind = iota
	Pointer
	Channel
)

func (k TypeKind) String() string {
	switch k {
	case Pointer:
		return "pointer"
	case Channel:
		return "channel"
	}
	return "scalar"
}

// TypeTag is the structured type of a parameter, assigned once while parsing.
type TypeTag struct {
	Kind    TypeKind
	Pointee string    // Pointer: pointed-to type with its qualifiers
	Element string    // Channel: element type
	Size    string    // Channel: array length as written, empty for a single channel
	Dir     Direction // Channel: current direction
}

// Parameter is one declared parameter of a Function.
type Parameter struct {
	Name string
	Type TypeTag
	// Raw is the declaration text as written in the source.
	Raw string
}

// Render serializes the parameter. Channel parameters are always rendered in
// the directed form of the target dialect; everything else keeps its source text.
func (p *Parameter) Render(ns string) string {
	if p.Type.Kind != Channel {
		return p.Raw
	}
	return fmt.Sprintf("%s& %s", ChannelTypeText(ns, p.Type.Dir, p.Type.Element, p.Type.Size), p.Name)
}

// Text renders the parameter with the default stream namespace.
func (p *Parameter) Text() string {
	return p.Render(DefaultStreamNamespace)
}

// ChannelTypeText returns the channel type spelling for a direction. A
// non-empty size selects the array form.
func ChannelTypeText(ns string, dir Direction, element, size string) string {
	name := "stream"
	switch dir {
	case Input:
		name = "istream"
	case Output:
		name = "ostream"
	}
	if size != "" {
		return fmt.Sprintf("%s::%ss<%s, %s>", ns, name, element, size)
	}
	return fmt.Sprintf("%s::%s<%s>", ns, name, element)
}

// ChannelDeclText returns the local declaration of ch in namespace ns.
func ChannelDeclText(ns string, ch *ChannelDecl) string {
	if ch.Size != "" {
		return fmt.Sprintf("%s::streams<%s, %s, %d> %s(%q);", ns, ch.Element, ch.Size, ch.Depth, ch.Name, ch.Name)
	}
	return fmt.Sprintf("%s::stream<%s, %d> %s(%q);", ns, ch.Element, ch.Depth, ch.Name, ch.Name)
}

// textRange is a half-open byte range.
type textRange struct {
	start, end int
}

// Function is a cataloged function definition.
//
// Parameter records are the source of truth for the header: Header() renders
// them on demand, and ParamListRange() is recomputed whenever the records
// changed since it was last read.
type Function struct {
	Name       string
	ReturnType string
	Params     []*Parameter

	// Byte offsets into the input source.
	Start, End     uint
	ParamsStart    uint // offset of "("
	ParamsEnd      uint // offset just past ")"
	BodyStart      uint // offset of the opening "{"
	Line           int
	source         []byte
	def            *tree_sitter.Node
	body           *tree_sitter.Node
	revision       int
	rangeRevision  int
	paramListRange textRange
	ns             string
}

// Param returns the parameter with the given name.
func (f *Function) Param(name string) *Parameter {
	for _, p := range f.Params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ParamIndex returns the position of the named parameter, or -1.
func (f *Function) ParamIndex(name string) int {
	for i, p := range f.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// ChannelParams returns the Channel-typed parameters in declaration order.
func (f *Function) ChannelParams() []*Parameter {
	var out []*Parameter
	for _, p := range f.Params {
		if p.Type.Kind == Channel {
			out = append(out, p)
		}
	}
	return out
}

// UpdateParam replaces the record of the parameter with the same name.
// Any previously read parameter-list range is stale afterwards.
func (f *Function) UpdateParam(p *Parameter) error {
	i := f.ParamIndex(p.Name)
	if i < 0 {
		return fmt.Errorf("function %s: update of unknown parameter %q", f.Name, p.Name)
	}
	f.Params[i] = p
	f.revision++
	return nil
}

// Revision counts the parameter updates applied to f.
func (f *Function) Revision() int {
	return f.revision
}

// paramList renders the parameter list without the surrounding parentheses.
func (f *Function) paramList() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.Render(f.namespace())
	}
	return strings.Join(parts, ", ")
}

func (f *Function) namespace() string {
	if f.ns == "" {
		return DefaultStreamNamespace
	}
	return f.ns
}

// Header renders the signature up to, but not including, the opening brace.
func (f *Function) Header() string {
	var b strings.Builder
	b.Write(f.source[f.Start:f.ParamsStart])
	b.WriteByte('(')
	b.WriteString(f.paramList())
	b.WriteByte(')')
	b.Write(f.source[f.ParamsEnd:f.BodyStart])
	return b.String()
}

// Node returns the function_definition node.
func (f *Function) Node() *tree_sitter.Node {
	return f.def
}

// Body returns the unmodified body text, braces included.
func (f *Function) Body() string {
	return string(f.source[f.BodyStart:f.End])
}

// Text renders the whole definition from the current parameter records.
func (f *Function) Text() string {
	return f.Header() + f.Body()
}

// ParamListRange returns the byte range of the parameter list inside Text().
// The range is recomputed if any parameter changed since the last call.
func (f *Function) ParamListRange() (start, end int) {
	if f.rangeRevision != f.revision || f.paramListRange.end == 0 {
		start := int(f.ParamsStart-f.Start) + 1
		f.paramListRange = textRange{start: start, end: start + len(f.paramList())}
		f.rangeRevision = f.revision
	}
	return f.paramListRange.start, f.paramListRange.end
}

// Task is one invocation of a cataloged function inside another's body.
type Task struct {
	Callee string
	Args   []string
	Caller *Function
	Target *Function
	Pos    uint
	Line   int
}

// DefaultChannelDepth is the depth of a local channel no STREAM pragma sizes.
const DefaultChannelDepth = 2

// ChannelDecl is a channel local to a function, sized by a STREAM pragma or
// left at DefaultChannelDepth.
type ChannelDecl struct {
	Name    string
	Depth   int
	Element string // empty until ResolveChannelTypes succeeds
	Size    string // array length, empty for a single channel
	Line    int
}

// Pragma is a parsed `#pragma HLS` directive.
type Pragma struct {
	Name  string
	Props map[string]string
	Flags []string
	Raw   string
	Pos   uint
	Line  int
}

// Has reports whether the standalone flag is present (case-insensitive).
func (p *Pragma) Has(flag string) bool {
	flag = strings.ToLower(flag)
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Get returns the value of a key=value property.
func (p *Pragma) Get(key string) (string, bool) {
	v, ok := p.Props[strings.ToLower(key)]
	return v, ok
}

// Interface is the INTERFACE binding of a top-level port. For m_axi ports
// Handle is the memory-mapped handle name.
type Interface struct {
	Port   string
	Mode   string
	Handle string
	Bundle string
	Line   int
}

// Interface modes that still map a pointer port to a memory-mapped handle.
const (
	ModeMAXI     = "m_axi"
	ModeSAXILite = "s_axilite"
)
