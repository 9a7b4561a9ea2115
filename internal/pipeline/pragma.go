package pipeline

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/tapaconv/internal/lang"
	"github.com/DeusData/tapaconv/internal/parser"
)

// pragmaMarker is the token that identifies HLS directives.
const pragmaMarker = "HLS"

var assignSpaces = regexp.MustCompile(`\s*=\s*`)

// ExtractPragmas returns the `#pragma HLS` directives under node in source
// order. Pragmas for other tools (#pragma once, #pragma unroll) are skipped.
func ExtractPragmas(node *tree_sitter.Node, source []byte) ([]*Pragma, error) {
	spec := lang.ForLanguage(lang.CPP)
	directiveTypes := toSet(spec.DirectiveNodeTypes)

	var pragmas []*Pragma
	var firstErr error
	parser.Walk(node, func(n *tree_sitter.Node) bool {
		if firstErr != nil {
			return false
		}
		if !directiveTypes[n.Kind()] {
			return true
		}
		directive := n.ChildByFieldName("directive")
		if directive == nil || strings.ReplaceAll(parser.NodeText(directive, source), " ", "") != "#pragma" {
			return false
		}
		raw := "#pragma"
		if arg := n.ChildByFieldName("argument"); arg != nil {
			raw += " " + strings.TrimSpace(parser.NodeText(arg, source))
		}
		if !isHLSPragma(raw) {
			slog.Debug("pragma.skip", "raw", raw, "line", parser.Line(n))
			return false
		}
		p, err := ParsePragma(raw)
		if err != nil {
			firstErr = err
			return false
		}
		p.Pos = n.StartByte()
		p.Line = parser.Line(n)
		pragmas = append(pragmas, p)
		return false
	})
	return pragmas, firstErr
}

func isHLSPragma(raw string) bool {
	fields := strings.Fields(raw)
	return len(fields) >= 2 && strings.EqualFold(fields[1], pragmaMarker)
}

// ParsePragma parses a `#pragma HLS NAME key=value flag ...` directive.
// Keys and flags are lower-cased; the directive name is upper-cased.
func ParsePragma(raw string) (*Pragma, error) {
	text := strings.TrimSpace(raw)
	text = strings.Replace(text, "# pragma", "#pragma", 1)
	fields := strings.Fields(assignSpaces.ReplaceAllString(text, "="))
	if len(fields) < 3 || fields[0] != "#pragma" || !strings.EqualFold(fields[1], pragmaMarker) {
		return nil, &UnrecognizedPragmaError{Raw: raw}
	}

	p := &Pragma{
		Name:  strings.ToUpper(fields[2]),
		Props: make(map[string]string),
		Raw:   text,
	}
	for _, f := range fields[3:] {
		if k, v, ok := strings.Cut(f, "="); ok && k != "" {
			p.Props[strings.ToLower(k)] = v
			continue
		}
		p.Flags = append(p.Flags, strings.ToLower(f))
	}
	return p, nil
}

// DeriveChannels turns STREAM pragmas into channel declarations, in pragma
// order. Repeating a channel with the same depth is harmless.
func DeriveChannels(pragmas []*Pragma) ([]*ChannelDecl, error) {
	var channels []*ChannelDecl
	byName := make(map[string]*ChannelDecl)
	for _, p := range pragmas {
		if p.Name != "STREAM" {
			continue
		}
		name, ok := p.Get("variable")
		if !ok || name == "" {
			return nil, &MissingPropertyError{Pragma: p.Name, Key: "variable", Line: p.Line}
		}
		rawDepth, ok := p.Get("depth")
		if !ok || rawDepth == "" {
			return nil, &MissingPropertyError{Pragma: p.Name, Key: "depth", Line: p.Line}
		}
		depth, err := strconv.Atoi(rawDepth)
		if err != nil || depth <= 0 {
			return nil, &MissingPropertyError{Pragma: p.Name, Key: "depth", Value: rawDepth, Line: p.Line}
		}

		if prev, dup := byName[name]; dup {
			if prev.Depth != depth {
				return nil, &DuplicateChannelError{Channel: name, First: prev.Depth, Then: depth}
			}
			continue
		}
		ch := &ChannelDecl{Name: name, Depth: depth, Line: p.Line}
		byName[name] = ch
		channels = append(channels, ch)
	}
	return channels, nil
}

// DeriveInterfaces returns the INTERFACE pragmas keyed by port. The mode is
// the mode= property or the first flag; when a port is named by several
// pragmas, m_axi wins over other modes and s_axilite loses to all of them.
// An m_axi handle is the pragma's name= property when given, else the port.
func DeriveInterfaces(pragmas []*Pragma) (map[string]*Interface, error) {
	ifaces := make(map[string]*Interface)
	for _, p := range pragmas {
		if p.Name != "INTERFACE" {
			continue
		}
		mode, _ := p.Get("mode")
		if mode == "" && len(p.Flags) > 0 {
			mode = p.Flags[0]
		}
		mode = strings.ToLower(mode)
		port, ok := p.Get("port")
		if !ok || port == "" {
			if mode == ModeMAXI {
				return nil, &MissingPropertyError{Pragma: p.Name, Key: "port", Line: p.Line}
			}
			continue
		}
		if prev, seen := ifaces[port]; seen && modeRank(prev.Mode) >= modeRank(mode) {
			continue
		}
		handle := port
		if name, ok := p.Get("name"); ok && name != "" && mode == ModeMAXI {
			handle = name
		}
		bundle, _ := p.Get("bundle")
		ifaces[port] = &Interface{Port: port, Mode: mode, Handle: handle, Bundle: bundle, Line: p.Line}
	}
	return ifaces, nil
}

func modeRank(mode string) int {
	switch mode {
	case ModeMAXI:
		return 2
	case ModeSAXILite:
		return 0
	}
	return 1
}

// channelSite is one declaration of a channel under a scope.
type channelSite struct {
	name    string
	element string
	size    string
	line    int
	decl    *tree_sitter.Node // the local declaration; nil for a parameter
}

// channelSites lists the channel declarations under scope in source order:
// locals and parameters alike. Locals the task dialect cannot express are an
// UnsupportedChannelError naming fnName.
func channelSites(scope *tree_sitter.Node, source []byte, fnName string) ([]channelSite, error) {
	spec := lang.ForLanguage(lang.CPP)
	paramKinds := toSet(spec.ParameterNodeTypes)
	declKinds := toSet(spec.DeclarationNodeTypes)

	var sites []channelSite
	var firstErr error
	parser.Walk(scope, func(n *tree_sitter.Node) bool {
		if firstErr != nil {
			return false
		}
		switch {
		case declKinds[n.Kind()]:
			_, elem, ok := channelTemplate(n.ChildByFieldName("type"), source, spec)
			if !ok {
				return true
			}
			for i := uint(0); i < n.ChildCount(); i++ {
				if n.FieldNameForChild(uint32(i)) != "declarator" {
					continue
				}
				site, err := localSite(n.Child(i), source)
				if err != nil {
					firstErr = &UnsupportedChannelError{Function: fnName, Name: declaratorName(n.Child(i), source),
						Line: parser.Line(n), Reason: err.Error()}
					return false
				}
				site.element = elem
				site.line = parser.Line(n)
				site.decl = n
				sites = append(sites, site)
			}
			return false
		case paramKinds[n.Kind()]:
			_, elem, ok := channelTemplate(n.ChildByFieldName("type"), source, spec)
			if !ok {
				return false
			}
			d := n.ChildByFieldName("declarator")
			if name := declaratorName(d, source); name != "" {
				site := channelSite{name: name, element: elem, line: parser.Line(n)}
				if d.Kind() == "array_declarator" {
					if size := d.ChildByFieldName("size"); size != nil {
						site.size = squeeze(parser.NodeText(size, source))
					}
				}
				sites = append(sites, site)
			}
			return false
		}
		return true
	})
	return sites, firstErr
}

// localSite reads the name and array length of one local channel declarator.
func localSite(d *tree_sitter.Node, source []byte) (channelSite, error) {
	if d.Kind() == "init_declarator" {
		d = d.ChildByFieldName("declarator")
	}
	var site channelSite
	if d != nil && d.Kind() == "array_declarator" {
		size := d.ChildByFieldName("size")
		if size == nil {
			return site, fmt.Errorf("channel array needs an explicit length")
		}
		site.size = squeeze(parser.NodeText(size, source))
		d = d.ChildByFieldName("declarator")
	}
	if d == nil || d.Kind() != "identifier" {
		return site, fmt.Errorf("only plain channels and one-dimensional channel arrays can be declared locally")
	}
	site.name = parser.NodeText(d, source)
	return site, nil
}

// ResolveChannelTypes fills in each channel's element type and array length
// from its single declaration site under scope: a local channel declaration
// or a channel parameter.
func ResolveChannelTypes(scope *tree_sitter.Node, source []byte, channels []*ChannelDecl) error {
	sites, err := channelSites(scope, source, "")
	if err != nil {
		return err
	}
	byName := make(map[string][]channelSite)
	for _, site := range sites {
		byName[site.name] = append(byName[site.name], site)
	}
	for _, ch := range channels {
		found := byName[ch.Name]
		switch len(found) {
		case 0:
			return &UnresolvedChannelTypeError{Channel: ch.Name, Reason: "no declaration found"}
		case 1:
			ch.Element = found[0].element
			ch.Size = found[0].size
		default:
			return &UnresolvedChannelTypeError{Channel: ch.Name, Reason: "ambiguous: declared " + strconv.Itoa(len(found)) + " times"}
		}
	}
	return nil
}

// DeclareLocalChannels resolves the pragma channels under scope, then
// appends every local channel no STREAM pragma names, at
// DefaultChannelDepth and in source order.
func DeclareLocalChannels(scope *tree_sitter.Node, source []byte, channels []*ChannelDecl) ([]*ChannelDecl, error) {
	if err := ResolveChannelTypes(scope, source, channels); err != nil {
		return nil, err
	}
	sites, err := channelSites(scope, source, "")
	if err != nil {
		return nil, err
	}
	named := make(map[string]bool, len(channels))
	for _, ch := range channels {
		named[ch.Name] = true
	}
	out := append([]*ChannelDecl(nil), channels...)
	added := make(map[string]bool)
	for _, site := range sites {
		if site.decl == nil || named[site.name] {
			continue
		}
		if added[site.name] {
			return nil, &UnresolvedChannelTypeError{Channel: site.name, Reason: "ambiguous: declared more than once"}
		}
		added[site.name] = true
		out = append(out, &ChannelDecl{
			Name:    site.name,
			Depth:   DefaultChannelDepth,
			Element: site.element,
			Size:    site.size,
			Line:    site.line,
		})
		slog.Debug("channel.default_depth", "channel", site.name, "depth", DefaultChannelDepth)
	}
	return out, nil
}
