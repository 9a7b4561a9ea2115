package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RewriteOptions controls the spelling of the rewritten top function.
type RewriteOptions struct {
	MmapType        string // e.g. "tapa::mmap"
	StreamNamespace string // e.g. "tapa"
	Indent          string
}

func (o RewriteOptions) withDefaults() RewriteOptions {
	if o.MmapType == "" {
		o.MmapType = DefaultStreamNamespace + "::mmap"
	}
	if o.StreamNamespace == "" {
		o.StreamNamespace = DefaultStreamNamespace
	}
	if o.Indent == "" {
		o.Indent = "  "
	}
	return o
}

// Rewrite is the rewritten top function plus the recoverable problems met
// while producing it.
type Rewrite struct {
	Text string
	// Params is the rewritten parameter list without parentheses.
	Params   string
	Warnings []error
}

// RewriteTop renders the top function in the task dialect: the header with
// pointer ports turned into memory-mapped handles, one declaration per
// channel, then the task invocation list. A pointer port is left as written,
// with a warning, only when it has no element type or an INTERFACE pragma
// binds it to a non-memory-mapped mode.
func RewriteTop(top *Function, graph *TaskGraph, channels []*ChannelDecl, ifaces map[string]*Interface, opts RewriteOptions) (*Rewrite, error) {
	opts = opts.withDefaults()
	out := &Rewrite{}

	declared := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch.Element == "" {
			return nil, &MissingChannelTypeError{Channel: ch.Name}
		}
		declared[ch.Name] = true
	}

	handles := make(map[string]string)
	var params []string
	for _, p := range top.Params {
		switch p.Type.Kind {
		case Pointer:
			iface := ifaces[p.Name]
			if reason := unmappedReason(p, iface); reason != "" {
				warn := &UnmappedPointerError{Function: top.Name, Param: p.Name, Reason: reason}
				slog.Warn("rewrite.unmapped_pointer", "function", top.Name, "param", p.Name, "reason", reason)
				out.Warnings = append(out.Warnings, warn)
				params = append(params, p.Raw)
				continue
			}
			handle := p.Name
			if iface != nil && iface.Mode == ModeMAXI {
				handle = iface.Handle
			}
			handles[p.Name] = handle
			params = append(params, fmt.Sprintf("%s<%s> %s", opts.MmapType, p.Type.Pointee, handle))
		case Channel:
			if declared[p.Name] {
				continue // becomes a local channel below
			}
			if !p.Type.Dir.Resolved() {
				return nil, &UnresolvedDirectionError{Function: top.Name, Param: p.Name}
			}
			params = append(params, p.Render(opts.StreamNamespace))
		default:
			params = append(params, p.Raw)
		}
	}

	out.Params = strings.Join(params, ", ")
	var b strings.Builder
	b.Write(top.source[top.Start:top.ParamsStart])
	b.WriteByte('(')
	b.WriteString(out.Params)
	b.WriteString(") {\n")

	for _, ch := range channels {
		fmt.Fprintf(&b, "%s%s\n", opts.Indent, ChannelDeclText(opts.StreamNamespace, ch))
	}
	if len(channels) > 0 {
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "%s%s::task()\n", opts.Indent, opts.StreamNamespace)
	for _, t := range graph.Tasks(top) {
		args := make([]string, 0, len(t.Args)+1)
		args = append(args, t.Callee)
		for _, a := range t.Args {
			if h, ok := handles[a]; ok {
				a = h
			}
			args = append(args, a)
		}
		fmt.Fprintf(&b, "%s%s.invoke(%s)\n", opts.Indent, opts.Indent, strings.Join(args, ", "))
	}
	fmt.Fprintf(&b, "%s%s;\n}", opts.Indent, opts.Indent)

	out.Text = b.String()
	return out, nil
}

// unmappedReason says why pointer p cannot become a memory-mapped handle, or
// returns "".
func unmappedReason(p *Parameter, iface *Interface) string {
	var words []string
	for _, w := range strings.Fields(strings.ReplaceAll(p.Type.Pointee, "*", " * ")) {
		if w != "const" && w != "volatile" {
			words = append(words, w)
		}
	}
	if len(words) == 1 && words[0] == "void" {
		return "void pointer has no element type"
	}
	if iface != nil && iface.Mode != ModeMAXI && iface.Mode != ModeSAXILite {
		return "bound to " + iface.Mode + " interface"
	}
	return ""
}

// IsRecoverable reports whether err only degrades the output.
func IsRecoverable(err error) bool {
	var unmapped *UnmappedPointerError
	return errors.As(err, &unmapped)
}
