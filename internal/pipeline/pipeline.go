package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"github.com/zeebo/xxh3"

	"github.com/DeusData/tapaconv/internal/format"
	"github.com/DeusData/tapaconv/internal/lang"
	"github.com/DeusData/tapaconv/internal/parser"
)

// Stage names, as reported by StageError and the stage.timing log event.
const (
	StageRead      = "read"
	StageParse     = "parse"
	StageCatalog   = "catalog"
	StagePragmas   = "pragmas"
	StageTasks     = "tasks"
	StagePropagate = "propagate"
	StageRewrite   = "rewrite"
	StageSplice    = "splice"
	StageFormat    = "format"
	StageWrite     = "write"
)

// Options configures a Converter.
type Options struct {
	MaxIterations   int
	MmapType        string
	StreamNamespace string
	// ReadOps and WriteOps extend the default channel operation names.
	ReadOps  []string
	WriteOps []string
	// Normalize cleans up whitespace in the rewritten regions, and in the
	// whole output when FormatCommand ran.
	Normalize bool
	// FormatCommand, when set, is run with the output on stdin and its
	// stdout replaces the output.
	FormatCommand string
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		MaxIterations:   DefaultMaxIterations,
		MmapType:        DefaultStreamNamespace + "::mmap",
		StreamNamespace: DefaultStreamNamespace,
		Normalize:       true,
	}
}

// Request names one kernel to convert. Source, when non-nil, is used instead
// of reading Path. Top may be empty to select the DATAFLOW function.
type Request struct {
	Path   string
	Source []byte
	Top    string
	// Output, when set, receives the converted file atomically.
	Output string
}

// ParamReport is the analysis view of one parameter.
type ParamReport struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Element   string `json:"element,omitempty"`
	Pointee   string `json:"pointee,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// FunctionReport is the analysis view of one cataloged function.
type FunctionReport struct {
	Name   string        `json:"name"`
	Line   int           `json:"line"`
	Params []ParamReport `json:"params"`
}

// TaskReport is the analysis view of one task invocation.
type TaskReport struct {
	Caller string   `json:"caller"`
	Callee string   `json:"callee"`
	Args   []string `json:"args"`
	Line   int      `json:"line"`
}

// ChannelReport is the analysis view of one declared channel.
type ChannelReport struct {
	Name    string `json:"name"`
	Element string `json:"element"`
	Size    string `json:"size,omitempty"`
	Depth   int    `json:"depth"`
}

// InterfaceReport is the analysis view of one INTERFACE binding.
type InterfaceReport struct {
	Port   string `json:"port"`
	Mode   string `json:"mode"`
	Handle string `json:"handle"`
	Bundle string `json:"bundle,omitempty"`
}

// Result is the outcome of a conversion.
type Result struct {
	Path       string            `json:"path,omitempty"`
	Top        string            `json:"top"`
	Output     string            `json:"-"`
	Functions  []FunctionReport  `json:"functions"`
	Tasks      []TaskReport      `json:"tasks"`
	Channels   []ChannelReport   `json:"channels"`
	Interfaces []InterfaceReport `json:"interfaces"`
	Stats      PropagateStats    `json:"stats"`
	InputHash  string            `json:"input_hash"`
	OutputHash string            `json:"output_hash,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Converter runs the conversion stages for one kernel at a time. A Converter
// holds no per-run state and may be shared across goroutines.
type Converter struct {
	opts Options
	ops  OperationSet
}

// New creates a Converter.
func New(opts Options) *Converter {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.MmapType == "" {
		opts.MmapType = def.MmapType
	}
	if opts.StreamNamespace == "" {
		opts.StreamNamespace = def.StreamNamespace
	}
	return &Converter{
		opts: opts,
		ops:  DefaultOperations().With(opts.ReadOps, opts.WriteOps),
	}
}

// Options returns the effective options.
func (c *Converter) Options() Options {
	return c.opts
}

// run carries the state of one conversion between stages.
type run struct {
	req      Request
	source   []byte
	catalog  *Catalog
	top      *Function
	graph    *TaskGraph
	channels []*ChannelDecl
	ifaces   map[string]*Interface
	stats    PropagateStats
	rewrite  *Rewrite
	output   string
}

// Convert rewrites the kernel and returns the converted text with its analysis.
// Nothing is written to req.Output unless every stage succeeds.
func (c *Converter) Convert(ctx context.Context, req Request) (*Result, error) {
	return c.execute(ctx, req, true)
}

// Analyze runs the stages up to and including direction propagation and
// reports the catalog, tasks and directions without rewriting.
func (c *Converter) Analyze(ctx context.Context, req Request) (*Result, error) {
	return c.execute(ctx, req, false)
}

type stage struct {
	name string
	fn   func(context.Context, *run) error
}

func (c *Converter) execute(ctx context.Context, req Request, convert bool) (*Result, error) {
	r := &run{req: req}
	slog.Info("pipeline.start", "input", req.Path, "top", req.Top, "convert", convert)
	start := time.Now()

	defer func() {
		if r.catalog != nil {
			r.catalog.Close()
		}
	}()

	stages := []stage{
		{StageRead, c.read},
		{StageParse, c.parse},
		{StageCatalog, c.buildCatalog},
		{StagePragmas, c.pragmas},
		{StageTasks, c.tasks},
		{StagePropagate, c.propagate},
	}
	if convert {
		stages = append(stages, []stage{
			{StageRewrite, c.rewriteTop},
			{StageSplice, c.splice},
			{StageFormat, c.format},
			{StageWrite, c.write},
		}...)
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: s.name, Err: err}
		}
		t := time.Now()
		err := s.fn(ctx, r)
		slog.Info("stage.timing", "stage", s.name, "elapsed", time.Since(t))
		if err != nil {
			return nil, &StageError{Stage: s.name, Err: err}
		}
	}

	res := c.result(r, convert)
	slog.Info("pipeline.done", "input", req.Path, "top", res.Top,
		"tasks", len(res.Tasks), "channels", len(res.Channels), "elapsed", time.Since(start))
	return res, nil
}

func (c *Converter) read(_ context.Context, r *run) error {
	if r.req.Source != nil {
		r.source = r.req.Source
		return nil
	}
	if r.req.Path == "" {
		return fmt.Errorf("no input: need a path or source text")
	}
	data, err := os.ReadFile(r.req.Path)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	r.source = data
	return nil
}

func (c *Converter) parse(_ context.Context, r *run) error {
	tree, err := parser.Parse(lang.CPP, r.source)
	if err != nil {
		return err
	}
	r.catalog = &Catalog{Source: r.source, tree: tree}
	return nil
}

func (c *Converter) buildCatalog(_ context.Context, r *run) error {
	if err := r.catalog.Extract(); err != nil {
		return err
	}
	fns := r.catalog.Functions
	r.catalog.SetNamespace(c.opts.StreamNamespace)

	top, err := selectTop(r.catalog, r.req.Top)
	if err != nil {
		return err
	}
	r.top = top
	slog.Info("pipeline.top", "top", top.Name, "line", top.Line, "functions", len(fns))
	return nil
}

// selectTop returns the named function, or the single function that carries
// a DATAFLOW pragma when name is empty.
func selectTop(cat *Catalog, name string) (*Function, error) {
	var candidates []*Function
	pool := cat.Functions
	if name != "" {
		pool = cat.Lookup(name)
		if len(pool) == 0 {
			return nil, &TopNotFoundError{Name: name}
		}
	}
	for _, fn := range pool {
		pragmas, err := ExtractPragmas(fn.Node(), cat.Source)
		if err != nil {
			return nil, err
		}
		for _, p := range pragmas {
			if p.Name == "DATAFLOW" {
				candidates = append(candidates, fn)
				break
			}
		}
	}
	if name != "" {
		if len(candidates) > 0 {
			return candidates[0], nil
		}
		return pool[0], nil
	}
	if len(candidates) != 1 {
		names := make([]string, len(candidates))
		for i, fn := range candidates {
			names[i] = fn.Name
		}
		return nil, &TopNotFoundError{Candidates: names}
	}
	return candidates[0], nil
}

func (c *Converter) pragmas(_ context.Context, r *run) error {
	pragmas, err := ExtractPragmas(r.top.Node(), r.source)
	if err != nil {
		return err
	}
	channels, err := DeriveChannels(pragmas)
	if err != nil {
		return err
	}
	channels, err = DeclareLocalChannels(r.top.Node(), r.source, channels)
	if err != nil {
		return err
	}
	ifaces, err := DeriveInterfaces(pragmas)
	if err != nil {
		return err
	}
	r.channels = channels
	r.ifaces = ifaces
	slog.Debug("pragmas.derived", "pragmas", len(pragmas), "channels", len(channels), "interfaces", len(ifaces))
	return nil
}

func (c *Converter) tasks(_ context.Context, r *run) error {
	g, err := BuildTaskGraph(r.catalog.Functions)
	if err != nil {
		return err
	}
	r.graph = g
	return nil
}

func (c *Converter) propagate(_ context.Context, r *run) error {
	stats, err := Propagate(r.catalog.Functions, r.graph, PropagateOptions{
		MaxIterations: c.opts.MaxIterations,
		Operations:    c.ops,
	})
	if err != nil {
		return err
	}
	r.stats = stats
	slog.Info("propagate.done", "local_updates", stats.LocalUpdates,
		"call_passes", stats.CallPasses, "call_updates", stats.CallUpdates)
	return nil
}

func (c *Converter) rewriteTop(_ context.Context, r *run) error {
	rw, err := RewriteTop(r.top, r.graph, r.channels, r.ifaces, RewriteOptions{
		MmapType:        c.opts.MmapType,
		StreamNamespace: c.opts.StreamNamespace,
	})
	if err != nil {
		return err
	}
	for _, w := range rw.Warnings {
		if !IsRecoverable(w) {
			return w
		}
	}
	r.rewrite = rw
	return nil
}

func (c *Converter) splice(_ context.Context, r *run) error {
	edits, err := c.edits(r)
	if err != nil {
		return err
	}
	out, err := applyEdits(r.source, edits)
	if err != nil {
		return err
	}
	r.output = out
	slog.Debug("splice.done", "edits", len(edits))
	return nil
}

func (c *Converter) format(ctx context.Context, r *run) error {
	if c.opts.FormatCommand == "" {
		return nil
	}
	formatted, err := format.Run(ctx, c.opts.FormatCommand, r.output)
	if err != nil {
		slog.Warn("format.command.err", "command", c.opts.FormatCommand, "err", err)
		return nil
	}
	if c.opts.Normalize {
		formatted = format.Normalize(formatted)
	}
	r.output = formatted
	return nil
}

func (c *Converter) write(_ context.Context, r *run) error {
	if r.req.Output == "" {
		return nil
	}
	return WriteFileAtomic(r.req.Output, []byte(r.output))
}

// edit replaces source[start:end] with text.
type edit struct {
	start, end uint
	text       string
}

// edits lists every replacement against the input source. Ranges never
// overlap: the top function is replaced whole and other edits outside it.
func (c *Converter) edits(r *run) ([]edit, error) {
	out := []edit{{start: r.top.Start, end: r.top.End, text: r.rewrite.Text}}

	for _, fn := range r.catalog.Functions {
		if fn == r.top {
			continue
		}
		fnEdits, err := c.functionEdits(fn)
		if err != nil {
			return nil, err
		}
		out = append(out, fnEdits...)
	}
	out = append(out, c.prototypeEdits(r)...)

	parser.Walk(r.catalog.Root(), func(n *tree_sitter.Node) bool {
		if n.Kind() != "preproc_include" {
			return n.Kind() == "translation_unit" || isConditionalBlock(n.Kind())
		}
		path := n.ChildByFieldName("path")
		if path != nil && isStreamHeader(parser.NodeText(path, r.source)) {
			out = append(out, edit{start: path.StartByte(), end: path.EndByte(), text: "<tapa.h>"})
		}
		return false
	})

	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	if err := unconvertedChannel(r.catalog, out, c.opts.StreamNamespace); err != nil {
		return nil, err
	}
	if c.opts.Normalize {
		for i := range out {
			out[i].text = format.TrimLines(out[i].text)
		}
	}
	return out, nil
}

// functionEdits converts a function other than the top: its channel
// parameters, its local channel declarations and its non-blocking calls.
func (c *Converter) functionEdits(fn *Function) ([]edit, error) {
	var out []edit
	channels := channelParamNames(fn)
	if len(channels) > 0 {
		for _, p := range fn.ChannelParams() {
			if !p.Type.Dir.Resolved() {
				return nil, &UnresolvedDirectionError{Function: fn.Name, Param: p.Name}
			}
		}
		start, end := fn.ParamListRange()
		text := fn.Text()
		out = append(out, edit{
			start: fn.ParamsStart,
			end:   fn.ParamsEnd,
			text:  "(" + text[start:end] + ")",
		})
	}

	locals, err := c.localChannelEdits(fn)
	if err != nil {
		return nil, err
	}
	for _, l := range locals {
		out = append(out, l.edit)
		for _, name := range l.names {
			channels[name] = true
		}
	}

	for _, op := range channelOps(fn, channels, c.ops) {
		if repl, ok := nonBlockingRenames[op.Op]; ok {
			out = append(out, edit{start: op.Node.StartByte(), end: op.Node.EndByte(), text: repl})
		}
	}
	return out, nil
}

// prototypeEdits rewrites the parameter lists of forward declarations to
// match their converted definitions. A prototype matches the definition with
// the same name and arity.
func (c *Converter) prototypeEdits(r *run) []edit {
	spec := lang.ForLanguage(lang.CPP)
	scopes := toSet(spec.ScopeNodeTypes)
	paramKinds := toSet(spec.ParameterNodeTypes)

	var out []edit
	parser.Walk(r.catalog.Root(), func(n *tree_sitter.Node) bool {
		if n.Kind() != "declaration" {
			return n.Kind() == "translation_unit" || scopes[n.Kind()] || isConditionalBlock(n.Kind())
		}
		decl := functionDeclarator(n)
		if decl == nil {
			return false
		}
		nameNode := decl.ChildByFieldName("declarator")
		paramsNode := parser.FindChildByKind(decl, "parameter_list")
		if nameNode == nil || paramsNode == nil {
			return false
		}
		var params []*tree_sitter.Node
		for _, child := range parser.NamedChildren(paramsNode) {
			if paramKinds[child.Kind()] {
				params = append(params, child)
			}
		}
		for _, fn := range r.catalog.Lookup(parser.NodeText(nameNode, r.source)) {
			if len(fn.Params) != len(params) {
				continue
			}
			text, ok := c.prototypeParams(fn, r, params)
			if ok {
				out = append(out, edit{start: paramsNode.StartByte(), end: paramsNode.EndByte(), text: "(" + text + ")"})
			}
			break
		}
		return false
	})
	return out
}

// prototypeParams renders a prototype's parameters from the definition fn.
// Parameter names stay as the prototype spells them, and may be absent.
func (c *Converter) prototypeParams(fn *Function, r *run, params []*tree_sitter.Node) (string, bool) {
	if fn == r.top {
		return r.rewrite.Params, true
	}
	if len(fn.ChannelParams()) == 0 {
		return "", false
	}
	spec := lang.ForLanguage(lang.CPP)
	parts := make([]string, len(params))
	for i, node := range params {
		def := fn.Params[i]
		if _, _, ok := channelTemplate(node.ChildByFieldName("type"), r.source, spec); !ok || def.Type.Kind != Channel {
			parts[i] = strings.TrimSpace(parser.NodeText(node, r.source))
			continue
		}
		parts[i] = ChannelTypeText(c.opts.StreamNamespace, def.Type.Dir, def.Type.Element, def.Type.Size) + "&"
		if name := declaratorName(node.ChildByFieldName("declarator"), r.source); name != "" {
			parts[i] += " " + name
		}
	}
	return strings.Join(parts, ", "), true
}

// localDecl is the replacement of one local channel declaration statement.
type localDecl struct {
	edit  edit
	names []string
}

// localChannelEdits redeclares every channel local to fn's body in the task
// dialect. Depths come from fn's own STREAM pragmas, else DefaultChannelDepth.
func (c *Converter) localChannelEdits(fn *Function) ([]localDecl, error) {
	sites, err := channelSites(fn.body, fn.source, fn.Name)
	if err != nil || len(sites) == 0 {
		return nil, err
	}
	pragmas, err := ExtractPragmas(fn.body, fn.source)
	if err != nil {
		return nil, err
	}
	declared, err := DeriveChannels(pragmas)
	if err != nil {
		return nil, err
	}
	depths := make(map[string]int, len(declared))
	for _, ch := range declared {
		depths[ch.Name] = ch.Depth
	}

	var out []localDecl
	for _, site := range sites {
		if site.decl == nil {
			continue
		}
		depth, ok := depths[site.name]
		if !ok {
			depth = DefaultChannelDepth
		}
		text := ChannelDeclText(c.opts.StreamNamespace, &ChannelDecl{
			Name: site.name, Depth: depth, Element: site.element, Size: site.size,
		})
		if n := len(out); n > 0 && out[n-1].edit.start == site.decl.StartByte() {
			out[n-1].edit.text += " " + text
			out[n-1].names = append(out[n-1].names, site.name)
			continue
		}
		out = append(out, localDecl{
			edit:  edit{start: site.decl.StartByte(), end: site.decl.EndByte(), text: text},
			names: []string{site.name},
		})
	}
	return out, nil
}

// unconvertedChannel reports the first channel type that no edit covers and
// that is not already spelled in namespace ns.
func unconvertedChannel(cat *Catalog, edits []edit, ns string) error {
	spec := lang.ForLanguage(lang.CPP)
	covered := func(start, end uint) bool {
		for _, e := range edits {
			if e.start <= start && end <= e.end {
				return true
			}
		}
		return false
	}

	var found error
	parser.Walk(cat.Root(), func(n *tree_sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.Kind() != "qualified_identifier" && n.Kind() != "template_type" {
			return true
		}
		if _, _, ok := channelTemplate(n, cat.Source, spec); !ok {
			return true
		}
		text := parser.NodeText(n, cat.Source)
		if covered(n.StartByte(), n.EndByte()) || strings.HasPrefix(text, ns+"::") {
			return false
		}
		e := &UnsupportedChannelError{Name: squeeze(text), Line: parser.Line(n),
			Reason: "no conversion for this use of a channel type"}
		for _, fn := range cat.Functions {
			if fn.Start <= n.StartByte() && n.EndByte() <= fn.End {
				e.Function = fn.Name
			}
		}
		found = e
		return false
	})
	return found
}

var nonBlockingRenames = map[string]string{
	"read_nb":  "try_read",
	"write_nb": "try_write",
}

func isStreamHeader(path string) bool {
	p := strings.Trim(path, `"<>`)
	return p == "hls_stream.h" || strings.HasSuffix(p, "/hls_stream.h")
}

func applyEdits(source []byte, edits []edit) (string, error) {
	var b strings.Builder
	b.Grow(len(source))
	var pos uint
	for _, e := range edits {
		if e.start < pos || e.end < e.start || e.end > uint(len(source)) {
			return "", fmt.Errorf("overlapping edit at byte %d", e.start)
		}
		b.Write(source[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.Write(source[pos:])
	return b.String(), nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Fingerprint returns the hex xxh3 hash of data.
func Fingerprint(data []byte) string {
	h := xxh3.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Converter) result(r *run, convert bool) *Result {
	res := &Result{
		Path:      r.req.Path,
		Top:       r.top.Name,
		Stats:     r.stats,
		InputHash: Fingerprint(r.source),
	}
	for _, fn := range r.catalog.Functions {
		fr := FunctionReport{Name: fn.Name, Line: fn.Line, Params: make([]ParamReport, 0, len(fn.Params))}
		for _, p := range fn.Params {
			pr := ParamReport{Name: p.Name, Kind: p.Type.Kind.String()}
			switch p.Type.Kind {
			case Channel:
				pr.Element = p.Type.Element
				pr.Direction = p.Type.Dir.String()
			case Pointer:
				pr.Pointee = p.Type.Pointee
			}
			fr.Params = append(fr.Params, pr)
		}
		res.Functions = append(res.Functions, fr)
	}
	for _, t := range r.graph.Edges() {
		res.Tasks = append(res.Tasks, TaskReport{Caller: t.Caller.Name, Callee: t.Callee, Args: t.Args, Line: t.Line})
	}
	for _, ch := range r.channels {
		res.Channels = append(res.Channels, ChannelReport{Name: ch.Name, Element: ch.Element, Size: ch.Size, Depth: ch.Depth})
	}
	ports := make([]string, 0, len(r.ifaces))
	for port := range r.ifaces {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		i := r.ifaces[port]
		res.Interfaces = append(res.Interfaces, InterfaceReport{Port: i.Port, Mode: i.Mode, Handle: i.Handle, Bundle: i.Bundle})
	}
	if convert {
		res.Output = r.output
		res.OutputHash = Fingerprint([]byte(r.output))
		for _, w := range r.rewrite.Warnings {
			res.Warnings = append(res.Warnings, w.Error())
		}
	}
	return res
}
