package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/DeusData/tapaconv/internal/lang"
	"github.com/DeusData/tapaconv/internal/parser"
)

// parseCatalog parses source and extracts its function definitions.
func parseCatalog(source []byte) (*Catalog, error) {
	tree, err := parser.Parse(lang.CPP, source)
	if err != nil {
		return nil, err
	}
	cat := &Catalog{Source: source, tree: tree}
	if err := cat.Extract(); err != nil {
		cat.Close()
		return nil, err
	}
	return cat, nil
}

func newTestCatalog(t *testing.T, src string) *Catalog {
	t.Helper()
	cat, err := parseCatalog([]byte(src))
	if err != nil {
		t.Fatalf("parseCatalog: %v", err)
	}
	t.Cleanup(cat.Close)
	return cat
}

func mustFunc(t *testing.T, cat *Catalog, name string) *Function {
	t.Helper()
	fns := cat.Lookup(name)
	if len(fns) == 0 {
		t.Fatalf("function %s not cataloged", name)
	}
	return fns[0]
}

func TestExtractFunctions(t *testing.T) {
	cat := newTestCatalog(t, `#include <hls_stream.h>

namespace kern {
void load(const float *src, hls::stream<float> &out, int n) {
	for (int i = 0; i < n; i++) out.write(src[i]);
}
}

static void store(hls::stream<ap_uint<512> > &in, int dst[16]) {
	for (int i = 0; i < 16; i++) dst[i] = in.read();
}

void noop(void) {}
`)
	if len(cat.Functions) != 3 {
		t.Fatalf("expected 3 functions, got %d", len(cat.Functions))
	}
	names := []string{cat.Functions[0].Name, cat.Functions[1].Name, cat.Functions[2].Name}
	if strings.Join(names, ",") != "load,store,noop" {
		t.Errorf("function order = %v", names)
	}

	load := mustFunc(t, cat, "load")
	tests := []struct {
		param   string
		kind    TypeKind
		pointee string
		element string
	}{
		{"src", Pointer, "const float", ""},
		{"out", Channel, "", "float"},
		{"n", Scalar, "", ""},
	}
	for _, tt := range tests {
		p := load.Param(tt.param)
		if p == nil {
			t.Fatalf("load: missing param %s", tt.param)
		}
		if p.Type.Kind != tt.kind {
			t.Errorf("%s: kind = %s, want %s", tt.param, p.Type.Kind, tt.kind)
		}
		if p.Type.Pointee != tt.pointee {
			t.Errorf("%s: pointee = %q, want %q", tt.param, p.Type.Pointee, tt.pointee)
		}
		if p.Type.Element != tt.element {
			t.Errorf("%s: element = %q, want %q", tt.param, p.Type.Element, tt.element)
		}
	}

	store := mustFunc(t, cat, "store")
	if got := store.Param("in").Type.Element; got != "ap_uint<512>" {
		t.Errorf("store.in element = %q", got)
	}
	if dst := store.Param("dst"); dst.Type.Kind != Pointer || dst.Type.Pointee != "int" {
		t.Errorf("store.dst = %+v, want pointer to int", dst.Type)
	}

	if noop := mustFunc(t, cat, "noop"); len(noop.Params) != 0 {
		t.Errorf("noop(void) has %d params", len(noop.Params))
	}
}

func TestDirectedChannelTemplates(t *testing.T) {
	cat := newTestCatalog(t, `void relay(tapa::istream<int> &in, tapa::ostream<int> &out) {
	out.write(in.read());
}
`)
	fn := mustFunc(t, cat, "relay")
	if d := fn.Param("in").Type.Dir; d != Input {
		t.Errorf("in dir = %s, want input", d)
	}
	if d := fn.Param("out").Type.Dir; d != Output {
		t.Errorf("out dir = %s, want output", d)
	}
}

func TestBodyIgnoresBracesInLiterals(t *testing.T) {
	src := `void f(hls::stream<char> &s) {
	const char *open = "{{";
	char close = '}';
	// }
	s.write(open[0]);
}

void g() {}
`
	cat := newTestCatalog(t, src)
	f := mustFunc(t, cat, "f")
	if !strings.HasSuffix(f.Body(), "s.write(open[0]);\n}") {
		t.Errorf("body ends wrong: %q", f.Body())
	}
	if len(cat.Functions) != 2 {
		t.Errorf("expected 2 functions, got %d", len(cat.Functions))
	}
}

func TestMalformedParameters(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"duplicate", "void f(int a, int a) {}\n"},
		{"unnamed", "void f(int) {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCatalog([]byte(tt.src))
			var mpe *MalformedParameterError
			if !errors.As(err, &mpe) {
				t.Fatalf("expected MalformedParameterError, got %v", err)
			}
			if mpe.Function != "f" {
				t.Errorf("error names function %q", mpe.Function)
			}
		})
	}
}

func TestUnbalancedBody(t *testing.T) {
	_, err := parseCatalog([]byte("void f(hls::stream<int> &s) {\n\ts.write(1);\n"))
	var ube *UnbalancedBodyError
	if !errors.As(err, &ube) {
		t.Fatalf("expected UnbalancedBodyError, got %v", err)
	}
}

func TestParamListRangeAfterUpdate(t *testing.T) {
	cat := newTestCatalog(t, `void worker(hls::stream<int> &in, int n) {
	int x = in.read();
}
`)
	fn := mustFunc(t, cat, "worker")

	start, end := fn.ParamListRange()
	if got := fn.Text()[start:end]; got != "tapa::stream<int>& in, int n" {
		t.Fatalf("initial param list = %q", got)
	}

	before := fn.Revision()
	next := *fn.Param("in")
	next.Type.Dir = Input
	if err := fn.UpdateParam(&next); err != nil {
		t.Fatal(err)
	}
	if fn.Revision() != before+1 {
		t.Errorf("revision = %d, want %d", fn.Revision(), before+1)
	}

	start, end = fn.ParamListRange()
	text := fn.Text()
	if got := text[start:end]; got != "tapa::istream<int>& in, int n" {
		t.Errorf("param list after update = %q", got)
	}
	if text[start-1] != '(' || text[end] != ')' {
		t.Errorf("range [%d,%d) not bracketed by parentheses in %q", start, end, text)
	}
	if !strings.HasPrefix(fn.Header(), "void worker(tapa::istream<int>& in, int n)") {
		t.Errorf("header = %q", fn.Header())
	}

	if err := fn.UpdateParam(&Parameter{Name: "missing"}); err == nil {
		t.Error("expected error updating unknown parameter")
	}
}

func TestSetNamespace(t *testing.T) {
	cat := newTestCatalog(t, "void w(hls::stream<int> &s) { s.write(1); }\n")
	cat.SetNamespace("hls")
	start, end := cat.Functions[0].ParamListRange()
	if got := cat.Functions[0].Text()[start:end]; got != "hls::stream<int>& s" {
		t.Errorf("param list = %q", got)
	}
}
