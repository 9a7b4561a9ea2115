package pipeline

import (
	"errors"
	"testing"
)

func propagateSource(t *testing.T, src string, opts PropagateOptions) (*Catalog, PropagateStats, error) {
	t.Helper()
	cat := newTestCatalog(t, src)
	g, err := BuildTaskGraph(cat.Functions)
	if err != nil {
		t.Fatalf("BuildTaskGraph: %v", err)
	}
	if opts.Operations.Read == nil {
		opts.Operations = DefaultOperations()
	}
	stats, err := Propagate(cat.Functions, g, opts)
	return cat, stats, err
}

// chainSource lists the top before its middle task, so each call pass
// lifts a direction by exactly one level.
const chainSource = `void leaf(hls::stream<int> &s) {
	s.write(1);
}

void mid(hls::stream<int> &s);

void top(hls::stream<int> &s) {
	mid(s);
}

void mid(hls::stream<int> &s) {
	leaf(s);
}
`

func TestPropagateSinglePass(t *testing.T) {
	cat, stats, err := propagateSource(t, `void sink(hls::stream<int> &in, hls::stream<int> &unused) {
	int v = in.read();
}
`, PropagateOptions{})
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	fn := mustFunc(t, cat, "sink")
	if d := fn.Param("in").Type.Dir; d != Input {
		t.Errorf("in = %s, want input", d)
	}
	if d := fn.Param("unused").Type.Dir; d != Unknown {
		t.Errorf("unused = %s, want unknown", d)
	}
	if stats.LocalUpdates != 1 || stats.CallPasses != 0 || stats.CallUpdates != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPropagateDepth(t *testing.T) {
	cat, stats, err := propagateSource(t, chainSource, PropagateOptions{})
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	for _, name := range []string{"leaf", "mid", "top"} {
		if d := mustFunc(t, cat, name).Param("s").Type.Dir; d != Output {
			t.Errorf("%s.s = %s, want output", name, d)
		}
	}
	if stats.CallPasses > 2 {
		t.Errorf("call passes = %d, want at most 2", stats.CallPasses)
	}
	if stats.LocalUpdates != 1 || stats.CallUpdates != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPropagateIdempotent(t *testing.T) {
	cat, _, err := propagateSource(t, chainSource, PropagateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	g, err := BuildTaskGraph(cat.Functions)
	if err != nil {
		t.Fatal(err)
	}
	revisions := make([]int, len(cat.Functions))
	for i, fn := range cat.Functions {
		revisions[i] = fn.Revision()
	}

	stats, err := Propagate(cat.Functions, g, PropagateOptions{Operations: DefaultOperations()})
	if err != nil {
		t.Fatalf("second Propagate: %v", err)
	}
	if stats != (PropagateStats{}) {
		t.Errorf("second run stats = %+v, want zero", stats)
	}
	for i, fn := range cat.Functions {
		if fn.Revision() != revisions[i] {
			t.Errorf("%s changed on a converged catalog", fn.Name)
		}
	}
}

func TestPropagateConflict(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"local", `void f(hls::stream<int> &s) {
	s.write(s.read());
}
`},
		{"call", `void w(hls::stream<int> &s) {
	s.write(1);
}

void top(hls::stream<int> &s) {
	int v = s.read();
	w(s);
}
`},
		{"siblings", `void r(hls::stream<int> &s) {
	int v = s.read();
}

void w(hls::stream<int> &s) {
	s.write(1);
}

void top(hls::stream<int> &s) {
	r(s);
	w(s);
}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := propagateSource(t, tt.src, PropagateOptions{})
			var cme *ChannelMisuseError
			if !errors.As(err, &cme) {
				t.Fatalf("expected ChannelMisuseError, got %v", err)
			}
		})
	}
}

func TestPropagateNonConvergence(t *testing.T) {
	_, _, err := propagateSource(t, chainSource, PropagateOptions{MaxIterations: 1})
	var nce *NonConvergenceError
	if !errors.As(err, &nce) {
		t.Fatalf("expected NonConvergenceError, got %v", err)
	}
	if nce.Iterations != 1 {
		t.Errorf("iterations = %d", nce.Iterations)
	}
	if len(nce.Pending) != 1 || nce.Pending[0] != "mid.s" {
		t.Errorf("pending = %v", nce.Pending)
	}
}

func TestPropagateSkipsExpressionArguments(t *testing.T) {
	cat, _, err := propagateSource(t, `void w(hls::stream<int> &s, int n) {
	s.write(n);
}

void top(hls::stream<int> &a, hls::stream<int> &b, int n) {
	w(flag ? a : b, n);
}
`, PropagateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	top := mustFunc(t, cat, "top")
	if top.Param("a").Type.Dir != Unknown || top.Param("b").Type.Dir != Unknown {
		t.Error("non-identifier arguments must not propagate")
	}
}

func TestPropagateElementArguments(t *testing.T) {
	cat, _, err := propagateSource(t, `void w(hls::stream<int> &s) {
	s.write(1);
}

void top(hls::stream<int> lanes[4]) {
	for (int i = 0; i < 4; i++) w(lanes[i]);
}
`, PropagateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if d := mustFunc(t, cat, "top").Param("lanes").Type.Dir; d != Output {
		t.Errorf("lanes = %s, want output", d)
	}
}

func TestArgVariable(t *testing.T) {
	tests := []struct {
		arg, want string
	}{
		{"s", "s"},
		{" lanes[i] ", "lanes"},
		{"lanes[i + 1]", "lanes"},
		{"f(x)[0]", "f(x)[0]"},
		{"flag ? a : b", "flag ? a : b"},
	}
	for _, tt := range tests {
		if got := argVariable(tt.arg); got != tt.want {
			t.Errorf("argVariable(%q) = %q, want %q", tt.arg, got, tt.want)
		}
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		a, b, want Direction
	}{
		{Unknown, Unknown, Unknown},
		{Unknown, Input, Input},
		{Output, Unknown, Output},
		{Input, Input, Input},
		{Input, Output, Both},
	}
	for _, tt := range tests {
		if got := Join(tt.a, tt.b); got != tt.want {
			t.Errorf("Join(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}
