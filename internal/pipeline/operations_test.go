package pipeline

import (
	"errors"
	"testing"
)

func TestScanOperations(t *testing.T) {
	cat := newTestCatalog(t, `void body(hls::stream<int> &a, hls::stream<int> &b, hls::stream<int> &c,
          hls::stream<int> &d, hls::stream<int> &idle, int n) {
	int x = a.read();
	int y;
	if (c.read_nb(y)) {
		b.write(x + y);
	}
	d << n;
}
`)
	facts, err := ScanOperations(mustFunc(t, cat, "body"), DefaultOperations())
	if err != nil {
		t.Fatalf("ScanOperations: %v", err)
	}
	want := map[string]Direction{"a": Input, "b": Output, "c": Input, "d": Output}
	if len(facts) != len(want) {
		t.Errorf("facts = %v, want %v", facts, want)
	}
	for name, dir := range want {
		if facts[name] != dir {
			t.Errorf("%s: dir = %s, want %s", name, facts[name], dir)
		}
	}
	if _, ok := facts["idle"]; ok {
		t.Error("unused channel should have no fact")
	}
}

func TestScanOperationsStreamOperators(t *testing.T) {
	cat := newTestCatalog(t, `void f(hls::stream<int> &in, hls::stream<int> &out) {
	int v;
	in >> v;
	out << v;
}
`)
	facts, err := ScanOperations(mustFunc(t, cat, "f"), DefaultOperations())
	if err != nil {
		t.Fatal(err)
	}
	if facts["in"] != Input || facts["out"] != Output {
		t.Errorf("facts = %v", facts)
	}
}

func TestScanOperationsCustomNames(t *testing.T) {
	cat := newTestCatalog(t, `void f(hls::stream<int> &q) {
	int v = q.pop();
}
`)
	fn := mustFunc(t, cat, "f")
	facts, _ := ScanOperations(fn, DefaultOperations())
	if len(facts) != 0 {
		t.Errorf("pop is not a default operation: %v", facts)
	}
	facts, err := ScanOperations(fn, DefaultOperations().With([]string{"pop"}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if facts["q"] != Input {
		t.Errorf("q = %s, want input", facts["q"])
	}
}

func TestScanOperationsMisuse(t *testing.T) {
	cat := newTestCatalog(t, `void loop(hls::stream<int> &s) {
	int v = s.read();
	s.write(v + 1);
}
`)
	_, err := ScanOperations(mustFunc(t, cat, "loop"), DefaultOperations())
	var cme *ChannelMisuseError
	if !errors.As(err, &cme) {
		t.Fatalf("expected ChannelMisuseError, got %v", err)
	}
	if cme.Function != "loop" || cme.Param != "s" {
		t.Errorf("error = %+v", cme)
	}
}

func TestScanOperationsIgnoresNonChannels(t *testing.T) {
	cat := newTestCatalog(t, `void f(Reader &r, int *p, int n) {
	int v = r.read();
	p[0] = v << n;
}
`)
	facts, err := ScanOperations(mustFunc(t, cat, "f"), DefaultOperations())
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 0 {
		t.Errorf("facts = %v, want none", facts)
	}
}

func TestScanOperationsQueriesAndArrays(t *testing.T) {
	cat := newTestCatalog(t, `void f(hls::stream<int> &in, hls::stream<int> &out, hls::stream<int> lanes[4], hls::stream<int> taps[2]) {
	while (in.empty()) {}
	if (!out.full()) out.write(in.read());
	for (int i = 0; i < 4; i++) lanes[i].write(i);
	int v;
	taps[1] >> v;
}
`)
	facts, err := ScanOperations(mustFunc(t, cat, "f"), DefaultOperations())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Direction{"in": Input, "out": Output, "lanes": Output, "taps": Input}
	for name, dir := range want {
		if facts[name] != dir {
			t.Errorf("%s: dir = %s, want %s", name, facts[name], dir)
		}
	}
}
