package pipeline

import (
	"errors"
	"strings"
	"testing"
)

const endToEndSource = `#include "hls_stream.h"

void worker(int *a, hls::stream<int> &s) {
	a[0] = s.read();
}

void top(int *a, hls::stream<int> &s) {
#pragma HLS INTERFACE m_axi port=a name=a_mmap
#pragma HLS DATAFLOW
#pragma HLS STREAM variable=s depth=16
	worker(a, s);
}
`

// prepareTop runs every stage before the rewriter on src.
func prepareTop(t *testing.T, src, topName string) (*Function, *TaskGraph, []*ChannelDecl, map[string]*Interface) {
	t.Helper()
	cat := newTestCatalog(t, src)
	top := mustFunc(t, cat, topName)
	pragmas, err := ExtractPragmas(top.Node(), cat.Source)
	if err != nil {
		t.Fatal(err)
	}
	channels, err := DeriveChannels(pragmas)
	if err != nil {
		t.Fatal(err)
	}
	channels, err = DeclareLocalChannels(top.Node(), cat.Source, channels)
	if err != nil {
		t.Fatal(err)
	}
	ifaces, err := DeriveInterfaces(pragmas)
	if err != nil {
		t.Fatal(err)
	}
	g, err := BuildTaskGraph(cat.Functions)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Propagate(cat.Functions, g, PropagateOptions{Operations: DefaultOperations()}); err != nil {
		t.Fatal(err)
	}
	return top, g, channels, ifaces
}

func TestRewriteTopEndToEnd(t *testing.T) {
	top, g, channels, ifaces := prepareTop(t, endToEndSource, "top")
	rw, err := RewriteTop(top, g, channels, ifaces, RewriteOptions{})
	if err != nil {
		t.Fatalf("RewriteTop: %v", err)
	}
	want := `void top(tapa::mmap<int> a_mmap) {
  tapa::stream<int, 16> s("s");

  tapa::task()
    .invoke(worker, a_mmap, s)
    ;
}`
	if rw.Text != want {
		t.Errorf("rewrite mismatch\n got:\n%s\nwant:\n%s", rw.Text, want)
	}
	if len(rw.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", rw.Warnings)
	}
}

func TestRewriteTopPointerWithoutPragma(t *testing.T) {
	top, g, channels, ifaces := prepareTop(t, `void w(const float *p, hls::stream<float> &out) {
	out.write(p[0]);
}

void top(const float *p, hls::stream<float> &out) {
	w(p, out);
}
`, "top")
	rw, err := RewriteTop(top, g, channels, ifaces, RewriteOptions{})
	if err != nil {
		t.Fatalf("RewriteTop: %v", err)
	}
	if !strings.HasPrefix(rw.Text, "void top(tapa::mmap<const float> p, tapa::ostream<float>& out) {") {
		t.Errorf("header = %q", strings.SplitN(rw.Text, "\n", 2)[0])
	}
	if !strings.Contains(rw.Text, ".invoke(w, p, out)") {
		t.Errorf("invoke list = %q", rw.Text)
	}
	if len(rw.Warnings) != 0 {
		t.Errorf("warnings = %v", rw.Warnings)
	}
}

func TestRewriteTopUnmappedPointer(t *testing.T) {
	top, g, channels, ifaces := prepareTop(t, `void w(int *q, void *v, int *m, hls::stream<int> &out) {
	out.write(q[0]);
}

void top(int *q, void *v, int *m, hls::stream<int> &out) {
#pragma HLS INTERFACE ap_none port=q
#pragma HLS INTERFACE s_axilite port=m
	w(q, v, m, out);
}
`, "top")
	rw, err := RewriteTop(top, g, channels, ifaces, RewriteOptions{})
	if err != nil {
		t.Fatalf("RewriteTop: %v", err)
	}
	if !strings.HasPrefix(rw.Text, "void top(int *q, void *v, tapa::mmap<int> m, tapa::ostream<int>& out) {") {
		t.Errorf("header = %q", strings.SplitN(rw.Text, "\n", 2)[0])
	}
	if len(rw.Warnings) != 2 {
		t.Fatalf("warnings = %v", rw.Warnings)
	}
	for i, want := range []string{"q", "v"} {
		var upe *UnmappedPointerError
		if !errors.As(rw.Warnings[i], &upe) || upe.Param != want || !IsRecoverable(rw.Warnings[i]) {
			t.Errorf("warning %d = %v, want unmapped %s", i, rw.Warnings[i], want)
		}
	}
	if !strings.Contains(rw.Warnings[0].Error(), "ap_none") {
		t.Errorf("warning should name the mode: %v", rw.Warnings[0])
	}
}

func TestRewriteTopChannelArrays(t *testing.T) {
	top, g, channels, ifaces := prepareTop(t, `void fan(hls::stream<int> out[4]) {
	for (int i = 0; i < 4; i++) out[i].write(i);
}

void top(hls::stream<int> sink[4]) {
#pragma HLS DATAFLOW
#pragma HLS STREAM variable=lanes depth=8
	hls::stream<int> lanes[4];
	fan(lanes);
	fan(sink);
}
`, "top")
	rw, err := RewriteTop(top, g, channels, ifaces, RewriteOptions{})
	if err != nil {
		t.Fatalf("RewriteTop: %v", err)
	}
	for _, want := range []string{
		"void top(tapa::ostreams<int, 4>& sink) {",
		`tapa::streams<int, 4, 8> lanes("lanes");`,
		".invoke(fan, lanes)",
	} {
		if !strings.Contains(rw.Text, want) {
			t.Errorf("missing %q in:\n%s", want, rw.Text)
		}
	}
}

func TestRewriteTopSectionOrder(t *testing.T) {
	top, g, channels, ifaces := prepareTop(t, `void a(hls::stream<int> &o) { o.write(1); }
void b(hls::stream<int> &i, hls::stream<int> &o) { o.write(i.read()); }
void c(hls::stream<int> &i) { int v = i.read(); }

void top() {
#pragma HLS STREAM variable=y depth=4
	hls::stream<int> x;
	hls::stream<int> y;
	a(x);
	b(x, y);
	c(y);
}
`, "top")
	rw, err := RewriteTop(top, g, channels, ifaces, RewriteOptions{StreamNamespace: "tapa", Indent: "\t"})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(rw.Text, "\n")
	want := []string{
		"void top() {",
		"\ttapa::stream<int, 4> y(\"y\");",
		"\ttapa::stream<int, 2> x(\"x\");",
		"",
		"\ttapa::task()",
		"\t\t.invoke(a, x)",
		"\t\t.invoke(b, x, y)",
		"\t\t.invoke(c, y)",
		"\t\t;",
		"}",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("got:\n%s", rw.Text)
	}
}

func TestRewriteTopErrors(t *testing.T) {
	top, g, _, ifaces := prepareTop(t, `void top(hls::stream<int> &s) {
	int n = 0;
}
`, "top")

	_, err := RewriteTop(top, g, nil, ifaces, RewriteOptions{})
	var ude *UnresolvedDirectionError
	if !errors.As(err, &ude) || ude.Param != "s" {
		t.Errorf("expected UnresolvedDirectionError, got %v", err)
	}

	_, err = RewriteTop(top, g, []*ChannelDecl{{Name: "s", Depth: 2}}, ifaces, RewriteOptions{})
	var mcte *MissingChannelTypeError
	if !errors.As(err, &mcte) || mcte.Channel != "s" {
		t.Errorf("expected MissingChannelTypeError, got %v", err)
	}
}
