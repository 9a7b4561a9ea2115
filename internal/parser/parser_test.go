package parser

import (
	"testing"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/tapaconv/internal/lang"
)

func TestParseCPP(t *testing.T) {
	source := []byte(`#include <hls_stream.h>

void producer(hls::stream<int> &out, int n) {
	for (int i = 0; i < n; i++) {
		out.write(i);
	}
}

void consumer(hls::stream<int> &in, int *dst, int n) {
	for (int i = 0; i < n; i++) {
		dst[i] = in.read();
	}
}
`)
	tree, err := Parse(lang.CPP, source)
	if err != nil {
		t.Fatalf("Parse C++: %v", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		t.Fatal("root node is nil")
	}

	var funcCount, callCount int
	Walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "function_definition":
			funcCount++
		case "call_expression":
			callCount++
		}
		return true
	})
	if funcCount != 2 {
		t.Errorf("expected 2 function_definitions, got %d", funcCount)
	}
	if callCount != 2 {
		t.Errorf("expected 2 call_expressions, got %d", callCount)
	}
}

func TestTokensSkipBracesInLiterals(t *testing.T) {
	source := []byte(`void f() {
	const char *s = "{{";
	char c = '}';
	// }
	/* { */
}
`)
	tree, err := Parse(lang.CPP, source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer tree.Close()

	var open, closing int
	for _, tok := range Tokens(tree.RootNode()) {
		switch tok.Kind {
		case "{":
			open++
		case "}":
			closing++
		}
	}
	if open != 1 || closing != 1 {
		t.Errorf("brace tokens = %d/%d, want 1/1", open, closing)
	}
}

func TestFindChildByKind(t *testing.T) {
	source := []byte("int add(int a, int b) { return a + b; }\n")
	tree, err := Parse(lang.CPP, source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer tree.Close()

	fn := FindChildByKind(tree.RootNode(), "function_definition")
	if fn == nil {
		t.Fatal("function_definition not found")
	}
	if got := Line(fn); got != 1 {
		t.Errorf("Line = %d, want 1", got)
	}
	body := fn.ChildByFieldName("body")
	if body == nil || body.Kind() != "compound_statement" {
		t.Fatalf("body = %v, want compound_statement", body)
	}
	if FindChildByKind(fn, "class_specifier") != nil {
		t.Error("unexpected class_specifier child")
	}
}

func TestParseUnsupportedLanguage(t *testing.T) {
	if _, err := Parse(lang.Language("py"), []byte("x = 1\n")); err == nil {
		t.Error("expected error for an unregistered language")
	}
}
