package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/DeusData/tapaconv/internal/lang"
	"github.com/DeusData/tapaconv/internal/parser"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func printAST(node *tree_sitter.Node, source []byte, indent int, named bool) {
	if node == nil {
		return
	}
	if named && !node.IsNamed() {
		return
	}
	prefix := strings.Repeat("  ", indent)
	field := ""
	if p := node.Parent(); p != nil {
		for i := uint(0); i < p.ChildCount(); i++ {
			if c := p.Child(i); c != nil && c.Id() == node.Id() {
				if name := p.FieldNameForChild(uint32(i)); name != "" {
					field = name + ": "
				}
				break
			}
		}
	}
	text := parser.NodeText(node, source)
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	marker := ""
	if node.IsError() || node.IsMissing() {
		marker = " !"
	}
	fmt.Printf("%s%s%s [%d]%s %q\n", prefix, field, node.Kind(), parser.Line(node), marker, text)
	for i := uint(0); i < node.ChildCount(); i++ {
		printAST(node.Child(i), source, indent+1, named)
	}
}

// ast_debug dumps the C++ syntax tree of kernel files, with field names
// and line numbers, for checking which node kinds the converter sees.
func main() {
	named := flag.Bool("named", false, "only print named nodes")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ast_debug [-named] <kernel.cpp>...")
		os.Exit(2)
	}

	status := 0
	for _, path := range flag.Args() {
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			status = 1
			continue
		}
		fmt.Printf("=== %s ===\n", path)
		tree, err := parser.Parse(lang.CPP, source)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			status = 1
			continue
		}
		printAST(tree.RootNode(), source, 0, *named)
		tree.Close()
	}
	os.Exit(status)
}
