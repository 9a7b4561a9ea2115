package pipeline

import (
	"log/slog"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/tapaconv/internal/parser"
)

// TaskGraph holds the caller→callee task edges of a catalog.
type TaskGraph struct {
	order []*Function
	tasks map[*Function][]*Task
}

// Tasks returns the tasks invoked by fn in source order.
func (g *TaskGraph) Tasks(fn *Function) []*Task {
	return g.tasks[fn]
}

// Edges returns every task, grouped by caller in function order.
func (g *TaskGraph) Edges() []*Task {
	var out []*Task
	for _, fn := range g.order {
		out = append(out, g.tasks[fn]...)
	}
	return out
}

// Len returns the total number of tasks.
func (g *TaskGraph) Len() int {
	n := 0
	for _, ts := range g.tasks {
		n += len(ts)
	}
	return n
}

// BuildTaskGraph finds, in every function body, the calls that name another
// cataloged function. Every call site is its own Task; channel method calls
// and self-recursion are not tasks.
func BuildTaskGraph(functions []*Function) (*TaskGraph, error) {
	byName := make(map[string][]*Function)
	for _, fn := range functions {
		byName[fn.Name] = append(byName[fn.Name], fn)
	}

	g := &TaskGraph{order: functions, tasks: make(map[*Function][]*Task, len(functions))}
	for _, fn := range functions {
		tasks, err := collectTasks(fn, byName)
		if err != nil {
			return nil, err
		}
		g.tasks[fn] = tasks
	}
	slog.Debug("tasks.graph", "functions", len(functions), "tasks", g.Len())
	return g, nil
}

func collectTasks(fn *Function, byName map[string][]*Function) ([]*Task, error) {
	var tasks []*Task
	var firstErr error
	parser.Walk(fn.body, func(node *tree_sitter.Node) bool {
		if firstErr != nil {
			return false
		}
		if node.Kind() != "call_expression" {
			return true
		}
		name := calleeName(node.ChildByFieldName("function"), fn.source)
		if name == "" || name == fn.Name {
			return true
		}
		candidates := byName[name]
		if len(candidates) == 0 {
			return true
		}

		args := callArgs(node.ChildByFieldName("arguments"), fn.source)
		target := pickOverload(candidates, len(args))
		if target == nil {
			firstErr = &ArityMismatchError{
				Caller: fn.Name,
				Callee: name,
				Args:   len(args),
				Params: len(candidates[0].Params),
				Line:   parser.Line(node),
			}
			return false
		}
		tasks = append(tasks, &Task{
			Callee: name,
			Args:   args,
			Caller: fn,
			Target: target,
			Pos:    node.StartByte(),
			Line:   parser.Line(node),
		})
		return true
	})
	return tasks, firstErr
}

// calleeName returns the called name for plain and explicitly instantiated
// calls. Member calls (x.read()) have no callee name.
func calleeName(callee *tree_sitter.Node, source []byte) string {
	if callee == nil {
		return ""
	}
	switch callee.Kind() {
	case "identifier":
		return parser.NodeText(callee, source)
	case "template_function":
		if name := callee.ChildByFieldName("name"); name != nil {
			return parser.NodeText(name, source)
		}
	}
	return ""
}

func callArgs(list *tree_sitter.Node, source []byte) []string {
	var args []string
	for _, arg := range parser.NamedChildren(list) {
		if arg.Kind() == "comment" {
			continue
		}
		args = append(args, strings.TrimSpace(parser.NodeText(arg, source)))
	}
	return args
}

func pickOverload(candidates []*Function, arity int) *Function {
	for _, c := range candidates {
		if len(c.Params) == arity {
			return c
		}
	}
	return nil
}
