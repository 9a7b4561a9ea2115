package pipeline

import (
	"sort"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/DeusData/tapaconv/internal/parser"
)

// OperationSet names the channel methods that read from or write to a channel.
type OperationSet struct {
	Read  []string
	Write []string
}

// DefaultOperations covers the blocking and non-blocking forms of both
// dialects. empty() is only meaningful on the consuming end and full() on the
// producing end, so they count as a read and a write.
func DefaultOperations() OperationSet {
	return OperationSet{
		Read:  []string{"read", "read_nb", "try_read", "empty"},
		Write: []string{"write", "write_nb", "try_write", "full"},
	}
}

// With returns a copy of s extended by extra read and write names.
func (s OperationSet) With(read, write []string) OperationSet {
	return OperationSet{
		Read:  append(append([]string(nil), s.Read...), read...),
		Write: append(append([]string(nil), s.Write...), write...),
	}
}

func (s OperationSet) direction(op string) Direction {
	for _, r := range s.Read {
		if r == op {
			return Input
		}
	}
	for _, w := range s.Write {
		if w == op {
			return Output
		}
	}
	return Unknown
}

// ChannelOp is one channel operation site inside a function body.
type ChannelOp struct {
	Var  string
	Op   string // method name, or ">>" / "<<"
	Dir  Direction
	Node *tree_sitter.Node // the method name or operator node
}

// channelOps lists the channel operations in fn's body whose receiver is one
// of channels. A subscripted receiver s[i] counts as s.
func channelOps(fn *Function, channels map[string]bool, ops OperationSet) []ChannelOp {
	if len(channels) == 0 || fn.body == nil {
		return nil
	}

	var out []ChannelOp
	parser.Walk(fn.body, func(node *tree_sitter.Node) bool {
		switch node.Kind() {
		case "call_expression":
			callee := node.ChildByFieldName("function")
			if callee == nil || callee.Kind() != "field_expression" {
				return true
			}
			field := callee.ChildByFieldName("field")
			name := receiverName(callee.ChildByFieldName("argument"), fn.source)
			if field == nil || name == "" {
				return true
			}
			op := parser.NodeText(field, fn.source)
			if dir := ops.direction(op); channels[name] && dir != Unknown {
				out = append(out, ChannelOp{Var: name, Op: op, Dir: dir, Node: field})
			}
		case "binary_expression":
			opNode := node.ChildByFieldName("operator")
			name := receiverName(node.ChildByFieldName("left"), fn.source)
			if opNode == nil || !channels[name] {
				return true
			}
			switch opNode.Kind() {
			case ">>":
				out = append(out, ChannelOp{Var: name, Op: ">>", Dir: Input, Node: opNode})
			case "<<":
				out = append(out, ChannelOp{Var: name, Op: "<<", Dir: Output, Node: opNode})
			}
		}
		return true
	})
	return out
}

// receiverName returns the variable an operation is applied to: an
// identifier, or the array of a subscript expression.
func receiverName(recv *tree_sitter.Node, source []byte) string {
	if recv != nil && recv.Kind() == "subscript_expression" {
		recv = recv.ChildByFieldName("argument")
	}
	if recv == nil || recv.Kind() != "identifier" {
		return ""
	}
	return parser.NodeText(recv, source)
}

func channelParamNames(fn *Function) map[string]bool {
	names := make(map[string]bool)
	for _, p := range fn.ChannelParams() {
		names[p.Name] = true
	}
	return names
}

// ScanOperations derives a direction for every Channel parameter that fn
// reads from or writes to. A parameter used both ways is a ChannelMisuseError.
func ScanOperations(fn *Function, ops OperationSet) (map[string]Direction, error) {
	facts := make(map[string]Direction)
	for _, op := range channelOps(fn, channelParamNames(fn), ops) {
		joined := Join(facts[op.Var], op.Dir)
		if joined == Both {
			return nil, &ChannelMisuseError{Function: fn.Name, Param: op.Var, Have: facts[op.Var], Want: op.Dir}
		}
		facts[op.Var] = joined
	}
	return facts, nil
}

// sortedKeys returns the fact keys in parameter order of fn.
func sortedKeys(fn *Function, facts map[string]Direction) []string {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fn.ParamIndex(keys[i]) < fn.ParamIndex(keys[j])
	})
	return keys
}
