package pipeline

import (
	"log/slog"
	"strings"
	"unicode"
)

// DefaultMaxIterations bounds the call passes of Propagate.
const DefaultMaxIterations = 10

// PropagateOptions configures Propagate.
type PropagateOptions struct {
	MaxIterations int
	Operations    OperationSet
}

func (o PropagateOptions) maxIterations() int {
	if o.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return o.MaxIterations
}

// PropagateStats reports the work done by Propagate.
type PropagateStats struct {
	LocalUpdates int `json:"local_updates"`
	// CallPasses counts call passes that changed at least one parameter.
	CallPasses  int `json:"call_passes"`
	CallUpdates int `json:"call_updates"`
}

// Propagate resolves channel directions to a fixed point.
//
// One local pass applies each function's own channel operations, then call
// passes copy resolved callee directions up to the caller parameters passed
// at each task site, until a pass changes nothing. Directions only move up
// from Unknown; a resolved parameter asked to take the other direction is a
// ChannelMisuseError. Passes beyond MaxIterations are a NonConvergenceError.
func Propagate(functions []*Function, graph *TaskGraph, opts PropagateOptions) (PropagateStats, error) {
	var stats PropagateStats

	n, err := localPass(functions, opts.Operations)
	if err != nil {
		return stats, err
	}
	stats.LocalUpdates = n

	limit := opts.maxIterations()
	edges := graph.Edges()
	var pending []string
	for pass := 0; ; pass++ {
		if pass >= limit {
			return stats, &NonConvergenceError{Iterations: limit, Pending: pending}
		}
		updated, err := callPass(edges)
		if err != nil {
			return stats, err
		}
		slog.Debug("propagate.pass", "pass", pass+1, "updates", len(updated))
		if len(updated) == 0 {
			break
		}
		stats.CallPasses++
		stats.CallUpdates += len(updated)
		pending = updated
	}
	return stats, nil
}

func localPass(functions []*Function, ops OperationSet) (int, error) {
	updates := 0
	for _, fn := range functions {
		facts, err := ScanOperations(fn, ops)
		if err != nil {
			return updates, err
		}
		for _, name := range sortedKeys(fn, facts) {
			changed, err := assignDirection(fn, fn.Param(name), facts[name])
			if err != nil {
				return updates, err
			}
			if changed {
				updates++
			}
		}
	}
	return updates, nil
}

// callPass visits every task once and returns "function.param" for each
// caller parameter it resolved.
func callPass(edges []*Task) ([]string, error) {
	var updated []string
	for _, t := range edges {
		for i, calleeParam := range t.Target.Params {
			if calleeParam.Type.Kind != Channel || !calleeParam.Type.Dir.Resolved() {
				continue
			}
			callerParam := t.Caller.Param(argVariable(t.Args[i]))
			if callerParam == nil || callerParam.Type.Kind != Channel {
				continue
			}
			changed, err := assignDirection(t.Caller, callerParam, calleeParam.Type.Dir)
			if err != nil {
				return nil, err
			}
			if changed {
				updated = append(updated, t.Caller.Name+"."+callerParam.Name)
			}
		}
	}
	return updated, nil
}

// assignDirection moves p from Unknown to dir. It reports whether anything
// changed; a conflicting resolved direction is an error.
func assignDirection(fn *Function, p *Parameter, dir Direction) (bool, error) {
	switch {
	case p.Type.Dir == dir || !dir.Resolved():
		return false, nil
	case p.Type.Dir != Unknown:
		return false, &ChannelMisuseError{Function: fn.Name, Param: p.Name, Have: p.Type.Dir, Want: dir}
	}
	next := *p
	next.Type.Dir = dir
	if err := fn.UpdateParam(&next); err != nil {
		return false, err
	}
	slog.Debug("propagate.update", "function", fn.Name, "param", p.Name, "dir", dir)
	return true, nil
}

// argVariable returns the variable an argument passes: the argument itself,
// or the array of an element argument such as s[i].
func argVariable(arg string) string {
	arg = strings.TrimSpace(arg)
	base, _, ok := strings.Cut(arg, "[")
	if !ok || !strings.HasSuffix(arg, "]") {
		return arg
	}
	base = strings.TrimSpace(base)
	for i, r := range base {
		if r != '_' && !unicode.IsLetter(r) && (i == 0 || !unicode.IsDigit(r)) {
			return arg
		}
	}
	return base
}
