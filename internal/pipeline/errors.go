package pipeline

import (
	"fmt"
	"strings"
)

// UnbalancedBodyError: a function body's braces never return to depth zero.
type UnbalancedBodyError struct {
	Function string
	Line     int
}

func (e *UnbalancedBodyError) Error() string {
	return fmt.Sprintf("function %s (line %d): unbalanced body delimiters", e.Function, e.Line)
}

// MalformedParameterError: a raw parameter has no trailing identifier, or
// its name is not unique.
type MalformedParameterError struct {
	Function string
	Raw      string
	Reason   string
}

func (e *MalformedParameterError) Error() string {
	return fmt.Sprintf("function %s: malformed parameter %q: %s", e.Function, e.Raw, e.Reason)
}

// UnrecognizedPragmaError: the directive lacks the `#pragma HLS` marker.
type UnrecognizedPragmaError struct {
	Raw string
}

func (e *UnrecognizedPragmaError) Error() string {
	return fmt.Sprintf("unrecognized pragma %q", e.Raw)
}

// MissingPropertyError: a required pragma key is absent or unusable.
type MissingPropertyError struct {
	Pragma string
	Key    string
	Value  string
	Line   int
}

func (e *MissingPropertyError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("pragma %s (line %d): invalid %s=%q", e.Pragma, e.Line, e.Key, e.Value)
	}
	return fmt.Sprintf("pragma %s (line %d): missing %q", e.Pragma, e.Line, e.Key)
}

// UnresolvedChannelTypeError: a declared channel has no unique declaration site.
type UnresolvedChannelTypeError struct {
	Channel string
	Reason  string
}

func (e *UnresolvedChannelTypeError) Error() string {
	return fmt.Sprintf("channel %s: cannot resolve element type: %s", e.Channel, e.Reason)
}

// ChannelMisuseError: a channel would be both read and written.
type ChannelMisuseError struct {
	Function string
	Param    string
	Have     Direction
	Want     Direction
}

func (e *ChannelMisuseError) Error() string {
	return fmt.Sprintf("function %s: channel %s used as %s and %s", e.Function, e.Param, e.Have, e.Want)
}

// NonConvergenceError: the call pass kept updating past the iteration bound.
type NonConvergenceError struct {
	Iterations int
	Pending    []string // "function.param" updated by the last pass
}

func (e *NonConvergenceError) Error() string {
	msg := fmt.Sprintf("direction propagation did not converge within %d passes", e.Iterations)
	if len(e.Pending) > 0 {
		msg += " (still updating " + strings.Join(e.Pending, ", ") + ")"
	}
	return msg
}

// MissingChannelTypeError: a channel reached the rewriter without an element type.
type MissingChannelTypeError struct {
	Channel string
}

func (e *MissingChannelTypeError) Error() string {
	return fmt.Sprintf("channel %s: element type was never resolved", e.Channel)
}

// UnmappedPointerError is recoverable: the pointer parameter stays as written.
type UnmappedPointerError struct {
	Function string
	Param    string
	Reason   string
}

func (e *UnmappedPointerError) Error() string {
	return fmt.Sprintf("function %s: pointer %s left unconverted: %s", e.Function, e.Param, e.Reason)
}

// UnsupportedChannelError: a channel is spelled in a form with no task
// dialect equivalent, such as a pointer to a channel.
type UnsupportedChannelError struct {
	Function string
	Name     string
	Line     int
	Reason   string
}

func (e *UnsupportedChannelError) Error() string {
	msg := fmt.Sprintf("channel %s (line %d): %s", e.Name, e.Line, e.Reason)
	if e.Function != "" {
		msg = "function " + e.Function + ": " + msg
	}
	return msg
}

// ArityMismatchError: a call passes a different number of arguments than the
// callee declares.
type ArityMismatchError struct {
	Caller string
	Callee string
	Args   int
	Params int
	Line   int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("function %s (line %d): call to %s passes %d arguments, want %d",
		e.Caller, e.Line, e.Callee, e.Args, e.Params)
}

// DuplicateChannelError: two STREAM pragmas disagree about one channel.
type DuplicateChannelError struct {
	Channel     string
	First, Then int // depths
}

func (e *DuplicateChannelError) Error() string {
	return fmt.Sprintf("channel %s: conflicting depths %d and %d", e.Channel, e.First, e.Then)
}

// UnresolvedDirectionError: a channel parameter never got a direction.
type UnresolvedDirectionError struct {
	Function string
	Param    string
}

func (e *UnresolvedDirectionError) Error() string {
	return fmt.Sprintf("function %s: channel %s is never read or written", e.Function, e.Param)
}

// TopNotFoundError: the top function is missing or could not be inferred.
type TopNotFoundError struct {
	Name       string
	Candidates []string
}

func (e *TopNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("top function %s not found", e.Name)
	}
	if len(e.Candidates) == 0 {
		return "no function carries #pragma HLS DATAFLOW; pass the top function name"
	}
	return fmt.Sprintf("several DATAFLOW functions (%s); pass the top function name",
		strings.Join(e.Candidates, ", "))
}

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
