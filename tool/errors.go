package tool

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrToolNotFound is returned when a name does not resolve in the catalog.
	ErrToolNotFound = errors.New("tool not found")
	// ErrIncompatible marks a callable whose signature cannot be exposed as a tool.
	ErrIncompatible = errors.New("incompatible tool signature")
)

// Error codes carried by ExecutionError.
const (
	CodeNotFound  = "TOOL_NOT_FOUND"
	CodeArity     = "ARITY_MISMATCH"
	CodeExecution = "EXECUTION_ERROR"
	CodePanic     = "PANIC"
)

// ValidationError reports a single bad or missing parameter. Param is empty
// when the failure concerns the call as a whole (unknown tool, arguments not
// being a JSON object).
type ValidationError struct {
	Tool    string `json:"tool"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("invalid call of %s: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("invalid parameter %q of %s: %s", e.Param, e.Tool, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AggregateValidationError collects every parameter failure of one call.
type AggregateValidationError struct {
	Tool   string
	Errors []*ValidationError
}

func (e *AggregateValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = fmt.Sprintf("%q: %s", ve.Param, ve.Message)
	}
	return fmt.Sprintf("invalid parameters of %s: %s", e.Tool, strings.Join(parts, "; "))
}

// Params returns the names of the offending parameters in declaration order.
func (e *AggregateValidationError) Params() []string {
	out := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		out[i] = ve.Param
	}
	return out
}

func (e *AggregateValidationError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, ve := range e.Errors {
		out[i] = ve
	}
	return out
}

// ExecutionError wraps a failure raised while invoking a tool.
type ExecutionError struct {
	Tool string `json:"tool"`
	Code string `json:"code"`
	Err  error  `json:"-"`
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %v", e.Code, e.Tool, e.Err)
	}
	return fmt.Sprintf("tool error in %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// panicError converts a recovered panic value to an error carrying the stack.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic: %v", p.val) }

// Stack returns the goroutine stack captured at recovery.
func (p *panicErr) Stack() []byte { return p.stack }

// joinValidation returns nil, the single error, or an aggregate.
func joinValidation(tool string, errs []*ValidationError) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &AggregateValidationError{Tool: tool, Errors: errs}
	}
}
