package tool

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/logging"
)

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	Logger logging.Logger
}

// Runtime invokes validated tool calls.
type Runtime struct {
	catalog *Catalog
	parser  *Parser
	logger  logging.Logger
}

// NewRuntime creates a runtime over catalog.
func NewRuntime(catalog *Catalog, optFns ...func(o *RuntimeOptions)) *Runtime {
	opts := RuntimeOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runtime{catalog: catalog, parser: NewParser(catalog), logger: opts.Logger}
}

// Invoke runs the tool named by call. Parameters are bound positionally, with
// ctx injected into context.Context positions; an unvalidated call has its
// arguments parsed first. Failures come back as *ExecutionError, except
// context cancellation which is returned unwrapped.
func (r *Runtime) Invoke(ctx context.Context, call core.ToolCall) (any, error) {
	t, ok := r.catalog.Lookup(call.Name)
	if !ok {
		return nil, &ExecutionError{Tool: call.Name, Code: CodeNotFound, Err: ErrToolNotFound}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := call.Parameters
	if params == nil {
		parsed, err := r.parser.ParseToolParams(t.name, call.Arguments)
		if err != nil {
			return nil, &ExecutionError{Tool: t.name, Code: CodeExecution, Err: err}
		}
		params = parsed
	}

	args, err := bindArgs(ctx, t, params)
	if err != nil {
		return nil, &ExecutionError{Tool: t.name, Code: CodeArity, Err: err}
	}

	start := time.Now()
	result, err := r.call(ctx, t, args)
	dur := time.Since(start)
	if err != nil {
		if isCancellation(ctx, err) {
			r.logger.Debug("tool.invoke.cancelled", "tool", t.name, "duration", dur)
			return nil, err
		}
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			code := CodeExecution
			var pe *panicErr
			if errors.As(err, &pe) {
				code = CodePanic
			}
			execErr = &ExecutionError{Tool: t.name, Code: code, Err: err}
		}
		r.logger.Debug("tool.invoke.failed", "tool", t.name, "duration", dur, "error", execErr.Error())
		return nil, execErr
	}
	r.logger.Debug("tool.invoke.done", "tool", t.name, "duration", dur)
	return result, nil
}

// HandleToolCall invokes call and captures the outcome as data. Text-only
// calls produce an empty result without touching the catalog.
func (r *Runtime) HandleToolCall(ctx context.Context, call core.ToolCall) core.ToolCallResult {
	if call.IsTextOnly() {
		return core.NewToolResult(call, nil)
	}
	result, err := r.Invoke(ctx, call)
	if err != nil {
		return core.NewToolFailure(call, err)
	}
	return core.NewToolResult(call, result)
}

// isCancellation reports whether err stems from ctx ending. A tool's own
// timeout while ctx is still live is an execution failure.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func bindArgs(ctx context.Context, t *Tool, params []any) ([]reflect.Value, error) {
	values := t.valueParams()
	if len(params) != len(values) {
		return nil, fmt.Errorf("expected %d parameters, got %d", len(values), len(params))
	}
	args := make([]reflect.Value, 0, len(t.params))
	next := 0
	for _, p := range t.params {
		if p.cancel {
			args = append(args, reflect.ValueOf(&ctx).Elem())
			continue
		}
		v, err := convertValue(params[next], p.typ)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.spec.Name, err)
		}
		args = append(args, v)
		next++
	}
	return args, nil
}

func (r *Runtime) call(ctx context.Context, t *Tool, args []reflect.Value) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
			r.logger.Error("tool.invoke.panic", "tool", t.name, "recover", rec)
		}
	}()

	out := t.fn.Call(args)

	switch t.returns {
	case returnNone:
		return nil, nil
	case returnError:
		return nil, asError(out[0])
	case returnValueError:
		if err := asError(out[1]); err != nil {
			return nil, err
		}
	}
	if t.async {
		return awaitResult(ctx, out[0])
	}
	return out[0].Interface(), nil
}

func awaitResult(ctx context.Context, v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	return v.Interface().(awaiter).await(ctx)
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
