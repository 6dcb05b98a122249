package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hupe1980/agentpipe/internal/util"
	"github.com/hupe1980/agentpipe/model"
)

// ExecuteInto runs req in structured mode and decodes the result into T.
// The result schema is derived from T unless req.ResultSchema is already
// set. A cancelled request returns the zero T, the cancelled response and a
// nil error.
func ExecuteInto[T any](ctx context.Context, e *Executor, req model.Request) (T, *Response, error) {
	var zero T

	req.Output = model.OutputStructured
	if req.ResultSchema == nil {
		schema, err := util.SchemaForType(reflect.TypeOf((*T)(nil)).Elem())
		if err != nil {
			return zero, nil, fmt.Errorf("failed to derive result schema: %w", err)
		}
		req.ResultSchema = schema
	}

	var result T
	resp, err := e.execute(ctx, req, func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return zero, resp, err
	}
	if resp.Cancelled() || resp.Structured == nil {
		return zero, resp, nil
	}
	return result, resp, nil
}
