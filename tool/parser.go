package tool

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/hupe1980/agentpipe/core"
	"github.com/hupe1980/agentpipe/internal/util"
)

// Parser validates tool calls against a catalog and binds their arguments.
type Parser struct {
	catalog *Catalog
}

// NewParser creates a parser over catalog.
func NewParser(catalog *Catalog) *Parser {
	return &Parser{catalog: catalog}
}

// Catalog returns the catalog the parser resolves names against.
func (p *Parser) Catalog() *Catalog { return p.catalog }

// ParseToolParams resolves the named tool and binds the JSON arguments object
// to its value parameters in declaration order. Every problem found is
// reported: a single failure as *ValidationError, several as
// *AggregateValidationError.
func (p *Parser) ParseToolParams(name string, raw json.RawMessage) ([]any, error) {
	t, ok := p.catalog.Lookup(name)
	if !ok {
		return nil, &ValidationError{Tool: name, Message: "unknown tool", Err: ErrToolNotFound}
	}

	args := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &args); err != nil {
			return nil, &ValidationError{Tool: t.name, Message: "arguments must be a JSON object", Err: err}
		}
	}

	params := t.valueParams()
	if len(params) == 1 && params[0].complex && params[0].required() && len(args) > 0 {
		if _, nested := args[params[0].spec.Name]; !nested {
			args = map[string]json.RawMessage{params[0].spec.Name: json.RawMessage(trimmed)}
		}
	}

	values := make([]any, 0, len(params))
	var errs []*ValidationError
	for _, prm := range params {
		v, verr := bindParam(t.name, prm, args)
		if verr != nil {
			errs = append(errs, verr)
			continue
		}
		values = append(values, v)
	}
	if err := joinValidation(t.name, errs); err != nil {
		return nil, err
	}
	return values, nil
}

func bindParam(tool string, prm param, args map[string]json.RawMessage) (any, *ValidationError) {
	name := prm.spec.Name
	raw, present := args[name]
	isNull := present && bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	if !present || (isNull && prm.spec.Nullable) {
		switch {
		case prm.spec.HasDefault:
			return prm.def.Interface(), nil
		case prm.spec.Nullable:
			return nil, nil
		default:
			return nil, &ValidationError{Tool: tool, Param: name, Message: "required parameter is missing"}
		}
	}

	if err := util.ValidateJSON(prm.validator, raw); err != nil {
		return nil, &ValidationError{Tool: tool, Param: name, Message: err.Error(), Err: err}
	}
	ptr := reflect.New(prm.typ)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, &ValidationError{Tool: tool, Param: name, Message: err.Error(), Err: err}
	}
	return ptr.Elem().Interface(), nil
}

// Validate resolves call against the catalog, canonicalizes its name and
// binds its Parameters. Text-only calls are left untouched.
func (p *Parser) Validate(call *core.ToolCall) error {
	if call.IsTextOnly() {
		return nil
	}
	values, err := p.ParseToolParams(call.Name, call.Arguments)
	if err != nil {
		return err
	}
	if t, ok := p.catalog.Lookup(call.Name); ok {
		call.Name = t.name
	}
	if len(bytes.TrimSpace(call.Arguments)) == 0 {
		call.Arguments = json.RawMessage("{}")
	}
	call.Parameters = values
	return nil
}
