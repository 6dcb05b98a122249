// Package tool implements the tool catalog, the tool call parser and the tool
// runtime.
//
// A tool is a plain Go function registered under a namespaced name
// ("Scope.Method"). Its parameter list is turned into a JSON schema once at
// registration; afterwards the Parser binds JSON arguments to a positional
// argument list and the Runtime invokes the function with it, injecting the
// invocation context into context.Context positions.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hupe1980/agentpipe/internal/util"
	"github.com/hupe1980/agentpipe/model"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParamSpec describes one non-context parameter of a tool function. Go does
// not expose parameter names through reflection so they are declared here,
// in order.
type ParamSpec struct {
	Name        string
	Description string
	// Default is used when the argument is absent. HasDefault distinguishes
	// an explicit zero default from no default.
	Default    any
	HasDefault bool
	// Nullable parameters bind to their zero value when absent.
	Nullable bool
}

// Param is a shorthand for a required parameter.
func Param(name, description string) ParamSpec {
	return ParamSpec{Name: name, Description: description}
}

// OptionalParam declares a parameter with a default value.
func OptionalParam(name, description string, def any) ParamSpec {
	return ParamSpec{Name: name, Description: description, Default: def, HasDefault: true}
}

// Definition registers a function as a tool.
type Definition struct {
	Scope       string // Declaring scope, e.g. "MathTools"
	Method      string // Method name, e.g. "Add"
	Description string
	Fn          any
	Params      []ParamSpec
}

// Name returns the namespaced tool name.
func (d Definition) Name() string {
	if d.Scope == "" {
		return d.Method
	}
	return d.Scope + "." + d.Method
}

type returnShape int

const (
	returnNone returnShape = iota
	returnError
	returnValue
	returnValueError
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// param is the compiled descriptor of one function parameter.
type param struct {
	spec      ParamSpec
	typ       reflect.Type
	cancel    bool // context.Context slot, filled by the runtime
	complex   bool
	def       reflect.Value
	schema    map[string]any
	validator *jsonschema.Schema
}

func (p param) required() bool { return !p.spec.HasDefault && !p.spec.Nullable }

// Tool is a registered, immutable tool.
type Tool struct {
	name        string
	description string
	fn          reflect.Value
	params      []param
	returns     returnShape
	async       bool
	schema      map[string]any
}

// Name returns the namespaced tool name.
func (t *Tool) Name() string { return t.name }

// Description returns the description exposed to the model.
func (t *Tool) Description() string { return t.description }

// Schema returns the JSON schema of the tool arguments object.
func (t *Tool) Schema() map[string]any { return t.schema }

// Definition returns the tool in provider request form.
func (t *Tool) Definition() model.ToolDefinition {
	return model.NewToolDefinition(t.name, t.description, t.schema)
}

// Async reports whether the tool completes asynchronously through a Promise.
func (t *Tool) Async() bool { return t.async }

// valueParams returns the parameters bound from JSON, in order.
func (t *Tool) valueParams() []param {
	out := make([]param, 0, len(t.params))
	for _, p := range t.params {
		if !p.cancel {
			out = append(out, p)
		}
	}
	return out
}

func newTool(def Definition) (*Tool, error) {
	name := def.Name()
	if def.Method == "" {
		return nil, fmt.Errorf("tool definition without method name")
	}
	if def.Fn == nil {
		return nil, fmt.Errorf("tool %s: nil function", name)
	}
	fn := reflect.ValueOf(def.Fn)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("tool %s: %w: %s is not a function", name, ErrIncompatible, ft)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("tool %s: %w: variadic parameters", name, ErrIncompatible)
	}

	t := &Tool{name: name, description: def.Description, fn: fn}

	specs := def.Params
	for i := 0; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if in == contextType {
			t.params = append(t.params, param{typ: in, cancel: true})
			continue
		}
		if err := checkParamType(in); err != nil {
			return nil, fmt.Errorf("tool %s: %w: parameter %d: %v", name, ErrIncompatible, i, err)
		}
		if len(specs) == 0 {
			return nil, fmt.Errorf("tool %s: missing ParamSpec for parameter %d (%s)", name, i, in)
		}
		p, err := compileParam(specs[0], in)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		specs = specs[1:]
		t.params = append(t.params, p)
	}
	if len(specs) > 0 {
		return nil, fmt.Errorf("tool %s: %d ParamSpecs do not match any parameter", name, len(specs))
	}

	shape, async, err := classifyReturns(ft)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w: %v", name, ErrIncompatible, err)
	}
	t.returns, t.async = shape, async
	t.schema = buildSchema(t.params)
	return t, nil
}

func checkParamType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Pointer, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128, reflect.Uintptr:
		return fmt.Errorf("unsupported kind %s", t.Kind())
	}
	return nil
}

func isComplexKind(k reflect.Kind) bool {
	switch k {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func compileParam(spec ParamSpec, typ reflect.Type) (param, error) {
	if spec.Name == "" {
		return param{}, fmt.Errorf("parameter of type %s has no name", typ)
	}
	schema, err := util.SchemaForType(typ)
	if err != nil {
		return param{}, err
	}
	validator, err := util.CompileSchema(schema)
	if err != nil {
		return param{}, fmt.Errorf("parameter %q: %w", spec.Name, err)
	}
	p := param{
		spec:      spec,
		typ:       typ,
		complex:   isComplexKind(typ.Kind()),
		schema:    schema,
		validator: validator,
	}
	if spec.HasDefault {
		v, err := convertValue(spec.Default, typ)
		if err != nil {
			return param{}, fmt.Errorf("parameter %q: default: %w", spec.Name, err)
		}
		p.def = v
	}
	return p, nil
}

func classifyReturns(ft reflect.Type) (returnShape, bool, error) {
	isAsync := func(t reflect.Type) bool { return t.Implements(awaiterType) }
	switch ft.NumOut() {
	case 0:
		return returnNone, false, nil
	case 1:
		if ft.Out(0) == errorType {
			return returnError, false, nil
		}
		return returnValue, isAsync(ft.Out(0)), nil
	case 2:
		if ft.Out(1) != errorType {
			return 0, false, fmt.Errorf("second result must be error, got %s", ft.Out(1))
		}
		return returnValueError, isAsync(ft.Out(0)), nil
	default:
		return 0, false, fmt.Errorf("too many results (%d)", ft.NumOut())
	}
}

func buildSchema(params []param) map[string]any {
	properties := map[string]any{}
	required := []any{}
	for _, p := range params {
		if p.cancel {
			continue
		}
		prop := make(map[string]any, len(p.schema)+2)
		for k, v := range p.schema {
			prop[k] = v
		}
		if p.spec.Description != "" {
			prop["description"] = p.spec.Description
		}
		if p.spec.HasDefault {
			prop["default"] = p.spec.Default
		}
		properties[p.spec.Name] = prop
		if p.required() {
			required = append(required, p.spec.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// convertValue converts v to typ. Assignable and numeric-convertible values
// are converted directly, anything else goes through a JSON round trip.
func convertValue(v any, typ reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(typ), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(typ) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(typ.Kind()) {
		return rv.Convert(typ), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(typ)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", v, typ, err)
	}
	return ptr.Elem(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
