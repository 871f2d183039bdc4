package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"runtime"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	contextType       = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType         = reflect.TypeOf((*error)(nil)).Elem()
	invokeMessageType = reflect.TypeOf(InvokeMessage{})
)

// FuncTool adapts a plain Go function into a Tool. Supported signatures are
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//	func(context.Context) (Result, error)
//
// where the error return is optional. The parameter schema is reflected from Input.
// A Result of type string, InvokeMessage or []InvokeMessage is passed through as tool
// output; anything else is returned as its JSON encoding.
type FuncTool struct {
	def       Definition
	fn        reflect.Value
	inputType reflect.Type
	takesCtx  bool
}

var _ Tool = (*FuncTool)(nil)

func NewFuncTool(name string, description string, fn interface{}) (*FuncTool, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be an error")
	}

	t := &FuncTool{fn: reflect.ValueOf(fn)}
	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) == contextType {
			t.takesCtx = true
		} else {
			t.inputType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		t.takesCtx = true
		t.inputType = funcType.In(1)
	default:
		return nil, errors.New("function must take (Input), (context.Context) or (context.Context, Input)")
	}

	if name == "" {
		name = funcName(t.fn)
		if name == "" {
			return nil, errors.New("tool name is required for anonymous functions")
		}
	}

	t.def = Definition{
		Name:        name,
		Description: description,
		Parameters:  schemaFor(t.inputType),
	}
	return t, nil
}

// funcName derives a snake_case tool name from the name of a declared function.
func funcName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	// closures are named func1, func2, ...
	if strings.HasPrefix(name, "func") || strings.HasSuffix(name, "-fm") {
		return ""
	}
	return strcase.ToSnake(name)
}

func schemaFor(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

func (t *FuncTool) Definition() Definition {
	return t.def
}

func (t *FuncTool) Invoke(ctx context.Context, user string, args map[string]any) ([]InvokeMessage, error) {
	var in []reflect.Value
	if t.takesCtx {
		in = append(in, reflect.ValueOf(WithUser(ctx, user)))
	}
	if t.inputType != nil {
		input := reflect.New(t.inputType)
		if len(args) > 0 {
			b, err := json.Marshal(args)
			if err != nil {
				return nil, NewParameterError(err.Error())
			}
			if err := json.Unmarshal(b, input.Interface()); err != nil {
				return nil, NewParameterError(err.Error())
			}
		}
		in = append(in, input.Elem())
	}

	log.Debug().Str("tool", t.def.Name).Int("num_in", len(in)).Msg("tools: calling function")
	results := t.fn.Call(in)

	if len(results) == 2 && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return toInvokeMessages(results[0])
}

func toInvokeMessages(v reflect.Value) ([]InvokeMessage, error) {
	switch {
	case v.Type() == invokeMessageType:
		return []InvokeMessage{v.Interface().(InvokeMessage)}, nil
	case v.Kind() == reflect.Slice && v.Type().Elem() == invokeMessageType:
		return v.Interface().([]InvokeMessage), nil
	case v.Kind() == reflect.String:
		return []InvokeMessage{TextMessage(v.String())}, nil
	}
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, NewInvocationError(errors.Wrap(err, "could not encode result"))
	}
	return []InvokeMessage{TextMessage(string(b))}, nil
}
