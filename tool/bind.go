package tool

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hupe1980/swarmer/core"
	"github.com/hupe1980/swarmer/internal/util"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	identityType = reflect.TypeOf(core.Identity{})
	stringType   = reflect.TypeOf("")
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// Bind derives a Descriptor from a typed Go function. Accepted shapes:
//
//	func(caller core.Identity) (string, error)
//	func(caller core.Identity, args T) (string, error)
//	func(ctx context.Context, caller core.Identity) (string, error)
//	func(ctx context.Context, caller core.Identity, args T) (string, error)
//
// T must be a struct (or pointer to struct); its fields define the parameter
// schema as described by util.SchemaForType. The identity parameter is never
// part of the schema. Any other shape fails with ErrInvalidSignature, so a
// callable whose leading parameter is not the caller identity is rejected at
// registration time rather than at call time.
func Bind(name, description string, fn any, optFns ...func(o *Options)) (*Descriptor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: tool %s: expected a function, got %T", ErrInvalidSignature, name, fn)
	}
	t := v.Type()

	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: tool %s: variadic functions are not supported", ErrInvalidSignature, name)
	}

	if t.NumOut() != 2 || t.Out(0) != stringType || t.Out(1) != errorType {
		return nil, fmt.Errorf("%w: tool %s: must return (string, error)", ErrInvalidSignature, name)
	}

	idx := 0
	withCtx := t.NumIn() > 0 && t.In(0) == contextType
	if withCtx {
		idx++
	}

	if t.NumIn() <= idx || t.In(idx) != identityType {
		return nil, fmt.Errorf("%w: tool %s: first parameter must be core.Identity", ErrInvalidSignature, name)
	}
	idx++

	var argType reflect.Type
	switch t.NumIn() - idx {
	case 0:
	case 1:
		argType = t.In(idx)
		base := argType
		if base.Kind() == reflect.Ptr {
			base = base.Elem()
		}
		if base.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: tool %s: argument parameter must be a struct, got %s", ErrInvalidSignature, name, argType)
		}
	default:
		return nil, fmt.Errorf("%w: tool %s: too many parameters", ErrInvalidSignature, name)
	}

	schema := util.SchemaForType(argType)

	call := func(ctx context.Context, caller core.Identity, args map[string]any) (string, error) {
		in := make([]reflect.Value, 0, t.NumIn())
		if withCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		in = append(in, reflect.ValueOf(caller))

		if argType != nil {
			ptr := argType.Kind() == reflect.Ptr
			target := argType
			if ptr {
				target = argType.Elem()
			}
			arg := reflect.New(target)
			if err := util.DecodeArguments(args, arg.Interface()); err != nil {
				return "", &ToolError{Tool: name, Message: err.Error(), Code: CodeValidation}
			}
			if ptr {
				in = append(in, arg)
			} else {
				in = append(in, arg.Elem())
			}
		}

		out := v.Call(in)
		if errV := out[1].Interface(); errV != nil {
			return "", errV.(error)
		}
		return out[0].String(), nil
	}

	opts := Options{}
	for _, f := range optFns {
		f(&opts)
	}
	if opts.Source == "" {
		opts.Source = funcName(fn) + " " + t.String()
	}

	return New(name, description, schema, call, func(o *Options) { o.Source = opts.Source })
}

// MustBind is like Bind but panics on error. Intended for static tool tables.
func MustBind(name, description string, fn any, optFns ...func(o *Options)) *Descriptor {
	d, err := Bind(name, description, fn, optFns...)
	if err != nil {
		panic(err)
	}
	return d
}
