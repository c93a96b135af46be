package client

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// ErrNotBindable is returned by Bind for values it cannot fill.
var ErrNotBindable = errors.New("not bindable")

// Bind fills the exported func fields of the struct api points to with stubs that call
// the worker. A field's member is its name with a lower-cased first letter, or the
// value of its `proxy` tag; `proxy:"-"` skips the field.
//
// Each func may take a context.Context first, which bounds the wait for the result, and
// must return either error or (T, error):
//
//	var foo struct {
//		Foo      func(ctx context.Context) (string, error)
//		Add      func(a, b int) (int, error)
//		Greeting func() (string, error) `proxy:"Baz"`
//	}
//	err := p.Bind(&foo)
func (p *Proxy) Bind(api any) error {
	v := reflect.ValueOf(api)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T is not a pointer to a struct", ErrNotBindable, api)
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		name := field.Tag.Get("proxy")
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerFirst(field.Name)
		}
		if err := checkStub(field.Type); err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrNotBindable, field.Name, err)
		}
		v.Field(i).Set(p.stub(name, field.Type))
	}
	return nil
}

func checkStub(ft reflect.Type) error {
	switch ft.NumOut() {
	case 1:
		if ft.Out(0) != errorType {
			return errors.New("single result must be error")
		}
	case 2:
		if ft.Out(1) != errorType {
			return errors.New("second result must be error")
		}
	default:
		return errors.New("must return error or (T, error)")
	}
	for i := 1; i < ft.NumIn(); i++ {
		if ft.In(i) == contextType {
			return errors.New("context.Context must be the first parameter")
		}
	}
	return nil
}

func (p *Proxy) stub(member string, ft reflect.Type) reflect.Value {
	withCtx := ft.NumIn() > 0 && ft.In(0) == contextType

	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if withCtx {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}

		args := make([]any, 0, len(in))
		for i, arg := range in {
			if ft.IsVariadic() && i == len(in)-1 {
				for j := 0; j < arg.Len(); j++ {
					args = append(args, arg.Index(j).Interface())
				}
				continue
			}
			args = append(args, arg.Interface())
		}

		call := p.Invoke(member, args...)
		if ft.NumOut() == 1 {
			return []reflect.Value{errorValue(call.Decode(ctx, nil))}
		}
		out := reflect.New(ft.Out(0))
		err := call.Decode(ctx, out.Interface())
		if err != nil {
			return []reflect.Value{reflect.Zero(ft.Out(0)), errorValue(err)}
		}
		return []reflect.Value{out.Elem(), errorValue(nil)}
	})
}

func errorValue(err error) reflect.Value {
	if err == nil {
		return reflect.Zero(errorType)
	}
	return reflect.ValueOf(&err).Elem()
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
