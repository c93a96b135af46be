package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"

	"workerproxy/message"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// member is one name the target answers to: either a method bound to the target or an
// exported field read at call time.
type member struct {
	name  string
	fn    reflect.Value // bound method, invalid for fields
	index []int         // field index, nil for methods
}

// Dispatcher resolves request members on a target object and executes them.
type Dispatcher struct {
	target  reflect.Value
	fields  reflect.Value // struct value holding the fields, invalid if target is not a struct
	members map[string]*member
}

// NewDispatcher scans the target's exported methods and fields.
//
// A method is a member when it returns nothing, a value, an error, or (value, error).
// It may take a context.Context first; the remaining parameters are filled from the
// request arguments. Exported fields are members too; a method wins over a field
// with the same name.
func NewDispatcher(target any) (*Dispatcher, error) {
	if target == nil {
		return nil, errors.New("worker: target must not be nil")
	}

	val := reflect.ValueOf(target)
	typ := val.Type()
	d := &Dispatcher{
		target:  val,
		members: make(map[string]*member),
	}

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		fn := val.Method(i)
		if !method.IsExported() || !callable(fn.Type()) {
			continue
		}
		d.members[method.Name] = &member{name: method.Name, fn: fn}
	}

	sv := val
	for sv.Kind() == reflect.Pointer && !sv.IsNil() {
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		d.fields = sv
		for _, f := range reflect.VisibleFields(sv.Type()) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			if _, ok := d.members[f.Name]; ok {
				continue
			}
			d.members[f.Name] = &member{name: f.Name, index: f.Index}
		}
	}

	return d, nil
}

// Names returns the member names in sorted order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.members))
	for name := range d.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup finds a member by its exact name, then by the name with an upper-cased first
// rune, so "identity" resolves to Identity.
func (d *Dispatcher) lookup(name string) (*member, bool) {
	if m, ok := d.members[name]; ok {
		return m, true
	}
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return nil, false
	}
	m, ok := d.members[string(unicode.ToUpper(r))+name[size:]]
	return m, ok
}

// Describe converts a failure into the text sent across the boundary.
func Describe(err error) string {
	return "Error: " + err.Error()
}

// Dispatch executes one request against the target. It has the middleware.HandlerFunc
// signature and never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = message.Failure(fmt.Sprintf("Error: panic: %v", r))
		}
	}()

	m, ok := d.lookup(req.Member)
	if !ok {
		return message.Failure(fmt.Sprintf("Error: member %q not found", req.Member))
	}

	var (
		value reflect.Value
		err   error
	)
	if m.fn.IsValid() {
		value, err = invoke(ctx, m.fn, req.Args)
	} else {
		value, err = d.fields.FieldByIndexErr(m.index)
		if err == nil && value.Kind() == reflect.Func && !value.IsNil() && callable(value.Type()) {
			value, err = invoke(ctx, value, req.Args)
		}
	}
	if err != nil {
		return message.Failure(Describe(err))
	}

	if !value.IsValid() {
		return message.Success(nil)
	}
	payload, err := json.Marshal(value.Interface())
	if err != nil {
		return message.Failure(Describe(err))
	}
	return message.Success(payload)
}

func callable(t reflect.Type) bool {
	switch t.NumOut() {
	case 0, 1:
		return true
	case 2:
		return t.Out(1) == errorType
	default:
		return false
	}
}

// invoke decodes args into fn's parameters positionally and calls it. Missing arguments
// become zero values; surplus arguments are dropped unless fn is variadic.
func invoke(ctx context.Context, fn reflect.Value, args []json.RawMessage) (reflect.Value, error) {
	ft := fn.Type()
	in := make([]reflect.Value, 0, ft.NumIn())

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		in = append(in, reflect.ValueOf(&ctx).Elem())
		first = 1
	}

	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}

	argi := 0
	for i := first; i < fixed; i++ {
		v, err := decodeArg(args, argi, ft.In(i))
		if err != nil {
			return reflect.Value{}, err
		}
		in = append(in, v)
		argi++
	}

	var out []reflect.Value
	if ft.IsVariadic() {
		sliceType := ft.In(fixed)
		rest := reflect.MakeSlice(sliceType, 0, max(len(args)-argi, 0))
		for ; argi < len(args); argi++ {
			v, err := decodeArg(args, argi, sliceType.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			rest = reflect.Append(rest, v)
		}
		out = fn.CallSlice(append(in, rest))
	} else {
		out = fn.Call(in)
	}

	return result(ctx, out)
}

func decodeArg(args []json.RawMessage, i int, t reflect.Type) (reflect.Value, error) {
	if i >= len(args) {
		return reflect.Zero(t), nil
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(args[i], ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("argument %d: %w", i, err)
	}
	return ptr.Elem(), nil
}

func result(ctx context.Context, out []reflect.Value) (reflect.Value, error) {
	var value reflect.Value
	switch len(out) {
	case 0:
		return reflect.Value{}, nil
	case 1:
		if out[0].Type() == errorType {
			return reflect.Value{}, asError(out[0])
		}
		value = out[0]
	default:
		if err := asError(out[1]); err != nil {
			return reflect.Value{}, err
		}
		value = out[0]
	}
	return await(ctx, value)
}

// await resolves a delayed result: a receive channel yields its first value. A closed
// channel yields no value; a received non-nil error is a failure.
func await(ctx context.Context, v reflect.Value) (reflect.Value, error) {
	if v.Kind() != reflect.Chan || v.Type().ChanDir()&reflect.RecvDir == 0 {
		return v, nil
	}
	if v.IsNil() {
		return reflect.Value{}, errors.New("nil result channel")
	}

	chosen, recv, ok := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: v},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
	})
	if chosen == 1 {
		return reflect.Value{}, ctx.Err()
	}
	if !ok {
		return reflect.Value{}, nil
	}
	if v.Type().Elem() == errorType {
		return reflect.Value{}, asError(recv)
	}
	return recv, nil
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
