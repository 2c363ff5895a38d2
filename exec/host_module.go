package exec

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/pgavlin/wasmu/types"
)

// HostFunction is a Go function that can be imported by a module.
type HostFunction struct {
	typ    types.FunctionType
	method reflect.Value
}

func wasmType(kind reflect.Kind) (types.Type, bool) {
	switch kind {
	case reflect.Int32, reflect.Uint32:
		return types.I32, true
	case reflect.Int64, reflect.Uint64:
		return types.I64, true
	case reflect.Float32:
		return types.F32, true
	case reflect.Float64:
		return types.F64, true
	default:
		return 0, false
	}
}

// NewHostFunction creates a host function from a Go func whose parameters and results are 32- or 64-bit
// integers or floats. The function's signature is derived from the func's type.
func NewHostFunction(fn interface{}) (HostFunction, error) {
	method := reflect.ValueOf(fn)
	if method.Kind() != reflect.Func {
		return HostFunction{}, fmt.Errorf("host function must be a func, got %T", fn)
	}
	t := method.Type()
	if t.IsVariadic() {
		return HostFunction{}, errors.New("host function must not be variadic")
	}

	var sig types.FunctionType
	for i, n := 0, t.NumIn(); i < n; i++ {
		vt, ok := wasmType(t.In(i).Kind())
		if !ok {
			return HostFunction{}, fmt.Errorf("cannot export function with parameter type %v", t.In(i))
		}
		sig.Params = append(sig.Params, vt)
	}
	for i, n := 0, t.NumOut(); i < n; i++ {
		vt, ok := wasmType(t.Out(i).Kind())
		if !ok {
			return HostFunction{}, fmt.Errorf("cannot export function with return type %v", t.Out(i))
		}
		sig.Results = append(sig.Results, vt)
	}

	return HostFunction{typ: sig, method: method}, nil
}

// Type returns the function's signature.
func (f *HostFunction) Type() types.FunctionType {
	return f.typ
}

// Func returns the wrapped Go func.
func (f *HostFunction) Func() interface{} {
	return f.method.Interface()
}

// Call calls the function with the given raw arguments and returns its raw results. Go runtime errors
// raised by the function are returned as traps.
func (f *HostFunction) Call(args ...uint64) (returns []uint64, err error) {
	if len(args) != len(f.typ.Params) {
		return nil, fmt.Errorf("expected %v args; got %v", len(f.typ.Params), len(args))
	}
	defer func() { recoverTrap(recover(), &err) }()

	t := f.method.Type()

	vargs := make([]reflect.Value, len(args))
	for i, v := range args {
		t := t.In(i)

		var av reflect.Value
		switch f.typ.Params[i] {
		case types.I32:
			if t.Kind() == reflect.Uint32 {
				av = reflect.ValueOf(uint32(v))
			} else {
				av = reflect.ValueOf(int32(v))
			}
		case types.I64:
			if t.Kind() == reflect.Uint64 {
				av = reflect.ValueOf(v)
			} else {
				av = reflect.ValueOf(int64(v))
			}
		case types.F32:
			av = reflect.ValueOf(math.Float32frombits(uint32(v)))
		case types.F64:
			av = reflect.ValueOf(math.Float64frombits(v))
		default:
			panic("unreachable")
		}
		vargs[i] = av.Convert(t)
	}

	vreturns := f.method.Call(vargs)

	returns = make([]uint64, len(vreturns))
	for i, v := range vreturns {
		switch f.typ.Results[i] {
		case types.I32:
			if v.Kind() == reflect.Uint32 {
				returns[i] = v.Uint()
			} else {
				returns[i] = uint64(uint32(int32(v.Int())))
			}
		case types.I64:
			if v.Kind() == reflect.Uint64 {
				returns[i] = v.Uint()
			} else {
				returns[i] = uint64(v.Int())
			}
		case types.F32:
			returns[i] = uint64(math.Float32bits(float32(v.Float())))
		case types.F64:
			returns[i] = math.Float64bits(v.Float())
		default:
			panic("unreachable")
		}
	}
	return returns, nil
}

func isExported(n string) bool {
	r, _ := utf8.DecodeRuneInString(n)
	return unicode.IsUpper(r)
}

func exportName(n string) string {
	runes := []rune(n)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

// NewHostModule allocates a host function in objs for each exported method of v and returns them as a
// namespace. Method names are exported with their first letter lowercased, so a method Log is imported
// as "log".
func NewHostModule(objs *ContextObjects, v interface{}) (Namespace, error) {
	value := reflect.ValueOf(v)
	t := value.Type()

	ns := Namespace{}
	for i, n := 0, t.NumMethod(); i < n; i++ {
		name := t.Method(i).Name
		if !isExported(name) {
			continue
		}
		f, err := NewHostFunction(value.Method(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("method %v: %w", name, err)
		}
		ns[exportName(name)] = FunctionExtern(HostFunc(Allocate(objs, f)))
	}
	return ns, nil
}
