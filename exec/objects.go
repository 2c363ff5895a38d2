package exec

import (
	"errors"
	"math"

	"github.com/pgavlin/wasmu/types"
)

var ErrImmutableGlobal = errors.New("global is immutable")

// Function refers to a callable function: a host function or a function of an instance. The zero
// Function is the null reference.
type Function struct {
	host     Handle[HostFunction]
	instance Handle[Instance]
	index    types.FunctionIndex
	kind     uint8
}

const (
	functionNull uint8 = iota
	functionHost
	functionInstance
)

// HostFunc returns a reference to a host function.
func HostFunc(h Handle[HostFunction]) Function {
	return Function{host: h, kind: functionHost}
}

// InstanceFunc returns a reference to a function in an instance's function index space.
func InstanceFunc(i Handle[Instance], index types.FunctionIndex) Function {
	return Function{instance: i, index: index, kind: functionInstance}
}

// IsNull returns true if f is the null reference.
func (f Function) IsNull() bool {
	return f.kind == functionNull
}

// Host returns the host function f refers to, if any.
func (f Function) Host() (Handle[HostFunction], bool) {
	return f.host, f.kind == functionHost
}

// Instance returns the instance and function index f refers to, if any.
func (f Function) Instance() (Handle[Instance], types.FunctionIndex, bool) {
	return f.instance, f.index, f.kind == functionInstance
}

// Type returns the signature of the function f refers to. Imported functions of an instance report the
// signature of their import declaration.
func (f Function) Type(objs *ContextObjects) (types.FunctionType, bool) {
	switch f.kind {
	case functionHost:
		return f.host.Get(objs).Type(), true
	case functionInstance:
		return f.instance.Get(objs).Module().FunctionType(f.index)
	default:
		return types.FunctionType{}, false
	}
}

// Table is a WASM table.
type Table struct {
	typ     types.TableType
	style   types.TableStyle
	entries []Function
}

// NewTable creates a WASM table. Every element starts out null.
func NewTable(typ types.TableType, style types.TableStyle) (Table, error) {
	if typ.Maximum != nil && *typ.Maximum < typ.Minimum {
		return Table{}, ErrTableType
	}
	return Table{typ: typ, style: style, entries: make([]Function, typ.Minimum)}, nil
}

// Type returns the table's type. The minimum reflects the current size.
func (t *Table) Type() types.TableType {
	typ := t.typ
	typ.Minimum = t.Size()
	return typ
}

// Style returns the table's implementation strategy.
func (t *Table) Style() types.TableStyle {
	return t.style
}

// Size returns the number of elements in the table.
func (t *Table) Size() uint32 {
	return uint32(len(t.entries))
}

// Get returns the element at the given index.
func (t *Table) Get(index uint32) (Function, error) {
	if index >= t.Size() {
		return Function{}, TrapUndefinedElement
	}
	return t.entries[index], nil
}

// Set replaces the element at the given index.
func (t *Table) Set(index uint32, f Function) error {
	if index >= t.Size() {
		return TrapUndefinedElement
	}
	t.entries[index] = f
	return nil
}

// Grow appends n copies of init to the table and returns its old size.
func (t *Table) Grow(n uint32, init Function) (uint32, error) {
	old := t.Size()
	max := uint64(math.MaxUint32)
	if t.typ.Maximum != nil {
		max = uint64(*t.typ.Maximum)
	}
	if uint64(old)+uint64(n) > max {
		return old, ErrLimitExceeded
	}
	for i := uint32(0); i < n; i++ {
		t.entries = append(t.entries, init)
	}
	return old, nil
}

// Entries returns the table's entries.
func (t *Table) Entries() []Function {
	return t.entries
}

// Global is a WASM global. Numeric globals hold the raw bits of their value; reference globals hold a
// Function.
type Global struct {
	typ   types.GlobalType
	value uint64
	ref   Function
}

// NewGlobal creates a global holding the given raw value. The values of i32 and f32 globals are truncated
// to their low 32 bits.
func NewGlobal(typ types.GlobalType, value uint64) Global {
	return Global{typ: typ, value: mask(typ.Type, value)}
}

func mask(t types.Type, v uint64) uint64 {
	if t == types.I32 || t == types.F32 {
		return v & math.MaxUint32
	}
	return v
}

func NewGlobalI32(mutable bool, value int32) Global {
	return NewGlobal(types.GlobalType{Type: types.I32, Mutable: mutable}, uint64(uint32(value)))
}

func NewGlobalI64(mutable bool, value int64) Global {
	return NewGlobal(types.GlobalType{Type: types.I64, Mutable: mutable}, uint64(value))
}

func NewGlobalF32(mutable bool, value float32) Global {
	return NewGlobal(types.GlobalType{Type: types.F32, Mutable: mutable}, uint64(math.Float32bits(value)))
}

func NewGlobalF64(mutable bool, value float64) Global {
	return NewGlobal(types.GlobalType{Type: types.F64, Mutable: mutable}, math.Float64bits(value))
}

// NewGlobalRef creates a funcref global.
func NewGlobalRef(mutable bool, ref Function) Global {
	return Global{typ: types.GlobalType{Type: types.FuncRef, Mutable: mutable}, ref: ref}
}

func (g *Global) Type() types.GlobalType {
	return g.typ
}

func (g *Global) Get() uint64 {
	return g.value
}

func (g *Global) GetI32() int32 {
	return int32(g.value)
}

func (g *Global) GetI64() int64 {
	return int64(g.value)
}

func (g *Global) GetF32() float32 {
	return math.Float32frombits(uint32(g.value))
}

func (g *Global) GetF64() float64 {
	return math.Float64frombits(g.value)
}

func (g *Global) GetRef() Function {
	return g.ref
}

// Set replaces the global's raw value. It fails if the global is immutable.
func (g *Global) Set(v uint64) error {
	if !g.typ.Mutable {
		return ErrImmutableGlobal
	}
	g.value = mask(g.typ.Type, v)
	return nil
}

// SetRef replaces the global's reference. It fails if the global is immutable.
func (g *Global) SetRef(f Function) error {
	if !g.typ.Mutable {
		return ErrImmutableGlobal
	}
	g.ref = f
	return nil
}

// ExternRef is an opaque host value that can be passed to WASM code by reference.
type ExternRef struct {
	Value interface{}
}

// Extern is an importable or exported object.
type Extern struct {
	Kind     types.ExternKind
	Function Function
	Table    Handle[Table]
	Memory   Handle[Memory]
	Global   Handle[Global]
}

func FunctionExtern(f Function) Extern {
	return Extern{Kind: types.ExternFunction, Function: f}
}

func TableExtern(t Handle[Table]) Extern {
	return Extern{Kind: types.ExternTable, Table: t}
}

func MemoryExtern(m Handle[Memory]) Extern {
	return Extern{Kind: types.ExternMemory, Memory: m}
}

func GlobalExtern(g Handle[Global]) Extern {
	return Extern{Kind: types.ExternGlobal, Global: g}
}
