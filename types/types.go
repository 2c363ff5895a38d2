// Package types defines the value model shared by the compiler, artifact, engine and runtime packages:
// module metadata, compilation output, layout styles and the error taxonomy.
package types

import (
	"fmt"
	"strings"
)

type (
	// FunctionIndex indexes the function index space, imported functions first.
	FunctionIndex uint32
	// LocalFunctionIndex indexes the functions defined by a module.
	LocalFunctionIndex uint32
	// SignatureIndex indexes a module's signature list.
	SignatureIndex uint32
	// SharedSignatureIndex is an engine-wide signature index.
	SharedSignatureIndex uint32

	TableIndex  uint32
	MemoryIndex uint32
	GlobalIndex uint32
	ElemIndex   uint32
	DataIndex   uint32

	LocalGlobalIndex uint32

	// SectionIndex indexes the custom code sections of a compilation.
	SectionIndex uint32
)

// Type is a WebAssembly value type.
type Type uint8

const (
	I32 Type = iota
	I64
	F32
	F64
	V128
	ExternRef
	FuncRef
)

func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case V128:
		return "v128"
	case ExternRef:
		return "externref"
	case FuncRef:
		return "funcref"
	default:
		return fmt.Sprintf("<unknown type %d>", uint8(t))
	}
}

// IsRef returns true if t is a reference type.
func (t Type) IsRef() bool {
	return t == ExternRef || t == FuncRef
}

// FunctionType is the signature of a function.
type FunctionType struct {
	Params  []Type
	Results []Type
}

func (f FunctionType) String() string {
	var b strings.Builder
	writeTypes := func(ts []Type) {
		b.WriteByte('[')
		for i, t := range ts {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t.String())
		}
		b.WriteByte(']')
	}
	writeTypes(f.Params)
	b.WriteString(" -> ")
	writeTypes(f.Results)
	return b.String()
}

// Equal returns true if f and other have the same parameter and result types.
func (f FunctionType) Equal(other FunctionType) bool {
	return typesEqual(f.Params, other.Params) && typesEqual(f.Results, other.Results)
}

func typesEqual(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of f.
func (f FunctionType) Clone() FunctionType {
	return FunctionType{Params: cloneSlice(f.Params), Results: cloneSlice(f.Results)}
}

// GlobalType describes the type and mutability of a global.
type GlobalType struct {
	Type    Type
	Mutable bool
}

func (g GlobalType) String() string {
	if g.Mutable {
		return "mut " + g.Type.String()
	}
	return g.Type.String()
}

// Pages is a count of WebAssembly pages.
type Pages uint32

// WasmPageSize is the size of a WebAssembly page in bytes.
const WasmPageSize = 65536

// MaxPages is the maximum number of pages of a 32-bit memory.
const MaxPages Pages = 65536

// Bytes returns the size of p pages in bytes.
func (p Pages) Bytes() uint64 {
	return uint64(p) * WasmPageSize
}

// TableType describes a table.
type TableType struct {
	Type    Type
	Minimum uint32
	Maximum *uint32
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Minimum Pages
	Maximum *Pages
	Shared  bool
}

// ExternKind is the kind of an import or export.
type ExternKind uint8

const (
	ExternFunction ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunction:
		return "function"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	default:
		return fmt.Sprintf("<unknown extern kind %d>", uint8(k))
	}
}

func cloneSlice[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return append([]T(nil), s...)
}

// CloneBytes returns a copy of b. Empty inputs produce nil.
func CloneBytes(b []byte) []byte {
	return cloneSlice(b)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
