// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// ValueType represents the type of a valid value in Wasm
type ValueType int8

const (
	ValueTypeI32       ValueType = -0x01
	ValueTypeI64       ValueType = -0x02
	ValueTypeF32       ValueType = -0x03
	ValueTypeF64       ValueType = -0x04
	ValueTypeV128      ValueType = -0x05
	ValueTypeFuncRef   ValueType = -0x10
	ValueTypeExternRef ValueType = -0x11
)

var valueTypeStrMap = map[ValueType]string{
	ValueTypeI32:       "i32",
	ValueTypeI64:       "i64",
	ValueTypeF32:       "f32",
	ValueTypeF64:       "f64",
	ValueTypeV128:      "v128",
	ValueTypeFuncRef:   "funcref",
	ValueTypeExternRef: "externref",
}

func (t ValueType) String() string {
	str, ok := valueTypeStrMap[t]
	if !ok {
		str = fmt.Sprintf("<unknown value_type %d>", int8(t))
	}
	return str
}

// encoding returns the single-byte encoding of t.
func (t ValueType) encoding() byte {
	return byte(t) & 0x7f
}

// IsRef returns true if t is a reference type.
func (t ValueType) IsRef() bool {
	return t == ValueTypeFuncRef || t == ValueTypeExternRef
}

type InvalidValueTypeError byte

func (e InvalidValueTypeError) Error() string {
	return fmt.Sprintf("wasm: invalid value type 0x%02x", byte(e))
}

func (t *ValueType) UnmarshalWASM(r io.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	if b&0x80 != 0 {
		return InvalidValueTypeError(b)
	}
	v := ValueType(leb128.Varint7(b))
	if _, ok := valueTypeStrMap[v]; !ok {
		return InvalidValueTypeError(b)
	}
	*t = v
	return nil
}

func (t *ValueType) unmarshalRefType(r io.Reader) error {
	if err := t.UnmarshalWASM(r); err != nil {
		return err
	}
	if !t.IsRef() {
		return InvalidValueTypeError(t.encoding())
	}
	return nil
}

// TypeFunc represents the value type of a function
const TypeFunc int = -0x20

// FunctionSig describes the signature of a declared function in a WASM module
type FunctionSig struct {
	// value for the 'func' type constructor
	Form        int8 // Must be -0x20 (0x60)
	ParamTypes  []ValueType
	ReturnTypes []ValueType
}

func (f FunctionSig) String() string {
	return fmt.Sprintf("<func %v -> %v>", f.ParamTypes, f.ReturnTypes)
}

type InvalidTypeConstructorError struct {
	Wanted int
	Got    int
}

func (e InvalidTypeConstructorError) Error() string {
	return fmt.Sprintf("wasm: invalid type constructor: wanted %d, got %d", e.Wanted, e.Got)
}

func (f *FunctionSig) UnmarshalWASM(r io.Reader) error {
	form, err := readByte(r)
	if err != nil {
		return err
	}
	if form&0x80 != 0 {
		return InvalidTypeConstructorError{Wanted: TypeFunc, Got: int(form)}
	}
	f.Form = leb128.Varint7(form)
	if int(f.Form) != TypeFunc {
		return InvalidTypeConstructorError{Wanted: TypeFunc, Got: int(f.Form)}
	}

	if f.ParamTypes, err = readValueTypes(r); err != nil {
		return err
	}
	f.ReturnTypes, err = readValueTypes(r)
	return err
}

func readValueTypes(r io.Reader) ([]ValueType, error) {
	count, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	types := make([]ValueType, 0, getInitialCap(count))
	for i := uint32(0); i < count; i++ {
		var t ValueType
		if err := t.UnmarshalWASM(r); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// GlobalVar describes the type and mutability of a declared global variable
type GlobalVar struct {
	Type    ValueType // Type of the value stored by the variable
	Mutable bool      // Whether the value of the variable can be changed by the set_global operator
}

var ErrInvalidMutability = errors.New("wasm: invalid global mutability")

func (g *GlobalVar) UnmarshalWASM(r io.Reader) error {
	if err := g.Type.UnmarshalWASM(r); err != nil {
		return err
	}

	m, err := readByte(r)
	if err != nil {
		return err
	}
	switch m {
	case 0:
		g.Mutable = false
	case 1:
		g.Mutable = true
	default:
		return ErrInvalidMutability
	}
	return nil
}

// Table describes a table in a Wasm module.
type Table struct {
	// The type of elements
	ElementType ValueType
	Limits      ResizableLimits
}

func (t *Table) UnmarshalWASM(r io.Reader) error {
	if err := t.ElementType.unmarshalRefType(r); err != nil {
		return err
	}
	if err := t.Limits.UnmarshalWASM(r); err != nil {
		return err
	}
	if t.Limits.Shared() {
		return ErrSharedTable
	}
	return nil
}

var ErrSharedTable = errors.New("wasm: tables cannot be shared")

type Memory struct {
	Limits ResizableLimits
}

func (m *Memory) UnmarshalWASM(r io.Reader) error {
	return m.Limits.UnmarshalWASM(r)
}

// External describes the kind of the entry being imported or exported.
type External uint8

const (
	ExternalFunction External = 0
	ExternalTable    External = 1
	ExternalMemory   External = 2
	ExternalGlobal   External = 3
)

func (e External) String() string {
	switch e {
	case ExternalFunction:
		return "function"
	case ExternalTable:
		return "table"
	case ExternalMemory:
		return "memory"
	case ExternalGlobal:
		return "global"
	default:
		return "<unknown external_kind>"
	}
}

func (e *External) UnmarshalWASM(r io.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	if b > byte(ExternalGlobal) {
		return InvalidExternalError(b)
	}
	*e = External(b)
	return nil
}

type InvalidExternalError uint8

func (e InvalidExternalError) Error() string {
	return fmt.Sprintf("wasm: invalid external_kind value %d", uint8(e))
}

const (
	limitsHasMaximum = 0x01
	limitsShared     = 0x02
	limitsMemory64   = 0x04
)

// ResizableLimits describe the limit of a table or linear memory.
type ResizableLimits struct {
	Flags   uint8  // 1 if the Maximum field is valid, 2 if the limits are shared
	Initial uint32 // initial length (in units of table elements or wasm pages)
	Maximum uint32 // If flags is 1, it describes the maximum size of the table or memory
}

// HasMaximum returns true if the limits declare a maximum.
func (lim *ResizableLimits) HasMaximum() bool {
	return lim.Flags&limitsHasMaximum != 0
}

// Shared returns true if the limits describe a shared memory.
func (lim *ResizableLimits) Shared() bool {
	return lim.Flags&limitsShared != 0
}

type InvalidLimitsFlagsError uint8

func (e InvalidLimitsFlagsError) Error() string {
	return fmt.Sprintf("wasm: invalid limits flags 0x%02x", uint8(e))
}

func (lim *ResizableLimits) UnmarshalWASM(r io.Reader) error {
	f, err := readByte(r)
	if err != nil {
		return err
	}
	if f&^(limitsHasMaximum|limitsShared) != 0 || f&limitsMemory64 != 0 {
		return InvalidLimitsFlagsError(f)
	}
	lim.Flags = f
	if lim.Initial, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	if lim.HasMaximum() {
		if lim.Maximum, err = leb128.ReadVarUint32(r); err != nil {
			return err
		}
	}
	return nil
}
