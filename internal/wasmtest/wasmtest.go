// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

import (
	"bytes"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// Value type encodings.
const (
	I32     byte = 0x7f
	I64     byte = 0x7e
	F32     byte = 0x7d
	F64     byte = 0x7c
	FuncRef byte = 0x70
)

// Section ids.
const (
	Custom    byte = 0
	Type      byte = 1
	Import    byte = 2
	Function  byte = 3
	Table     byte = 4
	Memory    byte = 5
	Global    byte = 6
	Export    byte = 7
	Start     byte = 8
	Element   byte = 9
	Code      byte = 10
	Data      byte = 11
	DataCount byte = 12
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Module concatenates the module header and the given encoded sections.
func Module(sections ...[]byte) []byte {
	return bytes.Join(append([][]byte{header}, sections...), nil)
}

// Section encodes a section with the given id whose payload is the concatenation of parts.
func Section(id byte, parts ...[]byte) []byte {
	payload := bytes.Join(parts, nil)
	b := append([]byte{id}, leb128.AppendVarUint32(nil, uint32(len(payload)))...)
	return append(b, payload...)
}

// Vec encodes a vector: an element count followed by the elements.
func Vec(items ...[]byte) []byte {
	return append(U32(uint32(len(items))), bytes.Join(items, nil)...)
}

// U32 encodes an unsigned LEB128 value.
func U32(v uint32) []byte {
	return leb128.AppendVarUint32(nil, v)
}

// Name encodes a length-prefixed string.
func Name(s string) []byte {
	return append(U32(uint32(len(s))), s...)
}

// FuncType encodes a function type.
func FuncType(params, results []byte) []byte {
	b := append([]byte{0x60}, U32(uint32(len(params)))...)
	b = append(b, params...)
	b = append(b, U32(uint32(len(results)))...)
	return append(b, results...)
}

// Body encodes a function body without locals. code must include the final end opcode.
func Body(code ...byte) []byte {
	b := append([]byte{0x00}, code...)
	return append(U32(uint32(len(b))), b...)
}

// ExportEntry encodes an export of the given kind and index.
func ExportEntry(name string, kind byte, index uint32) []byte {
	b := append(Name(name), kind)
	return append(b, U32(index)...)
}

// Answer returns a module with one function, exported as "f", that returns the i32 constant 42.
func Answer() []byte {
	return Module(
		Section(Type, Vec(FuncType(nil, []byte{I32}))),
		Section(Function, Vec(U32(0))),
		Section(Export, Vec(ExportEntry("f", 0, 0))),
		Section(Code, Vec(Body(0x41, 0x2a, 0x0b))),
	)
}

// Kitchen returns a module that imports a function and a global, and defines a memory with one active
// data segment, a mutable global, a table with one active element segment, two local functions (one
// named through the name section), a passive data segment and exports of every kind.
func Kitchen() []byte {
	names := bytes.Join([][]byte{
		{0x00}, Name(string(Name("kitchen"))),
		{0x01}, Name(string(Vec(append(U32(1), Name("answer")...)))),
	}, nil)

	return Module(
		Section(Type, Vec(
			FuncType(nil, []byte{I32}),
			FuncType([]byte{I32}, nil),
		)),
		Section(Import, Vec(
			bytes.Join([][]byte{Name("env"), Name("log"), {0x00}, U32(1)}, nil),
			bytes.Join([][]byte{Name("env"), Name("base"), {0x03, I32, 0x00}}, nil),
		)),
		Section(Function, Vec(U32(0), U32(0))),
		Section(Table, Vec([]byte{FuncRef, 0x01, 0x03, 0x04})),
		Section(Memory, Vec([]byte{0x01, 0x01, 0x02})),
		Section(Global, Vec([]byte{I32, 0x01, 0x41, 0x07, 0x0b})),
		Section(Export, Vec(
			ExportEntry("answer", 0, 1),
			ExportEntry("table", 1, 0),
			ExportEntry("memory", 2, 0),
			ExportEntry("counter", 3, 1),
		)),
		Section(Element, Vec(bytes.Join([][]byte{{0x00, 0x41, 0x01, 0x0b}, Vec(U32(1), U32(2))}, nil))),
		Section(DataCount, U32(2)),
		Section(Code, Vec(
			Body(0x41, 0x2a, 0x0b),
			Body(0x23, 0x00, 0x0b),
		)),
		Section(Data, Vec(
			bytes.Join([][]byte{{0x00, 0x41, 0x10, 0x0b}, Name("hi")}, nil),
			bytes.Join([][]byte{{0x01}, Name("passive")}, nil),
		)),
		Section(Custom, Name("name"), names),
	)
}
