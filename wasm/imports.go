// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"io"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// Import is an interface implemented by types that can be imported by a WebAssembly module.
type Import interface {
	Kind() External
	isImport()
}

// ImportEntry describes an import statement in a Wasm module.
type ImportEntry struct {
	ModuleName string // module name string
	FieldName  string // field name string

	// If Kind is Function, Type is a FuncImport containing the type index of the function signature
	// If Kind is Table, Type is a TableImport containing the type of the imported table
	// If Kind is Memory, Type is a MemoryImport containing the type of the imported memory
	// If the Kind is Global, Type is a GlobalVarImport
	Type Import
}

type FuncImport struct {
	Type uint32
}

func (FuncImport) isImport() {}
func (FuncImport) Kind() External {
	return ExternalFunction
}

type TableImport struct {
	Type Table
}

func (TableImport) isImport() {}
func (TableImport) Kind() External {
	return ExternalTable
}

type MemoryImport struct {
	Type Memory
}

func (MemoryImport) isImport() {}
func (MemoryImport) Kind() External {
	return ExternalMemory
}

type GlobalVarImport struct {
	Type GlobalVar
}

func (GlobalVarImport) isImport() {}
func (GlobalVarImport) Kind() External {
	return ExternalGlobal
}

func (i *ImportEntry) UnmarshalWASM(r io.Reader) error {
	var err error
	if i.ModuleName, err = readUTF8StringUint(r); err != nil {
		return err
	}
	if i.FieldName, err = readUTF8StringUint(r); err != nil {
		return err
	}
	var kind External
	if err = kind.UnmarshalWASM(r); err != nil {
		return err
	}

	switch kind {
	case ExternalFunction:
		var t uint32
		if t, err = leb128.ReadVarUint32(r); err == nil {
			i.Type = FuncImport{t}
		}
	case ExternalTable:
		var table Table
		if err = table.UnmarshalWASM(r); err == nil {
			i.Type = TableImport{table}
		}
	case ExternalMemory:
		var mem Memory
		if err = mem.UnmarshalWASM(r); err == nil {
			i.Type = MemoryImport{mem}
		}
	case ExternalGlobal:
		var gl GlobalVar
		if err = gl.UnmarshalWASM(r); err == nil {
			i.Type = GlobalVarImport{gl}
		}
	}
	return err
}
