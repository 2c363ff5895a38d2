// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// A list of well-known custom sections
const (
	CustomSectionName = "name"
)

// NameType is the type of name subsection.
type NameType byte

const (
	NameModule   = NameType(0)
	NameFunction = NameType(1)
	NameLocal    = NameType(2)
)

type Naming struct {
	Index uint32
	Name  string
}

// NameSection is a custom section that stores names of modules, functions and locals for debugging purposes.
// See https://github.com/WebAssembly/design/blob/master/BinaryEncoding.md#name-section for more details.
//
// Local names and unknown subsections are skipped.
type NameSection struct {
	ModuleName    string
	FunctionNames []Naming
}

func (s *NameSection) UnmarshalWASM(r io.Reader) error {
	for {
		typ, err := readByteOrEOF(r)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		payload, err := readBytesUint(r)
		if err != nil {
			return err
		}
		sub := bytes.NewReader(payload)

		switch NameType(typ) {
		case NameModule:
			if s.ModuleName, err = readUTF8StringUint(sub); err != nil {
				return fmt.Errorf("module name: %w", err)
			}
		case NameFunction:
			if s.FunctionNames, err = readNameMap(sub); err != nil {
				return fmt.Errorf("function names: %w", err)
			}
		}
	}
}

// FunctionName returns the recorded name of the function at the given index.
func (s *NameSection) FunctionName(index uint32) (string, bool) {
	for _, n := range s.FunctionNames {
		if n.Index == index {
			return n.Name, true
		}
	}
	return "", false
}

func readNameMap(r io.Reader) ([]Naming, error) {
	return readVector(r, func(r io.Reader, n *Naming) error {
		var err error
		if n.Index, err = leb128.ReadVarUint32(r); err != nil {
			return err
		}
		n.Name, err = readUTF8StringUint(r)
		return err
	})
}

func readByteOrEOF(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
