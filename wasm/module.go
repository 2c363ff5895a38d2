// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidMagic = errors.New("wasm: magic header not detected")

type UnknownVersionError uint32

func (e UnknownVersionError) Error() string {
	return fmt.Sprintf("wasm: unknown binary version %d", uint32(e))
}

const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 0x1
)

// Module represents a parsed WebAssembly module:
// http://webassembly.org/docs/modules/
type Module struct {
	Version  uint32
	Sections []Section

	Types     *SectionTypes
	Import    *SectionImports
	Function  *SectionFunctions
	Table     *SectionTables
	Memory    *SectionMemories
	Global    *SectionGlobals
	Export    *SectionExports
	Start     *SectionStartFunction
	Elements  *SectionElements
	DataCount *SectionDataCount
	Code      *SectionCode
	Data      *SectionData
	Customs   []*SectionCustom
}

// Names returns the names section. If no names section exists, this function returns a MissingSectionError.
func (m *Module) Names() (*NameSection, error) {
	s := m.Custom(CustomSectionName)
	if s == nil {
		return nil, MissingSectionError(SectionIDCustom)
	}

	var names NameSection
	if err := names.UnmarshalWASM(bytes.NewReader(s.Data)); err != nil {
		return nil, err
	}
	return &names, nil
}

// Custom returns a custom section with a specific name, if it exists.
func (m *Module) Custom(name string) *SectionCustom {
	for _, s := range m.Customs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// DecodeModule decodes a WASM module.
func DecodeModule(r io.Reader) (*Module, error) {
	reader := &readPos{r: r}
	m := &Module{}
	magic, err := readU32(reader)
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	if m.Version, err = readU32(reader); err != nil {
		return nil, err
	}
	if m.Version != Version {
		return nil, UnknownVersionError(m.Version)
	}

	if err = newSectionsReader(m).readSections(reader); err != nil {
		return nil, err
	}
	if err = m.checkCounts(); err != nil {
		return nil, err
	}
	return m, nil
}

// checkCounts verifies the cross-section counts that the binary format itself constrains.
func (m *Module) checkCounts() error {
	var funcs, bodies int
	if m.Function != nil {
		funcs = len(m.Function.Types)
	}
	if m.Code != nil {
		bodies = len(m.Code.Bodies)
	}
	if funcs != bodies {
		return errors.New("wasm: function and code section have inconsistent lengths")
	}

	if m.DataCount != nil {
		var segments int
		if m.Data != nil {
			segments = len(m.Data.Entries)
		}
		if int(m.DataCount.Count) != segments {
			return errors.New("wasm: data count and data section have inconsistent lengths")
		}
	}
	return nil
}

// MustDecode decodes a WASM module and panics on failure.
func MustDecode(r io.Reader) *Module {
	m, err := DecodeModule(r)
	if err != nil {
		panic(fmt.Errorf("decoding module: %w", err))
	}
	return m
}
