// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// Section is a generic WASM section interface.
type Section interface {
	// SectionID returns a section ID for WASM encoding. Should be unique across types.
	SectionID() SectionID
	// GetRawSection Returns an embedded RawSection pointer to populate generic fields.
	GetRawSection() *RawSection
	// ReadPayload reads a section payload. The reader is limited to the payload.
	ReadPayload(r *bytes.Reader) error
}

// SectionID is a 1-byte code that encodes the section code of both known and custom sections.
type SectionID uint8

const (
	SectionIDCustom    SectionID = 0
	SectionIDType      SectionID = 1
	SectionIDImport    SectionID = 2
	SectionIDFunction  SectionID = 3
	SectionIDTable     SectionID = 4
	SectionIDMemory    SectionID = 5
	SectionIDGlobal    SectionID = 6
	SectionIDExport    SectionID = 7
	SectionIDStart     SectionID = 8
	SectionIDElement   SectionID = 9
	SectionIDCode      SectionID = 10
	SectionIDData      SectionID = 11
	SectionIDDataCount SectionID = 12
)

var sectionNames = map[SectionID]string{
	SectionIDCustom:    "custom",
	SectionIDType:      "type",
	SectionIDImport:    "import",
	SectionIDFunction:  "function",
	SectionIDTable:     "table",
	SectionIDMemory:    "memory",
	SectionIDGlobal:    "global",
	SectionIDExport:    "export",
	SectionIDStart:     "start",
	SectionIDElement:   "element",
	SectionIDCode:      "code",
	SectionIDData:      "data",
	SectionIDDataCount: "datacount",
}

func (s SectionID) String() string {
	n, ok := sectionNames[s]
	if !ok {
		return "unknown"
	}
	return n
}

// order returns the position of a known section in the prescribed section order. The data count section
// sits between the element and code sections.
func (s SectionID) order() uint8 {
	switch s {
	case SectionIDDataCount:
		return uint8(SectionIDElement) + 1
	case SectionIDCode, SectionIDData:
		return uint8(s) + 1
	default:
		return uint8(s)
	}
}

// RawSection is a declared section in a WASM module.
type RawSection struct {
	Start int64
	End   int64

	ID    SectionID
	Bytes []byte
}

func (s *RawSection) SectionID() SectionID {
	return s.ID
}

func (s *RawSection) GetRawSection() *RawSection {
	return s
}

type InvalidSectionIDError SectionID

func (e InvalidSectionIDError) Error() string {
	return fmt.Sprintf("wasm: malformed section id %d", uint8(e))
}

var ErrSectionOrder = errors.New("wasm: sections must occur at most once and in the prescribed order")

type SectionSizeMismatchError SectionID

func (e SectionSizeMismatchError) Error() string {
	return fmt.Sprintf("wasm: section size mismatch in %s section", SectionID(e))
}

type MissingSectionError SectionID

func (e MissingSectionError) Error() string {
	return fmt.Sprintf("wasm: missing section %s", SectionID(e).String())
}

type sectionsReader struct {
	lastSecOrder uint8 // previous non-custom section order
	m            *Module
}

func newSectionsReader(m *Module) *sectionsReader {
	return &sectionsReader{m: m}
}

func (sr *sectionsReader) readSections(r *readPos) error {
	for {
		done, err := sr.readSection(r)
		switch {
		case err != nil:
			return err
		case done:
			return nil
		}
	}
}

// reads a valid section from r. The first return value is true if and only if
// the module has been completely read.
func (sr *sectionsReader) readSection(r *readPos) (bool, error) {
	m := sr.m

	id, err := r.ReadByte()
	if err == io.EOF {
		return true, nil
	} else if err != nil {
		return false, err
	}

	s := RawSection{ID: SectionID(id)}
	if _, ok := sectionNames[s.ID]; !ok {
		return false, InvalidSectionIDError(id)
	}
	if s.ID != SectionIDCustom {
		if s.ID.order() <= sr.lastSecOrder {
			return false, ErrSectionOrder
		}
		sr.lastSecOrder = s.ID.order()
	}

	payloadLen, err := leb128.ReadVarUint32(r)
	if err != nil {
		return false, noEOF(err)
	}

	s.Start = r.curPos
	if s.Bytes, err = readBytes(r, payloadLen); err != nil {
		return false, err
	}
	s.End = r.curPos

	var sec Section
	switch s.ID {
	case SectionIDCustom:
		cs := &SectionCustom{}
		m.Customs = append(m.Customs, cs)
		sec = cs
	case SectionIDType:
		m.Types = &SectionTypes{}
		sec = m.Types
	case SectionIDImport:
		m.Import = &SectionImports{}
		sec = m.Import
	case SectionIDFunction:
		m.Function = &SectionFunctions{}
		sec = m.Function
	case SectionIDTable:
		m.Table = &SectionTables{}
		sec = m.Table
	case SectionIDMemory:
		m.Memory = &SectionMemories{}
		sec = m.Memory
	case SectionIDGlobal:
		m.Global = &SectionGlobals{}
		sec = m.Global
	case SectionIDExport:
		m.Export = &SectionExports{}
		sec = m.Export
	case SectionIDStart:
		m.Start = &SectionStartFunction{}
		sec = m.Start
	case SectionIDElement:
		m.Elements = &SectionElements{}
		sec = m.Elements
	case SectionIDDataCount:
		m.DataCount = &SectionDataCount{}
		sec = m.DataCount
	case SectionIDCode:
		m.Code = &SectionCode{}
		sec = m.Code
	case SectionIDData:
		m.Data = &SectionData{}
		sec = m.Data
	}

	*sec.GetRawSection() = s
	payload := bytes.NewReader(s.Bytes)
	if err = sec.ReadPayload(payload); err != nil {
		return false, fmt.Errorf("%s section: %w", s.ID, noEOF(err))
	}
	if payload.Len() != 0 {
		return false, SectionSizeMismatchError(s.ID)
	}
	m.Sections = append(m.Sections, sec)
	return false, nil
}

// noEOF reports a clean EOF in the middle of a structure as io.ErrUnexpectedEOF.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readVector reads a vector of count-prefixed entries.
func readVector[T any](r io.Reader, read func(r io.Reader, v *T) error) ([]T, error) {
	count, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	entries := make([]T, 0, getInitialCap(count))
	for i := uint32(0); i < count; i++ {
		var v T
		if err := read(r, &v); err != nil {
			return nil, err
		}
		entries = append(entries, v)
	}
	return entries, nil
}

func readIndex(r io.Reader, v *uint32) (err error) {
	*v, err = leb128.ReadVarUint32(r)
	return err
}

type SectionCustom struct {
	RawSection
	Name string
	Data []byte
}

func (s *SectionCustom) SectionID() SectionID {
	return SectionIDCustom
}

func (s *SectionCustom) ReadPayload(r *bytes.Reader) error {
	var err error
	if s.Name, err = readUTF8StringUint(r); err != nil {
		return err
	}
	s.Data, err = readBytes(r, uint32(r.Len()))
	return err
}

// SectionTypes declares all function signatures that will be used in a module.
type SectionTypes struct {
	RawSection
	Entries []FunctionSig
}

func (*SectionTypes) SectionID() SectionID {
	return SectionIDType
}

func (s *SectionTypes) ReadPayload(r *bytes.Reader) (err error) {
	s.Entries, err = readVector(r, func(r io.Reader, sig *FunctionSig) error { return sig.UnmarshalWASM(r) })
	return err
}

// SectionImports declares all imports that will be used in the module.
type SectionImports struct {
	RawSection
	Entries []ImportEntry
}

func (*SectionImports) SectionID() SectionID {
	return SectionIDImport
}

func (s *SectionImports) ReadPayload(r *bytes.Reader) (err error) {
	s.Entries, err = readVector(r, func(r io.Reader, e *ImportEntry) error { return e.UnmarshalWASM(r) })
	return err
}

// SectionFunctions declares the signature of all functions defined in the module (in the code section)
type SectionFunctions struct {
	RawSection
	// Sequences of indices into (FunctionSignatues).Entries
	Types []uint32
}

func (*SectionFunctions) SectionID() SectionID {
	return SectionIDFunction
}

func (s *SectionFunctions) ReadPayload(r *bytes.Reader) (err error) {
	s.Types, err = readVector(r, readIndex)
	return err
}

// SectionTables describes all tables declared by a module.
type SectionTables struct {
	RawSection
	Entries []Table
}

func (*SectionTables) SectionID() SectionID {
	return SectionIDTable
}

func (s *SectionTables) ReadPayload(r *bytes.Reader) (err error) {
	s.Entries, err = readVector(r, func(r io.Reader, t *Table) error { return t.UnmarshalWASM(r) })
	return err
}

// SectionMemories describes all linear memories used by a module.
type SectionMemories struct {
	RawSection
	Entries []Memory
}

func (*SectionMemories) SectionID() SectionID {
	return SectionIDMemory
}

func (s *SectionMemories) ReadPayload(r *bytes.Reader) (err error) {
	s.Entries, err = readVector(r, func(r io.Reader, m *Memory) error { return m.UnmarshalWASM(r) })
	return err
}

// SectionGlobals defines the value of all global variables declared in a module.
type SectionGlobals struct {
	RawSection
	Globals []GlobalEntry
}

func (*SectionGlobals) SectionID() SectionID {
	return SectionIDGlobal
}

func (s *SectionGlobals) ReadPayload(r *bytes.Reader) (err error) {
	s.Globals, err = readVector(r, func(r io.Reader, g *GlobalEntry) error { return g.UnmarshalWASM(r) })
	return err
}

// GlobalEntry declares a global variable.
type GlobalEntry struct {
	Type GlobalVar // Type holds information about the value type and mutability of the variable
	Init []byte    // Init is an initializer expression that computes the initial value of the variable
}

func (g *GlobalEntry) UnmarshalWASM(r io.Reader) error {
	err := g.Type.UnmarshalWASM(r)
	if err != nil {
		return err
	}

	// init_expr is delimited by opcode "end" (0x0b)
	g.Init, err = readInitExpr(r)
	return err
}

// SectionExports declares the export section of a module
type SectionExports struct {
	RawSection
	Entries []ExportEntry
}

func (*SectionExports) SectionID() SectionID {
	return SectionIDExport
}

type DuplicateExportError string

func (e DuplicateExportError) Error() string {
	return fmt.Sprintf("wasm: duplicate export entry: %s", string(e))
}

func (s *SectionExports) ReadPayload(r *bytes.Reader) (err error) {
	if s.Entries, err = readVector(r, func(r io.Reader, e *ExportEntry) error { return e.UnmarshalWASM(r) }); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(s.Entries))
	for _, e := range s.Entries {
		if _, ok := seen[e.FieldStr]; ok {
			return DuplicateExportError(e.FieldStr)
		}
		seen[e.FieldStr] = struct{}{}
	}
	return nil
}

// ExportEntry represents an exported entry by the module
type ExportEntry struct {
	FieldStr string
	Kind     External
	Index    uint32
}

func (e *ExportEntry) UnmarshalWASM(r io.Reader) error {
	var err error
	if e.FieldStr, err = readUTF8StringUint(r); err != nil {
		return err
	}
	if err := e.Kind.UnmarshalWASM(r); err != nil {
		return err
	}
	e.Index, err = leb128.ReadVarUint32(r)
	return err
}

// SectionStartFunction represents the start function section.
type SectionStartFunction struct {
	RawSection
	Index uint32 // The index of the start function into the global index space.
}

func (*SectionStartFunction) SectionID() SectionID {
	return SectionIDStart
}

func (s *SectionStartFunction) ReadPayload(r *bytes.Reader) error {
	return readIndex(r, &s.Index)
}

// SectionElements describes the initial contents of a table's elements.
type SectionElements struct {
	RawSection
	Entries []ElementSegment
}

func (*SectionElements) SectionID() SectionID {
	return SectionIDElement
}

func (s *SectionElements) ReadPayload(r *bytes.Reader) (err error) {
	s.Entries, err = readVector(r, func(r io.Reader, e *ElementSegment) error { return e.UnmarshalWASM(r) })
	return err
}

// SegmentMode describes when the contents of an element or data segment are applied.
type SegmentMode uint8

const (
	SegmentActive SegmentMode = iota
	SegmentPassive
	SegmentDeclarative
)

// NullElement is the function index recorded for a ref.null element.
const NullElement = math.MaxUint32

type InvalidSegmentFlagsError uint32

func (e InvalidSegmentFlagsError) Error() string {
	return fmt.Sprintf("wasm: invalid segment flags %d", uint32(e))
}

// ElementSegment describes a group of repeated elements that begin at a specified offset
type ElementSegment struct {
	Flags       uint32
	Mode        SegmentMode
	Index       uint32 // The index into the table space of an active segment
	Offset      []byte // initializer expression for computing the offset for placing elements, should return an i32 value
	ElementType ValueType
	// Elems holds the function index of each element, or NullElement.
	Elems []uint32
}

func (s *ElementSegment) UnmarshalWASM(r io.Reader) error {
	var err error
	if s.Flags, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	if s.Flags > 7 {
		return InvalidSegmentFlagsError(s.Flags)
	}

	// Bit 0: passive or declarative. Bit 1: explicit table index (active) or declarative (inactive).
	// Bit 2: elements are expressions rather than function indices.
	switch {
	case s.Flags&1 == 0:
		s.Mode = SegmentActive
	case s.Flags&2 == 0:
		s.Mode = SegmentPassive
	default:
		s.Mode = SegmentDeclarative
	}
	usesExprs := s.Flags&4 != 0

	if s.Mode == SegmentActive {
		if s.Flags&2 != 0 {
			if s.Index, err = leb128.ReadVarUint32(r); err != nil {
				return err
			}
		}
		if s.Offset, err = readInitExpr(r); err != nil {
			return err
		}
	}

	s.ElementType = ValueTypeFuncRef
	if s.Flags&3 != 0 {
		if usesExprs {
			if err = s.ElementType.unmarshalRefType(r); err != nil {
				return err
			}
		} else {
			kind, err := readByte(r)
			if err != nil {
				return err
			}
			if kind != 0 {
				return fmt.Errorf("wasm: invalid element kind %#x", kind)
			}
		}
	}

	if !usesExprs {
		s.Elems, err = readVector(r, readIndex)
		return err
	}
	s.Elems, err = readVector(r, func(r io.Reader, v *uint32) error {
		expr, err := readInitExpr(r)
		if err != nil {
			return err
		}
		c, err := DecodeConstExpr(expr)
		if err != nil {
			return err
		}
		switch c.Op {
		case OpRefFunc:
			*v = uint32(c.Value)
		case OpRefNull:
			*v = NullElement
		default:
			return InvalidInitExprOpError(c.Op)
		}
		return nil
	})
	return err
}

// SectionDataCount declares the number of data segments in the module.
type SectionDataCount struct {
	RawSection
	Count uint32
}

func (*SectionDataCount) SectionID() SectionID {
	return SectionIDDataCount
}

func (s *SectionDataCount) ReadPayload(r *bytes.Reader) error {
	return readIndex(r, &s.Count)
}

// SectionCode describes the body for every function declared inside a module.
type SectionCode struct {
	RawSection
	Bodies []FunctionBody
}

func (*SectionCode) SectionID() SectionID {
	return SectionIDCode
}

func (s *SectionCode) ReadPayload(r *bytes.Reader) (err error) {
	s.Bodies, err = readVector(r, func(_ io.Reader, body *FunctionBody) error {
		size, err := leb128.ReadVarUint32(r)
		if err != nil {
			return err
		}
		body.Offset = s.Start + (r.Size() - int64(r.Len()))
		return body.UnmarshalWASM(r, size)
	})
	return err
}

var ErrTooManyLocals = errors.New("wasm: too many locals")

type FunctionBody struct {
	// Offset is the position of the body within the module binary.
	Offset int64
	Locals []LocalEntry
	// Code holds the instructions that follow the local declarations.
	Code []byte
	// Body holds the complete encoded body, including local declarations.
	Body []byte
}

func (f *FunctionBody) UnmarshalWASM(r io.Reader, size uint32) error {
	body, err := readBytes(r, size)
	if err != nil {
		return err
	}
	f.Body = body

	br := bytes.NewReader(body)
	if f.Locals, err = readVector(br, func(r io.Reader, l *LocalEntry) error { return l.UnmarshalWASM(r) }); err != nil {
		return err
	}
	var total uint64
	for _, l := range f.Locals {
		total += uint64(l.Count)
	}
	if total > math.MaxUint32 {
		return ErrTooManyLocals
	}

	f.Code = body[len(body)-br.Len():]
	if len(f.Code) == 0 || f.Code[len(f.Code)-1] != OpEnd {
		return ErrFunctionNoEnd
	}
	return nil
}

var ErrFunctionNoEnd = errors.New("wasm: function body does not end with 0x0b (end)")

type LocalEntry struct {
	Count uint32    // The total number of local variables of the given Type used in the function body
	Type  ValueType // The type of value stored by the variable
}

func (l *LocalEntry) UnmarshalWASM(r io.Reader) error {
	var err error
	if l.Count, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	return l.Type.UnmarshalWASM(r)
}

// SectionData describes the initial values of a module's linear memory
type SectionData struct {
	RawSection
	Entries []DataSegment
}

func (*SectionData) SectionID() SectionID {
	return SectionIDData
}

func (s *SectionData) ReadPayload(r *bytes.Reader) (err error) {
	s.Entries, err = readVector(r, func(r io.Reader, e *DataSegment) error { return e.UnmarshalWASM(r) })
	return err
}

// DataSegment describes a group of repeated elements that begin at a specified offset in the linear memory
type DataSegment struct {
	Mode   SegmentMode
	Index  uint32 // The index into the linear memory space of an active segment
	Offset []byte // initializer expression for computing the offset for placing elements, should return an i32 value
	Data   []byte
}

func (s *DataSegment) UnmarshalWASM(r io.Reader) error {
	flags, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}

	switch flags {
	case 0:
		s.Mode = SegmentActive
	case 1:
		s.Mode = SegmentPassive
	case 2:
		s.Mode = SegmentActive
		if s.Index, err = leb128.ReadVarUint32(r); err != nil {
			return err
		}
	default:
		return InvalidSegmentFlagsError(flags)
	}

	if s.Mode == SegmentActive {
		if s.Offset, err = readInitExpr(r); err != nil {
			return err
		}
	}
	s.Data, err = readBytesUint(r)
	return err
}
