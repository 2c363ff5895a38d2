package archive

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pgavlin/wasmu/types"
)

var (
	ErrTooShort          = errors.New("archive is too short")
	ErrInvalidIdentifier = errors.New("archive has an invalid file identifier")
)

// RootOutOfBoundsError is returned when the root table offset of an archive points outside the buffer.
type RootOutOfBoundsError uint32

func (e RootOutOfBoundsError) Error() string {
	return fmt.Sprintf("root table offset %d is out of bounds", uint32(e))
}

// Vector is a read-only view of an archived sequence. At decodes an element that may alias the archive;
// Own decodes an element that owns all of its memory.
type Vector[T any] struct {
	n   int
	at  func(i int) T
	own func(i int) T
}

func (v Vector[T]) Len() int { return v.n }

func (v Vector[T]) At(i int) T { return v.at(i) }

func (v Vector[T]) Own(i int) T { return v.own(i) }

type table struct {
	flatbuffers.Table
}

func (t table) field(slot int) flatbuffers.UOffsetT {
	if t.Bytes == nil {
		return 0
	}
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

func (t table) u8(slot int) uint8 {
	if o := t.field(slot); o != 0 {
		return t.GetUint8(t.Pos + o)
	}
	return 0
}

func (t table) u32(slot int) uint32 {
	if o := t.field(slot); o != 0 {
		return t.GetUint32(t.Pos + o)
	}
	return 0
}

func (t table) u64(slot int) uint64 {
	if o := t.field(slot); o != 0 {
		return t.GetUint64(t.Pos + o)
	}
	return 0
}

func (t table) i64(slot int) int64 {
	if o := t.field(slot); o != 0 {
		return t.GetInt64(t.Pos + o)
	}
	return 0
}

func (t table) flag(slot int) bool {
	if o := t.field(slot); o != 0 {
		return t.GetBool(t.Pos + o)
	}
	return false
}

// bytes returns the byte vector in the given slot. The result aliases the archive.
func (t table) bytes(slot int) []byte {
	o := t.field(slot)
	if o == 0 {
		return nil
	}
	if b := t.ByteVector(t.Pos + o); len(b) != 0 {
		return b
	}
	return nil
}

func (t table) string(slot int) string {
	if o := t.field(slot); o != 0 {
		return t.String(t.Pos + o)
	}
	return ""
}

func (t table) len(slot int) int {
	if o := t.field(slot); o != 0 {
		return t.VectorLen(o)
	}
	return 0
}

func (t table) child(slot int) (table, bool) {
	o := t.field(slot)
	if o == 0 {
		return table{}, false
	}
	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(t.Pos + o)}}, true
}

func (t table) elem(slot, i int) table {
	x := t.Vector(t.field(slot)) + flatbuffers.UOffsetT(i)*flatbuffers.SizeUOffsetT
	return table{flatbuffers.Table{Bytes: t.Bytes, Pos: t.Indirect(x)}}
}

func (t table) u32At(slot, i int) uint32 {
	return t.GetUint32(t.Vector(t.field(slot)) + flatbuffers.UOffsetT(i)*flatbuffers.SizeUint32)
}

func vector[T any](t table, slot int, decode func(t table, own bool) T) Vector[T] {
	return Vector[T]{
		n:   t.len(slot),
		at:  func(i int) T { return decode(t.elem(slot, i), false) },
		own: func(i int) T { return decode(t.elem(slot, i), true) },
	}
}

func collect[T any](t table, slot int, own bool, decode func(t table, own bool) T) []T {
	n := t.len(slot)
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = decode(t.elem(slot, i), own)
	}
	return out
}

func indices[T ~uint32](t table, slot int) []T {
	n := t.len(slot)
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = T(t.u32At(slot, i))
	}
	return out
}

func bytesOf(t table, slot int, own bool) []byte {
	b := t.bytes(slot)
	if own {
		return types.CloneBytes(b)
	}
	return b
}

func bytesAs[T ~uint8](t table, slot int) []T {
	b := t.bytes(slot)
	if len(b) == 0 {
		return nil
	}
	out := make([]T, len(b))
	for i, v := range b {
		out[i] = T(v)
	}
	return out
}

func optional[T ~uint32](t table, hasSlot, slot int) *T {
	if !t.flag(hasSlot) {
		return nil
	}
	v := T(t.u32(slot))
	return &v
}

// Module is a view of an archived module.
type Module struct {
	root table
}

// Open checks the file identifier and root table offset of an archive and returns a view over it. No
// other part of the archive is inspected.
func Open(buf []byte) (Module, error) {
	if len(buf) < flatbuffers.SizeUOffsetT+len(FileIdentifier) {
		return Module{}, ErrTooShort
	}
	if string(buf[flatbuffers.SizeUOffsetT:flatbuffers.SizeUOffsetT+len(FileIdentifier)]) != FileIdentifier {
		return Module{}, ErrInvalidIdentifier
	}
	root := flatbuffers.GetUOffsetT(buf)
	if int(root)+flatbuffers.SizeSOffsetT > len(buf) {
		return Module{}, RootOutOfBoundsError(root)
	}
	return Module{root: table{flatbuffers.Table{Bytes: buf, Pos: root}}}, nil
}

func (m Module) compilation() table {
	t, _ := m.root.child(0)
	return t
}

func (m Module) compileInfo() table {
	t, _ := m.root.child(1)
	return t
}

func (m Module) CPUFeatures() uint64 {
	return m.root.u64(3)
}

func (m Module) Features() types.Features {
	return types.FeaturesFromBits(m.compileInfo().u32(1))
}

// ModuleInfo decodes the module metadata. The result owns all of its memory.
func (m Module) ModuleInfo() *types.ModuleInfo {
	t, ok := m.compileInfo().child(0)
	if !ok {
		return &types.ModuleInfo{}
	}
	return decodeModuleInfo(t)
}

func (m Module) MemoryStyles() Vector[types.MemoryStyle] {
	return vector(m.compileInfo(), 2, func(t table, _ bool) types.MemoryStyle {
		return types.MemoryStyle{Kind: types.MemoryStyleKind(t.u8(0)), Bound: types.Pages(t.u32(1)), OffsetGuardSize: t.u64(2)}
	})
}

func (m Module) TableStyles() Vector[types.TableStyle] {
	b := m.compileInfo().bytes(3)
	at := func(i int) types.TableStyle { return types.TableStyle(b[i]) }
	return Vector[types.TableStyle]{n: len(b), at: at, own: at}
}

func (m Module) DataInitializers() Vector[types.DataInitializer] {
	return vector(m.root, 2, func(t table, own bool) types.DataInitializer {
		return types.DataInitializer{
			Location: types.DataInitializerLocation{
				MemoryIndex: types.MemoryIndex(t.u32(0)),
				Base:        optional[types.GlobalIndex](t, 1, 2),
				Offset:      t.u32(3),
			},
			Data: bytesOf(t, 4, own),
		}
	})
}

func decodeFunctionBody(t table, own bool) types.FunctionBody {
	return types.FunctionBody{Body: bytesOf(t, 0, own), UnwindInfo: bytesOf(t, 1, own)}
}

func decodeRelocations(t table, _ bool) []types.Relocation {
	return collect(t, 0, false, func(t table, _ bool) types.Relocation {
		return types.Relocation{
			Kind:   types.RelocationKind(t.u8(0)),
			Target: types.RelocationTarget{Kind: types.RelocationTargetKind(t.u8(1)), Index: t.u32(2)},
			Offset: t.u32(3),
			Addend: t.i64(4),
		}
	})
}

func decodeFrameInfo(t table, _ bool) types.CompiledFunctionFrameInfo {
	var info types.CompiledFunctionFrameInfo
	info.Traps = collect(t, 0, false, func(t table, _ bool) types.TrapInformation {
		return types.TrapInformation{CodeOffset: t.u32(0), TrapCode: types.TrapCode(t.u8(1))}
	})
	if am, ok := t.child(1); ok {
		info.AddressMap = types.FunctionAddressMap{
			Instructions: collect(am, 0, false, func(t table, _ bool) types.InstructionAddressMap {
				return types.InstructionAddressMap{SrcLoc: t.u32(0), CodeOffset: t.u32(1), CodeLen: t.u32(2)}
			}),
			StartSrcLoc: am.u32(1),
			EndSrcLoc:   am.u32(2),
			BodyOffset:  am.u32(3),
			BodyLen:     am.u32(4),
		}
	}
	return info
}

func decodeCustomSection(t table, own bool) types.CustomSection {
	return types.CustomSection{Protection: types.CustomSectionProtection(t.u8(0)), Bytes: bytesOf(t, 1, own)}
}

func (m Module) FunctionBodies() Vector[types.FunctionBody] {
	return vector(m.compilation(), 0, decodeFunctionBody)
}

func (m Module) FunctionRelocations() Vector[[]types.Relocation] {
	return vector(m.compilation(), 1, decodeRelocations)
}

func (m Module) FrameInfo() Vector[types.CompiledFunctionFrameInfo] {
	return vector(m.compilation(), 2, decodeFrameInfo)
}

func (m Module) FunctionCallTrampolines() Vector[types.FunctionBody] {
	return vector(m.compilation(), 3, decodeFunctionBody)
}

func (m Module) DynamicFunctionTrampolines() Vector[types.FunctionBody] {
	return vector(m.compilation(), 4, decodeFunctionBody)
}

func (m Module) CustomSections() Vector[types.CustomSection] {
	return vector(m.compilation(), 5, decodeCustomSection)
}

func (m Module) CustomSectionRelocations() Vector[[]types.Relocation] {
	return vector(m.compilation(), 6, decodeRelocations)
}

func (m Module) Debug() *types.Dwarf {
	t, ok := m.compilation().child(7)
	if !ok {
		return nil
	}
	return &types.Dwarf{EhFrame: types.SectionIndex(t.u32(0))}
}

func (m Module) LibcallTrampolines() types.SectionIndex {
	return types.SectionIndex(m.compilation().u32(8))
}

func (m Module) LibcallTrampolineLen() uint32 {
	return m.compilation().u32(9)
}

func decodeModuleInfo(t table) *types.ModuleInfo {
	info := &types.ModuleInfo{
		Name: t.string(0),
		Imports: collect(t, 1, true, func(t table, _ bool) types.Import {
			return types.Import{Module: t.string(0), Field: t.string(1), Kind: types.ExternKind(t.u8(2)), Index: t.u32(3)}
		}),
		Exports: collect(t, 2, true, func(t table, _ bool) types.Export {
			return types.Export{Name: t.string(0), Kind: types.ExternKind(t.u8(1)), Index: t.u32(2)}
		}),
		StartFunction: optional[types.FunctionIndex](t, 3, 4),
		TableInitializers: collect(t, 5, true, func(t table, _ bool) types.TableInitializer {
			return types.TableInitializer{
				TableIndex: types.TableIndex(t.u32(0)),
				Base:       optional[types.GlobalIndex](t, 1, 2),
				Offset:     t.u32(3),
				Elements:   indices[types.FunctionIndex](t, 4),
			}
		}),
		GlobalInitializers: collect(t, 8, true, func(t table, _ bool) types.GlobalInit {
			return types.GlobalInit{Kind: types.GlobalInitKind(t.u8(0)), Value: t.u64(1)}
		}),
		Signatures: collect(t, 10, true, func(t table, _ bool) types.FunctionType {
			return types.FunctionType{Params: bytesAs[types.Type](t, 0), Results: bytesAs[types.Type](t, 1)}
		}),
		Functions: indices[types.SignatureIndex](t, 11),
		Tables: collect(t, 12, true, func(t table, _ bool) types.TableType {
			return types.TableType{Type: types.Type(t.u8(0)), Minimum: t.u32(1), Maximum: optional[uint32](t, 2, 3)}
		}),
		Memories: collect(t, 13, true, func(t table, _ bool) types.MemoryType {
			return types.MemoryType{Minimum: types.Pages(t.u32(0)), Maximum: optional[types.Pages](t, 1, 2), Shared: t.flag(3)}
		}),
		Globals: collect(t, 14, true, func(t table, _ bool) types.GlobalType {
			return types.GlobalType{Type: types.Type(t.u8(0)), Mutable: t.flag(1)}
		}),
		CustomSections: collect(t, 15, true, func(t table, _ bool) types.WasmCustomSection {
			return types.WasmCustomSection{Name: t.string(0), Data: bytesOf(t, 1, true)}
		}),
		NumImportedFunctions: int(t.u32(16)),
		NumImportedTables:    int(t.u32(17)),
		NumImportedMemories:  int(t.u32(18)),
		NumImportedGlobals:   int(t.u32(19)),
	}

	if n := t.len(6); n != 0 {
		info.PassiveElements = make(map[types.ElemIndex][]types.FunctionIndex, n)
		for i := 0; i < n; i++ {
			e := t.elem(6, i)
			info.PassiveElements[types.ElemIndex(e.u32(0))] = indices[types.FunctionIndex](e, 1)
		}
	}
	if n := t.len(7); n != 0 {
		info.PassiveData = make(map[types.DataIndex][]byte, n)
		for i := 0; i < n; i++ {
			e := t.elem(7, i)
			info.PassiveData[types.DataIndex(e.u32(0))] = bytesOf(e, 1, true)
		}
	}
	if n := t.len(9); n != 0 {
		info.FunctionNames = make(map[types.FunctionIndex]string, n)
		for i := 0; i < n; i++ {
			e := t.elem(9, i)
			info.FunctionNames[types.FunctionIndex(e.u32(0))] = e.string(1)
		}
	}
	return info
}

// Decode materializes the whole archive. The result owns all of its memory.
func (m Module) Decode() *types.SerializableModule {
	compilation := types.SerializableCompilation{
		FunctionBodies:             owned(m.FunctionBodies()),
		FunctionRelocations:        owned(m.FunctionRelocations()),
		FunctionFrameInfo:          owned(m.FrameInfo()),
		FunctionCallTrampolines:    owned(m.FunctionCallTrampolines()),
		DynamicFunctionTrampolines: owned(m.DynamicFunctionTrampolines()),
		CustomSections:             owned(m.CustomSections()),
		CustomSectionRelocations:   owned(m.CustomSectionRelocations()),
		Debug:                      m.Debug(),
		LibcallTrampolines:         m.LibcallTrampolines(),
		LibcallTrampolineLen:       m.LibcallTrampolineLen(),
	}

	var data []types.OwnedDataInitializer
	inits := m.DataInitializers()
	for i := 0; i < inits.Len(); i++ {
		d := inits.Own(i)
		data = append(data, types.OwnedDataInitializer{Location: d.Location, Data: d.Data})
	}

	return &types.SerializableModule{
		Compilation: compilation,
		CompileInfo: types.CompileModuleInfo{
			Module:       m.ModuleInfo(),
			Features:     m.Features(),
			MemoryStyles: owned(m.MemoryStyles()),
			TableStyles:  owned(m.TableStyles()),
		},
		DataInitializers: data,
		CPUFeatures:      m.CPUFeatures(),
	}
}

func owned[T any](v Vector[T]) []T {
	if v.Len() == 0 {
		return nil
	}
	out := make([]T, v.Len())
	for i := range out {
		out[i] = v.Own(i)
	}
	return out
}
