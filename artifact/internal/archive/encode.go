// Package archive encodes compiled modules into a flatbuffers buffer and reads them back without
// copying. The layout is described in module.fbs.
package archive

import (
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pgavlin/wasmu/types"
)

// FileIdentifier is the flatbuffers file identifier of an archived module.
const FileIdentifier = "WSMU"

type encoder struct {
	b *flatbuffers.Builder
}

// Encode archives m and returns the finished flatbuffers payload.
func Encode(m *types.SerializableModule) []byte {
	e := encoder{b: flatbuffers.NewBuilder(1024)}

	compilation := e.compilation(&m.Compilation)
	compileInfo := e.compileInfo(&m.CompileInfo)
	data := e.tables(len(m.DataInitializers), func(i int) flatbuffers.UOffsetT {
		d := &m.DataInitializers[i]
		return e.dataInitializer(d.Location, d.Data)
	})

	b := e.b
	b.StartObject(4)
	b.PrependUOffsetTSlot(0, compilation, 0)
	b.PrependUOffsetTSlot(1, compileInfo, 0)
	b.PrependUOffsetTSlot(2, data, 0)
	b.PrependUint64Slot(3, m.CPUFeatures, 0)
	root := b.EndObject()
	b.FinishWithFileIdentifier(root, []byte(FileIdentifier))
	return b.FinishedBytes()
}

func (e *encoder) bytes(v []byte) flatbuffers.UOffsetT {
	if len(v) == 0 {
		return 0
	}
	return e.b.CreateByteVector(v)
}

func (e *encoder) string(s string) flatbuffers.UOffsetT {
	if s == "" {
		return 0
	}
	return e.b.CreateString(s)
}

// tables writes a vector of n tables. The tables are created before the vector is started.
func (e *encoder) tables(n int, table func(i int) flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	if n == 0 {
		return 0
	}
	offsets := make([]flatbuffers.UOffsetT, n)
	for i := range offsets {
		offsets[i] = table(i)
	}
	e.b.StartVector(flatbuffers.SizeUOffsetT, n, flatbuffers.SizeUOffsetT)
	for i := n - 1; i >= 0; i-- {
		e.b.PrependUOffsetT(offsets[i])
	}
	return e.b.EndVector(n)
}

func uint32s[T ~uint32](e *encoder, vs []T) flatbuffers.UOffsetT {
	if len(vs) == 0 {
		return 0
	}
	e.b.StartVector(flatbuffers.SizeUint32, len(vs), flatbuffers.SizeUint32)
	for i := len(vs) - 1; i >= 0; i-- {
		e.b.PrependUint32(uint32(vs[i]))
	}
	return e.b.EndVector(len(vs))
}

func uint8s[T ~uint8](e *encoder, vs []T) flatbuffers.UOffsetT {
	if len(vs) == 0 {
		return 0
	}
	bs := make([]byte, len(vs))
	for i, v := range vs {
		bs[i] = byte(v)
	}
	return e.b.CreateByteVector(bs)
}

func sortedKeys[K ~uint32, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (e *encoder) functionBodies(bodies []types.FunctionBody) flatbuffers.UOffsetT {
	return e.tables(len(bodies), func(i int) flatbuffers.UOffsetT {
		body, unwind := e.bytes(bodies[i].Body), e.bytes(bodies[i].UnwindInfo)
		e.b.StartObject(2)
		e.b.PrependUOffsetTSlot(0, body, 0)
		e.b.PrependUOffsetTSlot(1, unwind, 0)
		return e.b.EndObject()
	})
}

func (e *encoder) relocationLists(lists [][]types.Relocation) flatbuffers.UOffsetT {
	return e.tables(len(lists), func(i int) flatbuffers.UOffsetT {
		relocs := lists[i]
		vec := e.tables(len(relocs), func(j int) flatbuffers.UOffsetT {
			r := relocs[j]
			e.b.StartObject(5)
			e.b.PrependUint8Slot(0, uint8(r.Kind), 0)
			e.b.PrependUint8Slot(1, uint8(r.Target.Kind), 0)
			e.b.PrependUint32Slot(2, r.Target.Index, 0)
			e.b.PrependUint32Slot(3, r.Offset, 0)
			e.b.PrependInt64Slot(4, r.Addend, 0)
			return e.b.EndObject()
		})
		e.b.StartObject(1)
		e.b.PrependUOffsetTSlot(0, vec, 0)
		return e.b.EndObject()
	})
}

func (e *encoder) frameInfo(infos []types.CompiledFunctionFrameInfo) flatbuffers.UOffsetT {
	return e.tables(len(infos), func(i int) flatbuffers.UOffsetT {
		info := &infos[i]
		traps := e.tables(len(info.Traps), func(j int) flatbuffers.UOffsetT {
			t := info.Traps[j]
			e.b.StartObject(2)
			e.b.PrependUint32Slot(0, t.CodeOffset, 0)
			e.b.PrependUint8Slot(1, uint8(t.TrapCode), 0)
			return e.b.EndObject()
		})

		am := &info.AddressMap
		instructions := e.tables(len(am.Instructions), func(j int) flatbuffers.UOffsetT {
			ins := am.Instructions[j]
			e.b.StartObject(3)
			e.b.PrependUint32Slot(0, ins.SrcLoc, 0)
			e.b.PrependUint32Slot(1, ins.CodeOffset, 0)
			e.b.PrependUint32Slot(2, ins.CodeLen, 0)
			return e.b.EndObject()
		})
		e.b.StartObject(5)
		e.b.PrependUOffsetTSlot(0, instructions, 0)
		e.b.PrependUint32Slot(1, am.StartSrcLoc, 0)
		e.b.PrependUint32Slot(2, am.EndSrcLoc, 0)
		e.b.PrependUint32Slot(3, am.BodyOffset, 0)
		e.b.PrependUint32Slot(4, am.BodyLen, 0)
		addressMap := e.b.EndObject()

		e.b.StartObject(2)
		e.b.PrependUOffsetTSlot(0, traps, 0)
		e.b.PrependUOffsetTSlot(1, addressMap, 0)
		return e.b.EndObject()
	})
}

func (e *encoder) compilation(c *types.SerializableCompilation) flatbuffers.UOffsetT {
	bodies := e.functionBodies(c.FunctionBodies)
	relocations := e.relocationLists(c.FunctionRelocations)
	frameInfo := e.frameInfo(c.FunctionFrameInfo)
	callTrampolines := e.functionBodies(c.FunctionCallTrampolines)
	dynamicTrampolines := e.functionBodies(c.DynamicFunctionTrampolines)
	customSections := e.tables(len(c.CustomSections), func(i int) flatbuffers.UOffsetT {
		s := c.CustomSections[i]
		bytes := e.bytes(s.Bytes)
		e.b.StartObject(2)
		e.b.PrependUint8Slot(0, uint8(s.Protection), 0)
		e.b.PrependUOffsetTSlot(1, bytes, 0)
		return e.b.EndObject()
	})
	customRelocations := e.relocationLists(c.CustomSectionRelocations)

	var debug flatbuffers.UOffsetT
	if c.Debug != nil {
		e.b.StartObject(1)
		e.b.PrependUint32Slot(0, uint32(c.Debug.EhFrame), 0)
		debug = e.b.EndObject()
	}

	b := e.b
	b.StartObject(10)
	b.PrependUOffsetTSlot(0, bodies, 0)
	b.PrependUOffsetTSlot(1, relocations, 0)
	b.PrependUOffsetTSlot(2, frameInfo, 0)
	b.PrependUOffsetTSlot(3, callTrampolines, 0)
	b.PrependUOffsetTSlot(4, dynamicTrampolines, 0)
	b.PrependUOffsetTSlot(5, customSections, 0)
	b.PrependUOffsetTSlot(6, customRelocations, 0)
	b.PrependUOffsetTSlot(7, debug, 0)
	b.PrependUint32Slot(8, uint32(c.LibcallTrampolines), 0)
	b.PrependUint32Slot(9, c.LibcallTrampolineLen, 0)
	return b.EndObject()
}

func (e *encoder) compileInfo(c *types.CompileModuleInfo) flatbuffers.UOffsetT {
	var module flatbuffers.UOffsetT
	if c.Module != nil {
		module = e.moduleInfo(c.Module)
	}
	memoryStyles := e.tables(len(c.MemoryStyles), func(i int) flatbuffers.UOffsetT {
		s := c.MemoryStyles[i]
		e.b.StartObject(3)
		e.b.PrependUint8Slot(0, uint8(s.Kind), 0)
		e.b.PrependUint32Slot(1, uint32(s.Bound), 0)
		e.b.PrependUint64Slot(2, s.OffsetGuardSize, 0)
		return e.b.EndObject()
	})
	tableStyles := uint8s(e, c.TableStyles)

	b := e.b
	b.StartObject(4)
	b.PrependUOffsetTSlot(0, module, 0)
	b.PrependUint32Slot(1, c.Features.Bits(), 0)
	b.PrependUOffsetTSlot(2, memoryStyles, 0)
	b.PrependUOffsetTSlot(3, tableStyles, 0)
	return b.EndObject()
}

func (e *encoder) dataInitializer(loc types.DataInitializerLocation, data []byte) flatbuffers.UOffsetT {
	bytes := e.bytes(data)
	e.b.StartObject(5)
	e.b.PrependUint32Slot(0, uint32(loc.MemoryIndex), 0)
	if loc.Base != nil {
		e.b.PrependBoolSlot(1, true, false)
		e.b.PrependUint32Slot(2, uint32(*loc.Base), 0)
	}
	e.b.PrependUint32Slot(3, loc.Offset, 0)
	e.b.PrependUOffsetTSlot(4, bytes, 0)
	return e.b.EndObject()
}

func (e *encoder) moduleInfo(m *types.ModuleInfo) flatbuffers.UOffsetT {
	name := e.string(m.Name)
	imports := e.tables(len(m.Imports), func(i int) flatbuffers.UOffsetT {
		imp := m.Imports[i]
		module, field := e.string(imp.Module), e.string(imp.Field)
		e.b.StartObject(4)
		e.b.PrependUOffsetTSlot(0, module, 0)
		e.b.PrependUOffsetTSlot(1, field, 0)
		e.b.PrependUint8Slot(2, uint8(imp.Kind), 0)
		e.b.PrependUint32Slot(3, imp.Index, 0)
		return e.b.EndObject()
	})
	exports := e.tables(len(m.Exports), func(i int) flatbuffers.UOffsetT {
		exp := m.Exports[i]
		name := e.string(exp.Name)
		e.b.StartObject(3)
		e.b.PrependUOffsetTSlot(0, name, 0)
		e.b.PrependUint8Slot(1, uint8(exp.Kind), 0)
		e.b.PrependUint32Slot(2, exp.Index, 0)
		return e.b.EndObject()
	})
	tableInitializers := e.tables(len(m.TableInitializers), func(i int) flatbuffers.UOffsetT {
		t := m.TableInitializers[i]
		elements := uint32s(e, t.Elements)
		e.b.StartObject(5)
		e.b.PrependUint32Slot(0, uint32(t.TableIndex), 0)
		if t.Base != nil {
			e.b.PrependBoolSlot(1, true, false)
			e.b.PrependUint32Slot(2, uint32(*t.Base), 0)
		}
		e.b.PrependUint32Slot(3, t.Offset, 0)
		e.b.PrependUOffsetTSlot(4, elements, 0)
		return e.b.EndObject()
	})

	elemKeys := sortedKeys(m.PassiveElements)
	passiveElements := e.tables(len(elemKeys), func(i int) flatbuffers.UOffsetT {
		elements := uint32s(e, m.PassiveElements[elemKeys[i]])
		e.b.StartObject(2)
		e.b.PrependUint32Slot(0, uint32(elemKeys[i]), 0)
		e.b.PrependUOffsetTSlot(1, elements, 0)
		return e.b.EndObject()
	})
	dataKeys := sortedKeys(m.PassiveData)
	passiveData := e.tables(len(dataKeys), func(i int) flatbuffers.UOffsetT {
		data := e.bytes(m.PassiveData[dataKeys[i]])
		e.b.StartObject(2)
		e.b.PrependUint32Slot(0, uint32(dataKeys[i]), 0)
		e.b.PrependUOffsetTSlot(1, data, 0)
		return e.b.EndObject()
	})
	globalInitializers := e.tables(len(m.GlobalInitializers), func(i int) flatbuffers.UOffsetT {
		g := m.GlobalInitializers[i]
		e.b.StartObject(2)
		e.b.PrependUint8Slot(0, uint8(g.Kind), 0)
		e.b.PrependUint64Slot(1, g.Value, 0)
		return e.b.EndObject()
	})
	nameKeys := sortedKeys(m.FunctionNames)
	functionNames := e.tables(len(nameKeys), func(i int) flatbuffers.UOffsetT {
		name := e.string(m.FunctionNames[nameKeys[i]])
		e.b.StartObject(2)
		e.b.PrependUint32Slot(0, uint32(nameKeys[i]), 0)
		e.b.PrependUOffsetTSlot(1, name, 0)
		return e.b.EndObject()
	})
	signatures := e.tables(len(m.Signatures), func(i int) flatbuffers.UOffsetT {
		sig := m.Signatures[i]
		params, results := uint8s(e, sig.Params), uint8s(e, sig.Results)
		e.b.StartObject(2)
		e.b.PrependUOffsetTSlot(0, params, 0)
		e.b.PrependUOffsetTSlot(1, results, 0)
		return e.b.EndObject()
	})
	functions := uint32s(e, m.Functions)
	tables := e.tables(len(m.Tables), func(i int) flatbuffers.UOffsetT {
		t := m.Tables[i]
		e.b.StartObject(4)
		e.b.PrependUint8Slot(0, uint8(t.Type), 0)
		e.b.PrependUint32Slot(1, t.Minimum, 0)
		if t.Maximum != nil {
			e.b.PrependBoolSlot(2, true, false)
			e.b.PrependUint32Slot(3, *t.Maximum, 0)
		}
		return e.b.EndObject()
	})
	memories := e.tables(len(m.Memories), func(i int) flatbuffers.UOffsetT {
		mem := m.Memories[i]
		e.b.StartObject(4)
		e.b.PrependUint32Slot(0, uint32(mem.Minimum), 0)
		if mem.Maximum != nil {
			e.b.PrependBoolSlot(1, true, false)
			e.b.PrependUint32Slot(2, uint32(*mem.Maximum), 0)
		}
		e.b.PrependBoolSlot(3, mem.Shared, false)
		return e.b.EndObject()
	})
	globals := e.tables(len(m.Globals), func(i int) flatbuffers.UOffsetT {
		g := m.Globals[i]
		e.b.StartObject(2)
		e.b.PrependUint8Slot(0, uint8(g.Type), 0)
		e.b.PrependBoolSlot(1, g.Mutable, false)
		return e.b.EndObject()
	})
	customSections := e.tables(len(m.CustomSections), func(i int) flatbuffers.UOffsetT {
		s := m.CustomSections[i]
		name, data := e.string(s.Name), e.bytes(s.Data)
		e.b.StartObject(2)
		e.b.PrependUOffsetTSlot(0, name, 0)
		e.b.PrependUOffsetTSlot(1, data, 0)
		return e.b.EndObject()
	})

	b := e.b
	b.StartObject(20)
	b.PrependUOffsetTSlot(0, name, 0)
	b.PrependUOffsetTSlot(1, imports, 0)
	b.PrependUOffsetTSlot(2, exports, 0)
	if m.StartFunction != nil {
		b.PrependBoolSlot(3, true, false)
		b.PrependUint32Slot(4, uint32(*m.StartFunction), 0)
	}
	b.PrependUOffsetTSlot(5, tableInitializers, 0)
	b.PrependUOffsetTSlot(6, passiveElements, 0)
	b.PrependUOffsetTSlot(7, passiveData, 0)
	b.PrependUOffsetTSlot(8, globalInitializers, 0)
	b.PrependUOffsetTSlot(9, functionNames, 0)
	b.PrependUOffsetTSlot(10, signatures, 0)
	b.PrependUOffsetTSlot(11, functions, 0)
	b.PrependUOffsetTSlot(12, tables, 0)
	b.PrependUOffsetTSlot(13, memories, 0)
	b.PrependUOffsetTSlot(14, globals, 0)
	b.PrependUOffsetTSlot(15, customSections, 0)
	b.PrependUint32Slot(16, uint32(m.NumImportedFunctions), 0)
	b.PrependUint32Slot(17, uint32(m.NumImportedTables), 0)
	b.PrependUint32Slot(18, uint32(m.NumImportedMemories), 0)
	b.PrependUint32Slot(19, uint32(m.NumImportedGlobals), 0)
	return b.EndObject()
}
