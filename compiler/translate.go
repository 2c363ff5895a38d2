package compiler

import (
	"bytes"
	"fmt"

	"github.com/pgavlin/wasmu/types"
	"github.com/pgavlin/wasmu/wasm"
)

// ModuleTranslation is the result of translating a module binary.
type ModuleTranslation struct {
	Module *types.ModuleInfo
	// FunctionBodies holds the body of each local function.
	FunctionBodies []FunctionBodyData
	// DataInitializers holds the active data segments. Their bytes are owned by the translation.
	DataInitializers []types.DataInitializer
}

// Translate decodes and validates a module binary. Decoding failures are reported as wasm errors, and
// validation failures as validation errors.
func Translate(binary []byte, features types.Features) (*ModuleTranslation, error) {
	m, err := wasm.DecodeModule(bytes.NewReader(binary))
	if err != nil {
		return nil, types.NewCompileError(types.CompileErrorWasm, err)
	}
	if err := Validate(binary, features); err != nil {
		return nil, err
	}

	t, err := translateModule(m)
	if err != nil {
		return nil, types.NewCompileError(types.CompileErrorWasm, err)
	}
	return t, nil
}

func valueType(t wasm.ValueType) (types.Type, error) {
	switch t {
	case wasm.ValueTypeI32:
		return types.I32, nil
	case wasm.ValueTypeI64:
		return types.I64, nil
	case wasm.ValueTypeF32:
		return types.F32, nil
	case wasm.ValueTypeF64:
		return types.F64, nil
	case wasm.ValueTypeV128:
		return types.V128, nil
	case wasm.ValueTypeFuncRef:
		return types.FuncRef, nil
	case wasm.ValueTypeExternRef:
		return types.ExternRef, nil
	default:
		return 0, fmt.Errorf("unsupported value type %v", t)
	}
}

func valueTypes(ts []wasm.ValueType) ([]types.Type, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	out := make([]types.Type, len(ts))
	for i, t := range ts {
		vt, err := valueType(t)
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

func tableType(t wasm.Table) (types.TableType, error) {
	elem, err := valueType(t.ElementType)
	if err != nil {
		return types.TableType{}, err
	}
	tt := types.TableType{Type: elem, Minimum: t.Limits.Initial}
	if t.Limits.HasMaximum() {
		max := t.Limits.Maximum
		tt.Maximum = &max
	}
	return tt, nil
}

func memoryType(m wasm.Memory) types.MemoryType {
	mt := types.MemoryType{Minimum: types.Pages(m.Limits.Initial), Shared: m.Limits.Shared()}
	if m.Limits.HasMaximum() {
		max := types.Pages(m.Limits.Maximum)
		mt.Maximum = &max
	}
	return mt
}

func globalType(g wasm.GlobalVar) (types.GlobalType, error) {
	t, err := valueType(g.Type)
	if err != nil {
		return types.GlobalType{}, err
	}
	return types.GlobalType{Type: t, Mutable: g.Mutable}, nil
}

func globalInit(expr []byte) (types.GlobalInit, error) {
	c, err := wasm.DecodeConstExpr(expr)
	if err != nil {
		return types.GlobalInit{}, err
	}
	switch c.Op {
	case wasm.OpI32Const:
		return types.GlobalInit{Kind: types.GlobalInitI32Const, Value: c.Value}, nil
	case wasm.OpI64Const:
		return types.GlobalInit{Kind: types.GlobalInitI64Const, Value: c.Value}, nil
	case wasm.OpF32Const:
		return types.GlobalInit{Kind: types.GlobalInitF32Const, Value: c.Value}, nil
	case wasm.OpF64Const:
		return types.GlobalInit{Kind: types.GlobalInitF64Const, Value: c.Value}, nil
	case wasm.OpGlobalGet:
		return types.GlobalInit{Kind: types.GlobalInitGetGlobal, Value: c.Value}, nil
	case wasm.OpRefNull:
		return types.GlobalInit{Kind: types.GlobalInitRefNull}, nil
	case wasm.OpRefFunc:
		return types.GlobalInit{Kind: types.GlobalInitRefFunc, Value: c.Value}, nil
	default:
		return types.GlobalInit{}, wasm.InvalidInitExprOpError(c.Op)
	}
}

// segmentOffset evaluates the offset expression of an active segment into a constant offset and an
// optional base global.
func segmentOffset(expr []byte) (*types.GlobalIndex, uint32, error) {
	c, err := wasm.DecodeConstExpr(expr)
	if err != nil {
		return nil, 0, err
	}
	switch c.Op {
	case wasm.OpI32Const:
		return nil, uint32(c.Value), nil
	case wasm.OpGlobalGet:
		base := types.GlobalIndex(c.Value)
		return &base, 0, nil
	default:
		return nil, 0, wasm.InvalidInitExprOpError(c.Op)
	}
}

func functionIndices(elems []uint32) []types.FunctionIndex {
	if len(elems) == 0 {
		return nil
	}
	out := make([]types.FunctionIndex, len(elems))
	for i, e := range elems {
		out[i] = types.FunctionIndex(e)
	}
	return out
}

func translateModule(m *wasm.Module) (*ModuleTranslation, error) {
	info := &types.ModuleInfo{}

	if m.Types != nil {
		for _, sig := range m.Types.Entries {
			params, err := valueTypes(sig.ParamTypes)
			if err != nil {
				return nil, err
			}
			results, err := valueTypes(sig.ReturnTypes)
			if err != nil {
				return nil, err
			}
			info.Signatures = append(info.Signatures, types.FunctionType{Params: params, Results: results})
		}
	}

	if m.Import != nil {
		for _, entry := range m.Import.Entries {
			imp := types.Import{Module: entry.ModuleName, Field: entry.FieldName}
			switch t := entry.Type.(type) {
			case wasm.FuncImport:
				imp.Kind, imp.Index = types.ExternFunction, uint32(len(info.Functions))
				info.Functions = append(info.Functions, types.SignatureIndex(t.Type))
				info.NumImportedFunctions++
			case wasm.TableImport:
				tt, err := tableType(t.Type)
				if err != nil {
					return nil, err
				}
				imp.Kind, imp.Index = types.ExternTable, uint32(len(info.Tables))
				info.Tables = append(info.Tables, tt)
				info.NumImportedTables++
			case wasm.MemoryImport:
				imp.Kind, imp.Index = types.ExternMemory, uint32(len(info.Memories))
				info.Memories = append(info.Memories, memoryType(t.Type))
				info.NumImportedMemories++
			case wasm.GlobalVarImport:
				gt, err := globalType(t.Type)
				if err != nil {
					return nil, err
				}
				imp.Kind, imp.Index = types.ExternGlobal, uint32(len(info.Globals))
				info.Globals = append(info.Globals, gt)
				info.NumImportedGlobals++
			}
			info.Imports = append(info.Imports, imp)
		}
	}

	if m.Function != nil {
		for _, sig := range m.Function.Types {
			info.Functions = append(info.Functions, types.SignatureIndex(sig))
		}
	}

	if m.Table != nil {
		for _, t := range m.Table.Entries {
			tt, err := tableType(t)
			if err != nil {
				return nil, err
			}
			info.Tables = append(info.Tables, tt)
		}
	}

	if m.Memory != nil {
		for _, mem := range m.Memory.Entries {
			info.Memories = append(info.Memories, memoryType(mem))
		}
	}

	if m.Global != nil {
		for i, g := range m.Global.Globals {
			gt, err := globalType(g.Type)
			if err != nil {
				return nil, err
			}
			init, err := globalInit(g.Init)
			if err != nil {
				return nil, fmt.Errorf("global %d: %w", i, err)
			}
			info.Globals = append(info.Globals, gt)
			info.GlobalInitializers = append(info.GlobalInitializers, init)
		}
	}

	if m.Export != nil {
		for _, e := range m.Export.Entries {
			info.Exports = append(info.Exports, types.Export{Name: e.FieldStr, Kind: types.ExternKind(e.Kind), Index: e.Index})
		}
	}

	if m.Start != nil {
		start := types.FunctionIndex(m.Start.Index)
		info.StartFunction = &start
	}

	if m.Elements != nil {
		for i, seg := range m.Elements.Entries {
			elements := functionIndices(seg.Elems)
			switch seg.Mode {
			case wasm.SegmentActive:
				base, offset, err := segmentOffset(seg.Offset)
				if err != nil {
					return nil, fmt.Errorf("element segment %d: %w", i, err)
				}
				info.TableInitializers = append(info.TableInitializers, types.TableInitializer{
					TableIndex: types.TableIndex(seg.Index),
					Base:       base,
					Offset:     offset,
					Elements:   elements,
				})
			case wasm.SegmentPassive:
				if info.PassiveElements == nil {
					info.PassiveElements = map[types.ElemIndex][]types.FunctionIndex{}
				}
				info.PassiveElements[types.ElemIndex(i)] = elements
			}
		}
	}

	var dataInitializers []types.DataInitializer
	if m.Data != nil {
		for i, seg := range m.Data.Entries {
			switch seg.Mode {
			case wasm.SegmentActive:
				base, offset, err := segmentOffset(seg.Offset)
				if err != nil {
					return nil, fmt.Errorf("data segment %d: %w", i, err)
				}
				dataInitializers = append(dataInitializers, types.DataInitializer{
					Location: types.DataInitializerLocation{MemoryIndex: types.MemoryIndex(seg.Index), Base: base, Offset: offset},
					Data:     seg.Data,
				})
			case wasm.SegmentPassive:
				if info.PassiveData == nil {
					info.PassiveData = map[types.DataIndex][]byte{}
				}
				info.PassiveData[types.DataIndex(i)] = types.CloneBytes(seg.Data)
			}
		}
	}

	for _, c := range m.Customs {
		info.CustomSections = append(info.CustomSections, types.WasmCustomSection{Name: c.Name, Data: types.CloneBytes(c.Data)})
	}
	if names, err := m.Names(); err == nil {
		info.Name = names.ModuleName
		for _, n := range names.FunctionNames {
			if info.FunctionNames == nil {
				info.FunctionNames = map[types.FunctionIndex]string{}
			}
			info.FunctionNames[types.FunctionIndex(n.Index)] = n.Name
		}
	}

	var bodies []FunctionBodyData
	if m.Code != nil {
		for _, b := range m.Code.Bodies {
			bodies = append(bodies, FunctionBodyData{Data: b.Body, ModuleOffset: b.Offset})
		}
	}

	return &ModuleTranslation{Module: info, FunctionBodies: bodies, DataInitializers: dataInitializers}, nil
}
