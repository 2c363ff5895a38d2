package archive

import (
	"testing"

	"github.com/pgavlin/wasmu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32p(v uint32) *uint32 { return &v }

func fullModule() *types.SerializableModule {
	start := types.FunctionIndex(1)
	base := types.GlobalIndex(0)
	max := types.Pages(2)
	return &types.SerializableModule{
		Compilation: types.SerializableCompilation{
			FunctionBodies: []types.FunctionBody{{Body: []byte{1, 2, 3}, UnwindInfo: []byte{9}}, {Body: []byte{4}}},
			FunctionRelocations: [][]types.Relocation{
				{{Kind: types.RelocX86CallPCRel4, Target: types.RelocationTarget{Kind: types.RelocTargetLocalFunc, Index: 1}, Offset: 1, Addend: -4}},
				nil,
			},
			FunctionFrameInfo: []types.CompiledFunctionFrameInfo{
				{
					Traps: []types.TrapInformation{{CodeOffset: 2, TrapCode: types.TrapUnreachableCodeReached}},
					AddressMap: types.FunctionAddressMap{
						Instructions: []types.InstructionAddressMap{{SrcLoc: 30, CodeOffset: 0, CodeLen: 3}},
						StartSrcLoc:  30,
						EndSrcLoc:    33,
						BodyLen:      3,
					},
				},
				{},
			},
			FunctionCallTrampolines:    []types.FunctionBody{{Body: []byte{0xc3}}},
			DynamicFunctionTrampolines: []types.FunctionBody{{}},
			CustomSections:             []types.CustomSection{{Protection: types.ProtectionReadExecute, Bytes: []byte{0xaa, 0xbb}}},
			CustomSectionRelocations: [][]types.Relocation{
				{{Kind: types.RelocAbs8, Target: types.RelocationTarget{Kind: types.RelocTargetLibCall, Index: 3}}},
			},
			Debug:                &types.Dwarf{EhFrame: 0},
			LibcallTrampolines:   0,
			LibcallTrampolineLen: 13,
		},
		CompileInfo: types.CompileModuleInfo{
			Module: &types.ModuleInfo{
				Name:              "m",
				Imports:           []types.Import{{Module: "env", Field: "f", Kind: types.ExternFunction}},
				Exports:           []types.Export{{Name: "g", Kind: types.ExternFunction, Index: 1}},
				StartFunction:     &start,
				TableInitializers: []types.TableInitializer{{Base: &base, Offset: 2, Elements: []types.FunctionIndex{0, 1}}},
				PassiveElements:   map[types.ElemIndex][]types.FunctionIndex{3: {1}, 1: nil},
				PassiveData:       map[types.DataIndex][]byte{2: []byte("x"), 0: []byte("yz")},
				GlobalInitializers: []types.GlobalInit{
					{Kind: types.GlobalInitI64Const, Value: 1 << 40},
				},
				FunctionNames:        map[types.FunctionIndex]string{1: "g"},
				Signatures:           []types.FunctionType{{Params: []types.Type{types.I32}, Results: []types.Type{types.F64}}, {}},
				Functions:            []types.SignatureIndex{1, 0},
				Tables:               []types.TableType{{Type: types.FuncRef, Minimum: 1, Maximum: u32p(5)}},
				Memories:             []types.MemoryType{{Minimum: 1, Maximum: &max, Shared: true}},
				Globals:              []types.GlobalType{{Type: types.I64, Mutable: true}},
				CustomSections:       []types.WasmCustomSection{{Name: "producers", Data: []byte{7}}},
				NumImportedFunctions: 1,
			},
			Features:     types.NewFeatures(),
			MemoryStyles: []types.MemoryStyle{{Kind: types.MemoryStatic, Bound: 0x1_0000, OffsetGuardSize: 0x8000_0000}},
			TableStyles:  []types.TableStyle{types.TableCallerChecksSignature},
		},
		DataInitializers: []types.OwnedDataInitializer{
			{Location: types.DataInitializerLocation{Offset: 16}, Data: []byte("hi")},
			{Location: types.DataInitializerLocation{Base: &base}, Data: []byte("!")},
		},
		CPUFeatures: 0b101,
	}
}

func TestRoundTrip(t *testing.T) {
	m := fullModule()
	view, err := Open(Encode(m))
	require.NoError(t, err)

	assert.Equal(t, m, view.Decode())
}

func TestEmpty(t *testing.T) {
	view, err := Open(Encode(&types.SerializableModule{}))
	require.NoError(t, err)

	decoded := view.Decode()
	assert.Equal(t, &types.SerializableModule{CompileInfo: types.CompileModuleInfo{Module: &types.ModuleInfo{}, Features: types.FeaturesFromBits(0)}}, decoded)
	assert.Nil(t, view.Debug())
	assert.Equal(t, 0, view.FunctionBodies().Len())
}

func TestViewsAlias(t *testing.T) {
	buf := Encode(fullModule())
	view, err := Open(buf)
	require.NoError(t, err)

	bodies := view.FunctionBodies()
	require.Equal(t, 2, bodies.Len())

	borrowed, owned := bodies.At(0), bodies.Own(0)
	assert.Equal(t, borrowed, owned)

	borrowed.Body[0] = 0xff
	assert.Equal(t, byte(0xff), view.FunctionBodies().At(0).Body[0])
	assert.Equal(t, byte(1), owned.Body[0])
}

func TestOpenErrors(t *testing.T) {
	_, err := Open([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTooShort)

	buf := Encode(fullModule())
	bad := append([]byte(nil), buf...)
	copy(bad[4:8], "XXXX")
	_, err = Open(bad)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	bad = append([]byte(nil), buf...)
	bad[0], bad[1], bad[2], bad[3] = 0xff, 0xff, 0xff, 0x00
	_, err = Open(bad)
	assert.IsType(t, RootOutOfBoundsError(0), err)
}
