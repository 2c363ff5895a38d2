package types

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModule() *ModuleInfo {
	start, base, max := FunctionIndex(1), GlobalIndex(0), uint32(4)
	pages := Pages(2)
	return &ModuleInfo{
		Name:               "sample",
		Imports:            []Import{{Module: "env", Field: "f", Kind: ExternFunction}},
		Exports:            []Export{{Name: "g", Kind: ExternFunction, Index: 1}},
		StartFunction:      &start,
		TableInitializers:  []TableInitializer{{Base: &base, Offset: 1, Elements: []FunctionIndex{0, NullFunction}}},
		PassiveElements:    map[ElemIndex][]FunctionIndex{1: {1}},
		PassiveData:        map[DataIndex][]byte{0: []byte("data")},
		GlobalInitializers: []GlobalInit{{Kind: GlobalInitI32Const, Value: 7}},
		FunctionNames:      map[FunctionIndex]string{1: "g"},
		Signatures:         []FunctionType{{Params: []Type{I32}, Results: []Type{I64}}},
		Functions:          []SignatureIndex{0, 0},
		Tables:             []TableType{{Type: FuncRef, Minimum: 2, Maximum: &max}},
		Memories:           []MemoryType{{Minimum: 1, Maximum: &pages}},
		Globals:            []GlobalType{{Type: I32, Mutable: true}},
		CustomSections:     []WasmCustomSection{{Name: "c", Data: []byte{1}}},

		NumImportedFunctions: 1,
	}
}

func TestModuleInfoClone(t *testing.T) {
	m := sampleModule()
	c := m.Clone()
	require.Equal(t, m, c)

	*c.StartFunction = 5
	c.TableInitializers[0].Elements[0] = 9
	c.PassiveData[0][0] = 'x'
	c.Signatures[0].Params[0] = F64
	*c.Memories[0].Maximum = 10
	c.CustomSections[0].Data[0] = 2

	assert.Equal(t, sampleModule(), m)
}

func TestModuleInfoClonePreservesNil(t *testing.T) {
	c := (&ModuleInfo{}).Clone()
	assert.Equal(t, &ModuleInfo{}, c)
}

func TestModuleInfoIndices(t *testing.T) {
	m := sampleModule()

	_, ok := m.LocalFuncIndex(0)
	assert.False(t, ok)
	local, ok := m.LocalFuncIndex(1)
	assert.True(t, ok)
	assert.Equal(t, LocalFunctionIndex(0), local)
	assert.Equal(t, FunctionIndex(1), m.FuncIndex(local))
	assert.Equal(t, 1, m.NumLocalFunctions())

	sig, ok := m.FunctionType(1)
	require.True(t, ok)
	assert.Equal(t, "[i32] -> [i64]", sig.String())
	_, ok = m.FunctionType(2)
	assert.False(t, ok)

	assert.Len(t, m.ExportsOfKind(ExternFunction), 1)
	assert.Empty(t, m.ExportsOfKind(ExternMemory))
}

func TestFunctionTypeEqual(t *testing.T) {
	a := FunctionType{Params: []Type{I32, F32}}
	assert.True(t, a.Equal(FunctionType{Params: []Type{I32, F32}, Results: []Type{}}))
	assert.False(t, a.Equal(FunctionType{Params: []Type{I32}}))
	assert.False(t, a.Equal(FunctionType{Params: []Type{I32, F64}}))
}

func TestFeaturesBits(t *testing.T) {
	for _, f := range []Features{{}, NewFeatures(), {Threads: true, Exceptions: true, Memory64: true}} {
		assert.Equal(t, f, FeaturesFromBits(f.Bits()))
	}
	assert.Equal(t, uint32(0), Features{}.Bits())
}

func TestErrorKinds(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := fmt.Errorf("loading: %w", NewCompileError(CompileErrorValidation, cause))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrWasm))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, CompileErrorValidation, ce.Kind)
	assert.Equal(t, "validation error: unexpected EOF", ce.Error())

	derr := DeserializeErrorf(DeserializeErrorIncompatible, "version %d", 2)
	assert.True(t, errors.Is(derr, ErrIncompatible))
	assert.False(t, errors.Is(derr, ErrCorrupted))
	assert.Equal(t, "incompatible binary: version 2", derr.Error())

	serr := &SerializeError{Kind: SerializeErrorGeneric}
	assert.True(t, errors.Is(serr, ErrGeneric))
	assert.Equal(t, "error", serr.Error())
}

func TestOwnedDataInitializer(t *testing.T) {
	base := GlobalIndex(3)
	data := []byte("abc")
	owned := NewOwnedDataInitializer(DataInitializer{Location: DataInitializerLocation{Base: &base, Offset: 4}, Data: data})
	data[0] = 'x'
	base = 7

	assert.Equal(t, []byte("abc"), owned.Data)
	assert.Equal(t, GlobalIndex(3), *owned.Location.Base)
	assert.Equal(t, owned.Data, owned.Borrow().Data)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "wasmu_vm_f32_ceil", LibCallCeilF32.String())
	assert.Equal(t, "wasmu_vm_probestack", LibCallProbestack.String())
	assert.Len(t, LibCalls(), NumLibCalls)
	assert.Equal(t, "Arm64MovwG2", RelocArm64Movw2.String())
	assert.Equal(t, "unreachable", TrapUnreachableCodeReached.String())
	assert.Equal(t, "static(bound=65536, guard=0x80000000)", MemoryStyle{Kind: MemoryStatic, Bound: MaxPages, OffsetGuardSize: 0x80000000}.String())
}
