package compiler_test

import (
	"errors"
	"testing"

	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/internal/wasmtest"
	"github.com/pgavlin/wasmu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCpuFeatureSet(t *testing.T) {
	var empty compiler.CpuFeatureSet
	assert.Equal(t, uint64(0), empty.Uint64())
	assert.False(t, empty.Has(compiler.CpuSSE2))
	assert.Nil(t, empty.Features())

	s := compiler.NewCpuFeatureSet(compiler.CpuSSE2, compiler.CpuAVX2)
	assert.True(t, s.Has(compiler.CpuAVX2))
	assert.False(t, s.Has(compiler.CpuAVX))
	assert.Equal(t, []compiler.CpuFeature{compiler.CpuSSE2, compiler.CpuAVX2}, s.Features())
	assert.Equal(t, "sse2,avx2", s.String())

	rt := compiler.CpuFeatureSetFromUint64(s.Uint64())
	assert.Equal(t, s.Features(), rt.Features())

	wider := s.With(compiler.CpuBMI1)
	assert.True(t, s.IsSubsetOf(wider))
	assert.False(t, wider.IsSubsetOf(s))
	assert.False(t, s.Has(compiler.CpuBMI1))
	assert.True(t, empty.IsSubsetOf(s))
}

func TestParse(t *testing.T) {
	arch, err := compiler.ParseArchitecture("aarch64")
	require.NoError(t, err)
	assert.Equal(t, compiler.ArchArm64, arch)
	_, err = compiler.ParseArchitecture("riscv64")
	assert.Error(t, err)

	f, err := compiler.ParseCpuFeature("SSE4.1")
	require.NoError(t, err)
	assert.Equal(t, compiler.CpuSSE41, f)
	_, err = compiler.ParseCpuFeature("mmx")
	assert.Error(t, err)

	target := compiler.NewTarget(compiler.ArchAmd64, compiler.NewCpuFeatureSet(compiler.CpuSSE2))
	assert.Equal(t, "amd64+sse2", target.String())
}

func TestHostTarget(t *testing.T) {
	target := compiler.HostTarget()
	assert.True(t, target.CPUFeatures().IsSubsetOf(compiler.HostCpuFeatures()))
	assert.Equal(t, 8, target.PointerWidth())
}

func TestBaseTunables(t *testing.T) {
	tunables := compiler.NewBaseTunables(compiler.NewTarget(compiler.ArchAmd64, compiler.CpuFeatureSet{}))

	style := tunables.MemoryStyle(&types.MemoryType{Minimum: 1})
	assert.Equal(t, types.MemoryStyle{Kind: types.MemoryStatic, Bound: 0x1_0000, OffsetGuardSize: 0x8000_0000}, style)

	max := types.Pages(10)
	style = tunables.MemoryStyle(&types.MemoryType{Minimum: 1, Maximum: &max})
	assert.Equal(t, types.MemoryStatic, style.Kind)

	small := &compiler.BaseTunables{StaticMemoryBound: 5, DynamicMemoryOffsetGuardSize: 0x1000}
	style = small.MemoryStyle(&types.MemoryType{Minimum: 1, Maximum: &max})
	assert.Equal(t, types.MemoryStyle{Kind: types.MemoryDynamic, OffsetGuardSize: 0x1000}, style)

	assert.Equal(t, types.TableCallerChecksSignature, tunables.TableStyle(&types.TableType{}))
}

func TestTranslateKitchen(t *testing.T) {
	translation, err := compiler.Translate(wasmtest.Kitchen(), types.NewFeatures())
	require.NoError(t, err)
	m := translation.Module

	assert.Equal(t, "kitchen", m.Name)
	assert.Equal(t, []types.Import{
		{Module: "env", Field: "log", Kind: types.ExternFunction, Index: 0},
		{Module: "env", Field: "base", Kind: types.ExternGlobal, Index: 0},
	}, m.Imports)
	assert.Equal(t, 1, m.NumImportedFunctions)
	assert.Equal(t, 1, m.NumImportedGlobals)
	assert.Equal(t, []types.SignatureIndex{1, 0, 0}, m.Functions)
	assert.Equal(t, 2, m.NumLocalFunctions())

	require.Len(t, m.Tables, 1)
	assert.Equal(t, uint32(3), m.Tables[0].Minimum)
	require.NotNil(t, m.Tables[0].Maximum)
	assert.Equal(t, uint32(4), *m.Tables[0].Maximum)

	require.Len(t, m.Memories, 1)
	assert.Equal(t, types.Pages(1), m.Memories[0].Minimum)

	assert.Equal(t, []types.GlobalType{{Type: types.I32}, {Type: types.I32, Mutable: true}}, m.Globals)
	assert.Equal(t, []types.GlobalInit{{Kind: types.GlobalInitI32Const, Value: 7}}, m.GlobalInitializers)

	assert.Len(t, m.Exports, 4)
	assert.Equal(t, types.Export{Name: "counter", Kind: types.ExternGlobal, Index: 1}, m.Exports[3])

	assert.Equal(t, []types.TableInitializer{{Offset: 1, Elements: []types.FunctionIndex{1, 2}}}, m.TableInitializers)
	assert.Equal(t, map[types.DataIndex][]byte{1: []byte("passive")}, m.PassiveData)
	assert.Nil(t, m.PassiveElements)
	assert.Equal(t, map[types.FunctionIndex]string{1: "answer"}, m.FunctionNames)

	require.Len(t, translation.DataInitializers, 1)
	assert.Equal(t, types.DataInitializer{Location: types.DataInitializerLocation{Offset: 16}, Data: []byte("hi")}, translation.DataInitializers[0])

	require.Len(t, translation.FunctionBodies, 2)
	assert.Equal(t, []byte{0x00, 0x41, 0x2a, 0x0b}, translation.FunctionBodies[0].Data)
}

func TestTranslateErrors(t *testing.T) {
	_, err := compiler.Translate([]byte{0x00, 0x61, 0x73}, types.NewFeatures())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrWasm))

	// The body returns an i64 from a function declared to return an i32.
	bad := wasmtest.Module(
		wasmtest.Section(wasmtest.Type, wasmtest.Vec(wasmtest.FuncType(nil, []byte{wasmtest.I32}))),
		wasmtest.Section(wasmtest.Function, wasmtest.Vec(wasmtest.U32(0))),
		wasmtest.Section(wasmtest.Code, wasmtest.Vec(wasmtest.Body(0x42, 0x01, 0x0b))),
	)
	_, err = compiler.Translate(bad, types.NewFeatures())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Error(t, compiler.Validate(bad, types.NewFeatures()))

	assert.NoError(t, compiler.Validate(wasmtest.Answer(), types.NewFeatures()))
}

func TestApplyMiddlewares(t *testing.T) {
	var order []string
	mw := func(name string, err error) compiler.ModuleMiddleware {
		return compiler.ModuleMiddlewareFunc(func(info *types.ModuleInfo) error {
			order = append(order, name)
			info.Name += name
			return err
		})
	}

	info := &types.ModuleInfo{}
	require.NoError(t, compiler.ApplyMiddlewares([]compiler.ModuleMiddleware{mw("a", nil), mw("b", nil)}, info))
	assert.Equal(t, "ab", info.Name)

	order = nil
	failure := errors.New("boom")
	err := compiler.ApplyMiddlewares([]compiler.ModuleMiddleware{mw("a", failure), mw("b", nil)}, info)
	assert.True(t, errors.Is(err, types.ErrMiddleware))
	assert.True(t, errors.Is(err, failure))
	assert.Equal(t, []string{"a"}, order)
}
