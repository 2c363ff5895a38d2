package artifact_test

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/compiler/bytecode"
	"github.com/pgavlin/wasmu/internal/wasmtest"
	"github.com/pgavlin/wasmu/types"
)

var amd64 = compiler.NewTarget(compiler.ArchAmd64, compiler.NewCpuFeatureSet(compiler.CpuSSE2))

func build(t *testing.T, c compiler.Compiler, binary []byte) *artifact.Build {
	t.Helper()
	b, err := artifact.NewBuild(artifact.NewBuilder(c, types.NewFeatures()), binary, amd64, compiler.NewBaseTunables(amd64))
	require.NoError(t, err)
	return b
}

func assertEquivalent(t *testing.T, expected, actual artifact.Compiled) {
	t.Helper()
	assert.Equal(t, expected.ModuleInfo(), actual.ModuleInfo())
	assert.Equal(t, expected.Features(), actual.Features())
	assert.Equal(t, expected.CPUFeatures().Uint64(), actual.CPUFeatures().Uint64())
	assert.Equal(t, expected.MemoryStyles().ToOwned(), actual.MemoryStyles().ToOwned())
	assert.Equal(t, expected.TableStyles().ToOwned(), actual.TableStyles().ToOwned())
	assert.Equal(t, expected.DataInitializers(), actual.DataInitializers())
	assert.Equal(t, expected.FunctionBodies().ToOwned(), actual.FunctionBodies().ToOwned())
	assert.Equal(t, expected.FunctionCallTrampolines().ToOwned(), actual.FunctionCallTrampolines().ToOwned())
	assert.Equal(t, expected.DynamicFunctionTrampolines().ToOwned(), actual.DynamicFunctionTrampolines().ToOwned())
	assert.Equal(t, expected.CustomSections().ToOwned(), actual.CustomSections().ToOwned())
	assert.Equal(t, expected.FunctionRelocations().ToOwned(), actual.FunctionRelocations().ToOwned())
	assert.Equal(t, expected.CustomSectionRelocations().ToOwned(), actual.CustomSectionRelocations().ToOwned())
	assert.Equal(t, expected.LibcallTrampolines(), actual.LibcallTrampolines())
	assert.Equal(t, expected.LibcallTrampolineLen(), actual.LibcallTrampolineLen())
	assert.Equal(t, expected.Debug(), actual.Debug())
	assert.Equal(t, expected.FrameInfo().ToOwned(), actual.FrameInfo().ToOwned())
}

func TestHeader(t *testing.T) {
	h, err := artifact.EncodeHeader(1234)
	require.NoError(t, err)
	assert.Equal(t, "WASMU\x00\x00\x00", string(h[:8]))
	assert.Equal(t, artifact.HeaderVersion, binary.LittleEndian.Uint32(h[8:12]))

	buf := artifact.AlignedBuffer(artifact.HeaderLen)
	copy(buf, h[:])
	n, err := artifact.ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, 1234, n)

	_, err = artifact.EncodeHeader(-1)
	assert.True(t, errors.Is(err, types.ErrGeneric))
	if big := int64(math.MaxUint32) + 1; int64(int(big)) == big {
		_, err = artifact.EncodeHeader(int(big))
		assert.Error(t, err)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	h, err := artifact.EncodeHeader(0)
	require.NoError(t, err)
	valid := func() []byte {
		buf := artifact.AlignedBuffer(artifact.HeaderLen + 1)
		copy(buf, h[:])
		return buf
	}

	t.Run("misaligned", func(t *testing.T) {
		buf := valid()
		_, err := artifact.ParseHeader(buf[1:])
		assert.True(t, errors.Is(err, types.ErrCorrupted))
	})
	t.Run("short", func(t *testing.T) {
		buf := valid()
		_, err := artifact.ParseHeader(buf[:8])
		assert.True(t, errors.Is(err, types.ErrCorrupted))
	})
	t.Run("magic", func(t *testing.T) {
		buf := valid()
		buf[0] = 'X'
		_, err := artifact.ParseHeader(buf)
		assert.True(t, errors.Is(err, types.ErrIncompatible))
	})
	t.Run("version", func(t *testing.T) {
		buf := valid()
		binary.LittleEndian.PutUint32(buf[8:12], artifact.HeaderVersion+1)
		_, err := artifact.ParseHeader(buf)
		assert.True(t, errors.Is(err, types.ErrIncompatible))
	})
}

func TestIsDeserializable(t *testing.T) {
	data, err := build(t, bytecode.New(), wasmtest.Answer()).Serialize()
	require.NoError(t, err)
	assert.True(t, artifact.IsDeserializable(data))
	assert.False(t, artifact.IsDeserializable(wasmtest.Answer()))
	assert.False(t, artifact.IsDeserializable(nil))
}

func TestRoundTrip(t *testing.T) {
	b := build(t, bytecode.New(), wasmtest.Kitchen())

	data, err := b.Serialize()
	require.NoError(t, err)

	ref, err := artifact.NewBuildRef(data)
	require.NoError(t, err)
	assert.True(t, ref.FunctionBodies().IsArchived())
	assert.False(t, b.FunctionBodies().IsArchived())
	assertEquivalent(t, b, ref)

	owned, err := ref.ToOwned()
	require.NoError(t, err)
	assert.Equal(t, b.Serializable(), owned.Serializable())

	again, err := owned.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	copied, err := ref.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, copied)
}

func TestBuildRefBorrows(t *testing.T) {
	b := build(t, bytecode.New(), wasmtest.Kitchen())
	data, err := b.Serialize()
	require.NoError(t, err)

	ref, err := artifact.NewBuildRef(data)
	require.NoError(t, err)

	inits := ref.DataInitializers()
	require.Len(t, inits, 1)
	assert.Equal(t, []byte("hi"), inits[0].Data)

	owned := ref.FunctionBodies().ToOwned()
	ref.FunctionBodies().At(0).Body[0] = 0xee
	assert.Equal(t, byte(0xee), ref.FunctionBodies().At(0).Body[0])
	assert.NotEqual(t, byte(0xee), owned[0].Body[0])
}

func TestOneExport(t *testing.T) {
	b := build(t, bytecode.New(), wasmtest.Answer())

	info := b.ModuleInfo()
	assert.Equal(t, []types.Export{{Name: "f", Kind: types.ExternFunction, Index: 0}}, info.Exports)
	assert.Equal(t, 1, b.FunctionBodies().Len())
	assert.Equal(t, 1, b.FunctionCallTrampolines().Len())
	assert.Equal(t, 0, b.DynamicFunctionTrampolines().Len())
	assert.Nil(t, b.DataInitializers())
	assert.Equal(t, compiler.NewCpuFeatureSet(compiler.CpuSSE2).Uint64(), b.CPUFeatures().Uint64())

	// ModuleInfo returns an independent copy.
	info.Exports[0].Name = "g"
	assert.Equal(t, "f", b.ModuleInfo().Exports[0].Name)
}

type recordingCompiler struct {
	inner       compiler.Compiler
	middlewares []compiler.ModuleMiddleware
	events      *[]string
	sections    []types.CustomSection
	err         error
}

func (c *recordingCompiler) Middlewares() []compiler.ModuleMiddleware {
	return c.middlewares
}

func (c *recordingCompiler) CompileModule(target *compiler.Target, info *types.CompileModuleInfo, bodies []compiler.FunctionBodyData) (*types.Compilation, error) {
	*c.events = append(*c.events, "compile:"+info.Module.Name)
	if c.err != nil {
		return nil, c.err
	}
	compilation, err := c.inner.CompileModule(target, info, bodies)
	if err != nil {
		return nil, err
	}
	compilation.CustomSections = c.sections
	return compilation, nil
}

func TestPipelineOrder(t *testing.T) {
	var events []string
	rename := compiler.ModuleMiddlewareFunc(func(info *types.ModuleInfo) error {
		events = append(events, "middleware")
		info.Name = "renamed"
		return nil
	})
	c := &recordingCompiler{
		inner:       bytecode.New(),
		middlewares: []compiler.ModuleMiddleware{rename},
		events:      &events,
		sections:    []types.CustomSection{{Bytes: []byte{1, 2, 3}}},
	}

	b := build(t, c, wasmtest.Answer())
	assert.Equal(t, []string{"middleware", "compile:renamed"}, events)
	assert.Equal(t, "renamed", b.ModuleInfo().Name)

	sections := b.CustomSections()
	require.Equal(t, 2, sections.Len())
	assert.Equal(t, []byte{1, 2, 3}, sections.At(0).Bytes)
	assert.Equal(t, types.SectionIndex(1), b.LibcallTrampolines())

	libcalls := sections.At(1)
	assert.Equal(t, types.ProtectionReadExecute, libcalls.Protection)
	assert.Equal(t, types.NumLibCalls*b.LibcallTrampolineLen(), len(libcalls.Bytes))

	relocations := b.CustomSectionRelocations()
	require.Equal(t, 2, relocations.Len())
	assert.Nil(t, relocations.At(0))
	assert.Len(t, relocations.At(1), types.NumLibCalls)
}

func TestMiddlewareAddsMemory(t *testing.T) {
	var events []string
	addMemory := compiler.ModuleMiddlewareFunc(func(info *types.ModuleInfo) error {
		info.Memories = append(info.Memories, types.MemoryType{Minimum: 1})
		return nil
	})
	c := &recordingCompiler{
		inner:       bytecode.New(),
		middlewares: []compiler.ModuleMiddleware{addMemory},
		events:      &events,
	}

	b := build(t, c, wasmtest.Answer())
	require.Len(t, b.ModuleInfo().Memories, 1)
	require.Equal(t, 1, b.MemoryStyles().Len())
	assert.Equal(t, compiler.NewBaseTunables(amd64).MemoryStyle(&types.MemoryType{Minimum: 1}), b.MemoryStyles().At(0))

	data, err := b.Serialize()
	require.NoError(t, err)
	ref, err := artifact.NewBuildRef(data)
	require.NoError(t, err)
	_, err = ref.ToOwned()
	assert.NoError(t, err)
}

func TestPipelineErrors(t *testing.T) {
	features := types.NewFeatures()
	tunables := compiler.NewBaseTunables(amd64)

	t.Run("headless", func(t *testing.T) {
		_, err := artifact.NewBuild(artifact.NewBuilder(nil, features), wasmtest.Answer(), amd64, tunables)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrCodegen))
		assert.Contains(t, err.Error(), "compilation is not enabled in the engine")
	})

	t.Run("invalid binary", func(t *testing.T) {
		_, err := artifact.NewBuild(artifact.NewBuilder(bytecode.New(), features), []byte("nope"), amd64, tunables)
		assert.True(t, errors.Is(err, types.ErrWasm))
	})

	t.Run("middleware", func(t *testing.T) {
		var events []string
		failure := errors.New("rejected")
		c := &recordingCompiler{
			inner:       bytecode.New(),
			middlewares: []compiler.ModuleMiddleware{compiler.ModuleMiddlewareFunc(func(*types.ModuleInfo) error { return failure })},
			events:      &events,
		}
		_, err := artifact.NewBuild(artifact.NewBuilder(c, features), wasmtest.Answer(), amd64, tunables)
		assert.True(t, errors.Is(err, types.ErrMiddleware))
		assert.True(t, errors.Is(err, failure))
		assert.Empty(t, events)
	})

	t.Run("codegen", func(t *testing.T) {
		var events []string
		failure := errors.New("out of registers")
		c := &recordingCompiler{inner: bytecode.New(), events: &events, err: failure}
		_, err := artifact.NewBuild(artifact.NewBuilder(c, features), wasmtest.Answer(), amd64, tunables)
		assert.True(t, errors.Is(err, types.ErrCodegen))
		assert.True(t, errors.Is(err, failure))
	})

	t.Run("compile error propagates", func(t *testing.T) {
		var events []string
		c := &recordingCompiler{inner: bytecode.New(), events: &events, err: types.CompileErrorf(types.CompileErrorUnsupportedFeature, "simd")}
		_, err := artifact.NewBuild(artifact.NewBuilder(c, features), wasmtest.Answer(), amd64, tunables)
		assert.True(t, errors.Is(err, types.ErrUnsupportedFeature))
		assert.False(t, errors.Is(err, types.ErrCodegen))
	})
}

func TestNewBuildRefErrors(t *testing.T) {
	data, err := build(t, bytecode.New(), wasmtest.Answer()).Serialize()
	require.NoError(t, err)

	_, err = artifact.NewBuildRef(data[:len(data)-1])
	assert.True(t, errors.Is(err, types.ErrCorrupted))

	bad := artifact.AlignedBuffer(len(data))
	copy(bad, data)
	copy(bad[artifact.HeaderLen+4:], "NOPE")
	_, err = artifact.NewBuildRef(bad)
	assert.True(t, errors.Is(err, types.ErrCorrupted))

	_, err = artifact.NewBuildRef(artifact.AlignedBuffer(8))
	assert.True(t, errors.Is(err, types.ErrCorrupted))
}

func TestToOwnedStructural(t *testing.T) {
	good := build(t, bytecode.New(), wasmtest.Answer()).Serializable()

	bad := *good
	bad.Compilation.FunctionBodies = nil
	data, err := artifact.FromSerializable(&bad).Serialize()
	require.NoError(t, err)

	ref, err := artifact.NewBuildRef(data)
	require.NoError(t, err)
	_, err = ref.ToOwned()
	assert.True(t, errors.Is(err, types.ErrStructural))
}

func TestSerializeToFile(t *testing.T) {
	b := build(t, bytecode.New(), wasmtest.Answer())
	path := filepath.Join(t.TempDir(), "answer."+artifact.DefaultExtension)
	require.NoError(t, b.SerializeToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	expected, err := b.Serialize()
	require.NoError(t, err)
	assert.Equal(t, expected, data)

	err = b.SerializeToFile(filepath.Join(t.TempDir(), "missing", "answer.wasmu"))
	assert.True(t, errors.Is(err, types.ErrIO))
}
