package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/cache"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/compiler/bytecode"
	"github.com/pgavlin/wasmu/internal/wasmtest"
	"github.com/pgavlin/wasmu/types"
)

var (
	sse2   = compiler.NewCpuFeatureSet(compiler.CpuSSE2)
	target = compiler.NewTarget(compiler.ArchAmd64, sse2)
)

func newEngine(opts Options) *Universal {
	if opts.Target == nil {
		opts.Target = target
	}
	return NewUniversal(opts)
}

func TestEngineID(t *testing.T) {
	a, b := newEngine(Options{}), newEngine(Options{})
	assert.NotEqual(t, a.ID(), b.ID())

	clone := a.Clone()
	assert.Equal(t, a.ID(), clone.ID())

	idx := clone.RegisterSignature(types.FunctionType{Params: []types.Type{types.I32}})
	sig, ok := a.LookupSignature(idx)
	require.True(t, ok)
	assert.Equal(t, []types.Type{types.I32}, sig.Params)
}

func TestEngineIDConcurrent(t *testing.T) {
	const n = 64
	ids := make([]EngineID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = newEngine(Options{}).ID()
		}(i)
	}
	wg.Wait()

	seen := make(map[EngineID]bool, n)
	for _, id := range ids {
		assert.NotEqual(t, EngineID(0), id)
		assert.False(t, seen[id], "duplicate engine id %v", id)
		seen[id] = true
	}
}

func TestRegisterSignature(t *testing.T) {
	e := newEngine(Options{})

	i32ToI64 := types.FunctionType{Params: []types.Type{types.I32}, Results: []types.Type{types.I64}}
	i32I64 := types.FunctionType{Params: []types.Type{types.I32, types.I64}}

	a := e.RegisterSignature(i32ToI64)
	b := e.RegisterSignature(i32I64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, e.RegisterSignature(i32ToI64.Clone()))
	assert.NotEqual(t, e.RegisterSignature(types.FunctionType{}), a)

	sig, ok := e.LookupSignature(a)
	require.True(t, ok)
	assert.True(t, sig.Equal(i32ToI64))

	_, ok = e.LookupSignature(1000)
	assert.False(t, ok)
}

func TestRegisterSignatureConcurrent(t *testing.T) {
	e := newEngine(Options{})
	sig := types.FunctionType{Params: []types.Type{types.F64}, Results: []types.Type{types.F64}}

	const n = 32
	indices := make([]types.SharedSignatureIndex, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			indices[i] = e.Clone().RegisterSignature(sig)
		}(i)
	}
	wg.Wait()

	for _, idx := range indices {
		assert.Equal(t, indices[0], idx)
	}
}

func TestValidate(t *testing.T) {
	e := newEngine(Options{})
	assert.NoError(t, e.Validate(wasmtest.Kitchen()))
	assert.Error(t, e.Validate([]byte{0, 'a', 's', 'm'}))
}

func TestCompileAndDeserialize(t *testing.T) {
	e := newEngine(Options{Compiler: bytecode.New()})
	tunables := compiler.NewBaseTunables(target)

	a, err := e.Compile(wasmtest.Kitchen(), tunables)
	require.NoError(t, err)
	assert.Equal(t, e.ID(), a.EngineID())
	assert.IsType(t, &artifact.Build{}, a.Compiled())

	info := a.ModuleInfo()
	require.Len(t, a.Signatures(), len(info.Signatures))
	for i, sig := range info.Signatures {
		assert.Equal(t, e.RegisterSignature(sig), a.Signatures()[i])
	}
	shared, ok := a.FunctionSignature(0)
	require.True(t, ok)
	assert.Equal(t, a.Signatures()[1], shared)

	data, err := a.Compiled().Serialize()
	require.NoError(t, err)
	loaded, err := e.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, a.Signatures(), loaded.Signatures())
	assert.Equal(t, info, loaded.ModuleInfo())
}

func TestCPUFeatureMismatch(t *testing.T) {
	builder := newEngine(Options{Compiler: bytecode.New()})
	build, err := builder.Build(wasmtest.Answer(), compiler.NewBaseTunables(target))
	require.NoError(t, err)

	plain := NewUniversal(Options{Target: compiler.NewTarget(compiler.ArchAmd64, compiler.CpuFeatureSet{})})
	_, err = plain.FromBuild(build)
	assert.True(t, errors.Is(err, types.ErrUnsupportedTarget))

	data, err := build.Serialize()
	require.NoError(t, err)
	_, err = plain.Deserialize(data)
	assert.True(t, errors.Is(err, types.ErrIncompatible))

	wider := NewUniversal(Options{Target: compiler.NewTarget(compiler.ArchAmd64, sse2.With(compiler.CpuAVX))})
	_, err = wider.Deserialize(data)
	assert.NoError(t, err)
}

func TestDeserializeErrors(t *testing.T) {
	build, err := newEngine(Options{Compiler: bytecode.New()}).Build(wasmtest.Answer(), compiler.NewBaseTunables(target))
	require.NoError(t, err)
	data, err := build.Serialize()
	require.NoError(t, err)

	corrupt := func(f func(b []byte) []byte) []byte {
		b := artifact.AlignedBuffer(len(data))
		copy(b, data)
		return f(b)
	}

	cases := []struct {
		name  string
		bytes []byte
		kind  error
	}{
		{"version", corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:12], artifact.HeaderVersion+1)
			return b
		}), types.ErrIncompatible},
		{"magic", corrupt(func(b []byte) []byte {
			b[0] = 'X'
			return b
		}), types.ErrIncompatible},
		{"truncated", corrupt(func(b []byte) []byte { return b[:len(b)-1] }), types.ErrCorrupted},
		{"short header", corrupt(func(b []byte) []byte { return b[:artifact.HeaderLen-1] }), types.ErrCorrupted},
		{"misaligned", func() []byte {
			b := artifact.AlignedBuffer(len(data) + 1)
			copy(b[1:], data)
			return b[1:]
		}(), types.ErrCorrupted},
	}
	e := newEngine(Options{})
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.Deserialize(c.bytes)
			require.Error(t, err)
			assert.True(t, errors.Is(err, c.kind), "unexpected error %v", err)

			var derr *types.DeserializeError
			assert.True(t, errors.As(err, &derr))
		})
	}

	t.Run("cpu feature superset", func(t *testing.T) {
		avx := compiler.NewTarget(compiler.ArchAmd64, sse2.With(compiler.CpuAVX, compiler.CpuAVX2))
		build, err := NewUniversal(Options{Target: avx, Compiler: bytecode.New()}).Build(wasmtest.Answer(), compiler.NewBaseTunables(avx))
		require.NoError(t, err)
		data, err := build.Serialize()
		require.NoError(t, err)

		_, err = e.Deserialize(data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrIncompatible))
		assert.Contains(t, err.Error(), "avx")

		_, err = e.FromBuild(build)
		assert.True(t, errors.Is(err, types.ErrUnsupportedTarget))
	})
}

func TestHeadless(t *testing.T) {
	headless := newEngine(Options{})
	_, err := headless.Build(wasmtest.Answer(), compiler.NewBaseTunables(target))
	assert.True(t, errors.Is(err, types.ErrCodegen))

	build, err := newEngine(Options{Compiler: bytecode.New()}).Build(wasmtest.Answer(), compiler.NewBaseTunables(target))
	require.NoError(t, err)
	data, err := build.Serialize()
	require.NoError(t, err)

	a, err := headless.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Compiled().FunctionBodies().Len())
}

func TestCompileCache(t *testing.T) {
	fc, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	e := newEngine(Options{Compiler: bytecode.New(), Cache: fc})
	tunables := compiler.NewBaseTunables(target)
	binary := wasmtest.Kitchen()

	miss, err := e.Compile(binary, tunables)
	require.NoError(t, err)
	assert.IsType(t, &artifact.Build{}, miss.Compiled())

	hit, err := e.Compile(binary, tunables)
	require.NoError(t, err)
	assert.IsType(t, &artifact.BuildRef{}, hit.Compiled())
	assert.Equal(t, miss.ModuleInfo(), hit.ModuleInfo())

	t.Run("corrupt entry", func(t *testing.T) {
		key := e.cacheKey(binary)
		require.NoError(t, fc.Add(key, bytes.NewReader([]byte("garbage"))))

		a, err := e.Compile(binary, tunables)
		require.NoError(t, err)
		assert.IsType(t, &artifact.Build{}, a.Compiled())

		a, err = e.Compile(binary, tunables)
		require.NoError(t, err)
		assert.IsType(t, &artifact.BuildRef{}, a.Compiled())
	})

	t.Run("style mismatch", func(t *testing.T) {
		other := &compiler.BaseTunables{StaticMemoryBound: 5, DynamicMemoryOffsetGuardSize: 0x1000}

		a, err := e.Compile(binary, other)
		require.NoError(t, err)
		assert.IsType(t, &artifact.Build{}, a.Compiled())
		assert.Equal(t, compiler.MemoryStyles(other, a.ModuleInfo()), a.Compiled().MemoryStyles().ToOwned())
	})

	t.Run("compile errors are not cached", func(t *testing.T) {
		_, err := e.Compile([]byte("not wasm"), tunables)
		assert.True(t, errors.Is(err, types.ErrWasm))

		_, ok, err := fc.Get(e.cacheKey([]byte("not wasm")))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
