package load

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/compiler/bytecode"
	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/exec"
	"github.com/pgavlin/wasmu/internal/wasmtest"
)

func newStore() *exec.Store {
	target := compiler.NewTarget(compiler.ArchAmd64, compiler.NewCpuFeatureSet(compiler.CpuSSE2))
	return exec.NewStore(engine.NewUniversal(engine.Options{Target: target, Compiler: bytecode.New()}), nil)
}

func serialize(t *testing.T, store *exec.Store, binary []byte) []byte {
	a, err := store.Compile(binary)
	require.NoError(t, err)
	data, err := a.Compiled().Serialize()
	require.NoError(t, err)
	return data
}

func TestDetect(t *testing.T) {
	assert.Equal(t, FormatWasm, Detect(wasmtest.Answer()))
	assert.Equal(t, FormatArtifact, Detect(serialize(t, newStore(), wasmtest.Answer())))
	assert.Equal(t, FormatUnknown, Detect([]byte("hello, world")))
	assert.Equal(t, FormatUnknown, Detect(nil))
}

func TestFile(t *testing.T) {
	store := newStore()
	dir := t.TempDir()

	wasmPath := filepath.Join(dir, "answer.wasm")
	require.NoError(t, os.WriteFile(wasmPath, wasmtest.Answer(), 0o600))
	artifactPath := filepath.Join(dir, "answer."+artifact.DefaultExtension)
	require.NoError(t, os.WriteFile(artifactPath, serialize(t, store, wasmtest.Answer()), 0o600))

	for _, path := range []string{wasmPath, artifactPath} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			a, closer, err := File(store, path)
			require.NoError(t, err)
			defer closer.Close()

			assert.Equal(t, store.Engine().ID(), a.EngineID())
			assert.Equal(t, 1, a.Compiled().FunctionBodies().Len())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("not a module"), 0o600))
		_, _, err := File(store, path)
		assert.True(t, errors.Is(err, ErrUnknownFormat))
	})
}

func TestMapFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(path, []byte("mapped"), 0o600))
	m, err := MapFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(m.Bytes()))
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
	assert.NoError(t, m.Close())

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	m, err = MapFile(empty)
	require.NoError(t, err)
	assert.Empty(t, m.Bytes())
	assert.False(t, m.Mapped())

	_, err = MapFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	store := newStore()
	path := filepath.Join(t.TempDir(), "answer.wasmu")
	require.NoError(t, os.WriteFile(path, serialize(t, store, wasmtest.Answer()), 0o600))

	data, err := ReadFile(path)
	require.NoError(t, err)
	_, err = artifact.NewBuildRef(data)
	assert.NoError(t, err)
}

// globalModule imports an i32 global named field from module and exports it as "g". If module is empty,
// the module defines the global instead, with the given value.
func globalModule(module, field string, value byte) []byte {
	if module == "" {
		return wasmtest.Module(
			wasmtest.Section(wasmtest.Global, wasmtest.Vec([]byte{wasmtest.I32, 0x00, 0x41, value, 0x0b})),
			wasmtest.Section(wasmtest.Export, wasmtest.Vec(wasmtest.ExportEntry("g", 3, 0))),
		)
	}
	return wasmtest.Module(
		wasmtest.Section(wasmtest.Import, wasmtest.Vec(bytes.Join([][]byte{wasmtest.Name(module), wasmtest.Name(field), {0x03, wasmtest.I32, 0x00}}, nil))),
		wasmtest.Section(wasmtest.Export, wasmtest.Vec(wasmtest.ExportEntry("g", 3, 0))),
	)
}

func TestFSResolver(t *testing.T) {
	store := newStore()
	fsys := fstest.MapFS{
		"dep.wasmu": {Data: serialize(t, store, globalModule("", "", 9))},
		"main.wasm": {Data: globalModule("dep", "g", 0)},
		"env.wasm":  {Data: globalModule("", "", 1)},
		"host.wasm": {Data: globalModule("env", "g", 0)},
		"a.wasm":    {Data: globalModule("b", "g", 0)},
		"b":         {Data: globalModule("a", "g", 0)},
	}

	t.Run("dependencies", func(t *testing.T) {
		ctx := exec.NewContext(store, struct{}{})
		r := NewFSResolver(fsys, ctx, nil)

		top, err := r.Instantiate("main")
		require.NoError(t, err)
		dep, err := r.Instantiate("dep")
		require.NoError(t, err)

		g, ok := top.Get(ctx.Objects()).Export("g")
		require.True(t, ok)
		depG, ok := dep.Get(ctx.Objects()).Export("g")
		require.True(t, ok)
		assert.Equal(t, depG.Global, g.Global)
		assert.Equal(t, int32(9), g.Global.Get(ctx.Objects()).GetI32())
		assert.Equal(t, [6]int{0, 0, 1, 0, 2, 0}, ctx.Objects().Len())
	})

	t.Run("host", func(t *testing.T) {
		ctx := exec.NewContext(store, struct{}{})
		g := exec.Allocate(ctx.Objects(), exec.NewGlobalI32(false, 3))
		r := NewFSResolver(fsys, ctx, exec.MapResolver{"env": {"g": exec.GlobalExtern(g)}})

		h, err := r.Instantiate("host")
		require.NoError(t, err)
		e, ok := h.Get(ctx.Objects()).Export("g")
		require.True(t, ok)
		assert.Equal(t, g, e.Global)

		_, err = r.Resolve("env", "missing")
		var notFound *exec.ExportNotFoundError
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("errors", func(t *testing.T) {
		ctx := exec.NewContext(store, struct{}{})
		r := NewFSResolver(fsys, ctx, nil)

		_, err := r.Instantiate("a")
		assert.True(t, errors.Is(err, ErrImportCycle))

		_, err = r.Instantiate("missing")
		assert.True(t, errors.Is(err, ErrModuleNotFound))

		_, err = r.Resolve("dep", "h")
		var notFound *exec.ExportNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "dep", notFound.ModuleName)
	})
}
