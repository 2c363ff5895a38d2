package exec

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/types"
)

func newStore(opts engine.Options) *Store {
	if opts.Target == nil {
		opts.Target = compiler.NewTarget(compiler.ArchAmd64, compiler.NewCpuFeatureSet(compiler.CpuSSE2))
	}
	return NewStore(engine.NewUniversal(opts), nil)
}

func TestContextID(t *testing.T) {
	store := newStore(engine.Options{})
	a, b := NewContext(store, 0), NewContext(store, 0)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEqual(t, ContextID(0), a.ID())
	assert.Equal(t, a.ID(), a.Objects().ID())
	assert.Same(t, store, a.Store())
}

func TestAllocate(t *testing.T) {
	ctx := NewContext(newStore(engine.Options{}), struct{}{})
	objs := ctx.Objects()

	g := Allocate(objs, NewGlobalI32(true, 7))
	first := g.Get(objs)
	for i := 0; i < 100; i++ {
		Allocate(objs, NewGlobalI64(false, int64(i)))
	}
	assert.Same(t, first, g.Get(objs))
	assert.Equal(t, int32(7), g.Get(objs).GetI32())

	require.NoError(t, g.GetMut(objs).Set(9))
	assert.Equal(t, uint64(9), g.Get(objs).Get())

	ref := Allocate(objs, ExternRef{Value: "hello"})
	assert.Equal(t, "hello", ref.Get(objs).Value)
	assert.Equal(t, 0, ref.Index())

	assert.Equal(t, [6]int{0, 0, 101, 0, 0, 1}, objs.Len())
}

func TestHandleWrongContext(t *testing.T) {
	store := newStore(engine.Options{})
	a, b := NewContext(store, 0), NewContext(store, 0)
	objs := a.Objects()

	memory, err := NewMemory(types.MemoryType{Minimum: 1}, types.MemoryStyle{})
	require.NoError(t, err)
	table, err := NewTable(types.TableType{Type: types.FuncRef, Minimum: 1}, types.TableCallerChecksSignature)
	require.NoError(t, err)
	host, err := NewHostFunction(func() {})
	require.NoError(t, err)

	m := Allocate(objs, memory)
	tb := Allocate(objs, table)
	g := Allocate(objs, NewGlobalI32(false, 1))
	h := Allocate(objs, host)
	i := Allocate(objs, Instance{})
	r := Allocate(objs, ExternRef{Value: 1})

	cases := []struct {
		name   string
		get    func(*ContextObjects)
		getMut func(*ContextObjects)
	}{
		{"memory", func(o *ContextObjects) { m.Get(o) }, func(o *ContextObjects) { m.GetMut(o) }},
		{"table", func(o *ContextObjects) { tb.Get(o) }, func(o *ContextObjects) { tb.GetMut(o) }},
		{"global", func(o *ContextObjects) { g.Get(o) }, func(o *ContextObjects) { g.GetMut(o) }},
		{"host function", func(o *ContextObjects) { h.Get(o) }, func(o *ContextObjects) { h.GetMut(o) }},
		{"instance", func(o *ContextObjects) { i.Get(o) }, func(o *ContextObjects) { i.GetMut(o) }},
		{"extern ref", func(o *ContextObjects) { r.Get(o) }, func(o *ContextObjects) { r.GetMut(o) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.NotPanics(t, func() { c.get(objs) })
			assert.NotPanics(t, func() { c.getMut(objs) })
			assert.PanicsWithValue(t, "object used with the wrong context", func() { c.get(b.Objects()) })
			assert.PanicsWithValue(t, "object used with the wrong context", func() { c.getMut(b.Objects()) })
		})
	}

	var zero Handle[Global]
	assert.PanicsWithValue(t, "object used with the wrong context", func() { zero.Get(a.Objects()) })
}

func TestContextIDConcurrent(t *testing.T) {
	store := newStore(engine.Options{})

	const n = 64
	ids := make([]ContextID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = NewContext(store, i).ID()
		}(i)
	}
	wg.Wait()

	seen := make(map[ContextID]bool, n)
	for _, id := range ids {
		assert.NotEqual(t, ContextID(0), id)
		assert.False(t, seen[id], "duplicate context id %v", id)
		seen[id] = true
	}
}

func TestHandleWrongKind(t *testing.T) {
	ctx := NewContext(newStore(engine.Options{}), 0)
	objs := ctx.Objects()
	g := Allocate(objs, NewGlobalI32(false, 1))

	forged := Handle[Table]{id: g.id, index: g.index, kind: g.kind}
	assert.Panics(t, func() { forged.Get(objs) })
}

func TestContextData(t *testing.T) {
	type state struct{ calls int }

	ctx := NewContext(newStore(engine.Options{}), state{})
	ctx.DataMut().calls++
	assert.Equal(t, 1, ctx.Data().calls)

	objs := ctx.Objects()
	m, err := NewMemory(types.MemoryType{Minimum: 1}, types.MemoryStyle{Kind: types.MemoryDynamic})
	require.NoError(t, err)
	h := Allocate(objs, m)

	id := ctx.ID()
	data := ctx.IntoData()
	assert.Equal(t, 1, data.calls)
	assert.Nil(t, ctx.Objects())
	assert.Equal(t, id, ctx.ID())
	assert.PanicsWithValue(t, "object used with the wrong context", func() { h.Get(ctx.Objects()) })
}
