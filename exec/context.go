package exec

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// ContextID identifies a Context. IDs are unique within a process.
type ContextID uint64

func (id ContextID) String() string {
	return fmt.Sprintf("context#%d", uint64(id))
}

var nextContextID atomic.Uint64

// newContextID never returns 0, so the zero Handle is not valid in any context.
func newContextID() ContextID {
	return ContextID(nextContextID.Add(1))
}

type objectKind uint8

const (
	kindMemory objectKind = iota
	kindTable
	kindGlobal
	kindHostFunction
	kindInstance
	kindExternRef
)

func (k objectKind) String() string {
	switch k {
	case kindMemory:
		return "memory"
	case kindTable:
		return "table"
	case kindGlobal:
		return "global"
	case kindHostFunction:
		return "host function"
	case kindInstance:
		return "instance"
	case kindExternRef:
		return "extern ref"
	default:
		return fmt.Sprintf("<unknown object kind %d>", uint8(k))
	}
}

// ContextObjects owns every live object of a Context. Objects are never freed individually: they live
// as long as their ContextObjects. Slots hold pointers, so an object's address is stable.
//
// ContextObjects is not safe for concurrent use.
type ContextObjects struct {
	id ContextID

	memories      []*Memory
	tables        []*Table
	globals       []*Global
	hostFunctions []*HostFunction
	instances     []*Instance
	externRefs    []*ExternRef
}

// ID returns the id of the context that owns the objects.
func (o *ContextObjects) ID() ContextID {
	return o.id
}

// Len returns the number of objects of each kind, in the order memories, tables, globals, host
// functions, instances and extern refs.
func (o *ContextObjects) Len() [6]int {
	return [6]int{len(o.memories), len(o.tables), len(o.globals), len(o.hostFunctions), len(o.instances), len(o.externRefs)}
}

// Handle refers to an object in a ContextObjects. Handles are plain values that can be copied freely
// and compared with ==. They are only meaningful with the ContextObjects that allocated them.
//
// T must be one of Memory, Table, Global, HostFunction, Instance or ExternRef.
type Handle[T any] struct {
	id    ContextID
	index uint32
	kind  objectKind
}

// ContextID returns the id of the context that allocated the object.
func (h Handle[T]) ContextID() ContextID {
	return h.id
}

// Index returns the object's slot in its sequence.
func (h Handle[T]) Index() int {
	return int(h.index)
}

func (h Handle[T]) String() string {
	return fmt.Sprintf("%v %d in %v", h.kind, h.index, h.id)
}

// Allocate moves v into objs and returns a handle to it.
func Allocate[T any](objs *ContextObjects, v T) Handle[T] {
	kind := kindOf[T]()
	switch v := any(&v).(type) {
	case *Memory:
		objs.memories = append(objs.memories, v)
		return Handle[T]{objs.id, uint32(len(objs.memories) - 1), kind}
	case *Table:
		objs.tables = append(objs.tables, v)
		return Handle[T]{objs.id, uint32(len(objs.tables) - 1), kind}
	case *Global:
		objs.globals = append(objs.globals, v)
		return Handle[T]{objs.id, uint32(len(objs.globals) - 1), kind}
	case *HostFunction:
		objs.hostFunctions = append(objs.hostFunctions, v)
		return Handle[T]{objs.id, uint32(len(objs.hostFunctions) - 1), kind}
	case *Instance:
		objs.instances = append(objs.instances, v)
		return Handle[T]{objs.id, uint32(len(objs.instances) - 1), kind}
	case *ExternRef:
		objs.externRefs = append(objs.externRefs, v)
		return Handle[T]{objs.id, uint32(len(objs.externRefs) - 1), kind}
	default:
		panic("unreachable")
	}
}

// Get returns the object h refers to. It panics if h was allocated by another context.
func (h Handle[T]) Get(objs *ContextObjects) *T {
	return h.resolve(objs)
}

// GetMut returns the object h refers to for modification. The caller must hold the only reference to
// objs for as long as it uses the result. It panics if h was allocated by another context.
func (h Handle[T]) GetMut(objs *ContextObjects) *T {
	return h.resolve(objs)
}

func (h Handle[T]) resolve(objs *ContextObjects) *T {
	if objs == nil || h.id != objs.id {
		panic("object used with the wrong context")
	}
	if kind := kindOf[T](); h.kind != kind {
		panic(fmt.Sprintf("handle to a %v used as a %v", h.kind, kind))
	}

	var slot any
	switch h.kind {
	case kindMemory:
		slot = objs.memories[h.index]
	case kindTable:
		slot = objs.tables[h.index]
	case kindGlobal:
		slot = objs.globals[h.index]
	case kindHostFunction:
		slot = objs.hostFunctions[h.index]
	case kindInstance:
		slot = objs.instances[h.index]
	case kindExternRef:
		slot = objs.externRefs[h.index]
	}
	return slot.(*T)
}

func kindOf[T any]() objectKind {
	var zero *T
	switch any(zero).(type) {
	case *Memory:
		return kindMemory
	case *Table:
		return kindTable
	case *Global:
		return kindGlobal
	case *HostFunction:
		return kindHostFunction
	case *Instance:
		return kindInstance
	case *ExternRef:
		return kindExternRef
	default:
		panic(fmt.Sprintf("%T cannot be allocated in a context", zero))
	}
}

// noCopy may be embedded into structs which must not be copied after first use. go vet's copylocks
// check reports copies of values that contain it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Context is a session: a Store, the objects created in it and a value of type T owned by the caller.
// Contexts are created by NewContext and must not be copied.
type Context[T any] struct {
	_ noCopy

	id      ContextID
	objects *ContextObjects
	store   *Store
	data    T
}

// NewContext creates a context with a fresh id.
func NewContext[T any](store *Store, data T) *Context[T] {
	id := newContextID()
	ctx := &Context[T]{
		id:      id,
		objects: &ContextObjects{id: id},
		store:   store,
		data:    data,
	}
	store.log.Debug("created context", zap.Stringer("context", id))
	return ctx
}

// ID returns the context's id.
func (c *Context[T]) ID() ContextID {
	return c.id
}

// Data returns the context's value.
func (c *Context[T]) Data() *T {
	return &c.data
}

// DataMut returns the context's value for modification.
func (c *Context[T]) DataMut() *T {
	return &c.data
}

// Objects returns the context's objects. It returns nil after IntoData.
func (c *Context[T]) Objects() *ContextObjects {
	return c.objects
}

// Store returns the context's store.
func (c *Context[T]) Store() *Store {
	return c.store
}

// IntoData releases the context's objects and returns its value. Handles allocated by the context can
// no longer be resolved against it.
func (c *Context[T]) IntoData() T {
	if c.objects != nil {
		c.store.log.Debug("released context", zap.Stringer("context", c.id))
	}
	c.objects = nil
	data := c.data
	var zero T
	c.data = zero
	return data
}
