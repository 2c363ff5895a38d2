package exec

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/types"
)

// Instance is an instantiated module.
type Instance struct {
	artifact *engine.Artifact

	functions []Function
	tables    []Handle[Table]
	memories  []Handle[Memory]
	globals   []Handle[Global]

	exports map[string]Extern
}

// Artifact returns the artifact the instance was created from.
func (i *Instance) Artifact() *engine.Artifact {
	return i.artifact
}

// Module returns the instance's module metadata.
func (i *Instance) Module() *types.ModuleInfo {
	return i.artifact.ModuleInfo()
}

// Function returns the function at the given index of the instance's function index space.
func (i *Instance) Function(index types.FunctionIndex) (Function, bool) {
	if int(index) >= len(i.functions) {
		return Function{}, false
	}
	return i.functions[index], true
}

// Table returns the table at the given index of the instance's table index space.
func (i *Instance) Table(index types.TableIndex) (Handle[Table], bool) {
	if int(index) >= len(i.tables) {
		return Handle[Table]{}, false
	}
	return i.tables[index], true
}

// Memory returns the memory at the given index of the instance's memory index space.
func (i *Instance) Memory(index types.MemoryIndex) (Handle[Memory], bool) {
	if int(index) >= len(i.memories) {
		return Handle[Memory]{}, false
	}
	return i.memories[index], true
}

// Global returns the global at the given index of the instance's global index space.
func (i *Instance) Global(index types.GlobalIndex) (Handle[Global], bool) {
	if int(index) >= len(i.globals) {
		return Handle[Global]{}, false
	}
	return i.globals[index], true
}

// Export returns the export with the given name.
func (i *Instance) Export(name string) (Extern, bool) {
	e, ok := i.exports[name]
	return e, ok
}

// Exports returns the instance's exports as a namespace that can be imported by other instances.
func (i *Instance) Exports() Namespace {
	ns := make(Namespace, len(i.exports))
	for name, e := range i.exports {
		ns[name] = e
	}
	return ns
}

// Start returns the module's start function, if it has one. Instantiate does not run it.
func (i *Instance) Start() (Function, bool) {
	start := i.Module().StartFunction
	if start == nil {
		return Function{}, false
	}
	return i.Function(*start)
}

// Instantiate creates an instance of an artifact in ctx. Imports are resolved through imports and checked
// against the module's import declarations. Local memories, tables and globals are allocated in ctx, global
// initializers are evaluated and active element and data segments are applied, in that order.
//
// Segments that do not fit their table or memory fail instantiation with a Trap. Objects allocated before
// the failure stay in ctx, and segments applied before it remain applied.
func Instantiate[T any](ctx *Context[T], a *engine.Artifact, imports Resolver) (Handle[Instance], error) {
	store, objs := ctx.Store(), ctx.Objects()
	if a.EngineID() != store.Engine().ID() {
		return Handle[Instance]{}, ErrEngineMismatch
	}
	if imports == nil {
		imports = MapResolver(nil)
	}

	info := a.ModuleInfo()
	log := store.log.With(zap.Stringer("context", ctx.ID()), zap.String("module", info.Name))

	handle := Allocate(objs, Instance{artifact: a, exports: map[string]Extern{}})
	inst := handle.GetMut(objs)

	if err := resolveImports(objs, inst, info, imports); err != nil {
		return Handle[Instance]{}, err
	}
	for f := len(inst.functions); f < len(info.Functions); f++ {
		inst.functions = append(inst.functions, InstanceFunc(handle, types.FunctionIndex(f)))
	}

	compiled := a.Compiled()
	memoryStyles, tableStyles := compiled.MemoryStyles(), compiled.TableStyles()
	for m := info.NumImportedMemories; m < len(info.Memories); m++ {
		style, _ := memoryStyles.Get(m)
		memory, err := NewMemory(info.Memories[m], style)
		if err != nil {
			return Handle[Instance]{}, fmt.Errorf("memory %d: %w", m, err)
		}
		inst.memories = append(inst.memories, Allocate(objs, memory))
	}
	for t := info.NumImportedTables; t < len(info.Tables); t++ {
		style, _ := tableStyles.Get(t)
		table, err := NewTable(info.Tables[t], style)
		if err != nil {
			return Handle[Instance]{}, fmt.Errorf("table %d: %w", t, err)
		}
		inst.tables = append(inst.tables, Allocate(objs, table))
	}

	for g := info.NumImportedGlobals; g < len(info.Globals); g++ {
		local := g - info.NumImportedGlobals
		if local >= len(info.GlobalInitializers) {
			return Handle[Instance]{}, fmt.Errorf("global %d has no initializer", g)
		}
		global, err := evalGlobal(objs, inst, info.Globals[g], info.GlobalInitializers[local])
		if err != nil {
			return Handle[Instance]{}, fmt.Errorf("global %d: %w", g, err)
		}
		inst.globals = append(inst.globals, Allocate(objs, global))
	}

	for _, e := range info.Exports {
		extern, ok := inst.extern(e.Kind, e.Index)
		if !ok {
			return Handle[Instance]{}, fmt.Errorf("export %s refers to undefined %v %d", e.Name, e.Kind, e.Index)
		}
		inst.exports[e.Name] = extern
	}

	for i, init := range info.TableInitializers {
		if err := initTable(objs, inst, init); err != nil {
			return Handle[Instance]{}, fmt.Errorf("element segment %d: %w", i, err)
		}
	}
	for i, init := range compiled.DataInitializers() {
		if err := initMemory(objs, inst, init); err != nil {
			return Handle[Instance]{}, fmt.Errorf("data segment %d: %w", i, err)
		}
	}

	log.Debug("instantiated module",
		zap.Int("functions", len(inst.functions)),
		zap.Int("memories", len(inst.memories)),
		zap.Int("tables", len(inst.tables)),
		zap.Int("globals", len(inst.globals)))
	return handle, nil
}

func resolveImports(objs *ContextObjects, inst *Instance, info *types.ModuleInfo, imports Resolver) error {
	for _, imp := range info.Imports {
		extern, err := imports.Resolve(imp.Module, imp.Field)
		if err != nil {
			return err
		}
		if extern.Kind != imp.Kind {
			return &KindMismatchError{ModuleName: imp.Module, FieldName: imp.Field, Import: imp.Kind, Export: extern.Kind}
		}
		typeError := func(err error) error {
			return &ImportTypeError{ModuleName: imp.Module, FieldName: imp.Field, Err: err}
		}

		switch imp.Kind {
		case types.ExternFunction:
			expected, ok := info.FunctionType(types.FunctionIndex(imp.Index))
			if !ok {
				return fmt.Errorf("import %s.%s: function %d has no signature", imp.Module, imp.Field, imp.Index)
			}
			actual, ok := extern.Function.Type(objs)
			if !ok || !actual.Equal(expected) {
				return &InvalidImportError{ModuleName: imp.Module, FieldName: imp.Field, Expected: expected, Actual: actual}
			}
			inst.functions = append(inst.functions, extern.Function)
		case types.ExternTable:
			if int(imp.Index) >= len(info.Tables) || !tableMatches(extern.Table.Get(objs).Type(), info.Tables[imp.Index]) {
				return typeError(ErrTableType)
			}
			inst.tables = append(inst.tables, extern.Table)
		case types.ExternMemory:
			if int(imp.Index) >= len(info.Memories) || !memoryMatches(extern.Memory.Get(objs).Type(), info.Memories[imp.Index]) {
				return typeError(ErrMemoryType)
			}
			inst.memories = append(inst.memories, extern.Memory)
		case types.ExternGlobal:
			if int(imp.Index) >= len(info.Globals) || extern.Global.Get(objs).Type() != info.Globals[imp.Index] {
				return typeError(ErrGlobalType)
			}
			inst.globals = append(inst.globals, extern.Global)
		}
	}
	return nil
}

func (i *Instance) extern(kind types.ExternKind, index uint32) (Extern, bool) {
	switch kind {
	case types.ExternFunction:
		f, ok := i.Function(types.FunctionIndex(index))
		return FunctionExtern(f), ok
	case types.ExternTable:
		t, ok := i.Table(types.TableIndex(index))
		return TableExtern(t), ok
	case types.ExternMemory:
		m, ok := i.Memory(types.MemoryIndex(index))
		return MemoryExtern(m), ok
	case types.ExternGlobal:
		g, ok := i.Global(types.GlobalIndex(index))
		return GlobalExtern(g), ok
	default:
		return Extern{}, false
	}
}

// evalGlobal evaluates the initializer of a local global. global.get may only refer to globals that
// precede it in the index space.
func evalGlobal(objs *ContextObjects, inst *Instance, typ types.GlobalType, init types.GlobalInit) (Global, error) {
	switch init.Kind {
	case types.GlobalInitI32Const, types.GlobalInitF32Const:
		return NewGlobal(typ, uint64(uint32(init.Value))), nil
	case types.GlobalInitI64Const, types.GlobalInitF64Const:
		return NewGlobal(typ, init.Value), nil
	case types.GlobalInitGetGlobal:
		h, ok := inst.Global(types.GlobalIndex(init.Value))
		if !ok {
			return Global{}, InvalidGlobalIndexError(init.Value)
		}
		src := h.Get(objs)
		return Global{typ: typ, value: src.value, ref: src.ref}, nil
	case types.GlobalInitRefNull:
		return Global{typ: typ}, nil
	case types.GlobalInitRefFunc:
		f, ok := inst.Function(types.FunctionIndex(init.Value))
		if !ok {
			return Global{}, fmt.Errorf("ref.func refers to undefined function %d", init.Value)
		}
		return Global{typ: typ, ref: f}, nil
	default:
		return Global{}, fmt.Errorf("unknown initializer kind %d", init.Kind)
	}
}

// InvalidGlobalIndexError is returned when an initializer or segment offset refers to an undefined global.
type InvalidGlobalIndexError uint64

func (e InvalidGlobalIndexError) Error() string {
	return fmt.Sprintf("wasm: Invalid index to global index space: %#x", uint64(e))
}

func segmentOffset(objs *ContextObjects, inst *Instance, base *types.GlobalIndex, offset uint32) (uint64, error) {
	if base == nil {
		return uint64(offset), nil
	}
	h, ok := inst.Global(*base)
	if !ok {
		return 0, InvalidGlobalIndexError(*base)
	}
	return uint64(uint32(h.Get(objs).Get() + uint64(offset))), nil
}

func initTable(objs *ContextObjects, inst *Instance, init types.TableInitializer) error {
	h, ok := inst.Table(init.TableIndex)
	if !ok {
		return fmt.Errorf("undefined table %d", init.TableIndex)
	}
	offset, err := segmentOffset(objs, inst, init.Base, init.Offset)
	if err != nil {
		return err
	}

	table := h.GetMut(objs)
	if offset+uint64(len(init.Elements)) > uint64(table.Size()) {
		return TrapUndefinedElement
	}
	for i, index := range init.Elements {
		var f Function
		if index != types.NullFunction {
			if f, ok = inst.Function(index); !ok {
				return fmt.Errorf("element refers to undefined function %d", index)
			}
		}
		table.entries[offset+uint64(i)] = f
	}
	return nil
}

func initMemory(objs *ContextObjects, inst *Instance, init types.DataInitializer) error {
	h, ok := inst.Memory(init.Location.MemoryIndex)
	if !ok {
		return fmt.Errorf("undefined memory %d", init.Location.MemoryIndex)
	}
	offset, err := segmentOffset(objs, inst, init.Location.Base, init.Location.Offset)
	if err != nil {
		return err
	}
	return h.GetMut(objs).Write(offset, init.Data)
}
