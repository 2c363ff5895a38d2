package types

import "math"

// NullFunction is the function index of a null table element.
const NullFunction FunctionIndex = math.MaxUint32

// Import describes one import of a module. Index is the import's position in the index space of its kind.
type Import struct {
	Module string
	Field  string
	Kind   ExternKind
	Index  uint32
}

// Export describes one export of a module.
type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// GlobalInitKind identifies the form of a global initializer.
type GlobalInitKind uint8

const (
	GlobalInitI32Const GlobalInitKind = iota
	GlobalInitI64Const
	GlobalInitF32Const
	GlobalInitF64Const
	GlobalInitGetGlobal
	GlobalInitRefNull
	GlobalInitRefFunc
)

// GlobalInit is the initializer of a local global. Value holds the raw bits of a constant, or the index
// operand of a global.get or ref.func initializer.
type GlobalInit struct {
	Kind  GlobalInitKind
	Value uint64
}

// TableInitializer is an active element segment.
type TableInitializer struct {
	TableIndex TableIndex
	// Base, if set, is the global whose value is added to Offset.
	Base     *GlobalIndex
	Offset   uint32
	Elements []FunctionIndex
}

// WasmCustomSection is a custom section of the original module binary.
type WasmCustomSection struct {
	Name string
	Data []byte
}

// ModuleInfo is the static metadata of a translated module.
type ModuleInfo struct {
	Name string

	Imports []Import
	Exports []Export

	StartFunction *FunctionIndex

	TableInitializers  []TableInitializer
	PassiveElements    map[ElemIndex][]FunctionIndex
	PassiveData        map[DataIndex][]byte
	GlobalInitializers []GlobalInit

	FunctionNames map[FunctionIndex]string

	Signatures []FunctionType
	// Functions maps every function in the function index space to its signature.
	Functions []SignatureIndex
	Tables    []TableType
	Memories  []MemoryType
	Globals   []GlobalType

	CustomSections []WasmCustomSection

	NumImportedFunctions int
	NumImportedTables    int
	NumImportedMemories  int
	NumImportedGlobals   int
}

// LocalFuncIndex converts a function index to a local function index. It returns false for imported
// functions.
func (m *ModuleInfo) LocalFuncIndex(f FunctionIndex) (LocalFunctionIndex, bool) {
	if int(f) < m.NumImportedFunctions {
		return 0, false
	}
	return LocalFunctionIndex(int(f) - m.NumImportedFunctions), true
}

// FuncIndex converts a local function index to a function index.
func (m *ModuleInfo) FuncIndex(f LocalFunctionIndex) FunctionIndex {
	return FunctionIndex(int(f) + m.NumImportedFunctions)
}

// NumLocalFunctions returns the number of functions defined by the module.
func (m *ModuleInfo) NumLocalFunctions() int {
	return len(m.Functions) - m.NumImportedFunctions
}

// FunctionType returns the signature of the given function.
func (m *ModuleInfo) FunctionType(f FunctionIndex) (FunctionType, bool) {
	if int(f) >= len(m.Functions) {
		return FunctionType{}, false
	}
	sig := m.Functions[f]
	if int(sig) >= len(m.Signatures) {
		return FunctionType{}, false
	}
	return m.Signatures[sig], true
}

// FunctionName returns the name of the given function, if the module names it.
func (m *ModuleInfo) FunctionName(f FunctionIndex) (string, bool) {
	name, ok := m.FunctionNames[f]
	return name, ok
}

// ExportsOfKind returns the exports of the given kind in declaration order.
func (m *ModuleInfo) ExportsOfKind(kind ExternKind) []Export {
	var exports []Export
	for _, e := range m.Exports {
		if e.Kind == kind {
			exports = append(exports, e)
		}
	}
	return exports
}

// Clone returns a deep copy of m.
func (m *ModuleInfo) Clone() *ModuleInfo {
	c := *m
	c.Imports = cloneSlice(m.Imports)
	c.Exports = cloneSlice(m.Exports)
	c.StartFunction = clonePtr(m.StartFunction)

	c.TableInitializers = nil
	for _, t := range m.TableInitializers {
		t.Base = clonePtr(t.Base)
		t.Elements = cloneSlice(t.Elements)
		c.TableInitializers = append(c.TableInitializers, t)
	}

	c.PassiveElements = nil
	if len(m.PassiveElements) != 0 {
		c.PassiveElements = make(map[ElemIndex][]FunctionIndex, len(m.PassiveElements))
		for k, v := range m.PassiveElements {
			c.PassiveElements[k] = cloneSlice(v)
		}
	}

	c.PassiveData = nil
	if len(m.PassiveData) != 0 {
		c.PassiveData = make(map[DataIndex][]byte, len(m.PassiveData))
		for k, v := range m.PassiveData {
			c.PassiveData[k] = cloneSlice(v)
		}
	}

	c.GlobalInitializers = cloneSlice(m.GlobalInitializers)

	c.FunctionNames = nil
	if len(m.FunctionNames) != 0 {
		c.FunctionNames = make(map[FunctionIndex]string, len(m.FunctionNames))
		for k, v := range m.FunctionNames {
			c.FunctionNames[k] = v
		}
	}

	c.Signatures = nil
	for _, s := range m.Signatures {
		c.Signatures = append(c.Signatures, s.Clone())
	}
	c.Functions = cloneSlice(m.Functions)

	c.Tables = nil
	for _, t := range m.Tables {
		t.Maximum = clonePtr(t.Maximum)
		c.Tables = append(c.Tables, t)
	}
	c.Memories = nil
	for _, mem := range m.Memories {
		mem.Maximum = clonePtr(mem.Maximum)
		c.Memories = append(c.Memories, mem)
	}
	c.Globals = cloneSlice(m.Globals)

	c.CustomSections = nil
	for _, s := range m.CustomSections {
		c.CustomSections = append(c.CustomSections, WasmCustomSection{Name: s.Name, Data: cloneSlice(s.Data)})
	}
	return &c
}
