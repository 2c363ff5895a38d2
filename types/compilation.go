package types

// FunctionBody is compiled code for one function or trampoline.
type FunctionBody struct {
	Body       []byte
	UnwindInfo []byte
}

// TrapInformation records a trap site in a function body.
type TrapInformation struct {
	CodeOffset uint32
	TrapCode   TrapCode
}

// InstructionAddressMap maps a source location to a range of compiled code.
type InstructionAddressMap struct {
	SrcLoc     uint32
	CodeOffset uint32
	CodeLen    uint32
}

// FunctionAddressMap maps the compiled code of a function back to the module binary.
type FunctionAddressMap struct {
	Instructions []InstructionAddressMap
	StartSrcLoc  uint32
	EndSrcLoc    uint32
	BodyOffset   uint32
	BodyLen      uint32
}

// CompiledFunctionFrameInfo is the frame information of one compiled function.
type CompiledFunctionFrameInfo struct {
	Traps      []TrapInformation
	AddressMap FunctionAddressMap
}

// CustomSectionProtection is the memory protection a custom section requires once loaded.
type CustomSectionProtection uint8

const (
	ProtectionRead CustomSectionProtection = iota
	ProtectionReadExecute
)

func (p CustomSectionProtection) String() string {
	if p == ProtectionReadExecute {
		return "rx"
	}
	return "r"
}

// CustomSection is a section of code or data emitted alongside the function bodies.
type CustomSection struct {
	Protection CustomSectionProtection
	Bytes      []byte
}

// Dwarf locates the debug information of a compilation.
type Dwarf struct {
	EhFrame SectionIndex
}

// CompiledFunction is the code generator's output for one local function.
type CompiledFunction struct {
	Body        FunctionBody
	Relocations []Relocation
	FrameInfo   CompiledFunctionFrameInfo
}

// Compilation is the output of a code generator for a whole module.
type Compilation struct {
	Functions                []CompiledFunction
	CustomSections           []CustomSection
	CustomSectionRelocations [][]Relocation
	// FunctionCallTrampolines has one entry per module signature.
	FunctionCallTrampolines []FunctionBody
	// DynamicFunctionTrampolines has one entry per imported function.
	DynamicFunctionTrampolines []FunctionBody
	Debug                      *Dwarf
}

// FunctionBodies returns the body of every compiled function.
func (c *Compilation) FunctionBodies() []FunctionBody {
	return mapFunctions(c.Functions, func(f CompiledFunction) FunctionBody { return f.Body })
}

// Relocations returns the relocations of every compiled function.
func (c *Compilation) Relocations() [][]Relocation {
	return mapFunctions(c.Functions, func(f CompiledFunction) []Relocation { return f.Relocations })
}

// FrameInfo returns the frame information of every compiled function.
func (c *Compilation) FrameInfo() []CompiledFunctionFrameInfo {
	return mapFunctions(c.Functions, func(f CompiledFunction) CompiledFunctionFrameInfo { return f.FrameInfo })
}

func mapFunctions[T any](fs []CompiledFunction, f func(CompiledFunction) T) []T {
	if len(fs) == 0 {
		return nil
	}
	out := make([]T, len(fs))
	for i, fn := range fs {
		out[i] = f(fn)
	}
	return out
}

// SerializableCompilation is the compilation output stored in an artifact.
type SerializableCompilation struct {
	FunctionBodies             []FunctionBody
	FunctionRelocations        [][]Relocation
	FunctionFrameInfo          []CompiledFunctionFrameInfo
	FunctionCallTrampolines    []FunctionBody
	DynamicFunctionTrampolines []FunctionBody
	CustomSections             []CustomSection
	CustomSectionRelocations   [][]Relocation
	Debug                      *Dwarf
	// LibcallTrampolines is the custom section that holds the library call trampolines.
	LibcallTrampolines SectionIndex
	// LibcallTrampolineLen is the length in bytes of each trampoline in that section.
	LibcallTrampolineLen uint32
}

// CompileModuleInfo is the module metadata together with the configuration it was compiled with.
type CompileModuleInfo struct {
	Module       *ModuleInfo
	Features     Features
	MemoryStyles []MemoryStyle
	TableStyles  []TableStyle
}

// DataInitializerLocation is the destination of an active data segment.
type DataInitializerLocation struct {
	MemoryIndex MemoryIndex
	// Base, if set, is the global whose value is added to Offset.
	Base   *GlobalIndex
	Offset uint32
}

// DataInitializer is an active data segment whose bytes are borrowed from the module binary or an
// artifact.
type DataInitializer struct {
	Location DataInitializerLocation
	Data     []byte
}

// OwnedDataInitializer is an active data segment that owns its bytes.
type OwnedDataInitializer struct {
	Location DataInitializerLocation
	Data     []byte
}

// NewOwnedDataInitializer copies a borrowed data initializer.
func NewOwnedDataInitializer(d DataInitializer) OwnedDataInitializer {
	return OwnedDataInitializer{
		Location: DataInitializerLocation{
			MemoryIndex: d.Location.MemoryIndex,
			Base:        clonePtr(d.Location.Base),
			Offset:      d.Location.Offset,
		},
		Data: cloneSlice(d.Data),
	}
}

// Borrow returns a data initializer that refers to d's bytes.
func (d *OwnedDataInitializer) Borrow() DataInitializer {
	return DataInitializer{Location: d.Location, Data: d.Data}
}

// SerializableModule is the complete content of an artifact.
type SerializableModule struct {
	Compilation      SerializableCompilation
	CompileInfo      CompileModuleInfo
	DataInitializers []OwnedDataInitializer
	CPUFeatures      uint64
}
