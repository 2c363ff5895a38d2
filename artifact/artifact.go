// Package artifact defines the representation of compiled modules. A compiled module is either an owned
// Build, produced by the build pipeline, or a BuildRef, a zero-copy view over a serialized artifact.
// Both implement Compiled and answer every accessor identically.
package artifact

import (
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// DefaultExtension is the conventional file extension of serialized artifacts.
const DefaultExtension = "wasmu"

// Artifact is the engine-independent view of a compiled module.
type Artifact interface {
	// ModuleInfo returns a copy of the module's metadata.
	ModuleInfo() *types.ModuleInfo
	// Features returns the WebAssembly features the module was compiled with.
	Features() types.Features
	// CPUFeatures returns the CPU features the compiled code requires.
	CPUFeatures() compiler.CpuFeatureSet
	MemoryStyles() MapRef[types.MemoryStyle]
	TableStyles() MapRef[types.TableStyle]
	// DataInitializers returns the active data segments. Their bytes are borrowed from the artifact.
	DataInitializers() []types.DataInitializer

	// Serialize returns the artifact in its serialized form.
	Serialize() ([]byte, error)
	// SerializeToFile writes the serialized artifact to path.
	SerializeToFile(path string) error
}

// Compiled is an Artifact that exposes its compilation output.
type Compiled interface {
	Artifact

	FunctionBodies() MapRef[types.FunctionBody]
	FunctionCallTrampolines() MapRef[types.FunctionBody]
	DynamicFunctionTrampolines() MapRef[types.FunctionBody]
	CustomSections() MapRef[types.CustomSection]
	FunctionRelocations() MapRef[[]types.Relocation]
	CustomSectionRelocations() MapRef[[]types.Relocation]
	// LibcallTrampolines returns the index of the custom section that holds the libcall trampolines.
	LibcallTrampolines() types.SectionIndex
	// LibcallTrampolineLen returns the length of each libcall trampoline.
	LibcallTrampolineLen() int
	Debug() *types.Dwarf
	FrameInfo() MapRef[types.CompiledFunctionFrameInfo]
}

// IsDeserializable reports whether b looks like a serialized artifact. Only the magic is checked.
func IsDeserializable(b []byte) bool {
	return hasMagic(b)
}

var (
	_ Compiled = (*Build)(nil)
	_ Compiled = (*BuildRef)(nil)
)
