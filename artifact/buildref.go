package artifact

import (
	"go.uber.org/zap"

	"github.com/pgavlin/wasmu/artifact/internal/archive"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// BuildRef is a compiled module read in place from a serialized artifact. Accessors decode on demand,
// and byte slices they return alias the artifact, which must not be modified while the BuildRef is in
// use.
type BuildRef struct {
	buf    []byte
	module archive.Module
}

// NewBuildRef checks the header and archive framing of a serialized artifact and returns a view over it.
// The rest of the archive is trusted: it must have been produced by a compatible Serialize.
func NewBuildRef(b []byte) (*BuildRef, error) {
	n, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if n > len(b)-HeaderLen {
		return nil, types.DeserializeErrorf(types.DeserializeErrorCorrupted, "payload is truncated (%d bytes, expected %d)", len(b)-HeaderLen, n)
	}

	buf := b[:HeaderLen+n]
	module, err := archive.Open(buf[HeaderLen:])
	if err != nil {
		return nil, &types.DeserializeError{Kind: types.DeserializeErrorCorrupted, Msg: err.Error(), Err: err}
	}
	Logger().Debug("opened artifact", zap.Int("size", len(buf)))
	return &BuildRef{buf: buf, module: module}, nil
}

// ToOwned copies the artifact into an owned Build, checking that the archive is internally consistent.
func (r *BuildRef) ToOwned() (build *Build, err error) {
	defer func() {
		if x := recover(); x != nil {
			build, err = nil, types.DeserializeErrorf(types.DeserializeErrorStructural, "malformed archive: %v", x)
		}
	}()

	m := r.module.Decode()
	if err := checkStructure(m); err != nil {
		return nil, err
	}
	return FromSerializable(m), nil
}

func checkStructure(m *types.SerializableModule) error {
	structural := func(format string, args ...interface{}) error {
		return types.DeserializeErrorf(types.DeserializeErrorStructural, format, args...)
	}

	c, info := &m.Compilation, &m.CompileInfo
	if n := info.Module.NumLocalFunctions(); n < 0 {
		return structural("module imports %d functions but declares %d", info.Module.NumImportedFunctions, len(info.Module.Functions))
	} else if len(c.FunctionBodies) != n {
		return structural("module has %d local functions but %d function bodies", n, len(c.FunctionBodies))
	}
	if len(c.FunctionRelocations) != len(c.FunctionBodies) {
		return structural("%d function bodies but %d relocation lists", len(c.FunctionBodies), len(c.FunctionRelocations))
	}
	if len(c.FunctionFrameInfo) != len(c.FunctionBodies) {
		return structural("%d function bodies but %d frame infos", len(c.FunctionBodies), len(c.FunctionFrameInfo))
	}
	if len(c.CustomSectionRelocations) != len(c.CustomSections) {
		return structural("%d custom sections but %d relocation lists", len(c.CustomSections), len(c.CustomSectionRelocations))
	}
	if c.LibcallTrampolineLen != 0 && int(c.LibcallTrampolines) >= len(c.CustomSections) {
		return structural("libcall trampoline section %d does not exist", c.LibcallTrampolines)
	}
	if len(info.MemoryStyles) != len(info.Module.Memories) {
		return structural("%d memories but %d memory styles", len(info.Module.Memories), len(info.MemoryStyles))
	}
	if len(info.TableStyles) != len(info.Module.Tables) {
		return structural("%d tables but %d table styles", len(info.Module.Tables), len(info.TableStyles))
	}
	for i, sig := range info.Module.Functions {
		if int(sig) >= len(info.Module.Signatures) {
			return structural("function %d has undefined signature %d", i, sig)
		}
	}
	return nil
}

func (r *BuildRef) ModuleInfo() *types.ModuleInfo {
	return r.module.ModuleInfo()
}

func (r *BuildRef) Features() types.Features {
	return r.module.Features()
}

func (r *BuildRef) CPUFeatures() compiler.CpuFeatureSet {
	return compiler.CpuFeatureSetFromUint64(r.module.CPUFeatures())
}

func (r *BuildRef) MemoryStyles() MapRef[types.MemoryStyle] {
	return archivedMapRef(r.module.MemoryStyles())
}

func (r *BuildRef) TableStyles() MapRef[types.TableStyle] {
	return archivedMapRef(r.module.TableStyles())
}

func (r *BuildRef) DataInitializers() []types.DataInitializer {
	v := r.module.DataInitializers()
	if v.Len() == 0 {
		return nil
	}
	out := make([]types.DataInitializer, v.Len())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

// Serialize returns a copy of the artifact bytes.
func (r *BuildRef) Serialize() ([]byte, error) {
	out := AlignedBuffer(len(r.buf))
	copy(out, r.buf)
	return out, nil
}

func (r *BuildRef) SerializeToFile(path string) error {
	return serializeToFile(r, path)
}

func (r *BuildRef) FunctionBodies() MapRef[types.FunctionBody] {
	return archivedMapRef(r.module.FunctionBodies())
}

func (r *BuildRef) FunctionCallTrampolines() MapRef[types.FunctionBody] {
	return archivedMapRef(r.module.FunctionCallTrampolines())
}

func (r *BuildRef) DynamicFunctionTrampolines() MapRef[types.FunctionBody] {
	return archivedMapRef(r.module.DynamicFunctionTrampolines())
}

func (r *BuildRef) CustomSections() MapRef[types.CustomSection] {
	return archivedMapRef(r.module.CustomSections())
}

func (r *BuildRef) FunctionRelocations() MapRef[[]types.Relocation] {
	return archivedMapRef(r.module.FunctionRelocations())
}

func (r *BuildRef) CustomSectionRelocations() MapRef[[]types.Relocation] {
	return archivedMapRef(r.module.CustomSectionRelocations())
}

func (r *BuildRef) LibcallTrampolines() types.SectionIndex {
	return r.module.LibcallTrampolines()
}

func (r *BuildRef) LibcallTrampolineLen() int {
	return int(r.module.LibcallTrampolineLen())
}

func (r *BuildRef) Debug() *types.Dwarf {
	return r.module.Debug()
}

func (r *BuildRef) FrameInfo() MapRef[types.CompiledFunctionFrameInfo] {
	return archivedMapRef(r.module.FrameInfo())
}
