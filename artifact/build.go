package artifact

import (
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/pgavlin/wasmu/artifact/internal/archive"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// Builder holds what the build pipeline needs from an engine: a compiler, which may be absent, and the
// WebAssembly features to compile with.
type Builder struct {
	compiler compiler.Compiler
	features types.Features
}

// NewBuilder creates a builder. A nil compiler creates a headless builder that can load artifacts but
// not compile modules.
func NewBuilder(c compiler.Compiler, features types.Features) *Builder {
	return &Builder{compiler: c, features: features}
}

// Compiler returns the builder's compiler, or an error if the builder is headless.
func (b *Builder) Compiler() (compiler.Compiler, error) {
	if b.compiler == nil {
		return nil, types.CompileErrorf(types.CompileErrorCodegen, "compilation is not enabled in the engine")
	}
	return b.compiler, nil
}

func (b *Builder) Features() types.Features {
	return b.features
}

// Build is an owned compiled module.
type Build struct {
	serializable *types.SerializableModule
}

// NewBuild translates, validates and compiles a module binary into a Build.
//
// Middlewares run on the module metadata before code generation, and the libcall trampoline section is
// appended after the compiler's own custom sections.
func NewBuild(builder *Builder, binary []byte, target *compiler.Target, tunables compiler.Tunables) (*Build, error) {
	log := Logger().With(zap.Stringer("target", target))

	features := builder.Features()
	translation, err := compiler.Translate(binary, features)
	if err != nil {
		return nil, err
	}
	log.Debug("translated module",
		zap.String("module", translation.Module.Name),
		zap.Int("functions", translation.Module.NumLocalFunctions()))

	c, err := builder.Compiler()
	if err != nil {
		return nil, err
	}

	module := translation.Module
	if err := compiler.ApplyMiddlewares(c.Middlewares(), module); err != nil {
		return nil, err
	}
	log.Debug("applied middlewares", zap.Int("count", len(c.Middlewares())))

	// Styles describe the memories and tables the compiled code sees, which middlewares may change.
	info := &types.CompileModuleInfo{
		Module:       module,
		Features:     features,
		MemoryStyles: compiler.MemoryStyles(tunables, module),
		TableStyles:  compiler.TableStyles(tunables, module),
	}

	compilation, err := c.CompileModule(target, info, translation.FunctionBodies)
	if err != nil {
		var compileErr *types.CompileError
		if errors.As(err, &compileErr) {
			return nil, err
		}
		return nil, types.NewCompileError(types.CompileErrorCodegen, err)
	}
	log.Debug("compiled module",
		zap.Int("functions", len(compilation.Functions)),
		zap.Int("customSections", len(compilation.CustomSections)))

	section, relocations, trampolineLen := libcallTrampolines(target.Arch())
	customSections := append(compilation.CustomSections, section)
	customSectionRelocations := compilation.CustomSectionRelocations
	for len(customSectionRelocations) < len(compilation.CustomSections) {
		customSectionRelocations = append(customSectionRelocations, nil)
	}
	customSectionRelocations = append(customSectionRelocations, relocations)
	libcalls := types.SectionIndex(len(customSections) - 1)
	log.Debug("synthesized libcall trampolines",
		zap.Uint32("section", uint32(libcalls)),
		zap.Uint32("trampolineLen", trampolineLen))

	var data []types.OwnedDataInitializer
	for _, d := range translation.DataInitializers {
		data = append(data, types.NewOwnedDataInitializer(d))
	}

	return FromSerializable(&types.SerializableModule{
		Compilation: types.SerializableCompilation{
			FunctionBodies:             compilation.FunctionBodies(),
			FunctionRelocations:        compilation.Relocations(),
			FunctionFrameInfo:          compilation.FrameInfo(),
			FunctionCallTrampolines:    compilation.FunctionCallTrampolines,
			DynamicFunctionTrampolines: compilation.DynamicFunctionTrampolines,
			CustomSections:             customSections,
			CustomSectionRelocations:   customSectionRelocations,
			Debug:                      compilation.Debug,
			LibcallTrampolines:         libcalls,
			LibcallTrampolineLen:       trampolineLen,
		},
		CompileInfo:      *info,
		DataInitializers: data,
		CPUFeatures:      target.CPUFeatures().Uint64(),
	}), nil
}

// FromSerializable wraps an existing compiled module value.
func FromSerializable(m *types.SerializableModule) *Build {
	return &Build{serializable: m}
}

// Serializable returns the module value behind b. It is shared with b.
func (b *Build) Serializable() *types.SerializableModule {
	return b.serializable
}

func (b *Build) ModuleInfo() *types.ModuleInfo {
	if b.serializable.CompileInfo.Module == nil {
		return &types.ModuleInfo{}
	}
	return b.serializable.CompileInfo.Module.Clone()
}

func (b *Build) Features() types.Features {
	return b.serializable.CompileInfo.Features
}

func (b *Build) CPUFeatures() compiler.CpuFeatureSet {
	return compiler.CpuFeatureSetFromUint64(b.serializable.CPUFeatures)
}

func (b *Build) MemoryStyles() MapRef[types.MemoryStyle] {
	return OwnedMapRef(b.serializable.CompileInfo.MemoryStyles)
}

func (b *Build) TableStyles() MapRef[types.TableStyle] {
	return OwnedMapRef(b.serializable.CompileInfo.TableStyles)
}

func (b *Build) DataInitializers() []types.DataInitializer {
	if len(b.serializable.DataInitializers) == 0 {
		return nil
	}
	out := make([]types.DataInitializer, len(b.serializable.DataInitializers))
	for i := range b.serializable.DataInitializers {
		out[i] = b.serializable.DataInitializers[i].Borrow()
	}
	return out
}

func (b *Build) Serialize() ([]byte, error) {
	return frame(archive.Encode(b.serializable))
}

func (b *Build) SerializeToFile(path string) error {
	return serializeToFile(b, path)
}

func (b *Build) FunctionBodies() MapRef[types.FunctionBody] {
	return OwnedMapRef(b.serializable.Compilation.FunctionBodies)
}

func (b *Build) FunctionCallTrampolines() MapRef[types.FunctionBody] {
	return OwnedMapRef(b.serializable.Compilation.FunctionCallTrampolines)
}

func (b *Build) DynamicFunctionTrampolines() MapRef[types.FunctionBody] {
	return OwnedMapRef(b.serializable.Compilation.DynamicFunctionTrampolines)
}

func (b *Build) CustomSections() MapRef[types.CustomSection] {
	return OwnedMapRef(b.serializable.Compilation.CustomSections)
}

func (b *Build) FunctionRelocations() MapRef[[]types.Relocation] {
	return OwnedMapRef(b.serializable.Compilation.FunctionRelocations)
}

func (b *Build) CustomSectionRelocations() MapRef[[]types.Relocation] {
	return OwnedMapRef(b.serializable.Compilation.CustomSectionRelocations)
}

func (b *Build) LibcallTrampolines() types.SectionIndex {
	return b.serializable.Compilation.LibcallTrampolines
}

func (b *Build) LibcallTrampolineLen() int {
	return int(b.serializable.Compilation.LibcallTrampolineLen)
}

func (b *Build) Debug() *types.Dwarf {
	return b.serializable.Compilation.Debug
}

func (b *Build) FrameInfo() MapRef[types.CompiledFunctionFrameInfo] {
	return OwnedMapRef(b.serializable.Compilation.FunctionFrameInfo)
}

func serializeToFile(a Artifact, path string) error {
	data, err := a.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &types.SerializeError{Kind: types.SerializeErrorIO, Msg: err.Error(), Err: err}
	}
	Logger().Debug("wrote artifact", zap.String("path", path), zap.Int("size", len(data)))
	return nil
}
