// Package bytecode implements an interpreter-tier code generator. The code of each function is its
// validated WebAssembly body, so compiled modules carry no relocations and need no machine code.
package bytecode

import (
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// Compiler is the bytecode code generator.
type Compiler struct {
	middlewares []compiler.ModuleMiddleware
}

// New creates a bytecode compiler that applies the given middlewares.
func New(middlewares ...compiler.ModuleMiddleware) *Compiler {
	return &Compiler{middlewares: middlewares}
}

func (c *Compiler) Middlewares() []compiler.ModuleMiddleware {
	return c.middlewares
}

func (c *Compiler) CompileModule(target *compiler.Target, info *types.CompileModuleInfo, bodies []compiler.FunctionBodyData) (*types.Compilation, error) {
	switch target.Arch() {
	case compiler.ArchAmd64, compiler.ArchArm64:
	default:
		return nil, types.CompileErrorf(types.CompileErrorUnsupportedTarget, "unsupported architecture %v", target.Arch())
	}

	module := info.Module
	if len(bodies) != module.NumLocalFunctions() {
		return nil, types.CompileErrorf(types.CompileErrorCodegen, "expected %d function bodies, got %d", module.NumLocalFunctions(), len(bodies))
	}

	var compilation types.Compilation
	for _, body := range bodies {
		compilation.Functions = append(compilation.Functions, compileFunction(body))
	}
	for range module.Signatures {
		compilation.FunctionCallTrampolines = append(compilation.FunctionCallTrampolines, types.FunctionBody{})
	}
	for i := 0; i < module.NumImportedFunctions; i++ {
		compilation.DynamicFunctionTrampolines = append(compilation.DynamicFunctionTrampolines, types.FunctionBody{})
	}
	return &compilation, nil
}

func compileFunction(body compiler.FunctionBodyData) types.CompiledFunction {
	code := types.CloneBytes(body.Data)
	start, length := uint32(body.ModuleOffset), uint32(len(code))
	return types.CompiledFunction{
		Body: types.FunctionBody{Body: code},
		FrameInfo: types.CompiledFunctionFrameInfo{
			AddressMap: types.FunctionAddressMap{
				Instructions: []types.InstructionAddressMap{{SrcLoc: start, CodeLen: length}},
				StartSrcLoc:  start,
				EndSrcLoc:    start + length,
				BodyLen:      length,
			},
		},
	}
}
