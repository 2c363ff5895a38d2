// Package compiler defines the interfaces between the artifact pipeline and code generators, and provides
// the default translation and validation front end.
package compiler

import (
	"fmt"

	"github.com/pgavlin/wasmu/types"
)

// FunctionBodyData is the encoded body of one local function.
type FunctionBodyData struct {
	// Data is the complete body, including local declarations.
	Data []byte
	// ModuleOffset is the position of Data within the module binary.
	ModuleOffset int64
}

// Compiler generates code for a translated module.
type Compiler interface {
	// CompileModule compiles every local function of a module. A returned *types.CompileError is reported
	// to callers unchanged; any other error is reported as a codegen error.
	CompileModule(target *Target, info *types.CompileModuleInfo, bodies []FunctionBodyData) (*types.Compilation, error)

	// Middlewares returns the middlewares to apply to a module before it is compiled.
	Middlewares() []ModuleMiddleware
}

// ModuleMiddleware transforms module metadata before compilation.
type ModuleMiddleware interface {
	TransformModuleInfo(info *types.ModuleInfo) error
}

// ModuleMiddlewareFunc adapts a function to the ModuleMiddleware interface.
type ModuleMiddlewareFunc func(info *types.ModuleInfo) error

func (f ModuleMiddlewareFunc) TransformModuleInfo(info *types.ModuleInfo) error {
	return f(info)
}

// ApplyMiddlewares applies middlewares to info in order. The first failure stops the chain and is reported
// as a middleware error.
func ApplyMiddlewares(middlewares []ModuleMiddleware, info *types.ModuleInfo) error {
	for i, m := range middlewares {
		if err := m.TransformModuleInfo(info); err != nil {
			return &types.CompileError{
				Kind: types.CompileErrorMiddleware,
				Msg:  fmt.Sprintf("middleware %d: %v", i, err),
				Err:  err,
			}
		}
	}
	return nil
}
