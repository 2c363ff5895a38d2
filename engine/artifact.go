package engine

import (
	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/types"
)

// Artifact is a compiled module loaded into an engine.
type Artifact struct {
	engine     EngineID
	compiled   artifact.Compiled
	module     *types.ModuleInfo
	signatures []types.SharedSignatureIndex
}

// EngineID returns the identity of the engine the artifact was loaded into.
func (a *Artifact) EngineID() EngineID {
	return a.engine
}

// Compiled returns the compiled module behind the artifact.
func (a *Artifact) Compiled() artifact.Compiled {
	return a.compiled
}

// ModuleInfo returns the module's metadata. It is shared and must not be modified.
func (a *Artifact) ModuleInfo() *types.ModuleInfo {
	return a.module
}

// Signatures returns the engine-wide index of every module signature, indexed by SignatureIndex.
func (a *Artifact) Signatures() []types.SharedSignatureIndex {
	return a.signatures
}

// FunctionSignature returns the engine-wide signature index of a function.
func (a *Artifact) FunctionSignature(f types.FunctionIndex) (types.SharedSignatureIndex, bool) {
	if int(f) >= len(a.module.Functions) {
		return 0, false
	}
	sig := a.module.Functions[f]
	if int(sig) >= len(a.signatures) {
		return 0, false
	}
	return a.signatures[sig], true
}
