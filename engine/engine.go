// Package engine defines the Engine capability interface and Universal, an engine that compiles modules
// into artifacts, loads serialized artifacts and owns the signature registry shared by everything it
// loads.
package engine

import (
	"strconv"
	"sync/atomic"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// Engine compiles, validates and loads modules for one target.
type Engine interface {
	// Target returns the target the engine compiles for.
	Target() *compiler.Target

	// RegisterSignature interns a function type and returns its engine-wide index. Registering equal
	// types returns equal indices.
	RegisterSignature(sig types.FunctionType) types.SharedSignatureIndex
	// LookupSignature returns the function type registered under an index.
	LookupSignature(idx types.SharedSignatureIndex) (types.FunctionType, bool)

	// Validate checks that binary is a valid module under the engine's features.
	Validate(binary []byte) error
	// Build compiles binary into an owned artifact.
	Build(binary []byte, tunables compiler.Tunables) (*artifact.Build, error)
	// FromBuild loads a compiled module into the engine.
	FromBuild(compiled artifact.Compiled) (*Artifact, error)
	// Deserialize loads a serialized artifact in place. The bytes must have been produced by a
	// compatible engine and must outlive the returned artifact.
	Deserialize(b []byte) (*Artifact, error)

	// ID returns the engine's identity. Clones share it.
	ID() EngineID
	// Clone returns another handle to the same engine.
	Clone() Engine
}

// EngineID is a process-wide unique engine identity. The zero EngineID is never assigned.
type EngineID uint64

var nextEngineID atomic.Uint64

func newEngineID() EngineID {
	return EngineID(nextEngineID.Add(1))
}

func (id EngineID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
