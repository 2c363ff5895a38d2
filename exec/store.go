package exec

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/types"
)

// ErrEngineMismatch is returned by Instantiate if an artifact was loaded by an engine other than the
// store's.
var ErrEngineMismatch = errors.New("artifact was loaded by a different engine")

var ErrTableType = errors.New("table type mismatch")
var ErrMemoryType = errors.New("memory type mismatch")
var ErrGlobalType = errors.New("global type mismatch")

// InvalidImportError is returned when the function resolved for an import doesn't match the signature
// of its import declaration.
type InvalidImportError struct {
	ModuleName string
	FieldName  string
	Expected   types.FunctionType
	Actual     types.FunctionType
}

func (e *InvalidImportError) Error() string {
	return fmt.Sprintf("wasm: invalid signature for import '%s' in module %s: expected %v, got %v", e.FieldName, e.ModuleName, e.Expected, e.Actual)
}

// An ExportNotFoundError is returned by a Resolver if an import could not be resolved.
type ExportNotFoundError struct {
	ModuleName string
	FieldName  string
}

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("wasm: couldn't find export with name %s in module %s", e.FieldName, e.ModuleName)
}

// KindMismatchError is returned by Instantiate if an import resolves to an object of another kind.
type KindMismatchError struct {
	ModuleName string
	FieldName  string
	Import     types.ExternKind
	Export     types.ExternKind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("wasm: mismatching import and export external kind values for %s.%s (%v, %v)", e.ModuleName, e.FieldName, e.Import, e.Export)
}

// ImportTypeError reports an import whose resolved table, memory or global has the wrong type. Err is
// one of ErrTableType, ErrMemoryType or ErrGlobalType.
type ImportTypeError struct {
	ModuleName string
	FieldName  string
	Err        error
}

func (e *ImportTypeError) Error() string {
	return fmt.Sprintf("wasm: import %s.%s: %v", e.ModuleName, e.FieldName, e.Err)
}

func (e *ImportTypeError) Unwrap() error {
	return e.Err
}

// A Resolver resolves imports to objects.
type Resolver interface {
	// Resolve returns the object imported as moduleName.fieldName. If there is no such object, it returns
	// an *ExportNotFoundError.
	Resolve(moduleName, fieldName string) (Extern, error)
}

// A Namespace maps field names to objects.
type Namespace map[string]Extern

// A MapResolver is a Resolver that maps module names to namespaces using the contents of a map.
type MapResolver map[string]Namespace

// Resolve resolves the given import using the contents of the map.
func (r MapResolver) Resolve(moduleName, fieldName string) (Extern, error) {
	e, ok := r[moduleName][fieldName]
	if !ok {
		return Extern{}, &ExportNotFoundError{ModuleName: moduleName, FieldName: fieldName}
	}
	return e, nil
}

// A Store holds what contexts share: an engine and the tunables modules are compiled with.
type Store struct {
	engine   engine.Engine
	tunables compiler.Tunables
	log      *zap.Logger
}

// NewStore creates a store. Nil tunables default to the base tunables of the engine's target.
func NewStore(e engine.Engine, tunables compiler.Tunables) *Store {
	if tunables == nil {
		tunables = compiler.NewBaseTunables(e.Target())
	}
	return &Store{
		engine:   e,
		tunables: tunables,
		log:      engine.Logger().With(zap.Stringer("engine", e.ID())),
	}
}

// Engine returns the store's engine.
func (s *Store) Engine() engine.Engine {
	return s.engine
}

// Tunables returns the store's tunables.
func (s *Store) Tunables() compiler.Tunables {
	return s.tunables
}

// Compile builds binary with the store's tunables and loads it into the store's engine.
func (s *Store) Compile(binary []byte) (*engine.Artifact, error) {
	build, err := s.engine.Build(binary, s.tunables)
	if err != nil {
		return nil, err
	}
	return s.engine.FromBuild(build)
}

func limitsMatch(min uint64, max *uint64, expectedMin uint64, expectedMax *uint64) bool {
	if min < expectedMin {
		return false
	}
	if expectedMax == nil {
		return true
	}
	return max != nil && *max <= *expectedMax
}

func tableMatches(actual, expected types.TableType) bool {
	return actual.Type == expected.Type &&
		limitsMatch(uint64(actual.Minimum), widen(actual.Maximum), uint64(expected.Minimum), widen(expected.Maximum))
}

func memoryMatches(actual, expected types.MemoryType) bool {
	return actual.Shared == expected.Shared &&
		limitsMatch(uint64(actual.Minimum), widen(actual.Maximum), uint64(expected.Minimum), widen(expected.Maximum))
}

func widen[T ~uint32](p *T) *uint64 {
	if p == nil {
		return nil
	}
	v := uint64(*p)
	return &v
}
