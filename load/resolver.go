package load

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/exec"
)

var ErrModuleNotFound = errors.New("module not found")

var ErrImportCycle = errors.New("import cycle")

// FSResolver resolves imports by instantiating modules read from a file system. A module named m is read
// from m.wasmu, m.wasm or m, in that order, and is instantiated at most once per resolver. Modules in the
// host resolver take precedence over the file system.
type FSResolver[T any] struct {
	fs   fs.FS
	ctx  *exec.Context[T]
	host exec.MapResolver

	instances map[string]exec.Handle[exec.Instance]
	loading   map[string]bool
}

// NewFSResolver creates a resolver that instantiates modules into ctx.
func NewFSResolver[T any](fsys fs.FS, ctx *exec.Context[T], host exec.MapResolver) *FSResolver[T] {
	return &FSResolver[T]{
		fs:        fsys,
		ctx:       ctx,
		host:      host,
		instances: map[string]exec.Handle[exec.Instance]{},
		loading:   map[string]bool{},
	}
}

func (r *FSResolver[T]) loadModule(name string) ([]byte, error) {
	extensions := []string{"." + artifact.DefaultExtension, ".wasm", ""}
	for _, ext := range extensions {
		if f, err := r.fs.Open(name + ext); err == nil {
			defer f.Close()
			return ReadAll(f)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

// Instantiate instantiates the named module, along with the modules it imports.
func (r *FSResolver[T]) Instantiate(name string) (exec.Handle[exec.Instance], error) {
	if h, ok := r.instances[name]; ok {
		return h, nil
	}
	if r.loading[name] {
		return exec.Handle[exec.Instance]{}, fmt.Errorf("%w: %s", ErrImportCycle, name)
	}

	data, err := r.loadModule(name)
	if err != nil {
		return exec.Handle[exec.Instance]{}, err
	}
	a, err := Artifact(r.ctx.Store(), data)
	if err != nil {
		return exec.Handle[exec.Instance]{}, fmt.Errorf("%v: %w", name, err)
	}

	r.loading[name] = true
	defer delete(r.loading, name)

	h, err := exec.Instantiate(r.ctx, a, r)
	if err != nil {
		return exec.Handle[exec.Instance]{}, fmt.Errorf("instantiating %v: %w", name, err)
	}
	r.instances[name] = h
	return h, nil
}

// Resolve resolves an import from the host resolver or from the exports of the named module.
func (r *FSResolver[T]) Resolve(moduleName, fieldName string) (exec.Extern, error) {
	if _, ok := r.host[moduleName]; ok {
		return r.host.Resolve(moduleName, fieldName)
	}

	h, err := r.Instantiate(moduleName)
	if err != nil {
		return exec.Extern{}, err
	}
	e, ok := h.Get(r.ctx.Objects()).Export(fieldName)
	if !ok {
		return exec.Extern{}, &exec.ExportNotFoundError{ModuleName: moduleName, FieldName: fieldName}
	}
	return e, nil
}
