// Package load reads WebAssembly modules and serialized artifacts from files and loads them into a store.
package load

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/exec"
	"github.com/pgavlin/wasmu/wasm"
)

var ErrUnknownFormat = errors.New("neither a WebAssembly module nor a serialized artifact")

// Format is the format of a file's contents.
type Format int

const (
	FormatUnknown Format = iota
	// FormatWasm is a WebAssembly binary module.
	FormatWasm
	// FormatArtifact is a serialized artifact.
	FormatArtifact
)

func (f Format) String() string {
	switch f {
	case FormatWasm:
		return "wasm"
	case FormatArtifact:
		return "artifact"
	default:
		return "unknown"
	}
}

// Detect returns the format of b by looking at its magic number.
func Detect(b []byte) Format {
	switch {
	case len(b) >= 4 && binary.LittleEndian.Uint32(b) == wasm.Magic:
		return FormatWasm
	case artifact.IsDeserializable(b):
		return FormatArtifact
	default:
		return FormatUnknown
	}
}

// ReadAll reads r into a buffer that is aligned for artifact.NewBuildRef.
func ReadAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	data := artifact.AlignedBuffer(buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}

// ReadFile reads the named file into a buffer that is aligned for artifact.NewBuildRef.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadAll(f)
}

// Artifact compiles or deserializes b, depending on its format, and loads the result into the store's
// engine. Serialized artifacts are loaded in place, so b must outlive the result.
func Artifact(store *exec.Store, b []byte) (*engine.Artifact, error) {
	switch Detect(b) {
	case FormatWasm:
		return store.Compile(b)
	case FormatArtifact:
		return store.Engine().Deserialize(b)
	default:
		return nil, ErrUnknownFormat
	}
}

// File loads the named module or artifact into the store's engine. Artifacts are memory-mapped where the
// platform supports it; the returned closer releases the mapping and must not be called while the
// artifact is in use.
func File(store *exec.Store, path string) (*engine.Artifact, io.Closer, error) {
	m, err := MapFile(path)
	if err != nil {
		return nil, nil, err
	}
	a, err := Artifact(store, m.Bytes())
	if err != nil {
		m.Close()
		return nil, nil, fmt.Errorf("%v: %w", path, err)
	}
	return a, m, nil
}
