package types

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every CompileError, SerializeError and DeserializeError matches the sentinel of its kind
// under errors.Is.
var (
	ErrWasm               = errors.New("wasm error")
	ErrValidation         = errors.New("validation error")
	ErrMiddleware         = errors.New("middleware error")
	ErrCodegen            = errors.New("codegen error")
	ErrUnsupportedTarget  = errors.New("unsupported target")
	ErrUnsupportedFeature = errors.New("unsupported feature")

	ErrIO           = errors.New("I/O error")
	ErrGeneric      = errors.New("error")
	ErrCorrupted    = errors.New("corrupted binary")
	ErrIncompatible = errors.New("incompatible binary")
	ErrStructural   = errors.New("structural error")
	ErrCompile      = errors.New("compile error")
)

// CompileErrorKind is the origin of a compilation failure.
type CompileErrorKind uint8

const (
	CompileErrorWasm CompileErrorKind = iota
	CompileErrorValidation
	CompileErrorMiddleware
	CompileErrorCodegen
	CompileErrorUnsupportedTarget
	CompileErrorUnsupportedFeature
)

var compileKindErrors = [...]error{
	CompileErrorWasm:               ErrWasm,
	CompileErrorValidation:         ErrValidation,
	CompileErrorMiddleware:         ErrMiddleware,
	CompileErrorCodegen:            ErrCodegen,
	CompileErrorUnsupportedTarget:  ErrUnsupportedTarget,
	CompileErrorUnsupportedFeature: ErrUnsupportedFeature,
}

func (k CompileErrorKind) sentinel() error {
	if int(k) < len(compileKindErrors) {
		return compileKindErrors[k]
	}
	return ErrGeneric
}

func (k CompileErrorKind) String() string {
	return k.sentinel().Error()
}

// CompileError is returned when a module cannot be translated, validated or compiled.
type CompileError struct {
	Kind CompileErrorKind
	Msg  string
	Err  error
}

// NewCompileError creates a CompileError of the given kind.
func NewCompileError(kind CompileErrorKind, err error) *CompileError {
	return &CompileError{Kind: kind, Msg: err.Error(), Err: err}
}

// CompileErrorf creates a CompileError of the given kind with a formatted message.
func CompileErrorf(kind CompileErrorKind, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *CompileError) Error() string {
	return kindMessage(e.Kind.sentinel(), e.Msg)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

func (e *CompileError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// SerializeErrorKind is the origin of a serialization failure.
type SerializeErrorKind uint8

const (
	SerializeErrorIO SerializeErrorKind = iota
	SerializeErrorGeneric
)

func (k SerializeErrorKind) sentinel() error {
	if k == SerializeErrorIO {
		return ErrIO
	}
	return ErrGeneric
}

// SerializeError is returned when an artifact cannot be serialized.
type SerializeError struct {
	Kind SerializeErrorKind
	Msg  string
	Err  error
}

func (e *SerializeError) Error() string {
	return kindMessage(e.Kind.sentinel(), e.Msg)
}

func (e *SerializeError) Unwrap() error {
	return e.Err
}

func (e *SerializeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// DeserializeErrorKind is the origin of a deserialization failure.
type DeserializeErrorKind uint8

const (
	DeserializeErrorIO DeserializeErrorKind = iota
	DeserializeErrorGeneric
	// DeserializeErrorCorrupted reports malformed framing, alignment or truncation.
	DeserializeErrorCorrupted
	// DeserializeErrorIncompatible reports a foreign magic or an unsupported version.
	DeserializeErrorIncompatible
	// DeserializeErrorStructural reports an archive that is framed correctly but internally inconsistent.
	DeserializeErrorStructural
	// DeserializeErrorCompile wraps a CompileError raised while loading an artifact.
	DeserializeErrorCompile
)

var deserializeKindErrors = [...]error{
	DeserializeErrorIO:           ErrIO,
	DeserializeErrorGeneric:      ErrGeneric,
	DeserializeErrorCorrupted:    ErrCorrupted,
	DeserializeErrorIncompatible: ErrIncompatible,
	DeserializeErrorStructural:   ErrStructural,
	DeserializeErrorCompile:      ErrCompile,
}

func (k DeserializeErrorKind) sentinel() error {
	if int(k) < len(deserializeKindErrors) {
		return deserializeKindErrors[k]
	}
	return ErrGeneric
}

// DeserializeError is returned when an artifact cannot be deserialized.
type DeserializeError struct {
	Kind DeserializeErrorKind
	Msg  string
	Err  error
}

// DeserializeErrorf creates a DeserializeError of the given kind with a formatted message.
func DeserializeErrorf(kind DeserializeErrorKind, format string, args ...interface{}) *DeserializeError {
	return &DeserializeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *DeserializeError) Error() string {
	return kindMessage(e.Kind.sentinel(), e.Msg)
}

func (e *DeserializeError) Unwrap() error {
	return e.Err
}

func (e *DeserializeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func kindMessage(kind error, msg string) string {
	if msg == "" {
		return kind.Error()
	}
	return kind.Error() + ": " + msg
}
