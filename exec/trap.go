package exec

import (
	"runtime"
	"strings"

	"github.com/pgavlin/wasmu/types"
)

// A Trap represents a WASM trap.
type Trap types.TrapCode

func (t Trap) Error() string {
	return types.TrapCode(t).Message()
}

// Code returns the trap's code.
func (t Trap) Code() types.TrapCode {
	return types.TrapCode(t)
}

// TrapUndefinedElement indicates an attempt to access a table with an index that is out of bounds.
const TrapUndefinedElement = Trap(types.TrapTableAccessOutOfBounds)

// TrapUninitializedElement indicates an attempt to use an uninitialized table element.
const TrapUninitializedElement = Trap(types.TrapIndirectCallToNull)

// TrapIndirectCallTypeMismatch indicates a mismatch between the exepected and actual signature of a function.
const TrapIndirectCallTypeMismatch = Trap(types.TrapBadSignature)

// TrapOutOfBoundsMemoryAccess indicates an out-of-bounds memory access.
const TrapOutOfBoundsMemoryAccess = Trap(types.TrapHeapAccessOutOfBounds)

// TrapIntegerDivideByZero indicates an attempt to divide by zero.
const TrapIntegerDivideByZero = Trap(types.TrapIntegerDivisionByZero)

// TrapUnreachable indicates execution of unreachable code.
const TrapUnreachable = Trap(types.TrapUnreachableCodeReached)

// translateRuntimeError maps the Go runtime errors raised by out of bounds accesses and integer
// division to the corresponding traps.
func translateRuntimeError(err runtime.Error) (Trap, bool) {
	switch {
	case err == nil:
		return 0, false
	case strings.HasPrefix(err.Error(), "runtime error: index out of range"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: slice bounds out of range"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: invalid memory address or nil pointer dereference"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: integer divide by zero"):
		return TrapIntegerDivideByZero, true
	default:
		return 0, false
	}
}

// recoverTrap stores the trap raised by a recovered panic in *err. Go runtime errors are translated
// with translateRuntimeError; other panics are re-raised. Call it like so:
//
//	defer func() { recoverTrap(recover(), &err) }()
func recoverTrap(x interface{}, err *error) {
	if x == nil {
		return
	}
	if rerr, ok := x.(runtime.Error); ok {
		if trap, ok := translateRuntimeError(rerr); ok {
			*err = trap
			return
		}
	}
	if trap, ok := x.(Trap); ok {
		*err = trap
		return
	}
	panic(x)
}
