package types

import "fmt"

// TrapCode identifies the reason compiled code traps at a recorded trap site.
type TrapCode uint8

const (
	TrapStackOverflow TrapCode = iota
	TrapHeapAccessOutOfBounds
	TrapHeapMisaligned
	TrapTableAccessOutOfBounds
	TrapIndirectCallToNull
	TrapBadSignature
	TrapIntegerOverflow
	TrapIntegerDivisionByZero
	TrapBadConversionToInteger
	TrapUnreachableCodeReached
	TrapUnalignedAtomic
)

var trapMessages = [...]string{
	TrapStackOverflow:          "call stack exhausted",
	TrapHeapAccessOutOfBounds:  "out of bounds memory access",
	TrapHeapMisaligned:         "misaligned heap",
	TrapTableAccessOutOfBounds: "undefined element: out of bounds table access",
	TrapIndirectCallToNull:     "uninitialized element",
	TrapBadSignature:           "indirect call type mismatch",
	TrapIntegerOverflow:        "integer overflow",
	TrapIntegerDivisionByZero:  "integer divide by zero",
	TrapBadConversionToInteger: "invalid conversion to integer",
	TrapUnreachableCodeReached: "unreachable",
	TrapUnalignedAtomic:        "unaligned atomic access",
}

// Message returns the human-readable description of the trap.
func (c TrapCode) Message() string {
	if int(c) < len(trapMessages) {
		return trapMessages[c]
	}
	return fmt.Sprintf("<unknown trap code %d>", uint8(c))
}

func (c TrapCode) String() string {
	return c.Message()
}
