package types

import "fmt"

// MemoryStyleKind is the implementation strategy of a linear memory.
type MemoryStyleKind uint8

const (
	// MemoryDynamic memories may move when they grow and are explicitly bounds checked.
	MemoryDynamic MemoryStyleKind = iota
	// MemoryStatic memories reserve their full address range up front and never move.
	MemoryStatic
)

// MemoryStyle is the layout of one linear memory, fixed at build time.
type MemoryStyle struct {
	Kind MemoryStyleKind
	// Bound is the number of pages reserved for a static memory.
	Bound Pages
	// OffsetGuardSize is the size in bytes of the guard region that follows the memory.
	OffsetGuardSize uint64
}

func (s MemoryStyle) String() string {
	switch s.Kind {
	case MemoryDynamic:
		return fmt.Sprintf("dynamic(guard=%#x)", s.OffsetGuardSize)
	case MemoryStatic:
		return fmt.Sprintf("static(bound=%d, guard=%#x)", s.Bound, s.OffsetGuardSize)
	default:
		return fmt.Sprintf("<unknown memory style %d>", uint8(s.Kind))
	}
}

// TableStyle is the implementation strategy of a table.
type TableStyle uint8

const (
	// TableCallerChecksSignature tables are checked for signature mismatches by the caller of an indirect call.
	TableCallerChecksSignature TableStyle = iota
)

func (s TableStyle) String() string {
	switch s {
	case TableCallerChecksSignature:
		return "caller-checks-signature"
	default:
		return fmt.Sprintf("<unknown table style %d>", uint8(s))
	}
}
