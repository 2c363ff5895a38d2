package types

import "fmt"

// RelocationKind is the kind of a relocation.
type RelocationKind uint8

const (
	// RelocAbs4 is an absolute 4-byte address.
	RelocAbs4 RelocationKind = iota
	// RelocAbs8 is an absolute 8-byte address.
	RelocAbs8
	RelocX86PCRel4
	RelocX86PCRel8
	RelocX86CallPCRel4
	RelocX86CallPLTRel4
	RelocX86GOTPCRel4
	RelocArm64Call
	// RelocArm64Movw0 through RelocArm64Movw3 patch the 16-bit immediate of a movz/movk instruction with
	// bits [16*n, 16*n+16) of the target address.
	RelocArm64Movw0
	RelocArm64Movw1
	RelocArm64Movw2
	RelocArm64Movw3
)

var relocationKindNames = [...]string{
	RelocAbs4:           "Abs4",
	RelocAbs8:           "Abs8",
	RelocX86PCRel4:      "X86PCRel4",
	RelocX86PCRel8:      "X86PCRel8",
	RelocX86CallPCRel4:  "X86CallPCRel4",
	RelocX86CallPLTRel4: "X86CallPLTRel4",
	RelocX86GOTPCRel4:   "X86GOTPCRel4",
	RelocArm64Call:      "Arm64Call",
	RelocArm64Movw0:     "Arm64MovwG0",
	RelocArm64Movw1:     "Arm64MovwG1",
	RelocArm64Movw2:     "Arm64MovwG2",
	RelocArm64Movw3:     "Arm64MovwG3",
}

func (k RelocationKind) String() string {
	if int(k) < len(relocationKindNames) {
		return relocationKindNames[k]
	}
	return fmt.Sprintf("<unknown relocation kind %d>", uint8(k))
}

// RelocationTargetKind identifies what a relocation refers to.
type RelocationTargetKind uint8

const (
	RelocTargetLocalFunc RelocationTargetKind = iota
	RelocTargetLibCall
	RelocTargetCustomSection
)

// RelocationTarget is the referent of a relocation. Index is a LocalFunctionIndex, a LibCall or a
// SectionIndex depending on Kind.
type RelocationTarget struct {
	Kind  RelocationTargetKind
	Index uint32
}

func (t RelocationTarget) String() string {
	switch t.Kind {
	case RelocTargetLocalFunc:
		return fmt.Sprintf("func[%d]", t.Index)
	case RelocTargetLibCall:
		return LibCall(t.Index).String()
	case RelocTargetCustomSection:
		return fmt.Sprintf("section[%d]", t.Index)
	default:
		return fmt.Sprintf("<unknown target kind %d>", uint8(t.Kind))
	}
}

// Relocation records a location in compiled code that must be patched with the address of its target.
type Relocation struct {
	Kind   RelocationKind
	Target RelocationTarget
	// Offset is the position of the patched bytes within the containing body or section.
	Offset uint32
	Addend int64
}

func (r Relocation) String() string {
	return fmt.Sprintf("%v@%#x -> %v%+d", r.Kind, r.Offset, r.Target, r.Addend)
}
