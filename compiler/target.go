package compiler

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/willf/bitset"
	"golang.org/x/sys/cpu"
)

// Architecture is a target instruction set.
type Architecture uint8

const (
	ArchAmd64 Architecture = iota
	ArchArm64
)

func (a Architecture) String() string {
	switch a {
	case ArchAmd64:
		return "amd64"
	case ArchArm64:
		return "arm64"
	default:
		return fmt.Sprintf("<unknown architecture %d>", uint8(a))
	}
}

// ParseArchitecture parses a GOARCH-style architecture name.
func ParseArchitecture(s string) (Architecture, error) {
	switch strings.ToLower(s) {
	case "amd64", "x86_64":
		return ArchAmd64, nil
	case "arm64", "aarch64":
		return ArchArm64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture %q", s)
	}
}

// CpuFeature is an optional instruction set extension.
type CpuFeature uint

const (
	CpuSSE2 CpuFeature = iota
	CpuSSE3
	CpuSSSE3
	CpuSSE41
	CpuSSE42
	CpuPOPCNT
	CpuAVX
	CpuBMI1
	CpuBMI2
	CpuAVX2
	CpuAVX512DQ
	CpuAVX512VL
	CpuAVX512F
	CpuLZCNT
	CpuNEON
)

var cpuFeatureNames = [...]string{
	CpuSSE2:     "sse2",
	CpuSSE3:     "sse3",
	CpuSSSE3:    "ssse3",
	CpuSSE41:    "sse4.1",
	CpuSSE42:    "sse4.2",
	CpuPOPCNT:   "popcnt",
	CpuAVX:      "avx",
	CpuBMI1:     "bmi1",
	CpuBMI2:     "bmi2",
	CpuAVX2:     "avx2",
	CpuAVX512DQ: "avx512dq",
	CpuAVX512VL: "avx512vl",
	CpuAVX512F:  "avx512f",
	CpuLZCNT:    "lzcnt",
	CpuNEON:     "neon",
}

func (f CpuFeature) String() string {
	if int(f) < len(cpuFeatureNames) {
		return cpuFeatureNames[f]
	}
	return fmt.Sprintf("<unknown cpu feature %d>", uint(f))
}

// ParseCpuFeature parses the name of a CPU feature.
func ParseCpuFeature(s string) (CpuFeature, error) {
	for i, name := range cpuFeatureNames {
		if strings.EqualFold(name, s) {
			return CpuFeature(i), nil
		}
	}
	return 0, fmt.Errorf("unknown CPU feature %q", s)
}

// CpuFeatureSet is a set of CPU features. The zero value is the empty set.
type CpuFeatureSet struct {
	bits *bitset.BitSet
}

// NewCpuFeatureSet returns a set holding the given features.
func NewCpuFeatureSet(features ...CpuFeature) CpuFeatureSet {
	bits := bitset.New(uint(len(cpuFeatureNames)))
	for _, f := range features {
		bits.Set(uint(f))
	}
	return CpuFeatureSet{bits: bits}
}

// CpuFeatureSetFromUint64 decodes a set encoded by Uint64.
func CpuFeatureSetFromUint64(v uint64) CpuFeatureSet {
	return CpuFeatureSet{bits: bitset.From([]uint64{v})}
}

// Has returns true if f is in the set.
func (s CpuFeatureSet) Has(f CpuFeature) bool {
	return s.bits != nil && s.bits.Test(uint(f))
}

// With returns a copy of s that also holds the given features.
func (s CpuFeatureSet) With(features ...CpuFeature) CpuFeatureSet {
	c := CpuFeatureSetFromUint64(s.Uint64())
	for _, f := range features {
		c.bits.Set(uint(f))
	}
	return c
}

// IsSubsetOf returns true if every feature in s is also in other.
func (s CpuFeatureSet) IsSubsetOf(other CpuFeatureSet) bool {
	return s.Uint64()&^other.Uint64() == 0
}

// Features returns the features in the set in ascending order.
func (s CpuFeatureSet) Features() []CpuFeature {
	if s.bits == nil {
		return nil
	}
	var features []CpuFeature
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		features = append(features, CpuFeature(i))
	}
	return features
}

// Uint64 encodes the set as a bit mask.
func (s CpuFeatureSet) Uint64() uint64 {
	if s.bits == nil {
		return 0
	}
	words := s.bits.Bytes()
	if len(words) == 0 {
		return 0
	}
	return words[0]
}

func (s CpuFeatureSet) String() string {
	names := make([]string, 0, len(cpuFeatureNames))
	for _, f := range s.Features() {
		names = append(names, f.String())
	}
	return strings.Join(names, ",")
}

// HostCpuFeatures detects the features of the executing CPU.
func HostCpuFeatures() CpuFeatureSet {
	var features []CpuFeature
	add := func(has bool, f CpuFeature) {
		if has {
			features = append(features, f)
		}
	}
	switch runtime.GOARCH {
	case "amd64":
		add(cpu.X86.HasSSE2, CpuSSE2)
		add(cpu.X86.HasSSE3, CpuSSE3)
		add(cpu.X86.HasSSSE3, CpuSSSE3)
		add(cpu.X86.HasSSE41, CpuSSE41)
		add(cpu.X86.HasSSE42, CpuSSE42)
		add(cpu.X86.HasPOPCNT, CpuPOPCNT)
		add(cpu.X86.HasAVX, CpuAVX)
		add(cpu.X86.HasBMI1, CpuBMI1)
		add(cpu.X86.HasBMI2, CpuBMI2)
		add(cpu.X86.HasAVX2, CpuAVX2)
		add(cpu.X86.HasAVX512DQ, CpuAVX512DQ)
		add(cpu.X86.HasAVX512VL, CpuAVX512VL)
		add(cpu.X86.HasAVX512F, CpuAVX512F)
	case "arm64":
		add(cpu.ARM64.HasASIMD, CpuNEON)
	}
	return NewCpuFeatureSet(features...)
}

// Target describes the machine compiled code runs on.
type Target struct {
	arch     Architecture
	features CpuFeatureSet
}

// NewTarget creates a target.
func NewTarget(arch Architecture, features CpuFeatureSet) *Target {
	return &Target{arch: arch, features: features}
}

// HostTarget returns the target of the executing machine. Architectures other than amd64 and arm64 are
// reported as amd64 with no features.
func HostTarget() *Target {
	arch, err := ParseArchitecture(runtime.GOARCH)
	if err != nil {
		return NewTarget(ArchAmd64, CpuFeatureSet{})
	}
	return NewTarget(arch, HostCpuFeatures())
}

func (t *Target) Arch() Architecture {
	return t.arch
}

func (t *Target) CPUFeatures() CpuFeatureSet {
	return t.features
}

// PointerWidth returns the size of a pointer on the target, in bytes.
func (t *Target) PointerWidth() int {
	return 8
}

func (t *Target) String() string {
	if fs := t.features.String(); fs != "" {
		return t.arch.String() + "+" + fs
	}
	return t.arch.String()
}
