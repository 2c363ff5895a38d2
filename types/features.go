package types

// Features are the WebAssembly proposals enabled for compilation.
type Features struct {
	Threads        bool
	ReferenceTypes bool
	SIMD           bool
	BulkMemory     bool
	MultiValue     bool
	TailCall       bool
	ModuleLinking  bool
	MultiMemory    bool
	Memory64       bool
	Exceptions     bool
}

// NewFeatures returns the default feature set: the finished proposals that are enabled by default.
func NewFeatures() Features {
	return Features{
		ReferenceTypes: true,
		SIMD:           true,
		BulkMemory:     true,
		MultiValue:     true,
	}
}

const (
	featureThreads uint32 = 1 << iota
	featureReferenceTypes
	featureSIMD
	featureBulkMemory
	featureMultiValue
	featureTailCall
	featureModuleLinking
	featureMultiMemory
	featureMemory64
	featureExceptions
)

// Bits encodes f as a bit set.
func (f Features) Bits() uint32 {
	var bits uint32
	set := func(on bool, bit uint32) {
		if on {
			bits |= bit
		}
	}
	set(f.Threads, featureThreads)
	set(f.ReferenceTypes, featureReferenceTypes)
	set(f.SIMD, featureSIMD)
	set(f.BulkMemory, featureBulkMemory)
	set(f.MultiValue, featureMultiValue)
	set(f.TailCall, featureTailCall)
	set(f.ModuleLinking, featureModuleLinking)
	set(f.MultiMemory, featureMultiMemory)
	set(f.Memory64, featureMemory64)
	set(f.Exceptions, featureExceptions)
	return bits
}

// FeaturesFromBits decodes a bit set produced by Features.Bits.
func FeaturesFromBits(bits uint32) Features {
	has := func(bit uint32) bool { return bits&bit != 0 }
	return Features{
		Threads:        has(featureThreads),
		ReferenceTypes: has(featureReferenceTypes),
		SIMD:           has(featureSIMD),
		BulkMemory:     has(featureBulkMemory),
		MultiValue:     has(featureMultiValue),
		TailCall:       has(featureTailCall),
		ModuleLinking:  has(featureModuleLinking),
		MultiMemory:    has(featureMultiMemory),
		Memory64:       has(featureMemory64),
		Exceptions:     has(featureExceptions),
	}
}
