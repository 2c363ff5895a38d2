package compiler

import (
	"context"

	"github.com/pgavlin/wasmu/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// CoreFeatures maps enabled proposals to the validator's feature set. Proposals the validator does not
// know are left disabled, so modules that use them fail validation.
func CoreFeatures(features types.Features) api.CoreFeatures {
	f := api.CoreFeaturesV1 | api.CoreFeatureSignExtensionOps | api.CoreFeatureNonTrappingFloatToIntConversion
	if features.BulkMemory {
		f |= api.CoreFeatureBulkMemoryOperations
	}
	if features.ReferenceTypes {
		f |= api.CoreFeatureReferenceTypes
	}
	if features.MultiValue {
		f |= api.CoreFeatureMultiValue
	}
	if features.SIMD {
		f |= api.CoreFeatureSIMD
	}
	if features.Threads {
		f |= experimental.CoreFeaturesThreads
	}
	return f
}

// Validate checks that binary is a valid module under the given features. Failures are reported as
// validation errors.
func Validate(binary []byte, features types.Features) error {
	ctx := context.Background()

	config := wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(CoreFeatures(features))
	rt := wazero.NewRuntimeWithConfig(ctx, config)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		return types.NewCompileError(types.CompileErrorValidation, err)
	}
	return compiled.Close(ctx)
}
