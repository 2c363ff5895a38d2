package engine

import (
	"sync"

	"github.com/pgavlin/wasmu/types"
)

// signatureRegistry interns function types. Indices are dense and never reused.
type signatureRegistry struct {
	mu      sync.RWMutex
	indices map[string]types.SharedSignatureIndex
	sigs    []types.FunctionType
}

func newSignatureRegistry() *signatureRegistry {
	return &signatureRegistry{indices: map[string]types.SharedSignatureIndex{}}
}

// signatureKey encodes a function type. 0xff cannot be a value type, so it separates params from
// results unambiguously.
func signatureKey(sig types.FunctionType) string {
	key := make([]byte, 0, len(sig.Params)+len(sig.Results)+1)
	for _, p := range sig.Params {
		key = append(key, byte(p))
	}
	key = append(key, 0xff)
	for _, r := range sig.Results {
		key = append(key, byte(r))
	}
	return string(key)
}

func (r *signatureRegistry) register(sig types.FunctionType) types.SharedSignatureIndex {
	key := signatureKey(sig)

	r.mu.RLock()
	idx, ok := r.indices[key]
	r.mu.RUnlock()
	if ok {
		return idx
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indices[key]; ok {
		return idx
	}
	idx = types.SharedSignatureIndex(len(r.sigs))
	r.sigs = append(r.sigs, sig.Clone())
	r.indices[key] = idx
	return idx
}

func (r *signatureRegistry) lookup(idx types.SharedSignatureIndex) (types.FunctionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.sigs) {
		return types.FunctionType{}, false
	}
	return r.sigs[idx].Clone(), true
}
