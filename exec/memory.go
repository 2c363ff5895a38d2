package exec

import (
	"errors"

	"github.com/pgavlin/wasmu/types"
)

var ErrLimitExceeded = errors.New("memory limit exceeded")

// Memory is a WASM linear memory.
type Memory struct {
	typ   types.MemoryType
	style types.MemoryStyle
	bytes []byte
}

// NewMemory creates a linear memory of the given type, laid out with the given style. Static memories
// whose bound is below the memory's minimum cannot be created.
func NewMemory(typ types.MemoryType, style types.MemoryStyle) (Memory, error) {
	if typ.Minimum > types.MaxPages || (typ.Maximum != nil && *typ.Maximum < typ.Minimum) {
		return Memory{}, ErrMemoryType
	}
	if style.Kind == types.MemoryStatic && style.Bound < typ.Minimum {
		return Memory{}, ErrLimitExceeded
	}
	return Memory{typ: typ, style: style, bytes: make([]byte, typ.Minimum.Bytes())}, nil
}

// Type returns the memory's type. The minimum reflects the current size.
func (m *Memory) Type() types.MemoryType {
	typ := m.typ
	typ.Minimum = m.Size()
	return typ
}

// Style returns the memory's layout.
func (m *Memory) Style() types.MemoryStyle {
	return m.style
}

// Size returns the current size of the memory in pages.
func (m *Memory) Size() types.Pages {
	return types.Pages(len(m.bytes) / types.WasmPageSize)
}

func (m *Memory) maxPages() types.Pages {
	max := types.MaxPages
	if m.typ.Maximum != nil && *m.typ.Maximum < max {
		max = *m.typ.Maximum
	}
	if m.style.Kind == types.MemoryStatic && m.style.Bound < max {
		max = m.style.Bound
	}
	return max
}

// Grow grows the memory by the given number of pages. It returns the old size of the memory in pages and an error if
// growing the memory by the requested amount would exceed the memory's maximum size or its static bound.
func (m *Memory) Grow(pages types.Pages) (types.Pages, error) {
	currentSize := m.Size()
	newSize := uint64(currentSize) + uint64(pages)
	if newSize > uint64(m.maxPages()) {
		return currentSize, ErrLimitExceeded
	}
	newBytes := make([]byte, types.Pages(newSize).Bytes())
	copy(newBytes, m.bytes)
	m.bytes = newBytes
	return currentSize, nil
}

// Bytes returns the memory's bytes.
func (m *Memory) Bytes() []byte {
	return m.bytes
}

// Write copies data into the memory at the given offset. It returns a trap if the write is out of bounds.
func (m *Memory) Write(offset uint64, data []byte) error {
	if offset > uint64(len(m.bytes)) || uint64(len(data)) > uint64(len(m.bytes))-offset {
		return TrapOutOfBoundsMemoryAccess
	}
	copy(m.bytes[offset:], data)
	return nil
}

// Read copies len(buf) bytes at the given offset into buf. It returns a trap if the read is out of bounds.
func (m *Memory) Read(offset uint64, buf []byte) error {
	if offset > uint64(len(m.bytes)) || uint64(len(buf)) > uint64(len(m.bytes))-offset {
		return TrapOutOfBoundsMemoryAccess
	}
	copy(buf, m.bytes[offset:])
	return nil
}
