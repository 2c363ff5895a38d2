package load

// Mapping is a read-only view of a file's contents.
type Mapping struct {
	data  []byte
	unmap func([]byte) error
}

// Bytes returns the file's contents. The slice must not be modified, and must not be used after Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Mapped returns true if the contents are memory-mapped rather than read into memory.
func (m *Mapping) Mapped() bool {
	return m.unmap != nil
}

// Close releases the mapping.
func (m *Mapping) Close() error {
	data, unmap := m.data, m.unmap
	m.data, m.unmap = nil, nil
	if unmap == nil || len(data) == 0 {
		return nil
	}
	return unmap(data)
}

func readMapping(path string) (*Mapping, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data}, nil
}
