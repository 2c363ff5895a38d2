package artifact

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/pgavlin/wasmu/types"
)

const (
	// HeaderLen is the length of the metadata header that precedes every serialized artifact.
	HeaderLen = 16
	// HeaderAlign is the alignment the header, and so the whole artifact, must have in memory.
	HeaderAlign = 16
	// HeaderVersion is the current artifact format version.
	HeaderVersion uint32 = 1
)

// HeaderMagic identifies a serialized artifact.
var HeaderMagic = [8]byte{'W', 'A', 'S', 'M', 'U', 0, 0, 0}

// EncodeHeader returns the header of an artifact whose payload is n bytes long.
func EncodeHeader(n int) ([HeaderLen]byte, error) {
	var h [HeaderLen]byte
	if n < 0 || uint64(n) > math.MaxUint32 {
		return h, &types.SerializeError{Kind: types.SerializeErrorGeneric, Msg: "artifact payload is too large"}
	}
	copy(h[:8], HeaderMagic[:])
	binary.LittleEndian.PutUint32(h[8:12], HeaderVersion)
	binary.LittleEndian.PutUint32(h[12:16], uint32(n))
	return h, nil
}

// ParseHeader parses the header at the start of b and returns the length of the payload that follows it.
// The payload length is not checked against len(b).
func ParseHeader(b []byte) (int, error) {
	if len(b) != 0 && uintptr(unsafe.Pointer(&b[0]))%HeaderAlign != 0 {
		return 0, types.DeserializeErrorf(types.DeserializeErrorCorrupted, "misaligned metadata")
	}
	if len(b) < HeaderLen {
		return 0, types.DeserializeErrorf(types.DeserializeErrorCorrupted, "invalid metadata length")
	}
	if [8]byte(b[:8]) != HeaderMagic {
		return 0, types.DeserializeErrorf(types.DeserializeErrorIncompatible, "the provided bytes are not wasmu-universal")
	}
	if v := binary.LittleEndian.Uint32(b[8:12]); v != HeaderVersion {
		return 0, types.DeserializeErrorf(types.DeserializeErrorIncompatible, "the provided bytes were produced by an incompatible version (%d, expected %d)", v, HeaderVersion)
	}
	return int(binary.LittleEndian.Uint32(b[12:16])), nil
}

// hasMagic reports whether b starts with the header magic.
func hasMagic(b []byte) bool {
	return len(b) >= len(HeaderMagic) && [8]byte(b[:8]) == HeaderMagic
}

// AlignedBuffer returns a zeroed buffer of length n whose first byte is aligned to HeaderAlign.
func AlignedBuffer(n int) []byte {
	buf := make([]byte, n+HeaderAlign-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&buf[0])) % HeaderAlign); rem != 0 {
		off = HeaderAlign - rem
	}
	return buf[off : off+n : off+n]
}

// frame prepends the header to payload in a freshly allocated aligned buffer.
func frame(payload []byte) ([]byte, error) {
	h, err := EncodeHeader(len(payload))
	if err != nil {
		return nil, err
	}
	buf := AlignedBuffer(HeaderLen + len(payload))
	copy(buf, h[:])
	copy(buf[HeaderLen:], payload)
	return buf, nil
}
