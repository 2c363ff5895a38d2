// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// maxInitialCap bounds speculative preallocation driven by untrusted counts.
const maxInitialCap = 10 * 1024

func getInitialCap(count uint32) uint32 {
	if count > maxInitialCap {
		return maxInitialCap
	}
	return count
}

// readPos tracks the current offset into the underlying reader.
type readPos struct {
	r      io.Reader
	curPos int64
}

func (r *readPos) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.curPos += int64(n)
	return n, err
}

func (r *readPos) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return b, err
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return b[0], nil
}

func readBytes(r io.Reader, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	// Grow incrementally so that a bogus length cannot force a huge allocation.
	buf := make([]byte, 0, getInitialCap(n))
	var chunk [4096]byte
	for remaining := int(n); remaining > 0; {
		c := chunk[:]
		if remaining < len(c) {
			c = c[:remaining]
		}
		if _, err := io.ReadFull(r, c); err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf = append(buf, c...)
		remaining -= len(c)
	}
	return buf, nil
}

func readBytesUint(r io.Reader) ([]byte, error) {
	n, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	return readBytes(r, n)
}

var ErrInvalidUTF8 = errors.New("wasm: invalid UTF-8 encoding")

func readUTF8StringUint(r io.Reader) (string, error) {
	b, err := readBytesUint(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
