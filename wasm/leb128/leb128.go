// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leb128 provides functions for reading and writing integers encoded in the Little Endian Base 128 format:
// https://en.wikipedia.org/wiki/LEB128
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded integer does not fit in its destination type.
var ErrOverflow = errors.New("leb128: integer representation too long")

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readUnsigned(r io.Reader, bits uint) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := readByte(r)
		if err != nil {
			if err == io.EOF && shift != 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if shift >= bits || (shift+7 > bits && uint64(b&0x7f)>>(bits-shift) != 0) {
			return 0, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

func readSigned(r io.Reader, bits uint) (int64, error) {
	var result int64
	var shift uint
	var b byte
	for {
		var err error
		b, err = readByte(r)
		if err != nil {
			if err == io.EOF && shift != 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if shift >= bits {
			return 0, ErrOverflow
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	if bits < 64 {
		min, max := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if result < min || result > max {
			return 0, ErrOverflow
		}
	}
	return result, nil
}

// Varint7 decodes a single-byte signed 7-bit integer. The continuation bit of b must be clear.
func Varint7(b byte) int8 {
	return int8(b<<1) >> 1
}

// ReadVarUint32 reads a LEB128 encoded unsigned 32-bit integer from r.
func ReadVarUint32(r io.Reader) (uint32, error) {
	v, err := readUnsigned(r, 32)
	return uint32(v), err
}

// ReadVarUint64 reads a LEB128 encoded unsigned 64-bit integer from r.
func ReadVarUint64(r io.Reader) (uint64, error) {
	return readUnsigned(r, 64)
}

// ReadVarint32 reads a LEB128 encoded signed 32-bit integer from r.
func ReadVarint32(r io.Reader) (int32, error) {
	v, err := readSigned(r, 32)
	return int32(v), err
}

// ReadVarint64 reads a LEB128 encoded signed 64-bit integer from r.
func ReadVarint64(r io.Reader) (int64, error) {
	return readSigned(r, 64)
}

type sliceReader struct {
	b []byte
	n int
}

func (s *sliceReader) ReadByte() (byte, error) {
	if s.n >= len(s.b) {
		return 0, io.EOF
	}
	c := s.b[s.n]
	s.n++
	return c, nil
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.n >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.n:])
	s.n += n
	return n, nil
}

// GetVarUint32 decodes a LEB128 encoded unsigned 32-bit integer from the start of b. It returns the value and the
// number of bytes consumed.
func GetVarUint32(b []byte) (uint32, int, error) {
	r := sliceReader{b: b}
	v, err := ReadVarUint32(&r)
	return v, r.n, err
}

// GetVarint32 decodes a LEB128 encoded signed 32-bit integer from the start of b. It returns the value and the
// number of bytes consumed.
func GetVarint32(b []byte) (int32, int, error) {
	r := sliceReader{b: b}
	v, err := ReadVarint32(&r)
	return v, r.n, err
}

// GetVarint64 decodes a LEB128 encoded signed 64-bit integer from the start of b. It returns the value and the
// number of bytes consumed.
func GetVarint64(b []byte) (int64, int, error) {
	r := sliceReader{b: b}
	v, err := ReadVarint64(&r)
	return v, r.n, err
}

// WriteVarUint32 writes a LEB128 encoded unsigned 32-bit integer to w. It returns the number of bytes written.
func WriteVarUint32(w io.Writer, v uint32) (int, error) {
	var buf [5]byte
	return w.Write(AppendVarUint32(buf[:0], v))
}

// WriteVarint64 writes a LEB128 encoded signed 64-bit integer to w. It returns the number of bytes written.
func WriteVarint64(w io.Writer, v int64) (int, error) {
	var buf [10]byte
	return w.Write(AppendVarint64(buf[:0], v))
}

// AppendVarUint32 appends the LEB128 encoding of v to b.
func AppendVarUint32(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// AppendVarint64 appends the LEB128 encoding of v to b.
func AppendVarint64(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
