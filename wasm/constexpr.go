// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pgavlin/wasmu/wasm/leb128"
)

// Opcodes permitted in constant expressions.
const (
	OpEnd       byte = 0x0b
	OpGlobalGet byte = 0x23
	OpI32Const  byte = 0x41
	OpI64Const  byte = 0x42
	OpF32Const  byte = 0x43
	OpF64Const  byte = 0x44
	OpRefNull   byte = 0xd0
	OpRefFunc   byte = 0xd2
)

var ErrEmptyInitExpr = errors.New("wasm: initializer expression produces no value")

type InvalidInitExprOpError byte

func (e InvalidInitExprOpError) Error() string {
	return fmt.Sprintf("wasm: invalid opcode in initializer expression: %#x", byte(e))
}

// readInitExpr reads one constant expression, including its terminating end opcode, and returns its
// encoding.
func readInitExpr(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	tee := io.TeeReader(r, &buf)

	for {
		op, err := readByte(tee)
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return buf.Bytes(), nil
		case OpI32Const:
			_, err = leb128.ReadVarint32(tee)
		case OpI64Const:
			_, err = leb128.ReadVarint64(tee)
		case OpF32Const:
			_, err = readU32(tee)
		case OpF64Const:
			_, err = readU64(tee)
		case OpGlobalGet, OpRefFunc:
			_, err = leb128.ReadVarUint32(tee)
		case OpRefNull:
			var t ValueType
			err = t.unmarshalRefType(tee)
		default:
			return nil, InvalidInitExprOpError(op)
		}
		if err != nil {
			return nil, err
		}
	}
}

// ConstExpr is a decoded single-instruction constant expression.
type ConstExpr struct {
	// Op is the opcode of the instruction that produces the expression's value.
	Op byte
	// Type is the type of the produced value. For global.get it is unknown and left zero.
	Type ValueType
	// Value holds the raw bits of a numeric constant or the index operand of global.get and ref.func.
	Value uint64
}

// DecodeConstExpr decodes an encoded constant expression as returned by the section readers.
func DecodeConstExpr(expr []byte) (ConstExpr, error) {
	if len(expr) == 0 {
		return ConstExpr{}, ErrEmptyInitExpr
	}

	c := ConstExpr{Op: expr[0]}
	rest := expr[1:]
	switch c.Op {
	case OpI32Const:
		v, sz, err := leb128.GetVarint32(rest)
		if err != nil {
			return ConstExpr{}, err
		}
		c.Type, c.Value, rest = ValueTypeI32, uint64(uint32(v)), rest[sz:]
	case OpI64Const:
		v, sz, err := leb128.GetVarint64(rest)
		if err != nil {
			return ConstExpr{}, err
		}
		c.Type, c.Value, rest = ValueTypeI64, uint64(v), rest[sz:]
	case OpF32Const:
		if len(rest) < 4 {
			return ConstExpr{}, io.ErrUnexpectedEOF
		}
		c.Type, c.Value, rest = ValueTypeF32, uint64(binary.LittleEndian.Uint32(rest)), rest[4:]
	case OpF64Const:
		if len(rest) < 8 {
			return ConstExpr{}, io.ErrUnexpectedEOF
		}
		c.Type, c.Value, rest = ValueTypeF64, binary.LittleEndian.Uint64(rest), rest[8:]
	case OpGlobalGet, OpRefFunc:
		v, sz, err := leb128.GetVarUint32(rest)
		if err != nil {
			return ConstExpr{}, err
		}
		c.Value, rest = uint64(v), rest[sz:]
		if c.Op == OpRefFunc {
			c.Type = ValueTypeFuncRef
		}
	case OpRefNull:
		if len(rest) < 1 {
			return ConstExpr{}, io.ErrUnexpectedEOF
		}
		if rest[0]&0x80 != 0 {
			return ConstExpr{}, InvalidValueTypeError(rest[0])
		}
		c.Type, rest = ValueType(leb128.Varint7(rest[0])), rest[1:]
		if !c.Type.IsRef() {
			return ConstExpr{}, InvalidValueTypeError(c.Type.encoding())
		}
	case OpEnd:
		return ConstExpr{}, ErrEmptyInitExpr
	default:
		return ConstExpr{}, InvalidInitExprOpError(c.Op)
	}

	if len(rest) == 0 {
		return ConstExpr{}, io.ErrUnexpectedEOF
	}
	if rest[0] != OpEnd || len(rest) != 1 {
		return ConstExpr{}, InvalidInitExprOpError(rest[0])
	}
	return c, nil
}
