// Copyright 2018 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

var casesUint = []struct {
	v uint32
	b []byte
}{
	{v: 0, b: []byte{0x00}},
	{v: 8, b: []byte{0x08}},
	{v: 624485, b: []byte{0xe5, 0x8e, 0x26}},
	{v: 1<<32 - 1, b: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
}

var casesInt = []struct {
	v int64
	b []byte
}{
	{v: 0, b: []byte{0x00}},
	{v: -1, b: []byte{0x7f}},
	{v: 63, b: []byte{0x3f}},
	{v: 64, b: []byte{0xc0, 0x00}},
	{v: -123456, b: []byte{0xc0, 0xbb, 0x78}},
}

func TestWriteVarUint32(t *testing.T) {
	for _, c := range casesUint {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			buf := new(bytes.Buffer)
			_, err := WriteVarUint32(buf, c.v)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), c.b) {
				t.Fatalf("unexpected output: %x", buf.Bytes())
			}
		})
	}
}

func TestWriteVarint64(t *testing.T) {
	for _, c := range casesInt {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			buf := new(bytes.Buffer)
			_, err := WriteVarint64(buf, c.v)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), c.b) {
				t.Fatalf("unexpected output: %x", buf.Bytes())
			}
		})
	}
}

func TestGetVarUint32(t *testing.T) {
	for _, c := range casesUint {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			v, n, err := GetVarUint32(append(c.b, 0xaa))
			if err != nil {
				t.Fatal(err)
			}
			if v != c.v || n != len(c.b) {
				t.Fatalf("got (%v, %v); want (%v, %v)", v, n, c.v, len(c.b))
			}
		})
	}
}

func TestReadVarUint32Overflow(t *testing.T) {
	_, err := ReadVarUint32(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x7f}))
	if err != ErrOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestWriteReadInt64(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().Unix()))

	var buf bytes.Buffer
	for i := 0; i < 100000; i++ {
		n := r.Int63()
		if i%2 == 1 {
			n = -n
		}

		buf.Reset()
		_, err := WriteVarint64(&buf, n)
		if err != nil {
			t.Fatalf("WriteVarint64: %v", err)
		}

		v, err := ReadVarint64(&buf)
		if err != nil {
			t.Fatalf("ReadVarint64: %v", err)
		}

		if v != n {
			t.Fatalf("wrote %v; read %v", n, v)
		}
	}
}

func TestWriteReadInt32(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().Unix()))

	var buf bytes.Buffer
	for i := 0; i < 100000; i++ {
		n := r.Int31()

		buf.Reset()
		_, err := WriteVarint64(&buf, int64(n))
		if err != nil {
			t.Fatalf("WriteVarint64: %v", err)
		}

		v, err := ReadVarint32(&buf)
		if err != nil {
			t.Fatalf("ReadVarint32: %v", err)
		}

		if v != n {
			t.Fatalf("wrote %v; read %v", n, v)
		}
	}
}

func TestWriteReadUint32(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().Unix()))

	var buf bytes.Buffer
	for i := 0; i < 100000; i++ {
		n := r.Uint32()

		buf.Reset()
		_, err := WriteVarUint32(&buf, n)
		if err != nil {
			t.Fatalf("WriteVarUint32: %v", err)
		}

		v, err := ReadVarUint32(&buf)
		if err != nil {
			t.Fatalf("ReadVarUint32: %v", err)
		}

		if v != n {
			t.Fatalf("wrote %v; read %v", n, v)
		}
	}
}

func TestVarint7(t *testing.T) {
	cases := []struct {
		b byte
		v int8
	}{
		{0x00, 0},
		{0x3f, 63},
		{0x40, -64},
		{0x60, -0x20},
		{0x6f, -0x11},
		{0x70, -0x10},
		{0x7f, -1},
	}
	for _, c := range cases {
		if got := Varint7(c.b); got != c.v {
			t.Errorf("Varint7(%#x) = %d, want %d", c.b, got, c.v)
		}
	}
}
