// Copyright 2018 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var casesUint = []struct {
	v uint32
	b []byte
}{
	{v: 8, b: []byte{0x08}},
	{v: 127, b: []byte{0x7f}},
	{v: 128, b: []byte{0x80, 0x01}},
	{v: 624485, b: []byte{0xe5, 0x8e, 0x26}},
	{v: 0xffffffff, b: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
}

var casesInt = []struct {
	v int64
	b []byte
}{
	{v: -165675008, b: []byte{0x80, 0x80, 0x80, 0xb1, 0x7f}},
	{v: -624485, b: []byte{0x9b, 0xf1, 0x59}},
	{v: -1, b: []byte{0x7f}},
	{v: -64, b: []byte{0x40}},
	{v: 63, b: []byte{0x3f}},
	{v: 64, b: []byte{0xc0, 0x00}},
}

func TestReadVarUint32(t *testing.T) {
	for _, c := range casesUint {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			v, err := ReadVarUint32(bytes.NewReader(c.b))
			require.NoError(t, err)
			assert.Equal(t, c.v, v)

			v, n, err := GetVarUint32(c.b)
			require.NoError(t, err)
			assert.Equal(t, c.v, v)
			assert.Equal(t, len(c.b), n)
		})
	}
}

func TestReadVarint64(t *testing.T) {
	for _, c := range casesInt {
		t.Run(fmt.Sprint(c.v), func(t *testing.T) {
			v, err := ReadVarint64(bytes.NewReader(c.b))
			require.NoError(t, err)
			assert.Equal(t, c.v, v)
		})
	}
}

func TestReadOverflow(t *testing.T) {
	// Six bytes is always too long for a 32-bit value.
	_, err := ReadVarUint32(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}))
	assert.Equal(t, ErrOverflow, err)

	// The fifth byte may only carry four bits.
	_, err = ReadVarUint32(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x1f}))
	assert.Equal(t, ErrOverflow, err)

	// Unused bits of a signed value must sign-extend.
	_, err = ReadVarint32(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x4f}))
	assert.Equal(t, ErrOverflow, err)

	v, err := ReadVarint32(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x7f}))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v)
}

func TestReadTruncated(t *testing.T) {
	_, err := ReadVarUint32(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)

	_, err = ReadVarUint32(bytes.NewReader([]byte{0x80, 0x80}))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, _, err = GetVarint64([]byte{0xff})
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}
