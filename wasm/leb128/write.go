// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leb128

import "io"

// AppendVarUint64 appends the LEB128 encoding of v to b.
func AppendVarUint64(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// AppendVarint64 appends the signed LEB128 encoding of v to b.
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

// WriteVarUint32 writes the LEB128 encoding of v to w and returns the number of bytes written.
func WriteVarUint32(w io.Writer, v uint32) (int, error) {
	var buf [5]byte
	return w.Write(AppendVarUint64(buf[:0], uint64(v)))
}

// WriteVarUint64 writes the LEB128 encoding of v to w and returns the number of bytes written.
func WriteVarUint64(w io.Writer, v uint64) (int, error) {
	var buf [10]byte
	return w.Write(AppendVarUint64(buf[:0], v))
}

// WriteVarint64 writes the signed LEB128 encoding of v to w and returns the number of bytes written.
func WriteVarint64(w io.Writer, v int64) (int, error) {
	var buf [10]byte
	return w.Write(AppendVarint64(buf[:0], v))
}
