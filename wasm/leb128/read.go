// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leb128 provides functions for reading and writing integer values
// encoded in the Little Endian Base 128 (LEB128) format.
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded integer does not fit in the requested width, either because
// it has too many bytes or because its final byte carries bits beyond the width.
var ErrOverflow = errors.New("leb128: integer representation too long")

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// readUnsigned decodes an unsigned value of at most n bits.
func readUnsigned(next func() (byte, error), n uint) (uint64, int, error) {
	var result uint64
	var shift uint
	for count := 1; ; count++ {
		b, err := next()
		if err != nil {
			if err == io.EOF && count > 1 {
				err = io.ErrUnexpectedEOF
			}
			return 0, count - 1, err
		}
		if shift+7 > n {
			// The final byte may only carry the remaining bits.
			if b&0x80 != 0 || b>>(n-shift) != 0 {
				return 0, count, ErrOverflow
			}
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, count, nil
		}
		shift += 7
	}
}

// readSigned decodes a signed value of at most n bits.
func readSigned(next func() (byte, error), n uint) (int64, int, error) {
	var result int64
	var shift uint
	for count := 1; ; count++ {
		b, err := next()
		if err != nil {
			if err == io.EOF && count > 1 {
				err = io.ErrUnexpectedEOF
			}
			return 0, count - 1, err
		}
		if shift+7 >= n {
			if b&0x80 != 0 {
				return 0, count, ErrOverflow
			}
			// The unused high bits of the final byte must be a sign extension.
			rest := int8(b<<1) >> (n - shift)
			if rest != 0 && rest != -1 {
				return 0, count, ErrOverflow
			}
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, count, nil
		}
	}
}

func readerNext(r io.Reader) func() (byte, error) {
	return func() (byte, error) { return readByte(r) }
}

func sliceNext(b []byte) func() (byte, error) {
	i := 0
	return func() (byte, error) {
		if i >= len(b) {
			return 0, io.EOF
		}
		v := b[i]
		i++
		return v, nil
	}
}

// ReadVarUint32 reads a LEB128 encoded unsigned 32-bit integer from r.
func ReadVarUint32(r io.Reader) (uint32, error) {
	v, _, err := readUnsigned(readerNext(r), 32)
	return uint32(v), err
}

// ReadVarUint64 reads a LEB128 encoded unsigned 64-bit integer from r.
func ReadVarUint64(r io.Reader) (uint64, error) {
	v, _, err := readUnsigned(readerNext(r), 64)
	return v, err
}

// ReadVarint32 reads a LEB128 encoded signed 32-bit integer from r.
func ReadVarint32(r io.Reader) (int32, error) {
	v, _, err := readSigned(readerNext(r), 32)
	return int32(v), err
}

// ReadVarint33 reads a LEB128 encoded signed 33-bit integer from r. Block types use this width.
func ReadVarint33(r io.Reader) (int64, error) {
	v, _, err := readSigned(readerNext(r), 33)
	return v, err
}

// ReadVarint64 reads a LEB128 encoded signed 64-bit integer from r.
func ReadVarint64(r io.Reader) (int64, error) {
	v, _, err := readSigned(readerNext(r), 64)
	return v, err
}

// GetVarUint32 decodes a LEB128 encoded unsigned 32-bit integer from the start of b. It returns the value and the
// number of bytes consumed.
func GetVarUint32(b []byte) (uint32, int, error) {
	v, n, err := readUnsigned(sliceNext(b), 32)
	return uint32(v), n, err
}

// GetVarint32 decodes a LEB128 encoded signed 32-bit integer from the start of b.
func GetVarint32(b []byte) (int32, int, error) {
	v, n, err := readSigned(sliceNext(b), 32)
	return int32(v), n, err
}

// GetVarint33 decodes a LEB128 encoded signed 33-bit integer from the start of b.
func GetVarint33(b []byte) (int64, int, error) {
	return readSigned(sliceNext(b), 33)
}

// GetVarint64 decodes a LEB128 encoded signed 64-bit integer from the start of b.
func GetVarint64(b []byte) (int64, int, error) {
	return readSigned(sliceNext(b), 64)
}
