// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/pgavlin/tandem/wasm/leb128"
)

// ErrInvalidUTF8 is returned when a name is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("wasm: malformed UTF-8 encoding")

// maxInitialCap caps preallocation driven by untrusted counts.
const maxInitialCap = 10 * 1024

func getInitialCap(count uint32) uint32 {
	if count > maxInitialCap {
		return maxInitialCap
	}
	return count
}

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

func readBytes(r io.Reader, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	// Read in bounded chunks so that a bogus length cannot force a huge allocation.
	buf := make([]byte, 0, getInitialCap(n))
	for uint32(len(buf)) < n {
		chunk := n - uint32(len(buf))
		if chunk > maxInitialCap {
			chunk = maxInitialCap
		}
		start := len(buf)
		buf = append(buf, make([]byte, chunk)...)
		if _, err := io.ReadFull(r, buf[start:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
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

func writeBytesUint(w io.Writer, b []byte) error {
	if _, err := leb128.WriteVarUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeStringUint(w io.Writer, s string) error {
	return writeBytesUint(w, []byte(s))
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// readInitExpr reads a constant expression up to and including its terminating end opcode.
func readInitExpr(r io.Reader) ([]byte, error) {
	var expr []byte
	for {
		op, err := readByte(r)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		expr = append(expr, op)

		var imm []byte
		switch op {
		case 0x0b:
			return expr, nil
		case 0x41, 0x42, 0x23, 0xd2:
			// i32.const, i64.const, global.get, ref.func: one LEB128 immediate
			imm, err = readLEB128Bytes(r)
		case 0x43:
			imm, err = readBytes(r, 4)
		case 0x44:
			imm, err = readBytes(r, 8)
		case 0xd0:
			// ref.null reftype
			var b byte
			b, err = readByte(r)
			imm = []byte{b}
		default:
			return nil, ErrInvalidInitExpr
		}
		if err != nil {
			return nil, err
		}
		expr = append(expr, imm...)
	}
}

// ErrInvalidInitExpr is returned when a constant expression contains a non-constant instruction.
var ErrInvalidInitExpr = errors.New("wasm: constant expression required")

func readLEB128Bytes(r io.Reader) ([]byte, error) {
	var b []byte
	for i := 0; i < 10; i++ {
		c, err := readByte(r)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		b = append(b, c)
		if c&0x80 == 0 {
			return b, nil
		}
	}
	return nil, leb128.ErrOverflow
}
