package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/pgavlin/tandem/wasm/code"
	"github.com/pgavlin/tandem/wasm/leb128"
)

// formatVersion is the version of the unit encoding. It is part of every cache key.
const formatVersion = 1

var unitMagic = []byte("TNDU")

// ErrBadUnit is returned when encoded unit data is malformed or has an unsupported version.
var ErrBadUnit = errors.New("malformed compiled unit")

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func codecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		var err error
		if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
			panic(err)
		}
		if zstdDecoder, err = zstd.NewReader(nil); err != nil {
			panic(err)
		}
	})
	return zstdEncoder, zstdDecoder
}

func compress(b []byte) []byte {
	enc, _ := codecs()
	return enc.EncodeAll(b, nil)
}

func decompress(b []byte) ([]byte, error) {
	_, dec := codecs()
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUnit, err)
	}
	return out, nil
}

func appendUint(b []byte, v int) []byte {
	return leb128.AppendVarUint64(b, uint64(v))
}

func appendStmts(b []byte, stmts []Stmt) []byte {
	b = appendUint(b, len(stmts))
	for i := range stmts {
		s := &stmts[i]
		b = append(b, byte(s.Kind), s.Instr.Opcode)
		b = leb128.AppendVarUint64(b, s.Instr.Immediate)
		b = appendUint(b, len(s.Instr.Labels))
		for _, l := range s.Instr.Labels {
			b = appendUint(b, l)
		}
		b = appendUint(b, s.SP)
		b = appendUint(b, len(s.Targets))
		for _, t := range s.Targets {
			b = appendUint(appendUint(appendUint(b, t.Depth), t.Height), t.Arity)
		}

		switch s.Kind {
		case KindBlock, KindLoop:
			b = appendStmts(b, s.Body)
		case KindIf:
			b = appendStmts(b, s.Body)
			if s.Else == nil {
				b = append(b, 0)
			} else {
				b = appendStmts(append(b, 1), s.Else)
			}
		}
	}
	return b
}

func appendFunction(b []byte, f *Function) []byte {
	b = leb128.AppendVarUint64(b, uint64(f.Index))
	for _, v := range []int{f.NumParams, f.NumLocals, f.NumResults, f.MaxStack, f.Size} {
		b = appendUint(b, v)
	}
	return appendStmts(b, f.Body)
}

// EncodeFunction encodes a translated function as a compressed cache entry.
func EncodeFunction(f *Function) []byte {
	b := append([]byte(nil), unitMagic...)
	b = appendUint(b, formatVersion)
	return compress(appendFunction(b, f))
}

// DecodeFunction decodes a cache entry written by EncodeFunction.
func DecodeFunction(data []byte) (*Function, error) {
	b, err := decompress(data)
	if err != nil {
		return nil, err
	}
	r := newReader(b)
	r.header()
	f := r.function()
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// EncodeUnit encodes a unit.
func EncodeUnit(u *Unit) []byte {
	b := append([]byte(nil), unitMagic...)
	b = appendUint(b, formatVersion)
	b = appendUint(b, u.Index)
	b = appendUint(b, len(u.Name))
	b = append(b, u.Name...)
	b = appendUint(b, len(u.Functions))
	for _, f := range u.Functions {
		b = appendFunction(b, f)
	}
	return compress(b)
}

// DecodeUnit decodes a unit written by EncodeUnit.
func DecodeUnit(data []byte) (*Unit, error) {
	b, err := decompress(data)
	if err != nil {
		return nil, err
	}
	r := newReader(b)
	r.header()

	u := &Unit{Index: r.int()}
	u.Name = string(r.bytes(r.int()))
	n := r.int()
	for i := 0; i < n && r.err == nil; i++ {
		u.Functions = append(u.Functions, r.function())
	}
	if r.err != nil {
		return nil, r.err
	}
	return u, nil
}

// A reader decodes unit data. The first error is sticky.
type reader struct {
	r   *bytes.Reader
	err error
}

func newReader(b []byte) *reader {
	return &reader{r: bytes.NewReader(b)}
}

func (r *reader) fail(err error) {
	if r.err == nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = fmt.Errorf("%w: %v", ErrBadUnit, err)
	}
}

func (r *reader) header() {
	magic := r.bytes(len(unitMagic))
	if r.err == nil && !bytes.Equal(magic, unitMagic) {
		r.fail(errors.New("bad magic"))
	}
	if v := r.int(); r.err == nil && v != formatVersion {
		r.fail(fmt.Errorf("unsupported version %d", v))
	}
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := leb128.ReadVarUint64(r.r)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) int() int {
	v := r.uint64()
	if v > math.MaxInt32 {
		r.fail(fmt.Errorf("value %d out of range", v))
		return 0
	}
	return int(v)
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
	}
	return b
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.r.Len() {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
	}
	return b
}

// count reads a list length, rejecting lengths that cannot fit in the remaining input.
func (r *reader) count() int {
	n := r.int()
	if n > r.r.Len() {
		r.fail(fmt.Errorf("list length %d exceeds remaining input", n))
		return 0
	}
	return n
}

func (r *reader) stmts() []Stmt {
	n := r.count()
	if r.err != nil || n == 0 {
		return nil
	}
	stmts := make([]Stmt, n)
	for i := range stmts {
		s := &stmts[i]
		s.Kind = Kind(r.byte())
		if s.Kind > KindReturn {
			r.fail(fmt.Errorf("unknown statement kind %d", s.Kind))
		}
		s.Instr = code.Instruction{Opcode: r.byte(), Immediate: r.uint64()}
		if nl := r.count(); nl != 0 {
			s.Instr.Labels = make([]int, nl)
			for j := range s.Instr.Labels {
				s.Instr.Labels[j] = r.int()
			}
		}
		s.SP = r.int()
		if nt := r.count(); nt != 0 {
			s.Targets = make([]Target, nt)
			for j := range s.Targets {
				s.Targets[j] = Target{Depth: r.int(), Height: r.int(), Arity: r.int()}
			}
		}

		switch s.Kind {
		case KindBlock, KindLoop:
			s.Body = r.stmts()
		case KindIf:
			s.Body = r.stmts()
			if r.byte() != 0 {
				s.Else = r.stmts()
				if s.Else == nil {
					s.Else = []Stmt{}
				}
			}
		}
		if r.err != nil {
			return nil
		}
	}
	return stmts
}

func (r *reader) function() *Function {
	f := &Function{Index: uint32(r.uint64())}
	f.NumParams, f.NumLocals, f.NumResults, f.MaxStack, f.Size = r.int(), r.int(), r.int(), r.int(), r.int()
	f.Body = r.stmts()
	return f
}
