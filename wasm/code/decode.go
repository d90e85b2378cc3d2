package code

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/leb128"
)

var ErrInvalidInstruction = errors.New("wasm: invalid instruction")

// Error records the byte offset within a function body at which decoding or validation failed.
type Error struct {
	Offset int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("at offset %d: %v", e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Metrics summarizes the shape of a decoded function body.
type Metrics struct {
	MaxNesting    int  // The maximum block nesting for the function.
	MaxStackDepth int  // The maximum stack depth for the function.
	LabelCount    int  // The number of labels in the function.
	HasLoops      bool // True if this function has loops
}

// Body is a decoded, validated, and resolved function body.
type Body struct {
	Instructions []Instruction
	Metrics      Metrics
}

type block struct {
	ip     int // -1 for the function's implicit block
	opcode byte

	in, out     []wasm.ValueType
	stackHeight int
	unreachable bool
	hasElse     bool
}

type decoder struct {
	Scope

	ibuf    []Instruction
	metrics Metrics

	blocks []block
	stack  []wasm.ValueType
}

// Decode decodes and validates a function body, then resolves its branch targets. out is the function's result
// types.
func Decode(body []byte, scope Scope, out []wasm.ValueType) (Body, error) {
	d := decoder{Scope: scope}
	result, err := d.decode(body, out)
	if err != nil {
		return Body{}, err
	}
	if err := Resolve(result.Instructions, scope, len(out)); err != nil {
		return Body{}, err
	}
	return result, nil
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

func expectZero(r io.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	if b != 0 {
		return fmt.Errorf("%w: expected zero byte", ErrInvalidInstruction)
	}
	return nil
}

func readFixed(r io.Reader, n int) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func decodeBlockType(r io.Reader) (uint64, error) {
	n, err := leb128.ReadVarint33(r)
	if err != nil {
		return 0, err
	}
	if n >= 0 {
		return uint64(n), nil
	}
	switch b := byte(n & 0x7f); b {
	case 0x40, 0x7f, 0x7e, 0x7d, 0x7c, 0x70:
		return uint64(b) | BlockTypeSpecial, nil
	default:
		return 0, fmt.Errorf("%w: unexpected block type 0x%02x", ErrInvalidInstruction, b)
	}
}

func readIndex(r io.Reader) (int, error) {
	x, err := leb128.ReadVarUint32(r)
	return int(x), err
}

// decodeSingleInstruction decodes one instruction and its immediates.
func decodeSingleInstruction(r io.Reader) (Instruction, error) {
	opcode, err := readByte(r)
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: opcode}

	info := opInfos[opcode]
	if info == nil {
		return instr, fmt.Errorf("%w: unknown opcode 0x%02x", ErrInvalidInstruction, opcode)
	}
	imm := info.imm
	if opcode == OpPrefix {
		sub, err := leb128.ReadVarUint32(r)
		if err != nil {
			return instr, err
		}
		if sub >= numPrefixOps {
			return instr, fmt.Errorf("%w: unknown opcode 0xfc %d", ErrInvalidInstruction, sub)
		}
		instr.Immediate = uint64(sub)
		imm = prefixInfos[sub].imm
	}

	switch imm {
	case immNone:
	case immBlockType:
		instr.Immediate, err = decodeBlockType(r)
	case immIndex:
		var x int
		if x, err = readIndex(r); err == nil {
			if opcode == OpPrefix {
				instr.Labels = []int{x}
			} else {
				instr.Immediate = uint64(x)
			}
		}
	case immBrTable:
		var n uint32
		if n, err = leb128.ReadVarUint32(r); err != nil {
			break
		}
		if n > 1<<16 {
			return instr, fmt.Errorf("%w: br_table too large", ErrInvalidInstruction)
		}
		instr.Labels = make([]int, int(n))
		for i := range instr.Labels {
			if instr.Labels[i], err = readIndex(r); err != nil {
				break
			}
		}
		if err == nil {
			var def int
			def, err = readIndex(r)
			instr.Immediate = uint64(def)
		}
	case immCallIndirect:
		var typeidx, tableidx int
		if typeidx, err = readIndex(r); err == nil {
			tableidx, err = readIndex(r)
			instr.Immediate = uint64(typeidx) | uint64(tableidx)<<32
		}
	case immMemarg:
		var align, offset uint32
		if align, err = leb128.ReadVarUint32(r); err == nil {
			offset, err = leb128.ReadVarUint32(r)
			instr.Immediate = memarg(offset, align)
		}
	case immMemory:
		err = expectZero(r)
	case immI32:
		var v int32
		v, err = leb128.ReadVarint32(r)
		instr.Immediate = uint64(v)
	case immI64:
		var v int64
		v, err = leb128.ReadVarint64(r)
		instr.Immediate = uint64(v)
	case immF32:
		instr.Immediate, err = readFixed(r, 4)
	case immF64:
		instr.Immediate, err = readFixed(r, 8)
	case immSelectT:
		var n uint32
		if n, err = leb128.ReadVarUint32(r); err != nil {
			break
		}
		if n != 1 {
			return instr, fmt.Errorf("%w: invalid result arity", ErrInvalidInstruction)
		}
		var t wasm.ValueType
		if err = t.UnmarshalWASM(r); err == nil {
			instr.Immediate = uint64(byte(t) & 0x7f)
		}
	case immRefType:
		var t wasm.ValueType
		if err = t.UnmarshalWASM(r); err == nil {
			if t != wasm.ValueTypeFuncRef {
				return instr, fmt.Errorf("%w: unsupported reference type %v", ErrInvalidInstruction, t)
			}
			instr.Immediate = uint64(byte(t) & 0x7f)
		}
	case immDataMemory:
		var x int
		if x, err = readIndex(r); err == nil {
			instr.Labels = []int{x}
			err = expectZero(r)
		}
	case immMemoryPair:
		if err = expectZero(r); err == nil {
			err = expectZero(r)
		}
	case immIndexPair:
		var x, y int
		if x, err = readIndex(r); err == nil {
			y, err = readIndex(r)
			instr.Labels = []int{x, y}
		}
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return instr, err
}

func (d *decoder) popOpd() (wasm.ValueType, error) {
	b := &d.blocks[len(d.blocks)-1]
	if len(d.stack) == b.stackHeight {
		if b.unreachable {
			return wasm.ValueTypeT, nil
		}
		return 0, wasm.ValidationError("type mismatch: stack underflow")
	}
	t := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]
	return t, nil
}

func (d *decoder) popOpds(types ...wasm.ValueType) error {
	for i := len(types) - 1; i >= 0; i-- {
		expected := types[i]
		actual, err := d.popOpd()
		if err != nil {
			return err
		}
		if actual != wasm.ValueTypeT && expected != wasm.ValueTypeT && actual != expected {
			return wasm.ValidationError(fmt.Sprintf("type mismatch: expected %v, got %v", expected, actual))
		}
	}
	return nil
}

func (d *decoder) pushOpds(types ...wasm.ValueType) {
	d.stack = append(d.stack, types...)
	if len(d.stack) > d.metrics.MaxStackDepth {
		d.metrics.MaxStackDepth = len(d.stack)
	}
}

func (d *decoder) pushBlock(ip int, opcode byte, in, out []wasm.ValueType) {
	d.blocks = append(d.blocks, block{
		ip:          ip,
		opcode:      opcode,
		in:          in,
		out:         out,
		stackHeight: len(d.stack),
	})
	d.pushOpds(in...)

	if len(d.blocks) > d.metrics.MaxNesting {
		d.metrics.MaxNesting = len(d.blocks)
	}
	d.metrics.LabelCount++
}

func (d *decoder) popBlock() (block, error) {
	if len(d.blocks) == 0 {
		return block{}, wasm.ValidationError("label stack underflow")
	}
	b := d.blocks[len(d.blocks)-1]
	if err := d.popOpds(b.out...); err != nil {
		return block{}, err
	}
	if len(d.stack) != b.stackHeight {
		return block{}, wasm.ValidationError("type mismatch: values remaining on stack at end of block")
	}
	d.blocks = d.blocks[:len(d.blocks)-1]
	return b, nil
}

// labelTypes returns the types carried by a branch to the label at the given relative depth.
func (d *decoder) labelTypes(depth int) ([]wasm.ValueType, error) {
	if depth < 0 || depth >= len(d.blocks) {
		return nil, wasm.ValidationError("unknown label")
	}
	b := &d.blocks[len(d.blocks)-1-depth]
	if b.opcode == OpLoop {
		return b.in, nil
	}
	return b.out, nil
}

func (d *decoder) unreachable() {
	b := &d.blocks[len(d.blocks)-1]
	d.stack = d.stack[:b.stackHeight]
	b.unreachable = true
}

// checkIndices validates the index immediates of an instruction against the scope.
func (d *decoder) checkIndices(instr *Instruction, info *opInfo) error {
	if info.memory && !d.HasMemory(0) {
		return wasm.ValidationError("unknown memory 0")
	}
	if info.table && !d.HasTable(instr.Tableidx()) {
		return wasm.ValidationError(fmt.Sprintf("unknown table %d", instr.Tableidx()))
	}

	switch {
	case instr.Opcode == OpRefFunc:
		if _, ok := d.GetFunctionSignature(instr.Funcidx()); !ok {
			return wasm.ValidationError(fmt.Sprintf("unknown function %d", instr.Funcidx()))
		}
	case instr.IsPrefix(OpMemoryInit), instr.IsPrefix(OpDataDrop):
		if !d.HasData(instr.Segmentidx()) {
			return wasm.ValidationError(fmt.Sprintf("unknown data segment %d", instr.Segmentidx()))
		}
	case instr.IsPrefix(OpTableInit), instr.IsPrefix(OpElemDrop):
		if !d.HasElem(instr.Segmentidx()) {
			return wasm.ValidationError(fmt.Sprintf("unknown elem segment %d", instr.Segmentidx()))
		}
	case instr.IsPrefix(OpTableCopy):
		if !d.HasTable(instr.SourceTableidx()) {
			return wasm.ValidationError(fmt.Sprintf("unknown table %d", instr.SourceTableidx()))
		}
	}
	return nil
}

// step validates one instruction against the operand and control stacks.
func (d *decoder) step(ip int, instr *Instruction, atEnd bool) (done bool, err error) {
	info := instr.info()
	if !info.variadic {
		if err := d.checkIndices(instr, info); err != nil {
			return false, err
		}
		if err := d.popOpds(info.pop...); err != nil {
			return false, err
		}
		d.pushOpds(info.push...)
		return false, nil
	}

	switch instr.Opcode {
	case OpDrop:
		_, err = d.popOpd()

	case OpSelect, OpSelectT:
		if err = d.popOpds(wasm.ValueTypeI32); err != nil {
			return false, err
		}
		var t wasm.ValueType
		if instr.Opcode == OpSelectT {
			t = instr.ValueType()
			err = d.popOpds(t, t)
		} else {
			if t, err = d.popOpd(); err != nil {
				return false, err
			}
			err = d.popOpds(t)
		}
		if err == nil {
			d.pushOpds(t)
		}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		if _, ok := d.GetLocalType(instr.Localidx()); !ok {
			return false, wasm.ValidationError(fmt.Sprintf("unknown local %d", instr.Localidx()))
		}
		pop, push := instr.Types(d.Scope)
		if err = d.popOpds(pop...); err == nil {
			d.pushOpds(push...)
		}

	case OpGlobalGet, OpGlobalSet:
		g, ok := d.GetGlobalType(instr.Globalidx())
		if !ok {
			return false, wasm.ValidationError(fmt.Sprintf("unknown global %d", instr.Globalidx()))
		}
		if instr.Opcode == OpGlobalSet {
			if !g.Mutable {
				return false, wasm.ValidationError("global is immutable")
			}
			err = d.popOpds(g.Type)
		} else {
			d.pushOpds(g.Type)
		}

	case OpCall:
		sig, ok := d.GetFunctionSignature(instr.Funcidx())
		if !ok {
			return false, wasm.ValidationError(fmt.Sprintf("unknown function %d", instr.Funcidx()))
		}
		if err = d.popOpds(sig.ParamTypes...); err == nil {
			d.pushOpds(sig.ReturnTypes...)
		}

	case OpCallIndirect:
		if !d.HasTable(instr.Tableidx()) {
			return false, wasm.ValidationError(fmt.Sprintf("unknown table %d", instr.Tableidx()))
		}
		sig, ok := d.GetType(instr.Typeidx())
		if !ok {
			return false, wasm.ValidationError(fmt.Sprintf("unknown type %d", instr.Typeidx()))
		}
		if err = d.popOpds(wasm.ValueTypeI32); err != nil {
			return false, err
		}
		if err = d.popOpds(sig.ParamTypes...); err == nil {
			d.pushOpds(sig.ReturnTypes...)
		}

	case OpUnreachable:
		d.unreachable()

	case OpBlock, OpLoop, OpIf:
		if instr.Opcode == OpIf {
			if err = d.popOpds(wasm.ValueTypeI32); err != nil {
				return false, err
			}
		} else if instr.Opcode == OpLoop {
			d.metrics.HasLoops = true
		}
		in, out, ok := instr.BlockType(d.Scope)
		if !ok {
			return false, wasm.ValidationError(fmt.Sprintf("unknown type %d", instr.Typeidx()))
		}
		if err = d.popOpds(in...); err != nil {
			return false, err
		}
		d.pushBlock(ip, instr.Opcode, in, out)
		instr.Immediate |= (uint64(d.blocks[len(d.blocks)-1].stackHeight) << 32) & StackHeightMask

	case OpElse:
		b, err := d.popBlock()
		if err != nil {
			return false, err
		}
		if b.opcode != OpIf || b.hasElse {
			return false, wasm.ValidationError("else without matching if")
		}
		d.pushOpds(b.in...)
		b.stackHeight, b.unreachable, b.hasElse = len(d.stack)-len(b.in), false, true
		d.blocks = append(d.blocks, b)

	case OpEnd:
		b, err := d.popBlock()
		if err != nil {
			return false, err
		}
		if b.ip < 0 {
			if !atEnd {
				return false, wasm.ValidationError("unexpected end instruction")
			}
			return true, nil
		}
		if b.opcode == OpIf && !b.hasElse && !sameTypes(b.in, b.out) {
			return false, wasm.ValidationError("type mismatch: if without else must leave its parameters unchanged")
		}
		d.pushOpds(b.out...)

	case OpBr:
		pop, err := d.labelTypes(instr.Labelidx())
		if err != nil {
			return false, err
		}
		if err = d.popOpds(pop...); err != nil {
			return false, err
		}
		d.unreachable()

	case OpBrIf:
		pop, err := d.labelTypes(instr.Labelidx())
		if err != nil {
			return false, err
		}
		if err = d.popOpds(wasm.ValueTypeI32); err != nil {
			return false, err
		}
		if err = d.popOpds(pop...); err != nil {
			return false, err
		}
		d.pushOpds(pop...)

	case OpBrTable:
		pop, err := d.labelTypes(instr.Default())
		if err != nil {
			return false, err
		}
		for _, l := range instr.Labels {
			typs, err := d.labelTypes(l)
			if err != nil {
				return false, err
			}
			if len(typs) != len(pop) {
				return false, wasm.ValidationError("type mismatch: br_table arity")
			}
		}
		if err = d.popOpds(wasm.ValueTypeI32); err != nil {
			return false, err
		}
		if err = d.popOpds(pop...); err != nil {
			return false, err
		}
		d.unreachable()

	case OpReturn:
		if err = d.popOpds(d.blocks[0].out...); err != nil {
			return false, err
		}
		d.unreachable()
	}
	return false, err
}

func sameTypes(a, b []wasm.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (d *decoder) decode(body []byte, out []wasm.ValueType) (Body, error) {
	d.ibuf = make([]Instruction, 0, len(body)/2+1)
	d.pushBlock(-1, OpBlock, nil, out)

	r := bytes.NewReader(body)
	for {
		offset := len(body) - r.Len()
		instr, err := decodeSingleInstruction(r)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Body{}, &Error{Offset: offset, Err: err}
		}

		ip := len(d.ibuf)
		d.ibuf = append(d.ibuf, instr)
		done, err := d.step(ip, &d.ibuf[ip], r.Len() == 0)
		if err != nil {
			return Body{}, &Error{Offset: offset, Err: err}
		}
		if done {
			// Condense the instruction list.
			if cap(d.ibuf)-len(d.ibuf) > len(d.ibuf)/10 {
				d.ibuf = append([]Instruction(nil), d.ibuf...)
			}
			return Body{Instructions: d.ibuf, Metrics: d.metrics}, nil
		}
		if r.Len() == 0 {
			return Body{}, &Error{Offset: len(body), Err: io.ErrUnexpectedEOF}
		}
	}
}
