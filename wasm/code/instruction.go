package code

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pgavlin/tandem/wasm"
)

// Branch is a resolved control transfer. When a branch is taken, the top Arity operands are moved down to
// Height and execution continues at Target. A Target equal to the length of the instruction list returns from
// the function.
type Branch struct {
	Target int `json:"target"`
	Height int `json:"height"`
	Arity  int `json:"arity"`
}

// Instruction is a decoded instruction.
//
// Labels holds the label depths of a br_table (excluding the default, which is stored in Immediate) or the
// index immediates of a prefixed instruction. Branches holds the resolved targets of control instructions:
//
//   - br, br_if: the branch
//   - br_table: one branch per label followed by the default branch
//   - if: the true branch, the false branch, and the continuation after the matching end
//   - else: the continuation after the matching end
//   - block, loop: the continuation after the matching end
type Instruction struct {
	Opcode    byte     `json:"opcode"`
	Immediate uint64   `json:"immediate"`
	Labels    []int    `json:"labels,omitempty"`
	Branches  []Branch `json:"branches,omitempty"`
}

// Continuation returns the index of the instruction that follows the end of a block, loop, if, or else.
func (i *Instruction) Continuation() int {
	if i.Opcode == OpIf {
		return i.Branches[2].Target
	}
	return i.Branches[0].Target
}

// LabelTrue returns the branch taken by an if when its condition is non-zero.
func (i *Instruction) LabelTrue() Branch {
	return i.Branches[0]
}

// LabelFalse returns the branch taken by an if when its condition is zero.
func (i *Instruction) LabelFalse() Branch {
	return i.Branches[1]
}

// StackHeight returns the operand stack height at entry to a block, loop, or if, not counting its parameters.
func (i *Instruction) StackHeight() int {
	return int((i.Immediate & StackHeightMask) >> 32)
}

func (i *Instruction) Default() int {
	return int(uint32(i.Immediate))
}

func (i *Instruction) Labelidx() int {
	return int(uint32(i.Immediate))
}

func (i *Instruction) Funcidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Localidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Globalidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Typeidx() uint32 {
	return uint32(i.Immediate)
}

// Tableidx returns the table operand of call_indirect, table.get, table.set, table.grow, table.size,
// table.fill, table.init (the destination), and table.copy (the destination).
func (i *Instruction) Tableidx() uint32 {
	switch i.Opcode {
	case OpCallIndirect:
		return uint32(i.Immediate >> 32)
	case OpTableGet, OpTableSet:
		return uint32(i.Immediate)
	case OpPrefix:
		switch i.Immediate {
		case OpTableInit:
			return uint32(i.Labels[1])
		case OpTableCopy, OpTableGrow, OpTableSize, OpTableFill:
			return uint32(i.Labels[0])
		}
	}
	return 0
}

// SourceTableidx returns the source table of table.copy.
func (i *Instruction) SourceTableidx() uint32 {
	return uint32(i.Labels[1])
}

// Segmentidx returns the data or element segment operand of memory.init, data.drop, table.init, and elem.drop.
func (i *Instruction) Segmentidx() uint32 {
	return uint32(i.Labels[0])
}

// PrefixOp returns the sub-opcode of a prefixed instruction.
func (i *Instruction) PrefixOp() uint32 {
	return uint32(i.Immediate)
}

// IsPrefix returns true if the instruction is the prefixed instruction with the given sub-opcode.
func (i *Instruction) IsPrefix(op uint32) bool {
	return i.Opcode == OpPrefix && uint32(i.Immediate) == op
}

func (i *Instruction) Memarg() (offset uint32, align uint32) {
	return uint32(i.Immediate), uint32(i.Immediate >> 32)
}

func (i *Instruction) Offset() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) I32() int32 {
	return int32(i.Immediate)
}

func (i *Instruction) I64() int64 {
	return int64(i.Immediate)
}

func (i *Instruction) F32() float32 {
	return math.Float32frombits(uint32(i.Immediate))
}

func (i *Instruction) F64() float64 {
	return math.Float64frombits(i.Immediate)
}

// ValueType returns the type operand of a typed select or the reference type of ref.null.
func (i *Instruction) ValueType() wasm.ValueType {
	return wasm.ValueType(int8(byte(i.Immediate)<<1) >> 1)
}

// BlockType returns the parameter and result types of a block, loop, or if.
func (i *Instruction) BlockType(scope Scope) (in, out []wasm.ValueType, ok bool) {
	switch i.Immediate & BlockTypeMask {
	case BlockTypeEmpty:
		return nil, nil, true
	case BlockTypeI32:
		return nil, tI32, true
	case BlockTypeI64:
		return nil, tI64, true
	case BlockTypeF32:
		return nil, tF32, true
	case BlockTypeF64:
		return nil, tF64, true
	case BlockTypeFuncRef:
		return nil, tRef, true
	default:
		sig, ok := scope.GetType(i.Typeidx())
		if !ok {
			return nil, nil, false
		}
		return sig.ParamTypes, sig.ReturnTypes, true
	}
}

// Types returns the operand types popped and pushed by the instruction. Control instructions other than
// if, br_if, and br_table report no operands. The types of drop and untyped select are reported as
// wasm.ValueTypeT.
func (i *Instruction) Types(scope Scope) (pop, push []wasm.ValueType) {
	info := i.info()
	if info == nil {
		return nil, nil
	}
	if !info.variadic {
		return info.pop, info.push
	}

	switch i.Opcode {
	case OpIf, OpBrIf, OpBrTable:
		return tI32, nil
	case OpCall:
		sig, _ := scope.GetFunctionSignature(i.Funcidx())
		return sig.ParamTypes, sig.ReturnTypes
	case OpCallIndirect:
		sig, _ := scope.GetType(i.Typeidx())
		pop := append(append([]wasm.ValueType(nil), sig.ParamTypes...), wasm.ValueTypeI32)
		return pop, sig.ReturnTypes
	case OpDrop:
		return []wasm.ValueType{wasm.ValueTypeT}, nil
	case OpSelect:
		return []wasm.ValueType{wasm.ValueTypeT, wasm.ValueTypeT, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeT}
	case OpSelectT:
		t := i.ValueType()
		return []wasm.ValueType{t, t, wasm.ValueTypeI32}, []wasm.ValueType{t}
	case OpLocalGet:
		t, _ := scope.GetLocalType(i.Localidx())
		return nil, []wasm.ValueType{t}
	case OpLocalSet:
		t, _ := scope.GetLocalType(i.Localidx())
		return []wasm.ValueType{t}, nil
	case OpLocalTee:
		t, _ := scope.GetLocalType(i.Localidx())
		return []wasm.ValueType{t}, []wasm.ValueType{t}
	case OpGlobalGet:
		t, _ := scope.GetGlobalType(i.Globalidx())
		return nil, []wasm.ValueType{t.Type}
	case OpGlobalSet:
		t, _ := scope.GetGlobalType(i.Globalidx())
		return []wasm.ValueType{t.Type}, nil
	}
	return nil, nil
}

// Stack returns the number of operands popped and pushed by the instruction.
func (i *Instruction) Stack(scope Scope) (pop, push int) {
	p, q := i.Types(scope)
	return len(p), len(q)
}

func (i *Instruction) Encode(w io.Writer) error {
	return encodeInstruction(w, i)
}

func (i *Instruction) Decode(r io.Reader) error {
	instr, err := decodeSingleInstruction(r)
	if err != nil {
		return err
	}
	*i = instr
	return nil
}

func memarg(offset, align uint32) uint64 {
	return uint64(align)<<32 | uint64(offset)
}

func (i *Instruction) String() string {
	var b strings.Builder
	b.WriteString(i.Name())

	info := i.info()
	if info == nil {
		return b.String()
	}
	imm := info.imm
	if i.Opcode == OpPrefix {
		imm = prefixInfos[i.Immediate].imm
	}

	switch imm {
	case immBlockType:
		switch t := i.Immediate & BlockTypeMask; t {
		case BlockTypeEmpty:
		case BlockTypeI32, BlockTypeI64, BlockTypeF32, BlockTypeF64, BlockTypeFuncRef:
			_, out, _ := i.BlockType(UnknownScope)
			fmt.Fprintf(&b, " (result %v)", out[0])
		default:
			fmt.Fprintf(&b, " (type %d)", i.Typeidx())
		}
	case immIndex:
		if i.Opcode == OpPrefix {
			fmt.Fprintf(&b, " %d", i.Labels[0])
		} else {
			fmt.Fprintf(&b, " %d", uint32(i.Immediate))
		}
	case immIndexPair:
		fmt.Fprintf(&b, " %d %d", i.Labels[0], i.Labels[1])
	case immDataMemory:
		fmt.Fprintf(&b, " %d", i.Labels[0])
	case immBrTable:
		for _, l := range i.Labels {
			fmt.Fprintf(&b, " %d", l)
		}
		fmt.Fprintf(&b, " %d", i.Default())
	case immCallIndirect:
		if t := i.Tableidx(); t != 0 {
			fmt.Fprintf(&b, " %d", t)
		}
		fmt.Fprintf(&b, " (type %d)", i.Typeidx())
	case immMemarg:
		offset, align := i.Memarg()
		if offset != 0 {
			fmt.Fprintf(&b, " offset=%d", offset)
		}
		fmt.Fprintf(&b, " align=%d", 1<<align)
	case immI32:
		fmt.Fprintf(&b, " %d", i.I32())
	case immI64:
		fmt.Fprintf(&b, " %d", i.I64())
	case immF32:
		fmt.Fprintf(&b, " %g", i.F32())
	case immF64:
		fmt.Fprintf(&b, " %g", i.F64())
	case immSelectT:
		fmt.Fprintf(&b, " (result %v)", i.ValueType())
	case immRefType:
		b.WriteString(" func")
	}

	if len(i.Branches) != 0 {
		b.WriteString(" ;;")
		for _, br := range i.Branches {
			fmt.Fprintf(&b, " @%d", br.Target)
		}
	}
	return b.String()
}
