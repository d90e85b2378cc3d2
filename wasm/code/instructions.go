package code

import "math"

// Op returns an instruction with no immediates, such as i32.add or drop.
func Op(opcode byte) Instruction {
	return Instruction{Opcode: opcode}
}

func Unreachable() Instruction { return Op(OpUnreachable) }
func Nop() Instruction         { return Op(OpNop) }
func Else() Instruction        { return Op(OpElse) }
func End() Instruction         { return Op(OpEnd) }
func Return() Instruction      { return Op(OpReturn) }
func Drop() Instruction        { return Op(OpDrop) }
func Select() Instruction      { return Op(OpSelect) }

func blockType(blockType []uint64) uint64 {
	if len(blockType) != 0 {
		return blockType[0]
	}
	return BlockTypeEmpty
}

func Block(blockType_ ...uint64) Instruction {
	return Instruction{Opcode: OpBlock, Immediate: blockType(blockType_)}
}

func Loop(blockType_ ...uint64) Instruction {
	return Instruction{Opcode: OpLoop, Immediate: blockType(blockType_)}
}

func If(blockType_ ...uint64) Instruction {
	return Instruction{Opcode: OpIf, Immediate: blockType(blockType_)}
}

func Br(labelidx int) Instruction {
	return Instruction{Opcode: OpBr, Immediate: uint64(labelidx)}
}

func BrIf(labelidx int) Instruction {
	return Instruction{Opcode: OpBrIf, Immediate: uint64(labelidx)}
}

// BrTable returns a br_table whose last label is the default.
func BrTable(labelidx int, labelidxN ...int) Instruction {
	all := append([]int{labelidx}, labelidxN...)
	return Instruction{Opcode: OpBrTable, Immediate: uint64(all[len(all)-1]), Labels: all[:len(all)-1]}
}

func Call(funcidx uint32) Instruction {
	return Instruction{Opcode: OpCall, Immediate: uint64(funcidx)}
}

// CallIndirect returns a call_indirect of the given type through table 0.
func CallIndirect(typeidx uint32) Instruction {
	return Instruction{Opcode: OpCallIndirect, Immediate: uint64(typeidx)}
}

func LocalGet(localidx uint32) Instruction {
	return Instruction{Opcode: OpLocalGet, Immediate: uint64(localidx)}
}

func LocalSet(localidx uint32) Instruction {
	return Instruction{Opcode: OpLocalSet, Immediate: uint64(localidx)}
}

func LocalTee(localidx uint32) Instruction {
	return Instruction{Opcode: OpLocalTee, Immediate: uint64(localidx)}
}

func GlobalGet(globalidx uint32) Instruction {
	return Instruction{Opcode: OpGlobalGet, Immediate: uint64(globalidx)}
}

func GlobalSet(globalidx uint32) Instruction {
	return Instruction{Opcode: OpGlobalSet, Immediate: uint64(globalidx)}
}

// Mem returns a load or store with the given static offset and its natural alignment.
func Mem(opcode byte, offset uint32) Instruction {
	var align uint32
	switch opcode {
	case OpI32Load16S, OpI32Load16U, OpI64Load16S, OpI64Load16U, OpI32Store16, OpI64Store16:
		align = 1
	case OpI32Load, OpF32Load, OpI64Load32S, OpI64Load32U, OpI32Store, OpF32Store, OpI64Store32:
		align = 2
	case OpI64Load, OpF64Load, OpI64Store, OpF64Store:
		align = 3
	}
	return Instruction{Opcode: opcode, Immediate: memarg(offset, align)}
}

func MemorySize() Instruction { return Op(OpMemorySize) }
func MemoryGrow() Instruction { return Op(OpMemoryGrow) }

func I32Const(v int32) Instruction {
	return Instruction{Opcode: OpI32Const, Immediate: uint64(v)}
}

func I64Const(v int64) Instruction {
	return Instruction{Opcode: OpI64Const, Immediate: uint64(v)}
}

func F32Const(v float32) Instruction {
	return Instruction{Opcode: OpF32Const, Immediate: uint64(math.Float32bits(v))}
}

func F64Const(v float64) Instruction {
	return Instruction{Opcode: OpF64Const, Immediate: math.Float64bits(v)}
}

func RefNull() Instruction {
	return Instruction{Opcode: OpRefNull, Immediate: 0x70}
}

func RefIsNull() Instruction { return Op(OpRefIsNull) }

func RefFunc(funcidx uint32) Instruction {
	return Instruction{Opcode: OpRefFunc, Immediate: uint64(funcidx)}
}

func TableGet(tableidx uint32) Instruction {
	return Instruction{Opcode: OpTableGet, Immediate: uint64(tableidx)}
}

func TableSet(tableidx uint32) Instruction {
	return Instruction{Opcode: OpTableSet, Immediate: uint64(tableidx)}
}

// Prefixed returns a 0xfc-prefixed instruction with the given index immediates.
func Prefixed(op uint32, indices ...int) Instruction {
	return Instruction{Opcode: OpPrefix, Immediate: uint64(op), Labels: indices}
}

func MemoryInit(dataidx uint32) Instruction { return Prefixed(OpMemoryInit, int(dataidx)) }
func DataDrop(dataidx uint32) Instruction   { return Prefixed(OpDataDrop, int(dataidx)) }
func MemoryCopy() Instruction               { return Prefixed(OpMemoryCopy) }
func MemoryFill() Instruction               { return Prefixed(OpMemoryFill) }

func TableInit(tableidx, elemidx uint32) Instruction {
	return Prefixed(OpTableInit, int(elemidx), int(tableidx))
}

func ElemDrop(elemidx uint32) Instruction { return Prefixed(OpElemDrop, int(elemidx)) }

func TableCopy(dst, src uint32) Instruction {
	return Prefixed(OpTableCopy, int(dst), int(src))
}

func TableGrow(tableidx uint32) Instruction { return Prefixed(OpTableGrow, int(tableidx)) }
func TableSize(tableidx uint32) Instruction { return Prefixed(OpTableSize, int(tableidx)) }
func TableFill(tableidx uint32) Instruction { return Prefixed(OpTableFill, int(tableidx)) }
