package code

import "github.com/pgavlin/tandem/wasm"

type immKind uint8

const (
	immNone         immKind = iota
	immBlockType            // block type: empty, a value type, or a type index
	immIndex                // one u32 index
	immBrTable              // vector of label depths plus a default
	immCallIndirect         // type index, table index
	immMemarg               // alignment, offset
	immMemory               // one reserved memory index byte
	immI32                  // signed 32-bit LEB128
	immI64                  // signed 64-bit LEB128
	immF32                  // 4 little-endian bytes
	immF64                  // 8 little-endian bytes
	immSelectT              // vector of one value type
	immRefType              // one reference type byte
	immPrefix               // u32 sub-opcode followed by the sub-opcode's immediates

	// Immediates of prefixed instructions.
	immDataMemory // data index, reserved memory byte
	immMemoryPair // two reserved memory bytes
	immIndexPair  // two u32 indices
)

// opInfo describes the name, immediate encoding, and operand types of an instruction. Instructions whose
// operand types depend on their immediates or on the enclosing function are marked variadic and are typed
// by the decoder.
type opInfo struct {
	name     string
	imm      immKind
	pop      []wasm.ValueType
	push     []wasm.ValueType
	memory   bool // requires memory 0
	table    bool // requires a table
	variadic bool
}

var (
	opInfos     [256]*opInfo
	prefixInfos [numPrefixOps]*opInfo
)

var (
	tI32     = []wasm.ValueType{wasm.ValueTypeI32}
	tI64     = []wasm.ValueType{wasm.ValueTypeI64}
	tF32     = []wasm.ValueType{wasm.ValueTypeF32}
	tF64     = []wasm.ValueType{wasm.ValueTypeF64}
	tRef     = []wasm.ValueType{wasm.ValueTypeFuncRef}
	tI32x2   = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}
	tI32x3   = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}
	tI64x2   = []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI64}
	tF32x2   = []wasm.ValueType{wasm.ValueTypeF32, wasm.ValueTypeF32}
	tF64x2   = []wasm.ValueType{wasm.ValueTypeF64, wasm.ValueTypeF64}
	tI32I64  = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI64}
	tI32F32  = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeF32}
	tI32F64  = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeF64}
	tI32Ref  = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeFuncRef}
	tRefI32  = []wasm.ValueType{wasm.ValueTypeFuncRef, wasm.ValueTypeI32}
	tI32RefI = []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeFuncRef, wasm.ValueTypeI32}
)

func def(op byte, name string, imm immKind, pop, push []wasm.ValueType) *opInfo {
	info := &opInfo{name: name, imm: imm, pop: pop, push: push}
	opInfos[op] = info
	return info
}

func defPrefix(op byte, name string, imm immKind, pop, push []wasm.ValueType) *opInfo {
	info := &opInfo{name: name, imm: imm, pop: pop, push: push}
	prefixInfos[op] = info
	return info
}

func variadic(op byte, name string, imm immKind) {
	def(op, name, imm, nil, nil).variadic = true
}

func load(op byte, name string, result []wasm.ValueType) {
	def(op, name, immMemarg, tI32, result).memory = true
}

func store(op byte, name string, operands []wasm.ValueType) {
	def(op, name, immMemarg, operands, nil).memory = true
}

func init() {
	variadic(OpUnreachable, "unreachable", immNone)
	def(OpNop, "nop", immNone, nil, nil)
	variadic(OpBlock, "block", immBlockType)
	variadic(OpLoop, "loop", immBlockType)
	variadic(OpIf, "if", immBlockType)
	variadic(OpElse, "else", immNone)
	variadic(OpEnd, "end", immNone)
	variadic(OpBr, "br", immIndex)
	variadic(OpBrIf, "br_if", immIndex)
	variadic(OpBrTable, "br_table", immBrTable)
	variadic(OpReturn, "return", immNone)
	variadic(OpCall, "call", immIndex)
	variadic(OpCallIndirect, "call_indirect", immCallIndirect)

	variadic(OpDrop, "drop", immNone)
	variadic(OpSelect, "select", immNone)
	variadic(OpSelectT, "select", immSelectT)

	variadic(OpLocalGet, "local.get", immIndex)
	variadic(OpLocalSet, "local.set", immIndex)
	variadic(OpLocalTee, "local.tee", immIndex)
	variadic(OpGlobalGet, "global.get", immIndex)
	variadic(OpGlobalSet, "global.set", immIndex)
	def(OpTableGet, "table.get", immIndex, tI32, tRef).table = true
	def(OpTableSet, "table.set", immIndex, tI32Ref, nil).table = true

	load(OpI32Load, "i32.load", tI32)
	load(OpI64Load, "i64.load", tI64)
	load(OpF32Load, "f32.load", tF32)
	load(OpF64Load, "f64.load", tF64)
	load(OpI32Load8S, "i32.load8_s", tI32)
	load(OpI32Load8U, "i32.load8_u", tI32)
	load(OpI32Load16S, "i32.load16_s", tI32)
	load(OpI32Load16U, "i32.load16_u", tI32)
	load(OpI64Load8S, "i64.load8_s", tI64)
	load(OpI64Load8U, "i64.load8_u", tI64)
	load(OpI64Load16S, "i64.load16_s", tI64)
	load(OpI64Load16U, "i64.load16_u", tI64)
	load(OpI64Load32S, "i64.load32_s", tI64)
	load(OpI64Load32U, "i64.load32_u", tI64)
	store(OpI32Store, "i32.store", tI32x2)
	store(OpI64Store, "i64.store", tI32I64)
	store(OpF32Store, "f32.store", tI32F32)
	store(OpF64Store, "f64.store", tI32F64)
	store(OpI32Store8, "i32.store8", tI32x2)
	store(OpI32Store16, "i32.store16", tI32x2)
	store(OpI64Store8, "i64.store8", tI32I64)
	store(OpI64Store16, "i64.store16", tI32I64)
	store(OpI64Store32, "i64.store32", tI32I64)
	def(OpMemorySize, "memory.size", immMemory, nil, tI32).memory = true
	def(OpMemoryGrow, "memory.grow", immMemory, tI32, tI32).memory = true

	def(OpI32Const, "i32.const", immI32, nil, tI32)
	def(OpI64Const, "i64.const", immI64, nil, tI64)
	def(OpF32Const, "f32.const", immF32, nil, tF32)
	def(OpF64Const, "f64.const", immF64, nil, tF64)

	def(OpI32Eqz, "i32.eqz", immNone, tI32, tI32)
	for op, name := range map[byte]string{
		OpI32Eq: "i32.eq", OpI32Ne: "i32.ne", OpI32LtS: "i32.lt_s", OpI32LtU: "i32.lt_u", OpI32GtS: "i32.gt_s",
		OpI32GtU: "i32.gt_u", OpI32LeS: "i32.le_s", OpI32LeU: "i32.le_u", OpI32GeS: "i32.ge_s", OpI32GeU: "i32.ge_u",
	} {
		def(op, name, immNone, tI32x2, tI32)
	}
	def(OpI64Eqz, "i64.eqz", immNone, tI64, tI32)
	for op, name := range map[byte]string{
		OpI64Eq: "i64.eq", OpI64Ne: "i64.ne", OpI64LtS: "i64.lt_s", OpI64LtU: "i64.lt_u", OpI64GtS: "i64.gt_s",
		OpI64GtU: "i64.gt_u", OpI64LeS: "i64.le_s", OpI64LeU: "i64.le_u", OpI64GeS: "i64.ge_s", OpI64GeU: "i64.ge_u",
	} {
		def(op, name, immNone, tI64x2, tI32)
	}
	for op, name := range map[byte]string{
		OpF32Eq: "f32.eq", OpF32Ne: "f32.ne", OpF32Lt: "f32.lt", OpF32Gt: "f32.gt", OpF32Le: "f32.le", OpF32Ge: "f32.ge",
	} {
		def(op, name, immNone, tF32x2, tI32)
	}
	for op, name := range map[byte]string{
		OpF64Eq: "f64.eq", OpF64Ne: "f64.ne", OpF64Lt: "f64.lt", OpF64Gt: "f64.gt", OpF64Le: "f64.le", OpF64Ge: "f64.ge",
	} {
		def(op, name, immNone, tF64x2, tI32)
	}

	for op, name := range map[byte]string{
		OpI32Clz: "i32.clz", OpI32Ctz: "i32.ctz", OpI32Popcnt: "i32.popcnt",
		OpI32Extend8S: "i32.extend8_s", OpI32Extend16S: "i32.extend16_s",
	} {
		def(op, name, immNone, tI32, tI32)
	}
	for op, name := range map[byte]string{
		OpI32Add: "i32.add", OpI32Sub: "i32.sub", OpI32Mul: "i32.mul", OpI32DivS: "i32.div_s", OpI32DivU: "i32.div_u",
		OpI32RemS: "i32.rem_s", OpI32RemU: "i32.rem_u", OpI32And: "i32.and", OpI32Or: "i32.or", OpI32Xor: "i32.xor",
		OpI32Shl: "i32.shl", OpI32ShrS: "i32.shr_s", OpI32ShrU: "i32.shr_u", OpI32Rotl: "i32.rotl", OpI32Rotr: "i32.rotr",
	} {
		def(op, name, immNone, tI32x2, tI32)
	}
	for op, name := range map[byte]string{
		OpI64Clz: "i64.clz", OpI64Ctz: "i64.ctz", OpI64Popcnt: "i64.popcnt",
		OpI64Extend8S: "i64.extend8_s", OpI64Extend16S: "i64.extend16_s", OpI64Extend32S: "i64.extend32_s",
	} {
		def(op, name, immNone, tI64, tI64)
	}
	for op, name := range map[byte]string{
		OpI64Add: "i64.add", OpI64Sub: "i64.sub", OpI64Mul: "i64.mul", OpI64DivS: "i64.div_s", OpI64DivU: "i64.div_u",
		OpI64RemS: "i64.rem_s", OpI64RemU: "i64.rem_u", OpI64And: "i64.and", OpI64Or: "i64.or", OpI64Xor: "i64.xor",
		OpI64Shl: "i64.shl", OpI64ShrS: "i64.shr_s", OpI64ShrU: "i64.shr_u", OpI64Rotl: "i64.rotl", OpI64Rotr: "i64.rotr",
	} {
		def(op, name, immNone, tI64x2, tI64)
	}
	for op, name := range map[byte]string{
		OpF32Abs: "f32.abs", OpF32Neg: "f32.neg", OpF32Ceil: "f32.ceil", OpF32Floor: "f32.floor",
		OpF32Trunc: "f32.trunc", OpF32Nearest: "f32.nearest", OpF32Sqrt: "f32.sqrt",
	} {
		def(op, name, immNone, tF32, tF32)
	}
	for op, name := range map[byte]string{
		OpF32Add: "f32.add", OpF32Sub: "f32.sub", OpF32Mul: "f32.mul", OpF32Div: "f32.div",
		OpF32Min: "f32.min", OpF32Max: "f32.max", OpF32Copysign: "f32.copysign",
	} {
		def(op, name, immNone, tF32x2, tF32)
	}
	for op, name := range map[byte]string{
		OpF64Abs: "f64.abs", OpF64Neg: "f64.neg", OpF64Ceil: "f64.ceil", OpF64Floor: "f64.floor",
		OpF64Trunc: "f64.trunc", OpF64Nearest: "f64.nearest", OpF64Sqrt: "f64.sqrt",
	} {
		def(op, name, immNone, tF64, tF64)
	}
	for op, name := range map[byte]string{
		OpF64Add: "f64.add", OpF64Sub: "f64.sub", OpF64Mul: "f64.mul", OpF64Div: "f64.div",
		OpF64Min: "f64.min", OpF64Max: "f64.max", OpF64Copysign: "f64.copysign",
	} {
		def(op, name, immNone, tF64x2, tF64)
	}

	def(OpI32WrapI64, "i32.wrap_i64", immNone, tI64, tI32)
	def(OpI32TruncF32S, "i32.trunc_f32_s", immNone, tF32, tI32)
	def(OpI32TruncF32U, "i32.trunc_f32_u", immNone, tF32, tI32)
	def(OpI32TruncF64S, "i32.trunc_f64_s", immNone, tF64, tI32)
	def(OpI32TruncF64U, "i32.trunc_f64_u", immNone, tF64, tI32)
	def(OpI64ExtendI32S, "i64.extend_i32_s", immNone, tI32, tI64)
	def(OpI64ExtendI32U, "i64.extend_i32_u", immNone, tI32, tI64)
	def(OpI64TruncF32S, "i64.trunc_f32_s", immNone, tF32, tI64)
	def(OpI64TruncF32U, "i64.trunc_f32_u", immNone, tF32, tI64)
	def(OpI64TruncF64S, "i64.trunc_f64_s", immNone, tF64, tI64)
	def(OpI64TruncF64U, "i64.trunc_f64_u", immNone, tF64, tI64)
	def(OpF32ConvertI32S, "f32.convert_i32_s", immNone, tI32, tF32)
	def(OpF32ConvertI32U, "f32.convert_i32_u", immNone, tI32, tF32)
	def(OpF32ConvertI64S, "f32.convert_i64_s", immNone, tI64, tF32)
	def(OpF32ConvertI64U, "f32.convert_i64_u", immNone, tI64, tF32)
	def(OpF32DemoteF64, "f32.demote_f64", immNone, tF64, tF32)
	def(OpF64ConvertI32S, "f64.convert_i32_s", immNone, tI32, tF64)
	def(OpF64ConvertI32U, "f64.convert_i32_u", immNone, tI32, tF64)
	def(OpF64ConvertI64S, "f64.convert_i64_s", immNone, tI64, tF64)
	def(OpF64ConvertI64U, "f64.convert_i64_u", immNone, tI64, tF64)
	def(OpF64PromoteF32, "f64.promote_f32", immNone, tF32, tF64)
	def(OpI32ReinterpretF32, "i32.reinterpret_f32", immNone, tF32, tI32)
	def(OpI64ReinterpretF64, "i64.reinterpret_f64", immNone, tF64, tI64)
	def(OpF32ReinterpretI32, "f32.reinterpret_i32", immNone, tI32, tF32)
	def(OpF64ReinterpretI64, "f64.reinterpret_i64", immNone, tI64, tF64)

	def(OpRefNull, "ref.null", immRefType, nil, tRef)
	def(OpRefIsNull, "ref.is_null", immNone, tRef, tI32)
	def(OpRefFunc, "ref.func", immIndex, nil, tRef)

	variadic(OpPrefix, "", immPrefix)

	defPrefix(OpI32TruncSatF32S, "i32.trunc_sat_f32_s", immNone, tF32, tI32)
	defPrefix(OpI32TruncSatF32U, "i32.trunc_sat_f32_u", immNone, tF32, tI32)
	defPrefix(OpI32TruncSatF64S, "i32.trunc_sat_f64_s", immNone, tF64, tI32)
	defPrefix(OpI32TruncSatF64U, "i32.trunc_sat_f64_u", immNone, tF64, tI32)
	defPrefix(OpI64TruncSatF32S, "i64.trunc_sat_f32_s", immNone, tF32, tI64)
	defPrefix(OpI64TruncSatF32U, "i64.trunc_sat_f32_u", immNone, tF32, tI64)
	defPrefix(OpI64TruncSatF64S, "i64.trunc_sat_f64_s", immNone, tF64, tI64)
	defPrefix(OpI64TruncSatF64U, "i64.trunc_sat_f64_u", immNone, tF64, tI64)
	defPrefix(OpMemoryInit, "memory.init", immDataMemory, tI32x3, nil).memory = true
	defPrefix(OpDataDrop, "data.drop", immIndex, nil, nil)
	defPrefix(OpMemoryCopy, "memory.copy", immMemoryPair, tI32x3, nil).memory = true
	defPrefix(OpMemoryFill, "memory.fill", immMemory, tI32x3, nil).memory = true
	defPrefix(OpTableInit, "table.init", immIndexPair, tI32x3, nil).table = true
	defPrefix(OpElemDrop, "elem.drop", immIndex, nil, nil)
	defPrefix(OpTableCopy, "table.copy", immIndexPair, tI32x3, nil).table = true
	defPrefix(OpTableGrow, "table.grow", immIndex, tRefI32, tI32).table = true
	defPrefix(OpTableSize, "table.size", immIndex, nil, tI32).table = true
	defPrefix(OpTableFill, "table.fill", immIndex, tI32RefI, nil).table = true
}

// info returns the metadata for an instruction, or nil if the instruction is unknown.
func (i *Instruction) info() *opInfo {
	if i.Opcode == OpPrefix {
		if i.Immediate >= numPrefixOps {
			return nil
		}
		return prefixInfos[i.Immediate]
	}
	return opInfos[i.Opcode]
}

// IsValid returns true if the instruction's opcode is known.
func (i *Instruction) IsValid() bool {
	return i.info() != nil
}

// Name returns the text-format mnemonic of the instruction.
func (i *Instruction) Name() string {
	if info := i.info(); info != nil {
		return info.name
	}
	return "<invalid>"
}
