package exec

import (
	"math"
	"testing"

	"github.com/pgavlin/tandem/wasm/code"
	"github.com/stretchr/testify/assert"
)

func binaryOp(t *testing.T, opcode byte) BinaryOp {
	op, ok := Binary(opcode)
	if !ok {
		t.Fatalf("no implementation for opcode 0x%02x", opcode)
	}
	return op
}

func unaryOp(t *testing.T, instr code.Instruction) UnaryOp {
	op, ok := Unary(&instr)
	if !ok {
		t.Fatalf("no implementation for %v", instr)
	}
	return op
}

func TestBinaryOps(t *testing.T) {
	cases := []struct {
		opcode   byte
		x, y     uint64
		expected uint64
	}{
		{code.OpI32Add, 0xffffffff, 1, 0},
		{code.OpI32Sub, 0, 1, 0xffffffff},
		{code.OpI32DivU, 0xffffffff, 2, 0x7fffffff},
		{code.OpI32RemS, i32b(-7), 2, i32b(-1)},
		{code.OpI32Shl, 1, 32, 1},
		{code.OpI32ShrS, i32b(-8), 33, i32b(-4)},
		{code.OpI32Rotr, 1, 1, 0x80000000},
		{code.OpI32LtS, i32b(-1), 0, 1},
		{code.OpI32LtU, i32b(-1), 0, 0},
		{code.OpI64Mul, 1 << 32, 1 << 32, 0},
		{code.OpI64ShrU, 1 << 63, 63, 1},
		{code.OpI64Rotl, 1 << 63, 1, 1},
		{code.OpI64GeS, 0, 1 << 63, 1},
		{code.OpF32Add, f32b(1.5), f32b(2), f32b(3.5)},
		{code.OpF32Copysign, f32b(3), f32b(-1), f32b(-3)},
		{code.OpF64Copysign, f64b(3), f64b(math.Copysign(0, -1)), f64b(-3)},
		{code.OpF64Min, f64b(0), f64b(math.Copysign(0, -1)), f64b(math.Copysign(0, -1))},
		{code.OpF64Ne, f64b(math.NaN()), f64b(math.NaN()), 1},
		{code.OpF64Eq, f64b(math.NaN()), f64b(math.NaN()), 0},
	}
	for _, c := range cases {
		op := binaryOp(t, c.opcode)
		assert.Equal(t, c.expected, op(c.x, c.y), "opcode 0x%02x(%#x, %#x)", c.opcode, c.x, c.y)
	}
}

func TestUnaryOps(t *testing.T) {
	cases := []struct {
		instr    code.Instruction
		x        uint64
		expected uint64
	}{
		{code.Op(code.OpI32Eqz), 0, 1},
		{code.Op(code.OpI32Ctz), 0, 32},
		{code.Op(code.OpI64Clz), 1, 63},
		{code.Op(code.OpI64Popcnt), math.MaxUint64, 64},
		{code.Op(code.OpI32WrapI64), 0x1_0000_0002, 2},
		{code.Op(code.OpI64ExtendI32S), 0x80000000, 0xffffffff80000000},
		{code.Op(code.OpI64Extend32S), 0x80000000, 0xffffffff80000000},
		{code.Op(code.OpI32Extend16S), 0x8000, 0xffff8000},
		{code.Op(code.OpF32Neg), f32b(1), f32b(-1)},
		{code.Op(code.OpF64Abs), f64b(-2), f64b(2)},
		{code.Op(code.OpF64Nearest), f64b(-0.5), f64b(math.Copysign(0, -1))},
		{code.Op(code.OpF64Nearest), f64b(3.5), f64b(4)},
		{code.Op(code.OpF32ConvertI32U), 0xffffffff, f32b(4294967296)},
		{code.Op(code.OpF64ConvertI32S), i32b(-1), f64b(-1)},
		{code.Op(code.OpF64PromoteF32), f32b(0.5), f64b(0.5)},
		{code.Op(code.OpI32ReinterpretF32), f32b(1), 0x3f800000},
		{code.Op(code.OpI32TruncF64U), f64b(-0.9), 0},
		{code.Prefixed(code.OpI32TruncSatF64U), f64b(-5), 0},
		{code.Prefixed(code.OpI64TruncSatF64S), f64b(math.Inf(1)), math.MaxInt64},
		{code.Prefixed(code.OpI64TruncSatF32U), f32b(float32(math.NaN())), 0},
	}
	for _, c := range cases {
		op := unaryOp(t, c.instr)
		assert.Equal(t, c.expected, op(c.x), "%v(%#x)", c.instr, c.x)
	}
}

func TestNumericTraps(t *testing.T) {
	cases := []struct {
		name string
		f    func()
		trap Trap
	}{
		{"i32.div_s by zero", func() { binaryOp(t, code.OpI32DivS)(1, 0) }, TrapIntegerDivideByZero},
		{"i32.div_s overflow", func() { binaryOp(t, code.OpI32DivS)(i32b(math.MinInt32), i32b(-1)) }, TrapIntegerOverflow},
		{"i64.rem_s by zero", func() { binaryOp(t, code.OpI64RemS)(1, 0) }, TrapIntegerDivideByZero},
		{"i64.div_u by zero", func() { binaryOp(t, code.OpI64DivU)(1, 0) }, TrapIntegerDivideByZero},
		{"i32.trunc_f32_s nan", func() { unaryOp(t, code.Op(code.OpI32TruncF32S))(f32b(float32(math.NaN()))) }, TrapInvalidConversionToInteger},
		{"i32.trunc_f64_s overflow", func() { unaryOp(t, code.Op(code.OpI32TruncF64S))(f64b(2147483648)) }, TrapIntegerOverflow},
		{"i64.trunc_f64_s overflow", func() { unaryOp(t, code.Op(code.OpI64TruncF64S))(f64b(9223372036854775808)) }, TrapIntegerOverflow},
		{"i64.trunc_f32_u negative", func() { unaryOp(t, code.Op(code.OpI64TruncF32U))(f32b(-1)) }, TrapIntegerOverflow},
	}
	for _, c := range cases {
		assert.Equal(t, c.trap, trapOf(c.f), c.name)
	}

	assert.Equal(t, uint64(0), binaryOp(t, code.OpI32RemS)(i32b(math.MinInt32), i32b(-1)))
	assert.Equal(t, uint64(0), binaryOp(t, code.OpI64RemS)(1<<63, math.MaxUint64))
}
