package exec

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/pgavlin/tandem/wasm/code"
)

// A UnaryOp implements a numeric instruction that pops one operand and pushes one result. Operands and
// results are raw bits: i32 values are zero-extended and floats are stored as their IEEE bit patterns.
type UnaryOp func(x uint64) uint64

// A BinaryOp implements a numeric instruction that pops two operands and pushes one result.
type BinaryOp func(x, y uint64) uint64

var (
	unaryOps  [256]UnaryOp
	binaryOps [256]BinaryOp
	satOps    [code.OpI64TruncSatF64U + 1]UnaryOp
)

// Unary returns the implementation of a unary numeric instruction.
func Unary(instr *code.Instruction) (UnaryOp, bool) {
	if instr.Opcode == code.OpPrefix {
		if op := instr.PrefixOp(); op < uint32(len(satOps)) {
			return satOps[op], true
		}
		return nil, false
	}
	op := unaryOps[instr.Opcode]
	return op, op != nil
}

// Binary returns the implementation of a binary numeric instruction.
func Binary(opcode byte) (BinaryOp, bool) {
	op := binaryOps[opcode]
	return op, op != nil
}

// MustUnary returns the implementation of the unary numeric instruction with the given opcode and, for
// prefixed instructions, sub-opcode. It panics if there is none. Generated code uses it to bind operators at
// package initialization.
func MustUnary(opcode byte, prefixOp uint32) UnaryOp {
	op, ok := Unary(&code.Instruction{Opcode: opcode, Immediate: uint64(prefixOp)})
	if !ok {
		panic(fmt.Errorf("no unary operator for opcode %#x/%d", opcode, prefixOp))
	}
	return op
}

// MustBinary returns the implementation of the binary numeric instruction with the given opcode. It panics
// if there is none.
func MustBinary(opcode byte) BinaryOp {
	op, ok := Binary(opcode)
	if !ok {
		panic(fmt.Errorf("no binary operator for opcode %#x", opcode))
	}
	return op
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func i32(x uint64) uint64 { return uint64(uint32(x)) }

func i32b(v int32) uint64 { return uint64(uint32(v)) }

func f32(x uint64) float32  { return math.Float32frombits(uint32(x)) }
func f32b(z float32) uint64 { return uint64(math.Float32bits(z)) }
func f64(x uint64) float64  { return math.Float64frombits(x) }
func f64b(z float64) uint64 { return math.Float64bits(z) }

func checkDivisor(y uint64) {
	if y == 0 {
		panic(TrapIntegerDivideByZero)
	}
}

// I32DivS divides two signed 32-bit integers, trapping on overflow.
func I32DivS(i1, i2 int32) int32 {
	if i2 == 0 {
		panic(TrapIntegerDivideByZero)
	}
	if i1 == math.MinInt32 && i2 == -1 {
		panic(TrapIntegerOverflow)
	}
	return i1 / i2
}

// I64DivS divides two signed 64-bit integers, trapping on overflow.
func I64DivS(i1, i2 int64) int64 {
	if i2 == 0 {
		panic(TrapIntegerDivideByZero)
	}
	if i1 == math.MinInt64 && i2 == -1 {
		panic(TrapIntegerOverflow)
	}
	return i1 / i2
}

// Fmax returns the larger of its operands, propagating NaNs.
func Fmax(z1, z2 float64) float64 {
	switch {
	case math.IsNaN(z1):
		return z1
	case math.IsNaN(z2):
		return z2
	}
	return math.Max(z1, z2)
}

// Fmin returns the smaller of its operands, propagating NaNs.
func Fmin(z1, z2 float64) float64 {
	switch {
	case math.IsNaN(z1):
		return z1
	case math.IsNaN(z2):
		return z2
	}
	return math.Min(z1, z2)
}

func truncChecked(z, lo, hi float64) float64 {
	if math.IsNaN(z) {
		panic(TrapInvalidConversionToInteger)
	}
	z = math.Trunc(z)
	if z < lo || z >= hi {
		panic(TrapIntegerOverflow)
	}
	return z
}

func I32TruncS(z float64) int32 {
	return int32(truncChecked(z, math.MinInt32, math.MaxInt32+1))
}

func I32TruncU(z float64) uint32 {
	return uint32(truncChecked(z, 0, math.MaxUint32+1))
}

func I64TruncS(z float64) int64 {
	return int64(truncChecked(z, math.MinInt64, -math.MinInt64))
}

func I64TruncU(z float64) uint64 {
	return uint64(truncChecked(z, 0, 2*-float64(math.MinInt64)))
}

func I32TruncSatS(z float64) int32 {
	switch {
	case math.IsNaN(z):
		return 0
	case z <= math.MinInt32:
		return math.MinInt32
	case z >= math.MaxInt32:
		return math.MaxInt32
	}
	return int32(z)
}

func I32TruncSatU(z float64) uint32 {
	switch {
	case math.IsNaN(z) || z <= 0:
		return 0
	case z >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(z)
}

func I64TruncSatS(z float64) int64 {
	switch {
	case math.IsNaN(z):
		return 0
	case z <= math.MinInt64:
		return math.MinInt64
	case z >= -math.MinInt64:
		return math.MaxInt64
	}
	return int64(z)
}

func I64TruncSatU(z float64) uint64 {
	switch {
	case math.IsNaN(z) || z <= 0:
		return 0
	case z >= 2*-float64(math.MinInt64):
		return math.MaxUint64
	}
	return uint64(z)
}

func init() {
	u := func(op byte, f UnaryOp) { unaryOps[op] = f }
	b := func(op byte, f BinaryOp) { binaryOps[op] = f }

	// i32
	u(code.OpI32Eqz, func(x uint64) uint64 { return b2u(uint32(x) == 0) })
	b(code.OpI32Eq, func(x, y uint64) uint64 { return b2u(uint32(x) == uint32(y)) })
	b(code.OpI32Ne, func(x, y uint64) uint64 { return b2u(uint32(x) != uint32(y)) })
	b(code.OpI32LtS, func(x, y uint64) uint64 { return b2u(int32(x) < int32(y)) })
	b(code.OpI32LtU, func(x, y uint64) uint64 { return b2u(uint32(x) < uint32(y)) })
	b(code.OpI32GtS, func(x, y uint64) uint64 { return b2u(int32(x) > int32(y)) })
	b(code.OpI32GtU, func(x, y uint64) uint64 { return b2u(uint32(x) > uint32(y)) })
	b(code.OpI32LeS, func(x, y uint64) uint64 { return b2u(int32(x) <= int32(y)) })
	b(code.OpI32LeU, func(x, y uint64) uint64 { return b2u(uint32(x) <= uint32(y)) })
	b(code.OpI32GeS, func(x, y uint64) uint64 { return b2u(int32(x) >= int32(y)) })
	b(code.OpI32GeU, func(x, y uint64) uint64 { return b2u(uint32(x) >= uint32(y)) })
	u(code.OpI32Clz, func(x uint64) uint64 { return uint64(bits.LeadingZeros32(uint32(x))) })
	u(code.OpI32Ctz, func(x uint64) uint64 { return uint64(bits.TrailingZeros32(uint32(x))) })
	u(code.OpI32Popcnt, func(x uint64) uint64 { return uint64(bits.OnesCount32(uint32(x))) })
	b(code.OpI32Add, func(x, y uint64) uint64 { return i32(x + y) })
	b(code.OpI32Sub, func(x, y uint64) uint64 { return i32(x - y) })
	b(code.OpI32Mul, func(x, y uint64) uint64 { return i32(x * y) })
	b(code.OpI32DivS, func(x, y uint64) uint64 { return i32b(I32DivS(int32(x), int32(y))) })
	b(code.OpI32DivU, func(x, y uint64) uint64 { checkDivisor(i32(y)); return uint64(uint32(x) / uint32(y)) })
	b(code.OpI32RemS, func(x, y uint64) uint64 { checkDivisor(i32(y)); return i32b(int32(x) % int32(y)) })
	b(code.OpI32RemU, func(x, y uint64) uint64 { checkDivisor(i32(y)); return uint64(uint32(x) % uint32(y)) })
	b(code.OpI32And, func(x, y uint64) uint64 { return x & y })
	b(code.OpI32Or, func(x, y uint64) uint64 { return x | y })
	b(code.OpI32Xor, func(x, y uint64) uint64 { return x ^ y })
	b(code.OpI32Shl, func(x, y uint64) uint64 { return i32(x << (y & 31)) })
	b(code.OpI32ShrS, func(x, y uint64) uint64 { return i32b(int32(x) >> (y & 31)) })
	b(code.OpI32ShrU, func(x, y uint64) uint64 { return uint64(uint32(x) >> (y & 31)) })
	b(code.OpI32Rotl, func(x, y uint64) uint64 { return uint64(bits.RotateLeft32(uint32(x), int(y&31))) })
	b(code.OpI32Rotr, func(x, y uint64) uint64 { return uint64(bits.RotateLeft32(uint32(x), -int(y&31))) })

	// i64
	u(code.OpI64Eqz, func(x uint64) uint64 { return b2u(x == 0) })
	b(code.OpI64Eq, func(x, y uint64) uint64 { return b2u(x == y) })
	b(code.OpI64Ne, func(x, y uint64) uint64 { return b2u(x != y) })
	b(code.OpI64LtS, func(x, y uint64) uint64 { return b2u(int64(x) < int64(y)) })
	b(code.OpI64LtU, func(x, y uint64) uint64 { return b2u(x < y) })
	b(code.OpI64GtS, func(x, y uint64) uint64 { return b2u(int64(x) > int64(y)) })
	b(code.OpI64GtU, func(x, y uint64) uint64 { return b2u(x > y) })
	b(code.OpI64LeS, func(x, y uint64) uint64 { return b2u(int64(x) <= int64(y)) })
	b(code.OpI64LeU, func(x, y uint64) uint64 { return b2u(x <= y) })
	b(code.OpI64GeS, func(x, y uint64) uint64 { return b2u(int64(x) >= int64(y)) })
	b(code.OpI64GeU, func(x, y uint64) uint64 { return b2u(x >= y) })
	u(code.OpI64Clz, func(x uint64) uint64 { return uint64(bits.LeadingZeros64(x)) })
	u(code.OpI64Ctz, func(x uint64) uint64 { return uint64(bits.TrailingZeros64(x)) })
	u(code.OpI64Popcnt, func(x uint64) uint64 { return uint64(bits.OnesCount64(x)) })
	b(code.OpI64Add, func(x, y uint64) uint64 { return x + y })
	b(code.OpI64Sub, func(x, y uint64) uint64 { return x - y })
	b(code.OpI64Mul, func(x, y uint64) uint64 { return x * y })
	b(code.OpI64DivS, func(x, y uint64) uint64 { return uint64(I64DivS(int64(x), int64(y))) })
	b(code.OpI64DivU, func(x, y uint64) uint64 { checkDivisor(y); return x / y })
	b(code.OpI64RemS, func(x, y uint64) uint64 { checkDivisor(y); return uint64(int64(x) % int64(y)) })
	b(code.OpI64RemU, func(x, y uint64) uint64 { checkDivisor(y); return x % y })
	b(code.OpI64And, func(x, y uint64) uint64 { return x & y })
	b(code.OpI64Or, func(x, y uint64) uint64 { return x | y })
	b(code.OpI64Xor, func(x, y uint64) uint64 { return x ^ y })
	b(code.OpI64Shl, func(x, y uint64) uint64 { return x << (y & 63) })
	b(code.OpI64ShrS, func(x, y uint64) uint64 { return uint64(int64(x) >> (y & 63)) })
	b(code.OpI64ShrU, func(x, y uint64) uint64 { return x >> (y & 63) })
	b(code.OpI64Rotl, func(x, y uint64) uint64 { return bits.RotateLeft64(x, int(y&63)) })
	b(code.OpI64Rotr, func(x, y uint64) uint64 { return bits.RotateLeft64(x, -int(y&63)) })

	// f32
	b(code.OpF32Eq, func(x, y uint64) uint64 { return b2u(f32(x) == f32(y)) })
	b(code.OpF32Ne, func(x, y uint64) uint64 { return b2u(f32(x) != f32(y)) })
	b(code.OpF32Lt, func(x, y uint64) uint64 { return b2u(f32(x) < f32(y)) })
	b(code.OpF32Gt, func(x, y uint64) uint64 { return b2u(f32(x) > f32(y)) })
	b(code.OpF32Le, func(x, y uint64) uint64 { return b2u(f32(x) <= f32(y)) })
	b(code.OpF32Ge, func(x, y uint64) uint64 { return b2u(f32(x) >= f32(y)) })
	u(code.OpF32Abs, func(x uint64) uint64 { return x &^ (1 << 31) })
	u(code.OpF32Neg, func(x uint64) uint64 { return i32(x ^ (1 << 31)) })
	u(code.OpF32Ceil, func(x uint64) uint64 { return f32b(float32(math.Ceil(float64(f32(x))))) })
	u(code.OpF32Floor, func(x uint64) uint64 { return f32b(float32(math.Floor(float64(f32(x))))) })
	u(code.OpF32Trunc, func(x uint64) uint64 { return f32b(float32(math.Trunc(float64(f32(x))))) })
	u(code.OpF32Nearest, func(x uint64) uint64 { return f32b(float32(math.RoundToEven(float64(f32(x))))) })
	u(code.OpF32Sqrt, func(x uint64) uint64 { return f32b(float32(math.Sqrt(float64(f32(x))))) })
	b(code.OpF32Add, func(x, y uint64) uint64 { return f32b(f32(x) + f32(y)) })
	b(code.OpF32Sub, func(x, y uint64) uint64 { return f32b(f32(x) - f32(y)) })
	b(code.OpF32Mul, func(x, y uint64) uint64 { return f32b(f32(x) * f32(y)) })
	b(code.OpF32Div, func(x, y uint64) uint64 { return f32b(f32(x) / f32(y)) })
	b(code.OpF32Min, func(x, y uint64) uint64 { return f32b(float32(Fmin(float64(f32(x)), float64(f32(y))))) })
	b(code.OpF32Max, func(x, y uint64) uint64 { return f32b(float32(Fmax(float64(f32(x)), float64(f32(y))))) })
	b(code.OpF32Copysign, func(x, y uint64) uint64 { return x&^(1<<31) | y&(1<<31) })

	// f64
	b(code.OpF64Eq, func(x, y uint64) uint64 { return b2u(f64(x) == f64(y)) })
	b(code.OpF64Ne, func(x, y uint64) uint64 { return b2u(f64(x) != f64(y)) })
	b(code.OpF64Lt, func(x, y uint64) uint64 { return b2u(f64(x) < f64(y)) })
	b(code.OpF64Gt, func(x, y uint64) uint64 { return b2u(f64(x) > f64(y)) })
	b(code.OpF64Le, func(x, y uint64) uint64 { return b2u(f64(x) <= f64(y)) })
	b(code.OpF64Ge, func(x, y uint64) uint64 { return b2u(f64(x) >= f64(y)) })
	u(code.OpF64Abs, func(x uint64) uint64 { return x &^ (1 << 63) })
	u(code.OpF64Neg, func(x uint64) uint64 { return x ^ (1 << 63) })
	u(code.OpF64Ceil, func(x uint64) uint64 { return f64b(math.Ceil(f64(x))) })
	u(code.OpF64Floor, func(x uint64) uint64 { return f64b(math.Floor(f64(x))) })
	u(code.OpF64Trunc, func(x uint64) uint64 { return f64b(math.Trunc(f64(x))) })
	u(code.OpF64Nearest, func(x uint64) uint64 { return f64b(math.RoundToEven(f64(x))) })
	u(code.OpF64Sqrt, func(x uint64) uint64 { return f64b(math.Sqrt(f64(x))) })
	b(code.OpF64Add, func(x, y uint64) uint64 { return f64b(f64(x) + f64(y)) })
	b(code.OpF64Sub, func(x, y uint64) uint64 { return f64b(f64(x) - f64(y)) })
	b(code.OpF64Mul, func(x, y uint64) uint64 { return f64b(f64(x) * f64(y)) })
	b(code.OpF64Div, func(x, y uint64) uint64 { return f64b(f64(x) / f64(y)) })
	b(code.OpF64Min, func(x, y uint64) uint64 { return f64b(Fmin(f64(x), f64(y))) })
	b(code.OpF64Max, func(x, y uint64) uint64 { return f64b(Fmax(f64(x), f64(y))) })
	b(code.OpF64Copysign, func(x, y uint64) uint64 { return x&^(1<<63) | y&(1<<63) })

	// conversions
	u(code.OpI32WrapI64, i32)
	u(code.OpI32TruncF32S, func(x uint64) uint64 { return i32b(I32TruncS(float64(f32(x)))) })
	u(code.OpI32TruncF32U, func(x uint64) uint64 { return uint64(I32TruncU(float64(f32(x)))) })
	u(code.OpI32TruncF64S, func(x uint64) uint64 { return i32b(I32TruncS(f64(x))) })
	u(code.OpI32TruncF64U, func(x uint64) uint64 { return uint64(I32TruncU(f64(x))) })
	u(code.OpI64ExtendI32S, func(x uint64) uint64 { return uint64(int64(int32(x))) })
	u(code.OpI64ExtendI32U, i32)
	u(code.OpI64TruncF32S, func(x uint64) uint64 { return uint64(I64TruncS(float64(f32(x)))) })
	u(code.OpI64TruncF32U, func(x uint64) uint64 { return I64TruncU(float64(f32(x))) })
	u(code.OpI64TruncF64S, func(x uint64) uint64 { return uint64(I64TruncS(f64(x))) })
	u(code.OpI64TruncF64U, func(x uint64) uint64 { return I64TruncU(f64(x)) })
	u(code.OpF32ConvertI32S, func(x uint64) uint64 { return f32b(float32(int32(x))) })
	u(code.OpF32ConvertI32U, func(x uint64) uint64 { return f32b(float32(uint32(x))) })
	u(code.OpF32ConvertI64S, func(x uint64) uint64 { return f32b(float32(int64(x))) })
	u(code.OpF32ConvertI64U, func(x uint64) uint64 { return f32b(float32(x)) })
	u(code.OpF32DemoteF64, func(x uint64) uint64 { return f32b(float32(f64(x))) })
	u(code.OpF64ConvertI32S, func(x uint64) uint64 { return f64b(float64(int32(x))) })
	u(code.OpF64ConvertI32U, func(x uint64) uint64 { return f64b(float64(uint32(x))) })
	u(code.OpF64ConvertI64S, func(x uint64) uint64 { return f64b(float64(int64(x))) })
	u(code.OpF64ConvertI64U, func(x uint64) uint64 { return f64b(float64(x)) })
	u(code.OpF64PromoteF32, func(x uint64) uint64 { return f64b(float64(f32(x))) })
	u(code.OpI32ReinterpretF32, i32)
	u(code.OpI64ReinterpretF64, func(x uint64) uint64 { return x })
	u(code.OpF32ReinterpretI32, i32)
	u(code.OpF64ReinterpretI64, func(x uint64) uint64 { return x })

	// sign extension
	u(code.OpI32Extend8S, func(x uint64) uint64 { return i32b(int32(int8(x))) })
	u(code.OpI32Extend16S, func(x uint64) uint64 { return i32b(int32(int16(x))) })
	u(code.OpI64Extend8S, func(x uint64) uint64 { return uint64(int64(int8(x))) })
	u(code.OpI64Extend16S, func(x uint64) uint64 { return uint64(int64(int16(x))) })
	u(code.OpI64Extend32S, func(x uint64) uint64 { return uint64(int64(int32(x))) })

	// saturating truncation
	satOps[code.OpI32TruncSatF32S] = func(x uint64) uint64 { return i32b(I32TruncSatS(float64(f32(x)))) }
	satOps[code.OpI32TruncSatF32U] = func(x uint64) uint64 { return uint64(I32TruncSatU(float64(f32(x)))) }
	satOps[code.OpI32TruncSatF64S] = func(x uint64) uint64 { return i32b(I32TruncSatS(f64(x))) }
	satOps[code.OpI32TruncSatF64U] = func(x uint64) uint64 { return uint64(I32TruncSatU(f64(x))) }
	satOps[code.OpI64TruncSatF32S] = func(x uint64) uint64 { return uint64(I64TruncSatS(float64(f32(x)))) }
	satOps[code.OpI64TruncSatF32U] = func(x uint64) uint64 { return I64TruncSatU(float64(f32(x))) }
	satOps[code.OpI64TruncSatF64S] = func(x uint64) uint64 { return uint64(I64TruncSatS(f64(x))) }
	satOps[code.OpI64TruncSatF64U] = func(x uint64) uint64 { return I64TruncSatU(f64(x)) }
}
