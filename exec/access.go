package exec

import (
	"fmt"

	"github.com/pgavlin/tandem/wasm/code"
)

// Load performs the memory load instruction with the given opcode and returns the loaded value as raw bits.
func Load(mem *Memory, opcode byte, base, offset uint32) uint64 {
	switch opcode {
	case code.OpI32Load, code.OpF32Load, code.OpI64Load32U:
		return uint64(mem.Uint32(base, offset))
	case code.OpI64Load, code.OpF64Load:
		return mem.Uint64(base, offset)
	case code.OpI32Load8S:
		return uint64(uint32(int32(int8(mem.Uint8(base, offset)))))
	case code.OpI32Load8U, code.OpI64Load8U:
		return uint64(mem.Uint8(base, offset))
	case code.OpI32Load16S:
		return uint64(uint32(int32(int16(mem.Uint16(base, offset)))))
	case code.OpI32Load16U, code.OpI64Load16U:
		return uint64(mem.Uint16(base, offset))
	case code.OpI64Load8S:
		return uint64(int64(int8(mem.Uint8(base, offset))))
	case code.OpI64Load16S:
		return uint64(int64(int16(mem.Uint16(base, offset))))
	case code.OpI64Load32S:
		return uint64(int64(int32(mem.Uint32(base, offset))))
	default:
		panic(fmt.Errorf("unexpected load opcode 0x%02x", opcode))
	}
}

// Store performs the memory store instruction with the given opcode.
func Store(mem *Memory, opcode byte, base, offset uint32, v uint64) {
	switch opcode {
	case code.OpI32Store, code.OpF32Store, code.OpI64Store32:
		mem.PutUint32(uint32(v), base, offset)
	case code.OpI64Store, code.OpF64Store:
		mem.PutUint64(v, base, offset)
	case code.OpI32Store8, code.OpI64Store8:
		mem.PutUint8(byte(v), base, offset)
	case code.OpI32Store16, code.OpI64Store16:
		mem.PutUint16(uint16(v), base, offset)
	default:
		panic(fmt.Errorf("unexpected store opcode 0x%02x", opcode))
	}
}
