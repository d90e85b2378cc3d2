package code

import (
	"encoding/binary"
	"io"

	"github.com/pgavlin/tandem/wasm/leb128"
)

func encodeBlockType(w io.Writer, immediate uint64) error {
	immediate &= BlockTypeMask
	if immediate&BlockTypeSpecial != 0 {
		_, err := w.Write([]byte{byte(immediate)})
		return err
	}
	_, err := leb128.WriteVarint64(w, int64(uint32(immediate)))
	return err
}

func writeIndices(w io.Writer, indices ...uint64) error {
	for _, x := range indices {
		if _, err := leb128.WriteVarUint64(w, x); err != nil {
			return err
		}
	}
	return nil
}

func encodeInstruction(w io.Writer, instr *Instruction) error {
	info := instr.info()
	if info == nil {
		return ErrInvalidInstruction
	}
	if _, err := w.Write([]byte{instr.Opcode}); err != nil {
		return err
	}
	if instr.Opcode == OpPrefix {
		return encodePrefixed(w, instr)
	}

	switch info.imm {
	case immNone:
		return nil
	case immBlockType:
		return encodeBlockType(w, instr.Immediate)
	case immIndex:
		return writeIndices(w, uint64(uint32(instr.Immediate)))
	case immBrTable:
		if err := writeIndices(w, uint64(len(instr.Labels))); err != nil {
			return err
		}
		for _, l := range instr.Labels {
			if err := writeIndices(w, uint64(l)); err != nil {
				return err
			}
		}
		return writeIndices(w, uint64(instr.Default()))
	case immCallIndirect:
		return writeIndices(w, uint64(instr.Typeidx()), uint64(instr.Tableidx()))
	case immMemarg:
		offset, align := instr.Memarg()
		return writeIndices(w, uint64(align), uint64(offset))
	case immMemory:
		_, err := w.Write([]byte{0x00})
		return err
	case immI32:
		_, err := leb128.WriteVarint64(w, int64(instr.I32()))
		return err
	case immI64:
		_, err := leb128.WriteVarint64(w, instr.I64())
		return err
	case immF32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(instr.Immediate))
		_, err := w.Write(buf[:])
		return err
	case immF64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], instr.Immediate)
		_, err := w.Write(buf[:])
		return err
	case immSelectT:
		_, err := w.Write([]byte{0x01, byte(instr.Immediate)})
		return err
	case immRefType:
		_, err := w.Write([]byte{byte(instr.Immediate)})
		return err
	}
	return nil
}

func encodePrefixed(w io.Writer, instr *Instruction) error {
	if err := writeIndices(w, instr.Immediate); err != nil {
		return err
	}
	switch prefixInfos[instr.Immediate].imm {
	case immIndex:
		return writeIndices(w, uint64(instr.Labels[0]))
	case immIndexPair:
		return writeIndices(w, uint64(instr.Labels[0]), uint64(instr.Labels[1]))
	case immDataMemory:
		if err := writeIndices(w, uint64(instr.Labels[0])); err != nil {
			return err
		}
		_, err := w.Write([]byte{0x00})
		return err
	case immMemory:
		_, err := w.Write([]byte{0x00})
		return err
	case immMemoryPair:
		_, err := w.Write([]byte{0x00, 0x00})
		return err
	}
	return nil
}

// Encode writes a function body's instructions in the binary format. The body must end with an end instruction.
func Encode(w io.Writer, body []Instruction) error {
	if len(body) == 0 || body[len(body)-1].Opcode != OpEnd {
		return io.ErrUnexpectedEOF
	}
	for i := range body {
		if err := encodeInstruction(w, &body[i]); err != nil {
			return err
		}
	}
	return nil
}
