package code

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pgavlin/tandem/wasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resultI32 = []wasm.ValueType{wasm.ValueTypeI32}

func TestDecodeResolvesBranches(t *testing.T) {
	src := []byte{
		0x41, 0x01, // i32.const 1
		0x02, 0x7f, // block (result i32)
		0x41, 0x02, // i32.const 2
		0x0c, 0x00, // br 0
		0x0b,       // end
		0x6a,       // i32.add
		0x0b,       // end
	}
	body, err := Decode(src, UnknownScope, resultI32)
	require.NoError(t, err)
	require.Len(t, body.Instructions, 7)

	assert.Equal(t, 1, body.Instructions[1].StackHeight())
	assert.Equal(t, Branch{Target: 5, Height: 1, Arity: 1}, body.Instructions[3].Branches[0])
	assert.Equal(t, 2, body.Metrics.MaxStackDepth)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, body.Instructions))
	assert.Equal(t, src, buf.Bytes())
}

func TestDecodePrefixed(t *testing.T) {
	src := []byte{
		0x41, 0x00, 0x41, 0x00, 0x41, 0x04, // dst, src, len
		0xfc, 0x08, 0x00, 0x00, // memory.init 0
		0xfc, 0x09, 0x00, // data.drop 0
		0x41, 0x00, 0x41, 0x00, 0x41, 0x00,
		0xfc, 0x0e, 0x00, 0x00, // table.copy 0 0
		0x0b,
	}
	body, err := Decode(src, UnknownScope, nil)
	require.NoError(t, err)

	init := body.Instructions[3]
	assert.True(t, init.IsPrefix(OpMemoryInit))
	assert.Equal(t, uint32(0), init.Segmentidx())
	assert.Equal(t, "memory.init 0", init.String())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, body.Instructions))
	assert.Equal(t, src, buf.Bytes())
}

func TestDecodeEncodesEveryPrefixedForm(t *testing.T) {
	src := []byte{
		0x43, 0x00, 0x00, 0x00, 0x00, // f32.const 0
		0xfc, 0x00, // i32.trunc_sat_f32_s
		0x1a,
		0x41, 0x00, 0x41, 0x00, 0x41, 0x04,
		0xfc, 0x0a, 0x00, 0x00, // memory.copy
		0x41, 0x00, 0x41, 0x00, 0x41, 0x04,
		0xfc, 0x0b, 0x00, // memory.fill
		0x41, 0x00, 0x41, 0x00, 0x41, 0x01,
		0xfc, 0x0c, 0x02, 0x00, // table.init 2 0
		0xfc, 0x0d, 0x02, // elem.drop 2
		0xd0, 0x70, 0x41, 0x01,
		0xfc, 0x0f, 0x00, // table.grow 0
		0x1a,
		0xfc, 0x10, 0x00, // table.size 0
		0x1a,
		0x0b,
	}
	body, err := Decode(src, UnknownScope, nil)
	require.NoError(t, err)
	assert.True(t, body.Instructions[1].IsPrefix(OpI32TruncSatF32S))
	assert.True(t, body.Instructions[6].IsPrefix(OpMemoryCopy))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, body.Instructions))
	assert.Equal(t, src, buf.Bytes())
}

// TestDecodePolymorphicStack checks that the operand stack accepts any operands after an instruction that never
// falls through, up to the end of the enclosing block.
func TestDecodePolymorphicStack(t *testing.T) {
	cases := []struct {
		name string
		src  []byte
	}{
		{"unreachable", []byte{0x00, 0x0b}},
		{"unreachable then add", []byte{0x00, 0x6a, 0x0b}},
		{"unreachable then drop", []byte{0x00, 0x1a, 0x41, 0x07, 0x0b}},
		{"br in value block", []byte{0x02, 0x7f, 0x41, 0x01, 0x0c, 0x00, 0x6a, 0x0b, 0x0b}},
		{"br_table in value block", []byte{0x02, 0x7f, 0x41, 0x01, 0x41, 0x00, 0x0e, 0x01, 0x00, 0x00, 0x0b, 0x0b}},
		{"return", []byte{0x41, 0x01, 0x0f, 0x45, 0x0b}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body, err := Decode(c.src, UnknownScope, resultI32)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, body.Instructions))
			assert.Equal(t, c.src, buf.Bytes())
		})
	}

	// The stack is only polymorphic inside the block that became unreachable.
	_, err := Decode([]byte{0x02, 0x7f, 0x00, 0x0b, 0x6a, 0x0b}, UnknownScope, resultI32)
	var codeErr *Error
	require.True(t, errors.As(err, &codeErr), "%v", err)
	assert.Equal(t, 4, codeErr.Offset)
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name   string
		src    []byte
		offset int
	}{
		{"type mismatch", []byte{0x42, 0x00, 0x0b}, 2},
		{"unknown label", []byte{0x0c, 0x01, 0x0b}, 0},
		{"unknown opcode", []byte{0x41, 0x00, 0xff, 0x0b}, 2},
		{"missing end", []byte{0x41, 0x00}, 2},
		{"trailing end", []byte{0x41, 0x00, 0x0b, 0x0b}, 2},
		{"truncated immediate", []byte{0x41, 0x80}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.src, UnknownScope, resultI32)
			var codeErr *Error
			require.True(t, errors.As(err, &codeErr), "%v", err)
			assert.Equal(t, c.offset, codeErr.Offset)
		})
	}
}

func TestInstructionString(t *testing.T) {
	assert.Equal(t, "i32.load offset=8 align=4", (&Instruction{Opcode: OpI32Load, Immediate: Mem(OpI32Load, 8).Immediate}).String())
	assert.Equal(t, "i64.const -1", func() string { i := I64Const(-1); return i.String() }())
	assert.Equal(t, "block (result i32)", func() string { i := Block(BlockTypeI32); return i.String() }())
	assert.Equal(t, "br_table 0 1 2", func() string { i := BrTable(0, 1, 2); return i.String() }())
}
