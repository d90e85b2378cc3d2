package compiler

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/tandem/internal/wasmtest"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm/code"
)

var ignoreInstr = cmp.Options{cmpopts.IgnoreFields(Stmt{}, "Instr"), cmpopts.EquateEmpty()}

func translateFunc(t *testing.T, m *load.Module, funcidx uint32) *Function {
	fn, ok := m.Function(funcidx)
	require.True(t, ok)
	f, err := Translate(code.NewStaticScope(m.Module), fn)
	require.NoError(t, err)
	return f
}

func opcodes(stmts []Stmt) []byte {
	var ops []byte
	for i := range stmts {
		ops = append(ops, stmts[i].Instr.Opcode)
		ops = append(ops, opcodes(stmts[i].Body)...)
		ops = append(ops, opcodes(stmts[i].Else)...)
	}
	return ops
}

func TestTranslateLoop(t *testing.T) {
	f := translateFunc(t, wasmtest.LoopSum().Load(t), 0)

	op := func(sp int) Stmt { return Stmt{Kind: KindOp, SP: sp} }
	expected := []Stmt{
		{Kind: KindBlock, Body: []Stmt{
			{Kind: KindLoop, Body: []Stmt{
				op(0), op(1), op(2),
				{Kind: KindBrIf, SP: 1, Targets: []Target{{Depth: 1}}},
				op(0), op(1), op(2), op(1),
				op(0), op(1), op(2), op(1),
				{Kind: KindBr, Targets: []Target{{Depth: 0}}},
			}},
		}},
		op(0),
	}
	if diff := cmp.Diff(expected, f.Body, ignoreInstr); diff != "" {
		t.Errorf("unexpected statements (-want +got):\n%s", diff)
	}

	assert.Equal(t, []byte{
		code.OpBlock, code.OpLoop,
		code.OpLocalGet, code.OpLocalGet, code.OpI32GeS, code.OpBrIf,
		code.OpLocalGet, code.OpLocalGet, code.OpI32Add, code.OpLocalSet,
		code.OpLocalGet, code.OpI32Const, code.OpI32Add, code.OpLocalSet,
		code.OpBr,
		code.OpLocalGet,
	}, opcodes(f.Body))

	assert.Equal(t, 16, f.Size)
	assert.Equal(t, 1, f.NumParams)
	assert.Equal(t, 3, f.NumLocals)
	assert.Equal(t, 1, f.NumResults)
}

func TestTranslateSkipsUnreachableCode(t *testing.T) {
	b := wasmtest.NewBuilder("dead")
	b.Func(wasmtest.Func{
		Type: b.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Body: wasmtest.Seq(
			code.Block(),
			code.Br(0),
			code.I32Const(1), code.Op(code.OpDrop),
			code.Block(), code.Op(code.OpNop), code.End(),
			code.End(),
			code.LocalGet(0),
			code.If(code.BlockTypeI32),
			code.I32Const(5),
			code.Else(),
			code.Unreachable(),
			code.I32Const(6),
			code.End(),
		),
	})
	f := translateFunc(t, b.Load(t), 0)

	expected := []Stmt{
		{Kind: KindBlock, Body: []Stmt{
			{Kind: KindBr, Targets: []Target{{Depth: 0}}},
		}},
		{Kind: KindOp},
		{Kind: KindIf, SP: 1,
			Body: []Stmt{{Kind: KindOp}},
			Else: []Stmt{{Kind: KindOp}},
		},
	}
	if diff := cmp.Diff(expected, f.Body, ignoreInstr); diff != "" {
		t.Errorf("unexpected statements (-want +got):\n%s", diff)
	}
	assert.Equal(t, byte(code.OpUnreachable), f.Body[2].Else[0].Instr.Opcode)
}

func TestTranslateBranchToFunction(t *testing.T) {
	b := wasmtest.NewBuilder("exit")
	b.Func(wasmtest.Func{
		Type: b.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Body: wasmtest.Seq(
			code.I32Const(7),
			code.Block(),
			code.I32Const(9),
			code.LocalGet(0),
			code.BrIf(1),
			code.Op(code.OpDrop),
			code.End(),
			code.Return(),
		),
	})
	f := translateFunc(t, b.Load(t), 0)

	expected := []Stmt{
		{Kind: KindOp},
		{Kind: KindBlock, SP: 1, Body: []Stmt{
			{Kind: KindOp, SP: 1},
			{Kind: KindOp, SP: 2},
			{Kind: KindBrIf, SP: 3, Targets: []Target{{Depth: 1, Height: 0, Arity: 1}}},
			{Kind: KindOp, SP: 2},
		}},
		{Kind: KindReturn, SP: 1},
	}
	if diff := cmp.Diff(expected, f.Body, ignoreInstr); diff != "" {
		t.Errorf("unexpected statements (-want +got):\n%s", diff)
	}
}

func TestTranslateBrTable(t *testing.T) {
	b := wasmtest.NewBuilder("table")
	b.Func(wasmtest.Func{
		Type: b.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Body: wasmtest.Seq(
			code.Block(code.BlockTypeI32),
			code.Block(code.BlockTypeI32),
			code.I32Const(3),
			code.LocalGet(0),
			code.BrTable(1, 0, 1),
			code.End(),
			code.I32Const(4),
			code.OpI32Add,
			code.End(),
		),
	})
	f := translateFunc(t, b.Load(t), 0)

	require.Len(t, f.Body, 1)
	inner := f.Body[0].Body[0]
	require.Equal(t, KindBlock, inner.Kind)
	require.Len(t, inner.Body, 3)

	table := inner.Body[2]
	assert.Equal(t, KindBrTable, table.Kind)
	assert.Equal(t, 2, table.SP)
	assert.Equal(t, []Target{
		{Depth: 1, Height: 0, Arity: 1},
		{Depth: 0, Height: 0, Arity: 1},
		{Depth: 1, Height: 0, Arity: 1},
	}, table.Targets)
}
