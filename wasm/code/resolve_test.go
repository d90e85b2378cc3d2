package code

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, results int, body ...Instruction) []Instruction {
	require.NoError(t, Resolve(body, UnknownScope, results))
	return body
}

func targets(instr Instruction) []int {
	var ts []int
	for _, b := range instr.Branches {
		ts = append(ts, b.Target)
	}
	return ts
}

func TestResolveForwardBranch(t *testing.T) {
	body := resolve(t, 0,
		Block(),
		I32Const(1),
		BrIf(0),
		Nop(),
		End(),
		End(),
	)
	assert.Equal(t, []int{5}, targets(body[2]))
	assert.Equal(t, []int{5}, targets(body[0]))
}

func TestResolveLoopBranch(t *testing.T) {
	body := resolve(t, 0,
		Loop(),
		I32Const(0),
		BrIf(0),
		End(),
		End(),
	)
	// Branches to a loop target the loop instruction itself.
	assert.Equal(t, []int{0}, targets(body[2]))
	assert.Equal(t, []int{4}, targets(body[0]))
}

func TestResolveNestedLoopAndBlock(t *testing.T) {
	body := resolve(t, 0,
		Block(), // 0
		Loop(),  // 1
		I32Const(0),
		BrIf(1), // 3: exits the block
		Br(0),   // 4: continues the loop
		End(),   // 5
		End(),   // 6
		End(),   // 7
	)
	assert.Equal(t, []int{7}, targets(body[3]))
	assert.Equal(t, []int{1}, targets(body[4]))
	assert.Equal(t, []int{6}, targets(body[1]))
	assert.Equal(t, []int{7}, targets(body[0]))
}

func TestResolveIfElse(t *testing.T) {
	body := resolve(t, 0,
		I32Const(1),
		If(),
		Nop(),
		Else(),
		Nop(),
		End(),
		End(),
	)
	assert.Equal(t, []int{2, 4, 6}, targets(body[1]))
	assert.Equal(t, []int{6}, targets(body[3]))
}

func TestResolveIfWithoutElse(t *testing.T) {
	body := resolve(t, 0,
		I32Const(1),
		If(),
		Nop(),
		End(),
		End(),
	)
	assert.Equal(t, []int{2, 4, 4}, targets(body[1]))
}

func TestResolveBrTable(t *testing.T) {
	body := resolve(t, 0,
		Block(),
		Block(),
		I32Const(0),
		BrTable(0, 1, 1),
		End(),
		End(),
		End(),
	)
	assert.Equal(t, []int{5, 6, 6}, targets(body[3]))
}

func TestResolveFunctionLevelBranch(t *testing.T) {
	body := resolve(t, 1,
		I32Const(7),
		Br(0),
		End(),
	)
	expected := []Branch{{Target: 3, Height: 0, Arity: 1}}
	if diff := cmp.Diff(expected, body[1].Branches); diff != "" {
		t.Errorf("unexpected branches (-want +got):\n%s", diff)
	}
}

func TestResolveHeightAndArity(t *testing.T) {
	block := Block(BlockTypeI32)
	block.Immediate |= 2 << 32

	body := resolve(t, 0,
		I32Const(1),
		I32Const(2),
		block,
		I32Const(3),
		Br(0),
		End(),
		Drop(),
		Drop(),
		Drop(),
		End(),
	)
	assert.Equal(t, Branch{Target: 6, Height: 2, Arity: 1}, body[4].Branches[0])
}

func TestResolveMalformedDepth(t *testing.T) {
	err := Resolve([]Instruction{Block(), Br(2), End(), End()}, UnknownScope, 0)
	var resolveErr *ResolveError
	require.True(t, errors.As(err, &resolveErr))
	assert.Equal(t, 1, resolveErr.Instruction)
}

func TestResolveUnclosedScope(t *testing.T) {
	err := Resolve([]Instruction{Block(), End()}, UnknownScope, 0)
	assert.Error(t, err)

	err = Resolve([]Instruction{End(), Nop()}, UnknownScope, 0)
	assert.Error(t, err)
}
