package compiler_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"

	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/wasmtest"
)

func TestArtifact(t *testing.T) {
	dir := t.TempDir()
	m := wasmtest.Fib().Load(t)

	p, err := compiler.Compile(context.Background(), m, nil)
	require.NoError(t, err)
	require.NoError(t, compiler.WriteArtifact(dir, "fib", m, p))

	metaPath, unitsPath := compiler.ArtifactPaths(dir, "fib")
	assert.FileExists(t, metaPath)
	assert.FileExists(t, unitsPath)

	meta, loaded, err := compiler.LoadArtifact(context.Background(), dir, "fib")
	require.NoError(t, err)
	assert.Equal(t, "fib", loaded.Name())
	assert.Equal(t, []byte{0x00, 0x0b}, meta.Code.Bodies[0].Code)
	assert.Empty(t, meta.Code.Bodies[0].Locals)
	assert.Equal(t, "fib", meta.FunctionName(0))

	inst, err := exec.Build(meta, nil, exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
		return loaded.Bind(inst)
	}), true)
	require.NoError(t, err)

	results, err := inst.Call(context.Background(), "fib", int32(15))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(610)}, results)
}

func TestArtifactKeepsInterpretedBodies(t *testing.T) {
	dir := t.TempDir()
	m := twoFunctions(t)

	p, err := compiler.Compile(context.Background(), m, &compiler.Config{Interpreted: bitset.New(2).Set(1)})
	require.NoError(t, err)
	require.NoError(t, compiler.WriteArtifact(dir, "two", m, p))

	meta, loaded, err := compiler.LoadArtifact(context.Background(), dir, "two")
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x0b}, meta.Code.Bodies[0].Code)
	assert.Equal(t, m.Code.Bodies[1].Code, meta.Code.Bodies[1].Code)
	assert.False(t, loaded.IsInterpreted(0))
	assert.True(t, loaded.IsInterpreted(1))
}

func TestLoadArtifactErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := compiler.LoadArtifact(context.Background(), dir, "missing")
	assert.Error(t, err)

	m := wasmtest.Fib().Load(t)
	p, err := compiler.Compile(context.Background(), m, nil)
	require.NoError(t, err)
	require.NoError(t, compiler.WriteArtifact(dir, "fib", m, p))

	_, unitsPath := compiler.ArtifactPaths(dir, "fib")
	require.NoError(t, os.WriteFile(unitsPath, []byte("TNDA\x01garbage"), 0o600))
	_, _, err = compiler.LoadArtifact(context.Background(), dir, "fib")
	assert.ErrorIs(t, err, compiler.ErrBadUnit)

	// A program cannot be written for a module it was not compiled from.
	assert.Error(t, compiler.WriteArtifact(dir, "bad", twoFunctions(t), p))
}
