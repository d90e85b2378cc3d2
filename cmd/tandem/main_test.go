package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/wasmtest"
	"github.com/pgavlin/tandem/wasm/code"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	command := rootCommand()
	command.SetOut(&out)
	command.SetErr(&out)
	command.SetArgs(args)
	err := command.Execute()
	return out.String(), err
}

func writeModule(t *testing.T, b *wasmtest.Builder) string {
	path := filepath.Join(t.TempDir(), "module.wasm")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path
}

func TestRun(t *testing.T) {
	path := writeModule(t, wasmtest.LoopSum())
	cacheDir := t.TempDir()

	cases := [][]string{
		{"run", "--invoke", "sum", path, "10"},
		{"run", "--mode", "compiled", "--invoke", "sum", path, "10"},
		{"run", "--mode", "compiled", "--cache", cacheDir, "--invoke", "sum", path, "10"},
		{"run", "--mode", "compiled", "--cache", cacheDir, "--invoke", "sum", path, "10"},
		{"run", "--mode", "hybrid", "--interpreted", "0", "--invoke", "sum", path, "10"},
		{"run", "--mode", "compiled", "--fallback", "silent", "--max-unit-size", "4", "--invoke", "sum", path, "0x0a"},
	}
	for _, args := range cases {
		out, err := execute(t, args...)
		require.NoError(t, err, strings.Join(args, " "))
		assert.Equal(t, "45\n", out, strings.Join(args, " "))
	}
}

func TestRunErrors(t *testing.T) {
	path := writeModule(t, wasmtest.LoopSum())

	_, err := execute(t, "run", "--invoke", "sum", path)
	assert.Error(t, err)
	_, err = execute(t, "run", "--invoke", "sum", path, "ten")
	assert.Error(t, err)
	_, err = execute(t, "run", "--mode", "jit", "--invoke", "sum", path, "10")
	assert.Error(t, err)
	_, err = execute(t, "run", "--mode", "hybrid", "--invoke", "sum", path, "10")
	assert.Error(t, err)
	_, err = execute(t, "run", "--mode", "compiled", "--fallback", "fail", "--max-unit-size", "4", "--invoke", "sum", path, "10")
	var limit *compiler.LimitError
	assert.True(t, errors.As(err, &limit))
}

func TestRunTrap(t *testing.T) {
	b := wasmtest.NewBuilder("trap")
	b.Func(wasmtest.Func{
		Type:   b.Type(nil, nil...),
		Name:   "boom",
		Export: "_start",
		Body:   wasmtest.Seq(code.Unreachable()),
	})
	path := writeModule(t, b)

	for _, mode := range []string{"interp", "compiled"} {
		_, err := execute(t, "run", "--mode", mode, path)
		var trap *exec.TrapError
		require.True(t, errors.As(err, &trap), mode)
		assert.Equal(t, exec.TrapUnreachable, trap.Trap)
	}
}

func TestCompile(t *testing.T) {
	path := writeModule(t, wasmtest.LoopSum())
	dir := t.TempDir()

	_, err := execute(t, "compile", "-o", dir, "--go", "--pkg", "loop", path)
	require.NoError(t, err)

	meta, units := compiler.ArtifactPaths(dir, "loop")
	assert.FileExists(t, meta)
	assert.FileExists(t, units)

	source, err := os.ReadFile(filepath.Join(dir, "loop_0.go"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "package loop")
	assert.Contains(t, string(source), "type Loop_0 struct")

	_, err = execute(t, "compile", path)
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	path := writeModule(t, wasmtest.LoopSum())

	out, err := execute(t, "dump", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sum (i32) -> (i32)\n"), out)
	assert.Contains(t, out, "locals (i32, i32)")

	out, err = execute(t, "dump", "--ir", path)
	require.NoError(t, err)
	assert.Contains(t, out, "frame ")

	out, err = execute(t, "dump", "--ir", "--interpreted", "0", path)
	require.NoError(t, err)
	assert.Contains(t, out, "interpreted")

	out, err = execute(t, "dump", "--stats", path)
	require.NoError(t, err)

	type row struct {
		Function         string `csv:"function"`
		Funcidx          uint32 `csv:"funcidx"`
		HasLoops         bool   `csv:"has loops"`
		InstructionCount int    `csv:"instruction count"`
		Branch           int    `csv:"branch"`
	}
	var rows []row
	require.NoError(t, csvutil.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "sum", rows[0].Function)
	assert.True(t, rows[0].HasLoops)
	assert.Equal(t, 2, rows[0].Branch)
	assert.Equal(t, len(wasmtest.LoopSum().Load(t).Functions[0].Body.Instructions), rows[0].InstructionCount)
}
