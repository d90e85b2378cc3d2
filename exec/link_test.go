package exec_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/wasmtest"
	"github.com/pgavlin/tandem/interpreter"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func importer() *wasmtest.Builder {
	b := wasmtest.NewBuilder("importer")
	b.ImportFunc("env", "f", b.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32))
	return b
}

func TestLinkErrors(t *testing.T) {
	env := wasmtest.NewEnvironment(interpreter.Factory)

	env.AssertUnlinkable(t, importer().Load(t), exec.ErrImportNotFound)

	env.Register("env", map[string]interface{}{"f": exec.NewMemory(1, 1)})
	env.AssertUnlinkable(t, importer().Load(t), exec.ErrKindMismatch)

	env.Register("env", map[string]interface{}{"f": func(x int64) int64 { return x }})
	env.AssertUnlinkable(t, importer().Load(t), exec.ErrSignatureMismatch)

	env.Register("env", map[string]interface{}{"f": func(x int32) int32 { return x }})
	_, err := env.Build("importer", importer().Load(t))
	assert.NoError(t, err)

	mem := wasmtest.NewBuilder("memory")
	mem.ImportMemory("spectest", "memory", 2, 0)
	env.AssertUnlinkable(t, mem.Load(t), exec.ErrLimitsMismatch)

	mem = wasmtest.NewBuilder("memory")
	mem.ImportMemory("spectest", "memory", 1, 1)
	env.AssertUnlinkable(t, mem.Load(t), exec.ErrLimitsMismatch)

	global := wasmtest.NewBuilder("global")
	global.ImportGlobal("spectest", "global_i32", wasmtest.I64, false)
	env.AssertUnlinkable(t, global.Load(t), exec.ErrGlobalTypeMismatch)

	var linkErr *exec.LinkError
	_, err = env.Build("global", global.Load(t))
	require.True(t, errors.As(err, &linkErr))
	assert.Equal(t, "spectest", linkErr.Module)
	assert.Equal(t, "global_i32", linkErr.Field)
	assert.Equal(t, wasm.ExternalGlobal, linkErr.Kind)
}

func TestSegmentsDoNotFit(t *testing.T) {
	data := wasmtest.NewBuilder("data")
	data.Memory(1, 0)
	data.Data(exec.PageSize-2, []byte("abc"))
	_, err := exec.Build(data.Load(t), nil, interpreter.Factory, true)
	assert.ErrorIs(t, err, exec.ErrDataSegmentDoesNotFit)

	elems := wasmtest.NewBuilder("elems")
	f := elems.Func(wasmtest.Func{Type: elems.Type(nil, nil...)})
	elems.Table(1, 0)
	elems.Elements(1, f)
	_, err = exec.Build(elems.Load(t), nil, interpreter.Factory, true)
	assert.ErrorIs(t, err, exec.ErrElementSegmentDoesNotFit)
}

func TestStartTrap(t *testing.T) {
	b := wasmtest.NewBuilder("start")
	b.Start(b.Func(wasmtest.Func{Type: b.Type(nil, nil...), Body: wasmtest.Seq(code.Unreachable())}))

	_, err := exec.Build(b.Load(t), nil, interpreter.Factory, true)
	assert.ErrorIs(t, err, exec.TrapUnreachable)

	_, err = exec.Build(b.Load(t), nil, interpreter.Factory, false)
	assert.NoError(t, err)
}

func TestSharedMemory(t *testing.T) {
	// Two instances that import the same memory observe each other's stores.
	env := wasmtest.NewEnvironment(interpreter.Factory)

	writer := wasmtest.NewBuilder("writer")
	writer.Memory(1, 0)
	writer.Export("memory", wasm.ExternalMemory, 0)
	writer.Func(wasmtest.Func{
		Type:   writer.Type(wasmtest.Types(wasmtest.I32, wasmtest.I32), nil...),
		Export: "store",
		Body:   wasmtest.Seq(code.LocalGet(0), code.LocalGet(1), code.Mem(code.OpI32Store, 0)),
	})
	w := env.Instantiate(t, "writer", writer.Load(t))
	env.Register("writer", w.Exports())

	reader := wasmtest.NewBuilder("reader")
	reader.ImportMemory("writer", "memory", 1, 0)
	reader.Func(wasmtest.Func{
		Type:   reader.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Export: "load",
		Body:   wasmtest.Seq(code.LocalGet(0), code.Mem(code.OpI32Load, 0)),
	})
	r := env.Instantiate(t, "reader", reader.Load(t))

	_, err := w.Call(context.Background(), "store", int32(16), int32(1234))
	require.NoError(t, err)
	results, err := r.Call(context.Background(), "load", int32(16))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1234)}, results)
}

func TestCrossInstanceCall(t *testing.T) {
	// A function exported by one instance and imported by another keeps its identity: traps inside it report the
	// defining instance on the shared call stack.
	env := wasmtest.NewEnvironment(interpreter.Factory)

	callee := wasmtest.NewBuilder("callee")
	callee.Func(wasmtest.Func{
		Type:   callee.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Name:   "check",
		Export: "check",
		Body: wasmtest.Seq(
			code.LocalGet(0), code.OpI32Eqz,
			code.If(), code.Unreachable(), code.End(),
			code.LocalGet(0),
		),
	})
	env.Register("callee", env.Instantiate(t, "callee", callee.Load(t)).Exports())

	caller := wasmtest.NewBuilder("caller")
	check := caller.ImportFunc("callee", "check", caller.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32))
	caller.Func(wasmtest.Func{
		Type:   caller.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Name:   "run",
		Export: "run",
		Body:   wasmtest.Seq(code.LocalGet(0), code.Call(check)),
	})
	env.Instantiate(t, "caller", caller.Load(t))

	env.AssertReturn(t, "run", []interface{}{int32(3)}, int32(3))

	_, err := env.Call("run", int32(0))
	var trapErr *exec.TrapError
	require.True(t, errors.As(err, &trapErr))
	assert.Equal(t, exec.TrapUnreachable, trapErr.Trap)
	require.Len(t, trapErr.Stack, 2)
	assert.Equal(t, "callee.check", trapErr.Stack[0].String())
	assert.Equal(t, "caller.run", trapErr.Stack[1].String())
}
