package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/wasmtest"
	"github.com/pgavlin/tandem/wasm/code"
)

func TestScenarios(t *testing.T) {
	wasmtest.RunScenarios(t, Factory)
}

func testModule(t *testing.T, b *wasmtest.Builder, entrypoint string, expected ...uint64) {
	inst, err := exec.Build(b.Load(t), nil, Factory, true)
	require.NoError(t, err)

	main, err := inst.ExportedFunction(entrypoint)
	require.NoError(t, err)

	if expected == nil {
		expected = []uint64{}
	}

	returns, err := main.Execute(context.Background(), exec.NewThread(0), nil)
	require.NoError(t, err)
	assert.Equal(t, expected, returns)
}

func emptyFunction() *wasmtest.Builder {
	b := wasmtest.NewBuilder("empty")
	b.Func(wasmtest.Func{Type: b.Type(nil, nil...), Export: "main", Body: wasmtest.Seq(code.Return())})
	return b
}

// fibRecursive mirrors the code a C compiler emits for a recursive fib with one call folded into a loop.
func fibRecursive(n int32) *wasmtest.Builder {
	b := wasmtest.NewBuilder("fib")
	fib := b.Func(wasmtest.Func{
		Type:   b.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32),
		Locals: wasmtest.Types(wasmtest.I32),
		Name:   "fib",
		Export: "fib",
		Body: wasmtest.Seq(
			code.I32Const(1),
			code.LocalSet(1),
			code.Block(), // label = @1
			code.LocalGet(0),
			code.I32Const(-1),
			code.OpI32Add,
			code.LocalTee(0),
			code.I32Const(2),
			code.OpI32LtU,
			code.BrIf(0), // @1
			code.I32Const(0),
			code.LocalSet(1),
			code.Loop(), // label = @2
			code.LocalGet(0),
			code.Call(0), // fib
			code.LocalGet(1),
			code.OpI32Add,
			code.LocalSet(1),
			code.LocalGet(0),
			code.I32Const(-2),
			code.OpI32Add,
			code.LocalTee(0),
			code.I32Const(1),
			code.OpI32GtU,
			code.BrIf(0), // @2
			code.End(),
			code.LocalGet(1),
			code.I32Const(1),
			code.OpI32Add,
			code.LocalSet(1),
			code.End(),
			code.LocalGet(1),
		),
	})
	b.Memory(16, 0)
	b.Func(wasmtest.Func{
		Type:   b.Type(nil, wasmtest.I32),
		Name:   "app_main",
		Export: "app_main",
		Body:   wasmtest.Seq(code.I32Const(n), code.Call(fib)),
	})
	return b
}

func TestEmptyFunction(t *testing.T) {
	testModule(t, emptyFunction(), "main")
}

func TestFibRecursive(t *testing.T) {
	testModule(t, fibRecursive(25), "app_main", 75025)
}

func TestReentrantHostCall(t *testing.T) {
	// The host function calls back into the instance on the same thread. The inner call must not disturb the
	// outer frame's locals or operands.
	var inst *exec.Instance
	callback := exec.MustHostFunction(func(thread *exec.Thread, x int32) (int32, error) {
		f, err := inst.ExportedFunction("double")
		if err != nil {
			return 0, err
		}
		results, err := f.CallThread(context.Background(), thread, x)
		if err != nil {
			return 0, err
		}
		return results[0].(int32), nil
	})

	b := wasmtest.NewBuilder("reentrant")
	unary := b.Type(wasmtest.Types(wasmtest.I32), wasmtest.I32)
	host := b.ImportFunc("env", "callback", unary)
	b.Func(wasmtest.Func{
		Type:   unary,
		Export: "double",
		Body:   wasmtest.Seq(code.LocalGet(0), code.LocalGet(0), code.OpI32Add),
	})
	b.Func(wasmtest.Func{
		Type:   unary,
		Locals: wasmtest.Types(wasmtest.I32),
		Export: "outer",
		Body: wasmtest.Seq(
			code.I32Const(1000), code.LocalSet(1),
			code.I32Const(7),
			code.LocalGet(0), code.Call(host),
			code.OpI32Add,
			code.LocalGet(1), code.OpI32Add,
		),
	})

	var err error
	inst, err = exec.Build(b.Load(t), exec.Imports{"env": {"callback": callback}}, Factory, true)
	require.NoError(t, err)

	results, err := inst.Call(context.Background(), "outer", int32(5))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1017)}, results)
}

func TestTrapLeavesThreadReusable(t *testing.T) {
	inst, err := exec.Build(wasmtest.MemoryModule().Load(t), nil, Factory, true)
	require.NoError(t, err)

	thread := exec.NewThread(0)
	load, err := inst.ExportedFunction("load8_u")
	require.NoError(t, err)

	_, err = load.CallThread(context.Background(), thread, int32(-1))
	assert.ErrorIs(t, err, exec.TrapOutOfBoundsMemoryAccess)
	assert.Equal(t, 0, thread.Depth())

	results, err := load.CallThread(context.Background(), thread, int32(0))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32('h')}, results)
}

func TestCancel(t *testing.T) {
	b := wasmtest.NewBuilder("spin")
	b.Func(wasmtest.Func{
		Type:   b.Type(nil, nil...),
		Export: "spin",
		Body:   wasmtest.Seq(code.Loop(), code.Call(1), code.Br(0), code.End()),
	})
	b.Func(wasmtest.Func{Type: b.Type(nil, nil...), Body: wasmtest.Seq(code.Nop())})

	inst, err := exec.Build(b.Load(t), nil, Factory, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := inst.Call(ctx, "spin")
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, exec.ErrCanceled)
}

func BenchmarkFib(b *testing.B) {
	inst, err := exec.Build(fibRecursive(20).Load(b), nil, Factory, true)
	require.NoError(b, err)

	main, err := inst.ExportedFunction("app_main")
	require.NoError(b, err)

	thread := exec.NewThread(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := main.Execute(context.Background(), thread, nil); err != nil {
			b.Fatal(err)
		}
	}
}
