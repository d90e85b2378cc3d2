package machine_test

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/wasmtest"
	"github.com/pgavlin/tandem/machine"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
)

func encode(v interface{}) uint64 {
	switch v := v.(type) {
	case int32:
		return uint64(uint32(v))
	case uint32:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint64:
		return v
	case float32:
		return uint64(math.Float32bits(v))
	case float64:
		return math.Float64bits(v)
	default:
		panic("unexpected argument type")
	}
}

// sameValue compares raw results of the given type. NaNs compare equal regardless of payload, and references
// compare by nullness since handles are engine-specific.
func sameValue(typ wasm.ValueType, x, y uint64) bool {
	switch typ {
	case wasm.ValueTypeI32:
		return uint32(x) == uint32(y)
	case wasm.ValueTypeF32:
		fx, fy := math.Float32frombits(uint32(x)), math.Float32frombits(uint32(y))
		return uint32(x) == uint32(y) || (math.IsNaN(float64(fx)) && math.IsNaN(float64(fy)))
	case wasm.ValueTypeF64:
		fx, fy := math.Float64frombits(x), math.Float64frombits(y)
		return x == y || (math.IsNaN(fx) && math.IsNaN(fy))
	case wasm.ValueTypeFuncRef:
		return (x == 0) == (y == 0)
	default:
		return x == y
	}
}

// TestDifferential runs every self-contained scenario under wazero and under each of our machines and checks
// that every call produces the same results or traps in both.
func TestDifferential(t *testing.T) {
	for _, s := range wasmtest.Scenarios() {
		s := s
		builder := s.Module()
		if imports := builder.Module().Import; imports != nil && len(imports.Entries) != 0 {
			continue
		}

		t.Run(s.Name, func(t *testing.T) {
			for name, factory := range factories() {
				factory := factory
				t.Run(name, func(t *testing.T) {
					ctx := context.Background()
					runtime := wazero.NewRuntime(ctx)
					defer runtime.Close(ctx)

					oracle, err := runtime.Instantiate(ctx, s.Module().Bytes())
					require.NoError(t, err)

					inst, err := exec.Build(s.Module().Load(t), nil, factory, true)
					require.NoError(t, err)
					thread := exec.NewThread(0)

					for i, c := range s.Calls {
						args := make([]uint64, len(c.Args))
						for j, a := range c.Args {
							args[j] = encode(a)
						}

						fn, err := inst.ExportedFunction(c.Export)
						require.NoError(t, err)
						actual, actualErr := fn.Execute(ctx, thread, args)

						expected, expectedErr := oracle.ExportedFunction(c.Export).Call(ctx, args...)
						if expectedErr != nil {
							assert.Error(t, actualErr, "call %d (%v) should trap: %v", i, c.Export, expectedErr)
							continue
						}
						if !assert.NoError(t, actualErr, "call %d (%v)", i, c.Export) {
							continue
						}

						results := fn.Signature().ReturnTypes
						require.Len(t, actual, len(results))
						require.Len(t, expected, len(results))
						for j, typ := range results {
							assert.True(t, sameValue(typ, expected[j], actual[j]),
								"call %d (%v) result %d: expected %#x, got %#x", i, c.Export, j, expected[j], actual[j])
						}
					}
				})
			}
		})
	}
}

// traced returns a module whose exports run32 and run64 write a pattern derived from their argument to memory.
func traced() *wasmtest.Builder {
	b := wasmtest.NewBuilder("traced")
	b.Memory(1, 1)

	// run32(x): for i in 0..7: mem32[16+4*i] = x*i + i
	b.Func(wasmtest.Func{
		Type:   b.Type(wasmtest.Types(wasmtest.I32), nil...),
		Locals: wasmtest.Types(wasmtest.I32),
		Export: "run32",
		Body: wasmtest.Seq(
			code.I32Const(0), code.LocalGet(0), code.Mem(code.OpI32Store, 0),
			code.Block(),
			code.Loop(),
			code.LocalGet(1), code.I32Const(8), code.OpI32GeU, code.BrIf(1),
			code.LocalGet(1), code.I32Const(4), code.OpI32Mul,
			code.LocalGet(0), code.LocalGet(1), code.OpI32Mul, code.LocalGet(1), code.OpI32Add,
			code.Mem(code.OpI32Store, 16),
			code.LocalGet(1), code.I32Const(1), code.OpI32Add, code.LocalSet(1),
			code.Br(0),
			code.End(),
			code.End(),
			code.I32Const(12), code.LocalGet(0), code.Mem(code.OpI32Store8, 0),
		),
	})

	// run64(x): mem64[64] = x; mem64[72] = x rotl 13; mem16[80] = x; mem32[84] = x >> 32
	b.Func(wasmtest.Func{
		Type:   b.Type(wasmtest.Types(wasmtest.I64), nil...),
		Export: "run64",
		Body: wasmtest.Seq(
			code.I32Const(64), code.LocalGet(0), code.Mem(code.OpI64Store, 0),
			code.I32Const(72), code.LocalGet(0), code.I64Const(13), code.OpI64Rotl, code.Mem(code.OpI64Store, 0),
			code.I32Const(80), code.LocalGet(0), code.Mem(code.OpI64Store16, 0),
			code.I32Const(84), code.LocalGet(0), code.I64Const(32), code.OpI64ShrU, code.Mem(code.OpI64Store32, 0),
		),
	})
	return b
}

// TestLockStepMemoryTraces drives one interpreted and one compiled instance of the same module with the same
// calls and checks that they perform identical stores.
func TestLockStepMemoryTraces(t *testing.T) {
	type call struct {
		export string
		arg    uint64
	}
	calls := []call{
		{"run32", encode(int32(42))},
		{"run32", encode(int32(math.MaxInt32))},
		{"run32", encode(int32(math.MinInt32))},
		{"run32", encode(int32(-1))},
		{"run64", encode(int64(42))},
		{"run64", encode(int64(math.MaxInt64))},
		{"run64", encode(int64(math.MinInt64))},
		{"run64", encode(int64(-1))},
	}

	m := traced().Load(t)
	run := func(factory exec.MachineFactory) (*exec.MemoryTrace, []byte) {
		var trace exec.MemoryTrace
		inst, err := exec.BuildWithOptions(m, nil, factory, true, &exec.BuildOptions{MemoryTracer: &trace})
		require.NoError(t, err)

		thread := exec.NewThread(0)
		for _, c := range calls {
			fn, err := inst.ExportedFunction(c.export)
			require.NoError(t, err)
			_, err = fn.Execute(context.Background(), thread, []uint64{c.arg})
			require.NoError(t, err)
		}
		return &trace, inst.Memory().Bytes()
	}

	interpTrace, interpMem := run(machine.Interpreter())
	require.NotEmpty(t, interpTrace.Stores)

	for name, factory := range factories() {
		if name == "interpreter" {
			continue
		}
		trace, mem := run(factory)
		if diff := cmp.Diff(interpTrace, trace); diff != "" {
			t.Errorf("%v: memory traces differ (-interpreter +%v):\n%s", name, name, diff)
		}
		assert.Equal(t, interpMem, mem, name)
	}
}
