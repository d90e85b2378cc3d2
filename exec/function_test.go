package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/pgavlin/tandem/wasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFunction(t *testing.T) {
	f, err := HostFunction(func(a int32, b uint64, c float32, d float64) (int64, float32) {
		return int64(a) + int64(b), c * float32(d)
	})
	require.NoError(t, err)
	assert.Equal(t, wasm.FunctionSig{
		Form:        wasm.TypeFunc,
		ParamTypes:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64},
		ReturnTypes: []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeF32},
	}, f.Signature())
	assert.True(t, f.IsHost())

	results, err := f.Call(context.Background(), int32(-1), uint64(3), float32(1.5), float64(2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2), float32(3)}, results)

	_, err = f.Call(context.Background(), int32(1))
	assert.Error(t, err)

	_, err = f.Call(context.Background(), int64(1), uint64(3), float32(1.5), float64(2))
	assert.Error(t, err)

	_, err = HostFunction(func(s string) {})
	assert.Error(t, err)
	_, err = HostFunction(42)
	assert.Error(t, err)
}

func TestHostFunctionErrors(t *testing.T) {
	boom := errors.New("boom")
	f := MustHostFunction(func() error { return boom })
	f.hostModule, f.hostName = "env", "boom"

	_, err := f.Call(context.Background())
	var trapErr *TrapError
	require.True(t, errors.As(err, &trapErr))
	assert.Equal(t, TrapHost, trapErr.Trap)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []StackFrame{{Module: "env", Name: "boom"}}, trapErr.Stack)
	assert.Contains(t, err.Error(), "at env.boom")

	// A host function that returns a trap raises that trap directly.
	trap := MustHostFunction(func() error { return TrapUnreachable })
	_, err = trap.Call(context.Background())
	require.True(t, errors.As(err, &trapErr))
	assert.Equal(t, TrapUnreachable, trapErr.Trap)
	assert.Nil(t, trapErr.Err)
}

func TestHostFunctionArgsAlias(t *testing.T) {
	// results alias args; the host function must observe its arguments intact.
	f := RawHostFunction(wasm.FunctionSig{
		ParamTypes:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32},
		ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32},
	}, func(_ *Thread, args, results []uint64) error {
		results[0] = args[1]
		results[1] = args[0]
		return nil
	})

	slots := []uint64{1, 2}
	f.Invoke(NewThread(0), slots, slots)
	assert.Equal(t, []uint64{2, 1}, slots)
}

func TestExecuteCanceledContext(t *testing.T) {
	f := MustHostFunction(func() {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Execute(ctx, NewThread(0), nil)
	assert.ErrorIs(t, err, ErrCanceled)
}

// TestExecuteCancelDuringReturn cancels the context from inside the call so that the cancellation races with the
// call's return. The thread must come back idle every time.
func TestExecuteCancelDuringReturn(t *testing.T) {
	thread := NewThread(0)
	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		f := MustHostFunction(func() { cancel() })

		_, err := f.Execute(ctx, thread, nil)
		require.NoError(t, err)
		require.False(t, thread.Canceled(), "iteration %d", i)
		assert.Equal(t, 0, thread.Depth())
	}

	inc := MustHostFunction(func(x int32) int32 { return x + 1 })
	results, err := inc.CallThread(context.Background(), thread, int32(41))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(42)}, results)
}

func TestValues(t *testing.T) {
	bits, err := ToBits(wasm.ValueTypeI32, int32(-1))
	require.NoError(t, err)
	assert.Equal(t, uint64(0xffffffff), bits)
	assert.Equal(t, int32(-1), FromBits(wasm.ValueTypeI32, bits))

	bits, err = ToBits(wasm.ValueTypeF64, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, FromBits(wasm.ValueTypeF64, bits))

	_, err = ToBits(wasm.ValueTypeI64, int32(1))
	assert.Error(t, err)

	g := NewGlobalF32(false, 0)
	require.NoError(t, g.SetValue(float32(2.5)))
	assert.Equal(t, float32(2.5), g.GetF32())
	assert.Error(t, g.SetValue(int32(1)))
}
