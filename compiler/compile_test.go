package compiler_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/wasmtest"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm/code"
)

func compiledFactory(config *compiler.Config) exec.MachineFactory {
	return exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
		p, err := compiler.Compile(context.Background(), inst.Module(), config)
		if err != nil {
			return nil, err
		}
		return p.Bind(inst)
	})
}

func TestScenarios(t *testing.T) {
	wasmtest.RunScenarios(t, compiledFactory(nil))
}

func TestScenariosSmallUnits(t *testing.T) {
	wasmtest.RunScenarios(t, compiledFactory(&compiler.Config{MaxFunctionsPerUnit: 1, Parallelism: 2}))
}

// twoFunctions returns a module whose function 0 (sum) translates to 16 statements and whose function 1 (one)
// translates to 1.
func twoFunctions(t *testing.T) *load.Module {
	b := wasmtest.LoopSum()
	b.Func(wasmtest.Func{Type: b.Type(nil, wasmtest.I32), Export: "one", Body: wasmtest.Seq(code.I32Const(1))})
	return b.Load(t)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestFallbackFail(t *testing.T) {
	_, err := compiler.Compile(context.Background(), twoFunctions(t), &compiler.Config{
		Fallback:    compiler.FallbackFail,
		MaxUnitSize: 10,
	})

	var limit *compiler.LimitError
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, compiler.LimitError{Function: 0, Size: 16, Limit: 10}, *limit)
	assert.Contains(t, err.Error(), "function 0")
}

func TestFallbackWarn(t *testing.T) {
	logger, logs := observed()
	p, err := compiler.Compile(context.Background(), twoFunctions(t), &compiler.Config{
		Fallback:    compiler.FallbackWarn,
		MaxUnitSize: 10,
		Logger:      logger,
	})
	require.NoError(t, err)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel)
	require.Equal(t, 1, warnings.Len())
	entry := warnings.All()[0]
	assert.Equal(t, uint32(0), entry.ContextMap()["function"])
	assert.Equal(t, int64(16), entry.ContextMap()["size"])

	assert.True(t, p.IsInterpreted(0))
	assert.False(t, p.IsInterpreted(1))

	_, ok := p.Function(0)
	assert.False(t, ok)
	f, ok := p.Function(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), f.Index)

	require.Len(t, p.Units(), 1)
	require.Len(t, p.Units()[0].Functions, 1)
	assert.Equal(t, uint32(1), p.Units()[0].Functions[0].Index)
}

func TestFallbackSilent(t *testing.T) {
	logger, logs := observed()
	p, err := compiler.Compile(context.Background(), twoFunctions(t), &compiler.Config{
		Fallback:    compiler.FallbackSilent,
		MaxUnitSize: 10,
		Logger:      logger,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.True(t, p.IsInterpreted(0))
}

func TestForcedInterpreted(t *testing.T) {
	p, err := compiler.Compile(context.Background(), twoFunctions(t), &compiler.Config{
		Interpreted: bitset.New(2).Set(1),
	})
	require.NoError(t, err)

	assert.False(t, p.IsInterpreted(0))
	assert.True(t, p.IsInterpreted(1))
	assert.Equal(t, uint(1), p.Interpreted().Count())
}

func TestParseFallback(t *testing.T) {
	for _, f := range []compiler.Fallback{compiler.FallbackFail, compiler.FallbackWarn, compiler.FallbackSilent} {
		parsed, err := compiler.ParseFallback(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	_, err := compiler.ParseFallback("sometimes")
	assert.Error(t, err)
}

func TestUnitGrouping(t *testing.T) {
	b := wasmtest.NewBuilder("many")
	typ := b.Type(nil, wasmtest.I32)
	for i := 0; i < 5; i++ {
		b.Func(wasmtest.Func{Type: typ, Body: wasmtest.Seq(code.I32Const(int32(i)))})
	}

	p, err := compiler.Compile(context.Background(), b.Load(t), &compiler.Config{MaxFunctionsPerUnit: 2})
	require.NoError(t, err)

	units := p.Units()
	require.Len(t, units, 3)
	for i, u := range units {
		assert.Equal(t, i, u.Index)
	}
	assert.Equal(t, "many_0", units[0].Name)
	assert.Len(t, units[0].Functions, 2)
	assert.Len(t, units[1].Functions, 2)
	assert.Len(t, units[2].Functions, 1)
	assert.Equal(t, uint32(4), units[2].Functions[0].Index)
}

type countingCache struct {
	m       sync.Mutex
	entries map[string][]byte
	hits    int
	puts    int
}

func (c *countingCache) Get(key []byte) ([]byte, bool, error) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.entries[string(key)]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *countingCache) PutIfAbsent(key, value []byte) (bool, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.entries[string(key)]; ok {
		return false, nil
	}
	c.entries[string(key)] = value
	c.puts++
	return true, nil
}

func TestCache(t *testing.T) {
	cache := &countingCache{entries: map[string][]byte{}}
	m := twoFunctions(t)

	first, err := compiler.Compile(context.Background(), m, &compiler.Config{Cache: cache})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)
	assert.Equal(t, 2, cache.puts)

	second, err := compiler.Compile(context.Background(), m, &compiler.Config{Cache: cache})
	require.NoError(t, err)
	assert.Equal(t, 2, cache.hits)
	assert.Equal(t, 2, cache.puts)

	for i := uint32(0); i < 2; i++ {
		a, ok := first.Function(i)
		require.True(t, ok)
		b, ok := second.Function(i)
		require.True(t, ok)
		assert.Equal(t, a, b)
	}
}

func TestCacheKeys(t *testing.T) {
	m := twoFunctions(t)
	sum, _ := m.Function(0)
	one, _ := m.Function(1)

	config := &compiler.Config{}
	assert.Len(t, compiler.Key(m, sum, config), 32)
	assert.Equal(t, compiler.Key(m, sum, config), compiler.Key(m, sum, &compiler.Config{MaxUnitSize: 3}))
	assert.NotEqual(t, compiler.Key(m, sum, config), compiler.Key(m, one, config))

	// The same body in a module with different signatures must not share a key.
	other := wasmtest.LoopSum().Load(t)
	otherSum, _ := other.Function(0)
	assert.NotEqual(t, compiler.Key(m, sum, config), compiler.Key(other, otherSum, config))
}

func TestMalformedCacheEntry(t *testing.T) {
	m := twoFunctions(t)
	sum, _ := m.Function(0)

	cache := &countingCache{entries: map[string][]byte{}}
	_, err := cache.PutIfAbsent(compiler.Key(m, sum, &compiler.Config{}), []byte("garbage"))
	require.NoError(t, err)

	logger, logs := observed()
	p, err := compiler.Compile(context.Background(), m, &compiler.Config{Cache: cache, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("discarding malformed cache entry").Len())
	assert.False(t, p.IsInterpreted(0))

	inst, err := exec.Build(m, nil, exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
		return p.Bind(inst)
	}), true)
	require.NoError(t, err)
	results, err := inst.Call(context.Background(), "sum", int32(10))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(45)}, results)
}

func TestCompileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := compiler.Compile(ctx, twoFunctions(t), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBindMismatch(t *testing.T) {
	p, err := compiler.Compile(context.Background(), twoFunctions(t), nil)
	require.NoError(t, err)

	_, err = exec.Build(wasmtest.Fib().Load(t), nil, exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
		return p.Bind(inst)
	}), true)
	assert.Error(t, err)
}

func TestExecutableCancel(t *testing.T) {
	b := wasmtest.NewBuilder("spin")
	b.Func(wasmtest.Func{
		Type:   b.Type(nil, nil...),
		Export: "spin",
		Body:   wasmtest.Seq(code.Loop(), code.Call(1), code.Br(0), code.End()),
	})
	b.Func(wasmtest.Func{Type: b.Type(nil, nil...), Body: wasmtest.Seq(code.Nop())})

	inst, err := exec.Build(b.Load(t), nil, compiledFactory(nil), true)
	require.NoError(t, err)

	thread := exec.NewThread(0)
	spin, err := inst.ExportedFunction("spin")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := spin.Execute(ctx, thread, nil)
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, exec.ErrCanceled)
	assert.Equal(t, 0, thread.Depth())
}
