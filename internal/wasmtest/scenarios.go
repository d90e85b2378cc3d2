package wasmtest

import (
	"errors"
	"math"
	"testing"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
	"github.com/stretchr/testify/assert"
)

// A Call is one call to an export. If Trap is set the call must trap with it; otherwise it must return Results.
type Call struct {
	Export  string
	Args    []interface{}
	Results []interface{}
	Trap    exec.Trap
}

// A Scenario is a module plus a sequence of calls into a single instance of it.
type Scenario struct {
	Name    string
	Module  func() *Builder
	Imports func() exec.Imports // Host imports; nil if the module imports nothing but spectest.
	Calls   []Call
	Check   func(t *testing.T, env *Environment) // Optional checks run after Calls.
}

func args(v ...interface{}) []interface{} {
	return v
}

// Run instantiates the scenario's module in a fresh environment and performs its calls.
func (s *Scenario) Run(t *testing.T, factory exec.MachineFactory) {
	env := NewEnvironment(factory)
	if s.Imports != nil {
		for name, exports := range s.Imports() {
			env.Register(name, exports)
		}
	}
	env.Instantiate(t, s.Name, s.Module().Load(t))

	for _, c := range s.Calls {
		if c.Trap != "" {
			env.AssertTrap(t, c.Trap, c.Export, c.Args...)
		} else {
			env.AssertReturn(t, c.Export, c.Args, c.Results...)
		}
	}
	if s.Check != nil {
		s.Check(t, env)
	}
}

// RunScenarios runs every scenario under machines from the given factory.
func RunScenarios(t *testing.T, factory exec.MachineFactory) {
	for _, s := range Scenarios() {
		s := s
		t.Run(s.Name, func(t *testing.T) {
			s.Run(t, factory)
		})
	}
}

// Scenarios returns the shared behavior suite.
func Scenarios() []Scenario {
	return []Scenario{
		fib(),
		loopSum(),
		brTableSwitch(),
		brTableValues(),
		blockParams(),
		callIndirect(),
		memoryBounds(),
		memoryGrow(),
		arithmeticTraps(),
		unreachable(),
		hostImports(),
		deepRecursion(),
		globals(),
		startFunction(),
		bulkMemory(),
		tableOps(),
		integerOps(),
		floatOps(),
		controlFlow(),
	}
}

// Fib returns a module that exports a recursive fib: (i32) -> i32.
func Fib() *Builder {
	b := NewBuilder("fib")
	typ := b.Type(Types(I32), I32)
	b.Func(Func{
		Type:   typ,
		Name:   "fib",
		Export: "fib",
		Body: Seq(
			code.LocalGet(0), code.I32Const(2), code.OpI32LtS,
			code.If(code.BlockTypeI32),
			code.LocalGet(0),
			code.Else(),
			code.LocalGet(0), code.I32Const(1), code.OpI32Sub, code.Call(0),
			code.LocalGet(0), code.I32Const(2), code.OpI32Sub, code.Call(0),
			code.OpI32Add,
			code.End(),
		),
	})
	return b
}

func fib() Scenario {
	return Scenario{
		Name:   "fib",
		Module: Fib,
		Calls: []Call{
			{Export: "fib", Args: args(int32(0)), Results: args(int32(0))},
			{Export: "fib", Args: args(int32(1)), Results: args(int32(1))},
			{Export: "fib", Args: args(int32(10)), Results: args(int32(55))},
			{Export: "fib", Args: args(int32(20)), Results: args(int32(6765))},
		},
	}
}

// LoopSum returns a module that exports sum: (n i32) -> i32, which adds 0 through n-1 in a loop.
func LoopSum() *Builder {
	b := NewBuilder("loop")
	typ := b.Type(Types(I32), I32)
	b.Func(Func{
		Type:   typ,
		Locals: Types(I32, I32),
		Name:   "sum",
		Export: "sum",
		Body: Seq(
			code.Block(),
			code.Loop(),
			code.LocalGet(1), code.LocalGet(0), code.OpI32GeS, code.BrIf(1),
			code.LocalGet(2), code.LocalGet(1), code.OpI32Add, code.LocalSet(2),
			code.LocalGet(1), code.I32Const(1), code.OpI32Add, code.LocalSet(1),
			code.Br(0),
			code.End(),
			code.End(),
			code.LocalGet(2),
		),
	})
	return b
}

func loopSum() Scenario {
	return Scenario{
		Name:   "loop-sum",
		Module: LoopSum,
		Calls: []Call{
			{Export: "sum", Args: args(int32(0)), Results: args(int32(0))},
			{Export: "sum", Args: args(int32(100)), Results: args(int32(4950))},
		},
	}
}

func brTableSwitch() Scenario {
	return Scenario{
		Name: "br-table-switch",
		Module: func() *Builder {
			b := NewBuilder("switch")
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "switch",
				Body: Seq(
					code.Block(),
					code.Block(),
					code.Block(),
					code.LocalGet(0), code.BrTable(0, 1, 2),
					code.End(),
					code.I32Const(10), code.Return(),
					code.End(),
					code.I32Const(20), code.Return(),
					code.End(),
					code.I32Const(30),
				),
			})
			return b
		},
		Calls: []Call{
			{Export: "switch", Args: args(int32(0)), Results: args(int32(10))},
			{Export: "switch", Args: args(int32(1)), Results: args(int32(20))},
			{Export: "switch", Args: args(int32(2)), Results: args(int32(30))},
			{Export: "switch", Args: args(int32(5)), Results: args(int32(30))},
			{Export: "switch", Args: args(int32(-1)), Results: args(int32(30))},
		},
	}
}

func brTableValues() Scenario {
	return Scenario{
		Name: "br-table-values",
		Module: func() *Builder {
			b := NewBuilder("switch")
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "select",
				Body: Seq(
					code.Block(code.BlockTypeI32),
					code.Block(code.BlockTypeI32),
					code.I32Const(7), code.LocalGet(0), code.BrTable(0, 1),
					code.End(),
					code.I32Const(100), code.OpI32Add,
					code.End(),
				),
			})
			return b
		},
		Calls: []Call{
			{Export: "select", Args: args(int32(0)), Results: args(int32(107))},
			{Export: "select", Args: args(int32(1)), Results: args(int32(7))},
			{Export: "select", Args: args(int32(9)), Results: args(int32(7))},
		},
	}
}

func blockParams() Scenario {
	return Scenario{
		Name: "block-params",
		Module: func() *Builder {
			b := NewBuilder("params")
			binary := b.Type(Types(I32, I32), I32)
			unary := b.Type(Types(I32), I32)
			b.Func(Func{
				Type:   b.Type(nil, I32),
				Export: "add",
				Body: Seq(
					code.I32Const(3), code.I32Const(4),
					code.Block(code.BlockType(binary)),
					code.OpI32Add,
					code.End(),
				),
			})
			b.Func(Func{
				Type:   unary,
				Locals: Types(I32),
				Export: "countdown",
				Body: Seq(
					code.LocalGet(0),
					code.Loop(code.BlockType(unary)),
					code.LocalGet(1), code.I32Const(1), code.OpI32Add, code.LocalSet(1),
					code.I32Const(1), code.OpI32Sub,
					code.LocalTee(0), code.LocalGet(0),
					code.BrIf(0),
					code.End(),
					code.LocalGet(1), code.OpI32Add,
				),
			})
			b.Func(Func{
				Type:   b.Type(Types(I32, I32), I32, I32),
				Export: "swap",
				Body:   Seq(code.LocalGet(1), code.LocalGet(0)),
			})
			return b
		},
		Calls: []Call{
			{Export: "add", Results: args(int32(7))},
			{Export: "countdown", Args: args(int32(5)), Results: args(int32(5))},
			{Export: "swap", Args: args(int32(1), int32(2)), Results: args(int32(2), int32(1))},
		},
	}
}

func callIndirect() Scenario {
	return Scenario{
		Name: "call-indirect",
		Module: func() *Builder {
			b := NewBuilder("indirect")
			i32 := b.Type(nil, I32)
			i64 := b.Type(nil, I64)
			seven := b.Func(Func{Type: i32, Name: "seven", Body: Seq(code.I32Const(7))})
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "dispatch",
				Body:   Seq(code.LocalGet(0), code.CallIndirect(i32)),
			})
			b.Func(Func{
				Type:   b.Type(Types(I32), I64),
				Export: "dispatch_i64",
				Body:   Seq(code.LocalGet(0), code.CallIndirect(i64)),
			})
			b.Table(2, 0)
			b.Elements(0, seven)
			return b
		},
		Calls: []Call{
			{Export: "dispatch", Args: args(int32(0)), Results: args(int32(7))},
			{Export: "dispatch", Args: args(int32(1)), Trap: exec.TrapUninitializedElement},
			{Export: "dispatch", Args: args(int32(2)), Trap: exec.TrapUndefinedElement},
			{Export: "dispatch", Args: args(int32(-1)), Trap: exec.TrapUndefinedElement},
			{Export: "dispatch_i64", Args: args(int32(0)), Trap: exec.TrapIndirectCallTypeMismatch},
		},
	}
}

// MemoryModule returns a module with one page of memory and exports for loads and stores of every width.
func MemoryModule() *Builder {
	b := NewBuilder("memory")
	b.Memory(1, 2)
	b.Data(0, []byte("hello"))

	load := b.Type(Types(I32), I32)
	store := b.Type(Types(I32, I32), nil...)
	b.Func(Func{Type: load, Export: "load8_u", Body: Seq(code.LocalGet(0), code.Mem(code.OpI32Load8U, 0))})
	b.Func(Func{Type: load, Export: "load8_s", Body: Seq(code.LocalGet(0), code.Mem(code.OpI32Load8S, 0))})
	b.Func(Func{Type: load, Export: "load16_s", Body: Seq(code.LocalGet(0), code.Mem(code.OpI32Load16S, 0))})
	b.Func(Func{Type: load, Export: "load32", Body: Seq(code.LocalGet(0), code.Mem(code.OpI32Load, 0))})
	b.Func(Func{Type: load, Export: "load32_high", Body: Seq(code.LocalGet(0), code.Mem(code.OpI32Load, 65532))})
	b.Func(Func{
		Type:   b.Type(Types(I32), I64),
		Export: "load64_s32",
		Body:   Seq(code.LocalGet(0), code.Mem(code.OpI64Load32S, 0)),
	})
	b.Func(Func{Type: store, Export: "store8", Body: Seq(code.LocalGet(0), code.LocalGet(1), code.Mem(code.OpI32Store8, 0))})
	b.Func(Func{Type: store, Export: "store32", Body: Seq(code.LocalGet(0), code.LocalGet(1), code.Mem(code.OpI32Store, 0))})
	b.Func(Func{
		Type:   b.Type(Types(I32, I64), nil...),
		Export: "store64",
		Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.Mem(code.OpI64Store, 0)),
	})
	b.Func(Func{
		Type:   b.Type(Types(I32), I64),
		Export: "load64",
		Body:   Seq(code.LocalGet(0), code.Mem(code.OpI64Load, 0)),
	})
	b.Func(Func{Type: b.Type(nil, I32), Export: "size", Body: Seq(code.MemorySize())})
	b.Func(Func{Type: load, Export: "grow", Body: Seq(code.LocalGet(0), code.MemoryGrow())})
	return b
}

func memoryBounds() Scenario {
	return Scenario{
		Name:   "memory-bounds",
		Module: MemoryModule,
		Calls: []Call{
			{Export: "load8_u", Args: args(int32(1)), Results: args(int32('e'))},
			{Export: "load8_u", Args: args(int32(65535)), Results: args(int32(0))},
			{Export: "load8_u", Args: args(int32(65536)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "load8_u", Args: args(int32(-1)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "store32", Args: args(int32(65532), int32(-2))},
			{Export: "load32", Args: args(int32(65532)), Results: args(int32(-2))},
			{Export: "load8_s", Args: args(int32(65532)), Results: args(int32(-2))},
			{Export: "load8_u", Args: args(int32(65532)), Results: args(int32(0xfe))},
			{Export: "load16_s", Args: args(int32(65534)), Results: args(int32(-1))},
			{Export: "load64_s32", Args: args(int32(65532)), Results: args(int64(-2))},
			{Export: "load32", Args: args(int32(65533)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "store32", Args: args(int32(65533), int32(1)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "load32_high", Args: args(int32(0)), Results: args(int32(-2))},
			{Export: "load32_high", Args: args(int32(1)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "store64", Args: args(int32(8), int64(0x0102030405060708))},
			{Export: "load64", Args: args(int32(8)), Results: args(int64(0x0102030405060708))},
			{Export: "load8_u", Args: args(int32(8)), Results: args(int32(8))},
			{Export: "store64", Args: args(int32(65529), int64(1)), Trap: exec.TrapOutOfBoundsMemoryAccess},
		},
		Check: func(t *testing.T, env *Environment) {
			// A trapping store must not write any bytes.
			env.AssertReturn(t, "load8_u", args(int32(65533)), int32(0xff))
		},
	}
}

func memoryGrow() Scenario {
	return Scenario{
		Name:   "memory-grow",
		Module: MemoryModule,
		Calls: []Call{
			{Export: "size", Results: args(int32(1))},
			{Export: "load8_u", Args: args(int32(65536)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "grow", Args: args(int32(1)), Results: args(int32(1))},
			{Export: "size", Results: args(int32(2))},
			{Export: "load8_u", Args: args(int32(65536)), Results: args(int32(0))},
			{Export: "grow", Args: args(int32(1)), Results: args(int32(-1))},
			{Export: "grow", Args: args(int32(0)), Results: args(int32(2))},
			{Export: "load8_u", Args: args(int32(131072)), Trap: exec.TrapOutOfBoundsMemoryAccess},
		},
	}
}

func binary(b *Builder, name string, typ uint32, opcode byte) {
	b.Func(Func{Type: typ, Export: name, Body: Seq(code.LocalGet(0), code.LocalGet(1), opcode)})
}

func unary(b *Builder, name string, typ uint32, instr code.Instruction) {
	b.Func(Func{Type: typ, Export: name, Body: Seq(code.LocalGet(0), instr)})
}

func arithmeticTraps() Scenario {
	return Scenario{
		Name: "arithmetic-traps",
		Module: func() *Builder {
			b := NewBuilder("traps")
			i32 := b.Type(Types(I32, I32), I32)
			i64 := b.Type(Types(I64, I64), I64)
			binary(b, "i32.div_s", i32, code.OpI32DivS)
			binary(b, "i32.div_u", i32, code.OpI32DivU)
			binary(b, "i32.rem_s", i32, code.OpI32RemS)
			binary(b, "i64.div_s", i64, code.OpI64DivS)
			binary(b, "i64.rem_u", i64, code.OpI64RemU)
			unary(b, "i32.trunc_f32_s", b.Type(Types(F32), I32), code.Op(code.OpI32TruncF32S))
			unary(b, "i64.trunc_f64_u", b.Type(Types(F64), I64), code.Op(code.OpI64TruncF64U))
			unary(b, "i32.trunc_sat_f32_s", b.Type(Types(F32), I32), code.Prefixed(code.OpI32TruncSatF32S))
			return b
		},
		Calls: []Call{
			{Export: "i32.div_s", Args: args(int32(7), int32(-2)), Results: args(int32(-3))},
			{Export: "i32.div_s", Args: args(int32(1), int32(0)), Trap: exec.TrapIntegerDivideByZero},
			{Export: "i32.div_s", Args: args(int32(math.MinInt32), int32(-1)), Trap: exec.TrapIntegerOverflow},
			{Export: "i32.div_u", Args: args(int32(-1), int32(2)), Results: args(int32(math.MaxInt32))},
			{Export: "i32.div_u", Args: args(int32(1), int32(0)), Trap: exec.TrapIntegerDivideByZero},
			{Export: "i32.rem_s", Args: args(int32(math.MinInt32), int32(-1)), Results: args(int32(0))},
			{Export: "i32.rem_s", Args: args(int32(-7), int32(2)), Results: args(int32(-1))},
			{Export: "i32.rem_s", Args: args(int32(1), int32(0)), Trap: exec.TrapIntegerDivideByZero},
			{Export: "i64.div_s", Args: args(int64(math.MinInt64), int64(-1)), Trap: exec.TrapIntegerOverflow},
			{Export: "i64.div_s", Args: args(int64(1), int64(0)), Trap: exec.TrapIntegerDivideByZero},
			{Export: "i64.rem_u", Args: args(int64(-1), int64(10)), Results: args(int64(5))},
			{Export: "i64.rem_u", Args: args(int64(1), int64(0)), Trap: exec.TrapIntegerDivideByZero},
			{Export: "i32.trunc_f32_s", Args: args(float32(-3.9)), Results: args(int32(-3))},
			{Export: "i32.trunc_f32_s", Args: args(float32(math.NaN())), Trap: exec.TrapInvalidConversionToInteger},
			{Export: "i32.trunc_f32_s", Args: args(float32(3e9)), Trap: exec.TrapIntegerOverflow},
			{Export: "i64.trunc_f64_u", Args: args(float64(-1)), Trap: exec.TrapIntegerOverflow},
			{Export: "i64.trunc_f64_u", Args: args(float64(1e19)), Results: args(int64(-8446744073709551616))},
			{Export: "i32.trunc_sat_f32_s", Args: args(float32(3e9)), Results: args(int32(math.MaxInt32))},
			{Export: "i32.trunc_sat_f32_s", Args: args(float32(math.NaN())), Results: args(int32(0))},
		},
	}
}

func unreachable() Scenario {
	return Scenario{
		Name: "unreachable",
		Module: func() *Builder {
			b := NewBuilder("unreachable")
			typ := b.Type(nil, nil...)
			inner := b.Func(Func{Type: typ, Name: "inner", Body: Seq(code.Unreachable())})
			b.Func(Func{Type: typ, Name: "outer", Export: "outer", Body: Seq(code.Call(inner))})
			return b
		},
		Calls: []Call{{Export: "outer", Trap: exec.TrapUnreachable}},
		Check: func(t *testing.T, env *Environment) {
			_, err := env.Call("outer")
			var trapErr *exec.TrapError
			if assert.True(t, errors.As(err, &trapErr)) {
				assert.Equal(t, uint32(0), trapErr.Function)
				if assert.Len(t, trapErr.Stack, 2) {
					assert.Equal(t, "unreachable.inner", trapErr.Stack[0].String())
					assert.Equal(t, "unreachable.outer", trapErr.Stack[1].String())
				}
			}
		},
	}
}

// ErrHost is the error returned by the host function in the host-imports scenario.
var ErrHost = errors.New("host failure")

func hostImports() Scenario {
	return Scenario{
		Name: "host-imports",
		Module: func() *Builder {
			b := NewBuilder("host")
			add := b.ImportFunc("env", "add", b.Type(Types(I32, I32), I32))
			fail := b.ImportFunc("env", "fail", b.Type(nil, nil...))
			b.ImportFunc("spectest", "print_i32", b.Type(Types(I32), nil...))
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "add_twice",
				Body: Seq(
					code.LocalGet(0), code.LocalGet(0), code.Call(add),
					code.LocalGet(0), code.Call(add),
					code.LocalGet(0), code.Call(2),
				),
			})
			b.Func(Func{Type: b.Type(nil, nil...), Export: "fail", Body: Seq(code.Call(fail))})
			return b
		},
		Imports: func() exec.Imports {
			return exec.Imports{"env": {
				"add":  exec.MustHostFunction(func(x, y int32) int32 { return x + y }),
				"fail": exec.MustHostFunction(func() error { return ErrHost }),
			}}
		},
		Calls: []Call{
			{Export: "add_twice", Args: args(int32(5)), Results: args(int32(15))},
			{Export: "fail", Trap: exec.TrapHost},
		},
		Check: func(t *testing.T, env *Environment) {
			_, err := env.Call("fail")
			assert.ErrorIs(t, err, ErrHost)
		},
	}
}

func deepRecursion() Scenario {
	return Scenario{
		Name: "deep-recursion",
		Module: func() *Builder {
			b := NewBuilder("recursion")
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "recurse",
				Body:   Seq(code.LocalGet(0), code.I32Const(1), code.OpI32Add, code.Call(0)),
			})
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "depth",
				Body: Seq(
					code.LocalGet(0), code.OpI32Eqz,
					code.If(code.BlockTypeI32),
					code.I32Const(0),
					code.Else(),
					code.LocalGet(0), code.I32Const(1), code.OpI32Sub, code.Call(1), code.I32Const(1), code.OpI32Add,
					code.End(),
				),
			})
			return b
		},
		Calls: []Call{
			{Export: "recurse", Args: args(int32(0)), Trap: exec.TrapCallStackExhausted},
			{Export: "depth", Args: args(int32(5000)), Results: args(int32(5000))},
			{Export: "recurse", Args: args(int32(0)), Trap: exec.TrapCallStackExhausted},
		},
	}
}

func globals() Scenario {
	return Scenario{
		Name: "globals",
		Module: func() *Builder {
			b := NewBuilder("globals")
			imported := b.ImportGlobal("spectest", "global_i32", I32, false)
			counter := b.Global(I32, true, code.I32Const(10))
			big := b.Global(I64, false, code.I64Const(math.MaxInt64))
			copied := b.Global(I32, false, code.GlobalGet(imported))
			b.Func(Func{
				Type:   b.Type(nil, I32),
				Export: "inc",
				Body: Seq(
					code.GlobalGet(counter), code.I32Const(1), code.OpI32Add, code.GlobalSet(counter),
					code.GlobalGet(counter),
				),
			})
			b.Func(Func{Type: b.Type(nil, I64), Export: "big", Body: Seq(code.GlobalGet(big))})
			b.Func(Func{Type: b.Type(nil, I32), Export: "copied", Body: Seq(code.GlobalGet(copied))})
			b.Export("counter", wasm.ExternalGlobal, counter)
			return b
		},
		Calls: []Call{
			{Export: "inc", Results: args(int32(11))},
			{Export: "inc", Results: args(int32(12))},
			{Export: "big", Results: args(int64(math.MaxInt64))},
			{Export: "copied", Results: args(int32(666))},
		},
		Check: func(t *testing.T, env *Environment) {
			g, err := env.Current().ExportedGlobal("counter")
			if assert.NoError(t, err) {
				assert.Equal(t, int32(12), g.GetI32())
			}
		},
	}
}

func startFunction() Scenario {
	return Scenario{
		Name: "start",
		Module: func() *Builder {
			b := NewBuilder("start")
			b.Memory(1, 0)
			start := b.Func(Func{
				Type: b.Type(nil, nil...),
				Body: Seq(code.I32Const(4), code.I32Const(42), code.Mem(code.OpI32Store, 0)),
			})
			b.Func(Func{Type: b.Type(nil, I32), Export: "get", Body: Seq(code.I32Const(4), code.Mem(code.OpI32Load, 0))})
			b.Start(start)
			return b
		},
		Calls: []Call{{Export: "get", Results: args(int32(42))}},
	}
}

func bulkMemory() Scenario {
	return Scenario{
		Name: "bulk-memory",
		Module: func() *Builder {
			b := NewBuilder("bulk")
			b.Memory(1, 0)
			seg := b.PassiveData([]byte("abcdef"))
			ternary := b.Type(Types(I32, I32, I32), nil...)
			b.Func(Func{
				Type:   ternary,
				Export: "init",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.LocalGet(2), code.MemoryInit(seg)),
			})
			b.Func(Func{
				Type:   ternary,
				Export: "fill",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.LocalGet(2), code.MemoryFill()),
			})
			b.Func(Func{
				Type:   ternary,
				Export: "copy",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.LocalGet(2), code.MemoryCopy()),
			})
			b.Func(Func{Type: b.Type(nil, nil...), Export: "drop", Body: Seq(code.DataDrop(seg))})
			b.Func(Func{
				Type:   b.Type(Types(I32), I32),
				Export: "load8_u",
				Body:   Seq(code.LocalGet(0), code.Mem(code.OpI32Load8U, 0)),
			})
			return b
		},
		Calls: []Call{
			{Export: "init", Args: args(int32(0), int32(0), int32(6))},
			{Export: "load8_u", Args: args(int32(2)), Results: args(int32('c'))},
			{Export: "init", Args: args(int32(65535), int32(0), int32(2)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "init", Args: args(int32(0), int32(4), int32(3)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "fill", Args: args(int32(10), int32(0x5a), int32(4))},
			{Export: "load8_u", Args: args(int32(13)), Results: args(int32(0x5a))},
			{Export: "load8_u", Args: args(int32(14)), Results: args(int32(0))},
			{Export: "copy", Args: args(int32(1), int32(0), int32(6))},
			{Export: "load8_u", Args: args(int32(6)), Results: args(int32('f'))},
			{Export: "load8_u", Args: args(int32(1)), Results: args(int32('a'))},
			{Export: "copy", Args: args(int32(65530), int32(0), int32(7)), Trap: exec.TrapOutOfBoundsMemoryAccess},
			{Export: "fill", Args: args(int32(65536), int32(0), int32(0))},
			{Export: "drop"},
			{Export: "init", Args: args(int32(0), int32(0), int32(0))},
			{Export: "init", Args: args(int32(0), int32(0), int32(1)), Trap: exec.TrapOutOfBoundsMemoryAccess},
		},
	}
}

func tableOps() Scenario {
	return Scenario{
		Name: "table-ops",
		Module: func() *Builder {
			b := NewBuilder("tables")
			get := b.Type(nil, I32)
			one := b.Func(Func{Type: get, Body: Seq(code.I32Const(1))})
			two := b.Func(Func{Type: get, Body: Seq(code.I32Const(2))})
			b.Table(2, 10)
			b.Elements(0, one)
			seg := b.PassiveElements(two)

			unaryT := b.Type(Types(I32), I32)
			ternary := b.Type(Types(I32, I32, I32), nil...)
			b.Func(Func{Type: get, Export: "size", Body: Seq(code.TableSize(0))})
			b.Func(Func{Type: unaryT, Export: "grow", Body: Seq(code.RefNull(), code.LocalGet(0), code.TableGrow(0))})
			b.Func(Func{Type: unaryT, Export: "call", Body: Seq(code.LocalGet(0), code.CallIndirect(get))})
			b.Func(Func{Type: unaryT, Export: "is_null", Body: Seq(code.LocalGet(0), code.TableGet(0), code.RefIsNull())})
			b.Func(Func{
				Type:   b.Type(Types(I32), nil...),
				Export: "set_two",
				Body:   Seq(code.LocalGet(0), code.RefFunc(two), code.TableSet(0)),
			})
			b.Func(Func{
				Type:   ternary,
				Export: "init",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.LocalGet(2), code.TableInit(0, seg)),
			})
			b.Func(Func{
				Type:   ternary,
				Export: "copy",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.LocalGet(2), code.TableCopy(0, 0)),
			})
			b.Func(Func{
				Type:   b.Type(Types(I32, I32), nil...),
				Export: "clear",
				Body:   Seq(code.LocalGet(0), code.RefNull(), code.LocalGet(1), code.TableFill(0)),
			})
			b.Func(Func{Type: b.Type(nil, nil...), Export: "drop", Body: Seq(code.ElemDrop(seg))})
			return b
		},
		Calls: []Call{
			{Export: "size", Results: args(int32(2))},
			{Export: "call", Args: args(int32(0)), Results: args(int32(1))},
			{Export: "is_null", Args: args(int32(1)), Results: args(int32(1))},
			{Export: "set_two", Args: args(int32(1))},
			{Export: "call", Args: args(int32(1)), Results: args(int32(2))},
			{Export: "is_null", Args: args(int32(1)), Results: args(int32(0))},
			{Export: "grow", Args: args(int32(3)), Results: args(int32(2))},
			{Export: "size", Results: args(int32(5))},
			{Export: "is_null", Args: args(int32(4)), Results: args(int32(1))},
			{Export: "is_null", Args: args(int32(5)), Trap: exec.TrapOutOfBoundsTableAccess},
			{Export: "set_two", Args: args(int32(5)), Trap: exec.TrapOutOfBoundsTableAccess},
			{Export: "init", Args: args(int32(4), int32(0), int32(1))},
			{Export: "call", Args: args(int32(4)), Results: args(int32(2))},
			{Export: "init", Args: args(int32(4), int32(0), int32(2)), Trap: exec.TrapOutOfBoundsTableAccess},
			{Export: "copy", Args: args(int32(2), int32(0), int32(2))},
			{Export: "call", Args: args(int32(2)), Results: args(int32(1))},
			{Export: "call", Args: args(int32(3)), Results: args(int32(2))},
			{Export: "copy", Args: args(int32(4), int32(0), int32(2)), Trap: exec.TrapOutOfBoundsTableAccess},
			{Export: "clear", Args: args(int32(0), int32(2))},
			{Export: "call", Args: args(int32(0)), Trap: exec.TrapUninitializedElement},
			{Export: "grow", Args: args(int32(100)), Results: args(int32(-1))},
			{Export: "drop"},
			{Export: "init", Args: args(int32(0), int32(0), int32(1)), Trap: exec.TrapOutOfBoundsTableAccess},
		},
	}
}

func integerOps() Scenario {
	return Scenario{
		Name: "integer-ops",
		Module: func() *Builder {
			b := NewBuilder("integers")
			i32 := b.Type(Types(I32, I32), I32)
			i64 := b.Type(Types(I64, I64), I64)
			binary(b, "i32.add", i32, code.OpI32Add)
			binary(b, "i32.mul", i32, code.OpI32Mul)
			binary(b, "i32.shl", i32, code.OpI32Shl)
			binary(b, "i32.shr_s", i32, code.OpI32ShrS)
			binary(b, "i32.shr_u", i32, code.OpI32ShrU)
			binary(b, "i32.rotl", i32, code.OpI32Rotl)
			binary(b, "i32.lt_u", i32, code.OpI32LtU)
			binary(b, "i64.sub", i64, code.OpI64Sub)
			binary(b, "i64.rotr", i64, code.OpI64Rotr)
			binary(b, "i64.shr_s", i64, code.OpI64ShrS)
			unary(b, "i32.clz", b.Type(Types(I32), I32), code.Op(code.OpI32Clz))
			unary(b, "i32.popcnt", b.Type(Types(I32), I32), code.Op(code.OpI32Popcnt))
			unary(b, "i32.extend8_s", b.Type(Types(I32), I32), code.Op(code.OpI32Extend8S))
			unary(b, "i64.ctz", b.Type(Types(I64), I64), code.Op(code.OpI64Ctz))
			unary(b, "i64.eqz", b.Type(Types(I64), I32), code.Op(code.OpI64Eqz))
			unary(b, "i64.extend_i32_s", b.Type(Types(I32), I64), code.Op(code.OpI64ExtendI32S))
			unary(b, "i64.extend_i32_u", b.Type(Types(I32), I64), code.Op(code.OpI64ExtendI32U))
			unary(b, "i32.wrap_i64", b.Type(Types(I64), I32), code.Op(code.OpI32WrapI64))
			return b
		},
		Calls: []Call{
			{Export: "i32.add", Args: args(int32(math.MaxInt32), int32(1)), Results: args(int32(math.MinInt32))},
			{Export: "i32.mul", Args: args(int32(0x10000), int32(0x10000)), Results: args(int32(0))},
			{Export: "i32.shl", Args: args(int32(1), int32(33)), Results: args(int32(2))},
			{Export: "i32.shr_s", Args: args(int32(-8), int32(1)), Results: args(int32(-4))},
			{Export: "i32.shr_u", Args: args(int32(-8), int32(1)), Results: args(int32(0x7ffffffc))},
			{Export: "i32.rotl", Args: args(int32(math.MinInt32), int32(1)), Results: args(int32(1))},
			{Export: "i32.lt_u", Args: args(int32(1), int32(-1)), Results: args(int32(1))},
			{Export: "i64.sub", Args: args(int64(math.MinInt64), int64(1)), Results: args(int64(math.MaxInt64))},
			{Export: "i64.rotr", Args: args(int64(1), int64(1)), Results: args(int64(math.MinInt64))},
			{Export: "i64.shr_s", Args: args(int64(-1), int64(63)), Results: args(int64(-1))},
			{Export: "i32.clz", Args: args(int32(1)), Results: args(int32(31))},
			{Export: "i32.clz", Args: args(int32(0)), Results: args(int32(32))},
			{Export: "i32.popcnt", Args: args(int32(-1)), Results: args(int32(32))},
			{Export: "i32.extend8_s", Args: args(int32(0x80)), Results: args(int32(-128))},
			{Export: "i64.ctz", Args: args(int64(0)), Results: args(int64(64))},
			{Export: "i64.eqz", Args: args(int64(0)), Results: args(int32(1))},
			{Export: "i64.extend_i32_s", Args: args(int32(-1)), Results: args(int64(-1))},
			{Export: "i64.extend_i32_u", Args: args(int32(-1)), Results: args(int64(0xffffffff))},
			{Export: "i32.wrap_i64", Args: args(int64(0x123456789)), Results: args(int32(0x23456789))},
		},
	}
}

func floatOps() Scenario {
	negZero32 := float32(math.Copysign(0, -1))
	return Scenario{
		Name: "float-ops",
		Module: func() *Builder {
			b := NewBuilder("floats")
			f32 := b.Type(Types(F32, F32), F32)
			f64 := b.Type(Types(F64, F64), F64)
			binary(b, "f32.add", f32, code.OpF32Add)
			binary(b, "f32.min", f32, code.OpF32Min)
			binary(b, "f32.max", f32, code.OpF32Max)
			binary(b, "f32.copysign", f32, code.OpF32Copysign)
			binary(b, "f64.div", f64, code.OpF64Div)
			binary(b, "f64.max", f64, code.OpF64Max)
			unary(b, "f32.nearest", b.Type(Types(F32), F32), code.Op(code.OpF32Nearest))
			unary(b, "f64.sqrt", b.Type(Types(F64), F64), code.Op(code.OpF64Sqrt))
			unary(b, "f64.neg", b.Type(Types(F64), F64), code.Op(code.OpF64Neg))
			unary(b, "f32.demote_f64", b.Type(Types(F64), F32), code.Op(code.OpF32DemoteF64))
			unary(b, "f64.convert_i64_u", b.Type(Types(I64), F64), code.Op(code.OpF64ConvertI64U))
			b.Func(Func{
				Type:   b.Type(Types(F64, F64), I32),
				Export: "f64.lt",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.OpF64Lt),
			})
			return b
		},
		Calls: []Call{
			{Export: "f32.add", Args: args(float32(1.5), float32(2.25)), Results: args(float32(3.75))},
			{Export: "f32.min", Args: args(float32(0), negZero32), Results: args(negZero32)},
			{Export: "f32.max", Args: args(negZero32, float32(0)), Results: args(float32(0))},
			{Export: "f32.min", Args: args(float32(1), float32(math.NaN())), Results: args(NaN{})},
			{Export: "f32.copysign", Args: args(float32(2), float32(-1)), Results: args(float32(-2))},
			{Export: "f64.div", Args: args(float64(1), float64(0)), Results: args(math.Inf(1))},
			{Export: "f64.div", Args: args(float64(0), float64(0)), Results: args(NaN{})},
			{Export: "f64.max", Args: args(math.Inf(-1), float64(-5)), Results: args(float64(-5))},
			{Export: "f32.nearest", Args: args(float32(2.5)), Results: args(float32(2))},
			{Export: "f32.nearest", Args: args(float32(-3.5)), Results: args(float32(-4))},
			{Export: "f64.sqrt", Args: args(float64(16)), Results: args(float64(4))},
			{Export: "f64.neg", Args: args(float64(0)), Results: args(math.Copysign(0, -1))},
			{Export: "f32.demote_f64", Args: args(float64(0.1)), Results: args(float32(0.1))},
			{Export: "f64.convert_i64_u", Args: args(int64(-1)), Results: args(float64(18446744073709551615.0))},
			{Export: "f64.lt", Args: args(math.NaN(), float64(1)), Results: args(int32(0))},
			{Export: "f64.lt", Args: args(float64(-1), float64(1)), Results: args(int32(1))},
		},
	}
}

func controlFlow() Scenario {
	return Scenario{
		Name: "control-flow",
		Module: func() *Builder {
			b := NewBuilder("control")
			unaryT := b.Type(Types(I32), I32)
			// if without else inside a block, with an early exit from the if.
			b.Func(Func{
				Type:   unaryT,
				Export: "clamp",
				Body: Seq(
					code.Block(code.BlockTypeI32),
					code.I32Const(100),
					code.LocalGet(0), code.I32Const(100), code.OpI32GtS,
					code.BrIf(0),
					code.Drop(),
					code.LocalGet(0), code.I32Const(0), code.OpI32LtS,
					code.If(),
					code.I32Const(0), code.LocalSet(0),
					code.End(),
					code.LocalGet(0),
					code.End(),
				),
			})
			b.Func(Func{
				Type:   b.Type(Types(I32, I32, I32), I32),
				Export: "select",
				Body:   Seq(code.LocalGet(0), code.LocalGet(1), code.LocalGet(2), code.Select()),
			})
			// Nested loops: sum of i*j for i, j in [0, n).
			b.Func(Func{
				Type:   unaryT,
				Locals: Types(I32, I32, I32),
				Export: "nested",
				Body: Seq(
					code.Block(),
					code.Loop(),
					code.LocalGet(1), code.LocalGet(0), code.OpI32GeU, code.BrIf(1),
					code.I32Const(0), code.LocalSet(2),
					code.Block(),
					code.Loop(),
					code.LocalGet(2), code.LocalGet(0), code.OpI32GeU, code.BrIf(1),
					code.LocalGet(3), code.LocalGet(1), code.LocalGet(2), code.OpI32Mul, code.OpI32Add, code.LocalSet(3),
					code.LocalGet(2), code.I32Const(1), code.OpI32Add, code.LocalSet(2),
					code.Br(0),
					code.End(),
					code.End(),
					code.LocalGet(1), code.I32Const(1), code.OpI32Add, code.LocalSet(1),
					code.Br(0),
					code.End(),
					code.End(),
					code.LocalGet(3),
				),
			})
			// A return from inside nested blocks that carries a value.
			b.Func(Func{
				Type:   unaryT,
				Export: "early",
				Body: Seq(
					code.Block(),
					code.Block(),
					code.LocalGet(0), code.OpI32Eqz, code.BrIf(1),
					code.I32Const(1), code.I32Const(2), code.Return(),
					code.End(),
					code.End(),
					code.I32Const(3),
				),
			})
			return b
		},
		Calls: []Call{
			{Export: "clamp", Args: args(int32(150)), Results: args(int32(100))},
			{Export: "clamp", Args: args(int32(-5)), Results: args(int32(0))},
			{Export: "clamp", Args: args(int32(42)), Results: args(int32(42))},
			{Export: "select", Args: args(int32(1), int32(2), int32(1)), Results: args(int32(1))},
			{Export: "select", Args: args(int32(1), int32(2), int32(0)), Results: args(int32(2))},
			{Export: "nested", Args: args(int32(4)), Results: args(int32(36))},
			{Export: "early", Args: args(int32(1)), Results: args(int32(2))},
			{Export: "early", Args: args(int32(0)), Results: args(int32(3))},
		},
	}
}
