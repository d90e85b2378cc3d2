// Package machine provides the execution strategies an embedder chooses between when building an instance:
// pure interpretation, ahead-of-time compilation with interpreter fallback, hybrid execution with an explicit
// set of interpreted functions, and execution of a precompiled program loaded from an artifact.
package machine

import (
	"context"
	"fmt"
	"sync"

	"github.com/willf/bitset"

	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/interpreter"
	"github.com/pgavlin/tandem/load"
)

// Interpreter returns a factory for machines that interpret every function.
func Interpreter() exec.MachineFactory {
	return interpreter.Factory
}

// Compiled returns a factory for machines that run compiled code. Each module is compiled once per factory, so
// diagnostics for functions that fall back to the interpreter are reported once no matter how many instances of
// the module are built.
func Compiled(config *compiler.Config) *Compiler {
	return &Compiler{config: config, programs: map[*load.Module]*compilation{}}
}

// Hybrid returns a factory for machines that interpret the functions in interpreted and run the rest as
// compiled code.
func Hybrid(interpreted *bitset.BitSet, config *compiler.Config) *Compiler {
	var c compiler.Config
	if config != nil {
		c = *config
	}
	switch {
	case c.Interpreted == nil:
		c.Interpreted = interpreted
	case interpreted != nil:
		c.Interpreted = c.Interpreted.Union(interpreted)
	}
	return Compiled(&c)
}

// Precompiled returns a factory for machines that run a program loaded from an artifact.
func Precompiled(p *compiler.Program) exec.MachineFactory {
	return exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
		return Bind(inst, p)
	})
}

type compilation struct {
	once    sync.Once
	program *compiler.Program
	err     error
}

// A Compiler is a machine factory that compiles modules on first use.
type Compiler struct {
	config *compiler.Config

	m        sync.Mutex
	programs map[*load.Module]*compilation
}

// Program compiles the given module, or returns the result of compiling it earlier.
func (c *Compiler) Program(ctx context.Context, m *load.Module) (*compiler.Program, error) {
	c.m.Lock()
	entry, ok := c.programs[m]
	if !ok {
		entry = &compilation{}
		c.programs[m] = entry
	}
	c.m.Unlock()

	entry.once.Do(func() {
		entry.program, entry.err = compiler.Compile(ctx, m, c.config)
	})
	return entry.program, entry.err
}

func (c *Compiler) NewMachine(inst *exec.Instance) (exec.Machine, error) {
	p, err := c.Program(context.Background(), inst.Module())
	if err != nil {
		return nil, err
	}
	return Bind(inst, p)
}

// Bind binds a program to an instance. If the program interprets any functions, the result routes each call to
// the interpreter or the compiled code; otherwise it is the program's executable.
func Bind(inst *exec.Instance, p *compiler.Program) (exec.Machine, error) {
	x, err := p.Bind(inst)
	if err != nil {
		return nil, err
	}

	interpreted := p.Interpreted()
	if interpreted.None() {
		return x, nil
	}
	return NewRouter(inst, interpreted, x), nil
}

// A Router dispatches each call to the machine that owns the called function. Calls between functions owned by
// different machines pass through the instance, so they share a single call stack.
type Router struct {
	imports     uint32
	routes      []exec.Machine // indexed by defined function
	interpreted *bitset.BitSet
}

// NewRouter creates a router that interprets the functions in interpreted and sends every other module-defined
// function to compiled.
func NewRouter(inst *exec.Instance, interpreted *bitset.BitSet, compiled exec.Machine) *Router {
	m := inst.Module()
	r := &Router{
		imports:     uint32(m.NumImportedFunctions()),
		routes:      make([]exec.Machine, len(m.Functions)),
		interpreted: interpreted.Clone(),
	}

	var interp exec.Machine
	for i := range r.routes {
		funcidx := r.imports + uint32(i)
		if !interpreted.Test(uint(funcidx)) {
			r.routes[i] = compiled
			continue
		}
		if interp == nil {
			interp = interpreter.New(inst)
		}
		r.routes[i] = interp
	}
	return r
}

// A Unit is a generated unit bound to an instance. It runs the functions it lists.
type Unit interface {
	exec.Machine
	Functions() []uint32
}

// Units returns a factory for machines that run the functions of generated units and interpret every function
// that no unit contains.
func Units(constructors ...func(inst *exec.Instance) Unit) exec.MachineFactory {
	return exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
		m := inst.Module()
		imports := uint32(m.NumImportedFunctions())

		r := &Router{
			imports:     imports,
			routes:      make([]exec.Machine, len(m.Functions)),
			interpreted: bitset.New(uint(int(imports) + len(m.Functions))),
		}
		for _, newUnit := range constructors {
			u := newUnit(inst)
			for _, funcidx := range u.Functions() {
				if funcidx < imports || funcidx-imports >= uint32(len(r.routes)) {
					return nil, fmt.Errorf("unit function %d is not a module-defined function", funcidx)
				}
				if r.routes[funcidx-imports] != nil {
					return nil, fmt.Errorf("function %d is defined by more than one unit", funcidx)
				}
				r.routes[funcidx-imports] = u
			}
		}

		var interp exec.Machine
		for i, route := range r.routes {
			if route != nil {
				continue
			}
			if interp == nil {
				interp = interpreter.New(inst)
			}
			r.routes[i] = interp
			r.interpreted.Set(uint(imports) + uint(i))
		}
		return r, nil
	})
}

// IsInterpreted returns true if the function at funcidx runs in the interpreter.
func (r *Router) IsInterpreted(funcidx uint32) bool {
	return r.interpreted.Test(uint(funcidx))
}

func (r *Router) Invoke(t *exec.Thread, funcidx uint32, args, results []uint64) {
	r.routes[funcidx-r.imports].Invoke(t, funcidx, args, results)
}
