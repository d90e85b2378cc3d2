// Package interpreter executes WASM functions by evaluating their resolved instruction lists on an explicit
// operand stack.
package interpreter

import (
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm/code"
)

// A function holds the decoded body of a module-defined function.
type function struct {
	index      uint32             // The function's index in the function index space.
	numParams  int                // The number of parameters.
	numLocals  int                // The number of parameters and declared locals.
	numResults int                // The number of results.
	maxStack   int                // The maximum operand stack depth of the body.
	body       []code.Instruction // The resolved instructions.
}

// A Machine interprets the module-defined functions of a single instance.
type Machine struct {
	inst      *exec.Instance
	imports   uint32
	functions []function
	sigs      [][2]int // The parameter and result counts of every function in the index space.
}

// Factory creates interpreter machines.
var Factory = exec.MachineFactoryFunc(func(inst *exec.Instance) (exec.Machine, error) {
	return New(inst), nil
})

// New creates an interpreter for the given instance.
func New(inst *exec.Instance) *Machine {
	mod := inst.Module()

	m := &Machine{
		inst:      inst,
		imports:   uint32(mod.NumImportedFunctions()),
		functions: make([]function, len(mod.Functions)),
	}
	for i := range mod.Functions {
		m.functions[i] = newFunction(&mod.Functions[i])
	}

	m.sigs = make([][2]int, int(m.imports)+len(m.functions))
	for i := range m.sigs {
		sig := inst.Function(uint32(i)).Signature()
		m.sigs[i] = [2]int{len(sig.ParamTypes), len(sig.ReturnTypes)}
	}
	return m
}

func newFunction(fn *load.Function) function {
	return function{
		index:      fn.Index,
		numParams:  len(fn.Signature.ParamTypes),
		numLocals:  fn.NumLocals(),
		numResults: len(fn.Signature.ReturnTypes),
		maxStack:   fn.Body.Metrics.MaxStackDepth,
		body:       fn.Body.Instructions,
	}
}

// Invoke interprets the function at funcidx. results may alias args.
func (m *Machine) Invoke(t *exec.Thread, funcidx uint32, args, results []uint64) {
	fn := &m.functions[funcidx-m.imports]

	slots := t.Alloc(fn.numLocals + fn.maxStack)
	copy(slots, args)

	f := frame{
		m:      m,
		t:      t,
		mem:    m.inst.Memory(),
		locals: slots[:fn.numLocals],
		stack:  slots[fn.numLocals:],
	}
	sp := f.run(fn.body)
	copy(results, f.stack[sp-fn.numResults:sp])

	t.Free()
}
