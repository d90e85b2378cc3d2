package compiler

import (
	"fmt"

	"github.com/pgavlin/tandem/exec"
)

type boundFunction struct {
	numLocals  int
	numResults int
	frameSize  int
	body       stmtFunc
}

// An Executable is a program bound to an instance. It runs the program's compiled functions and implements
// exec.Machine for them. Calls out of compiled code go through the instance, so compiled, interpreted, and host
// functions share one call stack.
type Executable struct {
	program   *Program
	inst      *exec.Instance
	imports   uint32
	functions []boundFunction
}

// Bind lowers the program's compiled functions against the given instance, which must have been built from the
// module the program was compiled from.
func (p *Program) Bind(inst *exec.Instance) (x *Executable, err error) {
	m := inst.Module()
	if uint32(m.NumImportedFunctions()) != p.imports || len(m.Functions) != p.defined {
		return nil, fmt.Errorf("program %v has %d imported and %d defined functions; instance %v has %d and %d",
			p.name, p.imports, p.defined, inst.Name(), m.NumImportedFunctions(), len(m.Functions))
	}

	x = &Executable{
		program:   p,
		inst:      inst,
		imports:   p.imports,
		functions: make([]boundFunction, p.defined),
	}

	// Malformed statements (for example from a corrupt artifact) surface as panics during lowering.
	defer func() {
		if v := recover(); v != nil {
			x, err = nil, fmt.Errorf("binding program %v: %v", p.name, v)
		}
	}()

	for i, f := range p.functions {
		if f == nil {
			continue
		}
		sig := inst.Function(f.Index).Signature()
		if len(sig.ParamTypes) != f.NumParams || len(sig.ReturnTypes) != f.NumResults {
			return nil, fmt.Errorf("function %d: compiled signature does not match the module", f.Index)
		}

		l := lowerer{x: x, fn: f}
		x.functions[i] = boundFunction{
			numLocals:  f.NumLocals,
			numResults: f.NumResults,
			frameSize:  f.FrameSize(),
			body:       l.seq(f.Body),
		}
	}
	return x, nil
}

// Program returns the program the executable was bound from.
func (x *Executable) Program() *Program {
	return x.program
}

// IsCompiled returns true if the function at funcidx has a compiled body.
func (x *Executable) IsCompiled(funcidx uint32) bool {
	if funcidx < x.imports || funcidx-x.imports >= uint32(len(x.functions)) {
		return false
	}
	return x.functions[funcidx-x.imports].body != nil
}

// Invoke runs the compiled function at funcidx. results may alias args.
func (x *Executable) Invoke(t *exec.Thread, funcidx uint32, args, results []uint64) {
	fn := &x.functions[funcidx-x.imports]
	if fn.body == nil {
		panic(fmt.Errorf("function %d is not compiled", funcidx))
	}

	slots := t.Alloc(fn.frameSize)
	copy(slots, args)

	f := frame{t: t, s: slots}
	fn.body(&f)
	copy(results, slots[fn.numLocals:fn.numLocals+fn.numResults])

	t.Free()
}
