package compiler

import (
	"fmt"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/wasm/code"
)

// A frame is the activation record of a compiled function.
type frame struct {
	t *exec.Thread
	s []uint64 // locals, then operands
}

// A stmtFunc runs a lowered statement and reports how control leaves it: 0 falls through to the next statement,
// -1 returns from the function, and k+1 exits k enclosing scopes and then branches to the scope it reaches.
type stmtFunc func(f *frame) int

// A lowerer turns the statements of one function into closures bound to an instance.
type lowerer struct {
	x  *Executable
	fn *Function
}

func (l *lowerer) slot(sp int) int {
	return l.fn.NumLocals + sp
}

func (l *lowerer) seq(stmts []Stmt) stmtFunc {
	funcs := make([]stmtFunc, 0, len(stmts))
	for i := range stmts {
		if s := l.stmt(&stmts[i]); s != nil {
			funcs = append(funcs, s)
		}
	}

	switch len(funcs) {
	case 0:
		return func(*frame) int { return 0 }
	case 1:
		return funcs[0]
	case 2:
		a, b := funcs[0], funcs[1]
		return func(f *frame) int {
			if c := a(f); c != 0 {
				return c
			}
			return b(f)
		}
	default:
		return func(f *frame) int {
			for _, s := range funcs {
				if c := s(f); c != 0 {
					return c
				}
			}
			return 0
		}
	}
}

// exit propagates a control value out of a block or if.
func exit(c int) int {
	if c > 0 {
		return c - 1
	}
	return c
}

func (l *lowerer) stmt(s *Stmt) stmtFunc {
	switch s.Kind {
	case KindBlock:
		body := l.seq(s.Body)
		return func(f *frame) int {
			return exit(body(f))
		}

	case KindLoop:
		body := l.seq(s.Body)
		return func(f *frame) int {
			for {
				if c := body(f); c != 1 {
					return exit(c)
				}
			}
		}

	case KindIf:
		cond, then := l.slot(s.SP-1), l.seq(s.Body)
		if s.Else == nil {
			return func(f *frame) int {
				if uint32(f.s[cond]) != 0 {
					return exit(then(f))
				}
				return 0
			}
		}
		els := l.seq(s.Else)
		return func(f *frame) int {
			if uint32(f.s[cond]) != 0 {
				return exit(then(f))
			}
			return exit(els(f))
		}

	case KindBr:
		return l.branch(s.Targets[0], s.SP)

	case KindBrIf:
		cond, br := l.slot(s.SP-1), l.branch(s.Targets[0], s.SP-1)
		return func(f *frame) int {
			if uint32(f.s[cond]) != 0 {
				return br(f)
			}
			return 0
		}

	case KindBrTable:
		index := l.slot(s.SP - 1)
		targets := make([]stmtFunc, len(s.Targets))
		for i, t := range s.Targets {
			targets[i] = l.branch(t, s.SP-1)
		}
		last := uint32(len(targets) - 1)
		return func(f *frame) int {
			i := uint32(f.s[index])
			if i > last {
				i = last
			}
			return targets[i](f)
		}

	case KindReturn:
		n := l.fn.NumResults
		dst, src := l.slot(0), l.slot(s.SP-n)
		if n == 0 || dst == src {
			return func(*frame) int { return -1 }
		}
		return func(f *frame) int {
			copy(f.s[dst:dst+n], f.s[src:src+n])
			return -1
		}

	default:
		return l.op(s)
	}
}

func (l *lowerer) branch(t Target, sp int) stmtFunc {
	ctl, n := t.Depth+1, t.Arity
	dst, src := l.slot(t.Height), l.slot(sp-n)
	if n == 0 || dst == src {
		return func(*frame) int { return ctl }
	}
	return func(f *frame) int {
		copy(f.s[dst:dst+n], f.s[src:src+n])
		return ctl
	}
}

func (l *lowerer) op(s *Stmt) stmtFunc {
	instr, inst := &s.Instr, l.x.inst
	top := l.slot(s.SP - 1)

	switch instr.Opcode {
	case code.OpUnreachable:
		return func(*frame) int { panic(exec.TrapUnreachable) }

	case code.OpNop, code.OpDrop:
		return nil

	case code.OpSelect, code.OpSelectT:
		a := l.slot(s.SP - 3)
		return func(f *frame) int {
			if uint32(f.s[a+2]) == 0 {
				f.s[a] = f.s[a+1]
			}
			return 0
		}

	case code.OpCall:
		return l.call(instr.Funcidx(), s.SP)
	case code.OpCallIndirect:
		typeidx, tableidx := instr.Typeidx(), instr.Tableidx()
		sig := inst.Type(typeidx)
		np, nr := len(sig.ParamTypes), len(sig.ReturnTypes)
		base := l.slot(s.SP - 1 - np)
		return func(f *frame) int {
			inst.CallIndirect(f.t, typeidx, tableidx, uint32(f.s[base+np]), f.s[base:base+np], f.s[base:base+nr])
			return 0
		}

	case code.OpLocalGet:
		dst, src := l.slot(s.SP), int(instr.Localidx())
		return func(f *frame) int {
			f.s[dst] = f.s[src]
			return 0
		}
	case code.OpLocalSet, code.OpLocalTee:
		dst := int(instr.Localidx())
		return func(f *frame) int {
			f.s[dst] = f.s[top]
			return 0
		}

	case code.OpGlobalGet:
		g, dst := inst.Global(instr.Globalidx()), l.slot(s.SP)
		return func(f *frame) int {
			f.s[dst] = g.Get()
			return 0
		}
	case code.OpGlobalSet:
		g := inst.Global(instr.Globalidx())
		return func(f *frame) int {
			g.Set(f.s[top])
			return 0
		}

	case code.OpTableGet:
		tableidx := instr.Tableidx()
		return func(f *frame) int {
			f.s[top] = inst.TableGet(tableidx, uint32(f.s[top]))
			return 0
		}
	case code.OpTableSet:
		tableidx, a := instr.Tableidx(), l.slot(s.SP-2)
		return func(f *frame) int {
			inst.TableSet(tableidx, uint32(f.s[a]), f.s[a+1])
			return 0
		}

	case code.OpI32Load, code.OpI64Load, code.OpF32Load, code.OpF64Load,
		code.OpI32Load8S, code.OpI32Load8U, code.OpI32Load16S, code.OpI32Load16U,
		code.OpI64Load8S, code.OpI64Load8U, code.OpI64Load16S, code.OpI64Load16U,
		code.OpI64Load32S, code.OpI64Load32U:
		return l.load(instr, top)

	case code.OpI32Store, code.OpI64Store, code.OpF32Store, code.OpF64Store,
		code.OpI32Store8, code.OpI32Store16, code.OpI64Store8, code.OpI64Store16, code.OpI64Store32:
		mem, opcode, offset, a := inst.Memory(), instr.Opcode, instr.Offset(), l.slot(s.SP-2)
		return func(f *frame) int {
			exec.Store(mem, opcode, uint32(f.s[a]), offset, f.s[a+1])
			return 0
		}

	case code.OpMemorySize:
		mem, dst := inst.Memory(), l.slot(s.SP)
		return func(f *frame) int {
			f.s[dst] = uint64(mem.Size())
			return 0
		}
	case code.OpMemoryGrow:
		return func(f *frame) int {
			f.s[top] = uint64(inst.MemoryGrow(uint32(f.s[top])))
			return 0
		}

	case code.OpI32Const, code.OpI64Const, code.OpF32Const, code.OpF64Const, code.OpRefNull:
		v, dst := constant(instr), l.slot(s.SP)
		return func(f *frame) int {
			f.s[dst] = v
			return 0
		}

	case code.OpRefIsNull:
		return func(f *frame) int {
			if f.s[top] == 0 {
				f.s[top] = 1
			} else {
				f.s[top] = 0
			}
			return 0
		}
	case code.OpRefFunc:
		h, dst := inst.RefFunc(instr.Funcidx()), l.slot(s.SP)
		return func(f *frame) int {
			f.s[dst] = h
			return 0
		}

	case code.OpPrefix:
		return l.prefixed(s)
	}

	if op, ok := exec.Binary(instr.Opcode); ok {
		a := l.slot(s.SP - 2)
		return l.binary(instr.Opcode, op, a)
	}
	if op, ok := exec.Unary(instr); ok {
		return func(f *frame) int {
			f.s[top] = op(f.s[top])
			return 0
		}
	}
	panic(fmt.Errorf("unexpected instruction %v", instr))
}

// constant returns the slot value of a constant instruction.
func constant(instr *code.Instruction) uint64 {
	switch instr.Opcode {
	case code.OpI32Const:
		return uint64(uint32(instr.I32()))
	case code.OpRefNull:
		return 0
	default:
		return instr.Immediate
	}
}

// binary specializes the most frequent integer operations and defers the rest to the shared operator table.
func (l *lowerer) binary(opcode byte, op exec.BinaryOp, a int) stmtFunc {
	switch opcode {
	case code.OpI32Add:
		return func(f *frame) int {
			f.s[a] = uint64(uint32(f.s[a]) + uint32(f.s[a+1]))
			return 0
		}
	case code.OpI32Sub:
		return func(f *frame) int {
			f.s[a] = uint64(uint32(f.s[a]) - uint32(f.s[a+1]))
			return 0
		}
	case code.OpI64Add:
		return func(f *frame) int {
			f.s[a] += f.s[a+1]
			return 0
		}
	case code.OpI32LtS:
		return func(f *frame) int {
			f.s[a] = b2u(int32(f.s[a]) < int32(f.s[a+1]))
			return 0
		}
	case code.OpI32LtU:
		return func(f *frame) int {
			f.s[a] = b2u(uint32(f.s[a]) < uint32(f.s[a+1]))
			return 0
		}
	case code.OpI32GtU:
		return func(f *frame) int {
			f.s[a] = b2u(uint32(f.s[a]) > uint32(f.s[a+1]))
			return 0
		}
	case code.OpI32Eq:
		return func(f *frame) int {
			f.s[a] = b2u(uint32(f.s[a]) == uint32(f.s[a+1]))
			return 0
		}
	}
	return func(f *frame) int {
		f.s[a] = op(f.s[a], f.s[a+1])
		return 0
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (l *lowerer) load(instr *code.Instruction, a int) stmtFunc {
	mem, offset := l.x.inst.Memory(), instr.Offset()
	switch instr.Opcode {
	case code.OpI32Load:
		return func(f *frame) int {
			f.s[a] = uint64(mem.Uint32(uint32(f.s[a]), offset))
			return 0
		}
	case code.OpI64Load:
		return func(f *frame) int {
			f.s[a] = mem.Uint64(uint32(f.s[a]), offset)
			return 0
		}
	}
	opcode := instr.Opcode
	return func(f *frame) int {
		f.s[a] = exec.Load(mem, opcode, uint32(f.s[a]), offset)
		return 0
	}
}

func (l *lowerer) call(funcidx uint32, sp int) stmtFunc {
	inst := l.x.inst
	sig := inst.Function(funcidx).Signature()
	np, nr := len(sig.ParamTypes), len(sig.ReturnTypes)
	base := l.slot(sp - np)
	return func(f *frame) int {
		inst.Invoke(f.t, funcidx, f.s[base:base+np], f.s[base:base+nr])
		return 0
	}
}

func (l *lowerer) prefixed(s *Stmt) stmtFunc {
	instr, inst := &s.Instr, l.x.inst
	a := l.slot(s.SP - 3)

	switch instr.PrefixOp() {
	case code.OpMemoryInit:
		dataidx := instr.Segmentidx()
		return func(f *frame) int {
			inst.MemoryInit(dataidx, uint32(f.s[a]), uint32(f.s[a+1]), uint32(f.s[a+2]))
			return 0
		}
	case code.OpDataDrop:
		dataidx := instr.Segmentidx()
		return func(*frame) int {
			inst.DataDrop(dataidx)
			return 0
		}
	case code.OpMemoryCopy:
		mem := inst.Memory()
		return func(f *frame) int {
			mem.Copy(uint32(f.s[a]), uint32(f.s[a+1]), uint32(f.s[a+2]))
			return 0
		}
	case code.OpMemoryFill:
		mem := inst.Memory()
		return func(f *frame) int {
			mem.Fill(uint32(f.s[a]), byte(f.s[a+1]), uint32(f.s[a+2]))
			return 0
		}
	case code.OpTableInit:
		tableidx, elemidx := instr.Tableidx(), instr.Segmentidx()
		return func(f *frame) int {
			inst.TableInit(tableidx, elemidx, uint32(f.s[a]), uint32(f.s[a+1]), uint32(f.s[a+2]))
			return 0
		}
	case code.OpElemDrop:
		elemidx := instr.Segmentidx()
		return func(*frame) int {
			inst.ElemDrop(elemidx)
			return 0
		}
	case code.OpTableCopy:
		dst, src := instr.Tableidx(), instr.SourceTableidx()
		return func(f *frame) int {
			inst.TableCopy(dst, src, uint32(f.s[a]), uint32(f.s[a+1]), uint32(f.s[a+2]))
			return 0
		}
	case code.OpTableGrow:
		tableidx, b := instr.Tableidx(), l.slot(s.SP-2)
		return func(f *frame) int {
			f.s[b] = uint64(inst.TableGrow(tableidx, f.s[b], uint32(f.s[b+1])))
			return 0
		}
	case code.OpTableSize:
		tableidx, dst := instr.Tableidx(), l.slot(s.SP)
		return func(f *frame) int {
			f.s[dst] = uint64(inst.TableSize(tableidx))
			return 0
		}
	case code.OpTableFill:
		tableidx := instr.Tableidx()
		return func(f *frame) int {
			inst.TableFill(tableidx, uint32(f.s[a]), f.s[a+1], uint32(f.s[a+2]))
			return 0
		}
	}

	op, ok := exec.Unary(instr)
	if !ok {
		panic(fmt.Errorf("unexpected instruction %v", instr))
	}
	top := l.slot(s.SP - 1)
	return func(f *frame) int {
		f.s[top] = op(f.s[top])
		return 0
	}
}
