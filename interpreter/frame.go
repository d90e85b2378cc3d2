package interpreter

import (
	"fmt"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/wasm/code"
)

// frame layout:
//
// params + locals (len(f.locals))   <-- f.locals starts here
// operand stack   (fn.maxStack)     <-- f.stack starts here
//
// Both regions live in a single allocation from the thread's slot stack.
type frame struct {
	m      *Machine
	t      *exec.Thread
	mem    *exec.Memory
	locals []uint64
	stack  []uint64
}

func (f *frame) branch(b code.Branch, sp int) (int, int) {
	copy(f.stack[b.Height:], f.stack[sp-b.Arity:sp])
	return b.Target, b.Height + b.Arity
}

// call invokes the function at funcidx with the arguments on top of the stack and returns the new stack
// pointer.
func (f *frame) call(funcidx uint32, sp int) int {
	sig := f.m.sigs[funcidx]
	base := sp - sig[0]
	f.m.inst.Invoke(f.t, funcidx, f.stack[base:sp], f.stack[base:base+sig[1]])
	return base + sig[1]
}

func (f *frame) callIndirect(instr *code.Instruction, sp int) int {
	sp--
	i := uint32(f.stack[sp])

	sig := f.m.inst.Type(instr.Typeidx())
	base := sp - len(sig.ParamTypes)
	results := f.stack[base : base+len(sig.ReturnTypes)]
	f.m.inst.CallIndirect(f.t, instr.Typeidx(), instr.Tableidx(), i, f.stack[base:sp], results)
	return base + len(sig.ReturnTypes)
}

// run evaluates a function body and returns the final stack pointer. The function's results are the top
// values of the stack.
func (f *frame) run(body []code.Instruction) int {
	stack, sp := f.stack, 0
	for ip := 0; ip < len(body); {
		instr := &body[ip]
		ip++

		switch instr.Opcode {
		case code.OpUnreachable:
			panic(exec.TrapUnreachable)

		case code.OpNop, code.OpBlock, code.OpLoop, code.OpEnd:
			// no-op

		case code.OpIf:
			sp--
			if uint32(stack[sp]) == 0 {
				ip = instr.LabelFalse().Target
			}
		case code.OpElse:
			// This is the end of a taken if block.
			ip = instr.Continuation()

		case code.OpBr:
			ip, sp = f.branch(instr.Branches[0], sp)
		case code.OpBrIf:
			sp--
			if uint32(stack[sp]) != 0 {
				ip, sp = f.branch(instr.Branches[0], sp)
			}
		case code.OpBrTable:
			sp--
			li := int(uint32(stack[sp]))
			if li >= len(instr.Labels) {
				li = len(instr.Labels)
			}
			ip, sp = f.branch(instr.Branches[li], sp)

		case code.OpReturn:
			return sp

		case code.OpCall:
			sp = f.call(instr.Funcidx(), sp)
		case code.OpCallIndirect:
			sp = f.callIndirect(instr, sp)

		case code.OpDrop:
			sp--

		case code.OpSelect, code.OpSelectT:
			sp -= 2
			if uint32(stack[sp+1]) == 0 {
				stack[sp-1] = stack[sp]
			}

		case code.OpLocalGet:
			stack[sp] = f.locals[instr.Localidx()]
			sp++
		case code.OpLocalSet:
			sp--
			f.locals[instr.Localidx()] = stack[sp]
		case code.OpLocalTee:
			f.locals[instr.Localidx()] = stack[sp-1]

		case code.OpGlobalGet:
			stack[sp] = f.m.inst.Global(instr.Globalidx()).Get()
			sp++
		case code.OpGlobalSet:
			sp--
			f.m.inst.Global(instr.Globalidx()).Set(stack[sp])

		case code.OpTableGet:
			stack[sp-1] = f.m.inst.TableGet(instr.Tableidx(), uint32(stack[sp-1]))
		case code.OpTableSet:
			sp -= 2
			f.m.inst.TableSet(instr.Tableidx(), uint32(stack[sp]), stack[sp+1])

		case code.OpI32Load, code.OpI64Load, code.OpF32Load, code.OpF64Load,
			code.OpI32Load8S, code.OpI32Load8U, code.OpI32Load16S, code.OpI32Load16U,
			code.OpI64Load8S, code.OpI64Load8U, code.OpI64Load16S, code.OpI64Load16U,
			code.OpI64Load32S, code.OpI64Load32U:
			stack[sp-1] = exec.Load(f.mem, instr.Opcode, uint32(stack[sp-1]), instr.Offset())

		case code.OpI32Store, code.OpI64Store, code.OpF32Store, code.OpF64Store,
			code.OpI32Store8, code.OpI32Store16, code.OpI64Store8, code.OpI64Store16, code.OpI64Store32:
			sp -= 2
			exec.Store(f.mem, instr.Opcode, uint32(stack[sp]), instr.Offset(), stack[sp+1])

		case code.OpMemorySize:
			stack[sp] = uint64(f.mem.Size())
			sp++
		case code.OpMemoryGrow:
			stack[sp-1] = uint64(f.m.inst.MemoryGrow(uint32(stack[sp-1])))

		case code.OpI32Const:
			stack[sp] = uint64(uint32(instr.I32()))
			sp++
		case code.OpI64Const, code.OpF32Const, code.OpF64Const:
			stack[sp] = instr.Immediate
			sp++

		case code.OpRefNull:
			stack[sp] = 0
			sp++
		case code.OpRefIsNull:
			if stack[sp-1] == 0 {
				stack[sp-1] = 1
			} else {
				stack[sp-1] = 0
			}
		case code.OpRefFunc:
			stack[sp] = f.m.inst.RefFunc(instr.Funcidx())
			sp++

		case code.OpPrefix:
			sp = f.prefixed(instr, sp)

		default:
			if op, ok := exec.Binary(instr.Opcode); ok {
				sp--
				stack[sp-1] = op(stack[sp-1], stack[sp])
			} else if op, ok := exec.Unary(instr); ok {
				stack[sp-1] = op(stack[sp-1])
			} else {
				panic(fmt.Errorf("unexpected instruction %v", instr))
			}
		}
	}
	return sp
}

func (f *frame) prefixed(instr *code.Instruction, sp int) int {
	stack, inst := f.stack, f.m.inst
	switch instr.PrefixOp() {
	case code.OpMemoryInit:
		sp -= 3
		inst.MemoryInit(instr.Segmentidx(), uint32(stack[sp]), uint32(stack[sp+1]), uint32(stack[sp+2]))
	case code.OpDataDrop:
		inst.DataDrop(instr.Segmentidx())
	case code.OpMemoryCopy:
		sp -= 3
		f.mem.Copy(uint32(stack[sp]), uint32(stack[sp+1]), uint32(stack[sp+2]))
	case code.OpMemoryFill:
		sp -= 3
		f.mem.Fill(uint32(stack[sp]), byte(stack[sp+1]), uint32(stack[sp+2]))
	case code.OpTableInit:
		sp -= 3
		inst.TableInit(instr.Tableidx(), instr.Segmentidx(), uint32(stack[sp]), uint32(stack[sp+1]), uint32(stack[sp+2]))
	case code.OpElemDrop:
		inst.ElemDrop(instr.Segmentidx())
	case code.OpTableCopy:
		sp -= 3
		inst.TableCopy(instr.Tableidx(), instr.SourceTableidx(), uint32(stack[sp]), uint32(stack[sp+1]), uint32(stack[sp+2]))
	case code.OpTableGrow:
		sp--
		stack[sp-1] = uint64(inst.TableGrow(instr.Tableidx(), stack[sp-1], uint32(stack[sp])))
	case code.OpTableSize:
		stack[sp] = uint64(inst.TableSize(instr.Tableidx()))
		sp++
	case code.OpTableFill:
		sp -= 3
		inst.TableFill(instr.Tableidx(), uint32(stack[sp]), stack[sp+1], uint32(stack[sp+2]))
	default:
		op, ok := exec.Unary(instr)
		if !ok {
			panic(fmt.Errorf("unexpected instruction %v", instr))
		}
		stack[sp-1] = op(stack[sp-1])
	}
	return sp
}
