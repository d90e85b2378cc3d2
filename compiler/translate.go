package compiler

import (
	"fmt"

	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm/code"
)

// A translator turns the resolved instruction list of a function into structured statements. It walks the
// instructions once, tracking the operand stack height but not its values. Each block, loop, and if opens a
// nested statement list that is closed when its end is reached; code that follows an unconditional transfer
// within a scope is unreachable and is skipped.
type translator struct {
	scope code.Scope
	body  []code.Instruction
}

// Translate translates a module-defined function.
func Translate(scope code.Scope, fn *load.Function) (*Function, error) {
	t := translator{scope: scope, body: fn.Body.Instructions}

	stmts, end, err := t.seq(0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("function %d: %w", fn.Index, err)
	}
	if end != len(t.body)-1 || t.body[end].Opcode != code.OpEnd {
		return nil, fmt.Errorf("function %d: unexpected %v at instruction %d", fn.Index, &t.body[end], end)
	}

	return &Function{
		Index:      fn.Index,
		NumParams:  len(fn.Signature.ParamTypes),
		NumLocals:  fn.NumLocals(),
		NumResults: len(fn.Signature.ReturnTypes),
		MaxStack:   fn.Body.Metrics.MaxStackDepth,
		Size:       countStmts(stmts),
		Body:       stmts,
	}, nil
}

func header(instr *code.Instruction) code.Instruction {
	return code.Instruction{Opcode: instr.Opcode, Immediate: instr.Immediate, Labels: instr.Labels}
}

func target(label int, b code.Branch) Target {
	return Target{Depth: label, Height: b.Height, Arity: b.Arity}
}

// seq translates the instructions of one scope starting at ip with the operand stack at height sp. It returns the
// statements and the index of the end or else that closes the scope.
func (t *translator) seq(ip, sp, nesting int) ([]Stmt, int, error) {
	var stmts []Stmt
	for ip < len(t.body) {
		instr := &t.body[ip]
		switch instr.Opcode {
		case code.OpEnd, code.OpElse:
			return stmts, ip, nil

		case code.OpBlock, code.OpLoop:
			_, out, ok := instr.BlockType(t.scope)
			if !ok {
				return nil, 0, fmt.Errorf("unknown block type at instruction %d", ip)
			}
			body, end, err := t.seq(ip+1, sp, nesting+1)
			if err != nil {
				return nil, 0, err
			}
			kind := KindBlock
			if instr.Opcode == code.OpLoop {
				kind = KindLoop
			}
			stmts = append(stmts, Stmt{Kind: kind, Instr: header(instr), SP: sp, Body: body})
			ip, sp = end+1, instr.StackHeight()+len(out)

		case code.OpIf:
			_, out, ok := instr.BlockType(t.scope)
			if !ok {
				return nil, 0, fmt.Errorf("unknown block type at instruction %d", ip)
			}
			body, end, err := t.seq(ip+1, sp-1, nesting+1)
			if err != nil {
				return nil, 0, err
			}
			var els []Stmt
			if t.body[end].Opcode == code.OpElse {
				if els, end, err = t.seq(end+1, sp-1, nesting+1); err != nil {
					return nil, 0, err
				}
			}
			stmts = append(stmts, Stmt{Kind: KindIf, Instr: header(instr), SP: sp, Body: body, Else: els})
			ip, sp = end+1, instr.StackHeight()+len(out)

		case code.OpBr:
			stmts = append(stmts, Stmt{
				Kind:    KindBr,
				Instr:   header(instr),
				SP:      sp,
				Targets: []Target{target(instr.Labelidx(), instr.Branches[0])},
			})
			ip = t.skip(ip + 1)

		case code.OpBrIf:
			stmts = append(stmts, Stmt{
				Kind:    KindBrIf,
				Instr:   header(instr),
				SP:      sp,
				Targets: []Target{target(instr.Labelidx(), instr.Branches[0])},
			})
			ip, sp = ip+1, sp-1

		case code.OpBrTable:
			targets := make([]Target, len(instr.Branches))
			for i, l := range instr.Labels {
				targets[i] = target(l, instr.Branches[i])
			}
			targets[len(instr.Labels)] = target(instr.Default(), instr.Branches[len(instr.Labels)])
			stmts = append(stmts, Stmt{Kind: KindBrTable, Instr: header(instr), SP: sp, Targets: targets})
			ip = t.skip(ip + 1)

		case code.OpReturn:
			stmts = append(stmts, Stmt{Kind: KindReturn, Instr: header(instr), SP: sp})
			ip = t.skip(ip + 1)

		case code.OpUnreachable:
			stmts = append(stmts, Stmt{Kind: KindOp, Instr: header(instr), SP: sp})
			ip = t.skip(ip + 1)

		default:
			pop, push := instr.Stack(t.scope)
			stmts = append(stmts, Stmt{Kind: KindOp, Instr: header(instr), SP: sp})
			ip, sp = ip+1, sp-pop+push
		}

		for _, b := range stmts[len(stmts)-1].Targets {
			if b.Depth > nesting {
				return nil, 0, fmt.Errorf("branch depth %d exceeds nesting %d at instruction %d", b.Depth, nesting, ip)
			}
		}
	}
	return nil, 0, fmt.Errorf("missing end")
}

// skip returns the index of the end or else that closes the current scope, stepping over nested scopes.
func (t *translator) skip(ip int) int {
	for ip < len(t.body) {
		instr := &t.body[ip]
		switch instr.Opcode {
		case code.OpEnd, code.OpElse:
			return ip
		case code.OpBlock, code.OpLoop, code.OpIf:
			ip = instr.Continuation()
		default:
			ip++
		}
	}
	return ip
}
