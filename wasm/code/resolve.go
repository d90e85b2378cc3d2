package code

import "fmt"

// ResolveError reports a control instruction whose target cannot be resolved.
type ResolveError struct {
	Instruction int
	Reason      string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving instruction %d: %s", e.Instruction, e.Reason)
}

// patch names a branch slot whose target is delivered when its scope's end is reached.
type patch struct {
	ip     int
	branch int
}

type openScope struct {
	ip     int // -1 for the function body
	opcode byte
	height int
	arity  int // values carried by a branch to this scope
	elseIP int
}

type resolver struct {
	body    []Instruction
	scopes  []openScope
	pending [][]patch
}

// Resolve replaces the depth-relative branch encoding of a decoded function body with absolute targets in a
// single forward pass. Forward branches are registered against the depth of their target scope and patched
// when that scope's end is reached; branches to a loop resolve immediately to the index of the loop
// instruction. results is the number of values returned by the function.
func Resolve(body []Instruction, scope Scope, results int) error {
	r := resolver{body: body}
	r.push(openScope{ip: -1, opcode: OpBlock, arity: results, elseIP: -1})

	for ip := range body {
		if err := r.step(ip, &body[ip], scope); err != nil {
			return err
		}
	}
	if len(r.scopes) != 0 {
		return &ResolveError{Instruction: len(body), Reason: fmt.Sprintf("%d unclosed scopes", len(r.scopes))}
	}
	return nil
}

func (r *resolver) push(s openScope) {
	r.scopes = append(r.scopes, s)
	r.pending = append(r.pending, nil)
}

// branch resolves the branch in slot of instruction ip, which targets the scope at the given relative depth.
func (r *resolver) branch(ip, slot, relative int) error {
	depth := len(r.scopes) - 1 - relative
	if relative < 0 || depth < 0 {
		return &ResolveError{Instruction: ip, Reason: fmt.Sprintf("branch depth %d has no enclosing scope", relative)}
	}

	target := r.scopes[depth]
	b := &r.body[ip].Branches[slot]
	b.Height, b.Arity = target.height, target.arity
	if target.opcode == OpLoop {
		b.Target = target.ip
		return nil
	}
	r.pending[depth] = append(r.pending[depth], patch{ip: ip, branch: slot})
	return nil
}

func (r *resolver) step(ip int, instr *Instruction, scope Scope) error {
	switch instr.Opcode {
	case OpBlock, OpLoop, OpIf:
		in, out, ok := instr.BlockType(scope)
		if !ok {
			return &ResolveError{Instruction: ip, Reason: "unknown block type"}
		}
		height := instr.StackHeight()

		s := openScope{ip: ip, opcode: instr.Opcode, height: height, arity: len(out), elseIP: -1}
		switch instr.Opcode {
		case OpLoop:
			s.arity = len(in)
			instr.Branches = []Branch{{Height: height, Arity: len(out)}}
		case OpBlock:
			instr.Branches = []Branch{{Height: height, Arity: len(out)}}
		case OpIf:
			instr.Branches = []Branch{
				{Target: ip + 1, Height: height, Arity: len(in)},
				{Height: height, Arity: len(in)},
				{Height: height, Arity: len(out)},
			}
		}
		r.push(s)

	case OpElse:
		s := &r.scopes[len(r.scopes)-1]
		if s.opcode != OpIf || s.elseIP >= 0 {
			return &ResolveError{Instruction: ip, Reason: "else without matching if"}
		}
		s.elseIP = ip
		r.body[s.ip].Branches[1].Target = ip + 1
		instr.Branches = []Branch{{Height: s.height, Arity: s.arity}}

	case OpEnd:
		if len(r.scopes) == 0 {
			return &ResolveError{Instruction: ip, Reason: "end without matching scope"}
		}
		top := len(r.scopes) - 1
		s, next := r.scopes[top], ip+1
		for _, p := range r.pending[top] {
			r.body[p.ip].Branches[p.branch].Target = next
		}
		r.scopes, r.pending = r.scopes[:top], r.pending[:top]

		if s.ip < 0 {
			if next != len(r.body) {
				return &ResolveError{Instruction: ip, Reason: "function body ends before its last instruction"}
			}
			return nil
		}
		open := &r.body[s.ip]
		switch s.opcode {
		case OpBlock, OpLoop:
			open.Branches[0].Target = next
		case OpIf:
			open.Branches[2].Target = next
			if s.elseIP < 0 {
				open.Branches[1].Target = next
			} else {
				r.body[s.elseIP].Branches[0].Target = next
			}
		}

	case OpBr, OpBrIf:
		instr.Branches = make([]Branch, 1)
		return r.branch(ip, 0, instr.Labelidx())

	case OpBrTable:
		instr.Branches = make([]Branch, len(instr.Labels)+1)
		for slot, l := range instr.Labels {
			if err := r.branch(ip, slot, l); err != nil {
				return err
			}
		}
		return r.branch(ip, len(instr.Labels), instr.Default())
	}
	return nil
}
