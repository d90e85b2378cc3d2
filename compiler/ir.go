package compiler

import (
	"fmt"
	"strings"

	"github.com/pgavlin/tandem/wasm/code"
)

// A Kind identifies the shape of a statement.
type Kind byte

const (
	// KindOp is a straight-line instruction: numeric, variable, memory, table, call, or unreachable.
	KindOp Kind = iota
	KindBlock
	KindLoop
	KindIf
	KindBr
	KindBrIf
	KindBrTable
	KindReturn
)

func (k Kind) String() string {
	switch k {
	case KindOp:
		return "op"
	case KindBlock:
		return "block"
	case KindLoop:
		return "loop"
	case KindIf:
		return "if"
	case KindBr:
		return "br"
	case KindBrIf:
		return "br_if"
	case KindBrTable:
		return "br_table"
	case KindReturn:
		return "return"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// A Target is the destination of a structured branch. Depth counts the scopes exited: zero names the innermost
// enclosing block, loop, or if, and a depth equal to the branch's nesting level names the function body. When the
// branch is taken, the top Arity operands move down to Height.
type Target struct {
	Depth  int
	Height int
	Arity  int
}

// A Stmt is one statement of a translated function. Operands live in frame slots: local i is slot i, and the
// operand at stack height h is slot NumLocals+h. SP is the operand stack height before the statement runs.
//
// Block and loop statements hold their contents in Body. If statements hold the taken branch in Body and the
// else branch, if any, in Else. Branch statements hold one target per label, with the default last.
type Stmt struct {
	Kind    Kind
	Instr   code.Instruction
	SP      int
	Body    []Stmt
	Else    []Stmt
	Targets []Target
}

// A Function is the translated form of a module-defined function.
type Function struct {
	Index      uint32 // The function's index in the function index space.
	NumParams  int
	NumLocals  int // The number of parameters and declared locals.
	NumResults int
	MaxStack   int // The maximum operand stack height.
	Size       int // The number of statements in the body, counting nested statements.
	Body       []Stmt
}

// FrameSize returns the number of slots the function needs for its locals and operands.
func (f *Function) FrameSize() int {
	return f.NumLocals + f.MaxStack
}

// A Unit is a group of translated functions that is encoded, cached, and emitted as one piece.
type Unit struct {
	Index     int
	Name      string
	Functions []*Function
}

func countStmts(stmts []Stmt) int {
	n := len(stmts)
	for i := range stmts {
		n += countStmts(stmts[i].Body) + countStmts(stmts[i].Else)
	}
	return n
}

// Dump writes a readable rendering of the function's statements.
func (f *Function) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %d (params %d, locals %d, results %d, stack %d)\n", f.Index, f.NumParams, f.NumLocals,
		f.NumResults, f.MaxStack)
	dumpStmts(&b, f.Body, 1)
	return b.String()
}

func dumpStmts(b *strings.Builder, stmts []Stmt, indent int) {
	pad := strings.Repeat("  ", indent)
	for i := range stmts {
		s := &stmts[i]
		switch s.Kind {
		case KindOp:
			fmt.Fprintf(b, "%s[%d] %v\n", pad, s.SP, &s.Instr)
		case KindBlock, KindLoop, KindIf:
			fmt.Fprintf(b, "%s[%d] %v\n", pad, s.SP, s.Kind)
			dumpStmts(b, s.Body, indent+1)
			if s.Else != nil {
				fmt.Fprintf(b, "%selse\n", pad)
				dumpStmts(b, s.Else, indent+1)
			}
			fmt.Fprintf(b, "%send\n", pad)
		default:
			fmt.Fprintf(b, "%s[%d] %v %v\n", pad, s.SP, s.Kind, s.Targets)
		}
	}
}
