// Package golang renders compiled units as Go source. A generated unit is a type whose methods hold the
// unit's function bodies; it is bound to an instance at construction and implements exec.Machine for the
// functions it contains.
package golang

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"unicode"

	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
)

// Options controls source generation.
type Options struct {
	// PackageName is the name of the generated package. Defaults to "units".
	PackageName string
	// TypeName is the name of the generated unit type. Defaults to the exported form of the unit's name.
	TypeName string
}

// TypeName returns the default name of the generated type for a unit.
func TypeName(u *compiler.Unit) string {
	name := identName(u.Name)
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		name = "Unit" + name
	}
	return exportName(name)
}

// Emit writes gofmt-formatted Go source for the given unit. The module must be the one the unit was compiled
// from.
func Emit(w io.Writer, m *load.Module, u *compiler.Unit, options *Options) error {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.PackageName == "" {
		opts.PackageName = "units"
	}
	if opts.TypeName == "" {
		opts.TypeName = TypeName(u)
	}

	e := unitEmitter{
		module:   m,
		unit:     u,
		typeName: opts.TypeName,
		prefix:   unexportName(opts.TypeName),
		unary:    map[[2]uint32]string{},
		binary:   map[byte]string{},
	}

	var body bytes.Buffer
	if err := e.functions(&body); err != nil {
		return err
	}

	f := &formatter{w: w}
	e.header(f, opts.PackageName)
	if _, err := f.Write(body.Bytes()); err != nil {
		return err
	}
	return f.flush()
}

type unitEmitter struct {
	module   *load.Module
	unit     *compiler.Unit
	typeName string
	prefix   string

	unary  map[[2]uint32]string
	binary map[byte]string
}

func (e *unitEmitter) header(w io.Writer, pkg string) {
	fmt.Fprintf(w, "// Code generated by tandem. DO NOT EDIT.\n\npackage %s\n\n", pkg)
	fmt.Fprintf(w, "import \"github.com/pgavlin/tandem/exec\"\n\n")

	if len(e.unary) != 0 || len(e.binary) != 0 {
		fmt.Fprintf(w, "var (\n")
		unary := make([][2]uint32, 0, len(e.unary))
		for k := range e.unary {
			unary = append(unary, k)
		}
		sort.Slice(unary, func(i, j int) bool {
			if unary[i][0] != unary[j][0] {
				return unary[i][0] < unary[j][0]
			}
			return unary[i][1] < unary[j][1]
		})
		for _, k := range unary {
			fmt.Fprintf(w, "%s = exec.MustUnary(%#x, %d)\n", e.unary[k], k[0], k[1])
		}

		binary := make([]int, 0, len(e.binary))
		for k := range e.binary {
			binary = append(binary, int(k))
		}
		sort.Ints(binary)
		for _, k := range binary {
			fmt.Fprintf(w, "%s = exec.MustBinary(%#x)\n", e.binary[byte(k)], k)
		}
		fmt.Fprintf(w, ")\n\n")
	}

	fmt.Fprintf(w, "// %s runs the functions of unit %s.\n", e.typeName, e.unit.Name)
	fmt.Fprintf(w, "type %s struct {\ninst *exec.Instance\nmem *exec.Memory\n}\n\n", e.typeName)
	fmt.Fprintf(w, "// New%s binds the unit to an instance of the module it was compiled from.\n", e.typeName)
	fmt.Fprintf(w, "func New%[1]s(inst *exec.Instance) *%[1]s {\nreturn &%[1]s{inst: inst, mem: inst.Memory()}\n}\n\n", e.typeName)
}

func (e *unitEmitter) functions(w *bytes.Buffer) error {
	fmt.Fprintf(w, "// Functions returns the indices of the functions in the unit.\n")
	fmt.Fprintf(w, "func (u *%s) Functions() []uint32 {\nreturn []uint32{", e.typeName)
	for i, f := range e.unit.Functions {
		if i > 0 {
			fmt.Fprintf(w, ", ")
		}
		fmt.Fprintf(w, "%d", f.Index)
	}
	fmt.Fprintf(w, "}\n}\n\n")

	fmt.Fprintf(w, "// Invoke runs the function at funcidx. results may alias args.\n")
	fmt.Fprintf(w, "func (u *%s) Invoke(t *exec.Thread, funcidx uint32, args, results []uint64) {\n", e.typeName)
	fmt.Fprintf(w, "var body func(*exec.Thread, []uint64)\nvar size, locals, nresults int\nswitch funcidx {\n")
	for _, f := range e.unit.Functions {
		fmt.Fprintf(w, "case %d:\nbody, size, locals, nresults = u.f%d, %d, %d, %d\n", f.Index, f.Index, f.FrameSize(),
			f.NumLocals, f.NumResults)
	}
	fmt.Fprintf(w, "default:\npanic(\"function is not part of unit %s\")\n}\n", e.unit.Name)
	fmt.Fprintf(w, "s := t.Alloc(size)\ncopy(s, args)\nbody(t, s)\ncopy(results, s[locals:locals+nresults])\nt.Free()\n}\n")

	for _, f := range e.unit.Functions {
		if err := e.function(w, f); err != nil {
			return fmt.Errorf("function %d: %w", f.Index, err)
		}
	}
	return nil
}

func (e *unitEmitter) function(w *bytes.Buffer, f *compiler.Function) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%v", v)
		}
	}()

	fe := functionEmitter{unit: e, fn: f}
	fmt.Fprintf(w, "\n")
	if name := e.module.FunctionName(f.Index); name != "" {
		fmt.Fprintf(w, "// f%d is %s.\n", f.Index, name)
	}
	fmt.Fprintf(w, "func (u *%s) f%d(t *exec.Thread, s []uint64) {\n", e.typeName, f.Index)
	fe.stmts(w, f.Body)
	fmt.Fprintf(w, "}\n")
	return nil
}

func (e *unitEmitter) unaryOp(instr *code.Instruction) string {
	k := [2]uint32{uint32(instr.Opcode), 0}
	if instr.Opcode == code.OpPrefix {
		k[1] = instr.PrefixOp()
	}
	if _, ok := exec.Unary(instr); !ok {
		panic(fmt.Errorf("unexpected instruction %v", instr))
	}
	name, ok := e.unary[k]
	if !ok {
		name = fmt.Sprintf("%sU%02x_%d", e.prefix, k[0], k[1])
		e.unary[k] = name
	}
	return name
}

func (e *unitEmitter) binaryOp(opcode byte) string {
	name, ok := e.binary[opcode]
	if !ok {
		name = fmt.Sprintf("%sB%02x", e.prefix, opcode)
		e.binary[opcode] = name
	}
	return name
}

func (e *unitEmitter) signature(funcidx uint32) wasm.FunctionSig {
	if imports := uint32(len(e.module.ImportedFunctions)); funcidx < imports {
		return e.module.Types[e.module.ImportedFunctions[funcidx]]
	}
	fn, ok := e.module.Function(funcidx)
	if !ok {
		panic(fmt.Errorf("unknown function %d", funcidx))
	}
	return fn.Signature
}

// A scope is an enclosing block, loop, or if. Only scopes that are branched to receive a label.
type scope struct {
	label  int
	loop   bool
	target bool
}

type functionEmitter struct {
	unit   *unitEmitter
	fn     *compiler.Function
	scopes []*scope
	labels int
}

func (f *functionEmitter) slot(sp int) int {
	return f.fn.NumLocals + sp
}

func (f *functionEmitter) stmts(w *bytes.Buffer, stmts []compiler.Stmt) {
	for i := range stmts {
		f.stmt(w, &stmts[i])
	}
}

// terminates returns true if control never falls off the end of the statement list.
func terminates(stmts []compiler.Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	switch last := &stmts[len(stmts)-1]; last.Kind {
	case compiler.KindBr, compiler.KindBrTable, compiler.KindReturn:
		return true
	case compiler.KindOp:
		return last.Instr.Opcode == code.OpUnreachable
	}
	return false
}

func (f *functionEmitter) enter(loop bool) *scope {
	s := &scope{label: f.labels, loop: loop}
	f.labels++
	f.scopes = append(f.scopes, s)
	return s
}

func (f *functionEmitter) leave() {
	f.scopes = f.scopes[:len(f.scopes)-1]
}

// structured emits a scope's contents into a separate buffer so that the scope's label is only declared if a
// branch uses it.
func (f *functionEmitter) structured(w *bytes.Buffer, loop bool, emit func(w *bytes.Buffer) bool) {
	sc := f.enter(loop)
	var body bytes.Buffer
	terminated := emit(&body)
	f.leave()

	if !sc.target {
		fmt.Fprintf(w, "{\n")
		w.Write(body.Bytes())
		fmt.Fprintf(w, "}\n")
		return
	}

	fmt.Fprintf(w, "l%d: for {\n", sc.label)
	w.Write(body.Bytes())
	if !terminated {
		fmt.Fprintf(w, "break\n")
	}
	fmt.Fprintf(w, "}\n")
}

func (f *functionEmitter) stmt(w *bytes.Buffer, s *compiler.Stmt) {
	switch s.Kind {
	case compiler.KindBlock, compiler.KindLoop:
		f.structured(w, s.Kind == compiler.KindLoop, func(w *bytes.Buffer) bool {
			f.stmts(w, s.Body)
			return terminates(s.Body)
		})

	case compiler.KindIf:
		cond := f.slot(s.SP - 1)
		f.structured(w, false, func(w *bytes.Buffer) bool {
			fmt.Fprintf(w, "if uint32(s[%d]) != 0 {\n", cond)
			f.stmts(w, s.Body)
			if len(s.Else) != 0 {
				fmt.Fprintf(w, "} else {\n")
				f.stmts(w, s.Else)
			}
			fmt.Fprintf(w, "}\n")
			return false
		})

	case compiler.KindBr:
		f.branch(w, s.Targets[0], s.SP)

	case compiler.KindBrIf:
		fmt.Fprintf(w, "if uint32(s[%d]) != 0 {\n", f.slot(s.SP-1))
		f.branch(w, s.Targets[0], s.SP-1)
		fmt.Fprintf(w, "}\n")

	case compiler.KindBrTable:
		fmt.Fprintf(w, "switch uint32(s[%d]) {\n", f.slot(s.SP-1))
		last := len(s.Targets) - 1
		for i, t := range s.Targets[:last] {
			fmt.Fprintf(w, "case %d:\n", i)
			f.branch(w, t, s.SP-1)
		}
		fmt.Fprintf(w, "default:\n")
		f.branch(w, s.Targets[last], s.SP-1)
		fmt.Fprintf(w, "}\n")

	case compiler.KindReturn:
		f.move(w, f.slot(0), f.slot(s.SP-f.fn.NumResults), f.fn.NumResults)
		fmt.Fprintf(w, "return\n")

	default:
		f.op(w, s)
	}
}

func (f *functionEmitter) move(w *bytes.Buffer, dst, src, n int) {
	switch {
	case n == 0 || dst == src:
	case n == 1:
		fmt.Fprintf(w, "s[%d] = s[%d]\n", dst, src)
	default:
		fmt.Fprintf(w, "copy(s[%d:%d], s[%d:%d])\n", dst, dst+n, src, src+n)
	}
}

func (f *functionEmitter) branch(w *bytes.Buffer, t compiler.Target, sp int) {
	f.move(w, f.slot(t.Height), f.slot(sp-t.Arity), t.Arity)

	if t.Depth >= len(f.scopes) {
		fmt.Fprintf(w, "return\n")
		return
	}
	sc := f.scopes[len(f.scopes)-1-t.Depth]
	sc.target = true
	if sc.loop {
		fmt.Fprintf(w, "continue l%d\n", sc.label)
	} else {
		fmt.Fprintf(w, "break l%d\n", sc.label)
	}
}

// compares maps the comparison instructions that are emitted inline to their Go operand conversion and operator.
var compares = map[byte][2]string{
	code.OpI32Eq:  {"uint32", "=="},
	code.OpI32Ne:  {"uint32", "!="},
	code.OpI32LtS: {"int32", "<"},
	code.OpI32LtU: {"uint32", "<"},
	code.OpI32GtS: {"int32", ">"},
	code.OpI32GtU: {"uint32", ">"},
	code.OpI32LeS: {"int32", "<="},
	code.OpI32LeU: {"uint32", "<="},
	code.OpI32GeS: {"int32", ">="},
	code.OpI32GeU: {"uint32", ">="},
	code.OpI64Eq:  {"uint64", "=="},
	code.OpI64Ne:  {"uint64", "!="},
	code.OpI64LtS: {"int64", "<"},
	code.OpI64LtU: {"uint64", "<"},
	code.OpI64GtS: {"int64", ">"},
	code.OpI64GtU: {"uint64", ">"},
	code.OpI64LeS: {"int64", "<="},
	code.OpI64LeU: {"uint64", "<="},
	code.OpI64GeS: {"int64", ">="},
	code.OpI64GeU: {"uint64", ">="},
}

// arithmetic maps the integer instructions that are emitted inline to their operator and result width.
var arithmetic = map[byte][2]string{
	code.OpI32Add: {"+", "uint32"},
	code.OpI32Sub: {"-", "uint32"},
	code.OpI32Mul: {"*", "uint32"},
	code.OpI32And: {"&", "uint32"},
	code.OpI32Or:  {"|", "uint32"},
	code.OpI32Xor: {"^", "uint32"},
	code.OpI64Add: {"+", "uint64"},
	code.OpI64Sub: {"-", "uint64"},
	code.OpI64Mul: {"*", "uint64"},
	code.OpI64And: {"&", "uint64"},
	code.OpI64Or:  {"|", "uint64"},
	code.OpI64Xor: {"^", "uint64"},
}

func (f *functionEmitter) op(w *bytes.Buffer, s *compiler.Stmt) {
	instr := &s.Instr
	top := f.slot(s.SP - 1)

	switch instr.Opcode {
	case code.OpUnreachable:
		fmt.Fprintf(w, "panic(exec.TrapUnreachable)\n")
		return

	case code.OpNop, code.OpDrop:
		return

	case code.OpSelect, code.OpSelectT:
		a := f.slot(s.SP - 3)
		fmt.Fprintf(w, "if uint32(s[%d]) == 0 {\ns[%d] = s[%d]\n}\n", a+2, a, a+1)
		return

	case code.OpCall:
		funcidx := instr.Funcidx()
		sig := f.unit.signature(funcidx)
		f.call(w, s.SP, len(sig.ParamTypes), len(sig.ReturnTypes), func(base, np, nr int) string {
			return fmt.Sprintf("u.inst.Invoke(t, %d, s[%d:%d], s[%d:%d])", funcidx, base, base+np, base, base+nr)
		})
		return
	case code.OpCallIndirect:
		typeidx, tableidx := instr.Typeidx(), instr.Tableidx()
		sig := f.unit.module.Types[typeidx]
		f.call(w, s.SP-1, len(sig.ParamTypes), len(sig.ReturnTypes), func(base, np, nr int) string {
			return fmt.Sprintf("u.inst.CallIndirect(t, %d, %d, uint32(s[%d]), s[%d:%d], s[%d:%d])", typeidx, tableidx,
				base+np, base, base+np, base, base+nr)
		})
		return

	case code.OpLocalGet:
		fmt.Fprintf(w, "s[%d] = s[%d]\n", f.slot(s.SP), instr.Localidx())
		return
	case code.OpLocalSet, code.OpLocalTee:
		fmt.Fprintf(w, "s[%d] = s[%d]\n", instr.Localidx(), top)
		return

	case code.OpGlobalGet:
		fmt.Fprintf(w, "s[%d] = u.inst.Global(%d).Get()\n", f.slot(s.SP), instr.Globalidx())
		return
	case code.OpGlobalSet:
		fmt.Fprintf(w, "u.inst.Global(%d).Set(s[%d])\n", instr.Globalidx(), top)
		return

	case code.OpTableGet:
		fmt.Fprintf(w, "s[%d] = u.inst.TableGet(%d, uint32(s[%[1]d]))\n", top, instr.Tableidx())
		return
	case code.OpTableSet:
		a := f.slot(s.SP - 2)
		fmt.Fprintf(w, "u.inst.TableSet(%d, uint32(s[%d]), s[%d])\n", instr.Tableidx(), a, a+1)
		return

	case code.OpI32Load:
		fmt.Fprintf(w, "s[%d] = uint64(u.mem.Uint32(uint32(s[%[1]d]), %d))\n", top, instr.Offset())
		return
	case code.OpI64Load:
		fmt.Fprintf(w, "s[%d] = u.mem.Uint64(uint32(s[%[1]d]), %d)\n", top, instr.Offset())
		return
	case code.OpF32Load, code.OpF64Load,
		code.OpI32Load8S, code.OpI32Load8U, code.OpI32Load16S, code.OpI32Load16U,
		code.OpI64Load8S, code.OpI64Load8U, code.OpI64Load16S, code.OpI64Load16U,
		code.OpI64Load32S, code.OpI64Load32U:
		fmt.Fprintf(w, "s[%[1]d] = exec.Load(u.mem, %#[2]x, uint32(s[%[1]d]), %[3]d)\n", top, instr.Opcode, instr.Offset())
		return

	case code.OpI32Store, code.OpI64Store, code.OpF32Store, code.OpF64Store,
		code.OpI32Store8, code.OpI32Store16, code.OpI64Store8, code.OpI64Store16, code.OpI64Store32:
		a := f.slot(s.SP - 2)
		fmt.Fprintf(w, "exec.Store(u.mem, %#x, uint32(s[%d]), %d, s[%d])\n", instr.Opcode, a, instr.Offset(), a+1)
		return

	case code.OpMemorySize:
		fmt.Fprintf(w, "s[%d] = uint64(u.mem.Size())\n", f.slot(s.SP))
		return
	case code.OpMemoryGrow:
		fmt.Fprintf(w, "s[%d] = uint64(u.inst.MemoryGrow(uint32(s[%[1]d])))\n", top)
		return

	case code.OpI32Const:
		fmt.Fprintf(w, "s[%d] = %#x\n", f.slot(s.SP), uint32(instr.I32()))
		return
	case code.OpI64Const, code.OpF32Const, code.OpF64Const:
		fmt.Fprintf(w, "s[%d] = %#x\n", f.slot(s.SP), instr.Immediate)
		return
	case code.OpRefNull:
		fmt.Fprintf(w, "s[%d] = 0\n", f.slot(s.SP))
		return

	case code.OpRefIsNull:
		fmt.Fprintf(w, "if s[%d] == 0 {\ns[%[1]d] = 1\n} else {\ns[%[1]d] = 0\n}\n", top)
		return
	case code.OpRefFunc:
		fmt.Fprintf(w, "s[%d] = u.inst.RefFunc(%d)\n", f.slot(s.SP), instr.Funcidx())
		return

	case code.OpPrefix:
		f.prefixed(w, s)
		return
	}

	if _, ok := exec.Binary(instr.Opcode); ok {
		a := f.slot(s.SP - 2)
		if c, ok := compares[instr.Opcode]; ok {
			fmt.Fprintf(w, "if %[1]s(s[%[2]d]) %[3]s %[1]s(s[%[4]d]) {\ns[%[2]d] = 1\n} else {\ns[%[2]d] = 0\n}\n", c[0], a, c[1], a+1)
			return
		}
		if o, ok := arithmetic[instr.Opcode]; ok {
			fmt.Fprintf(w, "s[%[1]d] = uint64(%[2]s(s[%[1]d]) %[3]s %[2]s(s[%[4]d]))\n", a, o[1], o[0], a+1)
			return
		}
		fmt.Fprintf(w, "s[%[1]d] = %[2]s(s[%[1]d], s[%[3]d])\n", a, f.unit.binaryOp(instr.Opcode), a+1)
		return
	}

	if instr.Opcode == code.OpI32Eqz || instr.Opcode == code.OpI64Eqz {
		conv := "uint32"
		if instr.Opcode == code.OpI64Eqz {
			conv = "uint64"
		}
		fmt.Fprintf(w, "if %s(s[%d]) == 0 {\ns[%[2]d] = 1\n} else {\ns[%[2]d] = 0\n}\n", conv, top)
		return
	}
	fmt.Fprintf(w, "s[%d] = %s(s[%[1]d])\n", top, f.unit.unaryOp(instr))
}

func (f *functionEmitter) call(w *bytes.Buffer, sp, np, nr int, call func(base, np, nr int) string) {
	base := f.slot(sp - np)
	fmt.Fprintf(w, "%s\n", call(base, np, nr))
}

func (f *functionEmitter) prefixed(w *bytes.Buffer, s *compiler.Stmt) {
	instr := &s.Instr
	a := f.slot(s.SP - 3)

	switch instr.PrefixOp() {
	case code.OpMemoryInit:
		fmt.Fprintf(w, "u.inst.MemoryInit(%d, uint32(s[%d]), uint32(s[%d]), uint32(s[%d]))\n", instr.Segmentidx(), a, a+1, a+2)
	case code.OpDataDrop:
		fmt.Fprintf(w, "u.inst.DataDrop(%d)\n", instr.Segmentidx())
	case code.OpMemoryCopy:
		fmt.Fprintf(w, "u.mem.Copy(uint32(s[%d]), uint32(s[%d]), uint32(s[%d]))\n", a, a+1, a+2)
	case code.OpMemoryFill:
		fmt.Fprintf(w, "u.mem.Fill(uint32(s[%d]), byte(s[%d]), uint32(s[%d]))\n", a, a+1, a+2)
	case code.OpTableInit:
		fmt.Fprintf(w, "u.inst.TableInit(%d, %d, uint32(s[%d]), uint32(s[%d]), uint32(s[%d]))\n", instr.Tableidx(),
			instr.Segmentidx(), a, a+1, a+2)
	case code.OpElemDrop:
		fmt.Fprintf(w, "u.inst.ElemDrop(%d)\n", instr.Segmentidx())
	case code.OpTableCopy:
		fmt.Fprintf(w, "u.inst.TableCopy(%d, %d, uint32(s[%d]), uint32(s[%d]), uint32(s[%d]))\n", instr.Tableidx(),
			instr.SourceTableidx(), a, a+1, a+2)
	case code.OpTableGrow:
		b := f.slot(s.SP - 2)
		fmt.Fprintf(w, "s[%[1]d] = uint64(u.inst.TableGrow(%[2]d, s[%[1]d], uint32(s[%[3]d])))\n", b, instr.Tableidx(), b+1)
	case code.OpTableSize:
		fmt.Fprintf(w, "s[%d] = uint64(u.inst.TableSize(%d))\n", f.slot(s.SP), instr.Tableidx())
	case code.OpTableFill:
		fmt.Fprintf(w, "u.inst.TableFill(%d, uint32(s[%d]), s[%d], uint32(s[%d]))\n", instr.Tableidx(), a, a+1, a+2)
	default:
		top := f.slot(s.SP - 1)
		fmt.Fprintf(w, "s[%d] = %s(s[%[1]d])\n", top, f.unit.unaryOp(instr))
	}
}
