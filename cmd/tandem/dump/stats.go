package dump

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm/code"
)

type statsRow struct {
	Function         string `csv:"function"`
	Funcidx          uint32 `csv:"funcidx"`
	In               int    `csv:"in"`
	Out              int    `csv:"out"`
	LocalCount       int    `csv:"local count"`
	MaxStack         int    `csv:"max stack"`
	MaxNesting       int    `csv:"max nesting"`
	LabelCount       int    `csv:"label count"`
	HasLoops         bool   `csv:"has loops"`
	InstructionCount int    `csv:"instruction count"`
	Control          int    `csv:"control"`
	Branch           int    `csv:"branch"`
	Call             int    `csv:"call"`
	CallIndirect     int    `csv:"call_indirect"`
	Variable         int    `csv:"variable"`
	Load             int    `csv:"load"`
	Store            int    `csv:"store"`
	Const            int    `csv:"const"`
	Compare          int    `csv:"compare"`
	Arith            int    `csv:"arith"`
	Convert          int    `csv:"convert"`
	Reference        int    `csv:"reference"`
	Prefixed         int    `csv:"prefixed"`
}

func functionStats(m *load.Module, fn *load.Function) statsRow {
	r := statsRow{
		Function:         functionName(m, fn.Index),
		Funcidx:          fn.Index,
		In:               len(fn.Signature.ParamTypes),
		Out:              len(fn.Signature.ReturnTypes),
		LocalCount:       len(fn.Locals),
		MaxStack:         fn.Body.Metrics.MaxStackDepth,
		MaxNesting:       fn.Body.Metrics.MaxNesting,
		LabelCount:       fn.Body.Metrics.LabelCount,
		HasLoops:         fn.Body.Metrics.HasLoops,
		InstructionCount: len(fn.Body.Instructions),
	}
	for _, instr := range fn.Body.Instructions {
		switch op := instr.Opcode; {
		case op <= code.OpElse || op == code.OpEnd || op == code.OpReturn:
			r.Control++
		case op >= code.OpBr && op <= code.OpBrTable:
			r.Branch++
		case op == code.OpCall:
			r.Call++
		case op == code.OpCallIndirect:
			r.CallIndirect++
		case op >= code.OpDrop && op <= code.OpTableSet:
			r.Variable++
		case op >= code.OpI32Load && op <= code.OpI64Load32U:
			r.Load++
		case op >= code.OpI32Store && op <= code.OpI64Store32:
			r.Store++
		case op == code.OpMemorySize || op == code.OpMemoryGrow:
			r.Variable++
		case op >= code.OpI32Const && op <= code.OpF64Const:
			r.Const++
		case op >= code.OpI32Eqz && op <= code.OpF64Ge:
			r.Compare++
		case op > code.OpF64Ge && op < code.OpI32WrapI64:
			r.Arith++
		case op >= code.OpI32WrapI64 && op <= code.OpI64Extend32S:
			r.Convert++
		case op >= code.OpRefNull && op <= code.OpRefFunc:
			r.Reference++
		case op == code.OpPrefix:
			r.Prefixed++
		}
	}
	return r
}

// dumpStats writes one CSV row of statistics per module-defined function.
func dumpStats(w io.Writer, m *load.Module) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	encoder := csvutil.NewEncoder(csvWriter)
	if err := encoder.EncodeHeader(statsRow{}); err != nil {
		return err
	}
	for i := range m.Functions {
		if err := encoder.Encode(functionStats(m, &m.Functions[i])); err != nil {
			return err
		}
	}
	return nil
}
