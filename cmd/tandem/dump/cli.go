package dump

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgavlin/tandem/cmd/tandem/internal/options"
	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
)

func functionName(m *load.Module, funcidx uint32) string {
	if name := m.FunctionName(funcidx); name != "" {
		return name
	}
	return fmt.Sprintf("func[%d]", funcidx)
}

func typeList(types []wasm.ValueType) string {
	strs := make([]string, len(types))
	for i, t := range types {
		strs[i] = t.String()
	}
	return "(" + strings.Join(strs, ", ") + ")"
}

func header(w io.Writer, m *load.Module, fn *load.Function) {
	fmt.Fprintf(w, "%v %v -> %v\n", functionName(m, fn.Index), typeList(fn.Signature.ParamTypes), typeList(fn.Signature.ReturnTypes))
}

// dumpInstructions writes the resolved instructions of each module-defined function.
func dumpInstructions(w io.Writer, m *load.Module) error {
	for i := range m.Functions {
		fn := &m.Functions[i]
		header(w, m, fn)
		if len(fn.Locals) > len(fn.Signature.ParamTypes) {
			fmt.Fprintf(w, "  locals %v\n", typeList(fn.Locals[len(fn.Signature.ParamTypes):]))
		}
		for ip, instr := range fn.Body.Instructions {
			fmt.Fprintf(w, "  %5d  %v\n", ip, instr.String())
		}
	}
	return nil
}

// dumpIR compiles the module and writes the translated form of each compiled function.
func dumpIR(ctx context.Context, w io.Writer, m *load.Module, config *compiler.Config) error {
	p, err := compiler.Compile(ctx, m, config)
	if err != nil {
		return err
	}
	for i := range m.Functions {
		fn := &m.Functions[i]
		header(w, m, fn)

		f, ok := p.Function(fn.Index)
		if !ok {
			fmt.Fprintln(w, "  interpreted")
			continue
		}
		fmt.Fprintf(w, "  frame %d\n", f.FrameSize())
		for _, line := range strings.Split(strings.TrimRight(f.Dump(), "\n"), "\n") {
			fmt.Fprintf(w, "  %v\n", line)
		}
	}
	return nil
}

func Command() *cobra.Command {
	var stats bool
	var ir bool
	var compilerFlags options.Compiler

	command := &cobra.Command{
		Use:   "dump [path to module]",
		Short: "Dump WebAssembly modules",
		Long:  "Dump the resolved instructions or the compiled form of each function in a WebAssembly module, or per-function statistics in CSV format.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}
			if stats && ir {
				return errors.New("at most one of --stats and --ir may be specified")
			}

			ctx := context.Background()
			mod, err := load.LoadFile(ctx, args[0], nil)
			if err != nil {
				return err
			}

			w := bufio.NewWriter(cmd.OutOrStdout())
			defer w.Flush()

			switch {
			case stats:
				return dumpStats(w, mod)
			case ir:
				config, release, err := compilerFlags.Config()
				if err != nil {
					return err
				}
				defer release()
				return dumpIR(ctx, w, mod, config)
			default:
				return dumpInstructions(w, mod)
			}
		},
	}

	command.Flags().BoolVarP(&stats, "stats", "s", false, "dump function statistics in CSV format")
	command.Flags().BoolVar(&ir, "ir", false, "dump the compiled form of each function")
	compilerFlags.AddFlags(command.Flags())

	return command
}
