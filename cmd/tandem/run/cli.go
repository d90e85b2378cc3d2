package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgavlin/tandem/cmd/tandem/internal/options"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/machine"
	"github.com/pgavlin/tandem/wasm"
)

// defaultEntryPoints are the exports called when no function is named, in order of preference.
var defaultEntryPoints = []string{"_start", "main"}

// ParseArg parses a command-line argument as a value of the given type. Integers accept any base prefix and may
// be written signed or unsigned.
func ParseArg(typ wasm.ValueType, s string) (interface{}, error) {
	switch typ {
	case wasm.ValueTypeI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return int32(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed i32 '%v'", s)
		}
		return int32(uint32(v)), nil
	case wasm.ValueTypeI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return v, nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed i64 '%v'", s)
		}
		return int64(v), nil
	case wasm.ValueTypeF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed f32 '%v'", s)
		}
		return float32(v), nil
	case wasm.ValueTypeF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed f64 '%v'", s)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("arguments of type %v are not supported", typ)
	}
}

// Factory returns the machine factory for the named execution mode.
func Factory(mode string, flags *options.Compiler) (exec.MachineFactory, func() error, error) {
	switch mode {
	case "interp", "interpreter":
		return machine.Interpreter(), func() error { return nil }, nil
	case "compiled", "hybrid":
		config, release, err := flags.Config()
		if err != nil {
			return nil, nil, err
		}
		if mode == "hybrid" {
			if config.Interpreted == nil {
				release()
				return nil, nil, errors.New("hybrid mode requires --interpreted")
			}
			return machine.Hybrid(config.Interpreted, config), release, nil
		}
		return machine.Compiled(config), release, nil
	default:
		return nil, nil, fmt.Errorf("unknown execution mode '%v'", mode)
	}
}

func entryPoint(inst *exec.Instance, invoke string) (*exec.Function, error) {
	if invoke != "" {
		return inst.ExportedFunction(invoke)
	}
	for _, name := range defaultEntryPoints {
		if f, err := inst.ExportedFunction(name); err == nil {
			return f, nil
		}
	}
	return nil, nil
}

func printResults(w io.Writer, results []interface{}) {
	if len(results) == 0 {
		return
	}
	strs := make([]string, len(results))
	for i, r := range results {
		strs[i] = fmt.Sprint(r)
	}
	fmt.Fprintln(w, strings.Join(strs, " "))
}

func Command() *cobra.Command {
	var mode string
	var invoke string
	var timeout time.Duration
	var maxDepth int
	var compilerFlags options.Compiler

	command := &cobra.Command{
		Use:   "run [path to module] [args...]",
		Short: "Run a WebAssembly module",
		Long: "Instantiate a WebAssembly module, run its start function, and call one of its exports with the given " +
			"arguments. If no export is named, _start or main is called if the module exports either.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("expected at least one argument")
			}

			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			mod, err := load.LoadFile(ctx, args[0], nil)
			if err != nil {
				return err
			}

			factory, release, err := Factory(mode, &compilerFlags)
			if err != nil {
				return err
			}
			defer release()

			inst, err := exec.BuildWithOptions(mod, nil, factory, true, &exec.BuildOptions{MaxDepth: maxDepth})
			if err != nil {
				return err
			}

			f, err := entryPoint(inst, invoke)
			if err != nil || f == nil {
				return err
			}

			params := f.Signature().ParamTypes
			if len(args)-1 != len(params) {
				return fmt.Errorf("expected %v args; got %v", len(params), len(args)-1)
			}
			values := make([]interface{}, len(params))
			for i, typ := range params {
				if values[i], err = ParseArg(typ, args[i+1]); err != nil {
					return fmt.Errorf("argument %d: %w", i, err)
				}
			}

			results, err := f.CallThread(ctx, exec.NewThread(maxDepth), values...)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	command.Flags().SetInterspersed(false)
	command.Flags().StringVar(&mode, "mode", "interp", "the execution mode: interp, compiled, or hybrid")
	command.Flags().StringVar(&invoke, "invoke", "", "the name of the export to call")
	command.Flags().DurationVar(&timeout, "timeout", 0, "cancel the call after the given duration")
	command.Flags().IntVar(&maxDepth, "max-depth", 0, "the call depth limit. Zero means the default limit.")
	compilerFlags.AddFlags(command.Flags())

	return command
}
