package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgavlin/tandem/cmd/tandem/compile"
	"github.com/pgavlin/tandem/cmd/tandem/dump"
	"github.com/pgavlin/tandem/cmd/tandem/run"
	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/internal/logging"
)

func rootCommand() *cobra.Command {
	var cpuProfile, memProfile string
	var verbose bool
	var cpuProfileFile *os.File

	command := &cobra.Command{
		Use:   "tandem",
		Short: "Run, compile, and inspect WebAssembly modules",
		Long: "tandem runs WebAssembly modules in an interpreter, as compiled code, or as a mix of the two, and " +
			"compiles modules ahead of time.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logging.SetLogger(l)
			}

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return err
				}
				if err = pprof.StartCPUProfile(f); err != nil {
					f.Close()
					return err
				}
				cpuProfileFile = f
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			_ = logging.Logger().Sync()

			if cpuProfileFile != nil {
				pprof.StopCPUProfile()
				if err := cpuProfileFile.Close(); err != nil {
					return err
				}
			}

			if memProfile != "" {
				f, err := os.Create(memProfile)
				if err != nil {
					return err
				}
				defer f.Close()

				return pprof.WriteHeapProfile(f)
			}
			return nil
		},
	}

	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log compilation and cache diagnostics to stderr")
	command.PersistentFlags().StringVar(&cpuProfile, "cpu", "", "write a CPU profile to the specified file")
	command.PersistentFlags().StringVar(&memProfile, "mem", "", "write a heap profile to the specified file")
	command.PersistentFlags().MarkHidden("cpu")
	command.PersistentFlags().MarkHidden("mem")

	command.AddCommand(run.Command())
	command.AddCommand(compile.Command())
	command.AddCommand(dump.Command())

	return command
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)

		var trap *exec.TrapError
		if errors.As(err, &trap) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
