package compile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgavlin/tandem/cmd/tandem/internal/options"
	"github.com/pgavlin/tandem/compiler"
	"github.com/pgavlin/tandem/compiler/golang"
	"github.com/pgavlin/tandem/internal/logging"
	"github.com/pgavlin/tandem/load"
)

// ArtifactName returns the name under which the artifact for the module at path is written.
func ArtifactName(path string, m *load.Module) string {
	if m.Name != "" {
		return m.Name
	}
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func emitUnit(path string, m *load.Module, u *compiler.Unit, options *golang.Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := golang.Emit(w, m, u, options); err != nil {
		return err
	}
	return w.Flush()
}

func Command() *cobra.Command {
	var outputDir string
	var emitGo bool
	var packageName string
	var compilerFlags options.Compiler

	command := &cobra.Command{
		Use:   "compile [path to module]",
		Short: "Compile a WebAssembly module ahead of time",
		Long: "Compile a WebAssembly module to an artifact that can be loaded without recompiling, and optionally " +
			"to Go source with one file per unit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}
			if outputDir == "" {
				return errors.New("an output directory must be specified with -o")
			}

			ctx := context.Background()
			mod, err := load.LoadFile(ctx, args[0], nil)
			if err != nil {
				return err
			}

			config, release, err := compilerFlags.Config()
			if err != nil {
				return err
			}
			defer release()

			name := ArtifactName(args[0], mod)
			if config.UnitName == "" {
				config.UnitName = name
			}

			p, err := compiler.Compile(ctx, mod, config)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return err
			}
			if err := compiler.WriteArtifact(outputDir, name, mod, p); err != nil {
				return err
			}

			log := logging.Named("compile")
			meta, units := compiler.ArtifactPaths(outputDir, name)
			log.Info("wrote artifact",
				zap.String("metadata", meta),
				zap.String("units", units),
				zap.Int("unitCount", len(p.Units())),
				zap.Uint("interpreted", p.Interpreted().Count()))

			if !emitGo {
				return nil
			}
			for _, u := range p.Units() {
				typeName := golang.TypeName(u)
				path := filepath.Join(outputDir, strings.ToLower(typeName)+".go")
				if err := emitUnit(path, mod, u, &golang.Options{PackageName: packageName, TypeName: typeName}); err != nil {
					return fmt.Errorf("emitting unit %v: %w", u.Name, err)
				}
				log.Debug("wrote unit source", zap.String("unit", u.Name), zap.String("path", path))
			}
			return nil
		},
	}

	command.Flags().StringVarP(&outputDir, "out", "o", "", "the directory to write the artifact to")
	command.Flags().BoolVar(&emitGo, "go", false, "also write Go source for each unit")
	command.Flags().StringVar(&packageName, "pkg", "units", "the package name of generated Go source")
	compilerFlags.AddFlags(command.Flags())

	return command
}
