// Package load turns WASM module bytes into a Module whose function bodies are decoded, validated, and resolved.
package load

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/pgavlin/tandem/internal/logging"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
	"github.com/pgavlin/tandem/wasm/validate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// A Function is a module-defined function with its resolved body.
type Function struct {
	Index     uint32 // The function's index in the module's function index space.
	TypeIndex uint32
	Signature wasm.FunctionSig
	Locals    []wasm.ValueType // The function's parameters followed by its declared locals.
	Code      []byte           // The function's encoded instructions.
	Body      code.Body
}

// NumLocals returns the number of parameters and locals of the function.
func (f *Function) NumLocals() int {
	return len(f.Locals)
}

// A Module is a decoded module whose function bodies have been validated and resolved.
type Module struct {
	*wasm.Module

	Name              string
	Types             []wasm.FunctionSig
	ImportedFunctions []uint32 // The type indices of the module's imported functions.
	Functions         []Function

	names map[uint32]string
}

// Options controls decoding.
type Options struct {
	// Parallelism bounds the number of function bodies decoded concurrently. Zero means GOMAXPROCS.
	Parallelism int
}

// NumImportedFunctions returns the number of imported functions.
func (m *Module) NumImportedFunctions() int {
	return len(m.ImportedFunctions)
}

// Function returns the module-defined function at the given index in the function index space.
func (m *Module) Function(index uint32) (*Function, bool) {
	if index < uint32(len(m.ImportedFunctions)) {
		return nil, false
	}
	index -= uint32(len(m.ImportedFunctions))
	if index >= uint32(len(m.Functions)) {
		return nil, false
	}
	return &m.Functions[index], true
}

// FunctionName returns the name of the function at the given index from the name section, or the empty string.
func (m *Module) FunctionName(index uint32) string {
	return m.names[index]
}

// Decode decodes, validates, and resolves a binary module.
func Decode(ctx context.Context, r io.Reader, options *Options) (*Module, error) {
	m, err := wasm.DecodeModule(r)
	if err != nil {
		return nil, err
	}
	return New(ctx, m, options)
}

// DecodeBytes decodes, validates, and resolves a binary module held in memory.
func DecodeBytes(ctx context.Context, b []byte, options *Options) (*Module, error) {
	return Decode(ctx, bytes.NewReader(b), options)
}

// LoadFile decodes, validates, and resolves the binary module stored in the named file.
func LoadFile(ctx context.Context, path string, options *Options) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Decode(ctx, f, options)
	if err != nil {
		return nil, fmt.Errorf("loading %v: %w", path, err)
	}
	return m, nil
}

// New validates a decoded module and decodes and resolves each of its function bodies.
func New(ctx context.Context, m *wasm.Module, options *Options) (*Module, error) {
	if err := validate.ValidateModule(m, false); err != nil {
		return nil, err
	}

	parallelism := runtime.GOMAXPROCS(0)
	if options != nil && options.Parallelism > 0 {
		parallelism = options.Parallelism
	}

	mod := &Module{Module: m, names: m.FunctionNames()}
	if m.Types != nil {
		mod.Types = m.Types.Entries
	}
	if names, err := m.Names(); err == nil {
		mod.Name = names.ModuleName()
	}
	if m.Import != nil {
		for _, e := range m.Import.Entries {
			if f, ok := e.Type.(wasm.FuncImport); ok {
				mod.ImportedFunctions = append(mod.ImportedFunctions, f.Type)
			}
		}
	}

	var bodies []wasm.FunctionBody
	if m.Code != nil {
		bodies = m.Code.Bodies
	}
	mod.Functions = make([]Function, len(bodies))

	scope := code.NewStaticScope(m)
	imports := uint32(len(mod.ImportedFunctions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range bodies {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			typeIndex := m.Function.Types[i]
			sig := mod.Types[typeIndex]

			s := scope.Clone()
			s.SetFunction(sig, bodies[i])

			body, err := code.Decode(bodies[i].Code, s, sig.ReturnTypes)
			if err != nil {
				return fmt.Errorf("function %d: %w", imports+uint32(i), err)
			}

			mod.Functions[i] = Function{
				Index:     imports + uint32(i),
				TypeIndex: typeIndex,
				Signature: sig,
				Locals:    s.Locals,
				Code:      bodies[i].Code,
				Body:      body,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logging.Named("load").Debug("loaded module",
		zap.String("name", mod.Name),
		zap.Int("imports", len(mod.ImportedFunctions)),
		zap.Int("functions", len(mod.Functions)))
	return mod, nil
}
