// Package validate checks the static constraints of a decoded module that the binary grammar alone does not
// enforce: index bounds, limits, constant expressions, the start function, and export names.
package validate

import (
	"fmt"

	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
)

// MaxPages is the largest memory size, in 64KiB pages, that a module may declare.
const MaxPages = 65536

type validator struct {
	module       *wasm.Module
	validateCode bool

	scope *code.StaticScope

	importedGlobals int
}

// ValidateModule validates m. If validateCode is true, each function body is also decoded and type checked.
func ValidateModule(m *wasm.Module, validateCode bool) error {
	v := validator{
		module:          m,
		validateCode:    validateCode,
		scope:           code.NewStaticScope(m),
		importedGlobals: m.ImportCount(wasm.ExternalGlobal),
	}
	return v.validateModule()
}

func (v *validator) validateModule() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"imports", v.validateImports},
		{"functions", v.validateFunctions},
		{"tables", v.validateTables},
		{"memories", v.validateMemories},
		{"globals", v.validateGlobals},
		{"elements", v.validateElements},
		{"data", v.validateData},
		{"start", v.validateStart},
		{"exports", v.validateExports},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("validating %v: %w", s.name, err)
		}
	}
	return nil
}

func (v *validator) validateFunctions() error {
	var types []uint32
	if v.module.Function != nil {
		types = v.module.Function.Types
	}

	var bodies []wasm.FunctionBody
	if v.module.Code != nil {
		bodies = v.module.Code.Bodies
	}

	if len(types) != len(bodies) {
		return wasm.ValidationError("function and code section have inconsistent lengths")
	}

	for i, typeidx := range types {
		sig, ok := v.scope.GetType(typeidx)
		if !ok {
			return wasm.ValidationError("unknown type")
		}

		if !v.validateCode {
			continue
		}

		body := bodies[i]
		v.scope.SetFunction(sig, body)
		if _, err := code.Decode(body.Code, v.scope, sig.ReturnTypes); err != nil {
			return fmt.Errorf("function %d: %w", v.module.ImportCount(wasm.ExternalFunction)+i, err)
		}
	}

	return nil
}

func validateLimits(limits wasm.ResizableLimits, max uint32) error {
	if limits.HasMaximum() && limits.Initial > limits.Maximum {
		return wasm.ValidationError("size minimum must not be greater than maximum")
	}
	if max != 0 && (limits.Initial > max || limits.HasMaximum() && limits.Maximum > max) {
		return wasm.ValidationError("memory size must be at most 65536 pages (4GiB)")
	}
	return nil
}

func (v *validator) validateTables() error {
	if v.module.Table == nil {
		return nil
	}
	for _, t := range v.module.Table.Entries {
		if err := validateLimits(t.Limits, 0); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) validateMemories() error {
	if v.scope.Memories > 1 {
		return wasm.ValidationError("multiple memories")
	}
	if v.module.Memory == nil {
		return nil
	}
	for _, m := range v.module.Memory.Entries {
		if err := validateLimits(m.Limits, MaxPages); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) validateGlobals() error {
	if v.module.Global == nil {
		return nil
	}

	// Global initializers may only refer to imported globals.
	scope := v.scope.Clone()
	scope.Globals = scope.Globals[:v.importedGlobals]
	for _, g := range v.module.Global.Globals {
		if err := v.validateInitExpr(g.Init, g.Type.Type, scope); err != nil {
			return err
		}
	}

	return nil
}

func (v *validator) validateElements() error {
	if v.module.Elements == nil {
		return nil
	}
	for _, elem := range v.module.Elements.Entries {
		if elem.Mode == wasm.SegmentActive {
			if !v.scope.HasTable(elem.Index) {
				return wasm.ValidationError("unknown table")
			}
			if err := v.validateInitExpr(elem.Offset, wasm.ValueTypeI32, v.scope); err != nil {
				return err
			}
		}
		for _, funcidx := range elem.Elems {
			if _, ok := v.scope.GetFunctionSignature(funcidx); !ok {
				return wasm.ValidationError("unknown function")
			}
		}
	}
	return nil
}

func (v *validator) validateData() error {
	if v.module.DataCount != nil {
		n := 0
		if v.module.Data != nil {
			n = len(v.module.Data.Entries)
		}
		if int(v.module.DataCount.Count) != n {
			return wasm.ValidationError("data count and data section have inconsistent lengths")
		}
	}
	if v.module.Data == nil {
		return nil
	}
	for _, data := range v.module.Data.Entries {
		if data.Mode != wasm.SegmentActive {
			continue
		}
		if !v.scope.HasMemory(data.Index) {
			return wasm.ValidationError("unknown memory")
		}
		if err := v.validateInitExpr(data.Offset, wasm.ValueTypeI32, v.scope); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) validateStart() error {
	if v.module.Start == nil {
		return nil
	}
	sig, ok := v.scope.GetFunctionSignature(v.module.Start.Index)
	if !ok {
		return wasm.ValidationError("unknown function")
	}
	if len(sig.ParamTypes) != 0 || len(sig.ReturnTypes) != 0 {
		return wasm.ValidationError("start function")
	}
	return nil
}

func (v *validator) validateImports() error {
	if v.module.Import == nil {
		return nil
	}
	for _, i := range v.module.Import.Entries {
		switch i := i.Type.(type) {
		case wasm.FuncImport:
			if _, ok := v.scope.GetType(i.Type); !ok {
				return wasm.ValidationError("unknown type")
			}
		case wasm.TableImport:
			if err := validateLimits(i.Type.Limits, 0); err != nil {
				return err
			}
		case wasm.MemoryImport:
			if err := validateLimits(i.Type.Limits, MaxPages); err != nil {
				return err
			}
		case wasm.GlobalVarImport:
			// OK
		}
	}
	return nil
}

func (v *validator) validateExports() error {
	if v.module.Export == nil {
		return nil
	}

	names := map[string]bool{}
	for _, e := range v.module.Export.Entries {
		if names[e.FieldStr] {
			return wasm.DuplicateExportError(e.FieldStr)
		}
		names[e.FieldStr] = true

		switch e.Kind {
		case wasm.ExternalFunction:
			if _, ok := v.scope.GetFunctionSignature(e.Index); !ok {
				return wasm.ValidationError("unknown function")
			}
		case wasm.ExternalTable:
			if !v.scope.HasTable(e.Index) {
				return wasm.ValidationError("unknown table")
			}
		case wasm.ExternalMemory:
			if !v.scope.HasMemory(e.Index) {
				return wasm.ValidationError("unknown memory")
			}
		case wasm.ExternalGlobal:
			if _, ok := v.scope.GetGlobalType(e.Index); !ok {
				return wasm.ValidationError("unknown global")
			}
		}
	}
	return nil
}

func (v *validator) validateInitExpr(expr []byte, expected wasm.ValueType, scope code.Scope) error {
	decoded, err := code.Decode(expr, scope, []wasm.ValueType{expected})
	if err != nil {
		return err
	}
	for _, instr := range decoded.Instructions {
		switch instr.Opcode {
		case code.OpI32Const, code.OpI64Const, code.OpF32Const, code.OpF64Const, code.OpRefNull, code.OpRefFunc, code.OpEnd:
			// OK
		case code.OpGlobalGet:
			g, _ := scope.GetGlobalType(instr.Globalidx())
			if g.Mutable {
				return wasm.ValidationError("constant expression required")
			}
		default:
			return wasm.ValidationError("constant expression required")
		}
	}
	return nil
}
