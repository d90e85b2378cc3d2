package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgavlin/tandem/internal/logging"
	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
	"go.uber.org/zap"
)

var (
	// ErrImportNotFound is returned when an import has no matching value.
	ErrImportNotFound = errors.New("import not found")
	// ErrKindMismatch is returned when an import's value has the wrong kind.
	ErrKindMismatch = errors.New("import kind mismatch")
	// ErrSignatureMismatch is returned when an imported function's signature does not match its declaration.
	ErrSignatureMismatch = errors.New("function signature mismatch")
	// ErrLimitsMismatch is returned when an imported memory or table does not satisfy its declared limits.
	ErrLimitsMismatch = errors.New("limits mismatch")
	// ErrGlobalTypeMismatch is returned when an imported global's type does not match its declaration.
	ErrGlobalTypeMismatch = errors.New("global type mismatch")
	// ErrInvalidLimits is returned when a defined memory or table's initial size exceeds its maximum.
	ErrInvalidLimits = errors.New("initial size exceeds maximum")
	// ErrDataSegmentDoesNotFit is returned when an active data segment writes outside its memory.
	ErrDataSegmentDoesNotFit = errors.New("data segment does not fit")
	// ErrElementSegmentDoesNotFit is returned when an active element segment writes outside its table.
	ErrElementSegmentDoesNotFit = errors.New("element segment does not fit")
)

// A LinkError reports a failure to bind an import.
type LinkError struct {
	Module string
	Field  string
	Kind   wasm.External
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("linking %v import %s.%s: %v", e.Kind, e.Module, e.Field, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Imports supplies the values bound to a module's imports, keyed by module name and then field name. Values
// are *Function, *Memory, *Table, or *Global; Go functions are converted with HostFunction.
type Imports map[string]map[string]interface{}

func (i Imports) lookup(module, field string) (interface{}, bool) {
	m, ok := i[module]
	if !ok {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}

// BuildOptions configures instance construction.
type BuildOptions struct {
	// Name names the instance in stack traces. Defaults to the module's name.
	Name string
	// MaxDepth is the call depth limit for threads created by the instance. Zero means DefaultMaxDepth.
	MaxDepth int
	// MemoryTracer, if set, observes every store to the instance's memory, including data segment initialization.
	MemoryTracer MemoryTracer
}

// Build links a module against its imports and creates an instance whose functions are executed by the machine
// produced by factory. If startEnabled is true, the module's start function is run before Build returns.
//
// Linking fails before any module code runs if an import is missing or has the wrong type, if limits are
// violated, or if an active segment does not fit.
func Build(m *load.Module, imports Imports, factory MachineFactory, startEnabled bool) (*Instance, error) {
	return BuildWithOptions(m, imports, factory, startEnabled, nil)
}

// BuildWithOptions is like Build, but accepts options.
func BuildWithOptions(m *load.Module, imports Imports, factory MachineFactory, startEnabled bool, options *BuildOptions) (*Instance, error) {
	if options == nil {
		options = &BuildOptions{}
	}

	inst := &Instance{
		name:     options.Name,
		module:   m,
		maxDepth: options.MaxDepth,
		types:    m.Types,
		exports:  map[string]interface{}{},
	}
	if inst.name == "" {
		inst.name = m.Name
	}

	if err := inst.linkImports(imports); err != nil {
		return nil, err
	}
	if err := inst.allocate(); err != nil {
		return nil, err
	}
	if err := inst.allocateGlobals(); err != nil {
		return nil, err
	}
	if err := inst.allocateSegments(); err != nil {
		return nil, err
	}
	inst.defineExports()

	elemOffsets, err := inst.checkElementSegments()
	if err != nil {
		return nil, err
	}
	dataOffsets, err := inst.checkDataSegments()
	if err != nil {
		return nil, err
	}

	machine, err := factory.NewMachine(inst)
	if err != nil {
		return nil, err
	}
	inst.machine = machine

	if options.MemoryTracer != nil {
		if mem := inst.Memory(); mem != nil {
			mem.SetTracer(options.MemoryTracer)
		}
	}

	inst.initializeElementSegments(elemOffsets)
	inst.initializeDataSegments(dataOffsets)

	logging.Named("exec").Debug("built instance",
		zap.String("name", inst.name),
		zap.Int("functions", len(inst.functions)))

	if startEnabled && m.Start != nil {
		if _, err := inst.Execute(context.Background(), NewThread(inst.maxDepth), m.Start.Index, nil); err != nil {
			return nil, fmt.Errorf("running start function: %w", err)
		}
	}

	return inst, nil
}

func (inst *Instance) linkImports(imports Imports) error {
	if inst.module.Import == nil {
		return nil
	}
	for _, entry := range inst.module.Import.Entries {
		kind := entry.Type.Kind()
		fail := func(err error) error {
			return &LinkError{Module: entry.ModuleName, Field: entry.FieldName, Kind: kind, Err: err}
		}

		v, ok := imports.lookup(entry.ModuleName, entry.FieldName)
		if !ok {
			return fail(ErrImportNotFound)
		}

		switch t := entry.Type.(type) {
		case wasm.FuncImport:
			f, err := importFunction(v)
			if err != nil {
				return fail(err)
			}
			if !f.sig.Equals(inst.types[t.Type]) {
				return fail(fmt.Errorf("%w: expected %v, got %v", ErrSignatureMismatch, inst.types[t.Type], f.sig))
			}
			if f.host != nil && f.hostName == "" {
				f.hostModule, f.hostName = entry.ModuleName, entry.FieldName
			}
			inst.functions = append(inst.functions, f)
		case wasm.TableImport:
			table, ok := v.(*Table)
			if !ok {
				return fail(ErrKindMismatch)
			}
			_, max := table.Limits()
			if !limitsMatch(table.Size(), max, t.Type.Limits) {
				return fail(ErrLimitsMismatch)
			}
			inst.tables = append(inst.tables, table)
		case wasm.MemoryImport:
			mem, ok := v.(*Memory)
			if !ok {
				return fail(ErrKindMismatch)
			}
			_, max := mem.Limits()
			if !limitsMatch(mem.Size(), max, t.Type.Limits) {
				return fail(ErrLimitsMismatch)
			}
			inst.memories = append(inst.memories, mem)
		case wasm.GlobalVarImport:
			g, ok := v.(*Global)
			if !ok {
				return fail(ErrKindMismatch)
			}
			if g.Type() != t.Type {
				return fail(ErrGlobalTypeMismatch)
			}
			inst.globals = append(inst.globals, g)
		}
	}
	return nil
}

func importFunction(v interface{}) (*Function, error) {
	switch v := v.(type) {
	case *Function:
		return v, nil
	case *Memory, *Table, *Global:
		return nil, ErrKindMismatch
	default:
		return HostFunction(v)
	}
}

// limitsMatch returns true if an import with the given current size and maximum satisfies the declared limits.
func limitsMatch(size, max uint32, limits wasm.ResizableLimits) bool {
	if size < limits.Initial {
		return false
	}
	if limits.HasMaximum() && max > limits.Maximum {
		return false
	}
	return true
}

func (inst *Instance) allocate() error {
	for _, f := range inst.module.Functions {
		inst.functions = append(inst.functions, &Function{sig: f.Signature, instance: inst, index: f.Index})
	}

	if inst.module.Memory != nil {
		for _, mem := range inst.module.Memory.Entries {
			max := uint32(MaxPages)
			if mem.Limits.HasMaximum() {
				if mem.Limits.Initial > mem.Limits.Maximum {
					return ErrInvalidLimits
				}
				max = mem.Limits.Maximum
			}
			inst.memories = append(inst.memories, NewMemory(mem.Limits.Initial, max))
		}
	}

	if inst.module.Table != nil {
		for _, table := range inst.module.Table.Entries {
			max := uint32(0)
			if table.Limits.HasMaximum() {
				if table.Limits.Initial > table.Limits.Maximum {
					return ErrInvalidLimits
				}
				max = table.Limits.Maximum
			}
			inst.tables = append(inst.tables, NewTable(table.Limits.Initial, max))
		}
	}
	return nil
}

func (inst *Instance) allocateGlobals() error {
	if inst.module.Global == nil {
		return nil
	}
	for _, g := range inst.module.Global.Globals {
		v, err := inst.evalConst(g.Init, g.Type.Type)
		if err != nil {
			return fmt.Errorf("initializing global %d: %w", len(inst.globals), err)
		}
		inst.globals = append(inst.globals, NewGlobal(g.Type.Type, !g.Type.Mutable, v))
	}
	return nil
}

func (inst *Instance) allocateSegments() error {
	if inst.module.Elements != nil {
		for _, seg := range inst.module.Elements.Entries {
			elems := make([]*Function, len(seg.Elems))
			for i, funcidx := range seg.Elems {
				elems[i] = inst.functions[funcidx]
			}
			inst.elems = append(inst.elems, elems)
		}
	}
	if inst.module.Data != nil {
		for _, seg := range inst.module.Data.Entries {
			inst.data = append(inst.data, seg.Data)
		}
	}
	return nil
}

func (inst *Instance) defineExports() {
	if inst.module.Export == nil {
		return
	}
	for _, e := range inst.module.Export.Entries {
		switch e.Kind {
		case wasm.ExternalFunction:
			inst.exports[e.FieldStr] = inst.functions[e.Index]
		case wasm.ExternalTable:
			inst.exports[e.FieldStr] = inst.tables[e.Index]
		case wasm.ExternalMemory:
			inst.exports[e.FieldStr] = inst.memories[e.Index]
		case wasm.ExternalGlobal:
			inst.exports[e.FieldStr] = inst.globals[e.Index]
		}
	}
}

// evalConst evaluates a constant expression of the given type.
func (inst *Instance) evalConst(expr []byte, typ wasm.ValueType) (uint64, error) {
	body, err := code.Decode(expr, code.UnknownScope, []wasm.ValueType{typ})
	if err != nil {
		return 0, err
	}

	var v uint64
	for _, instr := range body.Instructions {
		switch instr.Opcode {
		case code.OpI32Const:
			v = uint64(uint32(instr.I32()))
		case code.OpI64Const:
			v = uint64(instr.I64())
		case code.OpF32Const, code.OpF64Const:
			v = instr.Immediate
		case code.OpGlobalGet:
			idx := instr.Globalidx()
			if idx >= uint32(len(inst.globals)) {
				return 0, fmt.Errorf("unknown global %d", idx)
			}
			v = inst.globals[idx].Get()
		case code.OpRefNull:
			v = 0
		case code.OpRefFunc:
			v = inst.RefFunc(instr.Funcidx())
		case code.OpEnd:
			// OK
		default:
			return 0, wasm.ErrInvalidInitExpr
		}
	}
	return v, nil
}

func (inst *Instance) checkElementSegments() ([]uint32, error) {
	if inst.module.Elements == nil {
		return nil, nil
	}
	offsets := make([]uint32, len(inst.elems))
	for i, seg := range inst.module.Elements.Entries {
		if seg.Mode != wasm.SegmentActive {
			continue
		}
		offset, err := inst.evalConst(seg.Offset, wasm.ValueTypeI32)
		if err != nil {
			return nil, err
		}
		table := inst.tables[seg.Index]
		if uint64(uint32(offset))+uint64(len(seg.Elems)) > uint64(table.Size()) {
			return nil, ErrElementSegmentDoesNotFit
		}
		offsets[i] = uint32(offset)
	}
	return offsets, nil
}

func (inst *Instance) initializeElementSegments(offsets []uint32) {
	if inst.module.Elements == nil {
		return
	}
	for i, seg := range inst.module.Elements.Entries {
		switch seg.Mode {
		case wasm.SegmentActive:
			inst.tables[seg.Index].Init(inst.elems[i], offsets[i], 0, uint32(len(inst.elems[i])))
			inst.elems[i] = nil
		case wasm.SegmentDeclarative:
			inst.elems[i] = nil
		}
	}
}

func (inst *Instance) checkDataSegments() ([]uint32, error) {
	if inst.module.Data == nil {
		return nil, nil
	}
	offsets := make([]uint32, len(inst.data))
	for i, seg := range inst.module.Data.Entries {
		if seg.Mode != wasm.SegmentActive {
			continue
		}
		offset, err := inst.evalConst(seg.Offset, wasm.ValueTypeI32)
		if err != nil {
			return nil, err
		}
		mem := inst.memories[seg.Index]
		if uint64(uint32(offset))+uint64(len(seg.Data)) > uint64(len(mem.Bytes())) {
			return nil, ErrDataSegmentDoesNotFit
		}
		offsets[i] = uint32(offset)
	}
	return offsets, nil
}

func (inst *Instance) initializeDataSegments(offsets []uint32) {
	if inst.module.Data == nil {
		return
	}
	for i, seg := range inst.module.Data.Entries {
		if seg.Mode == wasm.SegmentActive {
			inst.memories[seg.Index].Init(seg.Data, offsets[i], 0, uint32(len(seg.Data)))
			inst.data[i] = nil
		}
	}
}
