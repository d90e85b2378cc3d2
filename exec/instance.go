package exec

import (
	"context"
	"fmt"

	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
)

// A Machine executes the module-defined functions of a single instance. Invoke runs the function at funcidx in
// the instance's function index space; traps unwind as panics. Machines reach other functions, including
// imports, through Instance.Invoke and Instance.CallIndirect so that every call shares the thread's call stack.
type Machine interface {
	Invoke(t *Thread, funcidx uint32, args, results []uint64)
}

// A MachineFactory creates the machine for a newly built instance.
type MachineFactory interface {
	NewMachine(inst *Instance) (Machine, error)
}

// MachineFactoryFunc adapts a function to the MachineFactory interface.
type MachineFactoryFunc func(inst *Instance) (Machine, error)

func (f MachineFactoryFunc) NewMachine(inst *Instance) (Machine, error) {
	return f(inst)
}

// An Instance owns the memories, tables, globals, and function index space of a linked module. The mapping from
// function index to implementation never changes once the instance is built.
type Instance struct {
	name     string
	module   *load.Module
	machine  Machine
	maxDepth int

	types     []wasm.FunctionSig
	functions []*Function
	memories  []*Memory
	tables    []*Table
	globals   []*Global

	data  [][]byte
	elems [][]*Function
	refs  refTable

	exports map[string]interface{}
}

// Name returns the instance's name.
func (inst *Instance) Name() string {
	return inst.name
}

// Module returns the module the instance was built from.
func (inst *Instance) Module() *load.Module {
	return inst.module
}

// Machine returns the machine that executes the instance's functions.
func (inst *Instance) Machine() Machine {
	return inst.machine
}

// NumImportedFunctions returns the number of imported functions in the instance's function index space.
func (inst *Instance) NumImportedFunctions() int {
	return inst.module.NumImportedFunctions()
}

// Function returns the function at the given index in the instance's function index space.
func (inst *Instance) Function(funcidx uint32) *Function {
	return inst.functions[funcidx]
}

// Type returns the function type with the given index.
func (inst *Instance) Type(typeidx uint32) wasm.FunctionSig {
	return inst.types[typeidx]
}

// Memory returns the instance's memory, or nil if it has none.
func (inst *Instance) Memory() *Memory {
	if len(inst.memories) == 0 {
		return nil
	}
	return inst.memories[0]
}

// Table returns the table with the given index.
func (inst *Instance) Table(tableidx uint32) *Table {
	return inst.tables[tableidx]
}

// Global returns the global with the given index.
func (inst *Instance) Global(globalidx uint32) *Global {
	return inst.globals[globalidx]
}

// Exports returns the instance's exports keyed by name. The values are *Function, *Memory, *Table, or *Global,
// so the map can be supplied directly as the imports of another module.
func (inst *Instance) Exports() map[string]interface{} {
	exports := make(map[string]interface{}, len(inst.exports))
	for k, v := range inst.exports {
		exports[k] = v
	}
	return exports
}

// ExportNotFoundError is returned when an instance has no export with a given name and kind.
type ExportNotFoundError struct {
	Name string
	Kind wasm.External
}

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("no %v export named %q", e.Kind, e.Name)
}

func export[T any](inst *Instance, name string, kind wasm.External) (T, error) {
	v, ok := inst.exports[name].(T)
	if !ok {
		return v, &ExportNotFoundError{Name: name, Kind: kind}
	}
	return v, nil
}

// ExportedFunction returns the exported function with the given name.
func (inst *Instance) ExportedFunction(name string) (*Function, error) {
	return export[*Function](inst, name, wasm.ExternalFunction)
}

// ExportedMemory returns the exported memory with the given name.
func (inst *Instance) ExportedMemory(name string) (*Memory, error) {
	return export[*Memory](inst, name, wasm.ExternalMemory)
}

// ExportedTable returns the exported table with the given name.
func (inst *Instance) ExportedTable(name string) (*Table, error) {
	return export[*Table](inst, name, wasm.ExternalTable)
}

// ExportedGlobal returns the exported global with the given name.
func (inst *Instance) ExportedGlobal(name string) (*Global, error) {
	return export[*Global](inst, name, wasm.ExternalGlobal)
}

// Call calls the exported function with the given name on a new thread.
func (inst *Instance) Call(ctx context.Context, name string, args ...interface{}) ([]interface{}, error) {
	f, err := inst.ExportedFunction(name)
	if err != nil {
		return nil, err
	}
	return f.Call(ctx, args...)
}

// CallIndex calls the function at the given index in the function index space on a new thread.
func (inst *Instance) CallIndex(ctx context.Context, funcidx uint32, args ...interface{}) ([]interface{}, error) {
	if funcidx >= uint32(len(inst.functions)) {
		return nil, fmt.Errorf("function index %d out of range", funcidx)
	}
	return inst.functions[funcidx].Call(ctx, args...)
}

// Execute calls the function at the given index with raw arguments on the given thread.
func (inst *Instance) Execute(ctx context.Context, t *Thread, funcidx uint32, args []uint64) ([]uint64, error) {
	if funcidx >= uint32(len(inst.functions)) {
		return nil, fmt.Errorf("function index %d out of range", funcidx)
	}
	return inst.functions[funcidx].Execute(ctx, t, args)
}

// Invoke calls the function at the given index in the instance's function index space. This is the single entry
// point through which machines call functions, so that interpreted, compiled, and host functions share one
// call stack.
func (inst *Instance) Invoke(t *Thread, funcidx uint32, args, results []uint64) {
	inst.functions[funcidx].Invoke(t, args, results)
}
