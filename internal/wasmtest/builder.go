// Package wasmtest builds WASM modules programmatically and checks their behavior under a given machine.
package wasmtest

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
	"github.com/stretchr/testify/require"
)

const (
	I32     = wasm.ValueTypeI32
	I64     = wasm.ValueTypeI64
	F32     = wasm.ValueTypeF32
	F64     = wasm.ValueTypeF64
	FuncRef = wasm.ValueTypeFuncRef
)

// Expr encodes a sequence of instructions.
func Expr(instrs ...code.Instruction) []byte {
	var buf bytes.Buffer
	if err := code.Encode(&buf, instrs); err != nil {
		panic(fmt.Errorf("encoding expression: %w", err))
	}
	return buf.Bytes()
}

// Ops returns one instruction without immediates per opcode.
func Ops(opcodes ...byte) []code.Instruction {
	instrs := make([]code.Instruction, len(opcodes))
	for i, op := range opcodes {
		instrs[i] = code.Op(op)
	}
	return instrs
}

// Seq concatenates instruction lists.
func Seq(parts ...interface{}) []code.Instruction {
	var instrs []code.Instruction
	for _, p := range parts {
		switch p := p.(type) {
		case code.Instruction:
			instrs = append(instrs, p)
		case []code.Instruction:
			instrs = append(instrs, p...)
		case byte:
			instrs = append(instrs, code.Op(p))
		case int:
			// Untyped opcode constants.
			instrs = append(instrs, code.Op(byte(p)))
		default:
			panic(fmt.Errorf("unexpected instruction sequence element %T", p))
		}
	}
	return instrs
}

// Types is shorthand for a list of value types.
func Types(types ...wasm.ValueType) []wasm.ValueType {
	return types
}

// A Func describes a module-defined function. Body excludes the final end.
type Func struct {
	Type   uint32
	Locals []wasm.ValueType
	Body   []code.Instruction
	Name   string
	Export string
}

// A Builder assembles a module. Imports must be added before functions so that function indices are stable.
type Builder struct {
	m         *wasm.Module
	name      string
	names     []wasm.Naming
	funcs     uint32
	globals   uint32
	dataCount bool
}

// NewBuilder creates a builder for a module with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{m: wasm.NewModule(), name: name}
}

// Type adds a function type and returns its index. Identical types share an index.
func (b *Builder) Type(params []wasm.ValueType, results ...wasm.ValueType) uint32 {
	sig := wasm.FunctionSig{Form: wasm.TypeFunc, ParamTypes: params, ReturnTypes: results}
	for i, t := range b.m.Types.Entries {
		if t.Equals(sig) {
			return uint32(i)
		}
	}
	b.m.Types.Entries = append(b.m.Types.Entries, sig)
	return uint32(len(b.m.Types.Entries) - 1)
}

// ImportFunc adds a function import and returns its index.
func (b *Builder) ImportFunc(module, field string, typeidx uint32) uint32 {
	b.m.Import.Entries = append(b.m.Import.Entries, wasm.ImportEntry{
		ModuleName: module,
		FieldName:  field,
		Type:       wasm.FuncImport{Type: typeidx},
	})
	b.funcs++
	return b.funcs - 1
}

// ImportMemory adds a memory import. A max of zero declares no maximum.
func (b *Builder) ImportMemory(module, field string, min, max uint32) {
	b.m.Import.Entries = append(b.m.Import.Entries, wasm.ImportEntry{
		ModuleName: module,
		FieldName:  field,
		Type:       wasm.MemoryImport{Type: wasm.Memory{Limits: limits(min, max)}},
	})
}

// ImportGlobal adds a global import and returns its index.
func (b *Builder) ImportGlobal(module, field string, typ wasm.ValueType, mutable bool) uint32 {
	b.m.Import.Entries = append(b.m.Import.Entries, wasm.ImportEntry{
		ModuleName: module,
		FieldName:  field,
		Type:       wasm.GlobalVarImport{Type: wasm.GlobalVar{Type: typ, Mutable: mutable}},
	})
	b.globals++
	return b.globals - 1
}

// Func adds a function and returns its index.
func (b *Builder) Func(f Func) uint32 {
	index := b.funcs
	b.funcs++

	b.m.Function.Types = append(b.m.Function.Types, f.Type)

	var locals []wasm.LocalEntry
	for _, t := range f.Locals {
		if n := len(locals); n != 0 && locals[n-1].Type == t {
			locals[n-1].Count++
		} else {
			locals = append(locals, wasm.LocalEntry{Count: 1, Type: t})
		}
	}
	body := append(append([]code.Instruction(nil), f.Body...), code.End())
	b.m.Code.Bodies = append(b.m.Code.Bodies, wasm.FunctionBody{Locals: locals, Code: Expr(body...)})

	if f.Name != "" {
		b.names = append(b.names, wasm.Naming{Index: index, Name: f.Name})
	}
	if f.Export != "" {
		b.Export(f.Export, wasm.ExternalFunction, index)
	}
	return index
}

func limits(min, max uint32) wasm.ResizableLimits {
	if max == 0 {
		return wasm.ResizableLimits{Initial: min}
	}
	return wasm.ResizableLimits{Flags: 1, Initial: min, Maximum: max}
}

// Memory adds a memory. A max of zero declares no maximum.
func (b *Builder) Memory(min, max uint32) {
	b.m.Memory.Entries = append(b.m.Memory.Entries, wasm.Memory{Limits: limits(min, max)})
}

// Table adds a funcref table and returns its index. A max of zero declares no maximum.
func (b *Builder) Table(min, max uint32) uint32 {
	b.m.Table.Entries = append(b.m.Table.Entries, wasm.Table{ElementType: wasm.ElemTypeFuncRef, Limits: limits(min, max)})
	return uint32(len(b.m.Table.Entries) - 1)
}

// Global adds a global initialized by the given constant instruction and returns its index.
func (b *Builder) Global(typ wasm.ValueType, mutable bool, init code.Instruction) uint32 {
	b.m.Global.Globals = append(b.m.Global.Globals, wasm.GlobalEntry{
		Type: wasm.GlobalVar{Type: typ, Mutable: mutable},
		Init: Expr(init, code.End()),
	})
	b.globals++
	return b.globals - 1
}

// Export exports the entity of the given kind and index.
func (b *Builder) Export(name string, kind wasm.External, index uint32) {
	b.m.Export.Entries = append(b.m.Export.Entries, wasm.ExportEntry{FieldStr: name, Kind: kind, Index: index})
}

// Elements adds an active element segment for table 0.
func (b *Builder) Elements(offset int32, funcs ...uint32) {
	b.m.Elements.Entries = append(b.m.Elements.Entries, wasm.ElementSegment{
		Mode:   wasm.SegmentActive,
		Offset: Expr(code.I32Const(offset), code.End()),
		Elems:  funcs,
	})
}

// PassiveElements adds a passive element segment and returns its index.
func (b *Builder) PassiveElements(funcs ...uint32) uint32 {
	b.m.Elements.Entries = append(b.m.Elements.Entries, wasm.ElementSegment{Mode: wasm.SegmentPassive, Elems: funcs})
	return uint32(len(b.m.Elements.Entries) - 1)
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, data []byte) {
	b.m.Data.Entries = append(b.m.Data.Entries, wasm.DataSegment{
		Mode:   wasm.SegmentActive,
		Offset: Expr(code.I32Const(offset), code.End()),
		Data:   data,
	})
}

// PassiveData adds a passive data segment and returns its index.
func (b *Builder) PassiveData(data []byte) uint32 {
	b.m.Data.Entries = append(b.m.Data.Entries, wasm.DataSegment{Mode: wasm.SegmentPassive, Data: data})
	b.dataCount = true
	return uint32(len(b.m.Data.Entries) - 1)
}

// Start sets the module's start function.
func (b *Builder) Start(funcidx uint32) {
	b.m.Start = &wasm.SectionStartFunction{Index: funcidx}
}

// Module returns the assembled module, including a name section.
func (b *Builder) Module() *wasm.Module {
	m := *b.m
	if b.dataCount {
		m.DataCount = &wasm.SectionDataCount{Count: uint32(len(m.Data.Entries))}
	}

	names := wasm.NameSection{}
	if b.name != "" {
		names.Entries = append(names.Entries, &wasm.ModuleNameSubsection{Name: b.name})
	}
	if len(b.names) != 0 {
		names.Entries = append(names.Entries, &wasm.FunctionNamesSubsection{Names: b.names})
	}
	if len(names.Entries) != 0 {
		var buf bytes.Buffer
		if err := names.MarshalWASM(&buf); err != nil {
			panic(err)
		}
		m.Customs = []*wasm.SectionCustom{{Name: wasm.CustomSectionName, Data: buf.Bytes()}}
	}
	return &m
}

// Bytes returns the module's binary encoding.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer
	if err := wasm.EncodeModule(&buf, b.Module()); err != nil {
		panic(fmt.Errorf("encoding module: %w", err))
	}
	return buf.Bytes()
}

// Load encodes the module, then decodes, validates, and resolves it.
func (b *Builder) Load(t testing.TB) *load.Module {
	m, err := load.DecodeBytes(context.Background(), b.Bytes(), nil)
	require.NoError(t, err)
	return m
}
