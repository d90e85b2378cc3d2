package validate

import (
	"testing"

	"github.com/pgavlin/tandem/wasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseModule() *wasm.Module {
	m := wasm.NewModule()
	m.Types.Entries = []wasm.FunctionSig{
		{Form: wasm.TypeFunc, ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32}},
		{Form: wasm.TypeFunc},
	}
	m.Import.Entries = []wasm.ImportEntry{
		{ModuleName: "env", FieldName: "g", Type: wasm.GlobalVarImport{Type: wasm.GlobalVar{Type: wasm.ValueTypeI32}}},
	}
	m.Function.Types = []uint32{0, 1}
	m.Code.Bodies = []wasm.FunctionBody{
		{Code: []byte{0x41, 0x2a, 0x0b}},
		{Code: []byte{0x0b}},
	}
	m.Memory.Entries = []wasm.Memory{{Limits: wasm.ResizableLimits{Flags: 1, Initial: 1, Maximum: 2}}}
	m.Table.Entries = []wasm.Table{{ElementType: wasm.ElemTypeFuncRef, Limits: wasm.ResizableLimits{Initial: 1}}}
	m.Global.Globals = []wasm.GlobalEntry{{Type: wasm.GlobalVar{Type: wasm.ValueTypeI32}, Init: []byte{0x23, 0x00, 0x0b}}}
	m.Export.Entries = []wasm.ExportEntry{{FieldStr: "answer", Kind: wasm.ExternalFunction, Index: 0}}
	m.Elements.Entries = []wasm.ElementSegment{{Mode: wasm.SegmentActive, Offset: []byte{0x41, 0x00, 0x0b}, Elems: []uint32{1}}}
	m.Data.Entries = []wasm.DataSegment{{Mode: wasm.SegmentActive, Offset: []byte{0x41, 0x00, 0x0b}, Data: []byte("hi")}}
	m.Start = &wasm.SectionStartFunction{Index: 1}
	return m
}

func TestValidModule(t *testing.T) {
	require.NoError(t, ValidateModule(baseModule(), true))
}

func TestInvalidModules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m *wasm.Module)
	}{
		{"limits", func(m *wasm.Module) { m.Memory.Entries[0].Limits.Initial = 3 }},
		{"pages", func(m *wasm.Module) {
			m.Memory.Entries[0].Limits = wasm.ResizableLimits{Initial: MaxPages + 1}
		}},
		{"multiple memories", func(m *wasm.Module) {
			m.Memory.Entries = append(m.Memory.Entries, wasm.Memory{})
		}},
		{"unknown type", func(m *wasm.Module) { m.Function.Types[0] = 9 }},
		{"body type", func(m *wasm.Module) { m.Code.Bodies[0].Code = []byte{0x42, 0x00, 0x0b} }},
		{"function count", func(m *wasm.Module) { m.Code.Bodies = m.Code.Bodies[:1] }},
		{"start signature", func(m *wasm.Module) { m.Start.Index = 0 }},
		{"start unknown", func(m *wasm.Module) { m.Start.Index = 7 }},
		{"duplicate export", func(m *wasm.Module) {
			m.Export.Entries = append(m.Export.Entries, wasm.ExportEntry{FieldStr: "answer", Kind: wasm.ExternalMemory})
		}},
		{"export memory", func(m *wasm.Module) {
			m.Export.Entries[0] = wasm.ExportEntry{FieldStr: "mem", Kind: wasm.ExternalMemory, Index: 1}
		}},
		{"element function", func(m *wasm.Module) { m.Elements.Entries[0].Elems = []uint32{5} }},
		{"element table", func(m *wasm.Module) { m.Elements.Entries[0].Index = 1 }},
		{"data memory", func(m *wasm.Module) { m.Data.Entries[0].Index = 1 }},
		{"data count", func(m *wasm.Module) { m.DataCount = &wasm.SectionDataCount{Count: 2} }},
		{"mutable global init", func(m *wasm.Module) {
			m.Import.Entries[0].Type = wasm.GlobalVarImport{Type: wasm.GlobalVar{Type: wasm.ValueTypeI32, Mutable: true}}
		}},
		{"non-constant init", func(m *wasm.Module) { m.Global.Globals[0].Init = []byte{0x41, 0x01, 0x41, 0x01, 0x6a, 0x0b} }},
		{"init refers to defined global", func(m *wasm.Module) {
			m.Global.Globals = append(m.Global.Globals, wasm.GlobalEntry{
				Type: wasm.GlobalVar{Type: wasm.ValueTypeI32},
				Init: []byte{0x23, 0x01, 0x0b},
			})
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := baseModule()
			c.mutate(m)
			assert.Error(t, ValidateModule(m, true))
		})
	}
}

func TestSkipCode(t *testing.T) {
	m := baseModule()
	m.Code.Bodies[0].Code = []byte{0x42, 0x00, 0x0b}
	assert.NoError(t, ValidateModule(m, false))
}
