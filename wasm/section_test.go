// Copyright 2020 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/leb128"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModule() *wasm.Module {
	m := wasm.NewModule()
	m.Types.Entries = []wasm.FunctionSig{
		{Form: wasm.TypeFunc, ParamTypes: []wasm.ValueType{wasm.ValueTypeI32}, ReturnTypes: []wasm.ValueType{wasm.ValueTypeI32}},
		{Form: wasm.TypeFunc},
	}
	m.Import.Entries = []wasm.ImportEntry{
		{ModuleName: "env", FieldName: "tick", Type: wasm.FuncImport{Type: 1}},
	}
	m.Function.Types = []uint32{0}
	m.Table.Entries = []wasm.Table{{ElementType: wasm.ElemTypeFuncRef, Limits: wasm.ResizableLimits{Initial: 2}}}
	m.Memory.Entries = []wasm.Memory{{Limits: wasm.ResizableLimits{Flags: 1, Initial: 1, Maximum: 2}}}
	m.Global.Globals = []wasm.GlobalEntry{{
		Type: wasm.GlobalVar{Type: wasm.ValueTypeI64, Mutable: true},
		Init: []byte{0x42, 0x07, 0x0b},
	}}
	m.Export.Entries = []wasm.ExportEntry{{FieldStr: "id", Kind: wasm.ExternalFunction, Index: 1}}
	m.Elements.Entries = []wasm.ElementSegment{
		{Mode: wasm.SegmentActive, Offset: []byte{0x41, 0x00, 0x0b}, Elems: []uint32{1}},
		{Mode: wasm.SegmentPassive, Elems: []uint32{0, 1}},
	}
	m.DataCount = &wasm.SectionDataCount{Count: 2}
	m.Code.Bodies = []wasm.FunctionBody{{
		Locals: []wasm.LocalEntry{{Count: 2, Type: wasm.ValueTypeF64}},
		Code:   []byte{0x20, 0x00, 0x0b},
	}}
	m.Data.Entries = []wasm.DataSegment{
		{Mode: wasm.SegmentActive, Offset: []byte{0x41, 0x10, 0x0b}, Data: []byte("hello")},
		{Mode: wasm.SegmentPassive, Data: []byte("world")},
	}

	var names bytes.Buffer
	ns := wasm.NameSection{Entries: []wasm.NameSubsection{
		&wasm.ModuleNameSubsection{Name: "sample"},
		&wasm.FunctionNamesSubsection{Names: []wasm.Naming{{Index: 1, Name: "id"}}},
	}}
	if err := ns.MarshalWASM(&names); err != nil {
		panic(err)
	}
	m.Customs = []*wasm.SectionCustom{{Name: wasm.CustomSectionName, Data: names.Bytes()}}
	return m
}

func encode(t *testing.T, m *wasm.Module) []byte {
	var buf bytes.Buffer
	require.NoError(t, wasm.EncodeModule(&buf, m))
	return buf.Bytes()
}

func TestModuleRoundTrip(t *testing.T) {
	raw := encode(t, sampleModule())

	m, err := wasm.DecodeModule(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Len(t, m.Types.Entries, 2)
	assert.Equal(t, 2, m.FunctionCount())
	assert.Equal(t, 1, m.ImportCount(wasm.ExternalFunction))

	sig, ok := m.FunctionSignature(1)
	require.True(t, ok)
	assert.Equal(t, "(func (param i32) (result i32))", sig.String())

	require.Len(t, m.Elements.Entries, 2)
	assert.Equal(t, wasm.SegmentPassive, m.Elements.Entries[1].Mode)
	assert.Equal(t, []uint32{0, 1}, m.Elements.Entries[1].Elems)

	require.Len(t, m.Data.Entries, 2)
	assert.Equal(t, wasm.SegmentPassive, m.Data.Entries[1].Mode)
	assert.Equal(t, []byte("world"), m.Data.Entries[1].Data)
	assert.Equal(t, 2, m.DataSegmentCount())

	body := m.Code.Bodies[0]
	assert.Equal(t, []wasm.ValueType{wasm.ValueTypeF64, wasm.ValueTypeF64}, body.LocalTypes())
	assert.Equal(t, []byte{0x20, 0x00, 0x0b}, body.Code)
	assert.Equal(t, body.Code, raw[body.Offset:body.Offset+3])

	assert.Equal(t, map[uint32]string{1: "id"}, m.FunctionNames())

	// Re-encoding a decoded module is stable.
	assert.Equal(t, raw, encode(t, m))
}

func TestSectionCustom(t *testing.T) {
	m, err := wasm.DecodeModule(bytes.NewReader(encode(t, sampleModule())))
	require.NoError(t, err)

	nameCustom := m.Custom("name")
	require.NotNil(t, nameCustom)

	var nSec wasm.NameSection
	require.NoError(t, nSec.UnmarshalWASM(bytes.NewReader(nameCustom.Data)))
	require.Len(t, nSec.Entries, 2)

	var buf bytes.Buffer
	require.NoError(t, nSec.MarshalWASM(&buf))
	assert.Equal(t, nameCustom.Data, buf.Bytes())
}

func header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

func TestDecodeErrors(t *testing.T) {
	badName := append(header(), byte(wasm.SectionIDCustom), 3, 2, 0xc3, 0x28)

	overlong := append(header(), byte(wasm.SectionIDStart), 6, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00)

	outOfOrder := append(header(),
		byte(wasm.SectionIDStart), 1, 0x00,
		byte(wasm.SectionIDType), 1, 0x00)

	shortSection := append(header(), byte(wasm.SectionIDStart), 2, 0x00)

	cases := []struct {
		name    string
		bytes   []byte
		section string
		offset  int64
		err     error
	}{
		{"magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}, "header", 0, wasm.ErrInvalidMagic},
		{"version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}, "header", 4, wasm.ErrUnknownVersion},
		{"utf8", badName, "custom", 13, wasm.ErrInvalidUTF8},
		{"leb128", overlong, "start", 15, leb128.ErrOverflow},
		{"order", outOfOrder, "type", 11, wasm.ErrSectionOrder},
		{"size", shortSection, "start", 11, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := wasm.DecodeModule(bytes.NewReader(c.bytes))
			require.Error(t, err)

			var decodeErr *wasm.DecodeError
			require.True(t, errors.As(err, &decodeErr), "%v", err)
			assert.Equal(t, c.section, decodeErr.Section)
			assert.Equal(t, c.offset, decodeErr.Offset)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
			}
		})
	}
}

func TestFunctionBodyMissingEnd(t *testing.T) {
	m := sampleModule()
	m.Code.Bodies[0].Code = []byte{0x20, 0x00}
	_, err := wasm.DecodeModule(bytes.NewReader(encode(t, m)))
	assert.ErrorIs(t, err, wasm.ErrFunctionNoEnd)
}
