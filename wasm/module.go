// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pgavlin/tandem/internal/logging"
	"github.com/pgavlin/tandem/wasm/internal/readpos"
	"github.com/pgavlin/tandem/wasm/leb128"
)

var ErrInvalidMagic = errors.New("wasm: magic header not detected")

// ErrUnknownVersion is returned when the binary version is not 1.
var ErrUnknownVersion = errors.New("wasm: unknown binary version")

const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 0x1
)

// DecodeError is returned when a module's bytes violate the binary grammar. Offset is the byte offset
// within the module at which the problem was detected.
type DecodeError struct {
	Section string
	Offset  int64
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wasm: decoding %s section at offset %d: %v", e.Section, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Module represents a parsed WebAssembly module:
// http://webassembly.org/docs/modules/
type Module struct {
	Version  uint32
	Sections []Section

	Types     *SectionTypes
	Import    *SectionImports
	Function  *SectionFunctions
	Table     *SectionTables
	Memory    *SectionMemories
	Global    *SectionGlobals
	Export    *SectionExports
	Start     *SectionStartFunction
	Elements  *SectionElements
	DataCount *SectionDataCount
	Code      *SectionCode
	Data      *SectionData
	Customs   []*SectionCustom
}

// NewModule creates a new empty module
func NewModule() *Module {
	return &Module{
		Version:  Version,
		Types:    &SectionTypes{},
		Import:   &SectionImports{},
		Function: &SectionFunctions{},
		Table:    &SectionTables{},
		Memory:   &SectionMemories{},
		Global:   &SectionGlobals{},
		Export:   &SectionExports{},
		Elements: &SectionElements{},
		Code:     &SectionCode{},
		Data:     &SectionData{},
	}
}

// Names returns the names section. If no names section exists, this function returns a MissingSectionError.
func (m *Module) Names() (*NameSection, error) {
	s := m.Custom(CustomSectionName)
	if s == nil {
		return nil, MissingSectionError(SectionIDCustom)
	}

	var names NameSection
	if err := names.UnmarshalWASM(bytes.NewReader(s.Data)); err != nil {
		return nil, err
	}
	return &names, nil
}

// FunctionNames returns the debug names of the module's functions, if any. Malformed name sections are ignored.
func (m *Module) FunctionNames() map[uint32]string {
	names, err := m.Names()
	if err != nil {
		return nil
	}
	return names.FunctionNames()
}

// Custom returns a custom section with a specific name, if it exists.
func (m *Module) Custom(name string) *SectionCustom {
	for _, s := range m.Customs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ImportCount returns the number of imports of the given kind.
func (m *Module) ImportCount(kind External) int {
	if m.Import == nil {
		return 0
	}
	n := 0
	for _, e := range m.Import.Entries {
		if e.Type.Kind() == kind {
			n++
		}
	}
	return n
}

// FunctionCount returns the size of the function index space, including imports.
func (m *Module) FunctionCount() int {
	n := m.ImportCount(ExternalFunction)
	if m.Function != nil {
		n += len(m.Function.Types)
	}
	return n
}

// FunctionTypeIndex returns the type index of the function at the given index in the function index space.
func (m *Module) FunctionTypeIndex(index uint32) (uint32, bool) {
	if m.Import != nil {
		for _, e := range m.Import.Entries {
			if f, ok := e.Type.(FuncImport); ok {
				if index == 0 {
					return f.Type, true
				}
				index--
			}
		}
	}
	if m.Function == nil || int(index) >= len(m.Function.Types) {
		return 0, false
	}
	return m.Function.Types[index], true
}

// FunctionSignature returns the signature of the function at the given index in the function index space.
func (m *Module) FunctionSignature(index uint32) (FunctionSig, bool) {
	t, ok := m.FunctionTypeIndex(index)
	if !ok || m.Types == nil || int(t) >= len(m.Types.Entries) {
		return FunctionSig{}, false
	}
	return m.Types.Entries[t], true
}

// Tables returns the table index space, including imports.
func (m *Module) Tables() []Table {
	var tables []Table
	if m.Import != nil {
		for _, e := range m.Import.Entries {
			if t, ok := e.Type.(TableImport); ok {
				tables = append(tables, t.Type)
			}
		}
	}
	if m.Table != nil {
		tables = append(tables, m.Table.Entries...)
	}
	return tables
}

// Memories returns the memory index space, including imports.
func (m *Module) Memories() []Memory {
	var mems []Memory
	if m.Import != nil {
		for _, e := range m.Import.Entries {
			if t, ok := e.Type.(MemoryImport); ok {
				mems = append(mems, t.Type)
			}
		}
	}
	if m.Memory != nil {
		mems = append(mems, m.Memory.Entries...)
	}
	return mems
}

// Globals returns the types of the global index space, including imports.
func (m *Module) Globals() []GlobalVar {
	var globals []GlobalVar
	if m.Import != nil {
		for _, e := range m.Import.Entries {
			if t, ok := e.Type.(GlobalVarImport); ok {
				globals = append(globals, t.Type)
			}
		}
	}
	if m.Global != nil {
		for _, g := range m.Global.Globals {
			globals = append(globals, g.Type)
		}
	}
	return globals
}

// DataSegmentCount returns the number of data segments, preferring the data count section when present.
func (m *Module) DataSegmentCount() int {
	if m.DataCount != nil {
		return int(m.DataCount.Count)
	}
	if m.Data != nil {
		return len(m.Data.Entries)
	}
	return 0
}

// DecodeModule decodes a WASM module.
func DecodeModule(r io.Reader) (*Module, error) {
	reader := &readpos.ReadPos{R: r}
	m := &Module{}
	magic, err := readU32(reader)
	if err != nil {
		return nil, &DecodeError{Section: "header", Offset: reader.CurPos, Err: err}
	}
	if magic != Magic {
		return nil, &DecodeError{Section: "header", Offset: 0, Err: ErrInvalidMagic}
	}
	if m.Version, err = readU32(reader); err != nil {
		return nil, &DecodeError{Section: "header", Offset: reader.CurPos, Err: err}
	}
	if m.Version != Version {
		return nil, &DecodeError{Section: "header", Offset: 4, Err: ErrUnknownVersion}
	}

	sr := &sectionsReader{m: m, log: logging.Named("wasm")}
	if err = sr.readSections(reader); err != nil {
		return nil, err
	}

	functions, bodies := 0, 0
	if m.Function != nil {
		functions = len(m.Function.Types)
	}
	if m.Code != nil {
		bodies = len(m.Code.Bodies)
	}
	if functions != bodies {
		return nil, &DecodeError{Section: SectionIDCode.String(), Offset: reader.CurPos,
			Err: errors.New("function and code section have inconsistent lengths")}
	}
	if m.DataCount != nil {
		segments := 0
		if m.Data != nil {
			segments = len(m.Data.Entries)
		}
		if int(m.DataCount.Count) != segments {
			return nil, &DecodeError{Section: SectionIDData.String(), Offset: reader.CurPos,
				Err: errors.New("data count and data section have inconsistent lengths")}
		}
	}

	return m, nil
}

// MustDecode decodes a WASM module and panics on failure.
func MustDecode(r io.Reader) *Module {
	m, err := DecodeModule(r)
	if err != nil {
		panic(fmt.Errorf("decoding module: %w", err))
	}
	return m
}

func isEmpty(s Section) bool {
	switch s := s.(type) {
	case *SectionTypes:
		return s == nil || len(s.Entries) == 0
	case *SectionImports:
		return s == nil || len(s.Entries) == 0
	case *SectionFunctions:
		return s == nil || len(s.Types) == 0
	case *SectionTables:
		return s == nil || len(s.Entries) == 0
	case *SectionMemories:
		return s == nil || len(s.Entries) == 0
	case *SectionGlobals:
		return s == nil || len(s.Globals) == 0
	case *SectionExports:
		return s == nil || len(s.Entries) == 0
	case *SectionStartFunction:
		return s == nil
	case *SectionElements:
		return s == nil || len(s.Entries) == 0
	case *SectionDataCount:
		return s == nil
	case *SectionCode:
		return s == nil || len(s.Bodies) == 0
	case *SectionData:
		return s == nil || len(s.Entries) == 0
	case *SectionCustom:
		return s == nil
	default:
		return true
	}
}

// EncodeModule writes a module in the binary format. Known sections are written in the prescribed order
// followed by any custom sections.
func EncodeModule(w io.Writer, m *Module) error {
	if err := writeU32(w, Magic); err != nil {
		return err
	}
	if err := writeU32(w, Version); err != nil {
		return err
	}

	sections := []Section{m.Types, m.Import, m.Function, m.Table, m.Memory, m.Global, m.Export, m.Start,
		m.Elements, m.DataCount, m.Code, m.Data}
	for _, c := range m.Customs {
		sections = append(sections, c)
	}

	var payload bytes.Buffer
	for _, s := range sections {
		if isEmpty(s) {
			continue
		}
		payload.Reset()
		if err := s.WritePayload(&payload); err != nil {
			return fmt.Errorf("encoding %v section: %w", s.SectionID(), err)
		}
		if _, err := w.Write([]byte{byte(s.SectionID())}); err != nil {
			return err
		}
		if _, err := leb128.WriteVarUint32(w, uint32(payload.Len())); err != nil {
			return err
		}
		if _, err := w.Write(payload.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
