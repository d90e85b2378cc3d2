// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pgavlin/tandem/wasm/internal/readpos"
	"github.com/pgavlin/tandem/wasm/leb128"
	"go.uber.org/zap"
)

// Section is a generic WASM section interface.
type Section interface {
	// SectionID returns a section ID for WASM encoding. Should be unique across types.
	SectionID() SectionID
	// GetRawSection Returns an embedded RawSection pointer to populate generic fields.
	GetRawSection() *RawSection
	// ReadPayload reads a section payload, assuming the size was already read, and reader is limited to it.
	ReadPayload(r io.Reader) error
	// WritePayload writes a section payload without the size.
	WritePayload(w io.Writer) error
}

// SectionID is a 1-byte code that encodes the section code of both known and custom sections.
type SectionID uint8

const (
	SectionIDCustom    SectionID = 0
	SectionIDType      SectionID = 1
	SectionIDImport    SectionID = 2
	SectionIDFunction  SectionID = 3
	SectionIDTable     SectionID = 4
	SectionIDMemory    SectionID = 5
	SectionIDGlobal    SectionID = 6
	SectionIDExport    SectionID = 7
	SectionIDStart     SectionID = 8
	SectionIDElement   SectionID = 9
	SectionIDCode      SectionID = 10
	SectionIDData      SectionID = 11
	SectionIDDataCount SectionID = 12
)

var sectionNames = [...]string{
	SectionIDCustom:    "custom",
	SectionIDType:      "type",
	SectionIDImport:    "import",
	SectionIDFunction:  "function",
	SectionIDTable:     "table",
	SectionIDMemory:    "memory",
	SectionIDGlobal:    "global",
	SectionIDExport:    "export",
	SectionIDStart:     "start",
	SectionIDElement:   "element",
	SectionIDCode:      "code",
	SectionIDData:      "data",
	SectionIDDataCount: "data count",
}

func (s SectionID) String() string {
	if int(s) < len(sectionNames) {
		return sectionNames[s]
	}
	return "unknown"
}

// order returns the position of a non-custom section in the prescribed section order. The data count
// section sits between the element and code sections.
func (s SectionID) order() int {
	switch s {
	case SectionIDDataCount:
		return int(SectionIDCode)
	case SectionIDCode, SectionIDData:
		return int(s) + 1
	default:
		return int(s)
	}
}

// RawSection is a declared section in a WASM module.
type RawSection struct {
	Start int64
	End   int64

	ID    SectionID
	Bytes []byte
}

func (s *RawSection) SectionID() SectionID {
	return s.ID
}

func (s *RawSection) GetRawSection() *RawSection {
	return s
}

type InvalidSectionIDError SectionID

func (e InvalidSectionIDError) Error() string {
	return fmt.Sprintf("wasm: malformed section id %d", uint8(e))
}

type InvalidExternalError uint8

func (e InvalidExternalError) Error() string {
	return fmt.Sprintf("wasm: invalid external_kind value %d", uint8(e))
}

type MissingSectionError SectionID

func (e MissingSectionError) Error() string {
	return fmt.Sprintf("wasm: missing section %s", SectionID(e).String())
}

// ErrSectionOrder is returned when a non-custom section is duplicated or out of order.
var ErrSectionOrder = errors.New("wasm: sections must occur at most once and in the prescribed order")

// ErrSectionSize is returned when a section's payload does not match its declared size.
var ErrSectionSize = errors.New("wasm: section size mismatch")

type sectionsReader struct {
	lastOrder int
	m         *Module
	log       *zap.Logger
}

func (sr *sectionsReader) readSections(r *readpos.ReadPos) error {
	for {
		done, err := sr.readSection(r)
		switch {
		case err != nil:
			return err
		case done:
			return nil
		}
	}
}

func (sr *sectionsReader) newSection(id SectionID) (Section, error) {
	m := sr.m
	switch id {
	case SectionIDCustom:
		cs := &SectionCustom{}
		m.Customs = append(m.Customs, cs)
		return cs, nil
	case SectionIDType:
		m.Types = &SectionTypes{}
		return m.Types, nil
	case SectionIDImport:
		m.Import = &SectionImports{}
		return m.Import, nil
	case SectionIDFunction:
		m.Function = &SectionFunctions{}
		return m.Function, nil
	case SectionIDTable:
		m.Table = &SectionTables{}
		return m.Table, nil
	case SectionIDMemory:
		m.Memory = &SectionMemories{}
		return m.Memory, nil
	case SectionIDGlobal:
		m.Global = &SectionGlobals{}
		return m.Global, nil
	case SectionIDExport:
		m.Export = &SectionExports{}
		return m.Export, nil
	case SectionIDStart:
		m.Start = &SectionStartFunction{}
		return m.Start, nil
	case SectionIDElement:
		m.Elements = &SectionElements{}
		return m.Elements, nil
	case SectionIDDataCount:
		m.DataCount = &SectionDataCount{}
		return m.DataCount, nil
	case SectionIDCode:
		m.Code = &SectionCode{}
		return m.Code, nil
	case SectionIDData:
		m.Data = &SectionData{}
		return m.Data, nil
	default:
		return nil, InvalidSectionIDError(id)
	}
}

// readSection reads a single section from r. The first return value is true if and only if
// the module has been completely read.
func (sr *sectionsReader) readSection(r *readpos.ReadPos) (bool, error) {
	start := r.CurPos
	b, err := r.ReadByte()
	if err == io.EOF {
		return true, nil
	} else if err != nil {
		return false, &DecodeError{Section: "header", Offset: start, Err: err}
	}
	id := SectionID(b)

	fail := func(offset int64, err error) (bool, error) {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return false, &DecodeError{Section: id.String(), Offset: offset, Err: err}
	}

	if id != SectionIDCustom {
		if id > SectionIDDataCount {
			return fail(start, InvalidSectionIDError(id))
		}
		if id.order() <= sr.lastOrder {
			return fail(start, ErrSectionOrder)
		}
		sr.lastOrder = id.order()
	}

	size, err := leb128.ReadVarUint32(r)
	if err != nil {
		return fail(r.CurPos, err)
	}
	sr.log.Debug("reading section", zap.Stringer("id", id), zap.Uint32("size", size), zap.Int64("offset", r.CurPos))

	s := RawSection{ID: id, Start: r.CurPos}

	var payload bytes.Buffer
	payload.Grow(int(getInitialCap(size)))
	sectionReader := &readpos.ReadPos{
		R:      io.LimitReader(io.TeeReader(r, &payload), int64(size)),
		CurPos: s.Start,
	}

	sec, err := sr.newSection(id)
	if err != nil {
		return fail(start, err)
	}
	if err = sec.ReadPayload(sectionReader); err != nil {
		return fail(sectionReader.CurPos, err)
	}
	if sectionReader.CurPos != s.Start+int64(size) {
		return fail(sectionReader.CurPos, ErrSectionSize)
	}

	s.End = r.CurPos
	s.Bytes = payload.Bytes()
	*sec.GetRawSection() = s
	sr.m.Sections = append(sr.m.Sections, sec)
	return false, nil
}

// readVector reads a length-prefixed vector of values that know how to unmarshal themselves.
func readVector[T any, P interface {
	*T
	Unmarshaler
}](r io.Reader) ([]T, error) {
	count, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, getInitialCap(count))
	for i := uint32(0); i < count; i++ {
		var v T
		if err := P(&v).UnmarshalWASM(r); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func writeVector[T any, P interface {
	*T
	Marshaler
}](w io.Writer, items []T) error {
	if _, err := leb128.WriteVarUint32(w, uint32(len(items))); err != nil {
		return err
	}
	for i := range items {
		if err := P(&items[i]).MarshalWASM(w); err != nil {
			return err
		}
	}
	return nil
}

func readIndices(r io.Reader) ([]uint32, error) {
	count, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	indices := make([]uint32, 0, getInitialCap(count))
	for i := uint32(0); i < count; i++ {
		x, err := leb128.ReadVarUint32(r)
		if err != nil {
			return nil, err
		}
		indices = append(indices, x)
	}
	return indices, nil
}

func writeIndices(w io.Writer, indices []uint32) error {
	if _, err := leb128.WriteVarUint32(w, uint32(len(indices))); err != nil {
		return err
	}
	for _, x := range indices {
		if _, err := leb128.WriteVarUint32(w, x); err != nil {
			return err
		}
	}
	return nil
}

var _ Section = (*SectionCustom)(nil)

// SectionCustom holds the name and raw payload of a custom section.
type SectionCustom struct {
	RawSection
	Name string
	Data []byte
}

func (s *SectionCustom) SectionID() SectionID {
	return SectionIDCustom
}

func (s *SectionCustom) ReadPayload(r io.Reader) error {
	var err error
	if s.Name, err = readUTF8StringUint(r); err != nil {
		return err
	}
	s.Data, err = io.ReadAll(r)
	return err
}

func (s *SectionCustom) WritePayload(w io.Writer) error {
	if err := writeStringUint(w, s.Name); err != nil {
		return err
	}
	_, err := w.Write(s.Data)
	return err
}

// SectionTypes declares all function signatures that will be used in a module.
type SectionTypes struct {
	RawSection
	Entries []FunctionSig
}

func (*SectionTypes) SectionID() SectionID {
	return SectionIDType
}

func (s *SectionTypes) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[FunctionSig](r)
	return err
}

func (s *SectionTypes) WritePayload(w io.Writer) error {
	return writeVector(w, s.Entries)
}

// SectionImports declares all imports that will be used in the module.
type SectionImports struct {
	RawSection
	Entries []ImportEntry
}

func (*SectionImports) SectionID() SectionID {
	return SectionIDImport
}

func (s *SectionImports) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[ImportEntry](r)
	return err
}

func (s *SectionImports) WritePayload(w io.Writer) error {
	return writeVector(w, s.Entries)
}

// SectionFunctions declares the signature of all functions defined in the module (in the code section)
type SectionFunctions struct {
	RawSection
	// Sequences of indices into (SectionTypes).Entries
	Types []uint32
}

func (*SectionFunctions) SectionID() SectionID {
	return SectionIDFunction
}

func (s *SectionFunctions) ReadPayload(r io.Reader) (err error) {
	s.Types, err = readIndices(r)
	return err
}

func (s *SectionFunctions) WritePayload(w io.Writer) error {
	return writeIndices(w, s.Types)
}

// SectionTables describes all tables declared by a module.
type SectionTables struct {
	RawSection
	Entries []Table
}

func (*SectionTables) SectionID() SectionID {
	return SectionIDTable
}

func (s *SectionTables) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[Table](r)
	return err
}

func (s *SectionTables) WritePayload(w io.Writer) error {
	return writeVector(w, s.Entries)
}

// SectionMemories describes all linear memories used by a module.
type SectionMemories struct {
	RawSection
	Entries []Memory
}

func (*SectionMemories) SectionID() SectionID {
	return SectionIDMemory
}

func (s *SectionMemories) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[Memory](r)
	return err
}

func (s *SectionMemories) WritePayload(w io.Writer) error {
	return writeVector(w, s.Entries)
}

// SectionGlobals defines the value of all global variables declared in a module.
type SectionGlobals struct {
	RawSection
	Globals []GlobalEntry
}

func (*SectionGlobals) SectionID() SectionID {
	return SectionIDGlobal
}

func (s *SectionGlobals) ReadPayload(r io.Reader) (err error) {
	s.Globals, err = readVector[GlobalEntry](r)
	return err
}

func (s *SectionGlobals) WritePayload(w io.Writer) error {
	return writeVector(w, s.Globals)
}

// GlobalEntry declares a global variable.
type GlobalEntry struct {
	Type GlobalVar // Type holds information about the value type and mutability of the variable
	Init []byte    // Init is a constant expression, including its end opcode
}

func (g *GlobalEntry) UnmarshalWASM(r io.Reader) error {
	if err := g.Type.UnmarshalWASM(r); err != nil {
		return err
	}
	var err error
	g.Init, err = readInitExpr(r)
	return err
}

func (g *GlobalEntry) MarshalWASM(w io.Writer) error {
	if err := g.Type.MarshalWASM(w); err != nil {
		return err
	}
	_, err := w.Write(g.Init)
	return err
}

// SectionExports declares the export section of a module
type SectionExports struct {
	RawSection
	Entries []ExportEntry
}

func (*SectionExports) SectionID() SectionID {
	return SectionIDExport
}

func (s *SectionExports) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[ExportEntry](r)
	return err
}

func (s *SectionExports) WritePayload(w io.Writer) error {
	entries := append([]ExportEntry(nil), s.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Index == entries[j].Index {
			return entries[i].FieldStr < entries[j].FieldStr
		}
		return entries[i].Index < entries[j].Index
	})
	return writeVector(w, entries)
}

type DuplicateExportError string

func (e DuplicateExportError) Error() string {
	return fmt.Sprintf("wasm: duplicate export name %q", string(e))
}

// ExportEntry represents an exported entry by the module
type ExportEntry struct {
	FieldStr string
	Kind     External
	Index    uint32
}

func (e *ExportEntry) UnmarshalWASM(r io.Reader) error {
	var err error
	if e.FieldStr, err = readUTF8StringUint(r); err != nil {
		return err
	}
	if err = e.Kind.UnmarshalWASM(r); err != nil {
		return err
	}
	e.Index, err = leb128.ReadVarUint32(r)
	return err
}

func (e *ExportEntry) MarshalWASM(w io.Writer) error {
	if err := writeStringUint(w, e.FieldStr); err != nil {
		return err
	}
	if err := e.Kind.MarshalWASM(w); err != nil {
		return err
	}
	_, err := leb128.WriteVarUint32(w, e.Index)
	return err
}

// SectionStartFunction represents the start function section.
type SectionStartFunction struct {
	RawSection
	Index uint32 // The index of the start function into the global index space.
}

func (*SectionStartFunction) SectionID() SectionID {
	return SectionIDStart
}

func (s *SectionStartFunction) ReadPayload(r io.Reader) (err error) {
	s.Index, err = leb128.ReadVarUint32(r)
	return err
}

func (s *SectionStartFunction) WritePayload(w io.Writer) error {
	_, err := leb128.WriteVarUint32(w, s.Index)
	return err
}

// SectionDataCount declares the number of data segments so that code can refer to them before the data section.
type SectionDataCount struct {
	RawSection
	Count uint32
}

func (*SectionDataCount) SectionID() SectionID {
	return SectionIDDataCount
}

func (s *SectionDataCount) ReadPayload(r io.Reader) (err error) {
	s.Count, err = leb128.ReadVarUint32(r)
	return err
}

func (s *SectionDataCount) WritePayload(w io.Writer) error {
	_, err := leb128.WriteVarUint32(w, s.Count)
	return err
}

// SectionCode describes the body for every function declared inside a module.
type SectionCode struct {
	RawSection
	Bodies []FunctionBody
}

func (*SectionCode) SectionID() SectionID {
	return SectionIDCode
}

func (s *SectionCode) ReadPayload(r io.Reader) error {
	count, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}
	s.Bodies = make([]FunctionBody, 0, getInitialCap(count))
	for i := uint32(0); i < count; i++ {
		var body FunctionBody
		if err = body.UnmarshalWASM(r); err != nil {
			return fmt.Errorf("function body %d: %w", i, err)
		}
		s.Bodies = append(s.Bodies, body)
	}
	return nil
}

func (s *SectionCode) WritePayload(w io.Writer) error {
	return writeVector(w, s.Bodies)
}

// ErrFunctionNoEnd is returned when a function body does not end with an end opcode.
var ErrFunctionNoEnd = errors.New("wasm: function body does not end with 0x0b (end)")

// ErrTooManyLocals is returned when a function declares more locals than can be addressed.
var ErrTooManyLocals = errors.New("wasm: too many locals")

// FunctionBody holds the locals and raw instruction bytes of a module-defined function.
type FunctionBody struct {
	Locals []LocalEntry
	Code   []byte

	// Offset is the byte offset of Code within the module, or 0 if the body was not decoded from a module.
	Offset int64
}

// LocalTypes expands the body's local declarations into one type per local.
func (f *FunctionBody) LocalTypes() []ValueType {
	var types []ValueType
	for _, l := range f.Locals {
		for i := uint32(0); i < l.Count; i++ {
			types = append(types, l.Type)
		}
	}
	return types
}

func (f *FunctionBody) UnmarshalWASM(r io.Reader) error {
	size, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}
	var start int64
	if rp, ok := r.(*readpos.ReadPos); ok {
		start = rp.CurPos
	}

	body, err := readBytes(r, size)
	if err != nil {
		return err
	}
	br := bytes.NewReader(body)
	if f.Locals, err = readVector[LocalEntry](br); err != nil {
		return err
	}

	var total uint64
	for _, l := range f.Locals {
		total += uint64(l.Count)
	}
	if total > 50000 {
		return ErrTooManyLocals
	}

	f.Code = body[len(body)-br.Len():]
	if start != 0 {
		f.Offset = start + int64(len(body)-br.Len())
	}
	if len(f.Code) == 0 || f.Code[len(f.Code)-1] != 0x0b {
		return ErrFunctionNoEnd
	}
	return nil
}

func (f *FunctionBody) MarshalWASM(w io.Writer) error {
	var body bytes.Buffer
	if err := writeVector(&body, f.Locals); err != nil {
		return err
	}
	body.Write(f.Code)
	return writeBytesUint(w, body.Bytes())
}

// LocalEntry declares a run of locals that share a type.
type LocalEntry struct {
	Count uint32    // The total number of local variables of the given Type used in the function body
	Type  ValueType // The type of value stored by the variable
}

func (l *LocalEntry) UnmarshalWASM(r io.Reader) error {
	var err error
	if l.Count, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	if err = l.Type.UnmarshalWASM(r); err != nil {
		return err
	}
	if !l.Type.IsNumeric() && l.Type != ValueTypeFuncRef {
		return InvalidValueTypeError(byte(l.Type) & 0x7f)
	}
	return nil
}

func (l *LocalEntry) MarshalWASM(w io.Writer) error {
	if _, err := leb128.WriteVarUint32(w, l.Count); err != nil {
		return err
	}
	return l.Type.MarshalWASM(w)
}
