// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"fmt"
	"io"
	"strings"

	"github.com/pgavlin/tandem/wasm/leb128"
)

// Marshaler is the interface implemented by types that can marshal themselves into the WASM binary format.
type Marshaler interface {
	MarshalWASM(w io.Writer) error
}

// Unmarshaler is the interface implemented by types that can unmarshal themselves from the WASM binary format.
type Unmarshaler interface {
	UnmarshalWASM(r io.Reader) error
}

// ValidationError is returned when a module violates a static constraint.
type ValidationError string

func (e ValidationError) Error() string {
	return "wasm: " + string(e)
}

// ValueType represents the type of a valid value in Wasm.
type ValueType int8

const (
	// ValueTypeT is the wildcard type used by the validator for values of unknown type in unreachable code.
	ValueTypeT       ValueType = 0
	ValueTypeI32     ValueType = -0x01
	ValueTypeI64     ValueType = -0x02
	ValueTypeF32     ValueType = -0x03
	ValueTypeF64     ValueType = -0x04
	ValueTypeFuncRef ValueType = -0x10
)

// ElemTypeFuncRef is the only table element type.
const ElemTypeFuncRef = ValueTypeFuncRef

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeT:
		return "<any>"
	default:
		return fmt.Sprintf("<unknown value_type %d>", int8(t))
	}
}

// IsNumeric returns true if t is one of the four numeric types.
func (t ValueType) IsNumeric() bool {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	}
	return false
}

func (t *ValueType) UnmarshalWASM(r io.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	if b&0x80 != 0 {
		return InvalidValueTypeError(b)
	}
	v := ValueType(int8(b<<1) >> 1)
	switch v {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64, ValueTypeFuncRef:
		*t = v
		return nil
	default:
		return InvalidValueTypeError(b)
	}
}

func (t ValueType) MarshalWASM(w io.Writer) error {
	_, err := w.Write([]byte{byte(t) & 0x7f})
	return err
}

// InvalidValueTypeError is returned when a value type byte is not recognized.
type InvalidValueTypeError byte

func (e InvalidValueTypeError) Error() string {
	return fmt.Sprintf("wasm: invalid value type 0x%02x", byte(e))
}

// TypeFunc is the form byte of a function type.
const TypeFunc = 0x60

// FunctionSig describes the signature of a declared function in a WASM module.
type FunctionSig struct {
	// value for the 'func` type constructor
	Form        int8
	ParamTypes  []ValueType
	ReturnTypes []ValueType
}

// Equals returns true if the two signatures have identical parameter and result types.
func (f FunctionSig) Equals(other FunctionSig) bool {
	if len(f.ParamTypes) != len(other.ParamTypes) || len(f.ReturnTypes) != len(other.ReturnTypes) {
		return false
	}
	for i, t := range f.ParamTypes {
		if other.ParamTypes[i] != t {
			return false
		}
	}
	for i, t := range f.ReturnTypes {
		if other.ReturnTypes[i] != t {
			return false
		}
	}
	return true
}

func (f FunctionSig) String() string {
	var b strings.Builder
	b.WriteString("(func")
	if len(f.ParamTypes) != 0 {
		b.WriteString(" (param")
		for _, t := range f.ParamTypes {
			fmt.Fprintf(&b, " %v", t)
		}
		b.WriteString(")")
	}
	if len(f.ReturnTypes) != 0 {
		b.WriteString(" (result")
		for _, t := range f.ReturnTypes {
			fmt.Fprintf(&b, " %v", t)
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func (f *FunctionSig) UnmarshalWASM(r io.Reader) error {
	form, err := readByte(r)
	if err != nil {
		return err
	}
	if form != TypeFunc {
		return fmt.Errorf("wasm: unknown function form: 0x%02x", form)
	}
	f.Form = int8(form)

	if f.ParamTypes, err = readValueTypes(r); err != nil {
		return err
	}
	f.ReturnTypes, err = readValueTypes(r)
	return err
}

func (f *FunctionSig) MarshalWASM(w io.Writer) error {
	if _, err := w.Write([]byte{TypeFunc}); err != nil {
		return err
	}
	if err := writeValueTypes(w, f.ParamTypes); err != nil {
		return err
	}
	return writeValueTypes(w, f.ReturnTypes)
}

func readValueTypes(r io.Reader) ([]ValueType, error) {
	count, err := leb128.ReadVarUint32(r)
	if err != nil {
		return nil, err
	}
	types := make([]ValueType, 0, getInitialCap(count))
	for i := uint32(0); i < count; i++ {
		var t ValueType
		if err := t.UnmarshalWASM(r); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func writeValueTypes(w io.Writer, types []ValueType) error {
	if _, err := leb128.WriteVarUint32(w, uint32(len(types))); err != nil {
		return err
	}
	for _, t := range types {
		if err := t.MarshalWASM(w); err != nil {
			return err
		}
	}
	return nil
}

// ResizableLimits describe the limit of a table or linear memory.
type ResizableLimits struct {
	Flags   uint8  // 1 if the Maximum field is valid, 0 otherwise
	Initial uint32 // initial length (in units of table elements or wasm pages)
	Maximum uint32 // If flags is 1, it describes the maximum size of the table or memory
}

// HasMaximum returns true if the limits declare a maximum.
func (lim ResizableLimits) HasMaximum() bool {
	return lim.Flags&1 != 0
}

func (lim *ResizableLimits) UnmarshalWASM(r io.Reader) error {
	flags, err := readByte(r)
	if err != nil {
		return err
	}
	if flags > 1 {
		return fmt.Errorf("wasm: invalid limits flags 0x%02x", flags)
	}
	lim.Flags = flags
	if lim.Initial, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	if lim.HasMaximum() {
		lim.Maximum, err = leb128.ReadVarUint32(r)
	}
	return err
}

func (lim *ResizableLimits) MarshalWASM(w io.Writer) error {
	if _, err := w.Write([]byte{lim.Flags}); err != nil {
		return err
	}
	if _, err := leb128.WriteVarUint32(w, lim.Initial); err != nil {
		return err
	}
	if lim.HasMaximum() {
		_, err := leb128.WriteVarUint32(w, lim.Maximum)
		return err
	}
	return nil
}

// Table describes a table in a Wasm module.
type Table struct {
	// The type of elements
	ElementType ValueType
	Limits      ResizableLimits
}

func (t *Table) UnmarshalWASM(r io.Reader) error {
	if err := t.ElementType.UnmarshalWASM(r); err != nil {
		return err
	}
	if t.ElementType != ElemTypeFuncRef {
		return ValidationError("unsupported table element type " + t.ElementType.String())
	}
	return t.Limits.UnmarshalWASM(r)
}

func (t *Table) MarshalWASM(w io.Writer) error {
	if err := t.ElementType.MarshalWASM(w); err != nil {
		return err
	}
	return t.Limits.MarshalWASM(w)
}

// Memory describes a linear memory.
type Memory struct {
	Limits ResizableLimits
}

func (m *Memory) UnmarshalWASM(r io.Reader) error {
	return m.Limits.UnmarshalWASM(r)
}

func (m *Memory) MarshalWASM(w io.Writer) error {
	return m.Limits.MarshalWASM(w)
}

// GlobalVar describes the type and mutability of a declared global variable
type GlobalVar struct {
	Type    ValueType // Type of the value stored by the variable
	Mutable bool      // Whether the value of the variable can be changed by the set_global operator
}

func (g *GlobalVar) UnmarshalWASM(r io.Reader) error {
	if err := g.Type.UnmarshalWASM(r); err != nil {
		return err
	}
	m, err := readByte(r)
	if err != nil {
		return err
	}
	if m > 1 {
		return fmt.Errorf("wasm: invalid global mutability 0x%02x", m)
	}
	g.Mutable = m == 1
	return nil
}

func (g *GlobalVar) MarshalWASM(w io.Writer) error {
	if err := g.Type.MarshalWASM(w); err != nil {
		return err
	}
	var m byte
	if g.Mutable {
		m = 1
	}
	_, err := w.Write([]byte{m})
	return err
}

// External describes the kind of the entry being imported or exported.
type External uint8

const (
	ExternalFunction External = 0
	ExternalTable    External = 1
	ExternalMemory   External = 2
	ExternalGlobal   External = 3
)

func (e External) String() string {
	switch e {
	case ExternalFunction:
		return "function"
	case ExternalTable:
		return "table"
	case ExternalMemory:
		return "memory"
	case ExternalGlobal:
		return "global"
	default:
		return "unknown"
	}
}

func (e *External) UnmarshalWASM(r io.Reader) error {
	b, err := readByte(r)
	if err != nil {
		return err
	}
	if b > byte(ExternalGlobal) {
		return InvalidExternalError(b)
	}
	*e = External(b)
	return nil
}

func (e External) MarshalWASM(w io.Writer) error {
	_, err := w.Write([]byte{byte(e)})
	return err
}
