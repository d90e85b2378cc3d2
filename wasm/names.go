// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pgavlin/tandem/wasm/leb128"
)

// CustomSectionName is the name of the custom section that carries debug names.
const CustomSectionName = "name"

var (
	_ Marshaler   = (*NameSection)(nil)
	_ Unmarshaler = (*NameSection)(nil)
)

// NameType is the type of name subsection.
type NameType byte

const (
	NameModule   = NameType(0)
	NameFunction = NameType(1)
	NameLocal    = NameType(2)
)

type NameSubsection interface {
	Marshaler
	Unmarshaler

	Type() NameType
}

type ModuleNameSubsection struct {
	Name string
}

func (s *ModuleNameSubsection) Type() NameType {
	return NameModule
}

func (s *ModuleNameSubsection) UnmarshalWASM(r io.Reader) (err error) {
	s.Name, err = readUTF8StringUint(r)
	return err
}

func (s *ModuleNameSubsection) MarshalWASM(w io.Writer) error {
	return writeStringUint(w, s.Name)
}

// Naming associates a name with an index.
type Naming struct {
	Index uint32
	Name  string
}

func (n *Naming) UnmarshalWASM(r io.Reader) (err error) {
	if n.Index, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	n.Name, err = readUTF8StringUint(r)
	return err
}

func (n *Naming) MarshalWASM(w io.Writer) error {
	if _, err := leb128.WriteVarUint32(w, n.Index); err != nil {
		return err
	}
	return writeStringUint(w, n.Name)
}

type FunctionNamesSubsection struct {
	Names []Naming
}

func (s *FunctionNamesSubsection) Type() NameType {
	return NameFunction
}

func (s *FunctionNamesSubsection) UnmarshalWASM(r io.Reader) (err error) {
	s.Names, err = readVector[Naming](r)
	return err
}

func (s *FunctionNamesSubsection) MarshalWASM(w io.Writer) error {
	return writeVector(w, s.Names)
}

// LocalNames holds the local names of a single function.
type LocalNames struct {
	Index uint32
	Names []Naming
}

func (l *LocalNames) UnmarshalWASM(r io.Reader) (err error) {
	if l.Index, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	l.Names, err = readVector[Naming](r)
	return err
}

func (l *LocalNames) MarshalWASM(w io.Writer) error {
	if _, err := leb128.WriteVarUint32(w, l.Index); err != nil {
		return err
	}
	return writeVector(w, l.Names)
}

type LocalNamesSubsection struct {
	Funcs []LocalNames
}

func (s *LocalNamesSubsection) Type() NameType {
	return NameLocal
}

func (s *LocalNamesSubsection) UnmarshalWASM(r io.Reader) (err error) {
	s.Funcs, err = readVector[LocalNames](r)
	return err
}

func (s *LocalNamesSubsection) MarshalWASM(w io.Writer) error {
	return writeVector(w, s.Funcs)
}

// NameSection is a custom section that stores names of modules, functions and locals for debugging purposes.
// See https://github.com/WebAssembly/design/blob/master/BinaryEncoding.md#name-section for more details.
type NameSection struct {
	Entries []NameSubsection
}

func (s *NameSection) UnmarshalWASM(r io.Reader) error {
	var entries []NameSubsection
	for {
		typ, err := readByte(r)
		if err == io.EOF {
			s.Entries = entries
			return nil
		} else if err != nil {
			return err
		}

		payload, err := readBytesUint(r)
		if err != nil {
			return err
		}

		var sub NameSubsection
		switch NameType(typ) {
		case NameModule:
			sub = &ModuleNameSubsection{}
		case NameFunction:
			sub = &FunctionNamesSubsection{}
		case NameLocal:
			sub = &LocalNamesSubsection{}
		default:
			// Unknown subsections (labels, types, ...) are skipped.
			continue
		}

		if err = sub.UnmarshalWASM(bytes.NewReader(payload)); err != nil {
			return fmt.Errorf("name subsection %d: %w", typ, err)
		}
		entries = append(entries, sub)
	}
}

func (s *NameSection) MarshalWASM(w io.Writer) error {
	for _, sub := range s.Entries {
		var buf bytes.Buffer
		if err := sub.MarshalWASM(&buf); err != nil {
			return err
		}
		if _, err := w.Write([]byte{byte(sub.Type())}); err != nil {
			return err
		}
		if err := writeBytesUint(w, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// FunctionNames returns the function names recorded in the section, keyed by function index.
func (s *NameSection) FunctionNames() map[uint32]string {
	names := map[uint32]string{}
	for _, sub := range s.Entries {
		if fn, ok := sub.(*FunctionNamesSubsection); ok {
			for _, n := range fn.Names {
				names[n.Index] = n.Name
			}
		}
	}
	return names
}

// ModuleName returns the module name recorded in the section, or the empty string.
func (s *NameSection) ModuleName() string {
	for _, sub := range s.Entries {
		if m, ok := sub.(*ModuleNameSubsection); ok {
			return m.Name
		}
	}
	return ""
}
