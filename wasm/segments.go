// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"fmt"
	"io"

	"github.com/pgavlin/tandem/wasm/leb128"
)

// SegmentMode describes when a data or element segment is applied.
type SegmentMode uint8

const (
	// SegmentActive segments are copied into a memory or table during instantiation.
	SegmentActive SegmentMode = iota
	// SegmentPassive segments are copied at run time by memory.init or table.init.
	SegmentPassive
	// SegmentDeclarative element segments only forward-declare references for ref.func.
	SegmentDeclarative
)

func (m SegmentMode) String() string {
	switch m {
	case SegmentActive:
		return "active"
	case SegmentPassive:
		return "passive"
	case SegmentDeclarative:
		return "declarative"
	default:
		return "unknown"
	}
}

// UnsupportedSegmentError is returned for segment encodings outside the supported set.
type UnsupportedSegmentError struct {
	Kind  string
	Flags uint32
}

func (e *UnsupportedSegmentError) Error() string {
	return fmt.Sprintf("wasm: unsupported %s segment flags 0x%x", e.Kind, e.Flags)
}

// SectionElements describes the initial contents of a table's elements.
type SectionElements struct {
	RawSection
	Entries []ElementSegment
}

func (*SectionElements) SectionID() SectionID {
	return SectionIDElement
}

func (s *SectionElements) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[ElementSegment](r)
	return err
}

func (s *SectionElements) WritePayload(w io.Writer) error {
	return writeVector(w, s.Entries)
}

// ElementSegment describes a list of function indices that initialize a table region, either at
// instantiation (active) or on demand (passive).
type ElementSegment struct {
	Mode   SegmentMode
	Index  uint32 // The index of the target table for active segments.
	Offset []byte // For active segments, a constant expression that computes the i32 start offset.
	Elems  []uint32
}

func (s *ElementSegment) UnmarshalWASM(r io.Reader) error {
	flags, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}

	switch flags {
	case 0:
		s.Mode = SegmentActive
		if s.Offset, err = readInitExpr(r); err != nil {
			return err
		}
	case 1, 3:
		s.Mode = SegmentPassive
		if flags == 3 {
			s.Mode = SegmentDeclarative
		}
		if err = readElemKind(r); err != nil {
			return err
		}
	case 2:
		s.Mode = SegmentActive
		if s.Index, err = leb128.ReadVarUint32(r); err != nil {
			return err
		}
		if s.Offset, err = readInitExpr(r); err != nil {
			return err
		}
		if err = readElemKind(r); err != nil {
			return err
		}
	default:
		return &UnsupportedSegmentError{Kind: "element", Flags: flags}
	}

	s.Elems, err = readIndices(r)
	return err
}

func readElemKind(r io.Reader) error {
	kind, err := readByte(r)
	if err != nil {
		return err
	}
	if kind != 0 {
		return fmt.Errorf("wasm: unsupported element kind 0x%02x", kind)
	}
	return nil
}

func (s *ElementSegment) MarshalWASM(w io.Writer) error {
	var flags uint32
	switch {
	case s.Mode == SegmentPassive:
		flags = 1
	case s.Mode == SegmentDeclarative:
		flags = 3
	case s.Index != 0:
		flags = 2
	}
	if _, err := leb128.WriteVarUint32(w, flags); err != nil {
		return err
	}
	if flags == 2 {
		if _, err := leb128.WriteVarUint32(w, s.Index); err != nil {
			return err
		}
	}
	if flags == 0 || flags == 2 {
		if _, err := w.Write(s.Offset); err != nil {
			return err
		}
	}
	if flags != 0 {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return writeIndices(w, s.Elems)
}

// SectionData describes the initial values of a module's linear memory
type SectionData struct {
	RawSection
	Entries []DataSegment
}

func (*SectionData) SectionID() SectionID {
	return SectionIDData
}

func (s *SectionData) ReadPayload(r io.Reader) (err error) {
	s.Entries, err = readVector[DataSegment](r)
	return err
}

func (s *SectionData) WritePayload(w io.Writer) error {
	return writeVector(w, s.Entries)
}

// DataSegment describes bytes that initialize a region of linear memory, either at instantiation
// (active) or on demand via memory.init (passive).
type DataSegment struct {
	Mode   SegmentMode
	Index  uint32 // The index of the target memory for active segments.
	Offset []byte // For active segments, a constant expression that computes the i32 start offset.
	Data   []byte
}

func (s *DataSegment) UnmarshalWASM(r io.Reader) error {
	flags, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}

	switch flags {
	case 0:
		s.Mode = SegmentActive
	case 1:
		s.Mode = SegmentPassive
	case 2:
		s.Mode = SegmentActive
		if s.Index, err = leb128.ReadVarUint32(r); err != nil {
			return err
		}
	default:
		return &UnsupportedSegmentError{Kind: "data", Flags: flags}
	}
	if s.Mode == SegmentActive {
		if s.Offset, err = readInitExpr(r); err != nil {
			return err
		}
	}
	s.Data, err = readBytesUint(r)
	return err
}

func (s *DataSegment) MarshalWASM(w io.Writer) error {
	var flags uint32
	switch {
	case s.Mode == SegmentPassive:
		flags = 1
	case s.Index != 0:
		flags = 2
	}
	if _, err := leb128.WriteVarUint32(w, flags); err != nil {
		return err
	}
	if flags == 2 {
		if _, err := leb128.WriteVarUint32(w, s.Index); err != nil {
			return err
		}
	}
	if flags != 1 {
		if _, err := w.Write(s.Offset); err != nil {
			return err
		}
	}
	return writeBytesUint(w, s.Data)
}
