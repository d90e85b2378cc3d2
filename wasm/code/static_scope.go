package code

import "github.com/pgavlin/tandem/wasm"

// StaticScope is a Scope backed by a decoded module. SetFunction selects the function whose locals are visible.
type StaticScope struct {
	module *wasm.Module

	ImportedFunctions []uint32
	Globals           []wasm.GlobalVar

	Tables   int
	Memories int
	Data     int
	Elems    int

	Locals []wasm.ValueType
}

func NewStaticScope(m *wasm.Module) *StaticScope {
	s := StaticScope{
		module:   m,
		Globals:  m.Globals(),
		Tables:   len(m.Tables()),
		Memories: len(m.Memories()),
		Data:     m.DataSegmentCount(),
	}
	if m.Import != nil {
		for _, i := range m.Import.Entries {
			if f, ok := i.Type.(wasm.FuncImport); ok {
				s.ImportedFunctions = append(s.ImportedFunctions, f.Type)
			}
		}
	}
	if m.Elements != nil {
		s.Elems = len(m.Elements.Entries)
	}
	return &s
}

// Clone returns a copy of the scope that can select a function independently of the original.
func (s *StaticScope) Clone() *StaticScope {
	c := *s
	c.Locals = nil
	return &c
}

func (s *StaticScope) GetLocalType(localidx uint32) (wasm.ValueType, bool) {
	if localidx >= uint32(len(s.Locals)) {
		return 0, false
	}
	return s.Locals[int(localidx)], true
}

func (s *StaticScope) GetGlobalType(globalidx uint32) (wasm.GlobalVar, bool) {
	if globalidx >= uint32(len(s.Globals)) {
		return wasm.GlobalVar{}, false
	}
	return s.Globals[int(globalidx)], true
}

func (s *StaticScope) GetFunctionSignature(funcidx uint32) (wasm.FunctionSig, bool) {
	if funcidx < uint32(len(s.ImportedFunctions)) {
		return s.GetType(s.ImportedFunctions[int(funcidx)])
	}
	funcidx -= uint32(len(s.ImportedFunctions))
	if s.module.Function == nil || funcidx >= uint32(len(s.module.Function.Types)) {
		return wasm.FunctionSig{}, false
	}
	return s.GetType(s.module.Function.Types[int(funcidx)])
}

func (s *StaticScope) GetType(typeidx uint32) (wasm.FunctionSig, bool) {
	if s.module.Types == nil || typeidx >= uint32(len(s.module.Types.Entries)) {
		return wasm.FunctionSig{}, false
	}
	return s.module.Types.Entries[int(typeidx)], true
}

// SetFunction makes the parameters and locals of a function visible to GetLocalType.
func (s *StaticScope) SetFunction(sig wasm.FunctionSig, body wasm.FunctionBody) {
	s.Locals = append(s.Locals[:0], sig.ParamTypes...)
	s.Locals = append(s.Locals, body.LocalTypes()...)
}

func (s *StaticScope) HasTable(tableidx uint32) bool {
	return tableidx < uint32(s.Tables)
}

func (s *StaticScope) HasMemory(memoryidx uint32) bool {
	return memoryidx < uint32(s.Memories)
}

func (s *StaticScope) HasData(dataidx uint32) bool {
	return dataidx < uint32(s.Data)
}

func (s *StaticScope) HasElem(elemidx uint32) bool {
	return elemidx < uint32(s.Elems)
}
