package code

import "github.com/pgavlin/tandem/wasm"

// Scope supplies the module- and function-level context needed to type instructions.
type Scope interface {
	GetLocalType(localidx uint32) (wasm.ValueType, bool)
	GetGlobalType(globalidx uint32) (wasm.GlobalVar, bool)
	GetFunctionSignature(funcidx uint32) (wasm.FunctionSig, bool)
	GetType(typeidx uint32) (wasm.FunctionSig, bool)

	HasTable(tableidx uint32) bool
	HasMemory(memoryidx uint32) bool
	HasData(dataidx uint32) bool
	HasElem(elemidx uint32) bool
}

var UnknownTypes = []wasm.ValueType{}

// UnknownScope accepts every index and reports empty signatures and wildcard types.
var UnknownScope = unknownScope(0)

type unknownScope int

func (unknownScope) GetLocalType(localidx uint32) (wasm.ValueType, bool) {
	return wasm.ValueTypeT, true
}

func (unknownScope) GetGlobalType(globalidx uint32) (wasm.GlobalVar, bool) {
	return wasm.GlobalVar{Type: wasm.ValueTypeT, Mutable: true}, true
}

func (unknownScope) GetFunctionSignature(funcidx uint32) (wasm.FunctionSig, bool) {
	return wasm.FunctionSig{ParamTypes: UnknownTypes, ReturnTypes: UnknownTypes}, true
}

func (unknownScope) GetType(typeidx uint32) (wasm.FunctionSig, bool) {
	return wasm.FunctionSig{ParamTypes: UnknownTypes, ReturnTypes: UnknownTypes}, true
}

func (unknownScope) HasTable(uint32) bool  { return true }
func (unknownScope) HasMemory(uint32) bool { return true }
func (unknownScope) HasData(uint32) bool   { return true }
func (unknownScope) HasElem(uint32) bool   { return true }
