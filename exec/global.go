package exec

import (
	"math"

	"github.com/pgavlin/tandem/wasm"
)

// Global is a WASM global variable. Its value is stored as raw bits.
type Global struct {
	typ       wasm.ValueType
	immutable bool
	value     uint64
}

// NewGlobal creates a global of the given type with raw initial bits.
func NewGlobal(typ wasm.ValueType, immutable bool, value uint64) *Global {
	return &Global{typ: typ, immutable: immutable, value: value}
}

func NewGlobalI32(immutable bool, value int32) *Global {
	return NewGlobal(wasm.ValueTypeI32, immutable, uint64(uint32(value)))
}

func NewGlobalI64(immutable bool, value int64) *Global {
	return NewGlobal(wasm.ValueTypeI64, immutable, uint64(value))
}

func NewGlobalF32(immutable bool, value float32) *Global {
	return NewGlobal(wasm.ValueTypeF32, immutable, uint64(math.Float32bits(value)))
}

func NewGlobalF64(immutable bool, value float64) *Global {
	return NewGlobal(wasm.ValueTypeF64, immutable, math.Float64bits(value))
}

func (g *Global) Type() wasm.GlobalVar {
	return wasm.GlobalVar{Type: g.typ, Mutable: !g.immutable}
}

func (g *Global) Get() uint64 {
	return g.value
}

// GetValue returns the global's value as a Go value of the global's type.
func (g *Global) GetValue() interface{} {
	return FromBits(g.typ, g.value)
}

func (g *Global) GetI32() int32 {
	return int32(g.value)
}

func (g *Global) GetI64() int64 {
	return int64(g.value)
}

func (g *Global) GetF32() float32 {
	return math.Float32frombits(uint32(g.value))
}

func (g *Global) GetF64() float64 {
	return math.Float64frombits(g.value)
}

func (g *Global) Set(v uint64) {
	g.value = v
}

// SetValue stores a Go value of the global's type.
func (g *Global) SetValue(v interface{}) error {
	bits, err := ToBits(g.typ, v)
	if err != nil {
		return err
	}
	g.value = bits
	return nil
}
