package exec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PageSize is the size of a WASM memory page in bytes.
const PageSize = 65536

// MaxPages is the maximum size of a WASM memory in pages.
const MaxPages = 65536

var ErrLimitExceeded = fmt.Errorf("memory limit exceeded")

// A MemoryTracer observes every store to a memory. Bulk operations are reported as a single store of size n
// whose value is the fill byte or the source address.
type MemoryTracer interface {
	TraceStore(address uint64, size int, value uint64)
}

// A StoreRecord is a single store observed by a MemoryTrace.
type StoreRecord struct {
	Address uint64
	Size    int
	Value   uint64
}

// A MemoryTrace is a MemoryTracer that records every store in order.
type MemoryTrace struct {
	Stores []StoreRecord
}

func (t *MemoryTrace) TraceStore(address uint64, size int, value uint64) {
	t.Stores = append(t.Stores, StoreRecord{Address: address, Size: size, Value: value})
}

// Memory is a WASM linear memory. Every access is bounds-checked against the memory's current size.
type Memory struct {
	min, max uint32
	bytes    []byte
	tracer   MemoryTracer
}

// NewMemory creates a new linear memory with the given limits in pages. A max of zero means the memory may
// grow to MaxPages.
func NewMemory(min, max uint32) *Memory {
	if max == 0 || max > MaxPages {
		max = MaxPages
	}
	return &Memory{
		min:   min,
		max:   max,
		bytes: make([]byte, int(min)*PageSize),
	}
}

// SetTracer installs a tracer that observes every store. A nil tracer disables tracing.
func (m *Memory) SetTracer(t MemoryTracer) {
	m.tracer = t
}

// Limits returns the minimum and maximum size of the memory in pages.
func (m *Memory) Limits() (min, max uint32) {
	return m.min, m.max
}

// Size returns the current size of the memory in pages.
func (m *Memory) Size() uint32 {
	return uint32(len(m.bytes) / PageSize)
}

// Grow grows the memory by the given number of pages. It returns the old size of the memory in pages and an error if
// growing the memory by the requested amount would exceed the memory's maximum size. Memory never shrinks.
func (m *Memory) Grow(pages uint32) (uint32, error) {
	currentSize := m.Size()
	newSize := uint64(currentSize) + uint64(pages)
	if newSize > uint64(m.max) {
		return currentSize, ErrLimitExceeded
	}
	if pages == 0 {
		return currentSize, nil
	}
	newBytes := make([]byte, int(newSize)*PageSize)
	copy(newBytes, m.bytes)
	m.bytes = newBytes
	return currentSize, nil
}

// Bytes returns the memory's bytes. The slice is invalidated by Grow.
func (m *Memory) Bytes() []byte {
	return m.bytes
}

// at returns the size bytes at the effective address base+offset, trapping if any of them is out of bounds.
func (m *Memory) at(base, offset uint32, size int) []byte {
	ea := uint64(base) + uint64(offset)
	if ea+uint64(size) > uint64(len(m.bytes)) {
		panic(TrapOutOfBoundsMemoryAccess)
	}
	return m.bytes[ea : ea+uint64(size)]
}

func (m *Memory) trace(base, offset uint32, size int, v uint64) {
	if m.tracer != nil {
		m.tracer.TraceStore(uint64(base)+uint64(offset), size, v)
	}
}

// Uint8 returns the byte stored at the given effective address.
func (m *Memory) Uint8(base, offset uint32) byte {
	return m.at(base, offset, 1)[0]
}

// PutUint8 writes the given byte to the given effective address.
func (m *Memory) PutUint8(v byte, base, offset uint32) {
	m.at(base, offset, 1)[0] = v
	m.trace(base, offset, 1, uint64(v))
}

// Uint16 returns the uint16 stored at the given effective address.
func (m *Memory) Uint16(base, offset uint32) uint16 {
	return binary.LittleEndian.Uint16(m.at(base, offset, 2))
}

// PutUint16 writes the given uint16 to the given effective address.
func (m *Memory) PutUint16(v uint16, base, offset uint32) {
	binary.LittleEndian.PutUint16(m.at(base, offset, 2), v)
	m.trace(base, offset, 2, uint64(v))
}

// Uint32 returns the uint32 stored at the given effective address.
func (m *Memory) Uint32(base, offset uint32) uint32 {
	return binary.LittleEndian.Uint32(m.at(base, offset, 4))
}

// PutUint32 writes the given uint32 to the given effective address.
func (m *Memory) PutUint32(v uint32, base, offset uint32) {
	binary.LittleEndian.PutUint32(m.at(base, offset, 4), v)
	m.trace(base, offset, 4, uint64(v))
}

// Uint64 returns the uint64 stored at the given effective address.
func (m *Memory) Uint64(base, offset uint32) uint64 {
	return binary.LittleEndian.Uint64(m.at(base, offset, 8))
}

// PutUint64 writes the given uint64 to the given effective address.
func (m *Memory) PutUint64(v uint64, base, offset uint32) {
	binary.LittleEndian.PutUint64(m.at(base, offset, 8), v)
	m.trace(base, offset, 8, v)
}

// Float32 returns the float32 stored at the given effective address.
func (m *Memory) Float32(base, offset uint32) float32 {
	return math.Float32frombits(m.Uint32(base, offset))
}

// PutFloat32 writes the given float32 to the given effective address.
func (m *Memory) PutFloat32(v float32, base, offset uint32) {
	m.PutUint32(math.Float32bits(v), base, offset)
}

// Float64 returns the float64 stored at the given effective address.
func (m *Memory) Float64(base, offset uint32) float64 {
	return math.Float64frombits(m.Uint64(base, offset))
}

// PutFloat64 writes the given float64 to the given effective address.
func (m *Memory) PutFloat64(v float64, base, offset uint32) {
	m.PutUint64(math.Float64bits(v), base, offset)
}

// Fill sets n bytes starting at d to v.
func (m *Memory) Fill(d uint32, v byte, n uint32) {
	b := m.at(d, 0, int(n))
	for i := range b {
		b[i] = v
	}
	m.trace(d, 0, int(n), uint64(v))
}

// Copy copies n bytes from s to d. The regions may overlap.
func (m *Memory) Copy(d, s, n uint32) {
	src, dest := m.at(s, 0, int(n)), m.at(d, 0, int(n))
	copy(dest, src)
	m.trace(d, 0, int(n), uint64(s))
}

// Init copies n bytes starting at s from the given data into the memory at d.
func (m *Memory) Init(data []byte, d, s, n uint32) {
	if uint64(s)+uint64(n) > uint64(len(data)) {
		panic(TrapOutOfBoundsMemoryAccess)
	}
	dest := m.at(d, 0, int(n))
	copy(dest, data[s:s+n])
	m.trace(d, 0, int(n), uint64(s))
}
