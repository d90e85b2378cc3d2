package exec

import "fmt"

// ErrTableLimitExceeded is returned by Table.Grow when growing would exceed the table's maximum size.
var ErrTableLimitExceeded = fmt.Errorf("table limit exceeded")

// Table is a WASM table of function references. A nil entry is a null reference.
type Table struct {
	min, max uint32
	entries  []*Function
}

// NewTable creates a new WASM table. A max of zero means the table may grow without bound.
func NewTable(min, max uint32) *Table {
	if max == 0 {
		max = ^uint32(0)
	}
	return &Table{min: min, max: max, entries: make([]*Function, min)}
}

// Limits returns the minimum and maximum size of the table in elements.
func (t *Table) Limits() (min uint32, max uint32) {
	return t.min, t.max
}

// Size returns the current number of elements in the table.
func (t *Table) Size() uint32 {
	return uint32(len(t.entries))
}

// Entries returns the table's entries.
func (t *Table) Entries() []*Function {
	return t.entries
}

// Get returns the element at index i, trapping if i is out of bounds.
func (t *Table) Get(i uint32) *Function {
	if i >= uint32(len(t.entries)) {
		panic(TrapOutOfBoundsTableAccess)
	}
	return t.entries[i]
}

// Set stores f at index i, trapping if i is out of bounds.
func (t *Table) Set(i uint32, f *Function) {
	if i >= uint32(len(t.entries)) {
		panic(TrapOutOfBoundsTableAccess)
	}
	t.entries[i] = f
}

// Grow appends n copies of init to the table. It returns the old size and an error if the new size would
// exceed the table's maximum.
func (t *Table) Grow(n uint32, init *Function) (uint32, error) {
	old := uint32(len(t.entries))
	if uint64(old)+uint64(n) > uint64(t.max) {
		return old, ErrTableLimitExceeded
	}
	for i := uint32(0); i < n; i++ {
		t.entries = append(t.entries, init)
	}
	return old, nil
}

// Fill sets n entries starting at d to f.
func (t *Table) Fill(d uint32, f *Function, n uint32) {
	if uint64(d)+uint64(n) > uint64(len(t.entries)) {
		panic(TrapOutOfBoundsTableAccess)
	}
	for i := d; i < d+n; i++ {
		t.entries[i] = f
	}
}

// Copy copies n entries from src starting at s into t starting at d. The regions may overlap.
func (t *Table) Copy(src *Table, d, s, n uint32) {
	if uint64(s)+uint64(n) > uint64(len(src.entries)) || uint64(d)+uint64(n) > uint64(len(t.entries)) {
		panic(TrapOutOfBoundsTableAccess)
	}
	copy(t.entries[d:d+n], src.entries[s:s+n])
}

// Init copies n references starting at s from the given element segment into the table at d.
func (t *Table) Init(elems []*Function, d, s, n uint32) {
	if uint64(s)+uint64(n) > uint64(len(elems)) || uint64(d)+uint64(n) > uint64(len(t.entries)) {
		panic(TrapOutOfBoundsTableAccess)
	}
	copy(t.entries[d:d+n], elems[s:s+n])
}
