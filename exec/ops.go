package exec

// refTable issues the handles that represent funcref values on the operand stack. Handle 0 is null. Handles are
// never freed, so they need no generation check.
type refTable struct {
	handles map[*Function]uint64
	funcs   []*Function
}

func (r *refTable) handle(f *Function) uint64 {
	if f == nil {
		return 0
	}
	if h, ok := r.handles[f]; ok {
		return h
	}
	if r.handles == nil {
		r.handles = map[*Function]uint64{}
	}
	r.funcs = append(r.funcs, f)
	h := uint64(len(r.funcs))
	r.handles[f] = h
	return h
}

func (r *refTable) value(h uint64) *Function {
	if h == 0 || h > uint64(len(r.funcs)) {
		return nil
	}
	return r.funcs[h-1]
}

// RefFunc returns the reference handle of the function at the given index.
func (inst *Instance) RefFunc(funcidx uint32) uint64 {
	return inst.refs.handle(inst.functions[funcidx])
}

// RefHandle returns the reference handle for a function value. A nil function has handle 0.
func (inst *Instance) RefHandle(f *Function) uint64 {
	return inst.refs.handle(f)
}

// RefValue returns the function value for a reference handle, or nil for the null reference.
func (inst *Instance) RefValue(h uint64) *Function {
	return inst.refs.value(h)
}

// CallIndirect calls the function stored at index i of the given table, checking it against the given type.
func (inst *Instance) CallIndirect(t *Thread, typeidx, tableidx, i uint32, args, results []uint64) {
	table := inst.tables[tableidx]
	if i >= table.Size() {
		panic(TrapUndefinedElement)
	}
	f := table.entries[i]
	if f == nil {
		panic(TrapUninitializedElement)
	}
	if !f.sig.Equals(inst.types[typeidx]) {
		panic(TrapIndirectCallTypeMismatch)
	}
	f.Invoke(t, args, results)
}

// MemorySize returns the size of the instance's memory in pages.
func (inst *Instance) MemorySize() uint32 {
	return inst.memories[0].Size()
}

// MemoryGrow grows the instance's memory by n pages and returns the old size, or 0xffffffff if the memory
// cannot grow.
func (inst *Instance) MemoryGrow(n uint32) uint32 {
	old, err := inst.memories[0].Grow(n)
	if err != nil {
		return 0xffffffff
	}
	return old
}

// MemoryInit copies n bytes from offset s of a data segment into memory at d.
func (inst *Instance) MemoryInit(dataidx, d, s, n uint32) {
	inst.memories[0].Init(inst.data[dataidx], d, s, n)
}

// DataDrop discards a data segment.
func (inst *Instance) DataDrop(dataidx uint32) {
	inst.data[dataidx] = nil
}

// TableInit copies n references from offset s of an element segment into a table at d.
func (inst *Instance) TableInit(tableidx, elemidx, d, s, n uint32) {
	inst.tables[tableidx].Init(inst.elems[elemidx], d, s, n)
}

// ElemDrop discards an element segment.
func (inst *Instance) ElemDrop(elemidx uint32) {
	inst.elems[elemidx] = nil
}

// TableCopy copies n references from offset s of table src to offset d of table dst.
func (inst *Instance) TableCopy(dst, src, d, s, n uint32) {
	inst.tables[dst].Copy(inst.tables[src], d, s, n)
}

// TableGrow grows a table by n entries initialized to the reference h and returns the old size, or 0xffffffff if
// the table cannot grow.
func (inst *Instance) TableGrow(tableidx uint32, h uint64, n uint32) uint32 {
	old, err := inst.tables[tableidx].Grow(n, inst.refs.value(h))
	if err != nil {
		return 0xffffffff
	}
	return old
}

// TableSize returns the size of a table.
func (inst *Instance) TableSize(tableidx uint32) uint32 {
	return inst.tables[tableidx].Size()
}

// TableFill sets n entries of a table starting at d to the reference h.
func (inst *Instance) TableFill(tableidx, d uint32, h uint64, n uint32) {
	inst.tables[tableidx].Fill(d, inst.refs.value(h), n)
}

// TableGet returns the reference handle stored at index i of a table.
func (inst *Instance) TableGet(tableidx, i uint32) uint64 {
	return inst.refs.handle(inst.tables[tableidx].Get(i))
}

// TableSet stores the reference h at index i of a table.
func (inst *Instance) TableSet(tableidx, i uint32, h uint64) {
	inst.tables[tableidx].Set(i, inst.refs.value(h))
}
