package exec

import (
	"testing"

	"github.com/pgavlin/tandem/wasm/code"
	"github.com/stretchr/testify/assert"
)

func trapOf(f func()) (trap Trap) {
	defer func() {
		if x := recover(); x != nil {
			trap = x.(Trap)
		}
	}()
	f()
	return ""
}

func TestMemoryBounds(t *testing.T) {
	mem := NewMemory(1, 2)

	assert.Equal(t, Trap(""), trapOf(func() { mem.PutUint8(1, PageSize-1, 0) }))
	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.PutUint8(1, PageSize, 0) }))
	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.Uint32(PageSize-3, 0) }))
	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.Uint8(0xffffffff, 0xffffffff) }))
	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.Uint64(1, PageSize-8) }))
	assert.Equal(t, uint8(1), mem.Uint8(0, PageSize-1))
}

func TestMemoryGrow(t *testing.T) {
	mem := NewMemory(1, 2)
	mem.PutUint32(0xdeadbeef, 16, 0)

	old, err := mem.Grow(1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), old)
	assert.Equal(t, uint32(2), mem.Size())
	assert.Equal(t, uint32(0xdeadbeef), mem.Uint32(16, 0))

	_, err = mem.Grow(1)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, uint32(2), mem.Size())

	unbounded := NewMemory(0, 0)
	_, max := unbounded.Limits()
	assert.Equal(t, uint32(MaxPages), max)
}

func TestMemoryBulk(t *testing.T) {
	mem := NewMemory(1, 1)
	mem.Init([]byte("abcdef"), 0, 0, 6)
	mem.Copy(2, 0, 4)
	assert.Equal(t, []byte("ababcd"), mem.Bytes()[:6])

	mem.Fill(0, 'z', 2)
	assert.Equal(t, []byte("zzabcd"), mem.Bytes()[:6])

	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.Init([]byte("abc"), 0, 2, 2) }))
	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.Fill(PageSize-1, 0, 2) }))
	assert.Equal(t, TrapOutOfBoundsMemoryAccess, trapOf(func() { mem.Copy(0, PageSize-1, 2) }))
	assert.Equal(t, Trap(""), trapOf(func() { mem.Fill(PageSize, 0, 0) }))
}

func TestMemoryTrace(t *testing.T) {
	var trace MemoryTrace
	mem := NewMemory(1, 1)
	mem.SetTracer(&trace)

	mem.PutUint16(0x1234, 4, 2)
	mem.PutFloat64(1, 8, 0)
	mem.Fill(32, 7, 3)

	assert.Equal(t, []StoreRecord{
		{Address: 6, Size: 2, Value: 0x1234},
		{Address: 8, Size: 8, Value: 0x3ff0000000000000},
		{Address: 32, Size: 3, Value: 7},
	}, trace.Stores)
}

func TestLoadStore(t *testing.T) {
	mem := NewMemory(1, 1)

	Store(mem, code.OpI32Store, 0, 0, 0xfffffffe)
	assert.Equal(t, uint64(0xfffffffe), Load(mem, code.OpI32Load, 0, 0))
	assert.Equal(t, uint64(0xfffffffe), Load(mem, code.OpI32Load8S, 0, 0))
	assert.Equal(t, uint64(0xfe), Load(mem, code.OpI32Load8U, 0, 0))
	assert.Equal(t, uint64(0xfffffffffffffffe), Load(mem, code.OpI64Load32S, 0, 0))
	assert.Equal(t, uint64(0xfffffffe), Load(mem, code.OpI64Load32U, 0, 0))
	assert.Equal(t, uint64(0xffffffffffffffff), Load(mem, code.OpI64Load16S, 2, 0))

	Store(mem, code.OpI64Store8, 8, 0, 0x1ff)
	assert.Equal(t, uint64(0xff), Load(mem, code.OpI64Load, 8, 0))
}
