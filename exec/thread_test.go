package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadAlloc(t *testing.T) {
	thread := NewThread(0)
	assert.Equal(t, DefaultMaxDepth, thread.MaxDepth())

	a := thread.Alloc(4)
	a[0] = 42
	b := thread.Alloc(segmentSize)
	assert.Len(t, b, segmentSize)
	c := thread.Alloc(8)
	assert.Len(t, c, 8)

	thread.Free()
	thread.Free()
	assert.Equal(t, uint64(42), a[0])
	thread.Free()

	// Freed slots are zeroed when they are reallocated.
	d := thread.Alloc(4)
	assert.Equal(t, uint64(0), d[0])
	thread.Free()
}

func TestThreadDepth(t *testing.T) {
	f := &Function{host: func(*Thread, []uint64, []uint64) error { return nil }}

	thread := NewThread(2)
	thread.Enter(f)
	thread.Enter(f)
	assert.Equal(t, TrapCallStackExhausted, trapOf(func() { thread.Enter(f) }))
	assert.Equal(t, 2, thread.Depth())
	thread.Leave()
	thread.Leave()
	assert.Equal(t, 0, thread.Depth())
}

func TestThreadCancel(t *testing.T) {
	f := &Function{host: func(*Thread, []uint64, []uint64) error { return nil }}

	thread := NewThread(0)
	state := thread.save()
	thread.Cancel()
	assert.True(t, thread.Canceled())

	func() {
		defer func() {
			assert.Equal(t, canceled{}, recover())
		}()
		thread.Enter(f)
	}()

	thread.restore(state)
	assert.False(t, thread.Canceled())
}
