package exec

import "sync/atomic"

// DefaultMaxDepth is the call depth limit used when a thread is created with a max depth of zero.
const DefaultMaxDepth = 10000

const segmentSize = 64 * 1024

// slotMark records the state of the slot stack before an allocation.
type slotMark struct {
	segment int
	sp      int
}

// A Thread carries the state of a single logical WASM call stack: its depth limit, its symbolic call stack,
// its cancellation flag, and the slot stack that holds the locals and operands of every active frame.
//
// A Thread may only be used by one goroutine at a time. Cancel may be called from any goroutine.
type Thread struct {
	maxDepth int
	frames   []*Function
	canceled atomic.Bool

	segments [][]uint64
	segment  int
	sp       int
	marks    []slotMark
}

// NewThread creates a new thread with the given max depth. If maxDepth is zero, DefaultMaxDepth is used.
func NewThread(maxDepth int) *Thread {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Thread{maxDepth: maxDepth}
}

// MaxDepth returns the maximum call stack depth.
func (t *Thread) MaxDepth() int {
	return t.maxDepth
}

// Depth returns the number of active calls.
func (t *Thread) Depth() int {
	return len(t.frames)
}

// Cancel requests that the thread's running call stack abort at its next function call.
func (t *Thread) Cancel() {
	t.canceled.Store(true)
}

// Canceled returns true if cancellation has been requested.
func (t *Thread) Canceled() bool {
	return t.canceled.Load()
}

// Enter pushes a call to the given function onto the thread's call stack. Each call to Enter must be balanced
// with a call to Leave unless the stack unwinds.
func (t *Thread) Enter(fn *Function) {
	if t.canceled.Load() {
		panic(canceled{})
	}
	if len(t.frames) >= t.maxDepth {
		panic(TrapCallStackExhausted)
	}
	t.frames = append(t.frames, fn)
}

// Leave pops the top of the thread's call stack.
func (t *Thread) Leave() {
	t.frames = t.frames[:len(t.frames)-1]
}

// CallStack returns the thread's symbolic call stack, innermost frame first.
func (t *Thread) CallStack() []StackFrame {
	stack := make([]StackFrame, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		stack = append(stack, t.frames[i].stackFrame())
	}
	return stack
}

// Alloc returns n zeroed slots from the thread's slot stack. Each call to Alloc must be balanced with a call to
// Free unless the stack unwinds. Slots are never moved once allocated.
func (t *Thread) Alloc(n int) []uint64 {
	t.marks = append(t.marks, slotMark{segment: t.segment, sp: t.sp})

	if len(t.segments) == 0 || t.sp+n > len(t.segments[t.segment]) {
		next := t.segment + 1
		if len(t.segments) == 0 {
			next = 0
		}
		for next < len(t.segments) && len(t.segments[next]) < n {
			next++
		}
		if next == len(t.segments) {
			size := segmentSize
			if n > size {
				size = n
			}
			t.segments = append(t.segments, make([]uint64, size))
		}
		t.segment, t.sp = next, 0
	}

	slots := t.segments[t.segment][t.sp : t.sp+n : t.sp+n]
	t.sp += n
	for i := range slots {
		slots[i] = 0
	}
	return slots
}

// Free releases the most recent allocation.
func (t *Thread) Free() {
	m := t.marks[len(t.marks)-1]
	t.marks = t.marks[:len(t.marks)-1]
	t.segment, t.sp = m.segment, m.sp
}

type threadState struct {
	frames  int
	marks   int
	segment int
	sp      int
}

func (t *Thread) save() threadState {
	return threadState{frames: len(t.frames), marks: len(t.marks), segment: t.segment, sp: t.sp}
}

// restore unwinds the thread to a saved state. Restoring the idle state also clears a pending cancellation.
func (t *Thread) restore(s threadState) {
	t.frames = t.frames[:s.frames]
	t.marks = t.marks[:s.marks]
	t.segment, t.sp = s.segment, s.sp
	if s.frames == 0 {
		t.canceled.Store(false)
	}
}
