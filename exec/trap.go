package exec

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// A Trap represents a WASM trap.
type Trap string

func (t Trap) Error() string {
	return string(t)
}

// TrapGeneric is produced for failures with no associated information.
var TrapGeneric = Trap("")

// TrapUndefinedElement indicates an attempt to access a table with an index that is out of bounds.
var TrapUndefinedElement = Trap("undefined element")

// TrapUninitializedElement indicates an attempt to call through a null table element.
var TrapUninitializedElement = Trap("uninitialized element")

// TrapIndirectCallTypeMismatch indicates a mismatch between the expected and actual signature of a function.
var TrapIndirectCallTypeMismatch = Trap("indirect call type mismatch")

// TrapOutOfBoundsMemoryAccess indicates an out-of-bounds memory access.
var TrapOutOfBoundsMemoryAccess = Trap("out of bounds memory access")

// TrapOutOfBoundsTableAccess indicates an out-of-bounds table access by a table instruction.
var TrapOutOfBoundsTableAccess = Trap("out of bounds table access")

// TrapIntegerOverflow indicates an integer overflow.
var TrapIntegerOverflow = Trap("integer overflow")

// TrapInvalidConversionToInteger indicates an invalid conversion from a floating-point value to an
// integer.
var TrapInvalidConversionToInteger = Trap("invalid conversion to integer")

// TrapIntegerDivideByZero indicates an attempt to divide by zero.
var TrapIntegerDivideByZero = Trap("integer divide by zero")

// TrapCallStackExhausted indicates call stack exhaustion.
var TrapCallStackExhausted = Trap("call stack exhausted")

// TrapUnreachable indicates execution of unreachable code.
var TrapUnreachable = Trap("unreachable")

// TrapHost indicates that a host function returned an error.
var TrapHost = Trap("host function error")

// ErrCanceled is returned when a call is interrupted by Thread.Cancel or by its context.
var ErrCanceled = errors.New("exec: call canceled")

// A StackFrame is one entry in the symbolic call stack of a trap.
type StackFrame struct {
	Module   string
	Function uint32
	Name     string
}

func (f StackFrame) String() string {
	name := f.Name
	if name == "" {
		name = fmt.Sprintf("func[%d]", f.Function)
	}
	if f.Module != "" {
		return f.Module + "." + name
	}
	return name
}

// A TrapError reports a trap raised during a call. Function is the index of the innermost function on the call
// stack at the time of the trap, and Stack lists the active frames, innermost first.
type TrapError struct {
	Trap     Trap
	Function uint32
	Stack    []StackFrame
	Err      error
}

func (e *TrapError) Error() string {
	var b strings.Builder
	b.WriteString("wasm trap: ")
	if e.Err != nil {
		fmt.Fprintf(&b, "%v: %v", e.Trap, e.Err)
	} else {
		b.WriteString(string(e.Trap))
	}
	for _, f := range e.Stack {
		b.WriteString("\n\tat ")
		b.WriteString(f.String())
	}
	return b.String()
}

// Unwrap returns the host error for TrapHost and the trap itself otherwise.
func (e *TrapError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Trap
}

// hostError is the panic value used to unwind a host function's error.
type hostError struct {
	err error
}

// canceled is the panic value used to unwind a canceled call stack.
type canceled struct{}

// TranslateRuntimeError is a utility function that translates between Go runtime errors and
// WASM traps.
func TranslateRuntimeError(err runtime.Error) (Trap, bool) {
	switch {
	case err == nil:
		return "", false
	case strings.HasPrefix(err.Error(), "runtime error: index out of range"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: slice bounds out of range"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: invalid memory address or nil pointer dereference"):
		return TrapOutOfBoundsMemoryAccess, true
	case strings.HasPrefix(err.Error(), "runtime error: integer divide by zero"):
		return TrapIntegerDivideByZero, true
	default:
		return "", false
	}
}

// recoverCall converts the result of a call to recover() into an error. Values that are not traps,
// cancellations, host errors, or translatable runtime errors are re-panicked.
func recoverCall(t *Thread, x interface{}) error {
	var trap Trap
	var cause error
	switch x := x.(type) {
	case Trap:
		trap = x
	case hostError:
		trap, cause = TrapHost, x.err
	case canceled:
		return ErrCanceled
	case runtime.Error:
		tr, ok := TranslateRuntimeError(x)
		if !ok {
			panic(x)
		}
		trap = tr
	default:
		panic(x)
	}

	stack := t.CallStack()
	err := &TrapError{Trap: trap, Stack: stack, Err: cause}
	if len(stack) != 0 {
		err.Function = stack[0].Function
	}
	return err
}
