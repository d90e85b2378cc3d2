package exec

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/pgavlin/tandem/wasm"
)

// A HostFunc implements a host function over raw WASM values. results may alias args; implementations must
// read all of their arguments before writing results. A non-nil error traps with TrapHost.
type HostFunc func(t *Thread, args, results []uint64) error

// Function is a function value: either a module-defined function of an instance or a host function.
type Function struct {
	sig wasm.FunctionSig

	instance *Instance
	index    uint32

	host       HostFunc
	hostModule string
	hostName   string
}

// RawHostFunction creates a host function with the given signature.
func RawHostFunction(sig wasm.FunctionSig, fn HostFunc) *Function {
	sig.Form = wasm.TypeFunc
	return &Function{sig: sig, host: fn}
}

var (
	threadType = reflect.TypeOf((*Thread)(nil))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// HostFunction creates a host function from a Go function. Parameters and results must be int32, uint32, int64,
// uint64, float32, or float64. The function may accept a leading *Thread parameter and may return a trailing error.
func HostFunction(fn interface{}) (*Function, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("host function must be a func, not %v", t)
	}

	first := 0
	if t.NumIn() > 0 && t.In(0) == threadType {
		first = 1
	}
	var params []wasm.ValueType
	for i := first; i < t.NumIn(); i++ {
		vt := wasmType(t.In(i).Kind())
		if vt == wasm.ValueTypeT {
			return nil, fmt.Errorf("cannot export function with parameter type %v", t.In(i))
		}
		params = append(params, vt)
	}

	numOut, hasError := t.NumOut(), false
	if numOut > 0 && t.Out(numOut-1) == errorType {
		numOut, hasError = numOut-1, true
	}
	var results []wasm.ValueType
	for i := 0; i < numOut; i++ {
		vt := wasmType(t.Out(i).Kind())
		if vt == wasm.ValueTypeT {
			return nil, fmt.Errorf("cannot export function with return type %v", t.Out(i))
		}
		results = append(results, vt)
	}

	sig := wasm.FunctionSig{Form: wasm.TypeFunc, ParamTypes: params, ReturnTypes: results}
	return RawHostFunction(sig, func(thread *Thread, args, returns []uint64) error {
		in := make([]reflect.Value, t.NumIn())
		if first == 1 {
			in[0] = reflect.ValueOf(thread)
		}
		for i, vt := range params {
			in[first+i] = toReflect(t.In(first+i), vt, args[i])
		}

		out := v.Call(in)
		if hasError {
			if err, _ := out[numOut].Interface().(error); err != nil {
				return err
			}
		}
		for i, vt := range results {
			returns[i] = fromReflect(vt, out[i])
		}
		return nil
	}), nil
}

// MustHostFunction is like HostFunction, but panics on error.
func MustHostFunction(fn interface{}) *Function {
	f, err := HostFunction(fn)
	if err != nil {
		panic(err)
	}
	return f
}

// Signature returns the function's signature.
func (f *Function) Signature() wasm.FunctionSig {
	return f.sig
}

// Instance returns the instance that defines the function, or nil for host functions.
func (f *Function) Instance() *Instance {
	return f.instance
}

// Index returns the function's index in its defining instance's function index space.
func (f *Function) Index() uint32 {
	return f.index
}

// IsHost returns true if the function is implemented by the host.
func (f *Function) IsHost() bool {
	return f.host != nil
}

func (f *Function) stackFrame() StackFrame {
	if f.host != nil {
		return StackFrame{Module: f.hostModule, Function: f.index, Name: f.hostName}
	}
	return StackFrame{Module: f.instance.name, Function: f.index, Name: f.instance.module.FunctionName(f.index)}
}

// Invoke calls the function on the given thread with raw arguments and results. Traps unwind as panics; use
// Call or Instance.Execute to convert them into errors.
func (f *Function) Invoke(t *Thread, args, results []uint64) {
	t.Enter(f)
	if f.host != nil {
		if len(args) != 0 {
			args = append(make([]uint64, 0, len(args)), args...)
		}
		if err := f.host(t, args, results); err != nil {
			var trap Trap
			if errors.As(err, &trap) {
				panic(trap)
			}
			panic(hostError{err: err})
		}
	} else {
		f.instance.machine.Invoke(t, f.index, args, results)
	}
	t.Leave()
}

// Call calls the function with Go values on a new thread. The number and types of the arguments must match the
// function's signature.
func (f *Function) Call(ctx context.Context, args ...interface{}) ([]interface{}, error) {
	maxDepth := 0
	if f.instance != nil {
		maxDepth = f.instance.maxDepth
	}
	return f.CallThread(ctx, NewThread(maxDepth), args...)
}

// CallThread calls the function with Go values on the given thread.
func (f *Function) CallThread(ctx context.Context, t *Thread, args ...interface{}) ([]interface{}, error) {
	if len(args) != len(f.sig.ParamTypes) {
		return nil, fmt.Errorf("expected %v args; got %v", len(f.sig.ParamTypes), len(args))
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		bits, err := ToBits(f.sig.ParamTypes[i], a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		raw[i] = bits
	}

	results, err := f.Execute(ctx, t, raw)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, len(results))
	for i, t := range f.sig.ReturnTypes {
		values[i] = FromBits(t, results[i])
	}
	return values, nil
}

// Execute calls the function with raw arguments on the given thread. Traps are returned as *TrapError values and
// cancellation as ErrCanceled. The context cancels the call when it is done.
func (f *Function) Execute(ctx context.Context, t *Thread, args []uint64) (results []uint64, err error) {
	if len(args) != len(f.sig.ParamTypes) {
		return nil, fmt.Errorf("expected %v args; got %v", len(f.sig.ParamTypes), len(args))
	}
	var stop func() bool
	var canceling chan struct{}
	if ctx != nil && ctx.Done() != nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
		}
		canceling = make(chan struct{})
		stop = context.AfterFunc(ctx, func() {
			defer close(canceling)
			t.Cancel()
		})
	}

	state := t.save()
	defer func() {
		// A cancellation that has already started must land before restore clears the flag.
		if stop != nil && !stop() {
			<-canceling
		}
		if x := recover(); x != nil {
			err = recoverCall(t, x)
			results = nil
		}
		t.restore(state)
	}()

	results = make([]uint64, len(f.sig.ReturnTypes))
	f.Invoke(t, args, results)
	return results, nil
}
