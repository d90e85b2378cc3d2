package wasmtest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pgavlin/tandem/exec"
	"github.com/pgavlin/tandem/load"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An Environment instantiates modules with a single machine factory and checks the results of calls into them.
// Instances may be registered under a name so that later modules can import their exports.
type Environment struct {
	factory exec.MachineFactory
	imports exec.Imports
	current *exec.Instance
}

// NewEnvironment creates an environment whose instances are executed by machines from the given factory. The
// spectest host module is registered by default.
func NewEnvironment(factory exec.MachineFactory) *Environment {
	return &Environment{
		factory: factory,
		imports: exec.Imports{"spectest": SpecTest()},
	}
}

// Register makes a set of values importable under the given module name.
func (e *Environment) Register(name string, exports map[string]interface{}) {
	e.imports[name] = exports
}

// Instantiate builds an instance of the module and makes it the environment's current instance.
func (e *Environment) Instantiate(t testing.TB, name string, m *load.Module) *exec.Instance {
	inst, err := exec.BuildWithOptions(m, e.imports, e.factory, true, &exec.BuildOptions{Name: name})
	require.NoError(t, err)
	e.current = inst
	return inst
}

// Build builds an instance of the module and returns any error.
func (e *Environment) Build(name string, m *load.Module) (*exec.Instance, error) {
	return exec.BuildWithOptions(m, e.imports, e.factory, true, &exec.BuildOptions{Name: name})
}

// Current returns the most recently instantiated instance.
func (e *Environment) Current() *exec.Instance {
	return e.current
}

// Call calls an export of the current instance.
func (e *Environment) Call(name string, args ...interface{}) ([]interface{}, error) {
	return e.current.Call(context.Background(), name, args...)
}

// AssertReturn calls an export of the current instance and checks its results.
func (e *Environment) AssertReturn(t testing.TB, name string, args []interface{}, expected ...interface{}) bool {
	results, err := e.Call(name, args...)
	if !assert.NoError(t, err, "calling %v%v", name, args) {
		return false
	}
	if !assert.Len(t, results, len(expected), "calling %v%v", name, args) {
		return false
	}
	for i, v := range expected {
		if !isEqual(v, results[i]) {
			return assert.Fail(t, "unexpected result", "calling %v%v: expected %v, got %v", name, args, expected, results)
		}
	}
	return true
}

// AssertTrap calls an export of the current instance and checks that it traps with the given trap.
func (e *Environment) AssertTrap(t testing.TB, trap exec.Trap, name string, args ...interface{}) bool {
	_, err := e.Call(name, args...)
	var trapErr *exec.TrapError
	if !assert.True(t, errors.As(err, &trapErr), "calling %v%v: expected trap %q, got %v", name, args, trap, err) {
		return false
	}
	return assert.Equal(t, trap, trapErr.Trap, "calling %v%v", name, args)
}

// AssertUnlinkable checks that the module fails to link with an error that matches target.
func (e *Environment) AssertUnlinkable(t testing.TB, m *load.Module, target error) bool {
	_, err := e.Build("", m)
	var linkErr *exec.LinkError
	if !assert.True(t, errors.As(err, &linkErr), "expected link error, got %v", err) {
		return false
	}
	return assert.ErrorIs(t, err, target)
}

// NaN matches any NaN result.
type NaN struct{}

func isEqual(expected, actual interface{}) bool {
	switch expected := expected.(type) {
	case NaN:
		switch actual := actual.(type) {
		case float32:
			return math.IsNaN(float64(actual))
		case float64:
			return math.IsNaN(actual)
		default:
			return false
		}
	case float32:
		f, ok := actual.(float32)
		if !ok {
			return false
		}
		if math.IsNaN(float64(f)) && math.IsNaN(float64(expected)) {
			return true
		}
		return math.Float32bits(f) == math.Float32bits(expected)
	case float64:
		f, ok := actual.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(f) && math.IsNaN(expected) {
			return true
		}
		return math.Float64bits(f) == math.Float64bits(expected)
	default:
		return actual == expected
	}
}
