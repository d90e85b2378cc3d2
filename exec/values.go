package exec

import (
	"fmt"
	"math"
	"reflect"

	"github.com/pgavlin/tandem/wasm"
)

// ToBits converts a Go value to the raw bits of a WASM value of the given type. i32 and i64 values accept
// both signed and unsigned Go integers of the matching width.
func ToBits(t wasm.ValueType, v interface{}) (uint64, error) {
	switch v := v.(type) {
	case int32:
		if t == wasm.ValueTypeI32 {
			return uint64(uint32(v)), nil
		}
	case uint32:
		if t == wasm.ValueTypeI32 {
			return uint64(v), nil
		}
	case int64:
		if t == wasm.ValueTypeI64 {
			return uint64(v), nil
		}
	case uint64:
		if t == wasm.ValueTypeI64 || t == wasm.ValueTypeFuncRef {
			return v, nil
		}
	case float32:
		if t == wasm.ValueTypeF32 {
			return uint64(math.Float32bits(v)), nil
		}
	case float64:
		if t == wasm.ValueTypeF64 {
			return math.Float64bits(v), nil
		}
	}
	return 0, fmt.Errorf("cannot assign %T value to a WASM value of type %v", v, t)
}

// FromBits converts the raw bits of a WASM value to a Go value: int32, int64, float32, or float64 for numeric
// types and a uint64 handle for references.
func FromBits(t wasm.ValueType, v uint64) interface{} {
	switch t {
	case wasm.ValueTypeI32:
		return int32(v)
	case wasm.ValueTypeI64:
		return int64(v)
	case wasm.ValueTypeF32:
		return math.Float32frombits(uint32(v))
	case wasm.ValueTypeF64:
		return math.Float64frombits(v)
	default:
		return v
	}
}

func wasmType(kind reflect.Kind) wasm.ValueType {
	switch kind {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValueTypeI32
	case reflect.Int64, reflect.Uint64:
		return wasm.ValueTypeI64
	case reflect.Float32:
		return wasm.ValueTypeF32
	case reflect.Float64:
		return wasm.ValueTypeF64
	default:
		return wasm.ValueTypeT
	}
}

func toReflect(t reflect.Type, vt wasm.ValueType, v uint64) reflect.Value {
	switch vt {
	case wasm.ValueTypeI32:
		if t.Kind() == reflect.Uint32 {
			return reflect.ValueOf(uint32(v)).Convert(t)
		}
		return reflect.ValueOf(int32(v)).Convert(t)
	case wasm.ValueTypeI64:
		if t.Kind() == reflect.Uint64 {
			return reflect.ValueOf(v).Convert(t)
		}
		return reflect.ValueOf(int64(v)).Convert(t)
	case wasm.ValueTypeF32:
		return reflect.ValueOf(math.Float32frombits(uint32(v))).Convert(t)
	default:
		return reflect.ValueOf(math.Float64frombits(v)).Convert(t)
	}
}

func fromReflect(vt wasm.ValueType, v reflect.Value) uint64 {
	switch vt {
	case wasm.ValueTypeI32:
		if v.Kind() == reflect.Uint32 {
			return v.Uint()
		}
		return uint64(uint32(v.Int()))
	case wasm.ValueTypeI64:
		if v.Kind() == reflect.Uint64 {
			return v.Uint()
		}
		return uint64(v.Int())
	case wasm.ValueTypeF32:
		return uint64(math.Float32bits(float32(v.Float())))
	default:
		return math.Float64bits(v.Float())
	}
}
