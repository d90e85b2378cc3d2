package wasmtest

import "github.com/pgavlin/tandem/exec"

// SpecTest returns a fresh instance of the host module conventionally imported as "spectest".
func SpecTest() map[string]interface{} {
	return map[string]interface{}{
		"global_i32": exec.NewGlobalI32(true, 666),
		"global_i64": exec.NewGlobalI64(true, 666),
		"global_f32": exec.NewGlobalF32(true, 0),
		"global_f64": exec.NewGlobalF64(true, 0),
		"table":      exec.NewTable(10, 20),
		"memory":     exec.NewMemory(1, 2),

		"print":         exec.MustHostFunction(func() {}),
		"print_i32":     exec.MustHostFunction(func(int32) {}),
		"print_i64":     exec.MustHostFunction(func(int64) {}),
		"print_f32":     exec.MustHostFunction(func(float32) {}),
		"print_f64":     exec.MustHostFunction(func(float64) {}),
		"print_i32_f32": exec.MustHostFunction(func(int32, float32) {}),
		"print_f64_f64": exec.MustHostFunction(func(float64, float64) {}),
	}
}
