package compiler

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/pgavlin/tandem/internal/logging"
)

// Fallback selects what happens to a function that is too large to compile.
type Fallback int

const (
	// FallbackFail aborts compilation with a *LimitError.
	FallbackFail Fallback = iota
	// FallbackWarn routes the function to the interpreter and logs one warning for it.
	FallbackWarn
	// FallbackSilent routes the function to the interpreter without a diagnostic.
	FallbackSilent
)

func (f Fallback) String() string {
	switch f {
	case FallbackFail:
		return "fail"
	case FallbackWarn:
		return "warn"
	case FallbackSilent:
		return "silent"
	default:
		return fmt.Sprintf("fallback(%d)", int(f))
	}
}

// ParseFallback parses a fallback policy name. Names are case-insensitive.
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(s) {
	case "fail":
		return FallbackFail, nil
	case "warn":
		return FallbackWarn, nil
	case "silent":
		return FallbackSilent, nil
	default:
		return 0, fmt.Errorf("unknown fallback policy %q", s)
	}
}

const (
	// DefaultMaxUnitSize is the statement limit for one compiled function when Config.MaxUnitSize is zero.
	DefaultMaxUnitSize = 65535
	// DefaultMaxFunctionsPerUnit is the number of functions grouped per unit when Config.MaxFunctionsPerUnit
	// is zero.
	DefaultMaxFunctionsPerUnit = 64
)

// A Cache stores translated functions by content key. PutIfAbsent stores the value only if no value is
// present for the key and reports whether it did.
type Cache interface {
	Get(key []byte) ([]byte, bool, error)
	PutIfAbsent(key, value []byte) (bool, error)
}

// Config records compilation options. The zero value compiles every function and fails on oversized ones.
type Config struct {
	// Fallback selects the policy for functions whose translation exceeds MaxUnitSize.
	Fallback Fallback
	// Interpreted holds the indices (in the function index space) of functions that are never compiled.
	Interpreted *bitset.BitSet
	// MaxUnitSize bounds the number of statements in one compiled function. Zero means DefaultMaxUnitSize.
	MaxUnitSize int
	// MaxFunctionsPerUnit bounds the number of functions grouped into one unit. Zero means
	// DefaultMaxFunctionsPerUnit.
	MaxFunctionsPerUnit int
	// UnitName is the prefix of unit names. Empty means the module name, or "unit" if the module has none.
	UnitName string
	// Cache, if non-nil, holds previously translated functions.
	Cache Cache
	// Logger receives compilation diagnostics. Nil means the process-wide logger.
	Logger *zap.Logger
	// Parallelism bounds the number of units translated concurrently. Zero means GOMAXPROCS.
	Parallelism int
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.MaxUnitSize <= 0 {
		out.MaxUnitSize = DefaultMaxUnitSize
	}
	if out.MaxFunctionsPerUnit <= 0 {
		out.MaxFunctionsPerUnit = DefaultMaxFunctionsPerUnit
	}
	if out.Logger == nil {
		out.Logger = logging.Named("compiler")
	}
	if out.Parallelism <= 0 {
		out.Parallelism = runtime.GOMAXPROCS(0)
	}
	return out
}

// fingerprint identifies the configuration inputs that affect translated output.
func (c *Config) fingerprint() string {
	return fmt.Sprintf("tandem/v%d", formatVersion)
}

// A LimitError reports a function whose translation exceeds the configured size limit.
type LimitError struct {
	Function uint32 // The function's index in the function index space.
	Size     int
	Limit    int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("function %d: translated size %d exceeds the limit of %d", e.Function, e.Size, e.Limit)
}
