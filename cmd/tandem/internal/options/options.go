// Package options holds the command-line flags shared by the commands that compile modules.
package options

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/willf/bitset"

	"github.com/pgavlin/tandem/cache"
	"github.com/pgavlin/tandem/compiler"
)

// FunctionSet is a flag value that holds a comma-separated list of function indices, e.g. "3,5,8-12".
type FunctionSet struct {
	set  *bitset.BitSet
	text string
}

func (s *FunctionSet) String() string {
	return s.text
}

func (s *FunctionSet) Set(text string) error {
	set, err := ParseFunctionSet(text)
	if err != nil {
		return err
	}
	s.set, s.text = set, text
	return nil
}

func (s *FunctionSet) Type() string {
	return "indices"
}

// Bits returns the parsed set, or nil if the flag was not set.
func (s *FunctionSet) Bits() *bitset.BitSet {
	return s.set
}

// ParseFunctionSet parses a comma-separated list of function indices and inclusive index ranges.
func ParseFunctionSet(text string) (*bitset.BitSet, error) {
	set := bitset.New(0)
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}
		first, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed function index '%v'", part)
		}
		last, err := strconv.ParseUint(hi, 10, 32)
		if err != nil || last < first {
			return nil, fmt.Errorf("malformed function range '%v'", part)
		}
		for i := first; i <= last; i++ {
			set.Set(uint(i))
		}
	}
	return set, nil
}

// Compiler holds the flags that configure compilation.
type Compiler struct {
	Fallback            string
	Interpreted         FunctionSet
	MaxUnitSize         int
	MaxFunctionsPerUnit int
	Cache               string
}

// AddFlags registers the compilation flags with a flag set.
func (c *Compiler) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.Fallback, "fallback", "warn", "policy for functions that exceed the unit size limit: fail, warn, or silent")
	flags.Var(&c.Interpreted, "interpreted", "comma-separated indices of functions that are always interpreted")
	flags.IntVar(&c.MaxUnitSize, "max-unit-size", 0, "the maximum number of statements in one compiled function")
	flags.IntVar(&c.MaxFunctionsPerUnit, "unit-functions", 0, "the maximum number of functions grouped into one unit")
	flags.StringVar(&c.Cache, "cache", "", "a translation cache: a directory, 'pebble:DIR', or 'memory'")
}

// Config builds a compiler configuration from the flags. The returned function releases the translation cache.
func (c *Compiler) Config() (*compiler.Config, func() error, error) {
	fallback, err := compiler.ParseFallback(c.Fallback)
	if err != nil {
		return nil, nil, err
	}

	config := &compiler.Config{
		Fallback:            fallback,
		Interpreted:         c.Interpreted.Bits(),
		MaxUnitSize:         c.MaxUnitSize,
		MaxFunctionsPerUnit: c.MaxFunctionsPerUnit,
	}

	release := func() error { return nil }
	if c.Cache != "" {
		tc, closer, err := cache.Open(c.Cache)
		if err != nil {
			return nil, nil, err
		}
		config.Cache, release = tc, closer.Close
	}
	return config, release, nil
}
