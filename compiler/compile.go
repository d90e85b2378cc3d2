// Package compiler translates the functions of a module ahead of time into structured statement trees and binds
// them to instances as Go closures. Block, loop, and if become nested statement lists, and branches become
// structured exits from those lists, so compiled control flow never jumps through a table of instruction
// offsets. Functions that cannot be compiled are left to the interpreter according to the configured policy.
package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/willf/bitset"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pgavlin/tandem/load"
	"github.com/pgavlin/tandem/wasm"
	"github.com/pgavlin/tandem/wasm/code"
	"github.com/pgavlin/tandem/wasm/leb128"
)

// A Program is the compiled form of a module: a list of units plus the set of functions that run in the
// interpreter.
type Program struct {
	name        string
	imports     uint32
	defined     int
	units       []*Unit
	functions   []*Function // indexed by defined function; nil for interpreted functions
	interpreted *bitset.BitSet
}

// Name returns the name of the compiled module.
func (p *Program) Name() string {
	return p.name
}

// Units returns the program's compiled units.
func (p *Program) Units() []*Unit {
	return p.units
}

// Function returns the compiled function at the given index in the function index space, if any.
func (p *Program) Function(funcidx uint32) (*Function, bool) {
	if funcidx < p.imports || funcidx-p.imports >= uint32(len(p.functions)) {
		return nil, false
	}
	f := p.functions[funcidx-p.imports]
	return f, f != nil
}

// Interpreted returns the indices of the module-defined functions that run in the interpreter.
func (p *Program) Interpreted() *bitset.BitSet {
	return p.interpreted.Clone()
}

// IsInterpreted returns true if the module-defined function at funcidx runs in the interpreter.
func (p *Program) IsInterpreted(funcidx uint32) bool {
	return p.interpreted.Test(uint(funcidx))
}

// translations deduplicates concurrent translations of identical functions across Compile calls.
var translations singleflight.Group

type compilation struct {
	config Config
	scope  code.Scope
	shape  []byte
	log    *zap.Logger
}

// shape digests the parts of a module that the translation of a function body depends on: its types, the
// signatures of its functions, and the types of its globals.
func shape(m *load.Module) []byte {
	var buf []byte
	sig := func(params, results []wasm.ValueType) {
		buf = leb128.AppendVarUint64(buf, uint64(len(params)))
		for _, t := range params {
			buf = append(buf, byte(t))
		}
		buf = leb128.AppendVarUint64(buf, uint64(len(results)))
		for _, t := range results {
			buf = append(buf, byte(t))
		}
	}

	buf = leb128.AppendVarUint64(buf, uint64(len(m.Types)))
	for _, t := range m.Types {
		sig(t.ParamTypes, t.ReturnTypes)
	}
	buf = leb128.AppendVarUint64(buf, uint64(len(m.ImportedFunctions)))
	for _, t := range m.ImportedFunctions {
		buf = leb128.AppendVarUint64(buf, uint64(t))
	}
	buf = leb128.AppendVarUint64(buf, uint64(len(m.Functions)))
	for i := range m.Functions {
		buf = leb128.AppendVarUint64(buf, uint64(m.Functions[i].TypeIndex))
	}
	globals := m.Globals()
	buf = leb128.AppendVarUint64(buf, uint64(len(globals)))
	for _, g := range globals {
		buf = append(buf, byte(g.Type))
	}

	sum := blake2b.Sum256(buf)
	return sum[:]
}

// Key returns the cache key of a function: a BLAKE2b-256 digest of its body and locals, the shape of its module,
// and the parts of the configuration that affect translation.
func Key(m *load.Module, fn *load.Function, config *Config) []byte {
	return key(shape(m), fn, config)
}

func key(shape []byte, fn *load.Function, config *Config) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}

	buf := append([]byte(config.fingerprint()), shape...)
	buf = leb128.AppendVarUint64(buf, uint64(fn.TypeIndex))
	buf = leb128.AppendVarUint64(buf, uint64(len(fn.Locals)))
	for _, t := range fn.Locals {
		buf = append(buf, byte(t))
	}
	h.Write(buf)
	h.Write(fn.Code)
	return h.Sum(nil)
}

// translate translates a function, consulting the cache and sharing in-flight translations of identical
// functions.
func (c *compilation) translate(fn *load.Function) (*Function, error) {
	k := key(c.shape, fn, &c.config)

	v, err, _ := translations.Do(string(k), func() (interface{}, error) {
		if c.config.Cache != nil {
			data, ok, err := c.config.Cache.Get(k)
			if err != nil {
				c.log.Warn("cache read failed", zap.Uint32("function", fn.Index), zap.Error(err))
			} else if ok {
				f, err := DecodeFunction(data)
				if err == nil {
					return f, nil
				}
				c.log.Warn("discarding malformed cache entry", zap.Uint32("function", fn.Index), zap.Error(err))
			}
		}

		f, err := Translate(c.scope, fn)
		if err != nil {
			return nil, err
		}
		if c.config.Cache != nil {
			if _, err := c.config.Cache.PutIfAbsent(k, EncodeFunction(f)); err != nil {
				c.log.Warn("cache write failed", zap.Uint32("function", fn.Index), zap.Error(err))
			}
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}

	// Identical bodies may appear at different indices.
	f := *v.(*Function)
	f.Index = fn.Index
	return &f, nil
}

// Compile translates the functions of a module. Functions named by config.Interpreted are skipped. Functions
// whose translation exceeds the size limit are handled according to config.Fallback.
func Compile(ctx context.Context, m *load.Module, config *Config) (*Program, error) {
	c := compilation{config: config.withDefaults(), scope: code.NewStaticScope(m.Module), shape: shape(m)}
	c.log = c.config.Logger

	imports := uint32(m.NumImportedFunctions())
	name := c.config.UnitName
	if name == "" {
		name = m.Name
	}
	if name == "" {
		name = "unit"
	}

	p := &Program{
		name:        name,
		imports:     imports,
		defined:     len(m.Functions),
		functions:   make([]*Function, len(m.Functions)),
		interpreted: bitset.New(uint(int(imports) + len(m.Functions))),
	}

	var candidates []int
	for i := range m.Functions {
		if c.config.Interpreted != nil && c.config.Interpreted.Test(uint(m.Functions[i].Index)) {
			p.interpreted.Set(uint(m.Functions[i].Index))
			continue
		}
		candidates = append(candidates, i)
	}

	// Units translate in parallel. Each writes only its own entries of p.functions.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Parallelism)
	for start := 0; start < len(candidates); start += c.config.MaxFunctionsPerUnit {
		end := start + c.config.MaxFunctionsPerUnit
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		g.Go(func() error {
			for _, i := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}
				f, err := c.translate(&m.Functions[i])
				if err != nil {
					return err
				}
				p.functions[i] = f
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Apply the size policy in index order so that FAIL reports the lowest offending index and WARN logs in a
	// stable order.
	for _, i := range candidates {
		f := p.functions[i]
		if f.Size <= c.config.MaxUnitSize {
			continue
		}
		switch c.config.Fallback {
		case FallbackFail:
			return nil, &LimitError{Function: f.Index, Size: f.Size, Limit: c.config.MaxUnitSize}
		case FallbackWarn:
			c.log.Warn("function exceeds the compiled size limit; it will be interpreted",
				zap.Uint32("function", f.Index),
				zap.Int("size", f.Size),
				zap.Int("limit", c.config.MaxUnitSize))
		}
		p.functions[i] = nil
		p.interpreted.Set(uint(f.Index))
	}

	var compiled []*Function
	for _, f := range p.functions {
		if f != nil {
			compiled = append(compiled, f)
		}
	}
	p.units = groupUnits(name, compiled, c.config.MaxFunctionsPerUnit)

	c.log.Debug("compiled module",
		zap.String("name", name),
		zap.Int("compiled", len(compiled)),
		zap.Uint("interpreted", p.interpreted.Count()),
		zap.Int("units", len(p.units)))
	return p, nil
}

func groupUnits(name string, functions []*Function, size int) []*Unit {
	var units []*Unit
	for start := 0; start < len(functions); start += size {
		end := start + size
		if end > len(functions) {
			end = len(functions)
		}
		units = append(units, &Unit{
			Index:     len(units),
			Name:      fmt.Sprintf("%s_%d", name, len(units)),
			Functions: functions[start:end:end],
		})
	}
	return units
}

// newProgram reassembles a program from decoded units.
func newProgram(name string, imports uint32, defined int, units []*Unit) (*Program, error) {
	p := &Program{
		name:        name,
		imports:     imports,
		defined:     defined,
		units:       units,
		functions:   make([]*Function, defined),
		interpreted: bitset.New(uint(int(imports) + defined)),
	}
	for _, u := range units {
		for _, f := range u.Functions {
			if f.Index < imports || f.Index-imports >= uint32(defined) {
				return nil, fmt.Errorf("unit %v: function index %d out of range", u.Name, f.Index)
			}
			if p.functions[f.Index-imports] != nil {
				return nil, fmt.Errorf("unit %v: duplicate function %d", u.Name, f.Index)
			}
			p.functions[f.Index-imports] = f
		}
	}
	for i, f := range p.functions {
		if f == nil {
			p.interpreted.Set(uint(imports) + uint(i))
		}
	}
	sort.Slice(p.units, func(i, j int) bool { return p.units[i].Index < p.units[j].Index })
	return p, nil
}
