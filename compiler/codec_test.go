package compiler

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/tandem/internal/wasmtest"
)

func TestUnitCodec(t *testing.T) {
	for _, s := range wasmtest.Scenarios() {
		s := s
		t.Run(s.Name, func(t *testing.T) {
			p, err := Compile(context.Background(), s.Module().Load(t), &Config{MaxFunctionsPerUnit: 3})
			require.NoError(t, err)

			for _, u := range p.Units() {
				decoded, err := DecodeUnit(EncodeUnit(u))
				require.NoError(t, err)
				if diff := cmp.Diff(u, decoded, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("unit %v changed (-want +got):\n%s", u.Name, diff)
				}
			}
		})
	}
}

func TestFunctionCodec(t *testing.T) {
	f := translateFunc(t, wasmtest.LoopSum().Load(t), 0)

	decoded, err := DecodeFunction(EncodeFunction(f))
	require.NoError(t, err)
	if diff := cmp.Diff(f, decoded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("function changed (-want +got):\n%s", diff)
	}
}

func TestMalformedUnits(t *testing.T) {
	p, err := Compile(context.Background(), wasmtest.Fib().Load(t), nil)
	require.NoError(t, err)
	require.Len(t, p.Units(), 1)

	_, err = DecodeUnit([]byte("not a unit"))
	assert.ErrorIs(t, err, ErrBadUnit)

	// A well-compressed payload with a bad header.
	_, err = DecodeUnit(compress([]byte("TNDX\x01")))
	assert.ErrorIs(t, err, ErrBadUnit)

	// A future version.
	_, err = DecodeUnit(compress([]byte("TNDU\x09")))
	assert.ErrorIs(t, err, ErrBadUnit)

	// Truncated statements.
	raw, err := decompress(EncodeUnit(p.Units()[0]))
	require.NoError(t, err)
	for _, n := range []int{6, len(raw) / 2, len(raw) - 1} {
		_, err = DecodeUnit(compress(raw[:n]))
		assert.ErrorIs(t, err, ErrBadUnit, "truncated to %d bytes", n)
	}
}
