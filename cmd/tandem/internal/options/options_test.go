package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/tandem/cache"
	"github.com/pgavlin/tandem/compiler"
)

func TestParseFunctionSet(t *testing.T) {
	set, err := ParseFunctionSet("3,5, 8-10")
	require.NoError(t, err)

	var indices []uint
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		indices = append(indices, i)
	}
	assert.Equal(t, []uint{3, 5, 8, 9, 10}, indices)

	for _, bad := range []string{"x", "3-", "5-3", "-1"} {
		_, err := ParseFunctionSet(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompilerConfig(t *testing.T) {
	var c Compiler
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"--fallback", "silent",
		"--interpreted", "1,2",
		"--max-unit-size", "100",
		"--unit-functions", "4",
		"--cache", "memory",
	}))

	config, release, err := c.Config()
	require.NoError(t, err)
	defer release()

	assert.Equal(t, compiler.FallbackSilent, config.Fallback)
	assert.True(t, config.Interpreted.Test(1))
	assert.True(t, config.Interpreted.Test(2))
	assert.False(t, config.Interpreted.Test(0))
	assert.Equal(t, 100, config.MaxUnitSize)
	assert.Equal(t, 4, config.MaxFunctionsPerUnit)
	assert.IsType(t, &cache.Memory{}, config.Cache)
}

func TestCompilerConfigDefaults(t *testing.T) {
	var c Compiler
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flags)
	require.NoError(t, flags.Parse(nil))

	config, _, err := c.Config()
	require.NoError(t, err)
	assert.Equal(t, compiler.FallbackWarn, config.Fallback)
	assert.Nil(t, config.Interpreted)
	assert.Nil(t, config.Cache)

	c.Fallback = "sometimes"
	_, _, err = c.Config()
	assert.Error(t, err)
}
