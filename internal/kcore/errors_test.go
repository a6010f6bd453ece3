package kcore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constKernel stubs just the constant table; other capabilities are unused.
type constKernel struct {
	Kernel
	consts map[string]uint64
	broken map[string]error
}

func (k *constKernel) Constant(name string) (uint64, error) {
	if err, ok := k.broken[name]; ok {
		return 0, err
	}
	if v, ok := k.consts[name]; ok {
		return v, nil
	}
	return 0, &SymbolNotFoundError{Names: []string{name}}
}

func TestLookupConstant_FirstNameWins(t *testing.T) {
	k := &constKernel{consts: map[string]uint64{"OLD_NAME": 4, "NEW_NAME": 8}}
	v, err := LookupConstant(k, "OLD_NAME", "NEW_NAME")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v)
}

func TestLookupConstant_FallsBack(t *testing.T) {
	k := &constKernel{consts: map[string]uint64{"NEW_NAME": 8}}
	v, err := LookupConstant(k, "OLD_NAME", "NEW_NAME")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), v)
}

func TestLookupConstant_AllMissing(t *testing.T) {
	k := &constKernel{}
	_, err := LookupConstant(k, "OLD_NAME", "NEW_NAME")
	require.Error(t, err)

	var notFound *SymbolNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, []string{"OLD_NAME", "NEW_NAME"}, notFound.Names)
	assert.Contains(t, err.Error(), "OLD_NAME")
	assert.Contains(t, err.Error(), "NEW_NAME")
}

func TestLookupConstant_ReadFailureIsNotSwallowed(t *testing.T) {
	readErr := fmt.Errorf("page not present")
	k := &constKernel{
		broken: map[string]error{"OLD_NAME": readErr},
		consts: map[string]uint64{"NEW_NAME": 8},
	}
	_, err := LookupConstant(k, "OLD_NAME", "NEW_NAME")
	require.Error(t, err)

	var notFound *SymbolNotFoundError
	assert.False(t, errors.As(err, &notFound))
}
