package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDegrader_DisableCascadesToDependents(t *testing.T) {
	d := NewDegrader()
	require.NoError(t, d.Register("memory", "vector memory"))
	require.NoError(t, d.Register("recall", "similarity recall"))
	require.NoError(t, d.Register("reactive_recall", "reactive fallback recall"))
	require.NoError(t, d.AddDependency("recall", "memory"))
	require.NoError(t, d.AddDependency("reactive_recall", "recall"))

	require.NoError(t, d.Disable("memory"))
	assert.False(t, d.Enabled("memory"))
	assert.False(t, d.Enabled("recall"))
	assert.False(t, d.Enabled("reactive_recall"))
	assert.Equal(t, []string{"memory", "reactive_recall", "recall"}, d.Disabled())

	require.NoError(t, d.Enable("memory"))
	assert.True(t, d.Enabled("memory"))
	assert.False(t, d.Enabled("recall"))
}

func TestDegrader_Errors(t *testing.T) {
	d := NewDegrader()
	require.NoError(t, d.Register("a", ""))
	assert.ErrorIs(t, d.Register("a", ""), ErrFeatureRegistered)
	assert.ErrorIs(t, d.Disable("missing"), ErrFeatureNotFound)
	assert.ErrorIs(t, d.Enable("missing"), ErrFeatureNotFound)
	assert.ErrorIs(t, d.AddDependency("a", "missing"), ErrFeatureNotFound)
	assert.ErrorIs(t, d.Fallback("a"), ErrNoFallback)
	assert.True(t, d.Enabled("unregistered"))
}

func TestDegrader_Run(t *testing.T) {
	d := NewDegrader()
	fallbacks := 0
	d.SetFallback("recall", func() error {
		fallbacks++
		return nil
	})

	require.NoError(t, d.Run("recall", func() error { return nil }))
	assert.Zero(t, fallbacks)

	require.NoError(t, d.Run("recall", func() error { return errBoom }))
	assert.Equal(t, 1, fallbacks)

	require.NoError(t, d.Disable("recall"))
	ran := false
	require.NoError(t, d.Run("recall", func() error {
		ran = true
		return nil
	}))
	assert.False(t, ran)
	assert.Equal(t, 2, fallbacks)

	features := d.Features()
	require.Len(t, features, 1)
	assert.Equal(t, uint32(2), features[0].FallbackExecutions)
	assert.Equal(t, uint32(1), features[0].DisableCount)
	assert.True(t, features[0].HasFallback)
}

func TestDegrader_RunWithoutFallback(t *testing.T) {
	d := NewDegrader()
	require.NoError(t, d.Register("store", ""))

	err := d.Run("store", func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)

	require.NoError(t, d.Disable("store"))
	err = d.Run("store", func() error { return nil })
	assert.ErrorIs(t, err, ErrFeatureDisabled)

	failing := errors.New("fallback failed")
	d.SetFallback("store", func() error { return failing })
	assert.ErrorIs(t, d.Run("store", func() error { return nil }), failing)
}
