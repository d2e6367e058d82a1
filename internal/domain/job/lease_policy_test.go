package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicyRejectsNonPositiveDefault(t *testing.T) {
	_, err := NewLeasePolicy(0)
	require.ErrorIs(t, err, ErrInvalidDefaultLease)

	_, err = NewLeasePolicy(-time.Second)
	require.ErrorIs(t, err, ErrInvalidDefaultLease)
}

func TestLeasePolicyResolve(t *testing.T) {
	policy, err := NewLeasePolicy(30 * time.Second)
	require.NoError(t, err)

	t.Run("explicit duration passes through", func(t *testing.T) {
		decision := policy.Resolve(90 * time.Second)
		assert.Equal(t, 90*time.Second, decision.Lease)
		assert.Equal(t, LeaseSourceExplicit, decision.Source)
		assert.False(t, decision.UsedDefault())
	})

	t.Run("zero falls back to default", func(t *testing.T) {
		decision := policy.Resolve(0)
		assert.Equal(t, 30*time.Second, decision.Lease)
		assert.True(t, decision.UsedDefault())
	})

	t.Run("sub-second request clamps to minimum", func(t *testing.T) {
		decision := policy.Resolve(10 * time.Millisecond)
		assert.Equal(t, time.Second, decision.Lease)
		assert.True(t, decision.Clamped())
	})

	t.Run("negative request clamps to minimum", func(t *testing.T) {
		decision := policy.Resolve(-time.Minute)
		assert.Equal(t, time.Second, decision.Lease)
		assert.True(t, decision.Clamped())
	})
}

func TestNilLeasePolicyUsesZeroDefault(t *testing.T) {
	var policy *LeasePolicy
	decision := policy.Resolve(time.Minute)
	assert.Equal(t, time.Duration(0), decision.Lease)
	assert.True(t, decision.UsedDefault())
	assert.Equal(t, time.Duration(0), policy.Default())
}
