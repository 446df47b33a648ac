package heatmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositMassAndCenter(t *testing.T) {
	t.Parallel()

	s, err := NewSurface(200, 200, Config{Sigma: 5, Policy: PolicyCumulative})
	require.NoError(t, err)

	s.Deposit(100, 100, 0.8, 0)

	// A fully interior kernel deposits exactly its confidence as mass.
	assert.InDelta(t, 0.8, s.Mass(), 1e-9)

	snap := s.Snapshot()
	// The peak sits at the deposit center.
	peak := snap.Weights[100*snap.W+100]
	assert.InDelta(t, snap.Max, peak, 1e-12)
	assert.Greater(t, peak, snap.Weights[100*snap.W+120])
	assert.Equal(t, int64(1), snap.Deposits)
}

func TestDepositClippedAtBorder(t *testing.T) {
	t.Parallel()

	s, err := NewSurface(50, 50, Config{Sigma: 5, Policy: PolicyCumulative})
	require.NoError(t, err)

	s.Deposit(0, 0, 1.0, 0)
	mass := s.Mass()
	assert.Greater(t, mass, 0.0)
	assert.Less(t, mass, 1.0, "clipped kernel deposits less than unit mass")
}

func TestZeroConfidenceDepositsNothing(t *testing.T) {
	t.Parallel()

	s, err := NewSurface(50, 50, Config{Sigma: 3, Policy: PolicyCumulative})
	require.NoError(t, err)
	s.Deposit(25, 25, 0, 0)
	assert.Zero(t, s.Mass())
	assert.Zero(t, s.Snapshot().Deposits)
}

func TestCumulativePolicyNeverFades(t *testing.T) {
	t.Parallel()

	s, err := NewSurface(100, 100, Config{Sigma: 3, Policy: PolicyCumulative, DecayHalfLife: 1})
	require.NoError(t, err)

	s.Deposit(50, 50, 1.0, 0)
	s.Deposit(50, 50, 1.0, int64(time.Hour))
	assert.InDelta(t, 2.0, s.Mass(), 1e-9)
}

func TestDecayingPolicyFadesOlderMass(t *testing.T) {
	t.Parallel()

	halfLife := 2.0 // seconds
	s, err := NewSurface(100, 100, Config{Sigma: 3, Policy: PolicyDecaying, DecayHalfLife: halfLife})
	require.NoError(t, err)

	s.Deposit(50, 50, 1.0, 0)
	require.InDelta(t, 1.0, s.Mass(), 1e-9)

	// One half-life later the old mass has halved; the new deposit is whole.
	s.Deposit(50, 50, 1.0, int64(2*time.Second))
	assert.InDelta(t, 1.5, s.Mass(), 1e-6)

	// Another half-life, no new deposits: snapshot reflects the fade.
	s.Deposit(20, 20, 0.0, int64(4*time.Second)) // zero deposit, no decay tick
	snap := s.Snapshot()
	assert.InDelta(t, 1.5, sum(snap.Weights), 1e-6, "decay advances on deposits, not on snapshots")
}

func TestUnknownPolicyRejected(t *testing.T) {
	t.Parallel()

	_, err := NewSurface(10, 10, Config{Sigma: 3, Policy: Policy("sliding")})
	assert.Error(t, err)
}

func sum(vs []float64) float64 {
	total := 0.0
	for _, v := range vs {
		total += v
	}
	return total
}
