package dpgbdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSelectSplitMatchesWorkedExample reproduces the gains=[0,0,10,-1], eps=1,
// deltaG=3 worked example: candidate 2 (gain 10) should be picked with
// probability approximately 0.723 under repeated draws.
func TestSelectSplitMatchesWorkedExample(t *testing.T) {
	candidates := []splitCandidate{
		{Feature: 0, Value: 0, Gain: 0},
		{Feature: 1, Value: 0, Gain: 0},
		{Feature: 2, Value: 0, Gain: 10},
		{Feature: 3, Value: 0, Gain: -1},
	}
	rng := rand.New(rand.NewSource(1))
	const trials = 20000
	picks := map[int]int{}
	for i := 0; i < trials; i++ {
		split, ok := selectSplit(rng, candidates, 1.0, 3.0)
		require.True(t, ok)
		picks[split.Feature]++
	}
	p2 := float64(picks[2]) / trials
	require.InDelta(t, 0.723, p2, 0.02)
	require.Zero(t, picks[3], "a strictly negative gain candidate must never be selected")
}

func TestSelectSplitNoPositiveGainReturnsFalse(t *testing.T) {
	candidates := []splitCandidate{
		{Feature: 0, Gain: -1},
		{Feature: 1, Gain: -2},
	}
	rng := rand.New(rand.NewSource(1))
	_, ok := selectSplit(rng, candidates, 1.0, 3.0)
	require.False(t, ok)
}

func TestSelectSplitEmptyCandidates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, ok := selectSplit(rng, nil, 1.0, 3.0)
	require.False(t, ok)
}

func TestDeltaG(t *testing.T) {
	require.InDelta(t, 3*4.0, deltaG(2), 1e-9)
}

func TestDeltaVTakesMinimum(t *testing.T) {
	// Early tree index: the geometric term dominates and is larger than the
	// lambda-bounded term, so deltaV should pick the bounded term.
	g, lambda, eta := 1.0, 0.1, 0.1
	got := deltaV(g, lambda, eta, 0)
	require.InDelta(t, g/(1+lambda), got, 1e-9)
}

func TestSampleLaplaceIsCenteredAtZero(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 20000
	var sum float64
	for i := 0; i < n; i++ {
		sum += sampleLaplace(rng, 1.0)
	}
	mean := sum / n
	require.InDelta(t, 0, mean, 0.05)
}

func TestSubSeedDeterministic(t *testing.T) {
	a := subSeed(7, 1, 2, 3)
	b := subSeed(7, 1, 2, 3)
	require.Equal(t, a, b)
	c := subSeed(7, 1, 2, 4)
	require.NotEqual(t, a, c)
}

func TestSubRNGIndependentStreams(t *testing.T) {
	r1 := subRNG(0, 0, 0, 0)
	r2 := subRNG(0, 0, 0, 1)
	require.NotEqual(t, r1.Float64(), r2.Float64())
}

func TestMaxExponentialRedrawsBound(t *testing.T) {
	require.Equal(t, 10, maxExponentialRedraws)
}

func TestSelectSplitSingleCandidate(t *testing.T) {
	candidates := []splitCandidate{{Feature: 0, Gain: 5}}
	rng := rand.New(rand.NewSource(1))
	split, ok := selectSplit(rng, candidates, 1.0, 3.0)
	require.True(t, ok)
	require.Equal(t, 0, split.Feature)
}
