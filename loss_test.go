package dpgbdt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeastSquaresGradient(t *testing.T) {
	ls := LeastSquares{}
	y := []float64{1, 2, 3}
	raw := [][]float64{{1.5, 2.5, 2.5}}
	g := ls.Gradient(y, raw, 0)
	require.InDeltaSlice(t, []float64{0.5, 0.5, -0.5}, g, 1e-9)
}

func TestLeastSquaresInitScoreIsMean(t *testing.T) {
	ls := LeastSquares{}
	require.InDelta(t, 2.0, ls.InitScore([]float64{1, 2, 3})[0], 1e-9)
}

func TestBinomialDevianceGradientAtZero(t *testing.T) {
	bd := BinomialDeviance{}
	g := bd.Gradient([]float64{1}, [][]float64{{0}}, 0)
	require.InDelta(t, -0.5, g[0], 1e-9)
}

func TestBinomialDevianceRawToLabel(t *testing.T) {
	bd := BinomialDeviance{}
	require.Equal(t, 1.0, bd.RawToLabel([]float64{2}))
	require.Equal(t, 0.0, bd.RawToLabel([]float64{-2}))
}

func TestMultinomialDevianceGradientSumsToZero(t *testing.T) {
	m := MultinomialDeviance{Classes: 3}
	y := []float64{0, 1, 2}
	raw := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	var sum [3]float64
	for k := 0; k < 3; k++ {
		g := m.Gradient(y, raw, k)
		for i := range g {
			sum[i] += g[i]
		}
	}
	for _, s := range sum {
		require.InDelta(t, 0, s, 1e-9)
	}
}

func TestMultinomialLeafValueDenominatorGuard(t *testing.T) {
	m := MultinomialDeviance{Classes: 2}
	// g and y chosen so y+g is ~0 for every row, driving denom below the guard.
	g := []float64{0, 0}
	y := []float64{0, 0}
	require.Equal(t, 0.0, m.LeafValue(g, y, 0.1))
}

func TestSigmoidBounds(t *testing.T) {
	require.InDelta(t, 0.5, sigmoid(0), 1e-9)
	require.Less(t, sigmoid(-100), 1e-6)
	require.Greater(t, sigmoid(100), 1-1e-6)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	p := softmax([]float64{1, 2, 3})
	var sum float64
	for _, v := range p {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-9)
}

func TestLossForSelection(t *testing.T) {
	require.IsType(t, LeastSquares{}, lossFor(NewConfig()))
	require.IsType(t, BinomialDeviance{}, lossFor(NewConfig(WithClassification(2))))
	require.IsType(t, LeastSquares{}, lossFor(NewConfig(WithClassification(2), func(c *Config) { c.BinaryAsRegression = true })))
	require.IsType(t, MultinomialDeviance{}, lossFor(NewConfig(WithClassification(3))))
}

func TestGather(t *testing.T) {
	vals := []float64{10, 20, 30, 40}
	require.Equal(t, []float64{20, 40}, gather(vals, []int{1, 3}))
}

func TestBinomialScoreIsLogLoss(t *testing.T) {
	bd := BinomialDeviance{}
	y := []float64{1, 0}
	raw := [][]float64{{0, 0}}
	want := -math.Log(0.5)
	require.InDelta(t, want, bd.Score(y, raw), 1e-9)
}
