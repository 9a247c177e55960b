package dpgbdt

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func regressionDataset(t *testing.T, n, features int, seed int64) *MatrixDataset {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, features)
	for j := range weights {
		weights[j] = rng.NormFloat64()
	}
	x := make([]float64, n*features)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var label float64
		for j := 0; j < features; j++ {
			v := rng.NormFloat64()
			x[i*features+j] = v
			label += weights[j] * v
		}
		y[i] = label
	}
	ds, err := NewMatrixDataset(x, y, features, nil)
	require.NoError(t, err)
	return ds
}

func TestFitNonDPImprovesTrainingLoss(t *testing.T) {
	ds := regressionDataset(t, 400, 4, 1)
	cfg := NewConfig(WithPrivacyBudget(0), WithTrees(20, 20), WithDepth(3), WithSeed(1))
	cfg.ValidationFraction = 0.2
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	ensemble, err := engine.Fit(context.Background(), ds)
	require.NoError(t, err)
	require.NotEmpty(t, ensemble.Trees)

	preds, err := ensemble.Predict(ds)
	require.NoError(t, err)
	var mse float64
	for i, p := range preds {
		d := p - ds.Label(i)
		mse += d * d
	}
	mse /= float64(len(preds))

	initOnly := ensemble.InitScore[0]
	var baseline float64
	for i := 0; i < ds.Rows(); i++ {
		d := initOnly - ds.Label(i)
		baseline += d * d
	}
	baseline /= float64(ds.Rows())

	require.Less(t, mse, baseline)
}

func TestFitDPRunsWithBudget(t *testing.T) {
	ds := regressionDataset(t, 300, 3, 2)
	cfg := NewConfig(WithPrivacyBudget(2.0), WithTrees(10, 10), WithDepth(3), WithSeed(2))
	cfg.ValidationFraction = 0.2
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	ensemble, err := engine.Fit(context.Background(), ds)
	require.NoError(t, err)
	require.NotNil(t, ensemble)
}

func TestFitRejectsNonImprovingRound(t *testing.T) {
	// Pure noise target: almost every round should fail to improve validation
	// loss over the previous best, so the accepted tree count should stay
	// well below the round budget.
	rng := rand.New(rand.NewSource(3))
	n, features := 200, 2
	x := make([]float64, n*features)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	for i := range y {
		y[i] = rng.NormFloat64()
	}
	ds, err := NewMatrixDataset(x, y, features, nil)
	require.NoError(t, err)

	cfg := NewConfig(WithPrivacyBudget(0), WithTrees(30, 30), WithDepth(4), WithSeed(4))
	cfg.ValidationFraction = 0.3
	cfg.EarlyStop = 3
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	ensemble, err := engine.Fit(context.Background(), ds)
	require.NoError(t, err)
	require.Less(t, len(ensemble.Trees), 30)
}

func TestFitCancelledReturnsPartialEnsemble(t *testing.T) {
	ds := regressionDataset(t, 100, 2, 5)
	cfg := NewConfig(WithPrivacyBudget(0), WithTrees(50, 50), WithDepth(2), WithSeed(5))
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ensemble, err := engine.Fit(ctx, ds)
	require.Error(t, err)
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	require.NotNil(t, ensemble)
}

func TestFitClassification(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	n, features := 200, 3
	x := make([]float64, n*features)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < features; j++ {
			v := rng.NormFloat64()
			x[i*features+j] = v
			s += v
		}
		if s > 0 {
			y[i] = 1
		}
	}
	ds, err := NewMatrixDataset(x, y, features, nil)
	require.NoError(t, err)

	cfg := NewConfig(WithPrivacyBudget(0), WithTrees(15, 15), WithDepth(3), WithClassification(2), WithSeed(6))
	cfg.ValidationFraction = 0.2
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	ensemble, err := engine.Fit(context.Background(), ds)
	require.NoError(t, err)

	preds, err := ensemble.Predict(ds)
	require.NoError(t, err)
	var correct int
	for i, p := range preds {
		if p == ds.Label(i) {
			correct++
		}
	}
	require.Greater(t, correct, n/2)
}

func TestFitInfersFeatureKindsFromDataset(t *testing.T) {
	// catIdx comes from the Dataset itself, not the Config, so Fit must pick
	// it up via kindsProvider when Config.CatIdx is left unset.
	x := []float64{0, 1, 2, 0, 1, 2, 0, 1, 2}
	y := []float64{1, 2, 3, 1, 2, 3, 1, 2, 3}
	ds, err := NewMatrixDataset(x, y, 1, []int{0})
	require.NoError(t, err)

	cfg := NewConfig(WithPrivacyBudget(0), WithTrees(3, 3), WithDepth(2))
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	ensemble, err := engine.Fit(context.Background(), ds)
	require.NoError(t, err)
	require.Equal(t, []FeatureKind{FeatureCategorical}, ensemble.FeatureKinds)
}

func TestFitDeterministicUnderSeed(t *testing.T) {
	ds := regressionDataset(t, 150, 3, 9)
	cfg := NewConfig(WithPrivacyBudget(1.0), WithTrees(8, 8), WithDepth(3), WithSeed(42))
	cfg.ValidationFraction = 0.2

	e1, err := NewEngine(cfg)
	require.NoError(t, err)
	ens1, err := e1.Fit(context.Background(), ds)
	require.NoError(t, err)

	e2, err := NewEngine(cfg)
	require.NoError(t, err)
	ens2, err := e2.Fit(context.Background(), ds)
	require.NoError(t, err)

	p1, err := ens1.Predict(ds)
	require.NoError(t, err)
	p2, err := ens2.Predict(ds)
	require.NoError(t, err)
	require.InDeltaSlice(t, p1, p2, 1e-9)
}
