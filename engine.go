package dpgbdt

import (
	"context"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// Engine fits a differentially-private (or, with PrivacyBudget == 0,
// vanilla) gradient-boosted ensemble according to a Config.
type Engine struct {
	Config *Config
}

// NewEngine validates cfg and returns an Engine that will use it.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{Config: cfg}, nil
}

// Fit trains an Ensemble on ds. If ctx is cancelled at a round boundary,
// Fit returns the partial Ensemble built so far alongside a CancelledError;
// every other error leaves the returned Ensemble nil.
func (e *Engine) Fit(ctx context.Context, ds Dataset) (*Ensemble, error) {
	logger := newLogger(e.Config.Verbosity)
	cfg := e.Config.clamped(logger)
	loss := lossFor(cfg)
	k := loss.K()

	n := ds.Rows()
	numFeatures := ds.Features()
	kinds := cfg.featureKinds(numFeatures)
	if len(cfg.CatIdx) == 0 {
		if kp, ok := ds.(kindsProvider); ok {
			kinds = kp.Kinds()
		}
	}

	allY := make([]float64, n)
	for i := 0; i < n; i++ {
		allY[i] = ds.Label(i)
	}

	trainIdx, valIdx := splitValidation(n, cfg.ValidationFraction, cfg.Seed)

	ensemble := &Ensemble{
		Loss:         loss,
		Config:       *cfg,
		InitScore:    loss.InitScore(gather(allY, trainIdx)),
		NumFeatures:  numFeatures,
		FeatureKinds: kinds,
	}

	numEnsembles := ceilDiv(cfg.NBTrees, cfg.NBTreesPerEnsemble)
	epsEnsemble := cfg.PrivacyBudget / float64(numEnsembles)
	epsTree := epsEnsemble
	if k > 1 {
		epsTree /= float64(k)
	}

	var (
		pool             []int
		gradAll          [][]float64 // [k][row], valid for row indices in pool (and previously)
		updateGradients  = true
		prevScore        = math.Inf(1)
		earlyStopCounter = cfg.EarlyStop
	)

	targetFor := func(k int) []float64 {
		if loss.K() == 1 {
			return allY
		}
		out := make([]float64, n)
		for i, y := range allY {
			if int(y) == k {
				out[i] = 1
			}
		}
		return out
	}
	targets := make([][]float64, k)
	for c := 0; c < k; c++ {
		targets[c] = targetFor(c)
	}

	for round := 0; round < cfg.NBTrees; round++ {
		if err := ctx.Err(); err != nil {
			completed := 0
			for _, r := range ensemble.Trees {
				completed += len(r)
			}
			return ensemble, &CancelledError{TreesCompleted: completed}
		}

		isNewEnsemble := round%cfg.NBTreesPerEnsemble == 0
		if isNewEnsemble {
			pool = append([]int{}, trainIdx...)
			gradAll = computeGradAll(loss, allY, ensemble, ds, trainIdx, k)
			updateGradients = false
		} else if updateGradients {
			gradAll = computeGradAll(loss, allY, ensemble, ds, pool, k)
			updateGradients = false
		}

		treeIdxInEnsemble := round % cfg.NBTreesPerEnsemble
		remainingTrees := cfg.NBTreesPerEnsemble - treeIdxInEnsemble
		if left := cfg.NBTrees - round; left < remainingTrees {
			remainingTrees = left
		}
		sizeBase := len(pool)
		if !cfg.BalancePartition {
			sizeBase = len(trainIdx)
		}
		batchSize := batchSizeFor(cfg, sizeBase, remainingTrees, round)
		if batchSize <= 0 {
			logger.Warnf("round %d: empty row batch, skipping", round)
			continue
		}
		if batchSize > len(pool) {
			batchSize = len(pool)
		}

		rngBatch := subRNG(cfg.Seed, round, -1, -1)
		batchRows := sampleWithoutReplacement(rngBatch, pool, batchSize)

		trees := make([]*Tree, k)
		g, _ := errgroup.WithContext(ctx)
		for c := 0; c < k; c++ {
			c := c
			grad := gradAll[c]
			if cfg.GradientFiltering {
				grad = clipGradient(grad, batchRows, cfg.L2Threshold)
			}
			g.Go(func() error {
				trees[c] = buildTree(ds, batchRows, grad, targets[c], kinds, loss, cfg, round, c, epsTree, logger)
				return nil
			})
		}
		_ = g.Wait()

		trialTrees := append(append([][]*Tree{}, ensemble.Trees...), trees)
		trialEnsemble := &Ensemble{Loss: loss, Config: *cfg, InitScore: ensemble.InitScore,
			Trees: trialTrees, NumFeatures: numFeatures, FeatureKinds: kinds}
		valRaw := trialEnsemble.predictRawPerClass(ds, valIdx)
		score := loss.Score(gather(allY, valIdx), valRaw)

		if score < prevScore {
			ensemble.Trees = trialTrees
			prevScore = score
			pool = removeAll(pool, batchRows)
			updateGradients = true
			earlyStopCounter = cfg.EarlyStop
			logger.Debugf("round %d: accepted, score=%.6f", round, score)
		} else {
			logger.Infof("round %d: rejected, score=%.6f >= previous %.6f", round, score, prevScore)
			updateGradients = k > 1
			if cfg.PrivacyBudget == 0 {
				earlyStopCounter--
				if earlyStopCounter <= 0 {
					logger.Infof("stopping early after %d non-improving rounds", cfg.EarlyStop)
					break
				}
			}
		}
	}

	return ensemble, nil
}

func computeGradAll(loss Loss, allY []float64, ensemble *Ensemble, ds Dataset, rows []int, k int) [][]float64 {
	raw := ensemble.predictRawPerClass(ds, rows)
	out := make([][]float64, k)
	y := gather(allY, rows)
	for c := 0; c < k; c++ {
		grad := loss.Gradient(y, raw, c)
		full := make([]float64, ds.Rows())
		for i, r := range rows {
			full[r] = grad[i]
		}
		out[c] = full
	}
	return out
}

func clipGradient(grad []float64, rows []int, bound float64) []float64 {
	out := append([]float64{}, grad...)
	for _, r := range rows {
		if out[r] > bound {
			out[r] = bound
		} else if out[r] < -bound {
			out[r] = -bound
		}
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// batchSizeFor implements the balanced and geometric row-batch schedules
// described for row sampling within one ensemble-of-rounds. The balanced
// schedule splits whatever rows remain in the pool evenly among the trees
// still to come in this ensemble-of-rounds (never re-adding the full count
// once any round has consumed rows). The geometric schedule follows
// |X|*eta*(1-eta)^u / (1-(1-eta)^T_per_ensemble), u being this tree's
// 0-based position within its ensemble-of-rounds. Fit passes the current
// pool size as poolSize for the balanced schedule and the training-set
// size |X| for the geometric one.
func batchSizeFor(cfg *Config, poolSize, remainingTrees, round int) int {
	if cfg.BalancePartition {
		if remainingTrees <= 0 {
			return 0
		}
		return poolSize / remainingTrees
	}
	eta := cfg.LearningRate
	u := round % cfg.NBTreesPerEnsemble
	numerator := float64(poolSize) * eta * math.Pow(1-eta, float64(u))
	denominator := 1 - math.Pow(1-eta, float64(cfg.NBTreesPerEnsemble))
	return int(numerator / denominator)
}

func sampleWithoutReplacement(rng *rand.Rand, pool []int, n int) []int {
	perm := rng.Perm(len(pool))
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

func removeAll(pool []int, remove []int) []int {
	removed := make(map[int]bool, len(remove))
	for _, r := range remove {
		removed[r] = true
	}
	out := make([]int, 0, len(pool)-len(remove))
	for _, p := range pool {
		if !removed[p] {
			out = append(out, p)
		}
	}
	return out
}

// splitValidation deterministically partitions [0, n) into a training set
// and a held-out validation set of size ceil(n*frac), matching the
// prototype's one-time test_size split performed at the start of Fit.
func splitValidation(n int, frac float64, seed int64) (train, val []int) {
	if frac == 0 {
		return allRows(n), nil
	}
	rng := subRNG(seed, -1, -1, -1)
	perm := rng.Perm(n)
	numVal := int(math.Ceil(float64(n) * frac))
	val = append(val, perm[:numVal]...)
	train = append(train, perm[numVal:]...)
	return train, val
}
