package dpgbdt

import (
	"runtime"
	"sync"
)

// Ensemble is a fitted DP-GBDT model: an initial score plus a sequence of
// boosting rounds, each contributing K trees (K == Loss.K()). Trees of
// round r, class k live at Trees[r][k]. Ensemble aggregation mirrors the
// teacher's Forest: a running score updated by a learning-rate-scaled
// contribution from each tree, except every tree (not a single geometric
// step) contributes additively, as gradient boosting requires.
type Ensemble struct {
	Loss         Loss
	Config       Config
	InitScore    []float64
	Trees        [][]*Tree
	NumFeatures  int
	FeatureKinds []FeatureKind
}

func (e *Ensemble) checkShape(ds Dataset) error {
	if ds.Features() != e.NumFeatures {
		return &ShapeError{Expected: e.NumFeatures, Got: ds.Features()}
	}
	return nil
}

// predictRawPerClass computes, for each class k and each requested row, the
// ensemble's raw (pre-decode) score. Rows are processed by a fixed-size
// worker pool, mirroring the teacher's goroutine/WaitGroup fan-out over
// features, applied here to rows instead.
func (e *Ensemble) predictRawPerClass(ds Dataset, rows []int) [][]float64 {
	k := e.Loss.K()
	out := make([][]float64, k)
	for c := range out {
		out[c] = make([]float64, len(rows))
	}
	if len(rows) == 0 {
		return out
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(rows) {
		workers = len(rows)
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (len(rows) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(rows) {
			break
		}
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				x := rowVec(ds, rows[i])
				for c := 0; c < k; c++ {
					acc := e.InitScore[c]
					for _, round := range e.Trees {
						acc += e.Config.LearningRate * round[c].Predict(x)
					}
					out[c][i] = acc
				}
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

func extractRow(raw [][]float64, i int) []float64 {
	out := make([]float64, len(raw))
	for k := range raw {
		out[k] = raw[k][i]
	}
	return out
}
