package dpgbdt

import (
	"math"
	"runtime"
	"sync"

	"github.com/unixpickle/essentials"
)

// splitCandidate is one legal (feature, value, gain) triple a node's split
// search produced. Feeding the full list to selectSplit (rather than only
// the best one) is what lets NoiseMechanisms run the exponential mechanism.
type splitCandidate struct {
	Feature int
	Value   float64
	Gain    float64
}

// splitScorer evaluates candidate splits for one node's row set.
type splitScorer struct {
	ds      Dataset
	grad    []float64 // length Rows(ds), valid at indices in pos/sibling
	catSet  map[int]bool
	lambda  float64
	numCols int
}

// candidates returns every legal split across every feature for pos, the
// node's own rows. When sibling is non-nil (3-node mode, non-root), the
// gain of each candidate threshold is computed over pos ∪ sibling, while
// legality (both sides non-empty) is still judged on pos alone, matching
// the reference prototype's ComputeGain.
func (s *splitScorer) candidates(pos, sibling []int) []splitCandidate {
	featureChan := make(chan int, s.numCols)
	for f := 0; f < s.numCols; f++ {
		featureChan <- f
	}
	close(featureChan)

	resultChan := make(chan []splitCandidate, s.numCols)
	workers := runtime.GOMAXPROCS(0)
	if workers > s.numCols {
		workers = s.numCols
	}
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feature := range featureChan {
				resultChan <- s.candidatesForFeature(pos, sibling, feature)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var all []splitCandidate
	for c := range resultChan {
		all = append(all, c...)
	}
	return all
}

func (s *splitScorer) candidatesForFeature(pos, sibling []int, feature int) []splitCandidate {
	sorted, vals := s.sortByFeature(pos, feature)
	if len(sorted) == 0 {
		return nil
	}

	var out []splitCandidate
	cat := s.catSet[feature]
	if cat {
		seen := map[float64]bool{}
		for _, v := range vals {
			if seen[v] {
				continue
			}
			seen[v] = true
			left, right := s.partition(pos, feature, v)
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			out = append(out, s.scoreCandidate(pos, sibling, feature, v, left, right))
		}
		return out
	}

	lastValue := vals[0]
	for i := 1; i < len(sorted); i++ {
		if vals[i] == lastValue {
			continue
		}
		threshold := (vals[i] + lastValue) / 2
		left, right := sorted[:i], sorted[i:]
		if len(left) > 0 && len(right) > 0 {
			out = append(out, s.scoreCandidate(pos, sibling, feature, threshold, left, right))
		}
		lastValue = vals[i]
	}
	return out
}

func (s *splitScorer) scoreCandidate(pos, sibling []int, feature int, value float64, left, right []int) splitCandidate {
	gl, gr := left, right
	if sibling != nil {
		union := make([]int, 0, len(pos)+len(sibling))
		union = append(union, pos...)
		union = append(union, sibling...)
		gl, gr = s.partition(union, feature, value)
	}
	return splitCandidate{Feature: feature, Value: value, Gain: s.gain(gl, gr)}
}

// gain computes (ΣL_g)^2/(|L|+λ) + (ΣR_g)^2/(|R|+λ), clamped to >= 0.
func (s *splitScorer) gain(left, right []int) float64 {
	sl := s.sumGrad(left)
	sr := s.sumGrad(right)
	g := sl*sl/(float64(len(left))+s.lambda) + sr*sr/(float64(len(right))+s.lambda)
	if g < 0 || math.IsNaN(g) {
		return 0
	}
	return g
}

func (s *splitScorer) sumGrad(pos []int) float64 {
	var sum float64
	for _, r := range pos {
		sum += s.grad[r]
	}
	return sum
}

func (s *splitScorer) partition(pos []int, feature int, value float64) (left, right []int) {
	left = make([]int, 0, len(pos))
	right = make([]int, 0, len(pos))
	cat := s.catSet[feature]
	for _, r := range pos {
		v := s.ds.At(r, feature)
		var goRight bool
		if cat {
			goRight = v == value
		} else {
			goRight = v >= value
		}
		if goRight {
			right = append(right, r)
		} else {
			left = append(left, r)
		}
	}
	return left, right
}

// sortByFeature sorts pos by feature value, mirroring the teacher's
// sortByFeature/VoodooSort split-search idiom.
func (s *splitScorer) sortByFeature(pos []int, feature int) ([]int, []float64) {
	vals := make([]float64, len(pos))
	sorted := make([]int, len(pos))
	copy(sorted, pos)
	for i, r := range pos {
		vals[i] = s.ds.At(r, feature)
	}
	essentials.VoodooSort(vals, func(i, j int) bool {
		return vals[i] < vals[j]
	}, sorted)
	return sorted, vals
}

// argmaxPositive picks the highest-gain candidate among those with strictly
// positive gain, used for the non-DP growth path.
func argmaxPositive(candidates []splitCandidate) (*splitCandidate, bool) {
	best := -1
	for i, c := range candidates {
		if c.Gain <= 0 {
			continue
		}
		if best == -1 || c.Gain > candidates[best].Gain {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	return &candidates[best], true
}
