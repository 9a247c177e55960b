package dpgbdt

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// machineEpsilon is the float64 unit round-off, used as the base of the
// multinomial leaf-value denominator guard.
const machineEpsilon = 2.2204460492503131e-16

// Loss implements the gradient, leaf-value, and prediction-decoding
// formulas for one boosting objective. K() trees are grown per round.
type Loss interface {
	// Name identifies the loss for logging.
	Name() string
	// K is the number of per-row raw scores: 1 for regression and binary
	// classification, Classes for multinomial classification.
	K() int
	// IsClassification reports whether RawToLabel/RawToProba are usable.
	IsClassification() bool
	// InitScore computes the length-K initial score broadcast to every row
	// before any tree is fit.
	InitScore(y []float64) []float64
	// Gradient returns the per-row gradient for class k, given the labels
	// and the current raw score matrix (raw[k'][row]).
	Gradient(y []float64, raw [][]float64, k int) []float64
	// LeafValue computes a leaf's prediction from the gradients and labels
	// of the rows routed to it.
	LeafValue(g, y []float64, lambda float64) float64
	// RawToLabel decodes a single row's raw score vector into a label.
	RawToLabel(raw []float64) float64
	// RawToProba decodes a single row's raw score vector into class
	// probabilities; nil for non-classification losses.
	RawToProba(raw []float64) []float64
	// Score computes a scalar validation loss (lower is better) over a
	// batch of rows.
	Score(y []float64, raw [][]float64) float64
}

// LeastSquares is the regression loss: gradient(y, yhat) = yhat - y.
type LeastSquares struct{}

func (LeastSquares) Name() string           { return "least_squares" }
func (LeastSquares) K() int                 { return 1 }
func (LeastSquares) IsClassification() bool { return false }

func (LeastSquares) InitScore(y []float64) []float64 {
	return []float64{floats.Sum(y) / float64(len(y))}
}

func (LeastSquares) Gradient(y []float64, raw [][]float64, k int) []float64 {
	g := make([]float64, len(y))
	for i := range y {
		g[i] = raw[k][i] - y[i]
	}
	return g
}

func (LeastSquares) LeafValue(g, y []float64, lambda float64) float64 {
	return -floats.Sum(g) / (float64(len(g)) + lambda)
}

func (LeastSquares) RawToLabel(raw []float64) float64   { return raw[0] }
func (LeastSquares) RawToProba(raw []float64) []float64 { return nil }

func (LeastSquares) Score(y []float64, raw [][]float64) float64 {
	var sum float64
	for i := range y {
		d := raw[0][i] - y[i]
		sum += d * d
	}
	return sum / float64(len(y))
}

// BinomialDeviance is the two-class logistic loss.
type BinomialDeviance struct{}

func (BinomialDeviance) Name() string           { return "binomial_deviance" }
func (BinomialDeviance) K() int                 { return 1 }
func (BinomialDeviance) IsClassification() bool { return true }

func (BinomialDeviance) InitScore(y []float64) []float64 {
	p := floats.Sum(y) / float64(len(y))
	p = math.Min(math.Max(p, 1e-6), 1-1e-6)
	return []float64{math.Log(p / (1 - p))}
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (BinomialDeviance) Gradient(y []float64, raw [][]float64, k int) []float64 {
	g := make([]float64, len(y))
	for i := range y {
		g[i] = sigmoid(raw[k][i]) - y[i]
	}
	return g
}

func (BinomialDeviance) LeafValue(g, y []float64, lambda float64) float64 {
	return -floats.Sum(g) / (float64(len(g)) + lambda)
}

func (BinomialDeviance) RawToLabel(raw []float64) float64 {
	if sigmoid(raw[0]) >= 0.5 {
		return 1
	}
	return 0
}

func (BinomialDeviance) RawToProba(raw []float64) []float64 {
	p := sigmoid(raw[0])
	return []float64{1 - p, p}
}

func (BinomialDeviance) Score(y []float64, raw [][]float64) float64 {
	var sum float64
	for i := range y {
		p := math.Min(math.Max(sigmoid(raw[0][i]), 1e-12), 1-1e-12)
		if y[i] >= 0.5 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(y))
}

// MultinomialDeviance is the C-class softmax loss.
type MultinomialDeviance struct {
	Classes int
}

func (m MultinomialDeviance) Name() string           { return "multinomial_deviance" }
func (m MultinomialDeviance) K() int                 { return m.Classes }
func (m MultinomialDeviance) IsClassification() bool { return true }

func (m MultinomialDeviance) InitScore(y []float64) []float64 {
	counts := make([]float64, m.Classes)
	for _, label := range y {
		counts[int(label)]++
	}
	out := make([]float64, m.Classes)
	for k, c := range counts {
		freq := math.Max(c, 1) / float64(len(y))
		out[k] = math.Log(freq)
	}
	return out
}

func softmax(raw []float64) []float64 {
	maxVal := floats.Max(raw)
	out := make([]float64, len(raw))
	var sum float64
	for i, v := range raw {
		e := math.Exp(v - maxVal)
		out[i] = e
		sum += e
	}
	floats.Scale(1/sum, out)
	return out
}

// Gradient returns the gradient for class k: softmax(raw)_k - 1{y==k}.
func (m MultinomialDeviance) Gradient(y []float64, raw [][]float64, k int) []float64 {
	g := make([]float64, len(y))
	row := make([]float64, m.Classes)
	for i := range y {
		for c := 0; c < m.Classes; c++ {
			row[c] = raw[c][i]
		}
		p := softmax(row)
		indicator := 0.0
		if int(y[i]) == k {
			indicator = 1
		}
		g[i] = p[k] - indicator
	}
	return g
}

// LeafValue applies the Newton-Raphson step for the softmax loss, guarding
// against a near-zero denominator: |denom| <= 64*machineEpsilon*|Σ(y+g)|
// falls back to a zero-valued leaf.
func (m MultinomialDeviance) LeafValue(g, y []float64, lambda float64) float64 {
	var num, denom, absSum float64
	for i := range g {
		yg := y[i] + g[i]
		num += g[i]
		denom += yg * (1 - yg)
		absSum += math.Abs(yg)
	}
	guard := 64 * machineEpsilon * absSum
	if math.Abs(denom) <= guard {
		return 0
	}
	k := float64(m.Classes)
	return (-num * (k - 1) / k) / (denom + lambda)
}

func (m MultinomialDeviance) RawToLabel(raw []float64) float64 {
	best, bestIdx := math.Inf(-1), 0
	for i, v := range raw {
		if v > best {
			best, bestIdx = v, i
		}
	}
	return float64(bestIdx)
}

func (m MultinomialDeviance) RawToProba(raw []float64) []float64 { return softmax(raw) }

func (m MultinomialDeviance) Score(y []float64, raw [][]float64) float64 {
	var sum float64
	row := make([]float64, m.Classes)
	for i := range y {
		for c := 0; c < m.Classes; c++ {
			row[c] = raw[c][i]
		}
		p := softmax(row)
		label := int(y[i])
		sum -= math.Log(math.Max(p[label], 1e-12))
	}
	return sum / float64(len(y))
}

// lossFor selects the Loss implementation a Config describes.
func lossFor(cfg *Config) Loss {
	switch {
	case cfg.NClasses == 0:
		return LeastSquares{}
	case cfg.NClasses == 2 && cfg.BinaryAsRegression:
		return LeastSquares{}
	case cfg.NClasses == 2:
		return BinomialDeviance{}
	default:
		return MultinomialDeviance{Classes: cfg.NClasses}
	}
}

func gather(vals []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, r := range idx {
		out[i] = vals[r]
	}
	return out
}
