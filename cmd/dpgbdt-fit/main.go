// Fits a differentially-private gradient-boosted ensemble on a synthetic
// regression dataset and reports its RMSE over the whole dataset.
package main

import (
	"context"
	"flag"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loretanr/dp-gbdt"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional, defaults used otherwise)")
	rows := flag.Int("rows", 2000, "number of synthetic rows to generate")
	features := flag.Int("features", 8, "number of synthetic features")
	save := flag.String("save", "", "path to write the fitted ensemble to (optional)")
	flag.Parse()

	log := logrus.New().WithField("component", "dpgbdt-fit")

	cfg := dpgbdt.DefaultConfig()
	if *configPath != "" {
		loaded, err := dpgbdt.LoadConfigYAML(*configPath)
		must(log, err)
		cfg = loaded
	}

	ds := syntheticDataset(*rows, *features, cfg.Seed)

	engine, err := dpgbdt.NewEngine(cfg)
	must(log, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	ensemble, err := engine.Fit(ctx, ds)
	if err != nil {
		if _, cancelled := err.(*dpgbdt.CancelledError); cancelled {
			log.Warnf("fit cancelled: %v", err)
		} else {
			must(log, err)
		}
	}
	log.Infof("fit finished in %s, %d rounds", time.Since(start), len(ensemble.Trees))

	preds, err := ensemble.Predict(ds)
	must(log, err)
	log.Infof("training rmse=%.6f", rmse(ds, preds))

	if *save != "" {
		must(log, ensemble.Save(*save))
		log.Infof("ensemble saved to %s", *save)
	}
}

// syntheticDataset builds a dense regression dataset whose label is a noisy
// linear combination of its features, giving Fit something nontrivial to
// learn without pulling in any file or network I/O.
func syntheticDataset(rows, features int, seed int64) *dpgbdt.MatrixDataset {
	rng := rand.New(rand.NewSource(seed))
	weights := make([]float64, features)
	for j := range weights {
		weights[j] = rng.NormFloat64()
	}
	x := make([]float64, rows*features)
	y := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var label float64
		for j := 0; j < features; j++ {
			v := rng.NormFloat64()
			x[i*features+j] = v
			label += weights[j] * v
		}
		y[i] = label + 0.1*rng.NormFloat64()
	}
	ds, err := dpgbdt.NewMatrixDataset(x, y, features, nil)
	if err != nil {
		panic(err)
	}
	return ds
}

func rmse(ds *dpgbdt.MatrixDataset, preds []float64) float64 {
	var sum float64
	for i, p := range preds {
		d := p - ds.Label(i)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(preds)))
}

func must(log *logrus.Entry, err error) {
	if err != nil {
		log.Fatal(err)
	}
}
