package dpgbdt

// Predict returns, for every row in ds, the ensemble's raw regression value
// (regression losses) or decoded class label (classification losses).
func (e *Ensemble) Predict(ds Dataset) ([]float64, error) {
	if err := e.checkShape(ds); err != nil {
		return nil, err
	}
	rows := allRows(ds.Rows())
	raw := e.predictRawPerClass(ds, rows)
	if !e.Loss.IsClassification() {
		return raw[0], nil
	}
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = e.Loss.RawToLabel(extractRow(raw, i))
	}
	return out, nil
}

// PredictProba returns per-row class probabilities. It returns a
// TaskMismatch for a regression ensemble.
func (e *Ensemble) PredictProba(ds Dataset) ([][]float64, error) {
	if !e.Loss.IsClassification() {
		return nil, &TaskMismatch{Op: "PredictProba", Want: "classification"}
	}
	if err := e.checkShape(ds); err != nil {
		return nil, err
	}
	rows := allRows(ds.Rows())
	raw := e.predictRawPerClass(ds, rows)
	out := make([][]float64, len(rows))
	for i := range rows {
		out[i] = e.Loss.RawToProba(extractRow(raw, i))
	}
	return out, nil
}

// PredictRaw returns the unreduced per-class raw scores for every row,
// useful for validation scoring and for tests that compare against a
// known-good prediction without going through label decoding.
func (e *Ensemble) PredictRaw(ds Dataset) ([][]float64, error) {
	if err := e.checkShape(ds); err != nil {
		return nil, err
	}
	return e.predictRawPerClass(ds, allRows(ds.Rows())), nil
}
