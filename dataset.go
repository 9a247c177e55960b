package dpgbdt

// FeatureKind distinguishes numeric features, whose splits are threshold
// comparisons, from categorical features, whose splits are equality tests.
type FeatureKind uint8

const (
	// FeatureNumeric features split as x[j] >= threshold.
	FeatureNumeric FeatureKind = iota
	// FeatureCategorical features split as x[j] == category.
	FeatureCategorical
)

// Dataset is the boundary between a caller's data and the boosting engine.
// Parsing CSVs, fetching remote files, and building Datasets are out of
// scope for this package; callers hand in an already-parsed Dataset.
type Dataset interface {
	// Rows returns the number of samples.
	Rows() int
	// Features returns the number of features per sample.
	Features() int
	// At returns the value of feature col for sample row.
	At(row, col int) float64
	// Label returns the training target for sample row.
	Label(row int) float64
}

// MatrixDataset is a dense, row-major in-memory Dataset.
type MatrixDataset struct {
	x     []float64
	y     []float64
	rows  int
	cols  int
	kinds []FeatureKind
}

// NewMatrixDataset builds a MatrixDataset from a dense row-major feature
// matrix x (length rows*cols), a label vector y (length rows), and the
// indices of categorical columns. Unlisted columns are numeric.
func NewMatrixDataset(x []float64, y []float64, cols int, catIdx []int) (*MatrixDataset, error) {
	if cols <= 0 {
		return nil, &ConfigError{Field: "cols", Reason: "must be positive"}
	}
	if len(x)%cols != 0 {
		return nil, &ConfigError{Field: "x", Reason: "length is not a multiple of cols"}
	}
	rows := len(x) / cols
	if rows != len(y) {
		return nil, &ConfigError{Field: "y", Reason: "length does not match row count"}
	}
	kinds := make([]FeatureKind, cols)
	for _, c := range catIdx {
		if c < 0 || c >= cols {
			return nil, &ConfigError{Field: "catIdx", Reason: "index out of range"}
		}
		kinds[c] = FeatureCategorical
	}
	return &MatrixDataset{x: x, y: y, rows: rows, cols: cols, kinds: kinds}, nil
}

func (m *MatrixDataset) Rows() int     { return m.rows }
func (m *MatrixDataset) Features() int { return m.cols }

func (m *MatrixDataset) At(row, col int) float64 { return m.x[row*m.cols+col] }
func (m *MatrixDataset) Label(row int) float64   { return m.y[row] }

// Kinds returns the per-column FeatureKind slice, used by Engine.Fit when
// the caller's Config does not specify CatIdx explicitly.
func (m *MatrixDataset) Kinds() []FeatureKind {
	out := make([]FeatureKind, len(m.kinds))
	copy(out, m.kinds)
	return out
}

// kindsProvider is implemented by Datasets that carry their own
// per-feature FeatureKind information, such as MatrixDataset.
type kindsProvider interface {
	Kinds() []FeatureKind
}

func rowVec(ds Dataset, row int) []float64 {
	f := ds.Features()
	v := make([]float64, f)
	for j := 0; j < f; j++ {
		v[j] = ds.At(row, j)
	}
	return v
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}
