package dpgbdt

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/unixpickle/essentials"
)

// wireMagic and wireVersion identify the binary ensemble format below.
// The layout is implementation-defined but stable across versions sharing
// wireVersion: a header (magic, version, task, K trees per round, F, a
// numeric/categorical mask, learning rate, K init scores, total round
// count) followed by one record per round holding its K trees. Numeric split values are stored as 8-byte
// IEEE-754; categorical split values as a 4-byte little-endian id.
const (
	wireMagic   uint32 = 0x44504742 // "DPGB"
	wireVersion uint16 = 1

	taskRegression     uint8 = 0
	taskClassification uint8 = 1
)

// Save writes e in the binary ensemble format to path.
func (e *Ensemble) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return essentials.AddCtx("dpgbdt: save ensemble", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := e.WriteTo(w); err != nil {
		return essentials.AddCtx("dpgbdt: save ensemble", err)
	}
	return essentials.AddCtx("dpgbdt: save ensemble", w.Flush())
}

// WriteTo encodes e onto w.
func (e *Ensemble) WriteTo(w io.Writer) error {
	task := taskRegression
	c := 1
	if e.Loss.IsClassification() {
		task = taskClassification
	}
	c = e.Loss.K()
	f := e.NumFeatures

	if err := writeAll(w,
		wireMagic, wireVersion, task,
		uint32(c), uint32(f),
	); err != nil {
		return err
	}
	mask := make([]uint8, f)
	for i, k := range e.FeatureKinds {
		if k == FeatureCategorical {
			mask[i] = 1
		}
	}
	if err := binary.Write(w, binary.LittleEndian, mask); err != nil {
		return err
	}
	if err := writeAll(w, e.Config.LearningRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.InitScore); err != nil {
		return err
	}
	if err := writeAll(w, uint32(len(e.Trees))); err != nil {
		return err
	}

	for _, round := range e.Trees {
		if err := writeAll(w, uint32(len(round))); err != nil {
			return err
		}
		for _, tree := range round {
			if err := writeTree(w, tree, e.FeatureKinds); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeTree(w io.Writer, t *Tree, kinds []FeatureKind) error {
	if err := writeAll(w, uint32(len(t.nodes)), uint32(t.root)); err != nil {
		return err
	}
	for id, n := range t.nodes {
		if err := writeAll(w, uint32(id), uint8(n.kind)); err != nil {
			return err
		}
		if n.kind == nodeLeaf {
			if err := writeAll(w, n.prediction); err != nil {
				return err
			}
			continue
		}
		if err := writeAll(w, uint32(n.feature)); err != nil {
			return err
		}
		if kinds[n.feature] == FeatureCategorical {
			if err := writeAll(w, uint32(n.value)); err != nil {
				return err
			}
		} else {
			if err := writeAll(w, n.value); err != nil {
				return err
			}
		}
		if err := writeAll(w, uint32(n.left), uint32(n.right)); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnsemble reads an Ensemble previously written by Ensemble.Save. The
// returned Ensemble carries a zero-value Loss appropriate to its task (K
// classes recovered from the header) but not a full Config; callers that
// need the original Config should persist it separately via SaveYAML.
func LoadEnsemble(path string) (*Ensemble, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, essentials.AddCtx("dpgbdt: load ensemble", err)
	}
	defer f.Close()
	e, err := ReadFrom(bufio.NewReader(f))
	if err != nil {
		return nil, essentials.AddCtx("dpgbdt: load ensemble", err)
	}
	return e, nil
}

// ReadFrom decodes an Ensemble from r.
func ReadFrom(r io.Reader) (*Ensemble, error) {
	var magic uint32
	var version uint16
	var task uint8
	var c, f uint32
	if err := readAll(r, &magic, &version, &task, &c, &f); err != nil {
		return nil, err
	}
	if magic != wireMagic {
		return nil, &ConfigError{Field: "file", Reason: "bad magic: not a dpgbdt ensemble"}
	}
	if version != wireVersion {
		return nil, &ConfigError{Field: "file", Reason: "unsupported ensemble version"}
	}

	mask := make([]uint8, f)
	if err := binary.Read(r, binary.LittleEndian, mask); err != nil {
		return nil, err
	}
	kinds := make([]FeatureKind, f)
	for i, m := range mask {
		if m != 0 {
			kinds[i] = FeatureCategorical
		}
	}

	var eta float64
	if err := readAll(r, &eta); err != nil {
		return nil, err
	}
	initScore := make([]float64, c)
	if err := binary.Read(r, binary.LittleEndian, initScore); err != nil {
		return nil, err
	}

	var loss Loss
	if task == taskClassification {
		if c == 1 {
			loss = BinomialDeviance{}
		} else {
			loss = MultinomialDeviance{Classes: int(c)}
		}
	} else {
		loss = LeastSquares{}
	}

	var numRounds uint32
	if err := readAll(r, &numRounds); err != nil {
		return nil, err
	}
	trees := make([][]*Tree, numRounds)
	for i := range trees {
		var k uint32
		if err := readAll(r, &k); err != nil {
			return nil, err
		}
		round := make([]*Tree, k)
		for j := range round {
			t, err := readTree(r, kinds)
			if err != nil {
				return nil, err
			}
			round[j] = t
		}
		trees[i] = round
	}

	return &Ensemble{
		Loss:         loss,
		Config:       Config{LearningRate: eta},
		InitScore:    initScore,
		Trees:        trees,
		NumFeatures:  int(f),
		FeatureKinds: kinds,
	}, nil
}

func readTree(r io.Reader, kinds []FeatureKind) (*Tree, error) {
	var count, root uint32
	if err := readAll(r, &count, &root); err != nil {
		return nil, err
	}
	t := &Tree{nodes: make([]node, count), kinds: kinds, root: int(root)}
	for i := uint32(0); i < count; i++ {
		var id uint32
		var kind uint8
		if err := readAll(r, &id, &kind); err != nil {
			return nil, err
		}
		n := node{kind: nodeKind(kind)}
		if kind == uint8(nodeLeaf) {
			if err := readAll(r, &n.prediction); err != nil {
				return nil, err
			}
			t.nodes[id] = n
			continue
		}
		var feature uint32
		if err := readAll(r, &feature); err != nil {
			return nil, err
		}
		n.feature = int(feature)
		if kinds[n.feature] == FeatureCategorical {
			var v uint32
			if err := readAll(r, &v); err != nil {
				return nil, err
			}
			n.value = float64(v)
		} else {
			if err := readAll(r, &n.value); err != nil {
				return nil, err
			}
		}
		var left, right uint32
		if err := readAll(r, &left, &right); err != nil {
			return nil, err
		}
		n.left, n.right = int(left), int(right)
		t.nodes[id] = n
	}
	return t, nil
}

func writeAll(w io.Writer, vals ...interface{}) error {
	for _, v := range vals {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readAll(r io.Reader, ptrs ...interface{}) error {
	for _, p := range ptrs {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return err
		}
	}
	return nil
}
