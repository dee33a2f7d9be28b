// Package nn holds the scream classifier: a small sequential network of dense
// and dropout layers trained with Adam on binary cross-entropy.
package nn

import (
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"

	"screamnet/internal/dataset"
)

const (
	ModelName = "scream_detection_model"
	// InputDim is the width of one MFCC-style feature vector.
	InputDim            = 13
	DefaultLearningRate = 0.001
	// DecisionThreshold splits sigmoid outputs into the two classes; equality counts as negative.
	DecisionThreshold = 0.5
)

// ScreamTopology is the fixed layer stack of the classifier.
func ScreamTopology() []LayerSpec {
	return []LayerSpec{
		{Kind: KindDense, Name: "dense_1", Units: 64, Activation: ReLU},
		{Kind: KindDropout, Name: "dropout_1", Rate: 0.3},
		{Kind: KindDense, Name: "dense_2", Units: 32, Activation: ReLU},
		{Kind: KindDropout, Name: "dropout_2", Rate: 0.3},
		{Kind: KindDense, Name: "dense_3", Units: 16, Activation: ReLU},
		{Kind: KindDense, Name: "output", Units: 1, Activation: Sigmoid},
	}
}

// Model is a compiled sequential network. It is not safe for concurrent use.
type Model struct {
	Name      string
	InputDim  int
	Layers    []Layer
	Optimizer *Adam
	Seed      int64

	// StopTraining is set by callbacks to end Fit after the current epoch.
	StopTraining bool

	rng *rand.Rand
}

// NewScreamModel builds and compiles the fixed classifier for inputDim features.
func NewScreamModel(inputDim int, seed int64) (*Model, error) {
	return NewSequential(ModelName, inputDim, seed, ScreamTopology()...)
}

// NewSequential stacks layers in order; the last layer must produce a single unit.
func NewSequential(name string, inputDim int, seed int64, specs ...LayerSpec) (*Model, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("nn: input dimension must be positive, got %d", inputDim)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("nn: model %s has no layers", name)
	}
	m := &Model{
		Name:      name,
		InputDim:  inputDim,
		Optimizer: NewAdam(DefaultLearningRate),
		Seed:      seed,
		rng:       rand.New(rand.NewSource(seed)),
	}
	in := inputDim
	for _, s := range specs {
		l, err := buildLayer(s, in, m.rng)
		if err != nil {
			return nil, err
		}
		m.Layers = append(m.Layers, l)
		in = l.Units()
	}
	if in != 1 {
		return nil, fmt.Errorf("nn: model %s must end in one unit, got %d", name, in)
	}
	return m, nil
}

// Specs returns the layer descriptions in order.
func (m *Model) Specs() []LayerSpec {
	out := make([]LayerSpec, len(m.Layers))
	for i, l := range m.Layers {
		out[i] = l.Spec()
	}
	return out
}

// Params lists trainable tensors in layer order, kernel before bias.
func (m *Model) Params() []*Param {
	var ps []*Param
	for _, l := range m.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

func (m *Model) CountParams() int {
	n := 0
	for _, p := range m.Params() {
		r, c := p.Value.Dims()
		n += r * c
	}
	return n
}

// Weights returns copies of every trainable tensor.
func (m *Model) Weights() []*mat.Dense {
	ps := m.Params()
	out := make([]*mat.Dense, len(ps))
	for i, p := range ps {
		out[i] = mat.DenseCopyOf(p.Value)
	}
	return out
}

// SetWeights copies ws into the model. Shapes must match Weights().
func (m *Model) SetWeights(ws []*mat.Dense) error {
	ps := m.Params()
	if len(ws) != len(ps) {
		return fmt.Errorf("nn: expected %d weight tensors, got %d", len(ps), len(ws))
	}
	for i, p := range ps {
		pr, pc := p.Value.Dims()
		wr, wc := ws[i].Dims()
		if pr != wr || pc != wc {
			return fmt.Errorf("nn: %s: expected shape (%d, %d), got (%d, %d)", p.Name, pr, pc, wr, wc)
		}
	}
	for i, p := range ps {
		p.Value.Copy(ws[i])
	}
	return nil
}

func (m *Model) checkInput(x *mat.Dense, nLabels int) error {
	if x == nil || x.IsEmpty() {
		return fmt.Errorf("nn: no input rows")
	}
	n, c := x.Dims()
	if c != m.InputDim {
		return fmt.Errorf("nn: expected input dimension %d, got %d", m.InputDim, c)
	}
	if nLabels >= 0 && nLabels != n {
		return fmt.Errorf("nn: %d input rows but %d labels", n, nLabels)
	}
	return nil
}

// checkLabeled is checkInput plus the binary label invariant.
func (m *Model) checkLabeled(x *mat.Dense, y []float64) error {
	if err := m.checkInput(x, len(y)); err != nil {
		return err
	}
	if err := dataset.CheckLabels(y); err != nil {
		return fmt.Errorf("nn: %w", err)
	}
	return nil
}

func (m *Model) forward(x *mat.Dense, training bool) *mat.Dense {
	out := x
	for _, l := range m.Layers {
		out = l.Forward(out, training)
	}
	return out
}

// Predict returns the sigmoid output for every row of x.
func (m *Model) Predict(x *mat.Dense) ([]float64, error) {
	if err := m.checkInput(x, -1); err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, m.forward(x, false)), nil
}

// Evaluate returns binary cross-entropy and accuracy on (x, y) with dropout disabled.
func (m *Model) Evaluate(x *mat.Dense, y []float64) (loss, accuracy float64, err error) {
	if err := m.checkLabeled(x, y); err != nil {
		return 0, 0, err
	}
	p := mat.Col(nil, 0, m.forward(x, false))
	return BinaryCrossEntropy(p, y), BinaryAccuracy(p, y), nil
}

// Summary writes the layer table the way Keras prints it.
func (m *Model) Summary(w io.Writer) {
	line := strings.Repeat("_", 65)
	fmt.Fprintf(w, "Model: %q\n", m.Name)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, " %-27s %-25s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))
	for i, l := range m.Layers {
		n := 0
		for _, p := range l.Params() {
			r, c := p.Value.Dims()
			n += r * c
		}
		fmt.Fprintf(w, " %-27s %-25s %-10s\n",
			fmt.Sprintf("%s (%s)", l.Name(), l.Kind()),
			fmt.Sprintf("(None, %d)", l.Units()),
			humanize.Comma(int64(n)))
		if i < len(m.Layers)-1 {
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	total := humanize.Comma(int64(m.CountParams()))
	fmt.Fprintf(w, "Total params: %s\n", total)
	fmt.Fprintf(w, "Trainable params: %s\n", total)
	fmt.Fprintln(w, "Non-trainable params: 0")
	fmt.Fprintln(w, line)
}
