package nn

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

const (
	CheckpointArchitecture = "model.json"
	CheckpointWeights      = "weights.gob"
	checkpointFormat       = "screamnet-checkpoint"
	checkpointVersion      = 1
)

// Architecture is the human-readable half of a native checkpoint.
type Architecture struct {
	Format   string        `json:"format"`
	Version  int           `json:"version"`
	Name     string        `json:"name"`
	InputDim int           `json:"input_dim"`
	Seed     int64         `json:"seed"`
	Layers   []LayerSpec   `json:"layers"`
	Compile  CompileConfig `json:"compile"`
}

type CompileConfig struct {
	Optimizer    string   `json:"optimizer"`
	LearningRate float64  `json:"learning_rate"`
	Beta1        float64  `json:"beta_1"`
	Beta2        float64  `json:"beta_2"`
	Epsilon      float64  `json:"epsilon"`
	Loss         string   `json:"loss"`
	Metrics      []string `json:"metrics"`
}

// Tensor is a named row-major weight matrix.
type Tensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

type weightFile struct {
	Tensors    []Tensor
	Iterations int
	AdamM      [][]float64
	AdamV      [][]float64
}

// Architecture describes m without its weights.
func (m *Model) Architecture() Architecture {
	return Architecture{
		Format:   checkpointFormat,
		Version:  checkpointVersion,
		Name:     m.Name,
		InputDim: m.InputDim,
		Seed:     m.Seed,
		Layers:   m.Specs(),
		Compile: CompileConfig{
			Optimizer:    "adam",
			LearningRate: m.Optimizer.LearningRate,
			Beta1:        m.Optimizer.Beta1,
			Beta2:        m.Optimizer.Beta2,
			Epsilon:      m.Optimizer.Epsilon,
			Loss:         "binary_crossentropy",
			Metrics:      []string{"accuracy"},
		},
	}
}

// Tensors returns named copies of the weights in Params order.
func (m *Model) Tensors() []Tensor {
	ps := m.Params()
	out := make([]Tensor, len(ps))
	for i, p := range ps {
		r, c := p.Value.Dims()
		out[i] = Tensor{Name: p.Name, Rows: r, Cols: c, Data: append([]float64(nil), p.Value.RawMatrix().Data...)}
	}
	return out
}

// SaveCheckpoint writes the architecture and float64 weights, with optimizer state, under dir.
func (m *Model) SaveCheckpoint(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("nn: checkpoint: %w", err)
	}
	b, err := json.MarshalIndent(m.Architecture(), "", "  ")
	if err != nil {
		return fmt.Errorf("nn: checkpoint: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, CheckpointArchitecture), b, 0o644); err != nil {
		return fmt.Errorf("nn: checkpoint: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, CheckpointWeights))
	if err != nil {
		return fmt.Errorf("nn: checkpoint: %w", err)
	}
	defer file.Close()
	wf := weightFile{Tensors: m.Tensors(), Iterations: m.Optimizer.Iterations}
	wf.AdamM, wf.AdamV = m.Optimizer.state()
	if err := gob.NewEncoder(file).Encode(wf); err != nil {
		return fmt.Errorf("nn: checkpoint: %w", err)
	}
	return file.Close()
}

// LoadCheckpoint rebuilds a model saved by SaveCheckpoint.
func LoadCheckpoint(dir string) (*Model, error) {
	b, err := os.ReadFile(filepath.Join(dir, CheckpointArchitecture))
	if err != nil {
		return nil, fmt.Errorf("nn: checkpoint: %w", err)
	}
	var arch Architecture
	if err := json.Unmarshal(b, &arch); err != nil {
		return nil, fmt.Errorf("nn: checkpoint %s: %w", dir, err)
	}
	if arch.Format != checkpointFormat {
		return nil, fmt.Errorf("nn: checkpoint %s: unexpected format %q", dir, arch.Format)
	}
	m, err := NewSequential(arch.Name, arch.InputDim, arch.Seed, arch.Layers...)
	if err != nil {
		return nil, err
	}
	m.Optimizer.LearningRate = arch.Compile.LearningRate

	file, err := os.Open(filepath.Join(dir, CheckpointWeights))
	if err != nil {
		return nil, fmt.Errorf("nn: checkpoint: %w", err)
	}
	defer file.Close()
	var wf weightFile
	if err := gob.NewDecoder(file).Decode(&wf); err != nil {
		return nil, fmt.Errorf("nn: checkpoint %s: %w", dir, err)
	}
	if err := m.SetTensors(wf.Tensors); err != nil {
		return nil, err
	}
	m.Optimizer.Iterations = wf.Iterations
	m.Optimizer.restore(m.Params(), wf.AdamM, wf.AdamV)
	return m, nil
}

// SetTensors loads named tensors; names and order must match Params.
func (m *Model) SetTensors(ts []Tensor) error {
	ps := m.Params()
	if len(ts) != len(ps) {
		return fmt.Errorf("nn: expected %d tensors, got %d", len(ps), len(ts))
	}
	ws := make([]*mat.Dense, len(ts))
	for i, t := range ts {
		if t.Name != ps[i].Name {
			return fmt.Errorf("nn: tensor %d: expected %s, got %s", i, ps[i].Name, t.Name)
		}
		if t.Rows*t.Cols != len(t.Data) || len(t.Data) == 0 {
			return fmt.Errorf("nn: tensor %s: %d values for shape (%d, %d)", t.Name, len(t.Data), t.Rows, t.Cols)
		}
		ws[i] = mat.NewDense(t.Rows, t.Cols, t.Data)
	}
	return m.SetWeights(ws)
}
