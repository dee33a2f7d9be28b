// Package export writes and reads the browser-runtime "layers-model" format:
// a model.json topology plus little-endian float32 weight shards.
package export

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"screamnet/internal/nn"
)

const (
	ModelFile         = "model.json"
	Format            = "layers-model"
	DefaultShardBytes = 4 * 1024 * 1024
	kerasVersion      = "2.15.0"
	generatedBy       = "screamnet"
	convertedBy       = "screamnet layers-model writer"
)

type ModelJSON struct {
	Format          string          `json:"format"`
	GeneratedBy     string          `json:"generatedBy"`
	ConvertedBy     string          `json:"convertedBy"`
	ModelTopology   Topology        `json:"modelTopology"`
	WeightsManifest []ManifestGroup `json:"weightsManifest"`
}

type Topology struct {
	KerasVersion   string          `json:"keras_version"`
	Backend        string          `json:"backend"`
	ModelConfig    ModelConfig     `json:"model_config"`
	TrainingConfig *TrainingConfig `json:"training_config,omitempty"`
}

type ModelConfig struct {
	ClassName string           `json:"class_name"`
	Config    SequentialConfig `json:"config"`
}

type SequentialConfig struct {
	Name   string        `json:"name"`
	Layers []LayerConfig `json:"layers"`
}

type LayerConfig struct {
	ClassName string      `json:"class_name"`
	Config    LayerFields `json:"config"`
}

type LayerFields struct {
	Name              string       `json:"name"`
	Trainable         bool         `json:"trainable"`
	DType             string       `json:"dtype"`
	BatchInputShape   []*int       `json:"batch_input_shape,omitempty"`
	Units             int          `json:"units,omitempty"`
	Activation        string       `json:"activation,omitempty"`
	UseBias           *bool        `json:"use_bias,omitempty"`
	KernelInitializer *Initializer `json:"kernel_initializer,omitempty"`
	BiasInitializer   *Initializer `json:"bias_initializer,omitempty"`
	Rate              *float64     `json:"rate,omitempty"`
}

type Initializer struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

type TrainingConfig struct {
	Loss            string          `json:"loss"`
	Metrics         []string        `json:"metrics"`
	OptimizerConfig OptimizerConfig `json:"optimizer_config"`
}

type OptimizerConfig struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

type ManifestGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// Options tunes the writer. Zero values take the defaults.
type Options struct {
	ShardBytes int
}

// Written reports what SaveLayersModel produced.
type Written struct {
	Dir    string
	Files  []string
	Weight int
}

// SaveLayersModel writes m under dir, creating it if needed.
func SaveLayersModel(m *nn.Model, dir string, opts Options) (Written, error) {
	shard := opts.ShardBytes
	if shard <= 0 {
		shard = DefaultShardBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Written{}, fmt.Errorf("export: %w", err)
	}

	var data []byte
	var specs []WeightSpec
	for _, t := range m.Tensors() {
		specs = append(specs, WeightSpec{Name: t.Name, Shape: tensorShape(t), DType: "float32"})
		for _, v := range t.Data {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(float32(v)))
		}
	}
	n := max((len(data)+shard-1)/shard, 1)
	out := Written{Dir: dir, Weight: len(data)}
	var paths []string
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("group1-shard%dof%d.bin", i+1, n)
		lo := i * shard
		hi := min(lo+shard, len(data))
		if err := os.WriteFile(filepath.Join(dir, name), data[lo:hi], 0o644); err != nil {
			return out, fmt.Errorf("export: %w", err)
		}
		paths = append(paths, name)
		out.Files = append(out.Files, name)
	}

	doc := ModelJSON{
		Format:          Format,
		GeneratedBy:     generatedBy,
		ConvertedBy:     convertedBy,
		ModelTopology:   topology(m),
		WeightsManifest: []ManifestGroup{{Paths: paths, Weights: specs}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ModelFile), b, 0o644); err != nil {
		return out, fmt.Errorf("export: %w", err)
	}
	out.Files = append([]string{ModelFile}, out.Files...)
	return out, nil
}

// tensorShape drops the leading 1 of bias rows, which are 1D in the exported format.
func tensorShape(t nn.Tensor) []int {
	if t.Rows == 1 && strings.HasSuffix(t.Name, "/bias") {
		return []int{t.Cols}
	}
	return []int{t.Rows, t.Cols}
}

func topology(m *nn.Model) Topology {
	glorot := &Initializer{ClassName: "GlorotUniform", Config: map[string]any{"seed": nil}}
	zeros := &Initializer{ClassName: "Zeros", Config: map[string]any{}}
	useBias := true
	var layers []LayerConfig
	for i, s := range m.Specs() {
		f := LayerFields{Name: s.Name, Trainable: true, DType: "float32"}
		if i == 0 {
			dim := m.InputDim
			f.BatchInputShape = []*int{nil, &dim}
		}
		switch s.Kind {
		case nn.KindDense:
			f.Units = s.Units
			f.Activation = string(s.Activation)
			f.UseBias = &useBias
			f.KernelInitializer = glorot
			f.BiasInitializer = zeros
		case nn.KindDropout:
			rate := s.Rate
			f.Rate = &rate
		}
		layers = append(layers, LayerConfig{ClassName: s.Kind, Config: f})
	}
	arch := m.Architecture()
	return Topology{
		KerasVersion: kerasVersion,
		Backend:      "tensorflow",
		ModelConfig: ModelConfig{
			ClassName: "Sequential",
			Config:    SequentialConfig{Name: m.Name, Layers: layers},
		},
		TrainingConfig: &TrainingConfig{
			Loss:    arch.Compile.Loss,
			Metrics: arch.Compile.Metrics,
			OptimizerConfig: OptimizerConfig{
				ClassName: "Adam",
				Config: map[string]any{
					"learning_rate": arch.Compile.LearningRate,
					"beta_1":        arch.Compile.Beta1,
					"beta_2":        arch.Compile.Beta2,
					"epsilon":       arch.Compile.Epsilon,
				},
			},
		},
	}
}

// LoadLayersModel rebuilds an inference model from a directory written by SaveLayersModel.
func LoadLayersModel(dir string) (*nn.Model, error) {
	b, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	var doc ModelJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("export: %s: %w", dir, err)
	}
	if doc.Format != Format {
		return nil, fmt.Errorf("export: %s: unexpected format %q", dir, doc.Format)
	}
	inputDim, specs, err := layerSpecs(doc.ModelTopology.ModelConfig.Config.Layers)
	if err != nil {
		return nil, fmt.Errorf("export: %s: %w", dir, err)
	}
	m, err := nn.NewSequential(doc.ModelTopology.ModelConfig.Config.Name, inputDim, 0, specs...)
	if err != nil {
		return nil, err
	}

	values := map[string]nn.Tensor{}
	for _, g := range doc.WeightsManifest {
		var raw bytes.Buffer
		for _, p := range g.Paths {
			chunk, err := os.ReadFile(filepath.Join(dir, p))
			if err != nil {
				return nil, fmt.Errorf("export: %w", err)
			}
			raw.Write(chunk)
		}
		for _, w := range g.Weights {
			t, err := readTensor(&raw, w)
			if err != nil {
				return nil, fmt.Errorf("export: %s: %w", dir, err)
			}
			values[w.Name] = t
		}
	}
	var ts []nn.Tensor
	for _, p := range m.Params() {
		t, ok := values[p.Name]
		if !ok {
			return nil, fmt.Errorf("export: %s: manifest has no weight %s", dir, p.Name)
		}
		ts = append(ts, t)
	}
	if err := m.SetTensors(ts); err != nil {
		return nil, err
	}
	return m, nil
}

func layerSpecs(layers []LayerConfig) (int, []nn.LayerSpec, error) {
	inputDim := 0
	var specs []nn.LayerSpec
	for _, l := range layers {
		if inputDim == 0 && len(l.Config.BatchInputShape) == 2 && l.Config.BatchInputShape[1] != nil {
			inputDim = *l.Config.BatchInputShape[1]
		}
		switch l.ClassName {
		case "InputLayer":
			continue
		case nn.KindDense:
			act, err := nn.ParseActivation(l.Config.Activation)
			if err != nil {
				return 0, nil, err
			}
			specs = append(specs, nn.LayerSpec{Kind: nn.KindDense, Name: l.Config.Name, Units: l.Config.Units, Activation: act})
		case nn.KindDropout:
			rate := 0.0
			if l.Config.Rate != nil {
				rate = *l.Config.Rate
			}
			specs = append(specs, nn.LayerSpec{Kind: nn.KindDropout, Name: l.Config.Name, Rate: rate})
		default:
			return 0, nil, fmt.Errorf("unsupported layer class %q", l.ClassName)
		}
	}
	if inputDim == 0 {
		return 0, nil, fmt.Errorf("topology has no batch_input_shape")
	}
	return inputDim, specs, nil
}

func readTensor(r io.Reader, w WeightSpec) (nn.Tensor, error) {
	if w.DType != "float32" {
		return nn.Tensor{}, fmt.Errorf("weight %s: unsupported dtype %q", w.Name, w.DType)
	}
	t := nn.Tensor{Name: w.Name}
	switch len(w.Shape) {
	case 1:
		t.Rows, t.Cols = 1, w.Shape[0]
	case 2:
		t.Rows, t.Cols = w.Shape[0], w.Shape[1]
	default:
		return t, fmt.Errorf("weight %s: unsupported shape %v", w.Name, w.Shape)
	}
	buf := make([]byte, 4*t.Rows*t.Cols)
	if _, err := io.ReadFull(r, buf); err != nil {
		return t, fmt.Errorf("weight %s: %w", w.Name, err)
	}
	t.Data = make([]float64, t.Rows*t.Cols)
	for i := range t.Data {
		t.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return t, nil
}
