package export

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"screamnet/internal/nn"
)

func trainedModel(t *testing.T) (*nn.Model, *mat.Dense) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	x := mat.NewDense(40, nn.InputDim, nil)
	y := make([]float64, 40)
	for i := 0; i < 40; i++ {
		y[i] = float64(i % 2)
		for j := 0; j < nn.InputDim; j++ {
			x.Set(i, j, rng.NormFloat64()+y[i])
		}
	}
	m, err := nn.NewScreamModel(nn.InputDim, 3)
	if err != nil {
		t.Fatal(err)
	}
	opts := nn.DefaultFitOptions()
	opts.Epochs = 2
	if _, err := m.Fit(x, y, opts); err != nil {
		t.Fatal(err)
	}
	return m, x
}

func TestSaveLayersModelWritesManifest(t *testing.T) {
	m, _ := trainedModel(t)
	dir := filepath.Join(t.TempDir(), "public", "model")
	w, err := SaveLayersModel(m, dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Files) != 2 || w.Files[0] != ModelFile || w.Files[1] != "group1-shard1of1.bin" {
		t.Fatalf("files %v", w.Files)
	}
	if w.Weight != 4*3521 {
		t.Fatalf("weight bytes %d", w.Weight)
	}
	b, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		t.Fatal(err)
	}
	var doc ModelJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Format != "layers-model" || doc.ModelTopology.ModelConfig.ClassName != "Sequential" {
		t.Fatalf("unexpected header %+v", doc)
	}
	layers := doc.ModelTopology.ModelConfig.Config.Layers
	if len(layers) != 6 || layers[0].ClassName != "Dense" || layers[1].ClassName != "Dropout" {
		t.Fatalf("layers %+v", layers)
	}
	if s := layers[0].Config.BatchInputShape; len(s) != 2 || s[0] != nil || *s[1] != 13 {
		t.Fatalf("batch_input_shape %v", s)
	}
	ws := doc.WeightsManifest[0].Weights
	if ws[0].Name != "dense_1/kernel" || ws[0].Shape[0] != 13 || ws[0].Shape[1] != 64 {
		t.Fatalf("first weight %+v", ws[0])
	}
	if ws[1].Name != "dense_1/bias" || len(ws[1].Shape) != 1 || ws[1].Shape[0] != 64 {
		t.Fatalf("bias weight %+v", ws[1])
	}
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	topo := raw["modelTopology"].(map[string]any)
	cfg := topo["model_config"].(map[string]any)["config"].(map[string]any)
	first := cfg["layers"].([]any)[0].(map[string]any)["config"].(map[string]any)
	if shape := first["batch_input_shape"].([]any); shape[0] != nil {
		t.Fatalf("batch dimension should be null, got %v", shape[0])
	}
}

func TestReloadedExportMatchesNativeModel(t *testing.T) {
	m, x := trainedModel(t)
	dir := t.TempDir()
	if _, err := SaveLayersModel(m, dir, Options{}); err != nil {
		t.Fatal(err)
	}
	web, err := LoadLayersModel(dir)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := m.Predict(x)
	got, err := web.Predict(x)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-5 {
			t.Fatalf("row %d: native %v, web %v", i, want[i], got[i])
		}
	}
}

func TestShardsSplitAndReassemble(t *testing.T) {
	m, x := trainedModel(t)
	dir := t.TempDir()
	w, err := SaveLayersModel(m, dir, Options{ShardBytes: 4096})
	if err != nil {
		t.Fatal(err)
	}
	// 14084 bytes of weights in 4 KiB shards
	if len(w.Files) != 1+4 || w.Files[4] != "group1-shard4of4.bin" {
		t.Fatalf("files %v", w.Files)
	}
	web, err := LoadLayersModel(dir)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := m.Predict(x)
	got, _ := web.Predict(x)
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-5 {
			t.Fatalf("row %d: native %v, web %v", i, want[i], got[i])
		}
	}
}

func TestLoadLayersModelRejectsTruncatedShard(t *testing.T) {
	m, _ := trainedModel(t)
	dir := t.TempDir()
	if _, err := SaveLayersModel(m, dir, Options{}); err != nil {
		t.Fatal(err)
	}
	shard := filepath.Join(dir, "group1-shard1of1.bin")
	b, _ := os.ReadFile(shard)
	if err := os.WriteFile(shard, b[:len(b)/2], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLayersModel(dir); err == nil {
		t.Fatal("expected truncated shard error")
	}
}

func TestLoadLayersModelMissing(t *testing.T) {
	if _, err := LoadLayersModel(t.TempDir()); err == nil {
		t.Fatal("expected missing model.json error")
	}
}
