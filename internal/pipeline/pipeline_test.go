package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"screamnet/internal/config"
	"screamnet/internal/dataset"
	"screamnet/internal/nn"
	"screamnet/internal/store/runstore"
)

// writeArrays stores a balanced, roughly separable problem under dir.
func writeArrays(t *testing.T, dir string, nTrain, nTest int) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	gen := func(n int) (*mat.Dense, *mat.Dense) {
		x := mat.NewDense(n, nn.InputDim, nil)
		y := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			label := float64(i % 2)
			y.Set(i, 0, label)
			for j := 0; j < nn.InputDim; j++ {
				x.Set(i, j, rng.NormFloat64()*0.3+(2*label-1)*0.8)
			}
		}
		return x, y
	}
	xTrain, yTrain := gen(nTrain)
	xTest, yTest := gen(nTest)
	for name, m := range map[string]mat.Matrix{"X_train.npy": xTrain, "y_train.npy": yTrain, "X_test.npy": xTest, "y_test.npy": yTest} {
		if err := dataset.Save(filepath.Join(dir, name), m); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.Data.Dir = dir
	cfg.Export.CheckpointDir = filepath.Join(dir, "scream_detection_model")
	cfg.Export.WebDir = filepath.Join(dir, "public", "model")
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeArrays(t, dir, 100, 40)
	db, err := runstore.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var out bytes.Buffer
	p := New(testConfig(dir), &out, db)
	p.Fit = nn.DefaultFitOptions()
	p.Fit.Epochs = 8
	ctx := context.Background()
	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	if n := len(res.History.Epochs); n == 0 || n > 8 {
		t.Fatalf("ran %d epochs", n)
	}
	if res.TestAccuracy < 0 || res.TestAccuracy > 1 {
		t.Fatalf("accuracy out of range: %v", res.TestAccuracy)
	}
	if res.Confusion.Total() != 40 {
		t.Fatalf("confusion covers %d samples, want 40", res.Confusion.Total())
	}
	for _, f := range []string{
		filepath.Join(dir, "scream_detection_model", nn.CheckpointArchitecture),
		filepath.Join(dir, "scream_detection_model", nn.CheckpointWeights),
		filepath.Join(dir, "public", "model", "model.json"),
		filepath.Join(dir, "public", "model", "group1-shard1of1.bin"),
	} {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("missing output: %v", err)
		}
	}
	console := out.String()
	for _, want := range []string{"SCREAM DETECTION MODEL TRAINING", "Classification Report", "Actual Scream", "MODEL TRAINING COMPLETE!"} {
		if !strings.Contains(console, want) {
			t.Fatalf("console lacks %q", want)
		}
	}
	if strings.Contains(console, "\033[") {
		t.Fatal("colour codes written to a buffer")
	}

	runs, err := db.ListRuns(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != res.RunID || runs[0].Confusion != [2][2]int(res.Confusion) {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	eps, err := db.LoadEpochs(ctx, res.RunID)
	if err != nil || len(eps) != len(res.History.Epochs) || !eps[0].ValLoss.Valid {
		t.Fatalf("epochs not recorded: %v %+v", err, eps)
	}
	probs, err := db.LoadPredictions(ctx, res.RunID)
	if err != nil || len(probs) != 40 {
		t.Fatalf("predictions not recorded: %v %d", err, len(probs))
	}

	var shown bytes.Buffer
	if err := New(testConfig(dir), &shown, db).ShowRun(ctx, res.RunID); err != nil {
		t.Fatal(err)
	}
	detail := shown.String()
	for _, want := range []string{res.RunID, "Actual Non-Scream", "val_loss", "Predictions: 40 stored"} {
		if !strings.Contains(detail, want) {
			t.Fatalf("run detail lacks %q:\n%s", want, detail)
		}
	}
	if got := strings.Count(detail, "\n    1  "); got != 1 {
		t.Fatalf("expected one row for epoch 1, got %d:\n%s", got, detail)
	}
	if err := New(testConfig(dir), io.Discard, db).ShowRun(ctx, "missing"); !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	again, err := New(testConfig(dir), nil, nil).Evaluate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(again.TestLoss-res.TestLoss) > 1e-9 || again.Confusion != res.Confusion {
		t.Fatalf("reloaded checkpoint disagrees: %v vs %v", again.TestLoss, res.TestLoss)
	}
}

func TestPredictNativeAndWebAgree(t *testing.T) {
	dir := t.TempDir()
	writeArrays(t, dir, 60, 20)
	p := New(testConfig(dir), nil, nil)
	p.Fit = nn.DefaultFitOptions()
	p.Fit.Epochs = 2
	ctx := context.Background()
	if _, err := p.Run(ctx); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(dir, "X_test.npy")
	native, err := p.Predict(ctx, input, false)
	if err != nil {
		t.Fatal(err)
	}
	web, err := p.Predict(ctx, input, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(native) != 20 || len(web) != 20 {
		t.Fatalf("got %d and %d predictions", len(native), len(web))
	}
	for i := range native {
		if math.Abs(native[i].Probability-web[i].Probability) > 1e-5 {
			t.Fatalf("row %d: native %v web %v", i, native[i].Probability, web[i].Probability)
		}
		if native[i].Scream != (native[i].Probability > 0.5) {
			t.Fatalf("row %d: label does not follow threshold", i)
		}
	}
}

func TestRunMissingData(t *testing.T) {
	p := New(testConfig(t.TempDir()), nil, nil)
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing arrays")
	}
}

func TestRunRejectsLabelsOutsideBinary(t *testing.T) {
	dir := t.TempDir()
	writeArrays(t, dir, 40, 10)
	bad := mat.NewDense(10, 1, []float64{0, 1, 2, 1, 0, 1, -1, 1, 0, 7})
	if err := dataset.Save(filepath.Join(dir, "y_test.npy"), bad); err != nil {
		t.Fatal(err)
	}
	p := New(testConfig(dir), nil, nil)
	p.Fit = nn.DefaultFitOptions()
	p.Fit.Epochs = 1
	if _, err := p.Run(context.Background()); !errors.Is(err, dataset.ErrLabel) {
		t.Fatalf("expected label error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "scream_detection_model")); !os.IsNotExist(err) {
		t.Fatal("nothing should be saved for invalid labels")
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeArrays(t, dir, 40, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(testConfig(dir), nil, nil)
	if _, err := p.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if _, err := os.Stat(filepath.Join(dir, "scream_detection_model")); !os.IsNotExist(err) {
		t.Fatal("nothing should be saved after cancellation")
	}
}
