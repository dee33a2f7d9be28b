package dataset

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"screamnet/internal/config"
)

func writeNpy(t *testing.T, path string, val any) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := npyio.Write(f, val); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMatrixRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X.npy")
	want := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(got, want) {
		t.Fatalf("matrix mismatch:\n%v", mat.Formatted(got))
	}
}

func TestLoadLabelsWidensDtypes(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]any{
		"i64.npy": []int64{0, 1, 1, 0},
		"i32.npy": []int32{0, 1, 1, 0},
		"f32.npy": []float32{0, 1, 1, 0},
		"u8.npy":  []uint8{0, 1, 1, 0},
		"b.npy":   []bool{false, true, true, false},
	}
	for name, val := range cases {
		path := filepath.Join(dir, name)
		writeNpy(t, path, val)
		y, err := LoadLabels(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		want := []float64{0, 1, 1, 0}
		if len(y) != len(want) {
			t.Fatalf("%s: len %d", name, len(y))
		}
		for i := range want {
			if y[i] != want[i] {
				t.Fatalf("%s: y[%d]=%v", name, i, y[i])
			}
		}
	}
}

func TestLoadLabelsRejectsOtherClasses(t *testing.T) {
	dir := t.TempDir()
	for name, val := range map[string]any{
		"two.npy":   []int64{0, 1, 2},
		"minus.npy": []float64{-1, 0, 1},
	} {
		path := filepath.Join(dir, name)
		writeNpy(t, path, val)
		if _, err := LoadLabels(path); !errors.Is(err, ErrLabel) {
			t.Fatalf("%s: expected ErrLabel, got %v", name, err)
		}
	}
}

func TestLoadLabelsRejectsMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "y.npy")
	if err := Save(path, mat.NewDense(2, 2, nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLabels(path); err == nil {
		t.Fatal("expected error for 2D labels")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "X_train.npy"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadSplits(t *testing.T) {
	dir := t.TempDir()
	d := config.Default().Data
	d.Dir = dir
	if err := Save(d.Path(d.XTrain), mat.NewDense(4, 13, nil)); err != nil {
		t.Fatal(err)
	}
	if err := Save(d.Path(d.XTest), mat.NewDense(2, 13, nil)); err != nil {
		t.Fatal(err)
	}
	writeNpy(t, d.Path(d.YTrain), []int64{0, 1, 0, 1})
	writeNpy(t, d.Path(d.YTest), []int64{1, 0})
	s, err := LoadSplits(d)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := s.XTrain.Dims(); r != 4 || c != 13 {
		t.Fatalf("train dims %dx%d", r, c)
	}
	if len(s.YTest) != 2 || s.YTest[0] != 1 {
		t.Fatalf("test labels %v", s.YTest)
	}
}

func TestValidationSplitTakesTail(t *testing.T) {
	x := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	y := []float64{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	xt, yt, xv, yv, err := ValidationSplit(x, y, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := xt.Dims(); r != 8 || len(yt) != 8 {
		t.Fatalf("train rows %d", r)
	}
	if r, _ := xv.Dims(); r != 2 || len(yv) != 2 {
		t.Fatalf("val rows %d", r)
	}
	if xv.At(0, 0) != 8 || xv.At(1, 0) != 9 {
		t.Fatalf("expected last rows held out, got %v %v", xv.At(0, 0), xv.At(1, 0))
	}
	// the split copies, so mutating it leaves the source alone
	xt.Set(0, 0, 100)
	if x.At(0, 0) != 0 {
		t.Fatal("split aliases input")
	}
}

func TestValidationSplitFloors(t *testing.T) {
	x := mat.NewDense(7, 1, nil)
	xt, _, xv, _, err := ValidationSplit(x, make([]float64, 7), 0.2)
	if err != nil {
		t.Fatal(err)
	}
	// floor(7*0.8) = 5
	if r, _ := xt.Dims(); r != 5 {
		t.Fatalf("train rows %d", r)
	}
	if r, _ := xv.Dims(); r != 2 {
		t.Fatalf("val rows %d", r)
	}
}

func TestValidationSplitErrors(t *testing.T) {
	x := mat.NewDense(3, 1, nil)
	if _, _, _, _, err := ValidationSplit(x, []float64{0, 1}, 0.2); err == nil {
		t.Fatal("expected row/label mismatch error")
	}
	if _, _, _, _, err := ValidationSplit(x, []float64{0, 1, 0}, 1); err == nil {
		t.Fatal("expected fraction error")
	}
}

func TestClassBalance(t *testing.T) {
	n, p := ClassBalance([]float64{0, 1, 1, 0, 1})
	if n != 2 || p != 3 {
		t.Fatalf("balance %d/%d", n, p)
	}
}
