// Package dataset loads the precomputed feature and label arrays and
// partitions training rows for validation.
package dataset

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Load reads one .npy array into a float64 matrix. 1D arrays become a single column.
func Load(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	if r.Header.Descr.Fortran {
		return nil, fmt.Errorf("dataset: %s: fortran-ordered arrays are not supported", path)
	}
	rows, cols, err := dims(r.Header.Descr.Shape)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	data, err := readFloat64(r, rows*cols)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	if rows == 0 || cols == 0 {
		return &mat.Dense{}, nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// LoadLabels reads a 1D label array, or an (n, 1) column, as float64 values.
func LoadLabels(path string) ([]float64, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	if m.IsEmpty() {
		return nil, nil
	}
	n, c := m.Dims()
	if c != 1 {
		return nil, fmt.Errorf("dataset: %s: labels must be 1D, got shape (%d, %d)", path, n, c)
	}
	y := mat.Col(nil, 0, m)
	if err := CheckLabels(y); err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return y, nil
}

// ErrLabel marks a label outside {0, 1}.
var ErrLabel = errors.New("label must be 0 or 1")

// CheckLabels reports the first value that is neither 0 nor 1.
func CheckLabels(y []float64) error {
	for i, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("sample %d: %w, got %v", i, ErrLabel, v)
		}
	}
	return nil
}

// Save writes m to path as a C-ordered float64 .npy array.
func Save(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return fmt.Errorf("dataset: %s: %w", path, err)
	}
	return f.Close()
}

func dims(shape []int) (int, int, error) {
	switch len(shape) {
	case 0:
		return 1, 1, nil
	case 1:
		return shape[0], 1, nil
	case 2:
		return shape[0], shape[1], nil
	default:
		return 0, 0, fmt.Errorf("unsupported rank %d (shape %v)", len(shape), shape)
	}
}

// readFloat64 reads n elements in the file's own dtype and widens them.
func readFloat64(r *npyio.Reader, n int) ([]float64, error) {
	out := make([]float64, n)
	switch dt := r.Header.Descr.Type; dt {
	case "<f8":
		if err := r.Read(&out); err != nil {
			return nil, err
		}
	case "<f4":
		v := make([]float32, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "<i8":
		v := make([]int64, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "<i4":
		v := make([]int32, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "<i2":
		v := make([]int16, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "|i1":
		v := make([]int8, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "|u1":
		v := make([]uint8, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "|b1":
		v := make([]bool, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dt)
	}
	return out, nil
}
