package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"screamnet/internal/config"
)

// Splits is the pre-partitioned train/test data.
type Splits struct {
	XTrain *mat.Dense
	YTrain []float64
	XTest  *mat.Dense
	YTest  []float64
}

// LoadSplits reads the four arrays named in d. Shapes are not cross-checked here;
// the model reports mismatches when it consumes them.
func LoadSplits(d config.DataConfig) (Splits, error) {
	var s Splits
	var err error
	if s.XTrain, err = Load(d.Path(d.XTrain)); err != nil {
		return s, err
	}
	if s.XTest, err = Load(d.Path(d.XTest)); err != nil {
		return s, err
	}
	if s.YTrain, err = LoadLabels(d.Path(d.YTrain)); err != nil {
		return s, err
	}
	if s.YTest, err = LoadLabels(d.Path(d.YTest)); err != nil {
		return s, err
	}
	return s, nil
}

// ValidationSplit holds out the last fraction of rows, before any shuffling.
// The head keeps floor(n*(1-fraction)) rows.
func ValidationSplit(x *mat.Dense, y []float64, fraction float64) (xTrain *mat.Dense, yTrain []float64, xVal *mat.Dense, yVal []float64, err error) {
	if fraction < 0 || fraction >= 1 {
		return nil, nil, nil, nil, fmt.Errorf("dataset: validation fraction must be in [0,1), got %v", fraction)
	}
	n, c := x.Dims()
	if n != len(y) {
		return nil, nil, nil, nil, fmt.Errorf("dataset: %d feature rows but %d labels", n, len(y))
	}
	at := int(math.Floor(float64(n) * (1 - fraction)))
	if at == 0 {
		return nil, nil, nil, nil, fmt.Errorf("dataset: validation split %v leaves no training rows out of %d", fraction, n)
	}
	xTrain = mat.DenseCopyOf(x.Slice(0, at, 0, c))
	yTrain = append([]float64(nil), y[:at]...)
	if at < n {
		xVal = mat.DenseCopyOf(x.Slice(at, n, 0, c))
		yVal = append([]float64(nil), y[at:]...)
	}
	return xTrain, yTrain, xVal, yVal, nil
}

// ClassBalance counts labels above and below 0.5.
func ClassBalance(y []float64) (negatives, positives int) {
	for _, v := range y {
		if v > 0.5 {
			positives++
		} else {
			negatives++
		}
	}
	return negatives, positives
}
