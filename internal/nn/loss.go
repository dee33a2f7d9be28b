package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// lossEpsilon bounds predictions away from 0 and 1 before taking logs.
const lossEpsilon = 1e-7

func clip(p float64) float64 {
	return math.Min(math.Max(p, lossEpsilon), 1-lossEpsilon)
}

// BinaryCrossEntropy is the mean of -(y·log p + (1-y)·log(1-p)).
func BinaryCrossEntropy(p, y []float64) float64 {
	if len(p) == 0 {
		return 0
	}
	sum := 0.0
	for i := range p {
		c := clip(p[i])
		sum -= y[i]*math.Log(c) + (1-y[i])*math.Log(1-c)
	}
	return sum / float64(len(p))
}

// BinaryAccuracy counts p > 0.5 as the positive class.
func BinaryAccuracy(p, y []float64) float64 {
	if len(p) == 0 {
		return 0
	}
	correct := 0
	for i := range p {
		pred := 0.0
		if p[i] > DecisionThreshold {
			pred = 1
		}
		if pred == math.Round(y[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(p))
}

// sigmoidCrossEntropyDelta is dL/dz for a sigmoid output z, averaged over the batch.
func sigmoidCrossEntropyDelta(p, y []float64) *mat.Dense {
	n := float64(len(p))
	d := make([]float64, len(p))
	for i := range p {
		d[i] = (p[i] - y[i]) / n
	}
	return mat.NewDense(len(p), 1, d)
}

// crossEntropyGrad is dL/dp; it is zero where p was clipped.
func crossEntropyGrad(p, y []float64) *mat.Dense {
	n := float64(len(p))
	d := make([]float64, len(p))
	for i := range p {
		if p[i] < lossEpsilon || p[i] > 1-lossEpsilon {
			continue
		}
		d[i] = (p[i] - y[i]) / (p[i] * (1 - p[i])) / n
	}
	return mat.NewDense(len(p), 1, d)
}
