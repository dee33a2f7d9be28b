package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam is the adaptive-moment optimizer with Keras defaults.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Iterations   int

	m, v []*mat.Dense
}

func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-7}
}

// Step applies one update from the gradients currently held in params.
func (a *Adam) Step(params []*Param) {
	if len(a.m) != len(params) {
		a.m = make([]*mat.Dense, len(params))
		a.v = make([]*mat.Dense, len(params))
		for i, p := range params {
			r, c := p.Value.Dims()
			a.m[i] = mat.NewDense(r, c, nil)
			a.v[i] = mat.NewDense(r, c, nil)
		}
	}
	t := float64(a.Iterations + 1)
	alpha := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
	for i, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[i].RawMatrix().Data
		v := a.v[i].RawMatrix().Data
		for j := range w {
			m[j] += (g[j] - m[j]) * (1 - a.Beta1)
			v[j] += (g[j]*g[j] - v[j]) * (1 - a.Beta2)
			w[j] -= m[j] * alpha / (math.Sqrt(v[j]) + a.Epsilon)
		}
	}
	a.Iterations++
}

// state exposes the moment estimates for checkpointing.
func (a *Adam) state() (m, v [][]float64) {
	for i := range a.m {
		m = append(m, append([]float64(nil), a.m[i].RawMatrix().Data...))
		v = append(v, append([]float64(nil), a.v[i].RawMatrix().Data...))
	}
	return m, v
}

func (a *Adam) restore(params []*Param, m, v [][]float64) bool {
	if len(m) != len(params) || len(v) != len(params) {
		return false
	}
	a.m = make([]*mat.Dense, len(params))
	a.v = make([]*mat.Dense, len(params))
	for i, p := range params {
		r, c := p.Value.Dims()
		if len(m[i]) != r*c || len(v[i]) != r*c {
			a.m, a.v = nil, nil
			return false
		}
		a.m[i] = mat.NewDense(r, c, append([]float64(nil), m[i]...))
		a.v[i] = mat.NewDense(r, c, append([]float64(nil), v[i]...))
	}
	return true
}
