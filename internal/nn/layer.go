package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is one trainable tensor and its gradient from the last backward pass.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// Layer is one stage of a sequential model.
type Layer interface {
	Name() string
	Kind() string
	Units() int
	Forward(x *mat.Dense, training bool) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Params() []*Param
	Spec() LayerSpec
}

// LayerSpec describes a layer independently of its weights.
type LayerSpec struct {
	Kind       string     `json:"kind"`
	Name       string     `json:"name"`
	Units      int        `json:"units,omitempty"`
	Activation Activation `json:"activation,omitempty"`
	Rate       float64    `json:"rate,omitempty"`
}

const (
	KindDense   = "Dense"
	KindDropout = "Dropout"
)

// Dense is a fully-connected layer: out = act(x·W + b), W shaped (in, units).
type Dense struct {
	name string
	in   int
	Act  Activation
	W    *Param
	B    *Param

	x   *mat.Dense
	out *mat.Dense
}

// NewDense draws the kernel from a Glorot-uniform distribution and zeroes the bias.
func NewDense(name string, in, units int, act Activation, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6 / float64(in+units))
	w := make([]float64, in*units)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return &Dense{
		name: name,
		in:   in,
		Act:  act,
		W:    &Param{Name: name + "/kernel", Value: mat.NewDense(in, units, w), Grad: mat.NewDense(in, units, nil)},
		B:    &Param{Name: name + "/bias", Value: mat.NewDense(1, units, nil), Grad: mat.NewDense(1, units, nil)},
	}
}

func (d *Dense) Name() string { return d.name }
func (d *Dense) Kind() string { return KindDense }
func (d *Dense) Units() int {
	_, c := d.W.Value.Dims()
	return c
}
func (d *Dense) Params() []*Param { return []*Param{d.W, d.B} }
func (d *Dense) Spec() LayerSpec {
	return LayerSpec{Kind: KindDense, Name: d.name, Units: d.Units(), Activation: d.Act}
}

func (d *Dense) Forward(x *mat.Dense, training bool) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, d.Units(), nil)
	out.Mul(x, d.W.Value)
	bias := d.B.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] = d.Act.apply(row[j] + bias[j])
		}
	}
	d.x, d.out = x, out
	return out
}

// Backward takes dL/d(out) and returns dL/dx, leaving parameter gradients in Grad.
func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	n, c := grad.Dims()
	dz := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		g, o, z := grad.RawRowView(i), d.out.RawRowView(i), dz.RawRowView(i)
		for j := range z {
			z[j] = g[j] * d.Act.derivative(o[j])
		}
	}
	return d.backwardLinear(dz)
}

// backwardLinear takes the gradient with respect to the pre-activation.
func (d *Dense) backwardLinear(dz *mat.Dense) *mat.Dense {
	d.W.Grad.Mul(d.x.T(), dz)
	n, c := dz.Dims()
	db := d.B.Grad.RawRowView(0)
	for j := range db {
		db[j] = 0
	}
	for i := 0; i < n; i++ {
		row := dz.RawRowView(i)
		for j := 0; j < c; j++ {
			db[j] += row[j]
		}
	}
	dx := mat.NewDense(n, d.in, nil)
	dx.Mul(dz, d.W.Value.T())
	return dx
}

// Dropout zeroes a fraction of activations while training and rescales the
// survivors by 1/(1-rate). At inference it is the identity.
type Dropout struct {
	name  string
	units int
	Rate  float64
	rng   *rand.Rand
	mask  *mat.Dense
}

func NewDropout(name string, units int, rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{name: name, units: units, Rate: rate, rng: rng}
}

func (d *Dropout) Name() string     { return d.name }
func (d *Dropout) Kind() string     { return KindDropout }
func (d *Dropout) Units() int       { return d.units }
func (d *Dropout) Params() []*Param { return nil }
func (d *Dropout) Spec() LayerSpec {
	return LayerSpec{Kind: KindDropout, Name: d.name, Rate: d.Rate}
}

func (d *Dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.Rate == 0 {
		d.mask = nil
		return x
	}
	n, c := x.Dims()
	scale := 1 / (1 - d.Rate)
	mask := mat.NewDense(n, c, nil)
	raw := mask.RawMatrix().Data
	for i := range raw {
		if d.rng.Float64() >= d.Rate {
			raw[i] = scale
		}
	}
	d.mask = mask
	out := mat.NewDense(n, c, nil)
	out.MulElem(x, mask)
	return out
}

func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	n, c := grad.Dims()
	out := mat.NewDense(n, c, nil)
	out.MulElem(grad, d.mask)
	return out
}

func buildLayer(spec LayerSpec, in int, rng *rand.Rand) (Layer, error) {
	switch spec.Kind {
	case KindDense:
		if spec.Units <= 0 {
			return nil, fmt.Errorf("nn: layer %s: units must be positive", spec.Name)
		}
		act, err := ParseActivation(string(spec.Activation))
		if err != nil {
			return nil, err
		}
		return NewDense(spec.Name, in, spec.Units, act, rng), nil
	case KindDropout:
		if spec.Rate < 0 || spec.Rate >= 1 {
			return nil, fmt.Errorf("nn: layer %s: dropout rate %v out of [0,1)", spec.Name, spec.Rate)
		}
		return NewDropout(spec.Name, in, spec.Rate, rng), nil
	default:
		return nil, fmt.Errorf("nn: layer %s: unsupported kind %q", spec.Name, spec.Kind)
	}
}
