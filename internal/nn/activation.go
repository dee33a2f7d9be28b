package nn

import (
	"fmt"
	"math"
)

// Activation names follow the Keras spelling so exported topologies load unchanged.
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
)

func ParseActivation(s string) (Activation, error) {
	switch a := Activation(s); a {
	case Linear, ReLU, Sigmoid:
		return a, nil
	case "":
		return Linear, nil
	default:
		return "", fmt.Errorf("nn: unsupported activation %q", s)
	}
}

func (a Activation) apply(x float64) float64 {
	switch a {
	case ReLU:
		return relu(x)
	case Sigmoid:
		return sigmoid(x)
	default:
		return x
	}
}

// derivative is expressed in terms of the activation's output.
func (a Activation) derivative(out float64) float64 {
	switch a {
	case ReLU:
		if out > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		return out * (1 - out)
	default:
		return 1
	}
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
