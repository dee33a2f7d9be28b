package nn

import (
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"screamnet/internal/dataset"
)

// FitOptions controls one training run.
type FitOptions struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Shuffle         bool
	Callbacks       []Callback
	// Out receives epoch lines; nil discards them.
	Out io.Writer
	// Live redraws the batch progress in place; only useful on a terminal.
	Live bool
	// OnEpoch observes every finished epoch after callbacks ran.
	OnEpoch func(EpochLog)
}

// DefaultFitOptions is the fixed schedule: 50 epochs of batch 32 with the last 20% held out.
func DefaultFitOptions() FitOptions {
	return FitOptions{Epochs: 50, BatchSize: 32, ValidationSplit: 0.2, Shuffle: true}
}

// EpochLog is what one epoch produced. Epoch is 1-based.
type EpochLog struct {
	Epoch        int
	Loss         float64
	Accuracy     float64
	ValLoss      float64
	ValAccuracy  float64
	HasVal       bool
	LearningRate float64
	Duration     time.Duration
}

// History collects the per-epoch logs of a Fit call.
type History struct {
	Epochs  []EpochLog
	Stopped bool
}

// Last returns the final epoch log, or the zero value when nothing ran.
func (h *History) Last() EpochLog {
	if h == nil || len(h.Epochs) == 0 {
		return EpochLog{}
	}
	return h.Epochs[len(h.Epochs)-1]
}

// BestEpoch is the 1-based epoch with the lowest validation loss, first one on ties.
func (h *History) BestEpoch() int {
	best, at := math.Inf(1), 0
	for _, e := range h.Epochs {
		if e.HasVal && e.ValLoss < best {
			best, at = e.ValLoss, e.Epoch
		}
	}
	return at
}

// Fit trains m on (x, y) in place.
func (m *Model) Fit(x *mat.Dense, y []float64, opts FitOptions) (*History, error) {
	if err := m.checkLabeled(x, y); err != nil {
		return nil, err
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 {
		return nil, fmt.Errorf("nn: epochs and batch size must be positive, got %d and %d", opts.Epochs, opts.BatchSize)
	}
	xTrain, yTrain, xVal, yVal, err := dataset.ValidationSplit(x, y, opts.ValidationSplit)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	progress := NewProgress(out, opts.Live)

	n, _ := xTrain.Dims()
	batches := (n + opts.BatchSize - 1) / opts.BatchSize
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	m.StopTraining = false
	for _, cb := range opts.Callbacks {
		cb.OnTrainBegin(m)
	}
	hist := &History{}
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		start := time.Now()
		progress.Begin(epoch, opts.Epochs)
		if opts.Shuffle {
			m.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		var lossSum, accSum float64
		seen := 0
		for b := 0; b < batches; b++ {
			lo := b * opts.BatchSize
			hi := min(lo+opts.BatchSize, n)
			xb, yb := gather(xTrain, yTrain, order[lo:hi])
			loss, acc := m.trainStep(xb, yb)
			size := hi - lo
			lossSum += loss * float64(size)
			accSum += acc * float64(size)
			seen += size
			progress.Batch(b+1, batches, lossSum/float64(seen), accSum/float64(seen))
		}
		log := EpochLog{
			Epoch:        epoch,
			Loss:         lossSum / float64(seen),
			Accuracy:     accSum / float64(seen),
			LearningRate: m.Optimizer.LearningRate,
		}
		if xVal != nil {
			log.ValLoss, log.ValAccuracy, err = m.Evaluate(xVal, yVal)
			if err != nil {
				return hist, err
			}
			log.HasVal = true
		}
		log.Duration = time.Since(start)
		progress.End(batches, log)
		for _, cb := range opts.Callbacks {
			cb.OnEpochEnd(m, log)
		}
		hist.Epochs = append(hist.Epochs, log)
		if opts.OnEpoch != nil {
			opts.OnEpoch(log)
		}
		if m.StopTraining {
			hist.Stopped = true
			break
		}
	}
	for _, cb := range opts.Callbacks {
		cb.OnTrainEnd(m)
	}
	return hist, nil
}

func (m *Model) trainStep(xb *mat.Dense, yb []float64) (loss, acc float64) {
	loss, acc = m.backprop(xb, yb)
	m.Optimizer.Step(m.Params())
	return loss, acc
}

// backprop runs a training-mode forward pass and leaves gradients in every Param.
func (m *Model) backprop(xb *mat.Dense, yb []float64) (loss, acc float64) {
	p := mat.Col(nil, 0, m.forward(xb, true))
	loss, acc = BinaryCrossEntropy(p, yb), BinaryAccuracy(p, yb)

	last := len(m.Layers) - 1
	var g *mat.Dense
	if d, ok := m.Layers[last].(*Dense); ok && d.Act == Sigmoid {
		g = d.backwardLinear(sigmoidCrossEntropyDelta(p, yb))
	} else {
		g = m.Layers[last].Backward(crossEntropyGrad(p, yb))
	}
	for i := last - 1; i >= 0; i-- {
		g = m.Layers[i].Backward(g)
	}
	return loss, acc
}

func gather(x *mat.Dense, y []float64, idx []int) (*mat.Dense, []float64) {
	_, c := x.Dims()
	xb := mat.NewDense(len(idx), c, nil)
	yb := make([]float64, len(idx))
	for i, j := range idx {
		copy(xb.RawRowView(i), x.RawRowView(j))
		yb[i] = y[j]
	}
	return xb, yb
}
