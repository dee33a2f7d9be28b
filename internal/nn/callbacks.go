package nn

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Callback hooks into Fit. Epoch logs arrive after validation has been computed.
type Callback interface {
	OnTrainBegin(m *Model)
	OnEpochEnd(m *Model, log EpochLog)
	OnTrainEnd(m *Model)
}

// EarlyStopping halts Fit once val_loss has not improved for Patience epochs.
// With RestoreBestWeights the model ends training holding its best-epoch weights.
type EarlyStopping struct {
	Patience           int
	MinDelta           float64
	RestoreBestWeights bool
	Verbose            io.Writer

	// Read after Fit returns.
	BestEpoch    int
	BestValLoss  float64
	StoppedEpoch int
	Restored     bool

	wait        int
	bestWeights []*mat.Dense
}

func NewEarlyStopping(patience int, restoreBest bool, verbose io.Writer) *EarlyStopping {
	return &EarlyStopping{Patience: patience, RestoreBestWeights: restoreBest, Verbose: verbose}
}

func (e *EarlyStopping) OnTrainBegin(m *Model) {
	e.wait = 0
	e.BestEpoch, e.StoppedEpoch = 0, 0
	e.BestValLoss = math.Inf(1)
	e.Restored = false
	e.bestWeights = nil
}

func (e *EarlyStopping) OnEpochEnd(m *Model, log EpochLog) {
	if !log.HasVal {
		return
	}
	if e.RestoreBestWeights && e.bestWeights == nil {
		e.bestWeights = m.Weights()
		e.BestEpoch = log.Epoch
	}
	e.wait++
	if log.ValLoss+e.MinDelta < e.BestValLoss {
		e.BestValLoss = log.ValLoss
		e.BestEpoch = log.Epoch
		if e.RestoreBestWeights {
			e.bestWeights = m.Weights()
		}
		e.wait = 0
		return
	}
	if e.wait >= e.Patience && log.Epoch > 1 {
		e.StoppedEpoch = log.Epoch
		m.StopTraining = true
	}
}

func (e *EarlyStopping) OnTrainEnd(m *Model) {
	if e.StoppedEpoch > 0 {
		e.printf("Epoch %d: early stopping\n", e.StoppedEpoch)
	}
	if e.RestoreBestWeights && e.bestWeights != nil {
		e.printf("Restoring model weights from the end of the best epoch: %d.\n", e.BestEpoch)
		if err := m.SetWeights(e.bestWeights); err == nil {
			e.Restored = true
		}
	}
}

func (e *EarlyStopping) printf(format string, args ...any) {
	if e.Verbose != nil {
		fmt.Fprintf(e.Verbose, format, args...)
	}
}

// ReduceLROnPlateau multiplies the learning rate by Factor once val_loss has
// not improved by MinDelta for Patience epochs.
type ReduceLROnPlateau struct {
	Factor   float64
	Patience int
	MinDelta float64
	Cooldown int
	MinLR    float64
	Verbose  io.Writer

	// Reductions counts how often the rate was lowered.
	Reductions int

	wait            int
	cooldownCounter int
	best            float64
}

func NewReduceLROnPlateau(factor float64, patience int, verbose io.Writer) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{Factor: factor, Patience: patience, MinDelta: 1e-4, Verbose: verbose}
}

func (r *ReduceLROnPlateau) OnTrainBegin(m *Model) {
	r.wait, r.cooldownCounter, r.Reductions = 0, 0, 0
	r.best = math.Inf(1)
}

func (r *ReduceLROnPlateau) OnEpochEnd(m *Model, log EpochLog) {
	if !log.HasVal {
		return
	}
	if r.cooldownCounter > 0 {
		r.cooldownCounter--
		r.wait = 0
	}
	if log.ValLoss < r.best-r.MinDelta {
		r.best = log.ValLoss
		r.wait = 0
		return
	}
	if r.cooldownCounter > 0 {
		return
	}
	r.wait++
	if r.wait < r.Patience {
		return
	}
	old := m.Optimizer.LearningRate
	if old > r.MinLR {
		lr := math.Max(old*r.Factor, r.MinLR)
		m.Optimizer.LearningRate = lr
		r.Reductions++
		if r.Verbose != nil {
			fmt.Fprintf(r.Verbose, "\nEpoch %d: ReduceLROnPlateau reducing learning rate to %g.\n", log.Epoch, lr)
		}
		r.cooldownCounter = r.Cooldown
		r.wait = 0
	}
}

func (r *ReduceLROnPlateau) OnTrainEnd(m *Model) {}
