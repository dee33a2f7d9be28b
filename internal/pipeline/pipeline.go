// Package pipeline runs the training flow end to end: load, build, fit,
// evaluate, save both model formats and record the run.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"screamnet/internal/config"
	"screamnet/internal/dataset"
	"screamnet/internal/eval"
	"screamnet/internal/export"
	"screamnet/internal/logging"
	"screamnet/internal/metrics"
	"screamnet/internal/nn"
	"screamnet/internal/store/runstore"
	"screamnet/internal/theme"
)

// Training schedule of the classifier.
const (
	EarlyStopPatience = 10
	PlateauFactor     = 0.5
	PlateauPatience   = 5
)

// Pipeline owns one model for the duration of a command.
type Pipeline struct {
	cfg config.Config
	out io.Writer
	db  *runstore.DB

	// Color enables ANSI colours in banners.
	Color bool
	// Live redraws batch progress in place.
	Live bool
	// Fit overrides the training schedule; zero value means nn.DefaultFitOptions.
	Fit nn.FitOptions
}

// New prepares a pipeline writing console output to out. db may be nil.
func New(cfg config.Config, out io.Writer, db *runstore.DB) *Pipeline {
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{cfg: cfg, out: out, db: db, Color: theme.Colorize(out), Live: theme.Colorize(out)}
}

// Result is what a training or evaluation run produced.
type Result struct {
	RunID         string
	Model         *nn.Model
	History       *nn.History
	BestEpoch     int
	StoppedEarly  bool
	TestLoss      float64
	TestAccuracy  float64
	Probabilities []float64
	Confusion     eval.Confusion
	Report        eval.Report
	CheckpointDir string
	Web           export.Written
}

func (p *Pipeline) printf(format string, args ...any) { fmt.Fprintf(p.out, format, args...) }

func (p *Pipeline) section(title string) {
	fmt.Fprintln(p.out, theme.Section(p.Color, title))
}

// Run trains, evaluates and saves the classifier.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	started := time.Now()
	metrics.TrainRuns.Inc()
	defer func() {
		metrics.ObserveTrainDuration(started)
		if err != nil {
			metrics.TrainErrors.Inc()
		}
	}()

	fmt.Fprint(p.out, theme.Banner(p.Color))

	p.printf("\n📂 Loading training data...\n")
	splits, err := dataset.LoadSplits(p.cfg.Data)
	if err != nil {
		return nil, err
	}
	nTrain, dim := splits.XTrain.Dims()
	nTest, _ := splits.XTest.Dims()
	p.printf("✅ Training samples: %d\n", nTrain)
	p.printf("✅ Testing samples: %d\n", nTest)
	p.printf("✅ Feature dimension: %d\n", dim)
	neg, pos := dataset.ClassBalance(splits.YTrain)
	logging.Info("dataset_loaded", map[string]any{"train": nTrain, "test": nTest, "dim": dim, "negatives": neg, "positives": pos})

	p.printf("\n🧠 Building neural network model...\n")
	m, err := nn.NewScreamModel(p.cfg.Model.InputDim, p.cfg.Model.Seed)
	if err != nil {
		return nil, err
	}
	p.printf("\n📋 Model Summary:\n")
	m.Summary(p.out)

	p.printf("\n🚀 Training model...\n%s\n", theme.Divider)
	es := nn.NewEarlyStopping(EarlyStopPatience, true, p.out)
	plateau := nn.NewReduceLROnPlateau(PlateauFactor, PlateauPatience, p.out)
	opts := p.Fit
	if opts.Epochs == 0 {
		opts = nn.DefaultFitOptions()
	}
	opts.Callbacks = append(opts.Callbacks, es, plateau)
	opts.Out = p.out
	opts.Live = p.Live
	opts.OnEpoch = func(l nn.EpochLog) {
		metrics.ObserveEpoch(l.Loss, l.Accuracy, l.ValLoss, l.ValAccuracy, l.LearningRate, l.HasVal)
		logging.Debug("epoch", map[string]any{"epoch": l.Epoch, "loss": l.Loss, "val_loss": l.ValLoss, "lr": l.LearningRate})
		if ctx.Err() != nil {
			m.StopTraining = true
		}
	}
	hist, err := m.Fit(splits.XTrain, splits.YTrain, opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res = &Result{
		Model:        m,
		History:      hist,
		BestEpoch:    hist.BestEpoch(),
		StoppedEarly: es.StoppedEpoch > 0,
	}
	if es.Restored {
		res.BestEpoch = es.BestEpoch
	}
	if res.StoppedEarly {
		metrics.EarlyStops.Inc()
	}

	p.section("📊 EVALUATING MODEL")
	if err := p.evaluate(m, splits.XTest, splits.YTest, res); err != nil {
		return nil, err
	}

	p.section("💾 SAVING MODEL")
	p.printf("\n📁 Saving native checkpoint...\n")
	if err := m.SaveCheckpoint(p.cfg.Export.CheckpointDir); err != nil {
		return nil, err
	}
	res.CheckpointDir = p.cfg.Export.CheckpointDir
	p.printf("✅ Saved to: %s/\n", p.cfg.Export.CheckpointDir)

	p.printf("\n🔄 Converting to TensorFlow.js format...\n")
	res.Web, err = export.SaveLayersModel(m, p.cfg.Export.WebDir, export.Options{ShardBytes: p.cfg.Export.ShardBytes})
	if err != nil {
		return nil, err
	}
	p.printf("✅ Saved to: %s/ (%d files, %s of weights)\n", p.cfg.Export.WebDir, len(res.Web.Files), humanize.Bytes(uint64(res.Web.Weight)))

	if p.db != nil {
		if err := p.record(ctx, started, res); err != nil {
			return nil, err
		}
	}

	p.section("🎉 MODEL TRAINING COMPLETE!")
	p.printf("\n📊 Final Results:\n")
	p.printf("   Accuracy: %.2f%%\n", res.TestAccuracy*100)
	p.printf("   Model saved to: %s/\n", p.cfg.Export.WebDir)
	if res.RunID != "" {
		p.printf("   Run id: %s\n", res.RunID)
	}
	p.printf("\n🚀 Next steps:\n")
	p.printf("   1. The trained model is now in %s/\n", p.cfg.Export.WebDir)
	p.printf("   2. Restart your Next.js app: npm run dev\n")
	p.printf("   3. The app will automatically load the trained model!\n")
	p.printf("\n%s\n", theme.Rule)
	logging.Info("training_complete", map[string]any{
		"epochs":        len(hist.Epochs),
		"best_epoch":    res.BestEpoch,
		"stopped_early": res.StoppedEarly,
		"test_accuracy": res.TestAccuracy,
		"run_id":        res.RunID,
	})
	return res, nil
}

// evaluate fills the test figures of res and prints the report.
func (p *Pipeline) evaluate(m *nn.Model, x *mat.Dense, y []float64, res *Result) error {
	loss, acc, err := m.Evaluate(x, y)
	if err != nil {
		return err
	}
	res.TestLoss, res.TestAccuracy = loss, acc
	metrics.TestAccuracy.Set(acc)
	p.printf("\n✅ Test Accuracy: %.2f%%\n", acc*100)
	p.printf("✅ Test Loss: %.4f\n", loss)

	res.Probabilities, err = m.Predict(x)
	if err != nil {
		return err
	}
	yTrue, err := eval.Labels(y)
	if err != nil {
		return err
	}
	res.Confusion, err = eval.NewConfusion(yTrue, eval.Threshold(res.Probabilities, nn.DecisionThreshold))
	if err != nil {
		return err
	}
	res.Report = eval.NewReport(res.Confusion)

	p.printf("\n📈 Classification Report:\n%s\n", theme.Divider)
	res.Report.Write(p.out)
	p.printf("\n📊 Confusion Matrix:\n%s\n", theme.Divider)
	eval.WriteConfusion(p.out, res.Confusion)
	return nil
}

func (p *Pipeline) record(ctx context.Context, started time.Time, res *Result) error {
	res.RunID = uuid.NewString()
	last := res.History.Last()
	run := runstore.Run{
		ID:            res.RunID,
		StartedAt:     started,
		FinishedAt:    time.Now(),
		Epochs:        len(res.History.Epochs),
		BestEpoch:     res.BestEpoch,
		StoppedEarly:  res.StoppedEarly,
		LearningRate:  last.LearningRate,
		TestLoss:      res.TestLoss,
		TestAccuracy:  res.TestAccuracy,
		Confusion:     res.Confusion,
		CheckpointDir: res.CheckpointDir,
		WebDir:        res.Web.Dir,
	}
	if err := p.db.PutRun(ctx, run); err != nil {
		return fmt.Errorf("pipeline: record run: %w", err)
	}
	epochs := make([]runstore.Epoch, 0, len(res.History.Epochs))
	for _, e := range res.History.Epochs {
		epochs = append(epochs, runstore.Epoch{
			Epoch:        e.Epoch,
			Loss:         e.Loss,
			Accuracy:     e.Accuracy,
			ValLoss:      sql.NullFloat64{Float64: e.ValLoss, Valid: e.HasVal},
			ValAccuracy:  sql.NullFloat64{Float64: e.ValAccuracy, Valid: e.HasVal},
			LearningRate: e.LearningRate,
		})
	}
	if err := p.db.PutEpochs(ctx, res.RunID, epochs); err != nil {
		return fmt.Errorf("pipeline: record epochs: %w", err)
	}
	if err := p.db.PutPredictions(ctx, res.RunID, res.Probabilities); err != nil {
		return fmt.Errorf("pipeline: record predictions: %w", err)
	}
	logging.Info("run_recorded", map[string]any{"run_id": res.RunID})
	return nil
}

// Evaluate reloads the native checkpoint and scores it on the test arrays.
func (p *Pipeline) Evaluate(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := p.cfg.Data
	x, err := dataset.Load(d.Path(d.XTest))
	if err != nil {
		return nil, err
	}
	y, err := dataset.LoadLabels(d.Path(d.YTest))
	if err != nil {
		return nil, err
	}
	m, err := nn.LoadCheckpoint(p.cfg.Export.CheckpointDir)
	if err != nil {
		return nil, err
	}
	p.section("📊 EVALUATING MODEL")
	res := &Result{Model: m, CheckpointDir: p.cfg.Export.CheckpointDir}
	if err := p.evaluate(m, x, y, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Prediction is the decision for one feature row.
type Prediction struct {
	Probability float64
	Scream      bool
}

// Predict scores the rows of the .npy file at path with the native checkpoint,
// or with the web export when web is set.
func (p *Pipeline) Predict(ctx context.Context, path string, web bool) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	var m *nn.Model
	if web {
		m, err = export.LoadLayersModel(p.cfg.Export.WebDir)
	} else {
		m, err = nn.LoadCheckpoint(p.cfg.Export.CheckpointDir)
	}
	if err != nil {
		return nil, err
	}
	probs, err := m.Predict(x)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(probs))
	for i, pr := range probs {
		out[i] = Prediction{Probability: pr, Scream: pr > nn.DecisionThreshold}
	}
	return out, nil
}

// ShowRun prints one recorded run: its summary, confusion table, epoch rows
// and the spread of its stored test predictions.
func (p *Pipeline) ShowRun(ctx context.Context, id string) error {
	if p.db == nil {
		return fmt.Errorf("pipeline: no run store configured")
	}
	run, err := p.db.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: run %s: %w", id, err)
	}
	epochs, err := p.db.LoadEpochs(ctx, id)
	if err != nil {
		return fmt.Errorf("pipeline: run %s epochs: %w", id, err)
	}
	probs, err := p.db.LoadPredictions(ctx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pipeline: run %s predictions: %w", id, err)
	}

	p.section("📜 RUN " + run.ID)
	p.printf("Started:      %s\n", run.StartedAt.Local().Format(time.RFC3339))
	p.printf("Duration:     %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	p.printf("Epochs:       %d (best %d, stopped early: %t)\n", run.Epochs, run.BestEpoch, run.StoppedEarly)
	p.printf("Final lr:     %.4e\n", run.LearningRate)
	p.printf("Test:         accuracy %.2f%%, loss %.4f\n", run.TestAccuracy*100, run.TestLoss)
	p.printf("Outputs:      %s/, %s/\n", run.CheckpointDir, run.WebDir)

	p.printf("\n📊 Confusion Matrix:\n%s\n", theme.Divider)
	eval.WriteConfusion(p.out, eval.Confusion(run.Confusion))

	p.printf("\n📈 Epochs:\n%s\n", theme.Divider)
	p.printf("%5s  %8s  %8s  %8s  %8s  %12s\n", "epoch", "loss", "acc", "val_loss", "val_acc", "lr")
	for _, e := range epochs {
		valLoss, valAcc := "-", "-"
		if e.ValLoss.Valid {
			valLoss = fmt.Sprintf("%.4f", e.ValLoss.Float64)
		}
		if e.ValAccuracy.Valid {
			valAcc = fmt.Sprintf("%.4f", e.ValAccuracy.Float64)
		}
		p.printf("%5d  %8.4f  %8.4f  %8s  %8s  %12.4e\n", e.Epoch, e.Loss, e.Accuracy, valLoss, valAcc, e.LearningRate)
	}

	if len(probs) > 0 {
		var sum float64
		screams := 0
		for _, pr := range probs {
			sum += float64(pr)
			if float64(pr) > nn.DecisionThreshold {
				screams++
			}
		}
		p.printf("\n🔎 Predictions: %d stored, mean probability %.4f, %d above %.1f\n",
			len(probs), sum/float64(len(probs)), screams, nn.DecisionThreshold)
	}
	return nil
}
