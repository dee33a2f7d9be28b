package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TrainRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screamnet_train_runs_total",
		Help: "Total training runs",
	})
	TrainErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screamnet_train_errors_total",
		Help: "Total failed training runs",
	})
	TrainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "screamnet_train_duration_seconds",
		Help:    "Training run duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	Epochs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screamnet_epochs_total",
		Help: "Total completed epochs",
	})
	EpochLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screamnet_epoch_loss",
		Help: "Binary cross-entropy of the last epoch",
	}, []string{"split"})
	EpochAccuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "screamnet_epoch_accuracy",
		Help: "Accuracy of the last epoch",
	}, []string{"split"})
	LearningRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "screamnet_learning_rate",
		Help: "Current optimizer learning rate",
	})
	EarlyStops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "screamnet_early_stops_total",
		Help: "Runs halted by early stopping",
	})
	TestAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "screamnet_test_accuracy",
		Help: "Held-out accuracy of the last evaluated model",
	})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screamnet_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "screamnet_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(TrainRuns, TrainErrors, TrainDuration, Epochs, EpochLoss, EpochAccuracy,
		LearningRate, EarlyStops, TestAccuracy, CommandRuns, CommandErrors)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveTrainDuration records a run duration
func ObserveTrainDuration(start time.Time) {
	TrainDuration.Observe(time.Since(start).Seconds())
}

// ObserveEpoch publishes one epoch. Validation gauges are left alone when the run has no validation rows.
func ObserveEpoch(loss, acc, valLoss, valAcc, lr float64, hasVal bool) {
	Epochs.Inc()
	EpochLoss.WithLabelValues("train").Set(loss)
	EpochAccuracy.WithLabelValues("train").Set(acc)
	if hasVal {
		EpochLoss.WithLabelValues("val").Set(valLoss)
		EpochAccuracy.WithLabelValues("val").Set(valAcc)
	}
	LearningRate.Set(lr)
}

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
