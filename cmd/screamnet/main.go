package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"

	"screamnet/internal/cmdlog"
	"screamnet/internal/config"
	"screamnet/internal/dataset"
	"screamnet/internal/logging"
	"screamnet/internal/metrics"
	"screamnet/internal/pipeline"
	"screamnet/internal/store/runstore"
	"screamnet/internal/theme"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

type app struct {
	v       *viper.Viper
	cfgPath string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}
	root := &cobra.Command{
		Use:           "screamnet",
		Short:         "Train and export the scream detection classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			cfg, err := config.LoadWith(a.v, a.cfgPath)
			if err != nil {
				logging.Error("config_error", map[string]any{"error": err.Error()})
				return err
			}
			a.cfg = cfg
			logging.SetLevel(cfg.Log.Level)
			metrics.StartServer(cfg.Metrics.Addr)
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "path to a YAML config file")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.String("data-dir", ".", "directory holding X_train.npy, X_test.npy, y_train.npy and y_test.npy")
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("metrics.addr", pf.Lookup("metrics-addr"))
	_ = a.v.BindPFlag("data.dir", pf.Lookup("data-dir"))

	root.AddCommand(a.trainCmd(), a.evaluateCmd(), a.predictCmd(), a.historyCmd(), initCmd())
	root.RunE = a.trainCmd().RunE
	return root
}

// openStore returns nil when the run store is disabled.
func (a *app) openStore() (*runstore.DB, error) {
	if a.cfg.Storage.DBPath == "" {
		return nil, nil
	}
	db, err := runstore.Open(a.cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("runstore: open %s: %w", a.cfg.Storage.DBPath, err)
	}
	return db, nil
}

func (a *app) trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train, evaluate and export the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("train", func() error {
				db, err := a.openStore()
				if err != nil {
					return err
				}
				if db != nil {
					defer db.Close()
				}
				_, err = pipeline.New(a.cfg, os.Stdout, db).Run(cmd.Context())
				return err
			})
		},
	}
}

func (a *app) evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Score the saved checkpoint on the test arrays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("evaluate", func() error {
				_, err := pipeline.New(a.cfg, os.Stdout, nil).Evaluate(cmd.Context())
				return err
			})
		},
	}
}

func (a *app) predictCmd() *cobra.Command {
	var input, out string
	var web bool
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify feature rows from a .npy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("predict", func() error {
				preds, err := pipeline.New(a.cfg, os.Stdout, nil).Predict(cmd.Context(), input, web)
				if err != nil {
					return err
				}
				probs := mat.NewDense(len(preds), 1, nil)
				for i, p := range preds {
					label := "Non-Scream"
					if p.Scream {
						label = "Scream"
					}
					fmt.Printf("%d\t%.4f\t%s\n", i, p.Probability, label)
					probs.Set(i, 0, p.Probability)
				}
				if out != "" && len(preds) > 0 {
					return dataset.Save(out, probs)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "feature matrix (.npy) to classify")
	cmd.Flags().BoolVar(&web, "web", false, "use the web export instead of the native checkpoint")
	cmd.Flags().StringVar(&out, "out", "", "write probabilities to this .npy file")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded training runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("history", func() error {
				db, err := a.openStore()
				if err != nil {
					return err
				}
				if db == nil {
					return fmt.Errorf("history: storage.dbPath is empty")
				}
				defer db.Close()
				if len(args) == 1 {
					return pipeline.New(a.cfg, os.Stdout, db).ShowRun(cmd.Context(), args[0])
				}
				runs, err := db.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Printf("%s  %s  epochs=%d best=%d early=%t acc=%.2f%% loss=%.4f\n",
						r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Epochs, r.BestEpoch, r.StoppedEarly, r.TestAccuracy*100, r.TestLoss)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func initCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("init", func() error {
				if err := config.Save(path, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(path)
				theme.PrintBanner(os.Stdout)
				fmt.Println("Config written to:", abs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "./screamnet.yaml", "path to write config")
	return cmd
}
