package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thmegy/Unfolding-sub003/asimov"
	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/minimizer"
	"github.com/thmegy/Unfolding-sub003/model"
	"github.com/thmegy/Unfolding-sub003/runner"
	"github.com/thmegy/Unfolding-sub003/snapshot"
)

var (
	specPath    string
	dataPath    string
	configPath  string
	outPath     string
	metricsPath string
	asJSON      bool

	point     float64
	blind     bool
	verbose   bool
	injection float64

	asimovMu      float64
	asimovProfile float64
	conditional   bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Compute limits, bands and p-values for one signal hypothesis",
		RunE:  runLimits,
	}
	asimovCmd = &cobra.Command{
		Use:   "asimov",
		Short: "Write the Asimov dataset of a model at a POI value",
		RunE:  runAsimov,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&specPath, "spec", "s", "", "model specification (YAML)")
	rootCmd.PersistentFlags().StringVarP(&dataPath, "data", "d", "", "observed data (CSV: channel,bin,count)")
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = rootCmd.MarkPersistentFlagRequired("spec")

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "run configuration (YAML or JSON)")
	runCmd.Flags().StringVar(&metricsPath, "metrics", "", "write Prometheus metrics to this textfile")
	runCmd.Flags().BoolVar(&asJSON, "json", false, "write JSON instead of CSV")
	runCmd.Flags().Float64Var(&point, "point", 0, "point identifier written to the record")
	runCmd.Flags().BoolVar(&blind, "blind", false, "skip observed results")
	runCmd.Flags().Float64Var(&injection, "inject", 0, "also compute the limit with an injected signal of this strength")

	asimovCmd.Flags().Float64Var(&asimovMu, "mu", 0, "POI value the dataset is generated at")
	asimovCmd.Flags().Float64Var(&asimovProfile, "profile", 0, "POI value nuisance parameters are profiled at")
	asimovCmd.Flags().BoolVar(&conditional, "conditional", false, "profile nuisance parameters on the observed data")

	rootCmd.AddCommand(runCmd, asimovCmd)
}

func runLimits(cmd *cobra.Command, _ []string) error {
	cfg, err := runner.LoadConfig(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("point") {
		cfg.Point = point
	}
	if flags.Changed("blind") {
		cfg.Blind = blind
	}
	if flags.Changed("inject") {
		cfg.DoInjected = injection > 0
		cfg.InjectionStrength = injection
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := runner.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := loadModel()
	if err != nil {
		return err
	}
	data, err := loadData(cfg.Blind)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rec, err := runner.Run(ctx, m, data, cfg, logger)
	if err != nil {
		return err
	}

	if metricsPath != "" {
		if err := prometheus.WriteToTextfile(metricsPath, prometheus.DefaultGatherer); err != nil {
			logger.Warn("writing metrics", zap.Error(err))
		}
	}
	return writeOutput(func(w io.Writer) error {
		if asJSON {
			return runner.WriteJSON(w, []*runner.Record{rec})
		}
		return runner.WriteCSV(w, []*runner.Record{rec})
	})
}

func runAsimov(cmd *cobra.Command, _ []string) error {
	cfg := runner.DefaultConfig()
	cfg.Verbose = verbose
	logger, err := runner.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := loadModel()
	if err != nil {
		return err
	}
	store := snapshot.NewStore()
	b, err := asimov.NewBuilder(m, store, minimizer.New(minimizer.DefaultConfig(), logger), logger)
	if err != nil {
		return err
	}

	profile := asimovMu
	if cmd.Flags().Changed("profile") {
		profile = asimovProfile
	}
	req := asimov.Request{Name: "asimovData", Mu: asimovMu, Profile: &profile}
	if conditional {
		data, err := loadData(false)
		if err != nil {
			return err
		}
		nll, err := m.CreateNLL("obsData", data)
		if err != nil {
			return err
		}
		req.Conditional, req.NLL = true, nll
	}
	res, err := b.Build(req)
	if err != nil {
		return err
	}
	logger.Info("asimov dataset",
		zap.Float64("mu", asimovMu),
		zap.Float64("profile", profile),
		zap.Float64("sum", res.Data.SumWeights()),
		zap.Int("skipped", res.Skipped))
	return writeOutput(func(w io.Writer) error { return histogram.WriteCSV(w, res.Data) })
}

func loadModel() (*model.Model, error) {
	spec, err := model.LoadSpec(specPath)
	if err != nil {
		return nil, err
	}
	return spec.Build()
}

func loadData(optional bool) (*histogram.Dataset, error) {
	if dataPath == "" {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("--data is required")
	}
	return histogram.LoadCSV(dataPath, nil)
}

func writeOutput(write func(io.Writer) error) error {
	if outPath == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := write(f); err != nil {
		return err
	}
	return f.Close()
}
