// Package runner sequences a complete limit computation for one signal
// hypothesis: Asimov generation, median, injected and observed limits,
// expected bands and p-values. The outcome is a flat Record that can be
// written as CSV or JSON.
//
// Configuration is read from YAML or JSON files with GOLIMIT_* environment
// overrides:
//
//	cfg, err := runner.LoadConfig("run.yaml")
//	rec, err := runner.Run(ctx, m, data, cfg, logger)
package runner
