package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/thmegy/Unfolding-sub003/histogram"
	"github.com/thmegy/Unfolding-sub003/limit"
	"github.com/thmegy/Unfolding-sub003/minimizer"
	"github.com/thmegy/Unfolding-sub003/stats"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config holds every option of a limit run.
type Config struct {
	// Point identifies the signal hypothesis (e.g. a mass) in the output.
	Point float64 `json:"point" yaml:"point"`
	// TestPOI is the POI value at which the CLs quantities are reported.
	TestPOI   float64 `json:"test_poi" yaml:"test_poi"`
	TargetCLs float64 `json:"target_cls" yaml:"target_cls" validate:"gt=0,lt=1"`

	BetterBands           bool `json:"better_bands" yaml:"better_bands"`
	BetterNegativeBands   bool `json:"better_negative_bands" yaml:"better_negative_bands"`
	ProfileNegativeAtZero bool `json:"profile_negative_at_zero" yaml:"profile_negative_at_zero"`

	Minimizer MinimizerConfig `json:"minimizer" yaml:"minimizer"`

	SuppressWarnings bool `json:"suppress_warnings" yaml:"suppress_warnings"`
	Verbose          bool `json:"verbose" yaml:"verbose"`
	// Blind skips every computation on observed data.
	Blind bool `json:"blind" yaml:"blind"`
	// Conditional profiles nuisance parameters on the observed data before
	// generating Asimov datasets; otherwise nominal values are used.
	Conditional bool `json:"conditional" yaml:"conditional"`
	Tilde       bool `json:"tilde" yaml:"tilde"`

	DoExpected bool `json:"do_expected" yaml:"do_expected"`
	DoObserved bool `json:"do_observed" yaml:"do_observed"`
	DoInjected bool `json:"do_injected" yaml:"do_injected"`
	DoPValues  bool `json:"do_pvalues" yaml:"do_pvalues"`

	InjectionStrength float64 `json:"injection_strength" yaml:"injection_strength" validate:"gte=0"`
	// InjectionParam names the model parameter scaling an injected signal.
	// Empty keeps the model's own setting.
	InjectionParam string `json:"injection_param" yaml:"injection_param"`

	Precision        float64 `json:"precision" yaml:"precision" validate:"gt=0,lt=1"`
	PredictiveFit    bool    `json:"predictive_fit" yaml:"predictive_fit"`
	ExtrapolateSigma bool    `json:"extrapolate_sigma" yaml:"extrapolate_sigma"`
	MaxRetries       int     `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=20"`
	Workers          int     `json:"workers" yaml:"workers" validate:"gte=1,lte=256"`
	// BandWorkers > 1 solves the better bands concurrently on forked state.
	BandWorkers int `json:"band_workers" yaml:"band_workers" validate:"gte=1,lte=4"`

	// Asimov0 is an optional pre-built background-only Asimov dataset.
	Asimov0 *histogram.Dataset `json:"-" yaml:"-"`
}

// MinimizerConfig selects the minimizer.
type MinimizerConfig struct {
	Algorithm  string `json:"algorithm" yaml:"algorithm" validate:"oneof=bfgs lbfgs simplex"`
	Strategy   int    `json:"strategy" yaml:"strategy" validate:"gte=0,lte=2"`
	PrintLevel int    `json:"print_level" yaml:"print_level" validate:"gte=-1,lte=3"`
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		TestPOI:     1,
		TargetCLs:   0.05,
		BetterBands: true,
		Minimizer: MinimizerConfig{
			Algorithm:  minimizer.BFGS,
			Strategy:   1,
			PrintLevel: -1,
		},
		Conditional: true,
		Tilde:       true,
		DoExpected:  true,
		DoObserved:  true,
		DoInjected:  false,
		DoPValues:   true,
		Precision:   stats.DefaultPrecision,
		MaxRetries:  3,
		Workers:     1,
		BandWorkers: 1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.DoInjected && c.InjectionStrength == 0 {
		return fmt.Errorf("invalid config: injected limit requested without injection strength")
	}
	return nil
}

func (c Config) minimizerConfig() minimizer.Config {
	return minimizer.Config{
		Algorithm:  c.Minimizer.Algorithm,
		Strategy:   c.Minimizer.Strategy,
		PrintLevel: c.Minimizer.PrintLevel,
		Workers:    c.Workers,
	}
}

func (c Config) solverOptions() limit.Options {
	return limit.Options{
		TargetCLs:        c.TargetCLs,
		Tilde:            c.Tilde,
		Precision:        c.Precision,
		MaxRetries:       c.MaxRetries,
		PredictiveFit:    c.PredictiveFit,
		ExtrapolateSigma: c.ExtrapolateSigma,
	}
}

// LoadConfig starts from DefaultConfig, applies the YAML (or JSON) file at
// path if given, then GOLIMIT_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
				return cfg, fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(c *Config) {
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envFloat("GOLIMIT_POINT", &c.Point)
	envFloat("GOLIMIT_TARGET_CLS", &c.TargetCLs)
	envFloat("GOLIMIT_PRECISION", &c.Precision)
	envFloat("GOLIMIT_INJECTION_STRENGTH", &c.InjectionStrength)
	envInt("GOLIMIT_MAX_RETRIES", &c.MaxRetries)
	envInt("GOLIMIT_WORKERS", &c.Workers)
	envInt("GOLIMIT_BAND_WORKERS", &c.BandWorkers)
	envInt("GOLIMIT_STRATEGY", &c.Minimizer.Strategy)
	envBool("GOLIMIT_BLIND", &c.Blind)
	envBool("GOLIMIT_BETTER_BANDS", &c.BetterBands)
	envBool("GOLIMIT_VERBOSE", &c.Verbose)
	envBool("GOLIMIT_DO_INJECTED", &c.DoInjected)
	if v := os.Getenv("GOLIMIT_MINIMIZER"); v != "" {
		c.Minimizer.Algorithm = v
	}
	if v := os.Getenv("GOLIMIT_INJECTION_PARAM"); v != "" {
		c.InjectionParam = v
	}
}
