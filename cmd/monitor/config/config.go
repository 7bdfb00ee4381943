// Package config provides configuration parsing and management for the
// monitor.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence over environment variables. The Config struct contains
// all runtime configuration for the monitor including:
//   - Model identification (model name)
//   - Observation parameters (window, interval, minimum samples)
//   - Drift detection thresholds (test selection, p-value, PSI, TVD,
//     drift fraction, critical features)
//   - Decision policy settings (performance floors, cooldown)
//   - Promotion gates
//   - Source settings (kind plus SOURCE_* environment variables)
//   - Trainer and feedback service endpoints
//   - Storage backend (memory or redis)
//   - Logging configuration (level, format)
//   - TLS configuration (cert, key, CA files)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/modelops/driftwatch/pkg/tls"
)

// Config holds all monitor configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TLS tls.Config

	Model        string
	Source       string
	SourceConfig map[string]string

	Window     time.Duration
	Interval   time.Duration
	MinSamples int

	NumericTest      string
	KSPValue         float64
	PSIThreshold     float64
	TVDThreshold     float64
	DriftFraction    float64
	CriticalFeatures string

	PerformanceFloors string
	Cooldown          time.Duration
	Gates             string

	CodeRef        string
	TrainerURL     string
	TrainerTimeout time.Duration

	PerformanceURL   string
	PerformancePaths string
	WebhookURL       string
}

// ParseFlags parses command-line flags and environment variables into a
// Config. Environment variables are used as fallbacks when flags are not
// provided. Each monitor instance watches a single model.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8090"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.StringVar(&cfg.Model, "model", getEnv("MODEL", ""), "Model name (required)")
	flag.StringVar(&cfg.Source, "source", getEnv("SOURCE", ""), "Inference log source type: http (required)")

	flag.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", time.Hour), "Observation window")
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 5*time.Minute), "Evaluation loop interval")
	flag.IntVar(&cfg.MinSamples, "min-samples", getEnvInt("MIN_SAMPLES", 30), "Minimum samples per window")

	flag.StringVar(&cfg.NumericTest, "numeric-test", getEnv("NUMERIC_TEST", "ks"), "Numeric drift test: ks or psi")
	flag.Float64Var(&cfg.KSPValue, "ks-p-value", getEnvFloat("KS_P_VALUE", 0.01), "KS p-value below which a feature drifts")
	flag.Float64Var(&cfg.PSIThreshold, "psi-threshold", getEnvFloat("PSI_THRESHOLD", 0.2), "PSI above which a feature drifts")
	flag.Float64Var(&cfg.TVDThreshold, "tvd-threshold", getEnvFloat("TVD_THRESHOLD", 0.2), "Total variation distance above which a categorical feature drifts")
	flag.Float64Var(&cfg.DriftFraction, "drift-fraction", getEnvFloat("DRIFT_FRACTION", 0.2), "Fraction of drifted features above which the aggregate verdict drifts")
	flag.StringVar(&cfg.CriticalFeatures, "critical-features", getEnv("CRITICAL_FEATURES", ""), "Comma-separated features whose drift alone flags the aggregate")

	flag.StringVar(&cfg.PerformanceFloors, "performance-floors", getEnv("PERFORMANCE_FLOORS", ""), "Comma-separated metric floors (e.g. accuracy=0.75)")
	flag.DurationVar(&cfg.Cooldown, "cooldown", getEnvDuration("COOLDOWN", 6*time.Hour), "Minimum time between drift-triggered retrains")
	flag.StringVar(&cfg.Gates, "gates", getEnv("GATES", ""), "Comma-separated promotion gates (e.g. accuracy>=0.75~0.02)")

	flag.StringVar(&cfg.CodeRef, "code-ref", getEnv("CODE_REF", "HEAD"), "Training code ref pinned into retrain specs")
	flag.StringVar(&cfg.TrainerURL, "trainer-url", getEnv("TRAINER_URL", ""), "Training service URL (required)")
	flag.DurationVar(&cfg.TrainerTimeout, "trainer-timeout", getEnvDuration("TRAINER_TIMEOUT", 30*time.Minute), "Maximum duration of one training run")

	flag.StringVar(&cfg.PerformanceURL, "performance-url", getEnv("PERFORMANCE_URL", ""), "Labeled-feedback metrics URL (optional)")
	flag.StringVar(&cfg.PerformancePaths, "performance-paths", getEnv("PERFORMANCE_PATHS", ""), "JSON object mapping metric names to response paths (defaults to floor metric names)")
	flag.StringVar(&cfg.WebhookURL, "webhook-url", getEnv("WEBHOOK_URL", ""), "Alert webhook URL (optional)")

	flag.Parse()

	cfg.SourceConfig = parseSourceConfig()

	if cfg.Model == "" {
		fmt.Fprintln(os.Stderr, "Error: --model is required")
		os.Exit(1)
	}
	if cfg.Source == "" {
		fmt.Fprintln(os.Stderr, "Error: --source is required")
		os.Exit(1)
	}
	if cfg.TrainerURL == "" {
		fmt.Fprintln(os.Stderr, "Error: --trainer-url is required")
		os.Exit(1)
	}

	return cfg
}

// Validate checks configuration consistency past the required-flag checks
// in ParseFlags.
func (c *Config) Validate() error {
	if !modelNameRegex.MatchString(c.Model) {
		return fmt.Errorf("invalid model name %q (must be alphanumeric with dash/underscore, 1-253 chars)", c.Model)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be > 0")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.MinSamples <= 0 {
		return fmt.Errorf("min-samples must be > 0")
	}
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}
	if c.NumericTest != "ks" && c.NumericTest != "psi" {
		return fmt.Errorf("invalid numeric-test %q (must be ks or psi)", c.NumericTest)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be > 0")
	}
	return c.TLS.Validate()
}

// parseSourceConfig parses SOURCE_* environment variables into a generic
// configuration map. Source-specific configuration is provided via
// environment variables with the SOURCE_ prefix, for example SOURCE_URL,
// SOURCE_PREDICTION_PATH, SOURCE_NUMERIC_PATHS. Environment variable names
// are converted to camelCase for the map keys (SOURCE_PREDICTION_PATH ->
// predictionPath).
func parseSourceConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		if len(env) > 7 && env[:7] == "SOURCE_" {
			parts := splitEnv(env)
			if len(parts) == 2 {
				key := toLowerCamelCase(parts[0][7:])
				config[key] = parts[1]
			}
		}
	}

	return config
}

func splitEnv(env string) []string {
	for i := 0; i < len(env); i++ {
		if env[i] == '=' {
			return []string{env[:i], env[i+1:]}
		}
	}
	return []string{env}
}

func toLowerCamelCase(s string) string {
	if s == "" {
		return s
	}
	parts := []rune(s)
	result := make([]rune, 0, len(parts))
	nextUpper := false
	for i, r := range parts {
		if r == '_' {
			nextUpper = true
			continue
		}
		if i == 0 {
			result = append(result, toLower(r))
		} else if nextUpper {
			result = append(result, r)
			nextUpper = false
		} else {
			result = append(result, toLower(r))
		}
	}
	return string(result)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 32
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

var modelNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)
