package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"librarydesk/internal/validation"
)

type Config struct {
	Library   LibraryConfig   `yaml:"library"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LibraryConfig struct {
	BorrowLimit int      `yaml:"borrow_limit"`
	Genres      []string `yaml:"genres"`
}

// LimiterConfig throttles member registration.
type LimiterConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text or otel
}

// TelemetryConfig configures tracing and log export. An empty OTLPEndpoint
// keeps spans in process. OTLPEndpoint is host:port or a full URL.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Library: LibraryConfig{
			BorrowLimit: 3,
			Genres:      append([]string(nil), validation.DefaultGenres...),
		},
		Limiter: LimiterConfig{
			Enabled: false,
			RPS:     10,
			Burst:   20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "librarydesk",
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Library.BorrowLimit = getEnvInt("LIBRARY_BORROW_LIMIT", c.Library.BorrowLimit)
	if genres := getEnv("LIBRARY_GENRES", ""); genres != "" {
		c.Library.Genres = splitList(genres)
	}

	c.Limiter.Enabled = getEnvBool("LIMITER_ENABLED", c.Limiter.Enabled)
	c.Limiter.RPS = getEnvFloat("LIMITER_RPS", c.Limiter.RPS)
	c.Limiter.Burst = getEnvInt("LIMITER_BURST", c.Limiter.Burst)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Telemetry.Insecure)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Library.BorrowLimit < 1 {
		errs = append(errs, fmt.Errorf("library.borrow_limit must be at least 1, got %d", c.Library.BorrowLimit))
	}
	if len(splitList(strings.Join(c.Library.Genres, ","))) == 0 {
		errs = append(errs, errors.New("library.genres must not be empty"))
	}
	if c.Limiter.Enabled {
		if c.Limiter.RPS <= 0 {
			errs = append(errs, fmt.Errorf("limiter.rps must be positive, got %v", c.Limiter.RPS))
		}
		if c.Limiter.Burst <= 0 {
			errs = append(errs, fmt.Errorf("limiter.burst must be positive, got %d", c.Limiter.Burst))
		}
	}
	switch c.Log.Format {
	case "json", "text":
	case "otel":
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("log.format otel needs telemetry.otlp_endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("log.format must be json, text or otel, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
