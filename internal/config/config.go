package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/curvefit/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Fit struct {
		LearningRate         float64 `env:"FIT_LEARNING_RATE" envDefault:"0.01"`
		MaxIterations        int     `env:"FIT_MAX_ITERATIONS" envDefault:"10000"`
		ConvergenceThreshold float64 `env:"FIT_CONVERGENCE_THRESHOLD" envDefault:"0.0001"`
		ProgressInterval     int     `env:"FIT_PROGRESS_INTERVAL" envDefault:"1000"`
		HistoryLimit         int     `env:"FIT_HISTORY_LIMIT" envDefault:"100"`
		MaxPoints            int     `env:"FIT_MAX_POINTS" envDefault:"1000"`
		CurveSteps           int     `env:"FIT_CURVE_STEPS" envDefault:"200"`
		MaxJobs              int     `env:"FIT_MAX_JOBS" envDefault:"1000"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values env.Parse cannot.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be in 1..65535, got %d", c.HTTP.Port)
	}
	if err := c.Hyperparameters().Validate(); err != nil {
		return fmt.Errorf("invalid fit defaults: %w", err)
	}
	if c.Fit.MaxPoints < 0 {
		return fmt.Errorf("FIT_MAX_POINTS must not be negative, got %d", c.Fit.MaxPoints)
	}
	if c.Fit.HistoryLimit <= 0 {
		return fmt.Errorf("FIT_HISTORY_LIMIT must be positive, got %d", c.Fit.HistoryLimit)
	}
	if c.Fit.MaxJobs <= 0 {
		return fmt.Errorf("FIT_MAX_JOBS must be positive, got %d", c.Fit.MaxJobs)
	}
	return nil
}

// Hyperparameters returns the configured gradient descent defaults.
func (c *Config) Hyperparameters() optimization.Hyperparameters {
	return optimization.Hyperparameters{
		LearningRate:         c.Fit.LearningRate,
		MaxIterations:        c.Fit.MaxIterations,
		ConvergenceThreshold: c.Fit.ConvergenceThreshold,
	}
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
