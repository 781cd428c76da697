package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
)

// Config holds the configuration for the payment engine
type Config struct {
	RPCURL           string
	IndexerEndpoint  string
	PrivateKey       string
	TokenAddress     string
	PollInterval     time.Duration
	MetricsPort      string
	MaxGasPriceGwei  int64
	OracleTimeout    time.Duration
	ExecutionTimeout time.Duration
	CircuitBreaker   CircuitBreakerConfig
	LoggerConfig     LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	pollInterval, err := GetEnvPollInterval()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	maxGasPriceGwei, err := GetEnvMaxGasPriceGwei()
	if err != nil {
		return nil, err
	}

	oracleTimeout, err := GetEnvOracleTimeout()
	if err != nil {
		return nil, err
	}

	executionTimeout, err := GetEnvExecutionTimeout()
	if err != nil {
		return nil, err
	}

	indexerEndpoint, err := GetEnvIndexerEndpoint()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCURL:           os.Getenv("RPC_URL"),
		IndexerEndpoint:  indexerEndpoint,
		PrivateKey:       os.Getenv("PRIVATE_KEY"),
		TokenAddress:     os.Getenv("TOKEN_ADDRESS"),
		PollInterval:     pollInterval,
		MetricsPort:      metricsPort,
		MaxGasPriceGwei:  maxGasPriceGwei,
		OracleTimeout:    oracleTimeout,
		ExecutionTimeout: executionTimeout,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("RPC_URL environment variable is required")
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.TokenAddress == "" {
		return fmt.Errorf("TOKEN_ADDRESS environment variable is required")
	}
	return nil
}
