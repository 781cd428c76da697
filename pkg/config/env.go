package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
)

const (
	// DefaultPollInterval defines the default due-schedule polling interval in seconds
	DefaultPollInterval = 10

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "8080"

	// DefaultMaxGasPriceGwei defines the global gas ceiling applied when a
	// safety rule does not set its own
	DefaultMaxGasPriceGwei = 100

	// DefaultOracleTimeout defines the timeout for gas and balance oracle reads in seconds
	DefaultOracleTimeout = 10

	// DefaultExecutionTimeout defines the timeout for chain write calls in seconds
	DefaultExecutionTimeout = 60

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in minutes
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in minutes
	DefaultCircuitBreakerReset = 15

	// DefaultIndexerEndpoint defines the default indexing service endpoint
	// used to read due schedules
	DefaultIndexerEndpoint = ""
)

// GetEnvPollInterval returns the polling interval from environment variables
func GetEnvPollInterval() (time.Duration, error) {
	raw := os.Getenv("POLL_INTERVAL")
	if raw == "" {
		return DefaultPollInterval * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid POLL_INTERVAL value: %s", raw)
	}
	return time.Duration(seconds) * time.Second, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	port := os.Getenv("METRICS_PORT")
	if port == "" {
		return DefaultMetricsPort, nil
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s", port)
	}
	return port, nil
}

// GetEnvMaxGasPriceGwei returns the global gas price ceiling from environment variables
func GetEnvMaxGasPriceGwei() (int64, error) {
	raw := os.Getenv("MAX_GAS_PRICE_GWEI")
	if raw == "" {
		return DefaultMaxGasPriceGwei, nil
	}
	gwei, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || gwei <= 0 {
		return 0, fmt.Errorf("invalid MAX_GAS_PRICE_GWEI value: %s", raw)
	}
	return gwei, nil
}

// GetEnvOracleTimeout returns the oracle read timeout from environment variables
func GetEnvOracleTimeout() (time.Duration, error) {
	raw := os.Getenv("ORACLE_TIMEOUT")
	if raw == "" {
		return DefaultOracleTimeout * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid ORACLE_TIMEOUT value: %s", raw)
	}
	return time.Duration(seconds) * time.Second, nil
}

// GetEnvExecutionTimeout returns the chain write timeout from environment variables
func GetEnvExecutionTimeout() (time.Duration, error) {
	raw := os.Getenv("EXECUTION_TIMEOUT")
	if raw == "" {
		return DefaultExecutionTimeout * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid EXECUTION_TIMEOUT value: %s", raw)
	}
	return time.Duration(seconds) * time.Second, nil
}

// GetEnvIndexerEndpoint returns the indexing service endpoint from environment variables
func GetEnvIndexerEndpoint() (string, error) {
	endpoint := os.Getenv("INDEXER_ENDPOINT")
	if endpoint == "" {
		return DefaultIndexerEndpoint, nil
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid INDEXER_ENDPOINT value: %s", endpoint)
	}
	return endpoint, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled
func GetEnvCircuitBreakerEnabled() (bool, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if raw == "" {
		return DefaultCircuitBreakerEnabled, nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s", raw)
	}
	return enabled, nil
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker failure threshold
func GetEnvCircuitBreakerThreshold() (int, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if raw == "" {
		return DefaultCircuitBreakerThreshold, nil
	}
	threshold, err := strconv.Atoi(raw)
	if err != nil || threshold <= 0 {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s", raw)
	}
	return threshold, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker failure window
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if raw == "" {
		return DefaultCircuitBreakerWindow * time.Minute, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s", raw)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_RESET")
	if raw == "" {
		return DefaultCircuitBreakerReset * time.Minute, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s", raw)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	raw := os.Getenv("LOG_LEVEL")
	switch raw {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s", raw)
	}
}

// GetEnvLogColoring returns whether log coloring is enabled
func GetEnvLogColoring() (bool, error) {
	raw := os.Getenv("LOG_COLORING")
	if raw == "" {
		return true, nil
	}
	coloring, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid LOG_COLORING value: %s", raw)
	}
	return coloring, nil
}
