package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/autopay-hq/autopay-engine/pkg/logger"
)

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(true, 3, time.Minute, time.Hour, &logger.EmptyLogger{})

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(false, 1, time.Minute, time.Hour, &logger.EmptyLogger{})

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsEnabled())
}

func TestCircuitBreakerManualReset(t *testing.T) {
	cb := NewCircuitBreaker(true, 1, time.Minute, time.Hour, &logger.EmptyLogger{})

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())

	failures, _, _, _ := cb.GetState()
	assert.Equal(t, 0, failures)
}

func TestCircuitBreakerResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(true, 1, time.Minute, 10*time.Millisecond, &logger.EmptyLogger{})

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	// After the reset timeout the circuit closes on its own
	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerWindowResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(true, 2, 10*time.Millisecond, time.Hour, &logger.EmptyLogger{})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	// The earlier failure fell outside the window
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}
