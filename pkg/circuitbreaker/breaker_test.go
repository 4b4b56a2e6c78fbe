package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBotAPI = errors.New("bot api 502")

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Run("opens after the failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

		cb.Failure()
		assert.Equal(t, StateClosed, cb.GetState())
		cb.Failure()
		assert.Equal(t, StateOpen, cb.GetState())
		assert.False(t, cb.Allow())
	})

	t.Run("success in closed state resets the count", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

		cb.Failure()
		cb.Success()
		cb.Failure()
		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("half-open probe closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Millisecond, HalfOpenMaxCalls: 1})

		cb.Failure()
		time.Sleep(5 * time.Millisecond)

		assert.True(t, cb.Allow())
		assert.Equal(t, StateHalfOpen, cb.GetState())
		assert.False(t, cb.Allow())

		cb.Success()
		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Millisecond})

		cb.Failure()
		time.Sleep(5 * time.Millisecond)
		assert.True(t, cb.Allow())

		cb.Failure()
		assert.Equal(t, StateOpen, cb.GetState())
	})
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	permanent := errors.New("chat not found")

	err := cb.Execute(func() error { return permanent }, func(err error) bool { return err != permanent })
	assert.Equal(t, permanent, err)
	assert.Equal(t, StateClosed, cb.GetState())

	err = cb.Execute(func() error { return errBotAPI }, nil)
	assert.Equal(t, errBotAPI, err)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err = cb.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "closed", cb.GetMetrics()["state"])
}
