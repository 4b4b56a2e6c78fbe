package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 0)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.InDelta(t, 0, tb.Available(), 0.001)
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(1, 0, time.Hour)
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Tracked())

	l.evictIdle(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 0, l.Tracked())

	l.Stop()
	l.Stop()
}
