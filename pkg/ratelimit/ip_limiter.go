package ratelimit

import (
	"sync"
	"time"
)

type ipEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// IPRateLimiter rate limits based on IP addresses
type IPRateLimiter struct {
	limiters   map[string]*ipEntry
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	idleTTL    time.Duration
	cleanup    *time.Ticker
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewIPRateLimiter creates a new IPRateLimiter. Buckets idle longer than idleTTL are dropped.
func NewIPRateLimiter(maxTokens, refillRate float64, idleTTL time.Duration) *IPRateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	limiter := &IPRateLimiter{
		limiters:   make(map[string]*ipEntry),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idleTTL:    idleTTL,
		cleanup:    time.NewTicker(idleTTL),
		stopChan:   make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow checks if a request from the given IP can proceed
func (ipl *IPRateLimiter) Allow(ip string) bool {
	return ipl.getLimiter(ip).Allow()
}

func (ipl *IPRateLimiter) getLimiter(ip string) *TokenBucket {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	entry, exists := ipl.limiters[ip]
	if !exists {
		entry = &ipEntry{bucket: NewTokenBucket(ipl.maxTokens, ipl.refillRate)}
		ipl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.bucket
}

func (ipl *IPRateLimiter) cleanupLoop() {
	for {
		select {
		case <-ipl.cleanup.C:
			ipl.evictIdle(time.Now())
		case <-ipl.stopChan:
			ipl.cleanup.Stop()
			return
		}
	}
}

func (ipl *IPRateLimiter) evictIdle(now time.Time) {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	for ip, entry := range ipl.limiters {
		if now.Sub(entry.lastSeen) > ipl.idleTTL {
			delete(ipl.limiters, ip)
		}
	}
}

// Tracked returns the number of IPs currently holding a bucket
func (ipl *IPRateLimiter) Tracked() int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()
	return len(ipl.limiters)
}

// Stop stops the IP rate limiter
func (ipl *IPRateLimiter) Stop() {
	ipl.stopOnce.Do(func() { close(ipl.stopChan) })
}
