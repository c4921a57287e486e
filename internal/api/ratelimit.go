package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-endpoint rate limiters. Model reloads and
// generation calls hit the same single-GPU host, but limiting per
// endpoint keeps cheap status polls from being starved by txt2img.
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // Track original rates for consistency check
	mu       sync.RWMutex
}

// NewRateLimiterPool creates a new rate limiter pool
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// GetOrCreate returns an existing rate limiter or creates a new one.
// If a limiter exists with a different rate, it logs a warning and keeps
// the existing one.
func (p *RateLimiterPool) GetOrCreate(endpoint string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[endpoint]; exists {
		if existingRate, ok := p.rates[endpoint]; ok && existingRate != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, using existing rate",
				"endpoint", endpoint,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	// Convert requests per minute to requests per second
	rps := float64(requestsPerMinute) / 60.0
	burst := max(2, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[endpoint] = limiter
	p.rates[endpoint] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"endpoint", endpoint,
		"rpm", requestsPerMinute,
		"burst", burst)

	return limiter
}

// Wait blocks until the rate limiter allows the next request
func (p *RateLimiterPool) Wait(ctx context.Context, endpoint string, requestsPerMinute int) error {
	limiter := p.GetOrCreate(endpoint, requestsPerMinute)
	return limiter.Wait(ctx)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
