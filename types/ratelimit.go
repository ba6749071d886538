package types

import (
	"context"
	"time"
)

type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RateLimiter enforces a fixed-window request budget per identifier.
// It fails open: if the backing store is unreachable the request is allowed.
type RateLimiter interface {
	Check(ctx context.Context, identifier string, window time.Duration, maxRequests int64) RateLimitResult
}
