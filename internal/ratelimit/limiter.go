// Package ratelimit bounds failed authentication attempts per key
// within a rolling window.
package ratelimit

import "context"

// Limiter is a shared failure counter with atomic
// increment-and-compare semantics. Keys are opaque (identity or
// source-IP buckets).
type Limiter interface {
	// Allow reports whether another attempt may proceed for key.
	Allow(ctx context.Context, key string) (bool, error)

	// RecordFailure counts one failed attempt against key.
	RecordFailure(ctx context.Context, key string) error

	// Reset clears the counter for key, typically after a success.
	Reset(ctx context.Context, key string) error
}
