package ble

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMaxRetryDelay caps the backoff between connect attempts.
const DefaultMaxRetryDelay = 30 * time.Second

// RetryOptions bound ConnectWithRetry.
type RetryOptions struct {
	Attempts int           // total attempts including the first; <=0 means 1
	MaxDelay time.Duration // backoff cap; <=0 means DefaultMaxRetryDelay
}

// backoffDelay returns the delay before retry n (0-based): 1s doubling per
// retry, capped at limit.
func backoffDelay(attempt int, limit time.Duration) time.Duration {
	if attempt >= 30 {
		return limit
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > limit {
		return limit
	}
	return delay
}

// ConnectWithRetry connects link to p, retrying retryable failures with
// exponential backoff. Link operations never retry on their own; callers
// that want retries use this. It stops early on ErrUnsupportedTransport,
// ErrAlreadyConnected or when ctx is done.
func ConnectWithRetry(ctx context.Context, link *Link, p Peripheral, opts RetryOptions) error {
	attempts := max(opts.Attempts, 1)
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, maxDelay)
			slog.Info("[BLE] connect backoff", "device", p.Name, "attempt", attempt+1, "delay", delay)
			if serr := link.sleep(ctx, delay); serr != nil {
				return errors.Join(err, serr)
			}
		}

		err = link.Connect(ctx, p)
		if err == nil || !IsRetryable(err) || errors.Is(err, ErrAlreadyConnected) {
			return err
		}
		slog.Warn("[BLE] connect failed", "device", p.Name, "attempt", attempt+1, "error", err)
	}
	return err
}
