package engine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"promptbatch/internal/command"
)

const (
	maxTransientRetries = 2
	backoffBase         = 500 * time.Millisecond
	backoffCap          = 10 * time.Second
)

// isTransient classifies errors worth retrying: timeouts, rate limits and
// the "unavailable" class of provider trouble.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *command.ProviderError
	if errors.As(err, &pe) {
		switch pe.HTTPStatus {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout", "timed out", "deadline exceeded",
		"rate limit", "too many requests", "429",
		"unavailable", "overloaded", "connection reset", "503",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoff sleeps exponentially with jitter, honoring context cancellation.
func backoff(ctx context.Context, attempt int) error {
	d := backoffBase << uint(attempt)
	if d > backoffCap {
		d = backoffCap
	}
	d += time.Duration(rand.Int63n(int64(d / 2)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
