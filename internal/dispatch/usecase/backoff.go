package usecase

import (
	"math/rand/v2"
	"time"
)

// maxBackoffDelay caps the exponential growth so a long-failing action still
// retries within a bounded window.
const maxBackoffDelay = 15 * time.Minute

// retryDelay returns the pause before the next attempt after retryCount
// failures: exponential growth on the base with full jitter, so a batch of
// actions failing together does not retry together.
func retryDelay(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxBackoffDelay {
			delay = maxBackoffDelay
			break
		}
	}

	return time.Duration(rand.Int64N(int64(delay)) + 1)
}
