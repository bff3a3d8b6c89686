package connmgr

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay for the k-th reconnect attempt (0-based):
// min(maxDelay, baseDelay*2^k + jitter), jitter uniform in [0, 1000)ms.
func backoffDelay(opts ReconnectOptions, k int, jitter func() time.Duration) time.Duration {
	shift := k
	if shift > 30 {
		shift = 30 // guard against overflow for pathological configs
	}
	delay := opts.BaseDelay * time.Duration(uint64(1)<<uint(shift))
	delay += jitter()
	if delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	return delay
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Intn(1000)) * time.Millisecond
}
