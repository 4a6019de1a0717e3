package outbox

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 5 * time.Minute
)

// backoffDelay computes the wait before retry number attempt (1-based):
// exponential growth from backoffBase capped at backoffCap, with jitter in
// the upper half so synchronized failures do not retry in lockstep.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}

	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
