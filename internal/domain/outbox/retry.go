package outbox

import (
	"time"

	"github.com/cenkalti/backoff/v3"
)

// tableBackOff implements backoff.BackOff over a fixed delay table (§4.5
// retryDelays) instead of an exponential curve. Only the interface type is
// used here, not backoff.Retry — scheduling is driven by each op's
// persisted Attempts counter and nextAttemptAt timestamp, not a blocking
// retry loop.
type tableBackOff struct {
	delays []time.Duration
	idx    int
}

var _ backoff.BackOff = (*tableBackOff)(nil)

func newTableBackOff(delays []time.Duration) *tableBackOff {
	return &tableBackOff{delays: delays}
}

func (t *tableBackOff) NextBackOff() time.Duration {
	if t.idx >= len(t.delays) {
		return backoff.Stop
	}
	d := t.delays[t.idx]
	t.idx++
	return d
}

func (t *tableBackOff) Reset() { t.idx = 0 }

// delayForAttempt returns the table delay for the Nth attempt (1-indexed),
// or ok=false once the table is exhausted (§4.5 "attempts >= len(retryDelays)
// -> permanent-by-exhaustion"). attempt counts failures so far (including the
// one just recorded) and selects delays[attempt-1]; attempt == len(delays)
// is the point of exhaustion, not one past it, so the table's last entry is
// never returned as a delay.
func delayForAttempt(delays []time.Duration, attempt int) (d time.Duration, ok bool) {
	if attempt >= len(delays) {
		return 0, false
	}
	b := newTableBackOff(delays)
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d, true
}
