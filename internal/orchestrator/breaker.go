package orchestrator

// Breaker halts the run after a configured number of consecutive stage
// failures. Confined to the orchestrator goroutine between stage
// barriers, so no locking.
type Breaker struct {
	threshold   int
	consecutive int
	tripped     bool
}

// NewBreaker builds a breaker; threshold values below 1 fall back to the
// default of 3.
func NewBreaker(threshold int) *Breaker {
	if threshold < 1 {
		threshold = 3
	}
	return &Breaker{threshold: threshold}
}

// Failure records a failed stage and reports whether the breaker tripped
// on this failure.
func (b *Breaker) Failure() bool {
	if b.tripped {
		return false
	}
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.tripped = true
		return true
	}
	return false
}

// Success resets the consecutive-failure counter.
func (b *Breaker) Success() {
	if !b.tripped {
		b.consecutive = 0
	}
}

// Tripped reports whether the run must halt.
func (b *Breaker) Tripped() bool { return b.tripped }

// Consecutive returns the current failure streak, for incident reports.
func (b *Breaker) Consecutive() int { return b.consecutive }
