package core

import (
	"math"
	"sync/atomic"
)

// Adaptive rate constants governing how fast per-worker submission pacing
// reacts to queue feedback.
const (
	// MinRatePerSec is the floor for the adaptive rate in domains per second.
	// The controller never backs a worker off below this value, so a saturated
	// queue still drains and submission always makes forward progress.
	MinRatePerSec = 2.0
	// RateIncreaseStep is the additive amount the rate recovers by when a
	// submission is accepted while the worker is below its ceiling.
	RateIncreaseStep = 20.0
	// RateDecreaseStep is the subtractive amount the rate backs off by when a
	// submission bounces off a full worker queue.
	RateDecreaseStep = 50.0
)

// AdaptiveRate tracks the effective submission rate for one scheduler worker.
// Accepted submissions nudge the rate back up toward the configured ceiling;
// queue-full rejections back it off, additively, down to MinRatePerSec. The
// scheduler mirrors the result into the worker's token-bucket limiter, so
// pacing itself stays with golang.org/x/time/rate and this type only decides
// what the limit currently is.
//
// The current rate is stored as a float64 manipulated via atomic operations on
// its uint64 bit representation, so the submit hot path never takes a lock.
// Concurrent adjustments serialize through a CompareAndSwap loop.
type AdaptiveRate struct {
	// rateBits stores the bit representation of the current float64 rate,
	// allowing lock-free load and CAS update.
	rateBits atomic.Uint64
	// ceiling is the configured maximum rate; Recover never exceeds it.
	ceiling float64
	// accepted counts submissions that entered a worker queue.
	accepted atomic.Uint64
	// rejected counts submissions the worker queue bounced.
	rejected atomic.Uint64
}

// NewAdaptiveRate creates a controller that starts at the given ceiling.
// Ceilings below MinRatePerSec are raised to it, so the controller always has
// a non-degenerate operating range.
func NewAdaptiveRate(ceiling float64) *AdaptiveRate {
	if ceiling < MinRatePerSec {
		ceiling = MinRatePerSec
	}
	ar := &AdaptiveRate{ceiling: ceiling}
	ar.rateBits.Store(math.Float64bits(ceiling))
	return ar
}

// Current returns the rate, in domains per second, the worker should be paced
// at right now.
//
// Hot Path: called on every submission outcome; a single atomic load.
func (ar *AdaptiveRate) Current() float64 {
	return math.Float64frombits(ar.rateBits.Load())
}

// RecordSuccess notes an accepted submission and moves the rate one step back
// toward the ceiling. It reports whether the rate actually changed, so callers
// only touch their limiter when there is something to apply.
func (ar *AdaptiveRate) RecordSuccess() bool {
	ar.accepted.Add(1)
	return ar.adjust(RateIncreaseStep)
}

// RecordBackpressure notes a submission rejected by a full worker queue and
// backs the rate off one step, floored at MinRatePerSec. It reports whether
// the rate actually changed.
func (ar *AdaptiveRate) RecordBackpressure() bool {
	ar.rejected.Add(1)
	return ar.adjust(-RateDecreaseStep)
}

// Counts returns how many submissions were accepted and how many were bounced
// since the controller was created. Useful for shutdown-time diagnostics.
func (ar *AdaptiveRate) Counts() (accepted, rejected uint64) {
	return ar.accepted.Load(), ar.rejected.Load()
}

// adjust moves the rate by delta, clamped to [MinRatePerSec, ceiling], and
// returns true when the stored rate changed. The CAS loop retries on
// concurrent updates so no adjustment is lost.
func (ar *AdaptiveRate) adjust(delta float64) bool {
	for {
		oldBits := ar.rateBits.Load()
		newRate := math.Float64frombits(oldBits) + delta
		if newRate > ar.ceiling {
			newRate = ar.ceiling
		}
		if newRate < MinRatePerSec {
			newRate = MinRatePerSec
		}
		newBits := math.Float64bits(newRate)
		if newBits == oldBits {
			return false // Already clamped at a bound; nothing to apply.
		}
		if ar.rateBits.CompareAndSwap(oldBits, newBits) {
			return true
		}
	}
}
