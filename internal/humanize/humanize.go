// Package humanize paces outbound sends so a burst does not look
// machine-regular. Delays are deliberately stochastic: fixed intervals are an
// automation signature.
package humanize

import (
	"math/rand"
	"time"
)

const (
	breakCountMin = 10
	breakCountMax = 20

	breakMin = 2 * time.Minute
	breakMax = 5 * time.Minute

	// Occasional pacing quirks: a burst of quicker sends, or a delay
	// stretched out as if the operator got distracted.
	burstChance      = 0.15
	distractedChance = 0.05
)

// Humanizer owns the sends-since-break counter for one scheduler instance.
// Not safe for concurrent use; the send queue runs with concurrency 1.
type Humanizer struct {
	rng            *rand.Rand
	sinceBreak     int
	breakThreshold int
}

func New(rng *rand.Rand) *Humanizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	h := &Humanizer{rng: rng}
	h.rollThreshold()
	return h
}

func (h *Humanizer) rollThreshold() {
	h.breakThreshold = breakCountMin + h.rng.Intn(breakCountMax-breakCountMin+1)
}

// Delay returns the pause to apply before the next send. With simulateBreaks
// set, every breakThreshold-th call returns a long pause modeling a human
// stepping away; the threshold is re-rolled after each break.
func (h *Humanizer) Delay(min, max time.Duration, simulateBreaks bool) time.Duration {
	if max < min {
		max = min
	}

	if simulateBreaks {
		h.sinceBreak++
		if h.sinceBreak >= h.breakThreshold {
			h.sinceBreak = 0
			h.rollThreshold()
			return h.between(breakMin, breakMax)
		}
	}

	d := h.between(min, max)
	switch roll := h.rng.Float64(); {
	case roll < burstChance:
		d /= 2
	case roll < burstChance+distractedChance:
		d += d / 2
	}
	return d
}

func (h *Humanizer) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(h.rng.Int63n(int64(max-min)))
}
