package reader

import (
	"time"

	appconfig "github.com/Prabhat-190/trade/config"
)

// Backoff computes reconnect delays: initial * 2^attempt, capped at the
// configured maximum. Not safe for concurrent use; the feed loop owns it.
type Backoff struct {
	initial  time.Duration
	max      time.Duration
	attempts int
}

func NewBackoff(cfg appconfig.BackoffConfig) *Backoff {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	max := cfg.MaxDelay
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max}
}

// Next returns the delay before the upcoming attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	shift := b.attempts
	b.attempts++

	// 2^31 seconds is far beyond any sane cap already.
	if shift > 30 {
		return b.max
	}
	d := b.initial * time.Duration(1<<uint(shift))
	if d <= 0 || d > b.max {
		return b.max
	}
	return d
}

// Reset clears the attempt counter after a successful connection.
func (b *Backoff) Reset() { b.attempts = 0 }

// Attempts reports consecutive failed attempts since the last reset.
func (b *Backoff) Attempts() int { return b.attempts }
