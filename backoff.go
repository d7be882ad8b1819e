package producer

import (
	"math"
	"math/rand"
	"time"
)

// Backoff produces the wait between retry rounds of one batch. It is satisfied by
// *ExponentialBackoff and by github.com/jpillora/backoff's Backoff.
type Backoff interface {
	// Duration returns the next wait and advances the attempt counter.
	Duration() time.Duration
	// Reset returns the attempt counter to zero.
	Reset()
}

const (
	defaultBackoffBase   = 0.3
	defaultBackoffJitter = 0.05
)

// ExponentialBackoff waits 2^attempt * scaling seconds, where scaling is Base plus a
// uniform jitter in [-Jitter, +Jitter] drawn on every call. The jitter keeps many
// senders retrying at the same attempt count from waking up together.
//
// An ExponentialBackoff must not be shared between concurrent deliveries.
type ExponentialBackoff struct {
	Base   float64
	Jitter float64

	attempt int
	rand    func() float64
}

// NewExponentialBackoff returns a backoff with a 0.3s base and ±0.05s jitter.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   defaultBackoffBase,
		Jitter: defaultBackoffJitter,
		rand:   rand.Float64,
	}
}

func (b *ExponentialBackoff) Duration() time.Duration {
	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	scaling := b.Base + (r()*2-1)*b.Jitter
	seconds := math.Pow(2, float64(b.attempt)) * scaling
	b.attempt++
	return time.Duration(seconds * float64(time.Second))
}

func (b *ExponentialBackoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of durations handed out since the last reset.
func (b *ExponentialBackoff) Attempt() int {
	return b.attempt
}
