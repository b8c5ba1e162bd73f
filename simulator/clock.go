package simulator

import (
	"context"
	"math/rand"
	"time"
)

// Clock tells the time and waits.
type Clock interface {
	Now() time.Time
	// Sleep waits for d, or until ctx is done, in which case it returns
	// ctx.Err().
	Sleep(ctx context.Context, d time.Duration) error
}

// Rand draws dwell lengths.
type Rand interface {
	// Intn returns a number in [0, n).
	Intn(n int) int
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// NewRand returns a random source seeded with seed.
func NewRand(seed int64) Rand {
	return rand.New(rand.NewSource(seed)) //nolint:gosec
}
