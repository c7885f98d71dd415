// Package humanize paces browser interactions so a session acts at a
// person's speed instead of back-to-back.
package humanize

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Sleep waits a uniformly random duration in [minMs, maxMs] milliseconds or
// until ctx is done.
func Sleep(ctx context.Context, minMs, maxMs int) error {
	if maxMs < minMs {
		maxMs = minMs
	}
	return wait(ctx, time.Duration(minMs+rand.Intn(maxMs-minMs+1))*time.Millisecond)
}

// SleepGaussian waits a normally distributed duration clamped to mean ± 3σ.
func SleepGaussian(ctx context.Context, meanMs, stdDevMs int) error {
	return wait(ctx, gaussian(meanMs, stdDevMs))
}

// ThinkTime is the pause between reading a page and acting on it.
func ThinkTime(ctx context.Context) error { return SleepGaussian(ctx, 1400, 600) }

func gaussian(meanMs, stdDevMs int) time.Duration {
	// Box-Muller
	u1 := 1 - rand.Float64()
	u2 := rand.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	delay := int(float64(meanMs) + z*float64(stdDevMs))

	minDelay := meanMs - 3*stdDevMs
	maxDelay := meanMs + 3*stdDevMs
	if delay < minDelay {
		delay = minDelay
	} else if delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay) * time.Millisecond
}

// KeyDelay is the pause after typing r: longer at spaces and punctuation.
func KeyDelay(r rune) (minMs, maxMs int) {
	switch r {
	case ' ':
		return 100, 300
	case ',', '.', '!', '?':
		return 200, 500
	default:
		return 50, 150
	}
}

// Type feeds text one character at a time to typeChar with a typing rhythm.
func Type(ctx context.Context, text string, typeChar func(string) error) error {
	for _, r := range text {
		if err := typeChar(string(r)); err != nil {
			return err
		}
		lo, hi := KeyDelay(r)
		if err := Sleep(ctx, lo, hi); err != nil {
			return err
		}
	}
	return nil
}

// InActiveWindow reports whether now falls inside the daily [start, end) window
// given as "15:04". An empty or unparsable bound disables the window.
func InActiveWindow(now time.Time, start, end string) bool {
	if start == "" || end == "" {
		return true
	}
	s, err := time.Parse("15:04", start)
	if err != nil {
		return true
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return true
	}
	startToday := time.Date(now.Year(), now.Month(), now.Day(), s.Hour(), s.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(), e.Hour(), e.Minute(), 0, 0, now.Location())
	return !now.Before(startToday) && now.Before(endToday)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
