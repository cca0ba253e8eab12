package steamtime

import (
	"context"
	"sync/atomic"
)

var defaultClock atomic.Pointer[Clock]

func init() {
	c, err := NewClock(Config{})
	if err != nil {
		panic(err)
	}
	defaultClock.Store(c)
}

// Default returns the process-wide clock.
func Default() *Clock {
	return defaultClock.Load()
}

// SetDefault installs the process-wide clock used by Synchronize and by
// generators that are not given their own clock. Passing nil installs a
// fresh unsynchronized clock.
func SetDefault(c *Clock) {
	if c == nil {
		c, _ = NewClock(Config{})
	}
	defaultClock.Store(c)
}

// Synchronize synchronizes the process-wide clock.
func Synchronize(ctx context.Context, force bool) (int64, error) {
	return Default().Synchronize(ctx, force)
}
