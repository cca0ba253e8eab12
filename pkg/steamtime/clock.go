// Package steamtime measures and stores the offset between the local clock and
// the Steam server clock.
package steamtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a single time request.
const DefaultTimeout = 10 * time.Second

// Config configures a Clock.
type Config struct {
	// Endpoint overrides DefaultEndpoint. Ignored when Source is set.
	Endpoint string
	// Timeout bounds each synchronization request.
	// Default: 10s
	Timeout time.Duration
	// HTTPClient is used by the HTTP time source. Ignored when Source is set.
	HTTPClient HTTPClient
	// Source replaces the HTTP time source, mainly for tests.
	Source TimeSource
	// Now replaces the local clock. Default: time.Now
	Now func() time.Time
	// Logger receives debug and warning entries. Default: discarded.
	Logger logrus.FieldLogger
}

func (c Config) validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	if c.Source == nil && c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return fmt.Errorf("%w: endpoint: %v", ErrInvalidConfig, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: endpoint must be an http or https URL", ErrInvalidConfig)
		}
	}
	return nil
}

// Result is the outcome of an asynchronous synchronization.
type Result struct {
	Offset int64
	Err    error
}

// Clock owns the offset between the local clock and the server clock,
// expressed as local minus server in milliseconds.
//
// Unforced synchronizations that overlap share a single request. Forced
// synchronizations always issue their own request, and a response is only
// stored if no request started later has already been stored.
// It is safe for concurrent use.
type Clock struct {
	source   TimeSource
	endpoint string
	timeout  time.Duration
	now      func() time.Time
	log      logrus.FieldLogger

	group singleflight.Group
	seq   atomic.Uint64

	mu        sync.RWMutex
	offset    int64
	synced    bool
	storedSeq uint64
	lastSync  time.Time
	rtt       time.Duration
}

// NewClock creates an unsynchronized clock.
func NewClock(cfg Config) (*Clock, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}

	c := &Clock{
		source:  cfg.Source,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		log:     cfg.Logger,
	}
	if c.source == nil {
		client := cfg.HTTPClient
		if client == nil {
			client = newDefaultHTTPClient(cfg.Timeout)
		}
		src := NewHTTPTimeSource(client, cfg.Endpoint)
		c.source = src
		c.endpoint = src.Endpoint()
	}
	return c, nil
}

// Synchronize returns the clock offset in milliseconds. Without force a
// previously stored offset is returned with no network access, and
// concurrent callers share one request bounded by the clock timeout. A
// caller whose ctx ends stops waiting without failing the others. With
// force a new request is always made under ctx.
//
// On failure the stored offset is left untouched.
func (c *Clock) Synchronize(ctx context.Context, force bool) (int64, error) {
	if c == nil {
		return 0, ErrNilClock
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if force {
		return c.fetch(ctx)
	}

	if offset, ok := c.stored(); ok {
		return offset, nil
	}

	// The shared request outlives any single caller; each caller only
	// stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("sync", func() (any, error) {
		if offset, ok := c.stored(); ok {
			return offset, nil
		}
		return c.fetch(shared)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		if res.Shared {
			c.log.Debug("steamtime: joined in-flight synchronization")
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// SynchronizeAsync runs Synchronize in a new goroutine. The returned
// channel receives exactly one Result and is then closed.
func (c *Clock) SynchronizeAsync(ctx context.Context, force bool) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		offset, err := c.Synchronize(ctx, force)
		ch <- Result{Offset: offset, Err: err}
	}()
	return ch
}

func (c *Clock) fetch(ctx context.Context) (int64, error) {
	seq := c.seq.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	serverSeconds, err := c.source.ServerTime(ctx)
	end := c.now()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		c.log.WithError(err).WithField("endpoint", c.endpoint).Warn("steamtime: synchronization failed")
		return 0, err
	}

	offset := end.UnixMilli() - serverSeconds*1000
	rtt := end.Sub(start)

	c.mu.Lock()
	stale := seq <= c.storedSeq
	if !stale {
		c.offset = offset
		c.synced = true
		c.storedSeq = seq
		c.lastSync = end
		c.rtt = rtt
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"endpoint":  c.endpoint,
		"offset_ms": offset,
		"rtt":       rtt,
		"stale":     stale,
	}).Debug("steamtime: synchronized")
	return offset, nil
}

func (c *Clock) stored() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.synced
}

// Offset returns the stored offset, zero before the first synchronization.
func (c *Clock) Offset() int64 {
	if c == nil {
		return 0
	}
	offset, _ := c.stored()
	return offset
}

// Synced reports whether a synchronization has succeeded. An offset of
// zero is a valid synchronized state.
func (c *Clock) Synced() bool {
	if c == nil {
		return false
	}
	_, ok := c.stored()
	return ok
}

// Stats returns details of the last stored synchronization.
func (c *Clock) Stats() (offset int64, rtt time.Duration, lastSync time.Time) {
	if c == nil {
		return 0, 0, time.Time{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.rtt, c.lastSync
}

// NowMillis returns the local time corrected to the server clock, in Unix
// milliseconds.
func (c *Clock) NowMillis() int64 {
	local := time.Now
	if c != nil {
		local = c.now
	}
	return local().UnixMilli() - c.Offset()
}

// Now returns the local time corrected to the server clock.
func (c *Clock) Now() time.Time {
	return time.UnixMilli(c.NowMillis())
}

// Reset discards the stored offset.
func (c *Clock) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
	c.synced = false
	c.lastSync = time.Time{}
	c.rtt = 0
	c.storedSeq = c.seq.Load()
}
