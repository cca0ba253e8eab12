package steamtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeSource returns a fixed server time and counts calls.
type fakeSource struct {
	seconds int64
	err     error
	calls   atomic.Int32
}

func (f *fakeSource) ServerTime(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	return f.seconds, f.err
}

func fixedNow(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestClock(t *testing.T, src TimeSource, nowMillis int64) *Clock {
	t.Helper()
	c, err := NewClock(Config{Source: src, Now: fixedNow(nowMillis)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewClockConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"defaults", Config{}, nil},
		{"custom endpoint", Config{Endpoint: "http://127.0.0.1:8080/time"}, nil},
		{"negative timeout", Config{Timeout: -time.Second}, ErrInvalidConfig},
		{"bad scheme", Config{Endpoint: "ftp://example.com"}, ErrInvalidConfig},
		{"unparseable endpoint", Config{Endpoint: "http://[::1"}, ErrInvalidConfig},
		{"endpoint ignored with source", Config{Endpoint: "ftp://x", Source: &fakeSource{}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClock(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.timeout != DefaultTimeout {
				t.Errorf("expected default timeout, got %v", c.timeout)
			}
		})
	}
}

func TestSynchronizeComputesOffset(t *testing.T) {
	src := &fakeSource{seconds: 1700000000}
	c := newTestClock(t, src, 1700000000500)

	if c.Synced() {
		t.Fatal("expected clock to start unsynchronized")
	}

	offset, err := c.Synchronize(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 500 {
		t.Errorf("expected offset 500, got %d", offset)
	}
	if c.Offset() != 500 || !c.Synced() {
		t.Errorf("expected stored offset 500, got %d synced=%v", c.Offset(), c.Synced())
	}
	if got := c.NowMillis(); got != 1700000000000 {
		t.Errorf("expected corrected time 1700000000000, got %d", got)
	}
	if got := c.Now(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected corrected time %v", got)
	}
}

func TestSynchronizeNegativeOffset(t *testing.T) {
	src := &fakeSource{seconds: 1700000010}
	c := newTestClock(t, src, 1700000000000)

	offset, err := c.Synchronize(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != -10000 {
		t.Errorf("expected offset -10000, got %d", offset)
	}
	if got := c.NowMillis(); got != 1700000010000 {
		t.Errorf("expected corrected time 1700000010000, got %d", got)
	}
}

func TestSynchronizeZeroOffsetIsSynced(t *testing.T) {
	src := &fakeSource{seconds: 1700000000}
	c := newTestClock(t, src, 1700000000000)

	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Synced() || c.Offset() != 0 {
		t.Fatalf("expected synced zero offset, got %d synced=%v", c.Offset(), c.Synced())
	}
	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected zero offset to be cached, got %d requests", n)
	}
}

func TestSynchronizeUsesCache(t *testing.T) {
	src := &fakeSource{seconds: 1700000000}
	c := newTestClock(t, src, 1700000002000)

	for i := 0; i < 3; i++ {
		if _, err := c.Synchronize(context.Background(), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestSynchronizeForceAlwaysFetches(t *testing.T) {
	src := &fakeSource{seconds: 1700000000}
	c := newTestClock(t, src, 1700000002000)

	if _, err := c.Synchronize(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.seconds = 1700000001
	offset, err := c.Synchronize(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
	if offset != 1000 || c.Offset() != 1000 {
		t.Errorf("expected refreshed offset 1000, got %d stored %d", offset, c.Offset())
	}
}

func TestSynchronizeFailureKeepsOffset(t *testing.T) {
	var bad atomic.Bool
	srv := newTimeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if bad.Load() {
			_, _ = io.WriteString(w, "not json")
			return
		}
		_, _ = io.WriteString(w, `{"response":{"server_time":"1700000000"}}`)
	})

	c, err := NewClock(Config{
		Endpoint:   srv.URL,
		HTTPClient: srv.Client(),
		Now:        fixedNow(1700000003000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad.Store(true)
	if _, err := c.Synchronize(context.Background(), true); !errors.Is(err, ErrInvalidResponseBody) {
		t.Fatalf("expected ErrInvalidResponseBody, got %v", err)
	}
	if c.Offset() != 3000 || !c.Synced() {
		t.Errorf("expected offset 3000 to survive failure, got %d synced=%v", c.Offset(), c.Synced())
	}
}

func TestSynchronizeFailureBeforeFirstSync(t *testing.T) {
	want := errors.New("boom")
	c := newTestClock(t, &fakeSource{err: want}, 1000)

	if _, err := c.Synchronize(context.Background(), false); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if c.Synced() || c.Offset() != 0 {
		t.Errorf("expected clock to stay unsynchronized")
	}
}

func TestSynchronizeTimeout(t *testing.T) {
	src := TimeSourceFunc(func(ctx context.Context) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	c, err := NewClock(Config{Source: src, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.Synchronize(context.Background(), false); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSynchronizeContextCancel(t *testing.T) {
	src := &fakeSource{seconds: 1}
	c := newTestClock(t, src, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Synchronize(ctx, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if n := src.calls.Load(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestSynchronizeConcurrentDeduplicates(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	src := TimeSourceFunc(func(ctx context.Context) (int64, error) {
		calls.Add(1)
		<-release
		return 1700000000, nil
	})
	c := newTestClock(t, src, 1700000000250)

	var wg sync.WaitGroup
	offsets := make([]int64, 8)
	errs := make([]error, 8)
	for i := range offsets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offsets[i], errs[i] = c.Synchronize(context.Background(), false)
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range offsets {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if offsets[i] != 250 {
			t.Errorf("caller %d: expected offset 250, got %d", i, offsets[i])
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single request, got %d", n)
	}
}

func TestSynchronizeCancelledCallerDoesNotFailOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	src := TimeSourceFunc(func(ctx context.Context) (int64, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
			return 1700000000, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	c := newTestClock(t, src, 1700000000250)

	ctx, cancel := context.WithCancel(context.Background())
	first := c.SynchronizeAsync(ctx, false)
	<-entered
	second := c.SynchronizeAsync(context.Background(), false)
	time.Sleep(10 * time.Millisecond)

	cancel()
	if res := <-first; !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected first caller to see context canceled, got %+v", res)
	}

	close(release)
	res := <-second
	if res.Err != nil {
		t.Fatalf("second caller: unexpected error: %v", res.Err)
	}
	if res.Offset != 250 {
		t.Errorf("second caller: expected offset 250, got %d", res.Offset)
	}
	if !c.Synced() || c.Offset() != 250 {
		t.Errorf("expected clock synchronized at 250, got synced=%v offset=%d", c.Synced(), c.Offset())
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single request, got %d", n)
	}
}

func TestSynchronizeDiscardsStaleResponse(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	src := TimeSourceFunc(func(ctx context.Context) (int64, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return 1699999000, nil
		}
		return 1700000000, nil
	})
	c := newTestClock(t, src, 1700000000000)

	slow := c.SynchronizeAsync(context.Background(), true)
	<-entered

	offset, err := c.Synchronize(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected offset 0, got %d", offset)
	}

	close(release)
	res := <-slow
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Offset != 1000000 {
		t.Errorf("expected slow caller to see its own offset, got %d", res.Offset)
	}
	if c.Offset() != 0 {
		t.Errorf("expected stale response to be discarded, stored %d", c.Offset())
	}
}

func TestSynchronizeAsync(t *testing.T) {
	c := newTestClock(t, &fakeSource{seconds: 10}, 12000)

	res, ok := <-c.SynchronizeAsync(context.Background(), false)
	if !ok {
		t.Fatal("expected a result")
	}
	if res.Err != nil || res.Offset != 2000 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := <-c.SynchronizeAsync(context.Background(), false); !ok {
		t.Fatal("expected a second result")
	}
}

func TestReset(t *testing.T) {
	src := &fakeSource{seconds: 10}
	c := newTestClock(t, src, 12000)

	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Reset()
	if c.Synced() || c.Offset() != 0 {
		t.Fatal("expected reset clock to be unsynchronized")
	}
	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("expected a fresh request after reset, got %d", n)
	}
}

func TestStats(t *testing.T) {
	c := newTestClock(t, &fakeSource{seconds: 10}, 12000)
	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	offset, rtt, last := c.Stats()
	if offset != 2000 || rtt != 0 || !last.Equal(time.UnixMilli(12000)) {
		t.Errorf("unexpected stats offset=%d rtt=%v last=%v", offset, rtt, last)
	}
}

func TestNilClock(t *testing.T) {
	var c *Clock
	if _, err := c.Synchronize(context.Background(), false); !errors.Is(err, ErrNilClock) {
		t.Fatalf("expected ErrNilClock, got %v", err)
	}
	if c.Synced() || c.Offset() != 0 {
		t.Error("expected nil clock to report no offset")
	}
	offset, rtt, last := c.Stats()
	if offset != 0 || rtt != 0 || !last.IsZero() {
		t.Errorf("expected zero stats, got %d %v %v", offset, rtt, last)
	}
	c.Reset()
}

func TestSynchronizeLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	src := &fakeSource{seconds: 10}
	c, err := NewClock(Config{Source: src, Now: fixedNow(12000), Logger: logger})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.Synchronize(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel {
		t.Fatalf("expected debug entry, got %+v", entry)
	}
	if entry.Data["offset_ms"] != int64(2000) {
		t.Errorf("expected offset_ms field, got %v", entry.Data["offset_ms"])
	}

	src.err = errors.New("unreachable")
	if _, err := c.Synchronize(context.Background(), true); err == nil {
		t.Fatal("expected error")
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected warn entry, got %+v", entry)
	}
}

func TestDefaultClock(t *testing.T) {
	orig := Default()
	t.Cleanup(func() { SetDefault(orig) })

	src := &fakeSource{seconds: 10}
	SetDefault(newTestClock(t, src, 11000))

	offset, err := Synchronize(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if offset != 1000 {
		t.Errorf("expected offset 1000, got %d", offset)
	}

	SetDefault(nil)
	if Default() == nil || Default().Synced() {
		t.Error("expected fresh default clock")
	}
}
