package steamguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-steamguard/pkg/secret"
	"github.com/jeremyhahn/go-steamguard/pkg/steamtime"
)

// SyncMode controls the clock synchronization performed by New.
type SyncMode int

const (
	// SyncDefault reuses a stored clock offset or fetches one.
	SyncDefault SyncMode = iota
	// SyncDisabled skips synchronization. Callers are expected to pass
	// explicit timestamps.
	SyncDisabled
	// SyncForce discards any stored offset and always fetches a new one.
	SyncForce
)

var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = errors.New("steamguard: invalid configuration")
	// ErrNilGenerator indicates a nil generator was used.
	ErrNilGenerator = errors.New("steamguard: generator is nil")
)

// Config holds generator configuration.
type Config struct {
	// Secret is the encoded shared secret.
	Secret string
	// SecretBytes is the raw shared secret. Mutually exclusive with Secret.
	SecretBytes []byte
	// Encoding is the encoding of Secret. Empty guesses it.
	Encoding secret.Encoding
	// Time pins every code to this Unix millisecond timestamp and skips
	// synchronization.
	Time *int64
	// Sync selects the synchronization behaviour.
	Sync SyncMode
	// Clock supplies the server offset. Default: steamtime.Default()
	Clock *steamtime.Clock
}

func (c Config) validate() error {
	if c.Secret != "" && c.SecretBytes != nil {
		return fmt.Errorf("%w: secret and secret bytes are mutually exclusive", ErrInvalidConfig)
	}
	if err := c.Encoding.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Sync < SyncDefault || c.Sync > SyncForce {
		return fmt.Errorf("%w: unknown sync mode %d", ErrInvalidConfig, c.Sync)
	}
	if c.Time != nil && *c.Time < 0 {
		return fmt.Errorf("%w: time must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Generator derives codes for a configured secret.
// It is safe for concurrent use once constructed.
type Generator struct {
	key   []byte
	time  *int64
	clock *steamtime.Clock

	ready  chan struct{}
	offset int64
	err    error
}

// New validates cfg, decodes the secret and starts clock synchronization
// in the background unless cfg.Time is set or cfg.Sync is SyncDisabled.
// Use Wait or Ready before relying on the synchronized time.
//
// ctx bounds the background synchronization only.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	g := &Generator{
		clock: cfg.Clock,
		ready: make(chan struct{}),
	}
	if g.clock == nil {
		g.clock = steamtime.Default()
	}

	switch {
	case cfg.Secret != "":
		key, err := secret.Decode(cfg.Secret, cfg.Encoding)
		if err != nil {
			return nil, err
		}
		if len(key) == 0 {
			return nil, ErrInvalidSecret
		}
		g.key = key
	case cfg.SecretBytes != nil:
		if len(cfg.SecretBytes) == 0 {
			return nil, ErrInvalidSecret
		}
		g.key = append([]byte(nil), cfg.SecretBytes...)
	}

	if cfg.Time != nil {
		t := *cfg.Time
		g.time = &t
	}

	if g.time != nil || cfg.Sync == SyncDisabled {
		g.offset = g.clock.Offset()
		close(g.ready)
		return g, nil
	}

	go func() {
		defer close(g.ready)
		g.offset, g.err = g.clock.Synchronize(ctx, cfg.Sync == SyncForce)
	}()
	return g, nil
}

// Ready is closed once construction-time synchronization has finished or
// was skipped.
func (g *Generator) Ready() <-chan struct{} {
	return g.ready
}

// Wait blocks until construction-time synchronization completes and
// returns its outcome. A skipped synchronization reports the clock's
// current offset and no error.
func (g *Generator) Wait(ctx context.Context) (int64, error) {
	if g == nil {
		return 0, ErrNilGenerator
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-g.ready:
		return g.offset, g.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Now returns the Unix millisecond timestamp codes are derived for: the
// pinned time if one was configured, otherwise the local clock corrected
// by the stored offset. A failed or pending synchronization leaves the
// offset at its previous value, zero if none. A nil generator reports the
// uncorrected local time.
func (g *Generator) Now() int64 {
	if g == nil {
		return time.Now().UnixMilli()
	}
	if g.time != nil {
		return *g.time
	}
	return g.clock.NowMillis()
}

// Code returns the code for the configured secret at Now.
func (g *Generator) Code() (string, error) {
	if g == nil {
		return "", ErrNilGenerator
	}
	return CalculateCode(g.key, g.Now())
}

// CodeAt returns the code for the configured secret at timestampMillis.
func (g *Generator) CodeAt(timestampMillis int64) (string, error) {
	if g == nil {
		return "", ErrNilGenerator
	}
	return CalculateCode(g.key, timestampMillis)
}

// CodeFor returns the code for key at Now, for callers that did not supply
// a secret at construction.
func (g *Generator) CodeFor(key []byte) (string, error) {
	if g == nil {
		return "", ErrNilGenerator
	}
	return CalculateCode(key, g.Now())
}

// RemainingValidity returns how long the code for Now stays current, or
// zero for a nil generator.
func (g *Generator) RemainingValidity() time.Duration {
	if g == nil {
		return 0
	}
	now := g.Now()
	return time.Duration(periodMillis-now%periodMillis) * time.Millisecond
}

// GenerateAuthCode builds a transient generator from cfg, waits for its
// synchronization and returns the current code. Synchronization errors are
// returned rather than silently falling back to the local clock.
func GenerateAuthCode(ctx context.Context, cfg Config) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	g, err := New(ctx, cfg)
	if err != nil {
		return "", err
	}
	if _, err := g.Wait(ctx); err != nil {
		return "", err
	}
	return g.Code()
}

// Synchronize synchronizes the process-wide clock used by generators
// without their own Clock.
func Synchronize(ctx context.Context, force bool) (int64, error) {
	return steamtime.Synchronize(ctx, force)
}
