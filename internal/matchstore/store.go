// Package matchstore keeps one serialized match session per active match.
package matchstore

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/obslog"
)

// Store is the session store contract. Load and Update report match.ErrSessionNotFound
// or match.ErrSessionExpired when the session is gone.
type Store interface {
	Create(ctx context.Context, s *match.Session) error
	Load(ctx context.Context, id string) (*match.Session, error)
	// Update applies fn to the current session and writes it back with a bumped version.
	// An error from fn aborts without writing.
	Update(ctx context.Context, id string, fn func(*match.Session) error) (*match.Session, error)
	Delete(ctx context.Context, s *match.Session) error
	ActiveFor(ctx context.Context, userID string) (string, error)
	// Expired lists up to limit session ids whose deadline is at or before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrConflict = errors.New("matchstore: write conflict persisted after retries")
	ErrExists   = errors.New("matchstore: session already exists")
)

const (
	DefaultTTL      = 2 * time.Hour
	DefaultAttempts = 5
	// keyGrace keeps the blob readable past its deadline so the sweeper can finalize it.
	keyGrace = 15 * time.Minute
)

type options struct {
	ttl      time.Duration
	attempts int
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*options)

func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithAttempts bounds how many times a conflicting or transiently failing write is tried.
func WithAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.attempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, attempts: DefaultAttempts, now: time.Now, logger: obslog.L()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// retryable reports write failures worth another attempt: optimistic conflicts and
// connection-level hiccups. Match errors never are.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := match.KindOf(err); ok {
		return false
	}
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, errVersionMismatch) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

var errVersionMismatch = errors.New("version mismatch")

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms, ...
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs once until it succeeds, fails for good, or attempts run out.
func withRetry(ctx context.Context, o options, id string, once func() (*match.Session, error)) (*match.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= o.attempts; attempt++ {
		s, err := once()
		if err == nil {
			return s, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		o.logger.Debug("store_update_retry",
			zap.String("match_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == o.attempts {
			break
		}
		if serr := sleepWithContext(ctx, backoffDuration(attempt)); serr != nil {
			return nil, serr
		}
	}
	o.logger.Warn("store_update_gave_up", zap.String("match_id", id), zap.Error(lastErr))
	return nil, errors.Join(ErrConflict, lastErr)
}
