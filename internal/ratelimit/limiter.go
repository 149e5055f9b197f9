package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openadmission/gatekeeper/internal/counter"
	"github.com/openadmission/gatekeeper/internal/metrics"
)

const defaultWindow = 60 * time.Second

// Result is the outcome of one rate limit check. Reset is best effort:
// a window that predates this check may lapse earlier.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter is a fixed-window request counter over an external atomic
// counter store. It holds no cross-request state of its own; all
// coordination happens through the store's atomicity guarantees.
type Limiter struct {
	store        counter.Store
	window       time.Duration
	storeTimeout time.Duration
	metrics      *metrics.Metrics
}

// NewLimiter creates a Limiter. storeTimeout bounds every store round
// trip; a timeout follows the same fail-open path as any other store
// failure.
func NewLimiter(store counter.Store, window, storeTimeout time.Duration, m *metrics.Metrics) *Limiter {
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{store: store, window: window, storeTimeout: storeTimeout, metrics: m}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Key derives the window key for a (label, identifier) pair.
func Key(label, identifier string) string {
	return fmt.Sprintf("ratelimit_%s_%s", label, identifier)
}

// Check counts one hit for (label, identifier) against limit. The first
// hit of a window sets the window's expiry; later hits skip the expire
// call since the lifetime is already bounded. On store failure the
// check fails open: the request is allowed with a best-effort remaining
// value and the error is logged, never propagated.
func (l *Limiter) Check(ctx context.Context, label, identifier string, limit int) Result {
	start := time.Now()
	res := l.check(ctx, label, identifier, limit)
	outcome := "allowed"
	if !res.Allowed {
		outcome = "denied"
	}
	l.metrics.RecordCheck(outcome, time.Since(start))
	return res
}

func (l *Limiter) check(ctx context.Context, label, identifier string, limit int) Result {
	key := Key(label, identifier)
	reset := time.Now().Add(l.window)

	cctx, cancel := l.bound(ctx)
	defer cancel()

	count, err := l.store.Incr(cctx, key)
	if err != nil {
		l.failOpen(err, key)
		return Result{Allowed: true, Limit: limit, Remaining: limit, Reset: reset}
	}

	if count == 1 {
		ectx, ecancel := l.bound(ctx)
		defer ecancel()
		if _, err := l.store.Expire(ectx, key, l.window); err != nil {
			// The count already landed; the window just has no bound
			// yet. Treated like any other store failure.
			l.failOpen(err, key)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// Peek reads the current quota state for (label, identifier) without
// counting a hit.
func (l *Limiter) Peek(ctx context.Context, label, identifier string, limit int) (Result, error) {
	cctx, cancel := l.bound(ctx)
	defer cancel()

	count, _, err := l.store.Get(cctx, Key(label, identifier))
	if err != nil {
		return Result{}, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count < int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Now().Add(l.window),
	}, nil
}

// Reset clears the window for (label, identifier). Administrative use
// only; windows otherwise lapse through the store's own expiry.
func (l *Limiter) Reset(ctx context.Context, label, identifier string) error {
	cctx, cancel := l.bound(ctx)
	defer cancel()
	return l.store.Delete(cctx, Key(label, identifier))
}

func (l *Limiter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.storeTimeout)
}

func (l *Limiter) failOpen(err error, key string) {
	l.metrics.RecordStoreFailure("counter")
	log.Warn().Err(err).Str("key", key).Msg("counter store unavailable, failing open")
}
