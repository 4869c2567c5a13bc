package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/pkg/slogx"
)

// Upstream call outcomes reported to an UpstreamObserver.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// UpstreamObserver is told about every attempt made against the identity
// provider. op is one of "verify", "exchange" or "refresh".
type UpstreamObserver interface {
	ObserveUpstream(op, outcome string, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, string, time.Duration) {}

// retryPolicy bounds every provider call: each attempt gets its own timeout,
// and only ErrProviderUnavailable is retried.
type retryPolicy struct {
	timeout  time.Duration
	retries  uint
	interval time.Duration
	observer UpstreamObserver
}

func callUpstream[T any](ctx context.Context, p retryPolicy, op string, call func(context.Context) (T, error)) (T, error) {
	l := slogx.FromContext(ctx)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.interval
	expBackoff.MaxInterval = 10 * p.interval
	expBackoff.Reset()

	attempt := 0
	operation := func() (T, error) {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		res, err := call(attemptCtx)
		took := time.Since(start)

		switch {
		case err == nil:
			p.observer.ObserveUpstream(op, OutcomeOK, took)
			return res, nil
		case errors.Is(err, domain.ErrProviderUnavailable):
			p.observer.ObserveUpstream(op, OutcomeUnavailable, took)
			l.Warn("identity provider call failed", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("error", err))
			return res, err
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Our own attempt timeout, not the caller's deadline.
			p.observer.ObserveUpstream(op, OutcomeUnavailable, took)
			return res, wrapUnavailable(err)
		default:
			p.observer.ObserveUpstream(op, OutcomeRejected, took)
			return res, backoff.Permanent(err)
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(p.retries+1), // +1 for the initial attempt
		backoff.WithNotify(func(_ error, wait time.Duration) {
			l.Debug("retrying identity provider call", slog.String("op", op), slog.Duration("wait", wait))
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if isContextErr(err) && !errors.Is(err, domain.ErrProviderUnavailable) {
		// The caller's deadline ran out while we were waiting to retry.
		err = wrapUnavailable(err)
	}
	return res, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func wrapUnavailable(err error) error {
	return errors.Join(domain.ErrProviderUnavailable, err)
}
