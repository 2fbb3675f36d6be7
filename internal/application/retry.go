package application

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// RetryPolicy bounds exponential backoff for one upstream or destination call.
type RetryPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// retryableError marks an attempt failure that may be retried. after is the
// server-requested minimum delay, zero when absent.
type retryableError struct {
	err    error
	after  time.Duration
	reason string
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// hintBackOff stretches the next delay to at least the Retry-After hint of
// the previous attempt.
type hintBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

// classifyStatus turns an HTTP-level failure into a retryable or permanent
// error. Non-status errors are network failures and are retried unless the
// context is done. permanent wraps non-retryable status errors.
func classifyStatus(ctx context.Context, err error, permanent func(error) error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var se *driven.StatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return &retryableError{err: err, after: se.RetryAfter, reason: strconv.Itoa(se.StatusCode)}
		}
		return backoff.Permanent(permanent(err))
	}
	return &retryableError{err: err, reason: "network"}
}

// retry runs op until it succeeds, fails permanently or the policy is
// exhausted. op returns nil, a *retryableError, or any other error, which is
// treated as permanent. On exhaustion the last *retryableError is returned.
func retry(ctx context.Context, p RetryPolicy, target string, rec driven.Recorder, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.MaxInterval = p.Max
	eb.MaxElapsedTime = 0

	hint := &hintBackOff{BackOff: eb}
	b := backoff.WithContext(backoff.WithMaxRetries(hint, uint64(max(p.MaxRetries, 0))), ctx)

	var last *retryableError
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		var re *retryableError
		if errors.As(err, &re) {
			last = re
			hint.hint = re.after
			return re
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, d time.Duration) {
		rec.Retried(target, last.reason)
		slog.Warn("retrying request", "target", target, "reason", last.reason, "delay", d, "error", err)
	}

	return backoff.RetryNotify(attempt, b, notify)
}

// isRateLimited reports whether err is an exhausted 429.
func isRateLimited(err error) bool {
	var se *driven.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
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
