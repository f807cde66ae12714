package hostclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
)

// Retry policy constants, grounded on the teacher's cursor.clientImpl
// (maxRetries=3, retryBaseDelay=1s, exponential backoff) and on
// github-workflows' status_checks.py/recovery.py backoff shape, which caps
// the exponential series at 30s.
const (
	maxAttempts = 3
	baseDelay   = 1 * time.Second
	maxDelay    = 30 * time.Second
)

// retrier wraps every Host Client call with the rate-limit-aware retry
// policy from SPEC_FULL §4.1. clock is overridable for tests.
type retrier struct {
	clock func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newRetrier() *retrier {
	return &retrier{
		clock: time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func backoffFor(attempt int) time.Duration {
	d := baseDelay << uint(attempt)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// do runs fn up to maxAttempts times, applying the retry policy to
// transient failures. fn must return the *github.Response it got (even on
// error, if any) so rate-limit headers can be inspected.
func (r *retrier) do(ctx context.Context, fn func() (*github.Response, error)) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		wait, retriable := r.classify(err, resp, attempt)
		if !retriable {
			return wrapTerminal(err, resp)
		}
		if attempt == maxAttempts-1 {
			break
		}
		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
	return errors.Join(ErrRateLimited, lastErr)
}

// classify decides whether err/resp represents a retriable condition and,
// if so, how long to wait before the next attempt. attempt is the 0-based
// index of the call that just failed, so the exponential series (1s, 2s,
// 4s, ... capped at 30s) actually escalates across retries per SPEC_FULL
// §4.1, rather than holding flat at its seed value.
func (r *retrier) classify(err error, resp *github.Response, attempt int) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		remaining := rateErr.Rate.Reset.Time.Sub(r.clock())
		return maxDuration(remaining, backoffFor(attempt)), true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil {
			return maxDuration(*abuseErr.RetryAfter, backoffFor(attempt)), true
		}
		return backoffFor(attempt), true
	}

	if resp != nil && resp.Response != nil {
		status := resp.StatusCode
		if status == http.StatusTooManyRequests || status >= 500 {
			return backoffFor(attempt), true
		}
	}
	return 0, false
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// wrapTerminal converts a non-retriable failure into an *APIError when the
// status code is available, preserving the teacher's typed-error contract.
func wrapTerminal(err error, resp *github.Response) error {
	if resp == nil || resp.Response == nil {
		return err
	}
	status := resp.StatusCode
	if status == http.StatusNotFound {
		return errors.Join(ErrNotFound, err)
	}
	if status == http.StatusConflict {
		return errors.Join(ErrConflict, err)
	}
	return &APIError{StatusCode: status, Message: err.Error()}
}
