// Package retry implements C6: bounded-attempt execution with
// policy-driven delay strategies and an optional total time budget.
//
// Delay computation is adapted from github.com/sethvargo/go-retry's
// backoff composition (NewConstant/NewExponential plus its jitter/cap
// decorators) rather than calling retry.Do directly: the kernel, not the
// library, owns maxAttempts enforcement, maxTotalBudget truncation, and
// the causal original-error-vs-cancellation-error choice on abort.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/gifton/pipelinekit/core/errs"
	"github.com/gifton/pipelinekit/core/logger"
)

// Classifier decides whether err should be retried.
type Classifier func(err error) bool

// AlwaysRetry retries every non-nil error.
func AlwaysRetry(err error) bool { return err != nil }

// DelayStrategy names one of the spec's four delay shapes.
type DelayStrategy int

const (
	Fixed DelayStrategy = iota
	Exponential
	JitteredExponential
	None
)

// Policy is the C6 RetryPolicy.
type Policy struct {
	MaxAttempts    int // >= 1
	ShouldRetry    Classifier
	Strategy       DelayStrategy
	Base           time.Duration // fixed delay, or exponential base
	Factor         float64       // exponential growth factor (backoff lib uses x2 internally; kept for documentation/future tuning)
	Cap            time.Duration
	MaxTotalBudget time.Duration // 0 = unbounded

	// Logger receives one attempt-number entry per attempt. Nil
	// (the zero value) disables logging entirely.
	Logger *slog.Logger
}

// backoffFor builds the underlying go-retry.Backoff for the policy's
// strategy. None/Fixed with zero Base returns a backoff that always yields
// zero delay.
func (p Policy) backoffFor() retry.Backoff {
	switch p.Strategy {
	case Fixed:
		if p.Base <= 0 {
			return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
		}
		b, _ := retry.NewConstant(p.Base)
		return b
	case Exponential:
		b, _ := retry.NewExponential(p.Base)
		if p.Cap > 0 {
			b = retry.WithCappedDuration(p.Cap, b)
		}
		return b
	case JitteredExponential:
		b, _ := retry.NewExponential(p.Base)
		if p.Cap > 0 {
			b = retry.WithCappedDuration(p.Cap, b)
		}
		b = retry.WithJitterPercent(20, b)
		return b
	default: // None
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
}

// Do executes fn up to p.MaxAttempts times, sleeping between attempts per
// the configured delay strategy. Cancellation during sleep aborts with
// whichever of {ctx.Err(), the last attempt's error} is causal: if the
// context is what ended the wait, that is the reported error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	classify := p.ShouldRetry
	if classify == nil {
		classify = AlwaysRetry
	}

	backoff := p.backoffFor()
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if p.Logger != nil {
			p.Logger.DebugContext(ctx, "retry.Do attempt", logger.Attempt(attempt))
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay, stop := backoff.Next()
		if stop {
			break
		}

		if p.MaxTotalBudget > 0 {
			elapsed := time.Since(start)
			remaining := p.MaxTotalBudget - elapsed
			if remaining <= 0 {
				return errs.New("retry.Do", errs.KindRetryBudgetExhausted, lastErr)
			}
			if delay > remaining {
				delay = remaining
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errs.New("retry.Do", errs.KindCancelled, ctx.Err())
		}
	}

	return errs.New("retry.Do", errs.KindRetryExhausted, lastErr)
}
