package producer

import (
	"context"
	"fmt"
	"time"
)

// SendFunc sends one batch request. A returned error is a transport failure and is
// passed to the caller of Deliver as is.
type SendFunc[T, R any] func(ctx context.Context, batch []T) (R, error)

// Failure pairs an entry rejected by the service with the error reported for it.
// Original is the exact value that was sent, so a retry resends identical bytes.
type Failure[T any] struct {
	Original     T
	ErrorCode    string
	ErrorMessage string
}

// GiveUpFunc decides what happens to the entries still failing after the last retry.
// A nil error drops them; a non-nil error is returned from Deliver.
type GiveUpFunc[T any] func(failures []Failure[T]) error

// RetryPolicy configures the retry loop of a RetryController.
type RetryPolicy struct {
	// MaxRetries is the number of resends after the first attempt.
	MaxRetries int
	// ResetBackoffIfSuccess resets the backoff after any round in which at least one
	// entry was accepted.
	ResetBackoffIfSuccess bool
	// DropFailedAfterRetriesExhausted drops the remaining failures and counts them
	// instead of returning a *RetriesExhaustedError.
	DropFailedAfterRetriesExhausted bool
	// PriorityErrorCodes are reported in preference to other codes, in order, when
	// retries are exhausted.
	PriorityErrorCodes []string
	// MaxRetryWait caps the cumulative backoff wait of one delivery. When the next wait
	// would exceed it the controller gives up early. Zero means no cap.
	MaxRetryWait time.Duration
}

// RetryController delivers one batch at a time, resending only the failed entries
// with backoff until they succeed or the retries run out. Its fields must be set
// before the first call to Deliver; after that it is safe for concurrent use since
// every delivery gets its own Backoff.
type RetryController[T, R any] struct {
	Send    SendFunc[T, R]
	Adapter ResponseAdapter[R]
	Policy  RetryPolicy
	// NewBackoff returns the backoff of one delivery. Defaults to NewExponentialBackoff.
	NewBackoff func() Backoff
	// GiveUp defaults to DropFailures or RaiseFailures depending on the policy.
	GiveUp GiveUpFunc[T]
	// Describe renders an entry for give-up logs.
	Describe func(T) string
	Logger   Logger
	Metrics  *Metrics
	// LogTruncateMaxSize truncates rendered entries in logs. Zero disables truncation.
	LogTruncateMaxSize int

	sleeper *sleeper
}

// NewRetryController returns a controller with defaults derived from policy.
func NewRetryController[T, R any](send SendFunc[T, R], adapter ResponseAdapter[R], policy RetryPolicy, logger Logger, metrics *Metrics) *RetryController[T, R] {
	if logger == nil {
		logger = &NopLogger{}
	}
	return &RetryController[T, R]{
		Send:       send,
		Adapter:    adapter,
		Policy:     policy,
		NewBackoff: func() Backoff { return NewExponentialBackoff() },
		Logger:     logger,
		Metrics:    metrics,
		sleeper:    newSleeper(logger, metrics),
	}
}

// Deliver sends batch and retries the failed entries until none fail or the policy
// gives up. It returns the transport error of Send, ErrResultMismatch when a response
// does not line up with its request, or whatever the give-up function returns.
func (c *RetryController[T, R]) Deliver(ctx context.Context, batch []T) error {
	var (
		b      = c.backoff()
		items  = batch
		waited time.Duration
	)
	for retry := 0; ; retry++ {
		out, err := c.Send(ctx, items)
		if err != nil {
			return err
		}

		failed := c.Adapter.FailedCount(out)
		if failed == 0 {
			c.Metrics.sent(len(items))
			return nil
		}

		results := c.Adapter.Results(out)
		failures, err := collectFailures(items, results)
		if err != nil {
			return err
		}
		c.Metrics.sent(len(items) - len(failures))

		if retry >= c.Policy.MaxRetries {
			return c.giveUp(failures, retry)
		}

		if c.Policy.ResetBackoffIfSuccess && len(results) > failed {
			b.Reset()
			c.Metrics.backoffReset()
		}
		wait := b.Duration()
		if c.Policy.MaxRetryWait > 0 && waited+wait > c.Policy.MaxRetryWait {
			c.logger().Info("retry wait limit reached",
				LogValue{"waited", waited.String()},
				LogValue{"limit", c.Policy.MaxRetryWait.String()},
			)
			return c.giveUp(failures, retry)
		}

		c.logger().Info("retrying batch request",
			LogValue{"retry", retry + 1},
			LogValue{"records", len(failures)},
			LogValue{"backoff", wait.String()},
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
		c.Metrics.retry()

		items = make([]T, len(failures))
		for i, f := range failures {
			items[i] = f.Original
		}
	}
}

// collectFailures pairs every failed result with the entry at the same position.
func collectFailures[T any](items []T, results []Result) ([]Failure[T], error) {
	if len(results) != len(items) {
		return nil, fmt.Errorf("%w: %d results for %d entries", ErrResultMismatch, len(results), len(items))
	}
	var failures []Failure[T]
	for i, r := range results {
		if !r.Failed() {
			continue
		}
		failures = append(failures, Failure[T]{
			Original:     items[i],
			ErrorCode:    r.ErrorCode,
			ErrorMessage: r.ErrorMessage,
		})
	}
	if len(failures) == 0 {
		return nil, fmt.Errorf("%w: failed count is positive but no result has an error code", ErrResultMismatch)
	}
	return failures, nil
}

func (c *RetryController[T, R]) giveUp(failures []Failure[T], retries int) error {
	for _, f := range failures {
		c.Metrics.failed(f.ErrorCode)
	}
	if c.GiveUp != nil {
		return c.GiveUp(failures)
	}
	if c.Policy.DropFailedAfterRetriesExhausted {
		return DropFailures[T](c.logger(), c.Metrics, c.describe)(failures)
	}
	return RaiseFailures[T](c.logger(), c.Metrics, c.describe, c.Policy.PriorityErrorCodes, retries)(failures)
}

// DropFailures returns a GiveUpFunc that logs every failure and counts it as an error.
func DropFailures[T any](logger Logger, metrics *Metrics, describe func(T) string) GiveUpFunc[T] {
	return func(failures []Failure[T]) error {
		logFailures(logger, failures, describe)
		metrics.exhausted("drop")
		metrics.dropped(len(failures))
		return nil
	}
}

// RaiseFailures returns a GiveUpFunc that logs every failure and returns a
// *RetriesExhaustedError for the first failure whose code is in priority, or the
// first failure if none is.
func RaiseFailures[T any](logger Logger, metrics *Metrics, describe func(T) string, priority []string, retries int) GiveUpFunc[T] {
	return func(failures []Failure[T]) error {
		logFailures(logger, failures, describe)
		metrics.exhausted("raise")
		target := selectFailure(failures, priority)
		return &RetriesExhaustedError{
			ErrorCode:    target.ErrorCode,
			ErrorMessage: target.ErrorMessage,
			Failed:       len(failures),
			Retries:      retries,
		}
	}
}

func selectFailure[T any](failures []Failure[T], priority []string) Failure[T] {
	for _, code := range priority {
		for _, f := range failures {
			if f.ErrorCode == code {
				return f
			}
		}
	}
	return failures[0]
}

func logFailures[T any](logger Logger, failures []Failure[T], describe func(T) string) {
	if logger == nil {
		return
	}
	for _, f := range failures {
		values := []LogValue{
			{"ErrorCode", f.ErrorCode},
			{"ErrorMessage", f.ErrorMessage},
		}
		if describe != nil {
			values = append(values, LogValue{"Record", describe(f.Original)})
		}
		logger.Error("could not put record", ErrRetriesExhausted, values...)
	}
}

func (c *RetryController[T, R]) describe(v T) string {
	if c.Describe == nil {
		return truncate(fmt.Sprint(v), c.LogTruncateMaxSize)
	}
	return truncate(c.Describe(v), c.LogTruncateMaxSize)
}

func (c *RetryController[T, R]) backoff() Backoff {
	if c.NewBackoff == nil {
		return NewExponentialBackoff()
	}
	return c.NewBackoff()
}

func (c *RetryController[T, R]) sleep(ctx context.Context, d time.Duration) error {
	s := c.sleeper
	if s == nil {
		s = newSleeper(c.logger(), c.Metrics)
	}
	return s.sleep(ctx, d)
}

func (c *RetryController[T, R]) logger() Logger {
	if c.Logger == nil {
		return &NopLogger{}
	}
	return c.Logger
}
