package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type retryFixture struct {
	sender  *scriptedSend
	backoff *countingBackoff
	clock   *fakeClock
	logger  *recordingLogger
	metrics *Metrics
	c       *RetryController[int, []Result]
}

func newRetryFixture(policy RetryPolicy, fails ...int) *retryFixture {
	f := &retryFixture{
		sender:  &scriptedSend{fails: fails, code: throttled},
		backoff: &countingBackoff{},
		clock:   newFakeClock(),
		logger:  &recordingLogger{},
		metrics: NewMetrics(nil),
	}
	f.c = NewRetryController[int, []Result](f.sender.send, resultsAdapter{}, policy, f.logger, f.metrics)
	f.c.NewBackoff = func() Backoff { return f.backoff }
	f.c.sleeper = f.clock.sleeper(f.logger, f.metrics)
	return f
}

func TestDeliverResendsOnlyFailures(t *testing.T) {
	f := newRetryFixture(RetryPolicy{MaxRetries: 3}, 3, 2, 1, 0)

	require.NoError(t, f.c.Deliver(context.Background(), seq(5)))
	require.Equal(t, []int{5, 3, 2, 1}, f.sender.sizes)
	require.Equal(t, [][]int{{0, 1, 2, 3, 4}, {2, 3, 4}, {3, 4}, {4}}, f.sender.sent)
	require.Equal(t, float64(5), testutil.ToFloat64(f.metrics.recordsSent))
	require.Equal(t, float64(3), testutil.ToFloat64(f.metrics.retries))
	require.Equal(t, int64(0), f.metrics.NumErrors())
}

func TestDeliverFirstAttemptSucceeds(t *testing.T) {
	f := newRetryFixture(RetryPolicy{MaxRetries: 3})

	require.NoError(t, f.c.Deliver(context.Background(), seq(4)))
	require.Equal(t, []int{4}, f.sender.sizes)
	require.Zero(t, f.backoff.calls)
	require.Empty(t, f.clock.waits)
}

func TestDeliverRetriesExhausted(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		f := newRetryFixture(RetryPolicy{MaxRetries: 3, DropFailedAfterRetriesExhausted: true}, 4, 3, 2, 1)

		require.NoError(t, f.c.Deliver(context.Background(), seq(5)))
		require.Equal(t, []int{5, 4, 3, 2}, f.sender.sizes)
		require.Equal(t, [][]int{{0, 1, 2, 3, 4}, {1, 2, 3, 4}, {2, 3, 4}, {3, 4}}, f.sender.sent)
		require.Equal(t, float64(4), testutil.ToFloat64(f.metrics.recordsSent))
		require.Equal(t, int64(1), f.metrics.NumErrors())
		require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.errors))
		require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.recordsFailed.WithLabelValues(throttled)))
		require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.retriesExhausted.WithLabelValues("drop")))
		require.Equal(t, 1, f.logger.count(f.logger.errors, "could not put record"))
	})

	t.Run("raise", func(t *testing.T) {
		f := newRetryFixture(RetryPolicy{MaxRetries: 3}, 4, 3, 2, 1)

		err := f.c.Deliver(context.Background(), seq(5))
		require.ErrorIs(t, err, ErrRetriesExhausted)
		var exhausted *RetriesExhaustedError
		require.ErrorAs(t, err, &exhausted)
		require.Equal(t, throttled, exhausted.ErrorCode)
		require.Equal(t, 1, exhausted.Failed)
		require.Equal(t, 3, exhausted.Retries)
		require.True(t, exhausted.Temporary())
		require.Equal(t, []int{5, 4, 3, 2}, f.sender.sizes)
		require.Equal(t, int64(0), f.metrics.NumErrors())
	})

	t.Run("last entry given up", func(t *testing.T) {
		f := newRetryFixture(RetryPolicy{MaxRetries: 3}, 4, 3, 2, 1)
		var given []Failure[int]
		f.c.GiveUp = func(failures []Failure[int]) error {
			given = failures
			return nil
		}

		require.NoError(t, f.c.Deliver(context.Background(), seq(5)))
		require.Len(t, given, 1)
		require.Equal(t, 4, given[0].Original)
		require.Equal(t, throttled, given[0].ErrorCode)
	})

	t.Run("no retries", func(t *testing.T) {
		f := newRetryFixture(RetryPolicy{MaxRetries: 0}, 2)

		require.ErrorIs(t, f.c.Deliver(context.Background(), seq(3)), ErrRetriesExhausted)
		require.Equal(t, []int{3}, f.sender.sizes)
		require.Zero(t, f.backoff.calls)
	})
}

func TestDeliverResetBackoffIfSuccess(t *testing.T) {
	testCases := []struct {
		name   string
		reset  bool
		resets int
	}{
		{"enabled", true, 3},
		{"disabled", false, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRetryFixture(RetryPolicy{MaxRetries: 3, ResetBackoffIfSuccess: tc.reset}, 3, 2, 1, 0)

			require.NoError(t, f.c.Deliver(context.Background(), seq(5)))
			require.Equal(t, tc.resets, f.backoff.resets)
			require.Equal(t, float64(tc.resets), testutil.ToFloat64(f.metrics.backoffResets))
			require.Equal(t, 3, f.backoff.calls)
		})
	}
}

func TestDeliverNoResetWithoutProgress(t *testing.T) {
	f := newRetryFixture(RetryPolicy{MaxRetries: 3, ResetBackoffIfSuccess: true}, 5, 5, 0)

	require.NoError(t, f.c.Deliver(context.Background(), seq(5)))
	require.Equal(t, []int{5, 5, 5}, f.sender.sizes)
	require.Zero(t, f.backoff.resets)
}

func TestDeliverPriorityErrorCodes(t *testing.T) {
	results := []Result{
		{ErrorCode: "InternalFailure", ErrorMessage: "internal"},
		{},
		{ErrorCode: throttled, ErrorMessage: "slow down"},
	}
	send := func(_ context.Context, batch []int) ([]Result, error) {
		return results[:len(batch)], nil
	}

	testCases := []struct {
		name     string
		priority []string
		expected string
	}{
		{"priority code wins", []string{throttled}, throttled},
		{"first failure without priority", nil, "InternalFailure"},
		{"priority order", []string{"InternalFailure", throttled}, "InternalFailure"},
		{"unknown priority falls back", []string{"KMSThrottlingException"}, "InternalFailure"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewRetryController[int, []Result](send, resultsAdapter{}, RetryPolicy{PriorityErrorCodes: tc.priority}, nil, nil)
			var exhausted *RetriesExhaustedError
			require.ErrorAs(t, c.Deliver(context.Background(), seq(3)), &exhausted)
			require.Equal(t, tc.expected, exhausted.ErrorCode)
			require.Equal(t, 2, exhausted.Failed)
		})
	}
}

func TestDeliverTransportError(t *testing.T) {
	transport := errors.New("RequestError: send request failed")
	calls := 0
	send := func(context.Context, []int) ([]Result, error) {
		calls++
		return nil, transport
	}
	c := NewRetryController[int, []Result](send, resultsAdapter{}, RetryPolicy{MaxRetries: 3}, nil, nil)
	require.Equal(t, transport, c.Deliver(context.Background(), seq(2)))
	require.Equal(t, 1, calls)
}

func TestDeliverResultMismatch(t *testing.T) {
	t.Run("result count", func(t *testing.T) {
		send := func(context.Context, []int) ([]Result, error) {
			return []Result{{ErrorCode: throttled}}, nil
		}
		c := NewRetryController[int, []Result](send, resultsAdapter{}, RetryPolicy{MaxRetries: 3}, nil, nil)
		require.ErrorIs(t, c.Deliver(context.Background(), seq(2)), ErrResultMismatch)
	})

	t.Run("failed count without codes", func(t *testing.T) {
		send := func(_ context.Context, batch []int) ([]Result, error) {
			return make([]Result, len(batch)), nil
		}
		c := NewRetryController[int, []Result](send, lyingAdapter{}, RetryPolicy{MaxRetries: 3}, nil, nil)
		require.ErrorIs(t, c.Deliver(context.Background(), seq(2)), ErrResultMismatch)
	})
}

// lyingAdapter reports one failure whatever the results say
type lyingAdapter struct{ resultsAdapter }

func (lyingAdapter) FailedCount([]Result) int { return 1 }

func TestDeliverMaxRetryWait(t *testing.T) {
	f := newRetryFixture(RetryPolicy{MaxRetries: 10, MaxRetryWait: 2500 * time.Millisecond}, 1, 1, 1, 1, 1, 1)
	f.backoff.d = time.Second

	err := f.c.Deliver(context.Background(), seq(1))
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Retries)
	require.Equal(t, []int{1, 1, 1}, f.sender.sizes)
	require.Equal(t, 2*time.Second, f.clock.elapsed())
	require.Equal(t, 1, f.logger.count(f.logger.infos, "retry wait limit reached"))
}

func TestDeliverCanceled(t *testing.T) {
	f := newRetryFixture(RetryPolicy{MaxRetries: 3}, 1, 1)
	f.backoff.d = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, f.c.Deliver(ctx, seq(2)), context.Canceled)
	require.Equal(t, []int{2}, f.sender.sizes)
}

func TestDeliverCustomGiveUp(t *testing.T) {
	f := newRetryFixture(RetryPolicy{MaxRetries: 1}, 2, 1)
	var given []Failure[int]
	f.c.GiveUp = func(failures []Failure[int]) error {
		given = failures
		return nil
	}

	require.NoError(t, f.c.Deliver(context.Background(), seq(4)))
	require.Len(t, given, 1)
	require.Equal(t, 3, given[0].Original)
	require.Equal(t, throttled, given[0].ErrorCode)
}

func TestDeliverDescribeTruncated(t *testing.T) {
	var described []string
	logger := &describeLogger{records: &described}
	send := func(_ context.Context, batch []int) ([]Result, error) {
		return []Result{{ErrorCode: throttled}}, nil
	}
	c := NewRetryController[int, []Result](send, resultsAdapter{}, RetryPolicy{DropFailedAfterRetriesExhausted: true}, logger, nil)
	c.Describe = func(int) string { return "0123456789" }
	c.LogTruncateMaxSize = 4

	require.NoError(t, c.Deliver(context.Background(), seq(1)))
	require.Equal(t, []string{"0123..."}, described)
}

// describeLogger keeps the Record value of error logs
type describeLogger struct {
	NopLogger
	records *[]string
}

func (l *describeLogger) Error(_ string, _ error, values ...LogValue) {
	for _, v := range values {
		if v.Name == "Record" {
			*l.records = append(*l.records, v.Value.(string))
		}
	}
}
