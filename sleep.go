package producer

import (
	"context"
	"time"
)

// sleeper blocks for at least a requested duration. now and wait are swapped out in
// tests to simulate a scheduler that returns early.
type sleeper struct {
	now     func() time.Time
	wait    func(ctx context.Context, d time.Duration) error
	logger  Logger
	metrics *Metrics
}

func newSleeper(logger Logger, metrics *Metrics) *sleeper {
	return &sleeper{
		now:     time.Now,
		wait:    timerWait,
		logger:  logger,
		metrics: metrics,
	}
}

// ReliableSleep blocks for at least d. If a sleep returns early the shortfall is
// slept again; every early return is logged. It returns ctx.Err() if ctx is done
// first.
func ReliableSleep(ctx context.Context, d time.Duration, logger Logger) error {
	if logger == nil {
		logger = &NopLogger{}
	}
	return newSleeper(logger, nil).sleep(ctx, d)
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	remaining := d
	for remaining > 0 {
		start := s.now()
		if err := s.wait(ctx, remaining); err != nil {
			return err
		}
		actual := s.now().Sub(start)
		if actual >= remaining {
			return nil
		}
		s.logger.Info("sleep returned early",
			LogValue{"expected", remaining.String()},
			LogValue{"actual", actual.String()},
		)
		s.metrics.shortSleep()
		remaining -= actual
	}
	return nil
}

func timerWait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
