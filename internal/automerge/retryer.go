package automerge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/mergomat/mergomat/internal/logfields"
	"github.com/mergomat/mergomat/internal/mergomaterr"
)

const (
	defRetryTimeout            = 2 * time.Hour
	defBackoffInitialInterval  = 5 * time.Second
	defBackoffRandomizationFct = 0.5
)

// ErrRetryerStopped is returned by Retryer.Run when the retryer was stopped
// while the operation was waiting for its next try.
var ErrRetryerStopped = errors.New("retryer terminated")

// Retryer executes a function repeatedly until it was successful or a cancel
// condition happened.
type Retryer struct {
	logger *zap.Logger

	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64

	shutdownChan chan struct{}
	stopOnce     sync.Once
}

func NewRetryer() *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		defTimeout:                 defRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFct,
		shutdownChan:               make(chan struct{}),
	}
}

// Run executes fn until it succeeds, it returns an error that does not wrap
// mergomaterr.RetryableError, the context is cancelled or the run deadline
// expired.
// When a RetryableError specifies an earliest retry time, the next try is
// scheduled for that time, otherwise tries are paused by an exponential
// backoff.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	ctx, cancel := context.WithTimeout(ctx, r.defTimeout)
	defer cancel()

	endTime, _ := ctx.Deadline()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxElapsedTime = 0

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(
				"operation cancelled",
				append(logF, logfields.Event("operation_cancelled"), zap.Uint("try_count", tryCnt))...,
			)

			return ctx.Err()

		case <-r.shutdownChan:
			r.logger.Info(
				"retryer terminating, operation aborted",
				append(logF, logfields.Event("operation_aborted_retryer_terminated"), zap.Uint("try_count", tryCnt))...,
			)

			return ErrRetryerStopped

		case <-retryTimer.C:
			tryCnt++
			logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

			err := fn(ctx)
			if err == nil {
				logger.Debug(
					"operation executed successfully",
					logfields.Event("operation_succeeded"),
				)

				return nil
			}

			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info(
					"operation cancelled",
					logfields.Event("operation_cancelled"),
				)

				return err
			}

			var retryErr *mergomaterr.RetryableError
			if !errors.As(err, &retryErr) {
				logger.Info(
					"operation failed, not retryable",
					logfields.Event("operation_failed"),
				)

				return err
			}

			if !retryErr.After.IsZero() && retryErr.After.After(endTime) {
				logger.Info(
					"operation failed, next possible retry time is after the retry deadline",
					logfields.Event("operation_failed"),
					zap.Time("earliest_allowed_retry", retryErr.After),
				)

				return err
			}

			var retryIn time.Duration

			if retryErr.After.IsZero() || !retryErr.After.After(time.Now()) {
				retryIn = bo.NextBackOff()
			} else {
				retryIn = time.Until(retryErr.After)
			}

			retryTimer.Reset(retryIn)
			logger.Debug(
				"operation failed, retry scheduled",
				logfields.Event("operation_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
			)
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))
		close(r.shutdownChan)
	})
}
