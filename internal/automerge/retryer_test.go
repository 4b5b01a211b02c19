package automerge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mergomat/mergomat/internal/mergomaterr"
)

func mergomaterrAnytime() error {
	return mergomaterr.NewRetryableAnytimeError(errors.New("transient failure"))
}

func newRetryableTestErr(after time.Time) error {
	return mergomaterr.NewRetryableError(errors.New("transient failure"), after)
}

func newTestRetryer(t *testing.T) *Retryer {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	return &Retryer{
		logger:                     zaptest.NewLogger(t).Named("retryer"),
		defTimeout:                 time.Minute,
		backoffInitialInterval:     time.Millisecond,
		backoffRandomizationFactor: 0,
		shutdownChan:               make(chan struct{}),
	}
}

func TestRunReturnsNilOnSuccess(t *testing.T) {
	retryer := newTestRetryer(t)

	var calls int

	err := retryer.Run(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunDoesNotRetryUnrecoverableErrors(t *testing.T) {
	retryer := newTestRetryer(t)

	var calls int
	opErr := errors.New("unrecoverable")

	err := retryer.Run(context.Background(), func(context.Context) error {
		calls++
		return opErr
	}, nil)

	require.ErrorIs(t, err, opErr)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesRetryableErrors(t *testing.T) {
	retryer := newTestRetryer(t)

	var calls int

	err := retryer.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return mergomaterrAnytime()
		}

		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunAbortsWhenDeadlineExceeded(t *testing.T) {
	retryer := newTestRetryer(t)
	retryer.defTimeout = 50 * time.Millisecond

	err := retryer.Run(context.Background(), func(context.Context) error {
		return mergomaterrAnytime()
	}, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunHonorsEarliestRetryTime(t *testing.T) {
	retryer := newTestRetryer(t)

	const retryDelay = 30 * time.Millisecond

	var calls int
	var firstCall, secondCall time.Time

	err := retryer.Run(context.Background(), func(context.Context) error {
		calls++

		switch calls {
		case 1:
			firstCall = time.Now()
			return newRetryableTestErr(time.Now().Add(retryDelay))
		default:
			secondCall = time.Now()
			return nil
		}
	}, nil)

	require.NoError(t, err)
	require.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, secondCall.Sub(firstCall), retryDelay)
}

func TestRunFailsWhenEarliestRetryTimeIsAfterDeadline(t *testing.T) {
	retryer := newTestRetryer(t)
	retryer.defTimeout = 20 * time.Millisecond

	var calls int

	err := retryer.Run(context.Background(), func(context.Context) error {
		calls++
		return newRetryableTestErr(time.Now().Add(time.Hour))
	}, nil)

	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestStopAbortsRunningOperations(t *testing.T) {
	retryer := newTestRetryer(t)

	running := make(chan struct{})
	var closeOnce sync.Once

	resultChan := make(chan error, 1)

	go func() {
		resultChan <- retryer.Run(context.Background(), func(context.Context) error {
			closeOnce.Do(func() { close(running) })
			return mergomaterrAnytime()
		}, nil)
	}()

	<-running
	retryer.Stop()

	select {
	case err := <-resultChan:
		require.ErrorIs(t, err, ErrRetryerStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the retryer was stopped")
	}
}
