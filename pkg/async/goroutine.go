package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/meterline/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The task context keeps the parent's values but not its cancellation.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, logger, fn)
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	log := logger.WithField("task", taskName)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()

	defer observability.RecoverPanic(log, taskName)

	if err := fn(ctx); err != nil {
		log.WithError(err).Warn("background task failed")
	}
}

// Dispatcher runs tasks like SafeGo and tracks them until they finish
type Dispatcher struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher applying timeout to every task
func NewDispatcher(logger *observability.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{logger: logger, timeout: timeout}
}

// Go starts fn in the background
func (d *Dispatcher) Go(ctx context.Context, taskName string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		run(ctx, d.timeout, taskName, d.logger, fn)
	}()
}

// ErrDrainTimeout is returned by Wait when tasks are still running at the deadline
var ErrDrainTimeout = errors.New("background tasks still running")

// Wait blocks until every started task has returned or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}
