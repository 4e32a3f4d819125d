package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// run executes fn under a timeout derived from parentCtx. A panic is
// recovered and logged with its stack; a returned error is logged.
func run(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Background task panicked")
		}
	}()

	// Errors are logged; the caller has already moved on.
	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Error("Background task failed")
	}
}

// Group runs background tasks and lets shutdown wait for the ones in flight.
type Group struct {
	logger logrus.FieldLogger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewGroup creates a task group logging through logger.
func NewGroup(logger logrus.FieldLogger) *Group {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Group{logger: logger}
}

// Go starts fn unless the group has been closed. It reports whether the task
// was started.
func (g *Group) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		run(parentCtx, g.logger, timeout, taskName, fn)
	}()
	return true
}

// Close stops accepting tasks and waits up to timeout for running ones.
func (g *Group) Close(timeout time.Duration) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("background tasks still running after %v", timeout)
	}
}
