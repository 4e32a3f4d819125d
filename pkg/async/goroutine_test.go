package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_RunsTask(t *testing.T) {
	logger, hook := test.NewNullLogger()
	g := NewGroup(logger)
	ran := atomic.Bool{}

	started := g.Go(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		ran.Store(hasDeadline)
		return nil
	})
	require.True(t, started)
	require.NoError(t, g.Close(time.Second))

	assert.True(t, ran.Load(), "task runs with a deadline")
	assert.Empty(t, hook.AllEntries(), "successful tasks log nothing")
}

func TestGroup_ErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	g := NewGroup(logger)

	g.Go(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		return errors.New("test error")
	})
	require.NoError(t, g.Close(time.Second))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "test task", entry.Data["task"])
}

func TestGroup_Timeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	g := NewGroup(logger)
	completed := atomic.Bool{}

	g.Go(context.Background(), 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	require.NoError(t, g.Close(time.Second))
	assert.False(t, completed.Load(), "task should have been canceled by timeout")
}

func TestGroup_PanicRecovery(t *testing.T) {
	logger, hook := test.NewNullLogger()
	g := NewGroup(logger)

	g.Go(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})
	require.NoError(t, g.Close(time.Second))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Background task panicked", entry.Message)
	assert.Equal(t, "test panic", entry.Data["panic"])
}

func TestGroup_RejectsAfterClose(t *testing.T) {
	g := NewGroup(nil)
	require.NoError(t, g.Close(time.Second))

	started := g.Go(context.Background(), time.Second, "late", func(ctx context.Context) error {
		t.Error("task must not run after close")
		return nil
	})
	assert.False(t, started)
}

func TestGroup_CloseTimesOut(t *testing.T) {
	logger, _ := test.NewNullLogger()
	g := NewGroup(logger)
	release := make(chan struct{})
	defer close(release)

	g.Go(context.Background(), time.Minute, "stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	err := g.Close(20 * time.Millisecond)
	assert.Error(t, err)
}
