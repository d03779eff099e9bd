package cli

import (
	"context"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costlens/internal/log"
)

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger("debug", log.ComponentWorker)
	assert.Equal(t, log.ComponentWorker, logger.Component())
	assert.True(t, logger.Enabled(context.Background(), -4))

	logger = SetupLogger("verbose", log.ComponentApp)
	assert.False(t, logger.Enabled(context.Background(), -4))
}

func TestShutdownRunsCleanup(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	logger := log.New(log.Config{Output: io.Discard})

	cleaned := make(chan struct{})
	ctx, done := shutdownOn(sigs, logger, time.Second, func(ctx context.Context) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		close(cleaned)
	})
	require.NoError(t, ctx.Err())

	sigs <- syscall.SIGTERM
	WaitForShutdown(ctx, done)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	select {
	case <-cleaned:
	default:
		t.Fatal("cleanup did not run")
	}
}

func TestShutdownTimesOut(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	logger := log.New(log.Config{Output: io.Discard})

	release := make(chan struct{})
	defer close(release)
	ctx, done := shutdownOn(sigs, logger, 10*time.Millisecond, func(context.Context) {
		<-release
	})
	sigs <- syscall.SIGINT

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not give up on a stuck cleanup")
	}
	assert.Error(t, ctx.Err())
}
