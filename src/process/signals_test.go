package process

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithSignals(t *testing.T) {
	ctx, stop := WithSignals(context.Background())
	defer stop()
	assert.NoError(t, ctx.Err())
	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by signal")
	}
}

func TestStop(t *testing.T) {
	ctx, stop := WithSignals(context.Background())
	stop()
	assert.Error(t, ctx.Err())
}
