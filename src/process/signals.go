// Package process implements handling of the process lifecycle, notably shutting down on signals.
package process

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("process")

// WithSignals returns a context that is cancelled when we receive SIGTERM / SIGINT / SIGHUP.
// This interrupts any waits between retries so uploads stop promptly.
// A second signal terminates the process immediately.
// The returned function stops handling signals and releases the context.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan os.Signal, 2) // Channel should be buffered a bit
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-c:
			log.Warning("Received signal %s, shutting down", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-c:
			log.Fatalf("Received signal %s, terminating\n", sig)
		case <-done:
		}
	}()
	return ctx, func() {
		signal.Stop(c)
		close(done)
		cancel()
	}
}
