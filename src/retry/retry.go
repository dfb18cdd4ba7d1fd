// Package retry implements the retry & backoff logic used for calls to the artifact service.
// Each outcome of a call is classified from its status code, which decides whether we
// return, give up, or wait and try again.
package retry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/artifact-upload/src/metrics"
)

var log = logging.MustGetLogger("retry")

var retries = metrics.NewCounter("retry", "waits_total", "Number of times a call to the artifact service has been retried")

// A Response is the minimal view of a completed HTTP call that we need to classify it.
type Response interface {
	// StatusCode returns the numeric HTTP status of the response.
	StatusCode() int
	// Header returns the first value of the given response header, or the empty string.
	Header(key string) string
}

// An Operation is a single attempt at a network call.
// It either returns a response (which may have any status) or an error if no response was received.
type Operation func(ctx context.Context) (Response, error)

// A Policy is the fixed configuration of an Engine.
type Policy struct {
	// BaseDelay is the wait after the first failed attempt; it doubles for each one after.
	BaseDelay time.Duration
	// MaxDelay caps any single exponential wait.
	MaxDelay time.Duration
	// RetryableStatusCodes are retried in addition to every 5xx status.
	RetryableStatusCodes []int
}

// DefaultPolicy returns the policy used against the artifact service.
// Note that 413 is retried even though resending the same payload is unlikely to help;
// this matches the service's existing clients.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 3 * time.Second,
		MaxDelay:  time.Minute,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,
			http.StatusRequestEntityTooLarge,
		},
	}
}

// An Engine retries operations according to its policy.
// It holds no mutable state so can be shared between goroutines.
type Engine struct {
	baseDelay, maxDelay time.Duration
	retryable           map[int]bool
	sleep               func(ctx context.Context, d time.Duration) error
}

// New creates a new Engine from the given policy.
func New(policy Policy) *Engine {
	e := &Engine{
		baseDelay: policy.BaseDelay,
		maxDelay:  policy.MaxDelay,
		retryable: make(map[int]bool, len(policy.RetryableStatusCodes)),
		sleep:     sleep,
	}
	for _, code := range policy.RetryableStatusCodes {
		e.retryable[code] = true
	}
	return e
}

// Classify returns the class of a response with the given status code.
func (e *Engine) Classify(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests:
		return Throttled
	case status == http.StatusForbidden:
		return Forbidden
	case status >= 500 && status < 600, e.retryable[status]:
		return Retryable
	default:
		return NonRetryable
	}
}

// Backoff returns how long to wait after the given attempt (1-indexed) before the next one.
func (e *Engine) Backoff(attempt int) time.Duration {
	b := e.newBackOff()
	delay := b.NextBackOff()
	for i := 1; i < attempt && delay < e.maxDelay; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// newBackOff returns a fresh schedule of waits, doubling from the base delay up to the max.
// There's no jitter and no overall time limit; the number of attempts bounds it instead.
func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.baseDelay
	if b.InitialInterval > e.maxDelay {
		b.InitialInterval = e.maxDelay
	}
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = e.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Retry runs the given operation until it succeeds, fails permanently or maxAttempts attempts have been made.
// name describes the call for logs and errors. customErrorMessages are used to explain
// particular status codes in the returned error.
// The returned error is a *NetworkOutcomeError for permanent failures, an *ExhaustedRetriesError
// if we run out of attempts, or the context's error if it is cancelled while waiting.
func (e *Engine) Retry(ctx context.Context, name string, maxAttempts int, customErrorMessages map[int]string, op Operation) (Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastStatus int
	var lastErr error
	b := backoff.WithContext(e.newBackOff(), ctx)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := op(ctx)
		var class Class
		var delay time.Duration
		if err != nil {
			class = TransportException
			lastStatus = 0
			lastErr = err
			log.Warning("%s - Attempt %d of %d failed with error: %s", name, attempt, maxAttempts, err)
			delay = b.NextBackOff()
		} else {
			lastStatus = resp.StatusCode()
			lastErr = nil
			class = e.Classify(lastStatus)
			log.Debug("%s - Attempt %d of %d: server responded with %d (%s)", name, attempt, maxAttempts, lastStatus, class)
			switch class {
			case Success:
				return resp, nil
			case Forbidden, NonRetryable:
				log.Error("%s - Error is not retryable", name)
				return nil, &NetworkOutcomeError{
					Name:       name,
					StatusCode: lastStatus,
					Class:      class,
					Message:    errorMessage(lastStatus, customErrorMessages),
					Attempts:   attempt,
				}
			case Throttled:
				delay = b.NextBackOff()
				if after, present := RetryAfter(resp.Header("Retry-After")); present && delay != backoff.Stop {
					delay = after
				}
			default:
				delay = b.NextBackOff()
			}
			log.Warning("%s - Attempt %d of %d failed: server responded with %d", name, attempt, maxAttempts, lastStatus)
		}
		if attempt == maxAttempts {
			break
		} else if delay == backoff.Stop {
			return nil, fmt.Errorf("%s interrupted while waiting to retry: %w", name, ctx.Err())
		}
		log.Info("%s - Waiting %s before attempt %d", name, delay, attempt+1)
		retries.Inc()
		if err := e.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s interrupted while waiting to retry: %w", name, err)
		}
	}
	log.Error("%s - Failed after %d attempts", name, maxAttempts)
	return nil, &ExhaustedRetriesError{
		Name:       name,
		Attempts:   maxAttempts,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

// errorMessage returns the message to report for a failed response.
func errorMessage(status int, customErrorMessages map[int]string) string {
	if msg, present := customErrorMessages[status]; present {
		return msg
	}
	return fmt.Sprintf("Artifact service responded with %d", status)
}

// RetryAfter interprets the value of a Retry-After header.
// The server sends a number of seconds but an HTTP date is accepted too.
func RetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	} else if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	} else if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// sleep waits for the given duration, or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
