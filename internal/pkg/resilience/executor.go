package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// Class separates retryable reads from at-most-once writes
type Class int

const (
	Read Class = iota
	Write
)

func (c Class) String() string {
	if c == Write {
		return "write"
	}
	return "read"
}

const (
	DefaultReadTimeout = 10 * time.Second
	MinReadTimeout     = 100 * time.Millisecond
	MaxReadTimeout     = 120 * time.Second
	DefaultRetryCount  = 2
	MaxRetryCount      = 5
	DefaultRetryDelay  = 300 * time.Millisecond
	MaxRetryDelay      = 10 * time.Second
)

// Config bounds read calls
type Config struct {
	ReadTimeout time.Duration
	RetryCount  int
	RetryDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout: DefaultReadTimeout,
		RetryCount:  DefaultRetryCount,
		RetryDelay:  DefaultRetryDelay,
	}
}

// Clamped returns the config with every field forced into its legal range
func (c Config) Clamped() Config {
	if c.ReadTimeout < MinReadTimeout {
		c.ReadTimeout = MinReadTimeout
	}
	if c.ReadTimeout > MaxReadTimeout {
		c.ReadTimeout = MaxReadTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryCount > MaxRetryCount {
		c.RetryCount = MaxRetryCount
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.RetryDelay > MaxRetryDelay {
		c.RetryDelay = MaxRetryDelay
	}
	return c
}

// RetryRecord describes one retry, kept for the audit line
type RetryRecord struct {
	Action    string        `json:"action"`
	Operation string        `json:"operationName"`
	Attempt   int           `json:"attempt"`
	ErrorCode string        `json:"errorCode"`
	ErrorType apperror.Type `json:"errorType"`
	DelayMs   int64         `json:"delayMs"`
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor runs the remote calls of one action
type Executor struct {
	cfg    Config
	action string
	sleep  SleepFunc
	logger *logrus.Entry

	mu      sync.Mutex
	retries []RetryRecord
}

func NewExecutor(action string, cfg Config, logger *logrus.Entry) *Executor {
	return &Executor{
		cfg:    cfg.Clamped(),
		action: action,
		sleep:  sleepCtx,
		logger: logger,
	}
}

// WithSleep replaces the backoff wait, for tests
func (e *Executor) WithSleep(fn SleepFunc) *Executor {
	e.sleep = fn
	return e
}

func (e *Executor) Config() Config {
	return e.cfg
}

// Retries returns a copy of the retry records so far
func (e *Executor) Retries() []RetryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RetryRecord(nil), e.retries...)
}

// Delay is the backoff before retry number attempt (1-based)
func (e *Executor) Delay(attempt int) time.Duration {
	return e.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
}

func (e *Executor) record(r RetryRecord) {
	e.mu.Lock()
	e.retries = append(e.retries, r)
	e.mu.Unlock()
}

func (e *Executor) log() *logrus.Entry {
	if e.logger != nil {
		return e.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

type outcome[T any] struct {
	value T
	err   error
}

// Invoke runs task once for writes.  For reads each attempt is bounded by
// the read timeout and network-class failures are retried with exponential
// backoff.  The attempt context is cancelled when the timeout fires, so a
// task that honours its context aborts the underlying request.
func Invoke[T any](ctx context.Context, e *Executor, class Class, operation string, task func(context.Context) (T, error)) (T, error) {
	if class == Write {
		return task(ctx)
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := attemptWithTimeout(ctx, e.cfg.ReadTimeout, operation, task)
		if err == nil {
			return v, nil
		}

		if ctx.Err() != nil || attempt > e.cfg.RetryCount || !apperror.IsNetwork(err) {
			return zero, err
		}

		delay := e.Delay(attempt)
		detail := apperror.Normalize(err)
		e.record(RetryRecord{
			Action:    e.action,
			Operation: operation,
			Attempt:   attempt,
			ErrorCode: detail.Code,
			ErrorType: detail.Type,
			DelayMs:   delay.Milliseconds(),
		})
		e.log().WithError(err).Warnf("%s: attempt %d failed, retrying in %s", operation, attempt, delay)

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func attemptWithTimeout[T any](ctx context.Context, timeout time.Duration, operation string, task func(context.Context) (T, error)) (T, error) {
	var zero T

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[T]{err: apperror.New(apperror.CodeUnexpected, "%s panicked: %v", operation, p)}
			}
		}()

		v, err := task(actx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && actx.Err() == context.DeadlineExceeded {
			return zero, timeoutError(operation, timeout, o.err)
		}
		return o.value, o.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, timeoutError(operation, timeout, actx.Err())
	}
}

func timeoutError(operation string, timeout time.Duration, cause error) error {
	return apperror.Wrap(cause, apperror.CodeReadTimeout, "%s did not complete within %dms", operation, timeout.Milliseconds())
}
