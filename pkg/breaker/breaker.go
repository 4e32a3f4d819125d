package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed is the normal operating state. Calls pass through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single probe call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrCircuitOpen is returned without invoking the operation while the
	// breaker is open or a half-open probe is already in flight.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned when the operation does not finish within its
	// time budget. It also matches context.DeadlineExceeded.
	ErrTimeout = errors.New("operation timed out")
)

// Config holds the parameters for a breaker.
type Config struct {
	// Name identifies the breaker in logs, spans and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Defaults to 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is allowed.
	// Defaults to 60 seconds.
	Cooldown time.Duration

	// DefaultTimeout applies when a call passes a zero timeout. Defaults to
	// 5 seconds.
	DefaultTimeout time.Duration
}

// DefaultConfig returns the database breaker settings.
func DefaultConfig() Config {
	return Config{
		Name:             "database",
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		DefaultTimeout:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	return c
}

// Snapshot is a read-only view of the breaker used for health reporting.
type Snapshot struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	IsOpen          bool       `json:"isOpen"`
	FailureCount    int        `json:"failureCount"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
	OpenedAt        *time.Time `json:"openedAt,omitempty"`
}

// StateChangeFunc is invoked on every transition. It runs while the
// breaker's lock is held and must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// RejectFunc is invoked each time a call is refused with ErrCircuitOpen.
type RejectFunc func(name string)

// Breaker guards calls to a shared dependency (the database) with a
// per-call timeout and a closed/open/half-open state machine.
type Breaker struct {
	config Config

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	openedAt        time.Time

	onStateChange StateChangeFunc
	onReject      RejectFunc
	logger        logrus.FieldLogger
	tracer        trace.Tracer
	now           func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateChange registers a transition callback.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithReject registers a callback for rejected calls.
func WithReject(fn RejectFunc) Option {
	return func(b *Breaker) { b.onReject = fn }
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Breaker) { b.tracer = tracer }
}

// New creates a closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	b := &Breaker{
		config: cfg.withDefaults(),
		state:  StateClosed,
		logger: discard,
		tracer: otel.Tracer("github.com/platinummonkey/accessgate/pkg/breaker"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string {
	return b.config.Name
}

// Config returns the effective configuration.
func (b *Breaker) Config() Config {
	return b.config
}

// Execute runs op under the breaker. A zero timeout uses DefaultTimeout.
//
// While open it returns ErrCircuitOpen without invoking op. Once the
// cooldown has elapsed exactly one caller becomes the half-open probe;
// everyone else keeps getting ErrCircuitOpen until the probe finishes.
// If op does not return in time the call fails with ErrTimeout and counts
// as a failure. Cancellation of ctx by the caller is not counted.
func (b *Breaker) Execute(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	_, err := b.run(ctx, timeout, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return err
}

// Query runs op under b and returns its result.
func Query[T any](ctx context.Context, b *Breaker, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := b.run(ctx, timeout, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	result, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return result, nil
}

type outcome struct {
	value any
	err   error
}

func (b *Breaker) run(ctx context.Context, timeout time.Duration, op func(ctx context.Context) (any, error)) (any, error) {
	probe, err := b.acquire()
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = b.config.DefaultTimeout
	}

	ctx, span := b.tracer.Start(ctx, "db.query", trace.WithAttributes(
		attribute.String("breaker.name", b.config.Name),
		attribute.Bool("breaker.probe", probe),
		attribute.Int64("breaker.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic in guarded operation: %v", r)}
			}
		}()
		v, err := op(opCtx)
		done <- outcome{value: v, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-opCtx.Done():
		res = outcome{err: opCtx.Err()}
	}

	if res.err == nil {
		b.recordSuccess(probe)
		return res.value, nil
	}

	if ctx.Err() != nil && errors.Is(res.err, ctx.Err()) {
		// The caller went away; this says nothing about the dependency.
		b.release(probe)
		span.SetStatus(codes.Error, "canceled")
		return nil, ctx.Err()
	}

	if errors.Is(res.err, context.DeadlineExceeded) {
		res.err = fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, context.DeadlineExceeded)
	}

	b.recordFailure(probe)
	span.RecordError(res.err)
	span.SetStatus(codes.Error, res.err.Error())
	return nil, res.err
}

// acquire decides whether a call may proceed and whether it is the probe.
func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.Cooldown {
			b.transitionTo(StateHalfOpen)
			return true, nil
		}
	}

	if b.onReject != nil {
		b.onReject(b.config.Name)
	}
	return false, ErrCircuitOpen
}

func (b *Breaker) recordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.failures = 0
		b.transitionTo(StateClosed)
		return
	}
	if b.state == StateClosed {
		b.failures = 0
	}
}

func (b *Breaker) recordFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failures++
	b.lastFailureTime = now

	switch {
	case probe:
		b.openedAt = now
		b.transitionTo(StateOpen)
	case b.state == StateClosed && b.failures >= b.config.FailureThreshold:
		b.openedAt = now
		b.transitionTo(StateOpen)
	}
}

// release hands an abandoned probe slot back without restarting the cooldown.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.transitionTo(StateOpen)
	}
}

// transitionTo must be called with b.mu held.
func (b *Breaker) transitionTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	entry := b.logger.WithFields(logrus.Fields{
		"breaker":       b.config.Name,
		"from":          from.String(),
		"to":            to.String(),
		"failure_count": b.failures,
	})
	if to == StateOpen {
		entry.Warn("Circuit breaker opened")
	} else {
		entry.Info("Circuit breaker state changed")
	}

	if b.onStateChange != nil {
		b.onStateChange(b.config.Name, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state for reporting. It never mutates the
// breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:         b.config.Name,
		State:        b.state.String(),
		IsOpen:       b.state != StateClosed,
		FailureCount: b.failures,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		s.LastFailureTime = &t
	}
	if b.state != StateClosed && !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

// Reset closes the circuit and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailureTime = time.Time{}
	b.openedAt = time.Time{}
	b.transitionTo(StateClosed)
}
