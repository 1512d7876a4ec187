package cognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/telemetry"
)

// Config holds agent client policy.
type Config struct {
	Timeout     time.Duration `yaml:"timeout"`       // Per call
	TickBudget  time.Duration `yaml:"tick_budget"`   // How long a tick waits for its calls
	MaxInFlight int64         `yaml:"max_in_flight"` // Concurrent calls to the service
}

// DefaultConfig returns the standard client policy.
func DefaultConfig() Config {
	return Config{
		Timeout:     20 * time.Second,
		TickBudget:  2 * time.Second,
		MaxInFlight: 4,
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("cognition: timeout must be positive")
	}
	if c.TickBudget < 0 {
		return fmt.Errorf("cognition: tick_budget must not be negative")
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("cognition: max_in_flight must be at least 1")
	}
	return nil
}

// Call is an outstanding request. It completes exactly once.
type Call struct {
	Request Request
	Started time.Time

	done     chan struct{}
	decision Decision
	err      error
	cancel   context.CancelFunc
}

// Done reports whether the call has finished without blocking.
func (c *Call) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait returns a channel closed when the call finishes.
func (c *Call) Wait() <-chan struct{} {
	return c.done
}

// Result returns the decision or a *Failure. Before completion it returns
// ErrInFlight.
func (c *Call) Result() (Decision, error) {
	if !c.Done() {
		return Decision{}, ErrInFlight
	}
	return c.decision, c.err
}

// Cancel abandons the call. Its result becomes a stale failure unless it had
// already finished.
func (c *Call) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Call) finish(d Decision, err error) {
	c.decision = d
	c.err = err
	close(c.done)
}

// Client dispatches requests to a reasoner with timeouts and bounded
// concurrency. A nil reasoner makes every call fail as unavailable.
type Client struct {
	reasoner Reasoner
	cfg      Config
	sem      *semaphore.Weighted
	log      *slog.Logger

	inFlight atomic.Int64

	tracer   trace.Tracer
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// NewClient creates an agent client.
func NewClient(r Reasoner, cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	meter := telemetry.Meter(telemetry.ScopeCognition)
	dur, _ := meter.Float64Histogram("walk.agent_client.duration",
		metric.WithDescription("Time for a reasoning service decision (ms)"),
		metric.WithUnit("ms"),
	)
	fails, _ := meter.Int64Counter("walk.agent_client.failures",
		metric.WithDescription("Reasoning service calls that fell back"),
	)
	return &Client{
		reasoner: r,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		log:      log,
		tracer:   telemetry.Tracer(telemetry.ScopeCognition),
		duration: dur,
		failures: fails,
	}
}

// Enabled reports whether a reasoner is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.reasoner != nil
}

// InFlight returns the number of calls not yet finished.
func (c *Client) InFlight() int64 {
	return c.inFlight.Load()
}

// TickBudget returns how long a tick waits for its calls.
func (c *Client) TickBudget() time.Duration {
	return c.cfg.TickBudget
}

// Dispatch starts a call and returns immediately. The call is cancelled when
// ctx is.
func (c *Client) Dispatch(ctx context.Context, req Request) *Call {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Schema == "" {
		req.Schema = Schemas[req.Task]
	}
	call := &Call{Request: req, Started: time.Now(), done: make(chan struct{})}

	if !c.Enabled() {
		call.finish(Decision{}, fail(ErrServiceUnavailable, req.Task, nil))
		return call
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	call.cancel = cancel
	c.inFlight.Add(1)

	go func() {
		defer c.inFlight.Add(-1)
		defer cancel()
		d, err := c.run(callCtx, req)
		call.finish(d, err)
	}()
	return call
}

func (c *Client) run(ctx context.Context, req Request) (d Decision, err error) {
	ctx, span := c.tracer.Start(ctx, "agent_client "+string(req.Task),
		trace.WithAttributes(
			attribute.String("walk.request_id", req.ID),
			attribute.String("walk.ticket", req.Ticket.String()),
		),
	)
	start := time.Now()
	defer func() {
		elapsed := float64(time.Since(start).Microseconds()) / 1000
		task := attribute.String("task", string(req.Task))
		c.duration.Record(context.Background(), elapsed, metric.WithAttributes(task))
		if err != nil {
			kind := "unknown"
			if k := KindOf(err); k != nil {
				kind = k.Error()
			}
			c.failures.Add(context.Background(), 1, metric.WithAttributes(task, attribute.String("kind", kind)))
			span.SetStatus(codes.Error, err.Error())
			c.log.Debug("agent client call failed", "task", req.Task, "ticket", req.Ticket.String(), "error", err)
		}
		span.End()
	}()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Decision{}, classify(ctx, req.Task, err)
	}
	defer c.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d = Decision{}
			err = fail(ErrServiceError, req.Task, fmt.Errorf("reasoner panic: %v", r))
		}
	}()

	d, err = c.reasoner.Decide(ctx, req)
	if err != nil {
		return Decision{}, classify(ctx, req.Task, err)
	}
	if ctx.Err() != nil {
		return Decision{}, classify(ctx, req.Task, ctx.Err())
	}
	d.Sentiment = clampUnit(d.Sentiment)
	return d, nil
}

// classify maps a raw error to a typed failure.
func classify(ctx context.Context, task Task, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fail(ErrServiceTimeout, task, err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return fail(ErrStaleResult, task, err)
	case errors.Is(err, ErrServiceUnavailable):
		return fail(ErrServiceUnavailable, task, err)
	default:
		return fail(ErrServiceError, task, err)
	}
}

// Await blocks until every call has finished, the tick budget runs out, or
// ctx is done. Calls still running stay in flight for a later tick.
func (c *Client) Await(ctx context.Context, calls ...*Call) {
	if len(calls) == 0 {
		return
	}
	timer := time.NewTimer(c.cfg.TickBudget)
	defer timer.Stop()
	for _, call := range calls {
		if call == nil {
			continue
		}
		select {
		case <-call.done:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
