package cognition

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{Timeout: time.Second, TickBudget: time.Second, MaxInFlight: 4}
}

func finished(t *testing.T, call *Call) (Decision, error) {
	t.Helper()
	select {
	case <-call.Wait():
	case <-time.After(5 * time.Second):
		t.Fatal("call never finished")
	}
	return call.Result()
}

func TestDispatchWithoutReasoner(t *testing.T) {
	c := NewClient(nil, testConfig(), nil)
	assert.False(t, c.Enabled())

	call := c.Dispatch(context.Background(), Request{Task: TaskRespondDialogue})
	require.True(t, call.Done(), "unavailable calls finish immediately")
	_, err := call.Result()
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.NotEmpty(t, call.Request.ID)
	assert.Equal(t, Schemas[TaskRespondDialogue], call.Request.Schema)
}

func TestDispatchSuccess(t *testing.T) {
	c := NewClient(ReasonerFunc(func(ctx context.Context, req Request) (Decision, error) {
		return Decision{Utterance: "hello", Sentiment: 3}, nil
	}), testConfig(), nil)

	call := c.Dispatch(context.Background(), Request{Task: TaskPropose})
	c.Await(context.Background(), call)
	d, err := finished(t, call)
	require.NoError(t, err)
	assert.Equal(t, "hello", d.Utterance)
	assert.Equal(t, 1.0, d.Sentiment, "sentiment is clamped")
}

func TestFailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		reasoner ReasonerFunc
		timeout  time.Duration
		cancel   bool
		want     error
	}{
		{
			name: "service error",
			reasoner: func(ctx context.Context, req Request) (Decision, error) {
				return Decision{}, errors.New("boom")
			},
			want: ErrServiceError,
		},
		{
			name: "panic is contained",
			reasoner: func(ctx context.Context, req Request) (Decision, error) {
				panic("reasoner exploded")
			},
			want: ErrServiceError,
		},
		{
			name: "timeout",
			reasoner: func(ctx context.Context, req Request) (Decision, error) {
				<-ctx.Done()
				return Decision{}, ctx.Err()
			},
			timeout: 20 * time.Millisecond,
			want:    ErrServiceTimeout,
		},
		{
			name: "cancelled call is stale",
			reasoner: func(ctx context.Context, req Request) (Decision, error) {
				<-ctx.Done()
				return Decision{}, ctx.Err()
			},
			cancel: true,
			want:   ErrStaleResult,
		},
		{
			name: "unavailable passes through",
			reasoner: func(ctx context.Context, req Request) (Decision, error) {
				return Decision{}, ErrServiceUnavailable
			},
			want: ErrServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.timeout > 0 {
				cfg.Timeout = tt.timeout
			}
			c := NewClient(tt.reasoner, cfg, nil)
			call := c.Dispatch(context.Background(), Request{Task: TaskCrisisResponse})
			if tt.cancel {
				call.Cancel()
			}
			_, err := finished(t, call)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestAwaitRespectsTickBudget(t *testing.T) {
	release := make(chan struct{})
	c := NewClient(ReasonerFunc(func(ctx context.Context, req Request) (Decision, error) {
		<-release
		return Decision{Accept: true}, nil
	}), Config{Timeout: 5 * time.Second, TickBudget: 20 * time.Millisecond, MaxInFlight: 2}, nil)

	call := c.Dispatch(context.Background(), Request{Task: TaskRespondProposal})
	start := time.Now()
	c.Await(context.Background(), call)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err := call.Result()
	assert.True(t, errors.Is(err, ErrInFlight))
	assert.Equal(t, int64(1), c.InFlight())

	close(release)
	d, err := finished(t, call)
	require.NoError(t, err)
	assert.True(t, d.Accept)
}

func TestMaxInFlightBound(t *testing.T) {
	var running, peak atomic.Int64
	release := make(chan struct{})
	c := NewClient(ReasonerFunc(func(ctx context.Context, req Request) (Decision, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return Decision{}, nil
	}), Config{Timeout: 5 * time.Second, TickBudget: 50 * time.Millisecond, MaxInFlight: 2}, nil)

	var calls []*Call
	for i := 0; i < 5; i++ {
		calls = append(calls, c.Dispatch(context.Background(), Request{Task: TaskPropose}))
	}
	c.Await(context.Background(), calls...)
	close(release)
	for _, call := range calls {
		_, err := finished(t, call)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Timeout: 0, MaxInFlight: 1}.Validate())
	assert.Error(t, Config{Timeout: time.Second}.Validate())
}
