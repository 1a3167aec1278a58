package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryer_SucceedsFirstTry(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetriesTransientThenSucceeds(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	v, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &llm.Error{Code: llm.ErrUpstreamError, Retryable: true}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetryer_CeilingBecomesTerminal(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	upstream := &llm.Error{Code: llm.ErrRateLimited, Retryable: true}
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return upstream
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
	assert.Equal(t, types.ErrCapability, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	assert.ErrorIs(t, err, upstream)
}

func TestRetryer_TerminalErrorNotRetried(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	terminal := &llm.Error{Code: llm.ErrUnauthorized, Retryable: false}
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, terminal)
	assert.Empty(t, types.GetErrorCode(err))
}

func TestRetryer_CustomClassifier(t *testing.T) {
	stop := errors.New("stop")
	p := fastPolicy(5)
	p.Classify = func(err error) bool { return !errors.Is(err, stop) }
	r := NewRetryer(p, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return stop
		}
		return errors.New("again")
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestRetryer_ContextCancelledDuringBackoff(t *testing.T) {
	p := fastPolicy(3)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := NewRetryer(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Do(ctx, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := NewRetryer(p, zap.NewNop())

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("transient")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryer_Delay(t *testing.T) {
	r := NewRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}, nil)

	assert.Equal(t, time.Duration(0), r.Delay(0))
	assert.Equal(t, 100*time.Millisecond, r.Delay(1))
	assert.Equal(t, 200*time.Millisecond, r.Delay(2))
	assert.Equal(t, 400*time.Millisecond, r.Delay(3))
	assert.Equal(t, 500*time.Millisecond, r.Delay(4), "capped at MaxDelay")
}

func TestRetryer_DelayJitterBounds(t *testing.T) {
	r := NewRetryer(&RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, nil)

	for i := 0; i < 100; i++ {
		d := r.Delay(3)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestNewRetryer_Normalizes(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxRetries: -1, Multiplier: 0.5}, nil)
	p := r.Policy()

	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay)
	assert.NotNil(t, p.Classify)

	def := NewRetryer(nil, nil).Policy()
	assert.Equal(t, 3, def.MaxRetries)
}
