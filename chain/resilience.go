package chain

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"go.uber.org/zap"
)

type ResilienceConfig struct {
	MaxRetries     int           // default: 3
	InitialBackoff time.Duration // default: 200ms
	MaxBackoff     time.Duration // default: 5s
	RequestTimeout time.Duration // default: 30s
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// newReadExecutor builds the policy chain for read-only RPC calls:
// Retry -> Timeout. Writes are never retried here since a resend could
// duplicate a transaction.
func newReadExecutor(cfg ResilienceConfig, lggr *zap.SugaredLogger) failsafe.Executor[any] {
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff).
		OnRetry(func(event failsafe.ExecutionEvent[any]) {
			lggr.Debugw("Retrying read", "attempt", event.Attempts(), "error", event.LastError())
		}).
		Build()
	timeoutPolicy := timeout.NewBuilder[any](cfg.RequestTimeout).
		OnTimeoutExceeded(func(event failsafe.ExecutionDoneEvent[any]) {
			lggr.Warnw("Read timeout exceeded", "timeout", cfg.RequestTimeout)
		}).
		Build()
	return failsafe.With[any](retry, timeoutPolicy)
}
