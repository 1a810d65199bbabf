package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FallbackAdapter attempts a primary adapter first and falls back on error,
// or when the primary produces no delta before the first-delta timeout.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

var fallbackFirstDeltaTimeout = 900 * time.Millisecond

func NewFallbackAdapter(primary Adapter, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{
		primary:  primary,
		fallback: fallback,
	}
}

func (a *FallbackAdapter) StreamTurn(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.StreamTurn(ctx, req, onDelta)
		}
		return TurnResponse{}, fmt.Errorf("fallback adapter misconfigured")
	}
	if a.fallback == nil || fallbackFirstDeltaTimeout <= 0 {
		return a.runWithoutTimeout(ctx, req, onDelta)
	}

	type result struct {
		resp TurnResponse
		err  error
	}

	primaryCtx, cancelPrimary := context.WithCancel(ctx)
	defer cancelPrimary()

	firstDeltaCh := make(chan struct{})
	var firstDeltaOnce sync.Once
	var acceptPrimaryDeltas atomic.Bool
	acceptPrimaryDeltas.Store(true)
	var deltaDelivered atomic.Bool
	primaryResultCh := make(chan result, 1)

	go func() {
		resp, err := a.primary.StreamTurn(primaryCtx, req, func(delta string) error {
			if strings.TrimSpace(delta) != "" {
				firstDeltaOnce.Do(func() {
					close(firstDeltaCh)
				})
			}
			if !acceptPrimaryDeltas.Load() {
				return context.Canceled
			}
			if strings.TrimSpace(delta) != "" {
				deltaDelivered.Store(true)
			}
			if onDelta == nil {
				return nil
			}
			return onDelta(delta)
		})
		primaryResultCh <- result{resp: resp, err: err}
	}()

	var (
		primary  result
		timedOut bool
	)

	timer := time.NewTimer(fallbackFirstDeltaTimeout)
	defer timer.Stop()
	select {
	case primary = <-primaryResultCh:
	case <-firstDeltaCh:
		primary = <-primaryResultCh
	case <-timer.C:
		acceptPrimaryDeltas.Store(false)
		cancelPrimary()
		timedOut = true
		select {
		case primary = <-primaryResultCh:
		case <-time.After(200 * time.Millisecond):
		}
	}

	if primary.err == nil && !timedOut {
		return primary.resp, nil
	}
	if !timedOut && (errors.Is(primary.err, context.Canceled) || errors.Is(primary.err, context.DeadlineExceeded)) {
		return TurnResponse{}, primary.err
	}
	if !timedOut && deltaDelivered.Load() {
		// The client already saw text from the primary. Re-running the turn
		// through the fallback would stream the same answer a second time.
		return TurnResponse{}, primary.err
	}

	fallbackResp, fallbackErr := a.fallback.StreamTurn(ctx, req, onDelta)
	if fallbackErr != nil {
		if timedOut {
			return TurnResponse{}, fmt.Errorf("primary adapter timeout before first delta (%s); fallback adapter error: %v", fallbackFirstDeltaTimeout, fallbackErr)
		}
		return TurnResponse{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", primary.err, fallbackErr)
	}
	return fallbackResp, nil
}

func (a *FallbackAdapter) runWithoutTimeout(ctx context.Context, req TurnRequest, onDelta DeltaHandler) (TurnResponse, error) {
	deltaDelivered := false
	resp, err := a.primary.StreamTurn(ctx, req, func(delta string) error {
		if strings.TrimSpace(delta) != "" {
			deltaDelivered = true
		}
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return TurnResponse{}, err
	}
	if a.fallback == nil || deltaDelivered {
		return TurnResponse{}, err
	}
	fallbackResp, fallbackErr := a.fallback.StreamTurn(ctx, req, onDelta)
	if fallbackErr != nil {
		return TurnResponse{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
