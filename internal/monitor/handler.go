package monitor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/domain"
)

type handler interface {
	handle(ctx context.Context, o domain.Outcome)
}

type reportingHandler struct{ m *Monitor }

func (h reportingHandler) handle(ctx context.Context, o domain.Outcome) { h.m.report(ctx, o) }

// nullHandler absorbs whatever an attempt delivers after it has reported or
// been detached.
type nullHandler struct{ log *zap.Logger }

func (h nullHandler) handle(_ context.Context, o domain.Outcome) {
	h.log.Debug("late_outcome_absorbed",
		zap.String("kind", string(o.Kind)),
		zap.String("reason", string(o.Reason)),
	)
}

// attempt routes exactly one outcome to its handler. The first delivery swaps
// the handler for a nullHandler.
type attempt struct {
	mu sync.Mutex
	h  handler
}

func (a *attempt) deliver(ctx context.Context, o domain.Outcome) {
	a.mu.Lock()
	h := a.h
	if rh, ok := h.(reportingHandler); ok {
		a.h = nullHandler{log: rh.m.log}
	}
	a.mu.Unlock()
	h.handle(ctx, o)
}

func (a *attempt) detach(log *zap.Logger) {
	a.mu.Lock()
	a.h = nullHandler{log: log}
	a.mu.Unlock()
}
