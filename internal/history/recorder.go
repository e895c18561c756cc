// Package history stores observations and tracks each service's coarse
// ok/warn/error state.
package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/repo"
)

// Recorder is the ObservationSink monitors report to.
type Recorder struct {
	observations repo.ObservationStore
	states       repo.StateStore
	log          *zap.Logger
}

func NewRecorder(observations repo.ObservationStore, states repo.StateStore, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{observations: observations, states: states, log: log}
}

var _ domain.ObservationSink = (*Recorder)(nil)

// Record appends the observation and updates the service state. A status
// change is logged as a transition.
func (r *Recorder) Record(ctx context.Context, o domain.Observation) error {
	if err := r.observations.Append(ctx, o); err != nil {
		return fmt.Errorf("append observation: %w", err)
	}

	status := o.Outcome.Status()
	prev, err := r.states.Get(ctx, o.ServiceURI)
	if err != nil {
		return fmt.Errorf("get state: %w", err)
	}
	changed := prev == nil || prev.Status != status

	next := repo.StateRecord{
		ServiceURI: o.ServiceURI,
		Status:     status,
		Since:      o.ObservedAt,
		UpdatedAt:  o.ObservedAt,
	}
	if !changed {
		next.Since = prev.Since
	}
	if err := r.states.Set(ctx, next); err != nil {
		return fmt.Errorf("set state: %w", err)
	}

	if changed {
		from := "none"
		if prev != nil {
			from = string(prev.Status)
		}
		r.log.Info("state_transition",
			zap.String("service", o.ServiceURI),
			zap.String("from", from),
			zap.String("to", string(status)),
			zap.String("reason", string(o.Outcome.Reason)),
			zap.String("message", o.Outcome.Message),
		)
	}
	return nil
}
