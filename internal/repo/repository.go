package repo

import (
	"context"
	"time"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// Ports (interfaces). Swap in any DB adapter.
type ObservationStore interface {
	Append(ctx context.Context, obs domain.Observation) error
	// History returns up to limit observations for uri, newest first.
	History(ctx context.Context, uri string, limit int) ([]domain.Observation, error)
	// Latest returns the newest observation of every service.
	Latest(ctx context.Context) ([]domain.Observation, error)
}

// StateRecord is the last status recorded for a service and when it began.
type StateRecord struct {
	ServiceURI string        `json:"service_uri"`
	Status     domain.Status `json:"status"`
	Since      time.Time     `json:"since"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type StateStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, uri string) (*StateRecord, error)
	// Set upserts the record.
	Set(ctx context.Context, rec StateRecord) error
	List(ctx context.Context) ([]StateRecord, error)
}

// DefaultHistoryLimit caps History when the caller passes limit <= 0.
const DefaultHistoryLimit = 100
