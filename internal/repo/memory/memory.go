package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/repo"
)

// maxPerService bounds the observations kept per service.
const maxPerService = 1000

type Store struct {
	mu     sync.RWMutex
	obs    map[string][]domain.Observation
	states map[string]repo.StateRecord
}

func New() *Store {
	return &Store{
		obs:    make(map[string][]domain.Observation),
		states: make(map[string]repo.StateRecord),
	}
}

// ---- ObservationStore ----

func (m *Store) Append(ctx context.Context, o domain.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := append(m.obs[o.ServiceURI], o)
	if len(rows) > maxPerService {
		rows = rows[len(rows)-maxPerService:]
	}
	m.obs[o.ServiceURI] = rows
	return nil
}

func (m *Store) History(ctx context.Context, uri string, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = repo.DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.obs[uri]
	out := make([]domain.Observation, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (m *Store) Latest(ctx context.Context) ([]domain.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Observation, 0, len(m.obs))
	for _, rows := range m.obs {
		if len(rows) > 0 {
			out = append(out, rows[len(rows)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceURI < out[j].ServiceURI })
	return out, nil
}

// ---- StateStore ----

func (m *Store) Get(ctx context.Context, uri string) (*repo.StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.states[uri]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Store) Set(ctx context.Context, rec repo.StateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[rec.ServiceURI] = rec
	return nil
}

func (m *Store) List(ctx context.Context) ([]repo.StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]repo.StateRecord, 0, len(m.states))
	for _, r := range m.states {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceURI < out[j].ServiceURI })
	return out, nil
}
