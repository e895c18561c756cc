package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/repo"
)

var _ repo.ObservationStore = (*Store)(nil)
var _ repo.StateStore = (*Store)(nil)

// Schema creates the tables the store needs. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS observations (
  id          BIGSERIAL PRIMARY KEY,
  service_uri TEXT NOT NULL,
  type        TEXT NOT NULL,
  kind        TEXT NOT NULL,
  reason      TEXT NOT NULL DEFAULT '',
  status_code INTEGER NULL,
  output      TEXT NOT NULL DEFAULT '',
  message     TEXT NOT NULL DEFAULT '',
  latency_ms  DOUBLE PRECISION NOT NULL,
  observed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_service_time ON observations (service_uri, observed_at DESC);

CREATE TABLE IF NOT EXISTS service_states (
  service_uri TEXT PRIMARY KEY,
  status      TEXT NOT NULL,
  since       TIMESTAMPTZ NOT NULL,
  updated_at  TIMESTAMPTZ NOT NULL
);
`

const connectAttempts = 5

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New opens a pool and waits for the database to answer, retrying with
// backoff while it starts up.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pctx)
		cancel()
		if err == nil {
			break
		}
		if int(b.Attempt())+1 >= connectAttempts {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		wait := b.Duration()
		log.Warn("postgres_ping_retry", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies Schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- ObservationStore ----

func (s *Store) Append(ctx context.Context, o domain.Observation) error {
	var status *int
	if o.Outcome.Payload.StatusCode != 0 {
		v := o.Outcome.Payload.StatusCode
		status = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations
		   (service_uri, type, kind, reason, status_code, output, message, latency_ms, observed_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ServiceURI, string(o.Type), string(o.Outcome.Kind), string(o.Outcome.Reason), status,
		o.Outcome.Payload.Output, o.Outcome.Message, o.Outcome.LatencyMS, o.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

const observationColumns = `service_uri, type, kind, reason, status_code, output, message, latency_ms, observed_at`

func (s *Store) History(ctx context.Context, uri string, limit int) ([]domain.Observation, error) {
	if limit <= 0 {
		limit = repo.DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+observationColumns+`
		   FROM observations
		  WHERE service_uri = $1
		  ORDER BY observed_at DESC, id DESC
		  LIMIT $2`, uri, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return collectObservations(rows)
}

func (s *Store) Latest(ctx context.Context) ([]domain.Observation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (service_uri) `+observationColumns+`
  FROM observations
 ORDER BY service_uri, observed_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest: %w", err)
	}
	return collectObservations(rows)
}

func collectObservations(rows pgx.Rows) ([]domain.Observation, error) {
	defer rows.Close()
	var out []domain.Observation
	for rows.Next() {
		var (
			o      domain.Observation
			typ    string
			kind   string
			reason string
			status *int
		)
		if err := rows.Scan(&o.ServiceURI, &typ, &kind, &reason, &status,
			&o.Outcome.Payload.Output, &o.Outcome.Message, &o.Outcome.LatencyMS, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Type = domain.ServiceType(typ)
		o.Outcome.Kind = domain.OutcomeKind(kind)
		o.Outcome.Reason = domain.Reason(reason)
		if status != nil {
			o.Outcome.Payload.StatusCode = *status
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- StateStore ----

func (s *Store) Get(ctx context.Context, uri string) (*repo.StateRecord, error) {
	const q = `SELECT status, since, updated_at FROM service_states WHERE service_uri=$1`
	r := repo.StateRecord{ServiceURI: uri}
	var status string
	err := s.pool.QueryRow(ctx, q, uri).Scan(&status, &r.Since, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get state: %w", err)
	}
	r.Status = domain.Status(status)
	return &r, nil
}

func (s *Store) Set(ctx context.Context, rec repo.StateRecord) error {
	const q = `
		INSERT INTO service_states (service_uri, status, since, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (service_uri)
		DO UPDATE SET status=EXCLUDED.status, since=EXCLUDED.since, updated_at=EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, q, rec.ServiceURI, string(rec.Status), rec.Since, rec.UpdatedAt); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]repo.StateRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT service_uri, status, since, updated_at FROM service_states ORDER BY service_uri`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()
	var out []repo.StateRecord
	for rows.Next() {
		var (
			r      repo.StateRecord
			status string
		)
		if err := rows.Scan(&r.ServiceURI, &status, &r.Since, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		r.Status = domain.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
