package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/monitor"
)

var ErrAlreadyScheduled = errors.New("monitor already scheduled")

type entry struct {
	id cron.EntryID
	m  *monitor.Monitor
}

// Scheduler fires each registered monitor on its own interval. A firing that
// finds the previous probe still running is skipped, not queued.
type Scheduler struct {
	log         *zap.Logger
	cron        *cron.Cron
	concurrency int

	mu      sync.RWMutex
	entries map[string]entry
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(logger *zap.Logger, concurrency int) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log: logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		concurrency: concurrency,
		entries:     make(map[string]entry),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins firing monitors. Probes run under a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("scheduler_started", zap.Int("monitors", s.Len()))
}

// Stop halts firing and waits for running probes to return.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler_stopped")
}

func (s *Scheduler) Register(m *monitor.Monitor) error {
	uri := m.URI().Raw
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[uri]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, uri)
	}
	schedule := fmt.Sprintf("@every %ds", int(m.Interval()/time.Second))
	id, err := s.cron.AddFunc(schedule, func() { s.fire(m) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", uri, err)
	}
	s.entries[uri] = entry{id: id, m: m}
	s.log.Info("monitor_registered",
		zap.String("service", uri),
		zap.Duration("interval", m.Interval()),
	)
	return nil
}

// Unregister removes the monitor and stops it; an in-flight outcome is
// discarded. It reports whether the URI was scheduled.
func (s *Scheduler) Unregister(uri string) bool {
	s.mu.Lock()
	e, ok := s.entries[uri]
	if ok {
		s.cron.Remove(e.id)
		delete(s.entries, uri)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.m.Stop()
	s.log.Info("monitor_unregistered", zap.String("service", uri))
	return true
}

func (s *Scheduler) Lookup(uri string) (*monitor.Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[uri]
	return e.m, ok
}

// Next reports when the monitor fires next; zero before Start.
func (s *Scheduler) Next(uri string) time.Time {
	s.mu.RLock()
	e, ok := s.entries[uri]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Monitors returns the registered monitors ordered by URI.
func (s *Scheduler) Monitors() []*monitor.Monitor {
	s.mu.RLock()
	out := make([]*monitor.Monitor, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.m)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URI().Raw < out[j].URI().Raw })
	return out
}

// RunAll probes every monitor once, at most concurrency at a time, and
// waits for them to report.
func (s *Scheduler) RunAll(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx)
	for _, m := range s.Monitors() {
		m := m
		p.Go(func(ctx context.Context) error {
			s.run(ctx, m)
			return nil
		})
	}
	return p.Wait()
}

func (s *Scheduler) fire(m *monitor.Monitor) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	s.run(ctx, m)
}

func (s *Scheduler) run(ctx context.Context, m *monitor.Monitor) {
	err := m.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrProbeInFlight):
		s.log.Debug("probe_skipped", zap.String("service", m.URI().Raw))
	case errors.Is(err, monitor.ErrStopped), ctx.Err() != nil:
	default:
		s.log.Warn("probe_run_error", zap.String("service", m.URI().Raw), zap.Error(err))
	}
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}
