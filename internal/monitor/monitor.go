// Package monitor runs the connect, probe, classify, report cycle for one
// service and builds monitors from service URIs.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/probe"
)

var (
	ErrProbeInFlight = errors.New("probe already in flight")
	ErrStopped       = errors.New("monitor stopped")
)

// Dialer opens the connection a probe runs over. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Stage int32

const (
	StageIdle Stage = iota
	StageConnecting
	StageProbing
	StageClassifying
	StageReported
)

func (s Stage) String() string {
	switch s {
	case StageConnecting:
		return "connecting"
	case StageProbing:
		return "probing"
	case StageClassifying:
		return "classifying"
	case StageReported:
		return "reported"
	}
	return "idle"
}

// watchdogGrace is how long past the probe timeout a monitor waits for the
// adapter before reporting a timeout itself.
var watchdogGrace = 2 * time.Second

// Monitor owns one service URI. At most one attempt runs at a time.
type Monitor struct {
	uri      domain.ServiceURI
	interval time.Duration
	adapter  probe.Adapter
	sink     domain.ObservationSink
	dialer   Dialer
	log      *zap.Logger
	now      func() time.Time

	inflight atomic.Bool
	stopped  atomic.Bool
	stage    atomic.Int32

	mu      sync.Mutex
	current *attempt
	last    *domain.Outcome
}

func newMonitor(uri domain.ServiceURI, interval time.Duration, a probe.Adapter, sink domain.ObservationSink, d Dialer, log *zap.Logger) *Monitor {
	return &Monitor{
		uri:      uri,
		interval: interval,
		adapter:  a,
		sink:     sink,
		dialer:   d,
		log:      log.With(zap.String("service", uri.Raw), zap.String("type", string(uri.Type))),
		now:      time.Now,
	}
}

func (m *Monitor) URI() domain.ServiceURI { return m.uri }
func (m *Monitor) Type() domain.ServiceType { return m.adapter.Type() }
func (m *Monitor) Interval() time.Duration { return m.interval }
func (m *Monitor) Params() probe.Params { return m.adapter.Params() }
func (m *Monitor) Stage() Stage { return Stage(m.stage.Load()) }
func (m *Monitor) Adapter() probe.Adapter { return m.adapter }
func (m *Monitor) setStage(s Stage) { m.stage.Store(int32(s)) }
func (m *Monitor) Stopped() bool { return m.stopped.Load() }
func (m *Monitor) InFlight() bool { return m.inflight.Load() }

// LastOutcome returns the most recently reported outcome, if any.
func (m *Monitor) LastOutcome() (domain.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return domain.Outcome{}, false
	}
	return *m.last, true
}

// Run performs one probe attempt and reports its outcome to the sink. Probe
// failures become outcomes; Run only returns an error when no attempt was
// made or the attempt was abandoned because ctx ended.
func (m *Monitor) Run(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if !m.inflight.CompareAndSwap(false, true) {
		return ErrProbeInFlight
	}
	defer m.inflight.Store(false)

	a := &attempt{h: reportingHandler{m}}
	m.mu.Lock()
	m.current = a
	m.mu.Unlock()
	if m.stopped.Load() {
		a.detach(m.log)
	}
	defer func() {
		m.mu.Lock()
		if m.current == a {
			m.current = nil
		}
		m.mu.Unlock()
	}()

	p := m.adapter.Params()
	start := time.Now()

	m.setStage(StageConnecting)
	dctx, cancel := context.WithTimeout(ctx, p.Timeout)
	conn, err := m.dialer.DialContext(dctx, "tcp", p.Address())
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			a.detach(m.log)
			m.setStage(StageIdle)
			return ctx.Err()
		}
		m.deliver(ctx, a, m.connectFailure(ctx, p, err), start)
		return nil
	}

	m.setStage(StageProbing)
	_ = conn.SetDeadline(time.Now().Add(p.Timeout))
	pctx, pcancel := context.WithCancel(ctx)
	defer pcancel()

	type result struct {
		resp *probe.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := m.adapter.Probe(pctx, conn)
		done <- result{resp, err}
	}()

	watchdog := time.NewTimer(p.Timeout + watchdogGrace)
	defer watchdog.Stop()

	var res result
	select {
	case res = <-done:
	case <-watchdog.C:
		m.deliver(ctx, a, domain.Failure(domain.ReasonTimeout, fmt.Sprintf("no answer within %s", p.Timeout)), start)
		pcancel()
		_ = conn.Close()
		res = <-done
		// Lands on the null handler.
		a.deliver(ctx, m.adapter.Classify(res.resp, res.err))
		return nil
	case <-ctx.Done():
		a.detach(m.log)
		pcancel()
		_ = conn.Close()
		<-done
		m.setStage(StageIdle)
		return ctx.Err()
	}
	_ = conn.Close()

	if errors.Is(res.err, domain.ErrProbeDeferred) {
		a.detach(m.log)
		m.setStage(StageIdle)
		m.log.Info("probe_deferred", zap.Error(res.err))
		return nil
	}

	m.setStage(StageClassifying)
	m.deliver(ctx, a, m.adapter.Classify(res.resp, res.err), start)
	return nil
}

func (m *Monitor) deliver(ctx context.Context, a *attempt, o domain.Outcome, start time.Time) {
	o.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	a.deliver(ctx, o)
}

func (m *Monitor) connectFailure(ctx context.Context, p probe.Params, err error) domain.Outcome {
	var o domain.Outcome
	if cf, ok := m.adapter.(probe.ConnectFailureClassifier); ok {
		o = cf.ClassifyConnectFailure(err)
	} else {
		o = domain.Failure(domain.ReasonConnectionFailed, err.Error())
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		o.Message = probe.DescribeDialError(ctx, p.Host, err)
	}
	return o
}

// report is the live handler's end of an attempt.
func (m *Monitor) report(ctx context.Context, o domain.Outcome) {
	m.mu.Lock()
	m.last = &o
	m.mu.Unlock()
	m.setStage(StageReported)

	obs := domain.Observation{
		ServiceURI: m.uri.Raw,
		Type:       m.uri.Type,
		ObservedAt: m.now().UTC(),
		Outcome:    o,
	}
	if err := m.sink.Record(ctx, obs); err != nil {
		m.log.Warn("observation_record_error", zap.Error(err))
	}
	m.log.Debug("probe_reported",
		zap.String("kind", string(o.Kind)),
		zap.String("reason", string(o.Reason)),
		zap.Int("status", o.Payload.StatusCode),
		zap.Float64("latency_ms", o.LatencyMS),
		zap.String("message", o.Message),
	)
}

// Stop detaches the running attempt, if any, and refuses further runs.
func (m *Monitor) Stop() {
	m.stopped.Store(true)
	m.mu.Lock()
	a := m.current
	m.mu.Unlock()
	if a != nil {
		a.detach(m.log)
	}
}
