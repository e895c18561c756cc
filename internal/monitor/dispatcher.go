package monitor

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/probe"
)

// Source supplies the settings a monitor is built from. *config.Registry
// implements it.
type Source interface {
	Service(uri domain.ServiceURI) (config.ServiceConfig, bool)
	Defaults(t domain.ServiceType) (config.TypeDefaults, bool)
	UserAgent() string
	Relay() config.RelayConfig
}

type Dispatcher struct {
	src    Source
	sink   domain.ObservationSink
	dialer Dialer
	log    *zap.Logger
}

func NewDispatcher(src Source, sink domain.ObservationSink, dialer Dialer, log *zap.Logger) *Dispatcher {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{src: src, sink: sink, dialer: dialer, log: log}
}

type constructor func(probe.Settings, *zap.Logger) (probe.Adapter, error)

// adapterFor is the one place a service type is matched to its adapter.
func adapterFor(t domain.ServiceType) (constructor, error) {
	switch t {
	case domain.TypePing:
		return func(s probe.Settings, log *zap.Logger) (probe.Adapter, error) {
			return wrap[*probe.Ping](probe.NewPing(s, log))
		}, nil
	case domain.TypeHTTPStatus:
		return func(s probe.Settings, _ *zap.Logger) (probe.Adapter, error) {
			return wrap[*probe.HTTPStatus](probe.NewHTTPStatus(s))
		}, nil
	case domain.TypeHTTPText:
		return func(s probe.Settings, _ *zap.Logger) (probe.Adapter, error) {
			return wrap[*probe.HTTPText](probe.NewHTTPText(s))
		}, nil
	case domain.TypeFTP:
		return func(s probe.Settings, _ *zap.Logger) (probe.Adapter, error) {
			return wrap[*probe.FTP](probe.NewFTP(s))
		}, nil
	case domain.TypeSMTPStatus:
		return func(s probe.Settings, _ *zap.Logger) (probe.Adapter, error) {
			return wrap[*probe.SMTPStatus](probe.NewSMTPStatus(s))
		}, nil
	case domain.TypeSMTPMail:
		return func(s probe.Settings, _ *zap.Logger) (probe.Adapter, error) {
			return wrap[*probe.SMTPMail](probe.NewSMTPMail(s))
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProtocolType, t)
}

// wrap keeps a typed nil adapter out of the interface.
func wrap[A probe.Adapter](a A, err error) (probe.Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// New builds the monitor for a service URI. Nothing is registered or
// scheduled on error.
func (d *Dispatcher) New(raw string) (*Monitor, error) {
	uri, err := domain.ParseServiceURI(raw)
	if err != nil {
		return nil, err
	}
	build, err := adapterFor(uri.Type)
	if err != nil {
		return nil, err
	}

	svc, ok := d.src.Service(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", domain.ErrConfiguration, uri)
	}
	defs, _ := d.src.Defaults(uri.Type)
	interval, err := ResolveInterval(svc, defs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}

	a, err := build(probe.Settings{
		URI:       uri,
		Service:   svc,
		Defaults:  defs,
		UserAgent: d.src.UserAgent(),
		Relay:     d.src.Relay(),
	}, d.log)
	if err != nil {
		return nil, err
	}

	m := newMonitor(uri, interval, a, d.sink, d.dialer, d.log)
	p := a.Params()
	d.log.Info("monitor_built",
		zap.String("service", uri.Raw),
		zap.String("type", string(uri.Type)),
		zap.String("address", p.Address()),
		zap.Duration("interval", interval),
		zap.Duration("timeout", p.Timeout),
	)
	return m, nil
}

// ResolveInterval picks the per-service interval, falling back to the type
// default. Neither set is a configuration error.
func ResolveInterval(svc config.ServiceConfig, defs config.TypeDefaults) (time.Duration, error) {
	switch {
	case svc.Interval > 0:
		return time.Duration(svc.Interval) * time.Second, nil
	case defs.Interval > 0:
		return time.Duration(defs.Interval) * time.Second, nil
	}
	return 0, fmt.Errorf("%w: no interval configured", domain.ErrConfiguration)
}
