// Package probe holds the protocol adapters a monitor drives: how to reach a
// service, what to say once connected, and how to read the answer.
package probe

import (
	"context"
	"errors"
	"maps"
	"net"
	"sync/atomic"
	"time"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Adapter is the protocol-specific half of a monitor. The monitor dials
// Params().Address() and hands the connection to Probe; Classify turns the
// exchange into an outcome. Adapters are built once per service and must not
// mutate their parameters afterwards.
type Adapter interface {
	Type() domain.ServiceType
	Params() Params
	Probe(ctx context.Context, conn net.Conn) (*Response, error)
	Classify(resp *Response, err error) domain.Outcome
}

// ConnectFailureClassifier lets an adapter shape the outcome recorded when the
// connection itself could not be established.
type ConnectFailureClassifier interface {
	ClassifyConnectFailure(err error) domain.Outcome
}

// Params are the connection parameters of one monitor.
type Params struct {
	Host    string
	Port    int
	Timeout time.Duration
	extras  map[string]string
}

func (p Params) Address() string { return domain.HostPort(p.Host, p.Port) }

// Extras returns a copy of the protocol-specific parameters, for display.
func (p Params) Extras() map[string]string { return maps.Clone(p.extras) }

// Response is the raw result of a protocol exchange. Partial is set when a
// status was read but the rest of the reply was cut short.
type Response struct {
	StatusCode int
	Body       string
	Partial    bool
}

// Settings carry everything an adapter constructor may read.
type Settings struct {
	URI       domain.ServiceURI
	Service   config.ServiceConfig
	Defaults  config.TypeDefaults
	UserAgent string
	Relay     config.RelayConfig
}

// Port resolves the target port: URI, then service entry, then type default,
// then the protocol's well-known port.
func (s Settings) Port(wellKnown int) int {
	switch {
	case s.URI.Port > 0:
		return s.URI.Port
	case s.Service.Port > 0:
		return s.Service.Port
	case s.Defaults.RemotePort > 0:
		return s.Defaults.RemotePort
	}
	return wellKnown
}

func (s Settings) Timeout() time.Duration {
	switch {
	case s.Service.Timeout > 0:
		return time.Duration(s.Service.Timeout) * time.Second
	case s.Defaults.Timeout > 0:
		return time.Duration(s.Defaults.Timeout) * time.Second
	}
	return defaultTimeout
}

func (s Settings) Identity() string {
	switch {
	case s.Service.Identity != "":
		return s.Service.Identity
	case s.Defaults.Identity != "":
		return s.Defaults.Identity
	}
	return "localhost"
}

func (s Settings) params(wellKnown int, extras map[string]string) Params {
	return Params{
		Host:    s.URI.Host,
		Port:    s.Port(wellKnown),
		Timeout: s.Timeout(),
		extras:  extras,
	}
}

var errConnUsed = errors.New("probe: connection already used")

// oneShot hands a library the connection the monitor already dialed. Any
// second dial fails rather than opening a connection behind the monitor's back.
func oneShot(conn net.Conn) func(ctx context.Context, network, addr string) (net.Conn, error) {
	var used atomic.Bool
	return func(context.Context, string, string) (net.Conn, error) {
		if used.Swap(true) {
			return nil, errConnUsed
		}
		return conn, nil
	}
}
