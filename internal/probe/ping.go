package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/relay"
)

const (
	defaultPingBinary = "/bin/ping"
	defaultPingCount  = 4
)

var errRelayUnreachable = errors.New("relay unreachable")

// Ping asks the relay agent to ping the service host. The monitor's
// connection goes to the relay, not to the host being pinged.
type Ping struct {
	params Params
	target string
	url    string
	binary string
	args   []string
	client *relay.Client
}

func NewPing(s Settings, log *zap.Logger) (*Ping, error) {
	if s.Relay.Port <= 0 {
		return nil, fmt.Errorf("%w: %s: relay port is required", domain.ErrConfiguration, s.URI)
	}
	binary := s.Service.Binary
	if binary == "" {
		binary = s.Defaults.Binary
	}
	if binary == "" {
		binary = defaultPingBinary
	}
	count := s.Service.Count
	if count <= 0 {
		count = s.Defaults.Count
	}
	if count <= 0 {
		count = defaultPingCount
	}

	policy := relay.Terminal
	if s.Relay.ReconnectEnabled() {
		policy = relay.Reconnect
	}
	if log == nil {
		log = zap.NewNop()
	}

	path := s.Relay.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	p := &Ping{
		target: s.URI.Host,
		binary: binary,
		args:   []string{"-c", strconv.Itoa(count), s.URI.Host},
		client: relay.NewClient(policy, log.With(zap.String("service", s.URI.Raw))),
	}
	p.url = "ws://" + domain.HostPort(s.Relay.Host, s.Relay.Port) + path
	p.params = Params{
		Host:    s.Relay.Host,
		Port:    s.Relay.Port,
		Timeout: s.Timeout(),
		extras: map[string]string{
			"target":  p.target,
			"relay":   p.url,
			"binary":  binary,
			"count":   strconv.Itoa(count),
			"on_loss": policy.String(),
		},
	}
	return p, nil
}

func (p *Ping) Type() domain.ServiceType { return domain.TypePing }

func (p *Ping) Params() Params { return p.params }

// Pending reports relay calls still waiting for a reply, including deferred ones.
func (p *Ping) Pending() int { return p.client.Pending() }

func (p *Ping) Probe(ctx context.Context, conn net.Conn) (*Response, error) {
	if err := p.client.Attach(ctx, conn, p.url); err != nil {
		return nil, fmt.Errorf("%w: %w", errRelayUnreachable, err)
	}
	defer p.client.Disconnect()

	out, err := p.client.Call(ctx, p.binary, p.args)
	if errors.Is(err, relay.ErrDeferred) {
		return nil, fmt.Errorf("%w: %v", domain.ErrProbeDeferred, err)
	}
	if err != nil {
		return &Response{Body: out}, err
	}
	return &Response{Body: out}, nil
}

func (p *Ping) Classify(resp *Response, err error) domain.Outcome {
	var re *relay.RemoteError
	switch {
	case err == nil:
		return domain.Success(domain.Payload{Output: resp.Body})
	case errors.Is(err, errRelayUnreachable):
		return domain.Failure(domain.ReasonConnectionFailed, err.Error())
	case errors.Is(err, relay.ErrLinkLost):
		return domain.Failure(domain.ReasonTransientLinkLoss, err.Error())
	case errors.As(err, &re):
		return domain.Failure(domain.ReasonProtocolError, err.Error()).
			WithPayload(domain.Payload{Output: re.Output})
	}
	return failureFrom(err)
}
