package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ServiceType is the protocol tag carried in a service URI's scheme.
type ServiceType string

const (
	TypePing       ServiceType = "ping"
	TypeHTTPStatus ServiceType = "http_status"
	TypeHTTPText   ServiceType = "http_text"
	TypeFTP        ServiceType = "ftp"
	TypeSMTPStatus ServiceType = "smtp_status"
	TypeSMTPMail   ServiceType = "smtp_mail"
)

// SupportedTypes lists every protocol type a monitor can be built for.
func SupportedTypes() []ServiceType {
	return []ServiceType{TypePing, TypeHTTPStatus, TypeHTTPText, TypeFTP, TypeSMTPStatus, TypeSMTPMail}
}

func (t ServiceType) Valid() bool {
	switch t {
	case TypePing, TypeHTTPStatus, TypeHTTPText, TypeFTP, TypeSMTPStatus, TypeSMTPMail:
		return true
	}
	return false
}

// ServiceURI identifies one monitored service, e.g. "http_status://example.test:8080".
// Port is 0 when the URI does not carry one.
type ServiceURI struct {
	Raw  string      `json:"uri"`
	Type ServiceType `json:"type"`
	Host string      `json:"host"`
	Port int         `json:"port,omitempty"`
}

func (u ServiceURI) String() string { return u.Raw }

// ParseServiceURI splits a service URI into its type tag and target. It does
// not check the type against the supported set; the dispatcher does that.
func ParseServiceURI(raw string) (ServiceURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ServiceURI{}, fmt.Errorf("%w: empty service uri", ErrConfiguration)
	}
	// Type tags such as http_status are not valid URL schemes, so the tag is
	// split off before the rest goes through net/url.
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return ServiceURI{}, fmt.Errorf("%w: service uri %q has no type", ErrConfiguration, raw)
	}
	u, err := url.Parse("svc://" + rest)
	if err != nil {
		return ServiceURI{}, fmt.Errorf("%w: service uri %q: %v", ErrConfiguration, raw, err)
	}
	host := u.Hostname()
	if host == "" {
		return ServiceURI{}, fmt.Errorf("%w: service uri %q has no host", ErrConfiguration, raw)
	}

	out := ServiceURI{
		Raw:  raw,
		Type: ServiceType(strings.ToLower(scheme)),
		Host: strings.ToLower(host),
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return ServiceURI{}, fmt.Errorf("%w: service uri %q: invalid port %q", ErrConfiguration, raw, p)
		}
		out.Port = n
	}
	return out, nil
}

// HostPort joins host and port the way net.Dial expects.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
