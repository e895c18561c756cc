package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/multierr"

	"github.com/hamed0406/servicewatch/internal/domain"
)

const sampleServices = `
user_agent: "servicewatch-test/0.1"
relay:
  port: 10999
  reconnect: false
services:
  http_status:
    defaults:
      interval: 60
      remote_port: 80
      method: HEAD
    entries:
      - uri: http_status://example.test
        interval: 30
  ftp:
    defaults:
      interval: 300
    entries:
      - uri: ftp://files.example.test
        port: 21
        username: monitor
        password: secret
        passive: true
`

func TestLoadServices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(sampleServices), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadServices(path)
	if err != nil {
		t.Fatalf("LoadServices: %v", err)
	}

	if reg.UserAgent() != "servicewatch-test/0.1" {
		t.Fatalf("user agent: %q", reg.UserAgent())
	}
	relay := reg.Relay()
	if relay.Host != "127.0.0.1" || relay.Port != 10999 || relay.Path != "/relay" || relay.ReconnectEnabled() {
		t.Fatalf("relay: %+v", relay)
	}

	uri, _ := domain.ParseServiceURI("http_status://example.test")
	sc, ok := reg.Service(uri)
	if !ok || sc.Interval != 30 {
		t.Fatalf("service lookup: ok=%v %+v", ok, sc)
	}
	d, ok := reg.Defaults(domain.TypeHTTPStatus)
	if !ok || d.RemotePort != 80 || d.Method != "HEAD" {
		t.Fatalf("defaults: %+v", d)
	}

	uris := reg.URIs()
	if len(uris) != 2 || uris[0] != "ftp://files.example.test" {
		t.Fatalf("uris: %v", uris)
	}
}

func TestParseServices_CollectsAllErrors(t *testing.T) {
	doc := `
services:
  gopher:
    entries:
      - uri: gopher://old.example.test
  ftp:
    entries:
      - uri: smtp_status://mx.example.test
      - uri: ftp://
`
	_, err := ParseServices([]byte(doc))
	if err == nil {
		t.Fatal("want error")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Fatalf("want 3 errors, got %d: %v", n, err)
	}
	if !errors.Is(err, domain.ErrUnsupportedProtocolType) || !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("want both error kinds, got %v", err)
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	reg, err := NewRegistry(File{})
	if err != nil {
		t.Fatal(err)
	}
	sc := ServiceConfig{URI: "smtp_status://mx.example.test", Identity: "probe.example.test"}
	if err := reg.Add(sc); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(sc); !errors.Is(err, ErrDuplicateService) {
		t.Fatalf("want duplicate error, got %v", err)
	}
	if err := reg.Add(ServiceConfig{URI: "telnet://old.example.test"}); !errors.Is(err, domain.ErrUnsupportedProtocolType) {
		t.Fatalf("want unsupported type, got %v", err)
	}
	if !reg.Remove(sc.URI) || reg.Remove(sc.URI) {
		t.Fatal("remove should succeed exactly once")
	}
	if reg.UserAgent() != defaultUserAgent {
		t.Fatalf("default user agent: %q", reg.UserAgent())
	}
}
