package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
)

// --- helpers ---

func settings(t *testing.T, raw string, svc config.ServiceConfig) Settings {
	t.Helper()
	uri, err := domain.ParseServiceURI(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	svc.URI = raw
	return Settings{URI: uri, Service: svc, UserAgent: "servicewatch-test"}
}

// serve accepts one connection, hands it to script and returns the client end.
func serve(t *testing.T, script func(net.Conn)) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		script(c)
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func assertOutcome(t *testing.T, got domain.Outcome, kind domain.OutcomeKind, reason domain.Reason, code int) {
	t.Helper()
	if got.Kind != kind || got.Reason != reason || got.Payload.StatusCode != code {
		t.Fatalf("want %s/%q/%d, got %s/%q/%d (%s)",
			kind, reason, code, got.Kind, got.Reason, got.Payload.StatusCode, got.Message)
	}
}

// --- settings ---

func TestSettings_PortPrecedence(t *testing.T) {
	s := settings(t, "http_status://example.test", config.ServiceConfig{})
	if p := s.Port(80); p != 80 {
		t.Fatalf("well-known: %d", p)
	}
	s.Defaults.RemotePort = 8000
	if p := s.Port(80); p != 8000 {
		t.Fatalf("type default: %d", p)
	}
	s.Service.Port = 8080
	if p := s.Port(80); p != 8080 {
		t.Fatalf("service: %d", p)
	}
	s.URI.Port = 9090
	if p := s.Port(80); p != 9090 {
		t.Fatalf("uri: %d", p)
	}
}

func TestSettings_TimeoutAndIdentity(t *testing.T) {
	s := settings(t, "smtp_status://mx.test", config.ServiceConfig{})
	if s.Timeout() != defaultTimeout || s.Identity() != "localhost" {
		t.Fatalf("defaults: %s %s", s.Timeout(), s.Identity())
	}
	s.Defaults.Timeout, s.Defaults.Identity = 5, "monitor.test"
	if s.Timeout() != 5*time.Second || s.Identity() != "monitor.test" {
		t.Fatalf("type defaults: %s %s", s.Timeout(), s.Identity())
	}
	s.Service.Timeout, s.Service.Identity = 3, "probe.test"
	if s.Timeout() != 3*time.Second || s.Identity() != "probe.test" {
		t.Fatalf("service: %s %s", s.Timeout(), s.Identity())
	}
}

func TestConstructors_ConfigurationErrors(t *testing.T) {
	cases := []struct {
		name  string
		build func() error
	}{
		{"http_status method", func() error {
			_, err := NewHTTPStatus(settings(t, "http_status://a.test", config.ServiceConfig{Method: "POST"}))
			return err
		}},
		{"http_text no pattern", func() error {
			_, err := NewHTTPText(settings(t, "http_text://a.test", config.ServiceConfig{}))
			return err
		}},
		{"http_text bad pattern", func() error {
			_, err := NewHTTPText(settings(t, "http_text://a.test", config.ServiceConfig{Pattern: "(["}))
			return err
		}},
		{"ftp no username", func() error {
			_, err := NewFTP(settings(t, "ftp://a.test", config.ServiceConfig{}))
			return err
		}},
		{"smtp_mail no recipient", func() error {
			_, err := NewSMTPMail(settings(t, "smtp_mail://a.test", config.ServiceConfig{MailFrom: "a@a.test"}))
			return err
		}},
		{"ping no relay", func() error {
			_, err := NewPing(settings(t, "ping://a.test", config.ServiceConfig{}), nil)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.build(); !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("want ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestParams_ExtrasAreCopies(t *testing.T) {
	f, err := NewFTP(settings(t, "ftp://files.test", config.ServiceConfig{Username: "anon"}))
	if err != nil {
		t.Fatal(err)
	}
	f.Params().Extras()["username"] = "root"
	if got := f.Params().Extras()["username"]; got != "anon" {
		t.Fatalf("extras mutated: %q", got)
	}
	if f.Params().Address() != "files.test:21" || f.Params().Extras()["passive"] != "true" {
		t.Fatalf("params: %+v", f.Params())
	}
}

// --- classification ---

func TestTransportReason(t *testing.T) {
	cases := []struct {
		err  error
		want domain.Reason
	}{
		{nil, domain.ReasonNone},
		{context.DeadlineExceeded, domain.ReasonTimeout},
		{os.ErrDeadlineExceeded, domain.ReasonTimeout},
		{io.EOF, domain.ReasonConnectionFailed},
		{io.ErrUnexpectedEOF, domain.ReasonConnectionFailed},
		{syscall.ECONNREFUSED, domain.ReasonConnectionFailed},
		{&net.OpError{Op: "read", Net: "tcp", Err: errors.New("boom")}, domain.ReasonConnectionFailed},
		{errors.New("malformed reply"), domain.ReasonProtocolError},
	}
	for _, tc := range cases {
		if got := TransportReason(tc.err); got != tc.want {
			t.Errorf("%v: want %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestOneShot_SecondDialFails(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	dial := oneShot(a)
	if c, err := dial(context.Background(), "tcp", "x:1"); err != nil || c != a {
		t.Fatalf("first dial: %v", err)
	}
	if _, err := dial(context.Background(), "tcp", "x:1"); !errors.Is(err, errConnUsed) {
		t.Fatalf("want errConnUsed, got %v", err)
	}
}

func TestPageURL(t *testing.T) {
	cases := []struct {
		host       string
		port       int
		path, want string
	}{
		{"a.test", 80, "", "http://a.test/"},
		{"a.test", 8080, "status", "http://a.test:8080/status"},
		{"a.test", 80, "/health?x", "http://a.test/health?x"},
		{"::1", 8080, "", "http://[::1]:8080/"},
		{"2001:db8::1", 80, "/", "http://[2001:db8::1]/"},
	}
	for _, tc := range cases {
		if got := pageURL(tc.host, tc.port, tc.path); got != tc.want {
			t.Errorf("want %s, got %s", tc.want, got)
		}
	}
}
