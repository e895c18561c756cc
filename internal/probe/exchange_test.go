package probe

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"testing"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
)

// httpReply reads one request and writes raw back.
func httpReply(raw string) func(net.Conn) {
	return func(c net.Conn) {
		if _, err := http.ReadRequest(bufio.NewReader(c)); err != nil {
			return
		}
		_, _ = c.Write([]byte(raw))
	}
}

// lineServer plays a line-based protocol: greeting first, then reply(verb) for
// every command. DATA bodies are read up to the closing dot.
func lineServer(greeting string, reply func(verb string) string) func(net.Conn) {
	return func(c net.Conn) {
		tp := textproto.NewConn(c)
		if err := tp.PrintfLine("%s", greeting); err != nil {
			return
		}
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb, _, _ := strings.Cut(line, " ")
			verb = strings.ToUpper(verb)
			if verb == "DATA" {
				_ = tp.PrintfLine("354 end with <CRLF>.<CRLF>")
				if _, err := tp.ReadDotBytes(); err != nil {
					return
				}
				_ = tp.PrintfLine("250 queued")
				continue
			}
			for _, l := range strings.Split(reply(verb), "\n") {
				_ = tp.PrintfLine("%s", l)
			}
			if verb == "QUIT" {
				return
			}
		}
	}
}

// --- http ---

func TestHTTPStatus_AnyStatusLineIsSuccess(t *testing.T) {
	h, err := NewHTTPStatus(settings(t, "http_status://web.test", config.ServiceConfig{}))
	if err != nil {
		t.Fatal(err)
	}
	conn := serve(t, httpReply("HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\n\r\n"))
	resp, err := h.Probe(context.Background(), conn)
	assertOutcome(t, h.Classify(resp, err), domain.KindSuccess, domain.ReasonNone, 503)
}

func TestHTTPText_PatternMatch(t *testing.T) {
	body := "all systems nominal"
	page := "HTTP/1.1 200 OK\r\nContent-Length: 19\r\n\r\n" + body

	cases := []struct {
		pattern string
		kind    domain.OutcomeKind
		reason  domain.Reason
	}{
		{"sys.*nominal", domain.KindSuccess, domain.ReasonNone},
		{"outage", domain.KindDegraded, domain.ReasonProtocolMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			h, err := NewHTTPText(settings(t, "http_text://web.test", config.ServiceConfig{Pattern: tc.pattern, Path: "status"}))
			if err != nil {
				t.Fatal(err)
			}
			conn := serve(t, httpReply(page))
			resp, err := h.Probe(context.Background(), conn)
			assertOutcome(t, h.Classify(resp, err), tc.kind, tc.reason, 200)
		})
	}
}

func TestHTTPText_TruncatedBodyIsPartial(t *testing.T) {
	h, err := NewHTTPText(settings(t, "http_text://web.test", config.ServiceConfig{Pattern: "short"}))
	if err != nil {
		t.Fatal(err)
	}
	conn := serve(t, httpReply("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort"))
	resp, err := h.Probe(context.Background(), conn)
	if resp == nil || !resp.Partial {
		t.Fatalf("want partial response, got %+v (%v)", resp, err)
	}
	assertOutcome(t, h.Classify(resp, err), domain.KindDegraded, domain.ReasonPartialResponse, 200)
}

func TestHTTPStatus_TruncatedBodyIsDegraded(t *testing.T) {
	h, err := NewHTTPStatus(settings(t, "http_status://web.test", config.ServiceConfig{Method: "GET"}))
	if err != nil {
		t.Fatal(err)
	}
	conn := serve(t, httpReply("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort"))
	resp, err := h.Probe(context.Background(), conn)
	o := h.Classify(resp, err)
	assertOutcome(t, o, domain.KindDegraded, domain.ReasonPartialResponse, 200)
	if !strings.HasPrefix(o.Message, "partial page") {
		t.Fatalf("message: %q", o.Message)
	}
}

func TestHTTPStatus_ClosedBeforeReplyFails(t *testing.T) {
	h, err := NewHTTPStatus(settings(t, "http_status://web.test", config.ServiceConfig{Method: "get"}))
	if err != nil {
		t.Fatal(err)
	}
	conn := serve(t, httpReply(""))
	resp, err := h.Probe(context.Background(), conn)
	assertOutcome(t, h.Classify(resp, err), domain.KindFailure, domain.ReasonConnectionFailed, 0)
}

// --- ftp ---

func ftpServer(pass string) func(net.Conn) {
	return lineServer("220 fake ftp ready", func(verb string) string {
		switch verb {
		case "USER":
			return "331 password required"
		case "PASS":
			return pass
		case "FEAT":
			return "211 no features"
		case "TYPE", "OPTS":
			return "200 ok"
		case "QUIT":
			return "221 bye"
		}
		return "502 not implemented"
	})
}

func TestFTP_Login(t *testing.T) {
	cases := []struct {
		name   string
		pass   string
		kind   domain.OutcomeKind
		reason domain.Reason
		code   int
	}{
		{"accepted", "230 logged in", domain.KindSuccess, domain.ReasonNone, 230},
		{"rejected", "530 login incorrect", domain.KindFailure, domain.ReasonProtocolMismatch, 530},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewFTP(settings(t, "ftp://files.test", config.ServiceConfig{Username: "anon", Password: "guest"}))
			if err != nil {
				t.Fatal(err)
			}
			conn := serve(t, ftpServer(tc.pass))
			resp, err := f.Probe(context.Background(), conn)
			assertOutcome(t, f.Classify(resp, err), tc.kind, tc.reason, tc.code)
		})
	}
}

func TestFTP_ConnectFailureCarriesPseudoCode(t *testing.T) {
	f, err := NewFTP(settings(t, "ftp://files.test", config.ServiceConfig{Username: "anon"}))
	if err != nil {
		t.Fatal(err)
	}
	o := f.ClassifyConnectFailure(&net.OpError{Op: "dial", Net: "tcp", Err: refusedErr{}})
	assertOutcome(t, o, domain.KindFailure, domain.ReasonConnectionFailed, FTPConnectFailedCode)
}

type refusedErr struct{}

func (refusedErr) Error() string { return "connection refused" }

// --- smtp ---

func smtpServer(greeting, ehlo, rcpt string) func(net.Conn) {
	return lineServer(greeting, func(verb string) string {
		switch verb {
		case "EHLO":
			return ehlo
		case "MAIL":
			return "250 sender ok"
		case "RCPT":
			return rcpt
		case "QUIT":
			return "221 bye"
		}
		return "502 not implemented"
	})
}

func TestSMTPStatus(t *testing.T) {
	okEHLO := "250-mx.test\n250 HELP"
	cases := []struct {
		name     string
		banner   string
		greeting string
		ehlo     string
		kind     domain.OutcomeKind
		reason   domain.Reason
		code     int
	}{
		{"healthy", "ESMTP", "220 mx.test ESMTP ready", okEHLO, domain.KindSuccess, domain.ReasonNone, 220},
		{"banner mismatch", "Postfix", "220 mx.test ESMTP ready", okEHLO, domain.KindDegraded, domain.ReasonProtocolMismatch, 220},
		{"greeting refused", "", "554 no service", okEHLO, domain.KindFailure, domain.ReasonProtocolMismatch, 554},
		{"ehlo refused", "", "220 mx.test ESMTP ready", "502 command not implemented", domain.KindFailure, domain.ReasonProtocolMismatch, 502},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := NewSMTPStatus(settings(t, "smtp_status://mx.test", config.ServiceConfig{Banner: tc.banner}))
			if err != nil {
				t.Fatal(err)
			}
			conn := serve(t, smtpServer(tc.greeting, tc.ehlo, "250 ok"))
			resp, err := st.Probe(context.Background(), conn)
			o := st.Classify(resp, err)
			assertOutcome(t, o, tc.kind, tc.reason, tc.code)
			if tc.kind != domain.KindFailure && !strings.Contains(o.Payload.Output, "mx.test") {
				t.Fatalf("banner not kept: %q", o.Payload.Output)
			}
		})
	}
}

func TestSMTPMail(t *testing.T) {
	cases := []struct {
		name   string
		rcpt   string
		kind   domain.OutcomeKind
		reason domain.Reason
		code   int
	}{
		{"delivered", "250 recipient ok", domain.KindSuccess, domain.ReasonNone, 250},
		{"recipient refused", "550 no such user", domain.KindFailure, domain.ReasonProtocolMismatch, 550},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sm, err := NewSMTPMail(settings(t, "smtp_mail://mx.test", config.ServiceConfig{
				MailFrom: "monitor@example.test",
				MailTo:   "postmaster@example.test",
			}))
			if err != nil {
				t.Fatal(err)
			}
			conn := serve(t, smtpServer("220 mx.test ESMTP", "250 mx.test", tc.rcpt))
			resp, err := sm.Probe(context.Background(), conn)
			assertOutcome(t, sm.Classify(resp, err), tc.kind, tc.reason, tc.code)
		})
	}
}
