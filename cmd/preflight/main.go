// cmd/preflight/main.go
package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	admin := strings.TrimSpace(os.Getenv("ADMIN_API_KEYS"))
	pub := strings.TrimSpace(os.Getenv("PUBLIC_API_KEYS"))
	allowed := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS"))
	cfg := config.FromEnv()

	if admin == "" {
		fail("ADMIN_API_KEYS is empty (admin routes will 403).")
	}
	if pub == "" {
		fail("PUBLIC_API_KEYS is empty (read routes will 401).")
	}

	// Normalize and sanity-check lists (no spaces around commas).
	for name, v := range map[string]string{"ADMIN_API_KEYS": admin, "PUBLIC_API_KEYS": pub} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	ok("API_ADDR=" + cfg.Addr)

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; observations and states are kept in memory only.")
	} else {
		ok("DATABASE_URL present")
	}

	if allowed == "" {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + allowed)
	}

	reg, err := config.LoadServices(cfg.ServicesFile)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(os.Stderr, "✖", e)
		}
		fail(cfg.ServicesFile + " is invalid.")
	}
	ok(fmt.Sprintf("%s: %d services", cfg.ServicesFile, len(reg.URIs())))

	// Ping goes through the relay; warn when it is configured but not listening.
	for _, raw := range reg.URIs() {
		uri, _ := domain.ParseServiceURI(raw)
		if uri.Type != domain.TypePing {
			continue
		}
		r := reg.Relay()
		if r.Port <= 0 {
			fail("ping services are configured but relay.port is not set.")
		}
		addr := domain.HostPort(r.Host, r.Port)
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			warn("ping relay at " + addr + " is not reachable: " + err.Error())
		} else {
			_ = conn.Close()
			ok("ping relay reachable at " + addr)
		}
		break
	}

	switch cfg.RelayRunner {
	case "exec", "probing":
		ok("RELAY_RUNNER=" + cfg.RelayRunner)
	default:
		fail("RELAY_RUNNER must be exec or probing, got " + cfg.RelayRunner)
	}

	ok("preflight passed")
}
