package relay

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

var ErrBinaryNotAllowed = errors.New("binary not allowed")

// ExecRunner runs allow-listed binaries directly.
type ExecRunner struct {
	Allowed []string
}

func (r ExecRunner) Run(ctx context.Context, binary string, args []string) (string, error) {
	if !slices.Contains(r.Allowed, binary) {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotAllowed, binary)
	}
	out, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w", binary, err)
	}
	return string(out), nil
}

// ProbingRunner answers ping requests in-process with ICMP echo, ignoring the
// binary. It understands "-c N" and a trailing host.
type ProbingRunner struct {
	Privileged bool
	Interval   time.Duration
}

func (r ProbingRunner) Run(ctx context.Context, _ string, args []string) (string, error) {
	count, host, err := parsePingArgs(args)
	if err != nil {
		return "", err
	}
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return "", fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = count
	pinger.Timeout = time.Duration(count)*time.Second + 5*time.Second
	pinger.Interval = r.Interval
	if pinger.Interval <= 0 {
		pinger.Interval = time.Second
	}
	pinger.SetPrivileged(r.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return "", fmt.Errorf("ping %s: %w", host, err)
	}
	stats := pinger.Statistics()
	out := renderStats(stats)
	if stats.PacketsRecv == 0 {
		return out, fmt.Errorf("ping %s: no reply", host)
	}
	return out, nil
}

func parsePingArgs(args []string) (count int, host string, err error) {
	count = 4
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-c":
			if i+1 >= len(args) {
				return 0, "", errors.New("-c needs a value")
			}
			i++
			a = args[i]
			fallthrough
		case strings.HasPrefix(a, "-c") && len(a) > 2:
			n, cerr := strconv.Atoi(strings.TrimPrefix(a, "-c"))
			if cerr != nil || n <= 0 {
				return 0, "", fmt.Errorf("invalid count %q", a)
			}
			count = n
		case strings.HasPrefix(a, "-"):
			return 0, "", fmt.Errorf("unsupported flag %q", a)
		default:
			host = a
		}
	}
	if host == "" {
		return 0, "", errors.New("no host given")
	}
	return count, host, nil
}

func renderStats(s *probing.Statistics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PING %s (%s)\n", s.Addr, s.IPAddr)
	fmt.Fprintf(&b, "--- %s ping statistics ---\n", s.Addr)
	fmt.Fprintf(&b, "%d packets transmitted, %d packets received, %.1f%% packet loss\n",
		s.PacketsSent, s.PacketsRecv, s.PacketLoss)
	if s.PacketsRecv > 0 {
		fmt.Fprintf(&b, "round-trip min/avg/max/stddev = %.3f/%.3f/%.3f/%.3f ms\n",
			ms(s.MinRtt), ms(s.AvgRtt), ms(s.MaxRtt), ms(s.StdDevRtt))
	}
	return b.String()
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
