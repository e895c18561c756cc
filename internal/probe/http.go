package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/hamed0406/servicewatch/internal/domain"
)

const maxPageBytes = 1 << 20

// pageURL renders the URL a HTTP probe requests, leaving out the default port.
func pageURL(host string, port int, path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	hp := domain.HostPort(host, port)
	if port == 80 {
		hp = strings.TrimSuffix(hp, ":80")
	}
	return "http://" + hp + path
}

// fetch runs one HTTP exchange over conn. When the status line arrives but the
// body is cut short, it returns the response marked Partial together with the
// read error.
func fetch(ctx context.Context, conn net.Conn, method, url, userAgent string) (*Response, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext:       oneShot(conn),
			DisableKeepAlives: true,
		},
		// A redirect would need a second connection, possibly to another host.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Response{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	out.Body = string(body)
	if err != nil {
		out.Partial = true
		return out, err
	}
	return out, nil
}
