package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// HTTPStatus asks for http://<host>/ and reports the status code it got.
type HTTPStatus struct {
	params    Params
	method    string
	url       string
	userAgent string
}

func NewHTTPStatus(s Settings) (*HTTPStatus, error) {
	method := strings.ToUpper(s.Service.Method)
	if method == "" {
		method = strings.ToUpper(s.Defaults.Method)
	}
	if method == "" {
		method = http.MethodHead
	}
	if method != http.MethodHead && method != http.MethodGet {
		return nil, fmt.Errorf("%w: %s: method %q not supported", domain.ErrConfiguration, s.URI, method)
	}

	h := &HTTPStatus{method: method, userAgent: s.UserAgent}
	port := s.Port(80)
	h.url = pageURL(s.URI.Host, port, "/")
	h.params = s.params(80, map[string]string{
		"method":     method,
		"url":        h.url,
		"user_agent": s.UserAgent,
	})
	return h, nil
}

func (h *HTTPStatus) Type() domain.ServiceType { return domain.TypeHTTPStatus }

func (h *HTTPStatus) Params() Params { return h.params }

func (h *HTTPStatus) Probe(ctx context.Context, conn net.Conn) (*Response, error) {
	return fetch(ctx, conn, h.method, h.url, h.userAgent)
}

// Classify: a status line is enough for success. A truncated page still
// carries that status, so it is degraded, not failed.
func (h *HTTPStatus) Classify(resp *Response, err error) domain.Outcome {
	if resp == nil || resp.StatusCode == 0 {
		return failureFrom(err)
	}
	p := domain.Payload{StatusCode: resp.StatusCode}
	if resp.Partial {
		msg := "partial page"
		if err != nil {
			msg += ": " + err.Error()
		}
		return domain.Degraded(p, domain.ReasonPartialResponse, msg)
	}
	return domain.Success(p)
}
