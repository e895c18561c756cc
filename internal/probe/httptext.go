package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// HTTPText fetches a page and looks for a configured pattern in it.
type HTTPText struct {
	params    Params
	url       string
	userAgent string
	pattern   *regexp.Regexp
}

func NewHTTPText(s Settings) (*HTTPText, error) {
	if s.Service.Pattern == "" {
		return nil, fmt.Errorf("%w: %s: pattern is required", domain.ErrConfiguration, s.URI)
	}
	re, err := regexp.Compile(s.Service.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: pattern: %v", domain.ErrConfiguration, s.URI, err)
	}

	h := &HTTPText{userAgent: s.UserAgent, pattern: re}
	h.url = pageURL(s.URI.Host, s.Port(80), s.Service.Path)
	h.params = s.params(80, map[string]string{
		"url":     h.url,
		"pattern": re.String(),
	})
	return h, nil
}

func (h *HTTPText) Type() domain.ServiceType { return domain.TypeHTTPText }

func (h *HTTPText) Params() Params { return h.params }

func (h *HTTPText) Probe(ctx context.Context, conn net.Conn) (*Response, error) {
	return fetch(ctx, conn, http.MethodGet, h.url, h.userAgent)
}

func (h *HTTPText) Classify(resp *Response, err error) domain.Outcome {
	if resp == nil || resp.StatusCode == 0 {
		return failureFrom(err)
	}
	p := domain.Payload{StatusCode: resp.StatusCode}
	switch {
	case resp.Partial:
		return domain.Degraded(p, domain.ReasonPartialResponse, "partial page")
	case h.pattern.MatchString(resp.Body):
		return domain.Success(p)
	default:
		return domain.Degraded(p, domain.ReasonProtocolMismatch, fmt.Sprintf("pattern %q absent", h.pattern.String()))
	}
}
