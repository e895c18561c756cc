package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/history"
	apimw "github.com/hamed0406/servicewatch/internal/httpapi/middleware"
	"github.com/hamed0406/servicewatch/internal/monitor"
	"github.com/hamed0406/servicewatch/internal/repo"
	"github.com/hamed0406/servicewatch/internal/repo/memory"
	"github.com/hamed0406/servicewatch/internal/scheduler"
)

// ---- test helpers ----

// refusingDialer makes every probe fail fast at the connect step.
type refusingDialer struct{}

func (refusingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

const services = `
services:
  http_status:
    defaults: {interval: 60}
  http_text:
    defaults: {interval: 60}
`

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	log := zap.NewNop()
	reg, err := config.ParseServices([]byte(services))
	if err != nil {
		t.Fatalf("parse services: %v", err)
	}
	store := memory.New()
	rec := history.NewRecorder(store, store, log)
	d := monitor.NewDispatcher(reg, rec, refusingDialer{}, log)
	sch := scheduler.New(log, 2)

	srv := NewServer(log, reg, d, sch, store, store)
	keys := apimw.Keys{
		Public: []string{"pub_test"},
		Admin:  []string{"adm_test"},
	}
	// very high rate limits to avoid flakiness in tests
	return srv.Router(keys, nil, 10_000, 10_000, 10_000, 10_000)
}

func do(t *testing.T, ts *httptest.Server, method, path, key string, body []byte) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// ---- tests ----

func TestAddMonitor_OK_Duplicate_Invalid(t *testing.T) {
	ts := httptest.NewServer(setupRouter(t))
	defer ts.Close()

	// 1) add OK; the first probe runs synchronously
	resp := do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"http_status://example.test","interval":30}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("want 201, got %d", resp.StatusCode)
	}
	var added monitorView
	decode(t, resp, &added)
	if added.URI != "http_status://example.test" || added.Address != "example.test:80" || added.Interval != 30 {
		t.Fatalf("unexpected monitor %+v", added)
	}
	if added.Last == nil || added.Last.Reason != domain.ReasonConnectionFailed {
		t.Fatalf("expected a connection failure outcome, got %+v", added.Last)
	}

	// 2) duplicate
	resp = do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"http_status://example.test"}`))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: want 409, got %d", resp.StatusCode)
	}

	// 3) unsupported type
	resp = do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"gopher://example.test"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported: want 400, got %d", resp.StatusCode)
	}

	// 4) configuration error: http_text needs a pattern
	resp = do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"http_text://example.test"}`))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("config error: want 422, got %d", resp.StatusCode)
	}
	// the rejected entry must not linger in the registry
	resp = do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"http_text://example.test","pattern":"ok"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("retry after config error: want 201, got %d", resp.StatusCode)
	}

	// 5) bad payload
	resp = do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad payload: want 400, got %d", resp.StatusCode)
	}

	// 6) list
	resp = do(t, ts, http.MethodGet, "/api/monitors", "pub_test", nil)
	var list []monitorView
	decode(t, resp, &list)
	if len(list) != 2 {
		t.Fatalf("want 2 monitors, got %d", len(list))
	}
}

func TestAddMonitor_PaddedURIRolledBackOnConfigError(t *testing.T) {
	ts := httptest.NewServer(setupRouter(t))
	defer ts.Close()

	resp := do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"  http_text://padded.test  "}`))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d", resp.StatusCode)
	}
	resp = do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"http_text://padded.test","pattern":"ok"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("retry after rollback: want 201, got %d", resp.StatusCode)
	}
	var added monitorView
	decode(t, resp, &added)
	if added.URI != "http_text://padded.test" {
		t.Fatalf("unexpected uri %q", added.URI)
	}
}

func TestAddMonitor_RequiresAdminKey(t *testing.T) {
	ts := httptest.NewServer(setupRouter(t))
	defer ts.Close()

	resp := do(t, ts, http.MethodPost, "/api/monitors", "pub_test", []byte(`{"uri":"http_status://example.test"}`))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
	resp = do(t, ts, http.MethodGet, "/api/monitors", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
}

func TestHistoryStatesProbeAndRemove(t *testing.T) {
	ts := httptest.NewServer(setupRouter(t))
	defer ts.Close()

	do(t, ts, http.MethodPost, "/api/monitors", "adm_test", []byte(`{"uri":"http_status://example.test"}`))

	resp := do(t, ts, http.MethodPost, "/api/monitors/probe?uri=http_status://example.test", "adm_test", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("probe: want 200, got %d", resp.StatusCode)
	}

	resp = do(t, ts, http.MethodGet, "/api/monitors/history?uri=http_status://example.test&limit=10", "pub_test", nil)
	var hist []domain.Observation
	decode(t, resp, &hist)
	if len(hist) != 2 {
		t.Fatalf("want 2 observations, got %d", len(hist))
	}

	resp = do(t, ts, http.MethodGet, "/api/states", "pub_test", nil)
	var states []repo.StateRecord
	decode(t, resp, &states)
	if len(states) != 1 || states[0].Status != domain.StatusError {
		t.Fatalf("unexpected states %+v", states)
	}

	resp = do(t, ts, http.MethodGet, "/api/monitors/history", "pub_test", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("history without uri: want 400, got %d", resp.StatusCode)
	}

	resp = do(t, ts, http.MethodDelete, "/api/monitors?uri=http_status://example.test", "adm_test", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: want 204, got %d", resp.StatusCode)
	}
	resp = do(t, ts, http.MethodDelete, "/api/monitors?uri=http_status://example.test", "adm_test", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: want 404, got %d", resp.StatusCode)
	}
	resp = do(t, ts, http.MethodPost, "/api/monitors/probe?uri=http_status://example.test", "adm_test", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("probe removed: want 404, got %d", resp.StatusCode)
	}
}
