package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDAssignedAndPreserved(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || res.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated request id, got %q / %q", seen, res.Header().Get(RequestIDHeader))
	}

	const supplied = "3f1c1b8e-2d7a-4b57-9a55-0f6f4c3f2a10"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, supplied)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != supplied {
		t.Fatalf("expected supplied id to be kept, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not a uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not a uuid" {
		t.Fatalf("malformed request id should be replaced")
	}
}

func TestObservabilityRecordsRequests(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "dscd_test"}, nil)
	h := obs.Middleware("engine.params")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/engine/params", nil))

	res := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `dscd_test_requests_total{method="GET",route="engine.params",status="I'm a teapot"} 1`) {
		t.Fatalf("request counter missing from metrics output:\n%s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/dsc/mint", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/engine/params", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin should not be echoed")
	}
	if res.Code != http.StatusOK {
		t.Fatalf("expected request to pass through, got %d", res.Code)
	}
}
