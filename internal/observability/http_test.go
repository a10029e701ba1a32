package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTraceMiddlewarePropagatesHeader(t *testing.T) {
	var seen string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	request.Header.Set("X-Trace-ID", "trace-abc")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if seen != "trace-abc" {
		t.Fatalf("trace id = %q", seen)
	}
	if recorder.Header().Get("X-Trace-ID") != "trace-abc" {
		t.Fatalf("response header = %q", recorder.Header().Get("X-Trace-ID"))
	}
}

func TestTraceMiddlewareMintsID(t *testing.T) {
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	if recorder.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected a minted trace id")
	}
}

func TestRouteLabelCollapsesIDs(t *testing.T) {
	cases := map[string]string{
		"/v1/connections/42":       "/v1/connections/:id",
		"/v1/sessions/7/messages":  "/v1/sessions/:id/messages",
		"/v1/conversations/0f8fad5b-d9cb-469f-a165-70867728950e/history": "/v1/conversations/:id/history",
		"/v1/tables": "/v1/tables",
	}
	for path, want := range cases {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if got := routeLabel(r); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
