package trace_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bdobrica/kioku/common/trace"
)

func TestGenerateID_Unique(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Fatalf("expected distinct IDs, got %q twice", a)
	}
	if !strings.HasPrefix(a, "t_") || len(a) != 34 {
		t.Errorf("unexpected ID format: %q", a)
	}
}

func TestFromContext_Absent(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Errorf("expected empty trace ID, got %q", got)
	}
}

func TestMiddleware_ReusesHeader(t *testing.T) {
	var seen string
	h := trace.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(trace.Header, "t_caller")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "t_caller" {
		t.Errorf("expected context trace ID t_caller, got %q", seen)
	}
	if got := rec.Header().Get(trace.Header); got != "t_caller" {
		t.Errorf("expected echoed header t_caller, got %q", got)
	}
}

func TestMiddleware_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := trace.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.FromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || rec.Header().Get(trace.Header) != seen {
		t.Errorf("expected generated trace ID to be set and echoed, got %q / %q", seen, rec.Header().Get(trace.Header))
	}
}
