package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	m.ObserveState(1, 1, 0)
	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("expected at least one metric family after observing state")
	}
}

func TestObserveCommand(t *testing.T) {
	m := New()

	m.ObserveCommand("SaveNotes", "ok", 2*time.Millisecond)
	m.ObserveCommand("SaveNotes", "ok", time.Millisecond)
	m.ObserveCommand("SaveNotes", "noop", time.Millisecond)

	if v := testutil.ToFloat64(m.CommandsTotal.WithLabelValues("SaveNotes", "ok")); v != 2 {
		t.Fatalf("expected ok count 2, got %v", v)
	}
	if v := testutil.ToFloat64(m.CommandsTotal.WithLabelValues("SaveNotes", "noop")); v != 1 {
		t.Fatalf("expected noop count 1, got %v", v)
	}
	if n := testutil.CollectAndCount(m.CommandDuration); n != 1 {
		t.Fatalf("expected 1 duration series, got %d", n)
	}
}

func TestObservePersist(t *testing.T) {
	m := New()

	m.ObservePersist(nil)
	m.ObservePersist(errors.New("disk full"))
	m.ObservePersist(errors.New("disk full"))

	if v := testutil.ToFloat64(m.StoreWritesTotal.WithLabelValues("ok")); v != 1 {
		t.Fatalf("expected ok writes 1, got %v", v)
	}
	if v := testutil.ToFloat64(m.StoreWritesTotal.WithLabelValues("error")); v != 2 {
		t.Fatalf("expected failed writes 2, got %v", v)
	}
}

func TestObserveState(t *testing.T) {
	m := New()

	m.ObserveState(4, 2, 200)

	if v := testutil.ToFloat64(m.Features); v != 4 {
		t.Fatalf("expected features 4, got %v", v)
	}
	if v := testutil.ToFloat64(m.Groups); v != 2 {
		t.Fatalf("expected groups 2, got %v", v)
	}
	if v := testutil.ToFloat64(m.ChangeLogEntries); v != 200 {
		t.Fatalf("expected change log entries 200, got %v", v)
	}
}

func TestMiddlewareLabelsByRoute(t *testing.T) {
	m := New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/features/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := m.Middleware(mux)

	for _, path := range []string{"/v1/features/a", "/v1/features/b", "/nope"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /v1/features/{id}", "404")); v != 2 {
		t.Fatalf("expected 2 requests for feature route, got %v", v)
	}
	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")); v != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", v)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObservePersist(nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(string(body), "flagdeck_store_writes_total") {
		t.Fatal("expected response to contain flagdeck_store_writes_total")
	}
}
