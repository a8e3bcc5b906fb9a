package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/craddockd/msgwall/internal/version"
)

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func counterValue(t *testing.T, m *ServerMetrics, name string) float64 {
	t.Helper()
	families, err := m.reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
		return total
	}
	// Vec families with no observed label sets are absent from the
	// gather output, which reads as zero.
	return 0
}

func TestNew_RegistryPopulated(t *testing.T) {
	m := New()
	body := scrape(t, m)

	// Non-Vec metrics appear immediately
	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"ratelimit_tracked_keys",
		"messages_created_total",
		"denylist_entries",
		"profiling_active",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}

	if !strings.Contains(body, "go_goroutines") {
		t.Error("go collector metrics missing")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.IncRateLimitDenied()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()
	m.IncRateLimitError()
	m.IncMessagesCreated()
	m.IncHttpPanic()
	m.IncDenylistError()
	m.IncLimitOverrideApplied()

	tests := []struct {
		name string
		want float64
	}{
		{"http_requests_rate_limited_total", 2},
		{"http_requests_rate_limited_capacity_total", 1},
		{"ratelimit_store_errors_total", 1},
		{"messages_created_total", 1},
		{"http_panic_total", 1},
		{"denylist_refresh_errors_total", 1},
		{"ratelimit_overrides_applied_total", 1},
	}
	for _, tc := range tests {
		if got := counterValue(t, m, tc.name); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGauges(t *testing.T) {
	m := New()

	m.SetRateLimitTrackedKeys(42)
	if got := counterValue(t, m, "ratelimit_tracked_keys"); got != 42 {
		t.Errorf("tracked keys = %v", got)
	}

	m.SetDenylistSize(7)
	if got := counterValue(t, m, "denylist_entries"); got != 7 {
		t.Errorf("denylist size = %v", got)
	}

	m.SetProfilingActive(true)
	if got := counterValue(t, m, "profiling_active"); got != 1 {
		t.Errorf("profiling active = %v", got)
	}
	m.SetProfilingActive(false)
	if got := counterValue(t, m, "profiling_active"); got != 0 {
		t.Errorf("profiling inactive = %v", got)
	}
}

func TestGateDenied_Labels(t *testing.T) {
	m := New()

	m.IncGateDenied("timegate", "closed")
	m.IncGateDenied("rolegate", "forbidden")
	m.IncGateDenied("rolegate", "forbidden")

	families, err := m.reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "http_requests_gated_total" {
			found = f
		}
	}
	if found == nil {
		t.Fatal("http_requests_gated_total not gathered")
	}
	if len(found.GetMetric()) != 2 {
		t.Fatalf("label combinations = %d, want 2", len(found.GetMetric()))
	}
}

func TestSetBuildInfo(t *testing.T) {
	m := New()

	vi := version.Get()
	m.SetBuildInfoFromVersion("msgwall", "server", &vi)

	body := scrape(t, m)
	if !strings.Contains(body, `build_info{app="msgwall"`) {
		t.Error("build_info gauge missing app label")
	}
}

func TestMiddleware_CountsAndStatus(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := m.Middleware(handler)

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/messages", nil))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/messages", nil))

	if got := counterValue(t, m, "http_requests_total"); got != 2 {
		t.Errorf("http_requests_total = %v, want 2", got)
	}
	// 418 is not a server error
	if got := counterValue(t, m, "http_errors_total"); got != 0 {
		t.Errorf("http_errors_total = %v, want 0", got)
	}
}

func TestMiddleware_CountsServerErrors(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	m.Middleware(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	if got := counterValue(t, m, "http_errors_total"); got != 1 {
		t.Errorf("http_errors_total = %v, want 1", got)
	}
}

func TestMiddleware_DefaultStatus200(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	m.Middleware(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	families, err := m.reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() != "200" {
					t.Errorf("status label = %q, want 200", lp.GetValue())
				}
			}
		}
	}
}
