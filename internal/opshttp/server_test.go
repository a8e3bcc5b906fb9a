package opshttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/craddockd/msgwall/internal/probe"
)

func TestHealthzHandler(t *testing.T) {
	tests := []struct {
		name     string
		p        probe.Probe
		wantCode int
		wantBody string
	}{
		{"nil probe passes", nil, http.StatusOK, "ok"},
		{"passing probe", probe.Static(true, ""), http.StatusOK, "ok"},
		{"failing probe", probe.Static(false, "store down"), http.StatusServiceUnavailable, "store down"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthzHandler(tc.p).ServeHTTP(rec, httptest.NewRequest("GET", "/-/healthy", http.NoBody))
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestReadyzHandler_Draining(t *testing.T) {
	var gate probe.ShutdownGate

	h := ReadyzHandler(gate.Probe())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/-/ready", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status before drain = %d", rec.Code)
	}

	gate.Set("draining")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/-/ready", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status during drain = %d, want 503", rec.Code)
	}
}

func TestRegisterPprof(t *testing.T) {
	mux := http.NewServeMux()
	RegisterPprof(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/pprof/", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index status = %d", rec.Code)
	}
}
