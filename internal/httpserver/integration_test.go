package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/craddockd/msgwall/internal/httpmw"
	"github.com/craddockd/msgwall/internal/httpserver"
	"github.com/craddockd/msgwall/internal/log"
	"github.com/craddockd/msgwall/internal/msghttp"
	"github.com/craddockd/msgwall/internal/probe"
	"github.com/craddockd/msgwall/internal/ratelimit"
)

// newTestHandler wires the full public handler the way main does: messaging
// API behind denylist, time gate, role gate, and rate limiter.
func newTestHandler(t *testing.T, hour int, limit int) http.Handler {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := ratelimit.NewSlidingWindow(ctx, ratelimit.WithLimit(limit, time.Minute))
	limiter := ratelimit.New(ctx, store, time.Minute)

	api := msghttp.NewAPI(msghttp.NewStore(0), log.Nop())

	clock := func() time.Time {
		return time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
	}

	return httpserver.NewHandler(&httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		TimeGateMW:   httpmw.TimeGate(httpmw.TimeGateOptions{Now: clock}),
		RoleGateMW:   httpmw.RoleGate(httpmw.RoleGateOptions{Prefixes: []string{"/api/admin"}}),
		RateLimitMW:  limiter.Middleware,
		APIRoutes:    api.RegisterRoutes,
		Health:       probe.Static(true, ""),
		Readiness:    probe.Static(true, ""),
	})
}

func send(h http.Handler, method, path, ip, user, role, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	req.RemoteAddr = ip + ":12345"
	if user != "" {
		req.Header.Set("X-User", user)
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIntegration_FullStack(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, 12, 5)

	t.Run("create and list messages", func(t *testing.T) {
		rec := send(h, "POST", "/api/messages", "203.0.113.1", "alice", "user",
			`{"recipient":"bob","content":"hello"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Error("X-Request-Id not set")
		}
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Error("security headers missing")
		}

		rec = send(h, "GET", "/api/messages", "203.0.113.1", "alice", "user", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("list status = %d", rec.Code)
		}
		var list msghttp.MessageList
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatal(err)
		}
		if list.Count != 1 {
			t.Fatalf("count = %d, want 1", list.Count)
		}
	})

	t.Run("sixth write from one client gets 429", func(t *testing.T) {
		body := `{"recipient":"bob","content":"x"}`
		for i := 0; i < 5; i++ {
			rec := send(h, "POST", "/api/messages", "203.0.113.9", "spam", "user", body)
			if rec.Code != http.StatusCreated {
				t.Fatalf("write %d status = %d", i+1, rec.Code)
			}
		}
		rec := send(h, "POST", "/api/messages", "203.0.113.9", "spam", "user", body)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("Retry-After missing on 429")
		}

		// limited client can still read
		rec = send(h, "GET", "/api/messages", "203.0.113.9", "spam", "user", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("read after limit status = %d", rec.Code)
		}

		// other clients unaffected
		rec = send(h, "POST", "/api/messages", "203.0.113.10", "ok", "user", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("other client status = %d", rec.Code)
		}
	})

	t.Run("admin prefix needs role", func(t *testing.T) {
		rec := send(h, "GET", "/api/admin/messages", "203.0.113.2", "", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("anonymous status = %d, want 401", rec.Code)
		}
		rec = send(h, "GET", "/api/admin/messages", "203.0.113.2", "dana", "user", "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("regular user status = %d, want 403", rec.Code)
		}
		rec = send(h, "GET", "/api/admin/messages", "203.0.113.2", "root", "admin", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("admin status = %d, want 200", rec.Code)
		}
	})

	t.Run("health endpoints pass the gates", func(t *testing.T) {
		for _, path := range []string{"/-/healthy", "/-/ready"} {
			rec := send(h, "GET", path, "203.0.113.3", "", "", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("%s status = %d", path, rec.Code)
			}
		}
	})
}

func TestIntegration_OutsideAccessHours(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t, 23, 5)

	rec := send(h, "POST", "/api/messages", "203.0.113.1", "alice", "user",
		`{"recipient":"bob","content":"late"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 outside access hours", rec.Code)
	}
	var e msghttp.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatal(err)
	}
	if e.Error != "outside_access_hours" {
		t.Fatalf("error = %q", e.Error)
	}

	// load balancer probes keep answering overnight
	for _, path := range []string{"/-/healthy", "/-/ready"} {
		rec := send(h, "GET", path, "203.0.113.3", "", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d outside access hours", path, rec.Code)
		}
	}
}

func TestIntegration_Denylist(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := ratelimit.NewSlidingWindow(ctx)
	limiter := ratelimit.New(ctx, store, time.Minute)
	api := msghttp.NewAPI(msghttp.NewStore(0), log.Nop())

	blocked := blockerFunc(func(ip string) bool { return ip == "203.0.113.66" })

	h := httpserver.NewHandler(&httpserver.Options{
		Logger:      log.Nop(),
		DenylistMW:  httpmw.Denylist(blocked, nil),
		RateLimitMW: limiter.Middleware,
		APIRoutes:   api.RegisterRoutes,
	})

	rec := send(h, "GET", "/api/messages", "203.0.113.66", "eve", "user", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("blocked client status = %d, want 403", rec.Code)
	}
	rec = send(h, "GET", "/api/messages", "203.0.113.1", "alice", "user", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clean client status = %d", rec.Code)
	}
}

type blockerFunc func(string) bool

func (f blockerFunc) Blocked(ip string) bool { return f(ip) }

func TestIntegration_PanicRecovered(t *testing.T) {
	t.Parallel()

	h := httpserver.NewHandler(&httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		APIRoutes: func(r chi.Router) {
			r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
				panic("kaboom")
			})
		},
	})

	rec := send(h, "GET", "/boom", "203.0.113.1", "", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("security headers missing on 500")
	}
}
