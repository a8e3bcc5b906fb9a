package httpmw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/craddockd/msgwall/internal/log"
)

func newBufLogger(buf *bytes.Buffer) log.Logger {
	l, err := log.New(log.Options{App: "test", Level: slog.LevelDebug, JsonFormat: true, Writer: buf})
	if err != nil {
		panic(err)
	}
	return l
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return m
}

func TestAccessLog_EmitsOneLine(t *testing.T) {
	var buf bytes.Buffer
	base := newBufLogger(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	})

	r := httptest.NewRequest("POST", "/api/messages", http.NoBody)
	r.RemoteAddr = "203.0.113.9:1234"

	h := Chain(handler, ClientIP, WithLogger(base), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), r)

	m := decodeLine(t, &buf)
	if m["msg"] != "http request" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["http.response.status_code"] != float64(201) {
		t.Fatalf("status = %v", m["http.response.status_code"])
	}
	if m["url.path"] != "/api/messages" {
		t.Fatalf("path = %v", m["url.path"])
	}
	if m["client.address"] != "203.0.113.9" {
		t.Fatalf("client = %v", m["client.address"])
	}
	if m["http.response.body.size"] != float64(2) {
		t.Fatalf("body size = %v", m["http.response.body.size"])
	}
}

func TestAccessLog_IncludesIdentity(t *testing.T) {
	var buf bytes.Buffer
	base := newBufLogger(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r := httptest.NewRequest("GET", "/api/messages", http.NoBody)
	r.Header.Set("X-User", "dana")
	r.Header.Set("X-User-Role", "moderator")

	h := Chain(handler, ExtractIdentity, WithLogger(base), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), r)

	m := decodeLine(t, &buf)
	if m["user.name"] != "dana" {
		t.Fatalf("user.name = %v", m["user.name"])
	}
	if m["user.role"] != "moderator" {
		t.Fatalf("user.role = %v", m["user.role"])
	}
}

func TestAccessLog_SkipsOpsEndpoints(t *testing.T) {
	var buf bytes.Buffer
	base := newBufLogger(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Chain(handler, WithLogger(base), AccessLog())

	for _, path := range []string{"/-/ready", "/-/healthy", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, http.NoBody))
	}

	if buf.Len() != 0 {
		t.Fatalf("ops endpoints were logged: %s", buf.String())
	}
}

func TestAccessLog_DefaultStatus200(t *testing.T) {
	var buf bytes.Buffer
	base := newBufLogger(&buf)

	// handler never calls WriteHeader or Write
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Chain(handler, WithLogger(base), AccessLog())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", http.NoBody))

	m := decodeLine(t, &buf)
	if m["http.response.status_code"] != float64(200) {
		t.Fatalf("status = %v, want 200", m["http.response.status_code"])
	}
}

func TestScope_TagsRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := newBufLogger(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Info(r.Context(), "handled")
	})
	h := Chain(handler, WithLogger(base), Scope("messages"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/messages", http.NoBody))

	m := decodeLine(t, &buf)
	if m["handler"] != "messages" {
		t.Fatalf("handler = %v, want messages", m["handler"])
	}
}
