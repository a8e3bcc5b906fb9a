package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr_NoTrustedHops(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "private IP ignores XFF when no trusted hops",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			want:       "10.0.0.1",
		},
		{
			name:       "public IP ignores XFF",
			remoteAddr: "198.51.100.7:443",
			xff:        "203.0.113.50",
			want:       "198.51.100.7",
		},
		{
			name:       "no XFF returns RemoteAddr IP",
			remoteAddr: "192.168.1.1:9999",
			want:       "192.168.1.1",
		},
		{
			name:       "empty remote addr",
			remoteAddr: "",
			want:       "0.0.0.0",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", http.NoBody)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := extractRealClientAddr(r, 0); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractRealClientAddr_TrustedHops(t *testing.T) {
	tests := []struct {
		name        string
		remoteAddr  string
		xff         string
		trustedHops int
		want        string
	}{
		{
			name:        "single hop takes rightmost entry",
			remoteAddr:  "10.0.0.1:1234",
			xff:         "203.0.113.50",
			trustedHops: 1,
			want:        "203.0.113.50",
		},
		{
			name:        "two hops takes second from end",
			remoteAddr:  "10.0.0.1:1234",
			xff:         "203.0.113.50, 198.51.100.1",
			trustedHops: 2,
			want:        "203.0.113.50",
		},
		{
			name:        "fewer entries than hops fails closed",
			remoteAddr:  "10.0.0.1:1234",
			xff:         "203.0.113.50",
			trustedHops: 3,
			want:        "10.0.0.1",
		},
		{
			name:        "public peer never trusted",
			remoteAddr:  "198.51.100.7:443",
			xff:         "203.0.113.50",
			trustedHops: 1,
			want:        "198.51.100.7",
		},
		{
			name:        "garbage XFF entry ignored",
			remoteAddr:  "10.0.0.1:1234",
			xff:         "not-an-ip",
			trustedHops: 1,
			want:        "10.0.0.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", http.NoBody)
			r.RemoteAddr = tc.remoteAddr
			r.Header.Set("X-Forwarded-For", tc.xff)
			if got := extractRealClientAddr(r, tc.trustedHops); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractRealClientAddr_StripsHeadersWhenUntrusted(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.RemoteAddr = "198.51.100.7:443"
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	r.Header.Set("X-Forwarded-Proto", "https")

	extractRealClientAddr(r, 1)

	if r.Header.Get("X-Forwarded-For") != "" {
		t.Fatal("X-Forwarded-For should be stripped for public peers")
	}
	if r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatal("X-Forwarded-Proto should be stripped for public peers")
	}
}

func TestClientIP_StoresInContext(t *testing.T) {
	var got string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	})

	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.RemoteAddr = "203.0.113.9:5555"
	ClientIP(handler).ServeHTTP(httptest.NewRecorder(), r)

	if got != "203.0.113.9" {
		t.Fatalf("context IP = %q, want 203.0.113.9", got)
	}
}

func TestClientIPFromContext_Missing(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	if got := ClientIPFromContext(r.Context()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
