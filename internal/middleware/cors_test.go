package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSPermissiveByDefault(t *testing.T) {
	h := CORS(nil)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %q", got)
	}
}

func TestCORSAllowList(t *testing.T) {
	h := CORS([]string{"https://my-life-coach-with-ds-2.vercel.app", "*.vercel.app"})(okHandler)

	cases := map[string]bool{
		"https://my-life-coach-with-ds-2.vercel.app": true,
		"https://preview-123.vercel.app":             true,
		"https://vercel.app.evil.com":                false,
		"https://example.com":                        false,
	}
	for origin, allowed := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin")
		if allowed && got != origin {
			t.Fatalf("origin %s should be allowed, got %q", origin, got)
		}
		if !allowed && got != "" {
			t.Fatalf("origin %s should be rejected, got %q", origin, got)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request should still reach the handler, got %d", rec.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("missing allow methods")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials for allow-listed origin")
	}
}
