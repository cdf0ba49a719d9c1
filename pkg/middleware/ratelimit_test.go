package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimitBurst(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1, 3))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		if code := get(); code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i+1, code)
		}
	}
	if code := get(); code != http.StatusTooManyRequests {
		t.Fatalf("request beyond burst: got %d, want 429", code)
	}
}

func TestRateLimitIsPerIP(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(1, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := get("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first client: got %d", code)
	}
	if code := get("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("first client should be limited, got %d", code)
	}
	// A different client has its own bucket.
	if code := get("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("second client: got %d", code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
	}
	for name, want := range headers {
		if got := w.Header().Get(name); got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
}
