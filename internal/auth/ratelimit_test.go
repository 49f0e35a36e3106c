package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Allow("1.1.1.1") || !rl.Allow("1.1.1.1") {
		t.Fatal("burst not honoured")
	}
	if rl.Allow("1.1.1.1") {
		t.Error("third request within burst window allowed")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("other IP limited")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !rl.Allow("1.1.1.1") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/", NewRateLimiter(1, 1).Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}
