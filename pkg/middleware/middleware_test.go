package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var testPrincipal = uuid.MustParse("7d3c6f0e-1a2b-4c5d-8e9f-0a1b2c3d4e5f")

type stubAuth struct{}

func (stubAuth) Authenticate(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "valid" {
		return testPrincipal, nil
	}
	return uuid.Nil, errors.New("rejected")
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := Principal(c)
		c.String(http.StatusOK, id.String())
	})
	r.GET("/", handlers...)
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	r := newRouter(JWTAuthMiddleware(stubAuth{}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer valid", "", http.StatusOK},
		{"lowercase scheme", "bearer valid", "", http.StatusOK},
		{"query token", "", "?access_token=valid", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Token valid", "", http.StatusUnauthorized},
		{"rejected token", "Bearer forged", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && w.Body.String() != testPrincipal.String() {
				t.Fatalf("principal = %q", w.Body.String())
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatalf("missing WWW-Authenticate header")
			}
		})
	}
}

func TestPrincipalOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := PrincipalOrIP(c); got != "ip:203.0.113.7" {
		t.Fatalf("PrincipalOrIP() = %q", got)
	}

	c.Set(PrincipalKey, testPrincipal)
	if got := PrincipalOrIP(c); got != "user:"+testPrincipal.String() {
		t.Fatalf("PrincipalOrIP() = %q", got)
	}
}

// TestRateLimiterFailsOpen verifies requests pass when redis is unreachable.
func TestRateLimiterFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	r := newRouter(NewRateLimiter(RateLimiterConfig{RedisClient: rdb, Limit: 1, Window: time.Minute}))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatalf("rate limit headers set without a counter")
		}
	}
}
