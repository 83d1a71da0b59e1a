package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jerry-enebeli/linkcache/config"
	"github.com/stretchr/testify/assert"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "up") })
	r.GET("/links", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func serve(r *gin.Engine, path string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{SecretKey: "top-secret"}})
	r := newRouter(SecretKeyAuthMiddleware())

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{name: "valid key", path: "/links", headers: map[string]string{SecretKeyHeader: "top-secret"}, want: http.StatusOK},
		{name: "missing key", path: "/links", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/links", headers: map[string]string{SecretKeyHeader: "guess"}, want: http.StatusUnauthorized},
		{name: "health check is public", path: "/", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, tt.path, tt.headers))
		})
	}
}

func TestSecretKeyAuthMiddleware_NotConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	r := newRouter(SecretKeyAuthMiddleware())
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/links", map[string]string{SecretKeyHeader: "x"}))
}

func TestRateLimitMiddleware(t *testing.T) {
	rps := 1.0
	burst := 2
	r := newRouter(RateLimitMiddleware(&config.Configuration{
		RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst},
	}))

	assert.Equal(t, http.StatusOK, serve(r, "/links", nil))
	assert.Equal(t, http.StatusOK, serve(r, "/links", nil))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/links", nil))
	assert.Equal(t, http.StatusOK, serve(r, "/", nil))
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	r := newRouter(RateLimitMiddleware(&config.Configuration{}))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, serve(r, "/links", nil))
	}
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "ab"))
}
