package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/ledger_go_server/config"
)

var testCORSConfig = config.CORSConfig{
	AllowedOrigins: []string{"http://localhost:3000", "https://app.example.com"},
	AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	AllowedHeaders: []string{"Content-Type", "Authorization"},
}

// setupCORSRouter 模拟线上路由：积分接口和 Stripe 回调，记录是否进入了业务处理
func setupCORSRouter(reached *int) *gin.Engine {
	router := gin.New()
	router.Use(CORS(testCORSConfig))

	handle := func(c *gin.Context) {
		*reached++
		c.JSON(http.StatusOK, gin.H{})
	}
	router.GET("/api/v1/credits", handle)
	router.POST("/api/v1/webhooks/stripe", handle)
	return router
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"listed", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"not listed", []string{"https://app.example.com"}, "https://evil.example.com", false},
		{"empty origin", []string{"https://app.example.com"}, "", false},
		{"empty list", nil, "https://app.example.com", false},
		{"scheme must match", []string{"https://app.example.com"}, "http://app.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.allowed, tt.origin))
		})
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	var reached int
	router := setupCORSRouter(&reached)

	req := httptest.NewRequest("GET", "/api/v1/credits", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, reached)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))
}

func TestCORS_NotAllowedOrigin(t *testing.T) {
	var reached int
	router := setupCORSRouter(&reached)

	req := httptest.NewRequest("GET", "/api/v1/credits", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// 请求照常处理，浏览器因缺少 Allow-Origin 拒绝读取
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_WebhookPreflight(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		allowOrigin string
	}{
		{"allowed origin", "http://localhost:3000", "http://localhost:3000"},
		{"foreign origin", "https://evil.example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reached int
			router := setupCORSRouter(&reached)

			req := httptest.NewRequest("OPTIONS", "/api/v1/webhooks/stripe", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Zero(t, reached)
			assert.Equal(t, tt.allowOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_ServerToServerWebhook(t *testing.T) {
	var reached int
	router := setupCORSRouter(&reached)

	// Stripe 回调不带 Origin
	req := httptest.NewRequest("POST", "/api/v1/webhooks/stripe", nil)
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, reached)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
