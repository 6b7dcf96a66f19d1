package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/ledger_go_server/config"
)

// OriginAllowed 浏览器来源是否在白名单内，跨域和 /ws 升级共用
func OriginAllowed(allowed []string, origin string) bool {
	return origin != "" && slices.Contains(allowed, origin)
}

// CORS 跨域中间件。不在白名单的来源不回 Allow-Origin，由浏览器拦截；
// Stripe 这类服务端调用不带 Origin，不受影响
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Header("Vary", "Origin")

		if OriginAllowed(cfg.AllowedOrigins, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", "86400")
		}

		// 预检请求不进入业务处理
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
