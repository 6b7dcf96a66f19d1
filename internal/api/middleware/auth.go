package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/ledger_go_server/internal/pkg/jwt"
	"github.com/qs3c/ledger_go_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
)

// 认证失败原因，Error() 即返回给客户端的提示
var (
	ErrMissingToken = errors.New("请提供认证信息")
	ErrBadScheme    = errors.New("认证格式错误")
	ErrTokenExpired = errors.New("登录已过期，请重新登录")
	ErrTokenInvalid = errors.New("认证失败")
)

// Auth 校验认证服务签发的 Bearer 令牌，把用户 ID 写入上下文
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortAuth(c, ErrMissingToken)
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			abortAuth(c, ErrBadScheme)
			return
		}

		userID, err := UserFromToken(token, jwtSecret)
		if err != nil {
			abortAuth(c, err)
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserFromToken 解析令牌中的用户 ID（user_id，缺省时取 sub）。
// 浏览器 websocket 无法带 Authorization 头，/ws 直接用查询参数里的令牌调用它
func UserFromToken(token, jwtSecret string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	claims, err := jwt.ParseToken(token, jwtSecret)
	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		return "", ErrTokenExpired
	case err != nil:
		return "", ErrTokenInvalid
	}
	return claims.UserID, nil
}

func abortAuth(c *gin.Context, err error) {
	response.AuthError(c, err.Error())
	c.Abort()
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}
