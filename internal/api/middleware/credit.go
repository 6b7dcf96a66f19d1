package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/pkg/response"
	"github.com/qs3c/ledger_go_server/internal/service"
)

const (
	CapabilityKey = "capability"
)

// CreditCheck 额度检查中间件：付费套餐且余额大于 0 才放行
func CreditCheck(userService *service.UserService, creditService *service.CreditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		capability, ok := model.ParseCapability(c.Param("capability"))
		if !ok {
			response.ParamError(c, service.ErrUnknownCapability.Error())
			c.Abort()
			return
		}

		paid, err := userService.IsPaidUser(userID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				response.NotFoundError(c, err.Error())
			} else {
				response.ServerError(c, "额度检查失败")
			}
			c.Abort()
			return
		}
		if !paid {
			response.PermissionError(c, "请升级套餐后使用")
			c.Abort()
			return
		}

		out, err := creditService.HasRunOutOfCredits(userID, capability)
		if err != nil {
			response.ServerError(c, "额度检查失败")
			c.Abort()
			return
		}
		if out {
			response.CreditsError(c, service.ErrCreditsExhausted.Error())
			c.Abort()
			return
		}

		c.Set(CapabilityKey, capability)
		c.Next()
	}
}

// GetCapability 从上下文获取已校验的能力
func GetCapability(c *gin.Context) (model.Capability, bool) {
	v, exists := c.Get(CapabilityKey)
	if !exists {
		return "", false
	}
	capability, ok := v.(model.Capability)
	return capability, ok
}
