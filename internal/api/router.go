package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/api/handler"
	"github.com/qs3c/ledger_go_server/internal/api/middleware"
	"github.com/qs3c/ledger_go_server/internal/service"
)

type Router struct {
	userHandler      *handler.UserHandler
	creditHandler    *handler.CreditHandler
	referralHandler  *handler.ReferralHandler
	webhookHandler   *handler.WebhookHandler
	websocketHandler *handler.WebSocketHandler
	userService      *service.UserService
	creditService    *service.CreditService
	cfg              *config.Config
}

func NewRouter(
	userHandler *handler.UserHandler,
	creditHandler *handler.CreditHandler,
	referralHandler *handler.ReferralHandler,
	webhookHandler *handler.WebhookHandler,
	websocketHandler *handler.WebSocketHandler,
	userService *service.UserService,
	creditService *service.CreditService,
	cfg *config.Config,
) *Router {
	return &Router{
		userHandler:      userHandler,
		creditHandler:    creditHandler,
		referralHandler:  referralHandler,
		webhookHandler:   webhookHandler,
		websocketHandler: websocketHandler,
		userService:      userService,
		creditService:    creditService,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// Stripe 回调，靠签名校验
		api.POST("/webhooks/stripe", r.webhookHandler.Stripe)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 用户
			authenticated.GET("/user/profile", r.userHandler.GetProfile)

			// 额度
			credits := authenticated.Group("/credits")
			{
				credits.GET("", r.creditHandler.List)
				credits.GET("/:capability", r.creditHandler.Get)
				credits.POST("/:capability/consume",
					middleware.CreditCheck(r.userService, r.creditService),
					r.creditHandler.Consume)
			}

			// 推荐
			referral := authenticated.Group("/referral")
			{
				referral.GET("/code", r.referralHandler.GetCode)
				referral.POST("/code/regenerate", r.referralHandler.Regenerate)
				referral.GET("/validate", r.referralHandler.Validate)
				referral.POST("/redeem", r.referralHandler.Redeem)
				referral.GET("/referees", r.referralHandler.Referees)
			}
		}
	}

	return engine
}
