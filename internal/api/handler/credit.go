package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/ledger_go_server/internal/api/middleware"
	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/model/dto"
	"github.com/qs3c/ledger_go_server/internal/pkg/response"
	"github.com/qs3c/ledger_go_server/internal/service"
)

type CreditHandler struct {
	creditService *service.CreditService
}

func NewCreditHandler(creditService *service.CreditService) *CreditHandler {
	return &CreditHandler{
		creditService: creditService,
	}
}

// List 当前用户所有能力的剩余额度
// GET /api/v1/credits
func (h *CreditHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	usage, err := h.creditService.GetCreditUsage(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, usage)
}

// Get 单个能力的余额，没有记录时按默认额度创建
// GET /api/v1/credits/:capability
func (h *CreditHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	capability, ok := model.ParseCapability(c.Param("capability"))
	if !ok {
		response.ParamError(c, service.ErrUnknownCapability.Error())
		return
	}

	credit, err := h.creditService.GetBalance(userID, capability)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.CreditInfo{
		Capability:  string(credit.Capability),
		Balance:     credit.Balance,
		LastUpdated: formatTime(credit.LastUpdated),
	})
}

// Consume 扣减一次额度，需经过 CreditCheck
// POST /api/v1/credits/:capability/consume
func (h *CreditHandler) Consume(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	capability, ok := middleware.GetCapability(c)
	if !ok {
		response.ParamError(c, service.ErrUnknownCapability.Error())
		return
	}

	remaining, err := h.creditService.ConsumeCredit(userID, capability)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.ConsumeResponse{
		Capability:       string(capability),
		RemainingCredits: remaining,
	})
}
