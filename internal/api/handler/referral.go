package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/ledger_go_server/internal/api/middleware"
	"github.com/qs3c/ledger_go_server/internal/model/dto"
	"github.com/qs3c/ledger_go_server/internal/pkg/response"
	"github.com/qs3c/ledger_go_server/internal/service"
)

type ReferralHandler struct {
	referralService *service.ReferralService
}

func NewReferralHandler(referralService *service.ReferralService) *ReferralHandler {
	return &ReferralHandler{
		referralService: referralService,
	}
}

// GetCode 获取推荐码，没有或已过期时生成
// GET /api/v1/referral/code
func (h *ReferralHandler) GetCode(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.referralService.GetOrCreateReferralCode(userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, info)
}

// Regenerate 重新生成推荐码
// POST /api/v1/referral/code/regenerate
func (h *ReferralHandler) Regenerate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.referralService.RegenerateReferralCode(userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "推荐码已更新", info)
}

// Validate 校验推荐码
// GET /api/v1/referral/validate?code=xxx
func (h *ReferralHandler) Validate(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "请提供推荐码")
		return
	}

	result, err := h.referralService.ValidateCode(code)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, result)
}

// Redeem 兑换推荐码，开通 pro 试用
// POST /api/v1/referral/redeem
func (h *ReferralHandler) Redeem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.referralService.RedeemCode(req.Code, userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "兑换成功", result)
}

// Referees 推荐过的用户
// GET /api/v1/referral/referees
func (h *ReferralHandler) Referees(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	referees, err := h.referralService.GetReferees(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, referees)
}

func (h *ReferralHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidReferral):
		response.InvalidReferralError(c, err.Error())
	case errors.Is(err, service.ErrDuplicateReferral):
		response.DuplicateError(c, err.Error())
	case errors.Is(err, service.ErrAlreadySubscribed):
		response.DuplicateError(c, err.Error())
	case errors.Is(err, service.ErrNotEduUser):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFoundError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
