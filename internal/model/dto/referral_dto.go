package dto

// ReferralCodeInfo 推荐码及到期时间
type ReferralCodeInfo struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

// ReferralValidation 推荐码校验结果
type ReferralValidation struct {
	IsValid    bool   `json:"is_valid"`
	ReferrerID string `json:"referrer_id,omitempty"`
}

// RedeemRequest 兑换推荐码
type RedeemRequest struct {
	Code string `json:"code" binding:"required,min=4,max=32"`
}

// RedeemResponse 兑换结果
type RedeemResponse struct {
	Plan                  string `json:"plan"`
	ProPlanExpirationDate string `json:"pro_plan_expiration_date"`
}
