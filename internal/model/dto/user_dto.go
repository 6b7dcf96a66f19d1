package dto

// UserProfile 用户账户信息（返回给前端）
type UserProfile struct {
	ID                         string `json:"id"`
	Email                      string `json:"email"`
	Plan                       string `json:"plan"`
	ReferralCode               string `json:"referral_code,omitempty"`
	ReferralCodeExpirationDate string `json:"referral_code_expiration_date,omitempty"`
	ProPlanExpirationDate      string `json:"pro_plan_expiration_date,omitempty"`
	HasReferrer                bool   `json:"has_referrer"`
	HasReferee                 bool   `json:"has_referee"`
	IsInReferralTrial          bool   `json:"is_in_referral_trial"`
}

// RefereeProfile 被推荐人信息
type RefereeProfile struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Plan         string `json:"plan"`
	ReferralDate string `json:"referral_date"`
}
