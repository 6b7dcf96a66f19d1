package dto

// CreditInfo 单个能力的额度
type CreditInfo struct {
	Capability  string `json:"capability"`
	Balance       int    `json:"balance"`
	UsedThisMonth int64  `json:"used_this_month"`
	LastUpdated   string `json:"last_updated,omitempty"`
}

// CreditUsage 用户所有能力的剩余额度
type CreditUsage struct {
	Credits []CreditInfo `json:"credits"`
}

// ConsumeResponse 消费一次额度后的结果
type ConsumeResponse struct {
	Capability       string `json:"capability"`
	RemainingCredits int    `json:"remaining_credits"`
}
