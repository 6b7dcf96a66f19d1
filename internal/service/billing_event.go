package service

import (
	"time"
)

// BillingEvent 计费平台生命周期事件，只能是下面四种之一
type BillingEvent interface {
	billingEvent()
}

// SubscriptionRef 定位订阅所属用户的线索
type SubscriptionRef struct {
	SubscriptionID string
	CustomerID     string
}

// CheckoutCompleted 首次购买成功
type CheckoutCompleted struct {
	UserID         string
	Email          string
	CustomerID     string
	SubscriptionID string
}

// SubscriptionRenewed 订阅更新且取消时间尚未到达，视为续费确认
type SubscriptionRenewed struct {
	Ref      SubscriptionRef
	CancelAt time.Time
}

// SubscriptionCanceling 取消时间已过，立即降级
type SubscriptionCanceling struct {
	Ref      SubscriptionRef
	CancelAt time.Time
}

// SubscriptionCanceled 订阅已删除
type SubscriptionCanceled struct {
	Ref SubscriptionRef
}

func (CheckoutCompleted) billingEvent()     {}
func (SubscriptionRenewed) billingEvent()   {}
func (SubscriptionCanceling) billingEvent() {}
func (SubscriptionCanceled) billingEvent()  {}

// ClassifySubscriptionUpdate 把订阅更新事件归类，没有 cancelAt 时返回 nil 表示忽略
func ClassifySubscriptionUpdate(ref SubscriptionRef, cancelAt *time.Time, now time.Time) BillingEvent {
	if cancelAt == nil {
		return nil
	}
	if cancelAt.Before(now) {
		return SubscriptionCanceling{Ref: ref, CancelAt: *cancelAt}
	}
	return SubscriptionRenewed{Ref: ref, CancelAt: *cancelAt}
}
