package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/service"
)

// 处理的 Stripe 事件类型
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

var (
	ErrUnhandledEvent = errors.New("unhandled stripe event")
	ErrNotConfigured  = errors.New("stripe secret key not configured")
)

// Stripe Webhook 校验与客户查询
type Stripe struct {
	webhookSecret string
	customers     *customer.Client
}

func NewStripe(cfg *config.StripeConfig) *Stripe {
	s := &Stripe{webhookSecret: cfg.WebhookSecret}
	if cfg.SecretKey != "" {
		s.customers = &customer.Client{
			B:   stripe.GetBackend(stripe.APIBackend),
			Key: cfg.SecretKey,
		}
	}
	return s
}

// VerifyEvent 校验签名并解析事件
func (s *Stripe) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		return stripe.Event{}, errors.New("stripe webhook secret not configured")
	}
	return webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
}

// CustomerEmail 按客户 ID 查邮箱，已删除的客户返回空串
func (s *Stripe) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if s.customers == nil {
		return "", ErrNotConfigured
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := s.customers.Get(customerID, params)
	if err != nil {
		return "", err
	}
	if cust.Deleted {
		return "", nil
	}
	return cust.Email, nil
}

// ToBillingEvent 把 Stripe 事件转换为账户状态机事件
// 不关心的事件类型返回 ErrUnhandledEvent，无需处理的订阅更新返回 (nil, nil)
func ToBillingEvent(event stripe.Event, now time.Time) (service.BillingEvent, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	switch string(event.Type) {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		return checkoutEvent(&sess), nil

	case EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		var cancelAt *time.Time
		if sub.CancelAt > 0 {
			t := time.Unix(sub.CancelAt, 0).UTC()
			cancelAt = &t
		}
		return service.ClassifySubscriptionUpdate(subscriptionRef(&sub), cancelAt, now), nil

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return service.SubscriptionCanceled{Ref: subscriptionRef(&sub)}, nil
	}

	return nil, ErrUnhandledEvent
}

func checkoutEvent(sess *stripe.CheckoutSession) service.CheckoutCompleted {
	ev := service.CheckoutCompleted{
		UserID: sess.ClientReferenceID,
		Email:  sess.CustomerEmail,
	}
	if ev.Email == "" && sess.CustomerDetails != nil {
		ev.Email = sess.CustomerDetails.Email
	}
	if sess.Customer != nil {
		ev.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		ev.SubscriptionID = sess.Subscription.ID
	}
	return ev
}

func subscriptionRef(sub *stripe.Subscription) service.SubscriptionRef {
	ref := service.SubscriptionRef{SubscriptionID: sub.ID}
	if sub.Customer != nil {
		ref.CustomerID = sub.Customer.ID
	}
	return ref
}
