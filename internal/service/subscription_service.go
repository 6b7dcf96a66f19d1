package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/config"
	"github.com/qs3c/ledger_go_server/internal/model"
	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
)

var ErrUserResolution = errors.New("无法确定计费事件对应的用户")

// UserResolutionError 订阅事件找不到对应用户，需要人工介入
type UserResolutionError struct {
	SubscriptionID string
	CustomerID     string
	Email          string
}

func (e *UserResolutionError) Error() string {
	return fmt.Sprintf("%s: subscription=%q customer=%q email=%q",
		ErrUserResolution.Error(), e.SubscriptionID, e.CustomerID, e.Email)
}

func (e *UserResolutionError) Is(target error) bool {
	return target == ErrUserResolution
}

// SubscriptionUserStore 订阅状态机需要的用户持久化端口
type SubscriptionUserStore interface {
	GetByID(id string) (*model.User, error)
	GetByEmail(email string) (*model.User, error)
	GetByStripeSubscriptionID(subscriptionID string) (*model.User, error)
	UpdatePlan(user *model.User) error
	UpdateFields(id string, fields map[string]interface{}) error
	ListExpiredPro(cutoff time.Time) ([]*model.User, error)
	DowngradeExpiredPro(cutoff time.Time) (int64, error)
}

// CustomerDirectory 通过计费平台的客户 ID 查邮箱
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type SubscriptionService struct {
	users     SubscriptionUserStore
	customers CustomerDirectory
	publisher EventPublisher
	cfg       *config.Config
	now       func() time.Time
}

// NewSubscriptionService customers 为 nil 时只能按订阅 ID 定位用户
func NewSubscriptionService(users SubscriptionUserStore, customers CustomerDirectory, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{
		users:     users,
		customers: customers,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher 设置账户事件发布者
func (s *SubscriptionService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// Now 状态机当前时间，用于归类订阅更新事件
func (s *SubscriptionService) Now() time.Time {
	return s.now()
}

// Apply 应用一个计费事件，所有转换都是绝对状态，重复投递结果不变
func (s *SubscriptionService) Apply(ctx context.Context, event BillingEvent) error {
	switch ev := event.(type) {
	case CheckoutCompleted:
		return s.applyCheckout(ctx, ev)
	case SubscriptionRenewed:
		return s.setPlan(ctx, ev.Ref, model.PlanPro)
	case SubscriptionCanceling:
		return s.setPlan(ctx, ev.Ref, model.PlanFree)
	case SubscriptionCanceled:
		return s.setPlan(ctx, ev.Ref, model.PlanFree)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported billing event %T", event)
	}
}

func (s *SubscriptionService) applyCheckout(ctx context.Context, ev CheckoutCompleted) error {
	user, err := s.resolveCheckout(ctx, ev)
	if err != nil {
		return err
	}

	user.ApplyPlan(model.PlanPro, nil)
	fields := user.PlanFields()
	if ev.CustomerID != "" {
		fields["stripe_customer_id"] = ev.CustomerID
	}
	if ev.SubscriptionID != "" {
		fields["stripe_subscription_id"] = ev.SubscriptionID
	}
	if err := s.users.UpdateFields(user.ID, fields); err != nil {
		return err
	}

	log.Printf("Checkout completed: user=%s subscription=%s", user.ID, ev.SubscriptionID)
	s.publishPlan(user)
	return nil
}

func (s *SubscriptionService) resolveCheckout(ctx context.Context, ev CheckoutCompleted) (*model.User, error) {
	if ev.UserID != "" {
		user, err := s.users.GetByID(ev.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if ev.Email != "" {
		user, err := s.users.GetByEmail(ev.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if ev.CustomerID != "" {
		user, err := s.resolveByCustomer(ctx, ev.CustomerID)
		if err != nil || user != nil {
			return user, err
		}
	}

	return nil, &UserResolutionError{
		SubscriptionID: ev.SubscriptionID,
		CustomerID:     ev.CustomerID,
		Email:          ev.Email,
	}
}

func (s *SubscriptionService) setPlan(ctx context.Context, ref SubscriptionRef, plan string) error {
	user, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}

	user.ApplyPlan(plan, nil)
	if err := s.users.UpdatePlan(user); err != nil {
		return err
	}

	log.Printf("Subscription %s: user=%s plan=%s", ref.SubscriptionID, user.ID, plan)
	s.publishPlan(user)
	return nil
}

// resolve 先按订阅 ID，再按客户 ID 对应的邮箱
func (s *SubscriptionService) resolve(ctx context.Context, ref SubscriptionRef) (*model.User, error) {
	if ref.SubscriptionID != "" {
		user, err := s.users.GetByStripeSubscriptionID(ref.SubscriptionID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if ref.CustomerID != "" {
		user, err := s.resolveByCustomer(ctx, ref.CustomerID)
		if err != nil || user != nil {
			return user, err
		}
	}

	return nil, &UserResolutionError{
		SubscriptionID: ref.SubscriptionID,
		CustomerID:     ref.CustomerID,
	}
}

// resolveByCustomer 找不到时返回 (nil, nil)
func (s *SubscriptionService) resolveByCustomer(ctx context.Context, customerID string) (*model.User, error) {
	if s.customers == nil {
		return nil, nil
	}

	email, err := s.customers.CustomerEmail(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("lookup customer %s: %w", customerID, err)
	}
	if email == "" {
		return nil, nil
	}

	user, err := s.users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// DowngradeExpiredProAccounts 到期超过宽限期的 pro 用户降为 free
func (s *SubscriptionService) DowngradeExpiredProAccounts() (int64, error) {
	cutoff := s.now().Add(-s.cfg.Subscription.GracePeriod())

	users, err := s.users.ListExpiredPro(cutoff)
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		return 0, nil
	}

	affected, err := s.users.DowngradeExpiredPro(cutoff)
	if err != nil {
		return 0, err
	}

	for _, user := range users {
		user.ApplyPlan(model.PlanFree, nil)
		s.publishPlan(user)
	}

	log.Printf("Downgraded %d expired pro accounts (cutoff %s)", affected, cutoff.Format(time.RFC3339))
	return affected, nil
}

// ListExpiredProAccounts 下一次降级会处理的用户
func (s *SubscriptionService) ListExpiredProAccounts() ([]*model.User, error) {
	return s.users.ListExpiredPro(s.now().Add(-s.cfg.Subscription.GracePeriod()))
}

func (s *SubscriptionService) publishPlan(user *model.User) {
	event := &pubsub.AccountEvent{
		Type:   pubsub.EventPlanChanged,
		UserID: user.ID,
		Plan:   user.Plan,
	}
	if user.ProPlanExpirationDate != nil {
		event.ProPlanExpirationDate = user.ProPlanExpirationDate.Format(time.RFC3339)
	}
	publishEvent(s.publisher, event)
}
