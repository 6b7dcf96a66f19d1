package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelAccountEvents = "account_events"
)

// 事件类型
const (
	EventPlanChanged    = "plan_changed"
	EventCreditsChanged = "credits_changed"
)

// 事件类型对应的默认消息
var EventMessages = map[string]string{
	EventPlanChanged:    "套餐已变更",
	EventCreditsChanged: "额度已变更",
}

// AccountEvent 账户变更消息，推送给该用户的所有连接
type AccountEvent struct {
	Type                  string `json:"type"`
	UserID                string `json:"user_id"`
	Plan                  string `json:"plan,omitempty"`
	ProPlanExpirationDate string `json:"pro_plan_expiration_date,omitempty"`
	Capability            string `json:"capability,omitempty"`
	Balance               *int   `json:"balance,omitempty"`
	Message               string `json:"message,omitempty"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish 发布账户事件
func (p *Publisher) Publish(ctx context.Context, event *AccountEvent) error {
	if event.Message == "" {
		if message, ok := EventMessages[event.Type]; ok {
			event.Message = message
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal account event: %w", err)
	}

	return p.client.Publish(ctx, ChannelAccountEvents, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅账户事件，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*AccountEvent)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAccountEvents)
	defer pubsub.Close()

	// 等待订阅确认，保证返回前已经在监听
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event AccountEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue // 忽略解析错误
			}

			handler(&event)
		}
	}
}
