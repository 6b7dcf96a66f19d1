package service

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/ledger_go_server/internal/pkg/pubsub"
)

// EventPublisher 账户变更通知，发布失败不影响业务结果
type EventPublisher interface {
	Publish(ctx context.Context, event *pubsub.AccountEvent) error
}

func publishEvent(p EventPublisher, event *pubsub.AccountEvent) {
	if p == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s event for user %s: %v", event.Type, event.UserID, err)
	}
}
