package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/ledger_go_server/internal/pkg/queue"
)

type Mailer interface {
	SendOperatorAlert(to, subject, body string) error
}

type DeadLetterQueue interface {
	Push(ctx context.Context, event *queue.FailedEvent) error
}

// Failure 一次 webhook 处理失败
type Failure struct {
	EventID string
	Type    string
	Payload []byte
	Err     error
}

// Notifier 通知运维并保存失败事件，两者互不影响
type Notifier struct {
	mailer   Mailer
	dlq      DeadLetterQueue
	operator string
	now      func() time.Time
}

func NewNotifier(mailer Mailer, dlq DeadLetterQueue, operator string) *Notifier {
	return &Notifier{
		mailer:   mailer,
		dlq:      dlq,
		operator: operator,
		now:      time.Now,
	}
}

// Notify 尽力而为，失败只记日志
func (n *Notifier) Notify(ctx context.Context, f Failure) {
	if n == nil {
		return
	}

	reason := "unknown"
	if f.Err != nil {
		reason = f.Err.Error()
	}
	failedAt := n.now().UTC()

	if n.dlq != nil {
		err := n.dlq.Push(ctx, &queue.FailedEvent{
			EventID:  f.EventID,
			Type:     f.Type,
			Error:    reason,
			Payload:  f.Payload,
			FailedAt: failedAt,
		})
		if err != nil {
			log.Printf("Failed to enqueue failed webhook event %s: %v", f.EventID, err)
		}
	}

	if n.mailer != nil && n.operator != "" {
		subject := fmt.Sprintf("webhook %s 处理失败", f.Type)
		body := fmt.Sprintf("event_id: %s\ntype: %s\nfailed_at: %s\nerror: %s\n",
			f.EventID, f.Type, failedAt.Format(time.RFC3339), reason)
		if err := n.mailer.SendOperatorAlert(n.operator, subject, body); err != nil {
			log.Printf("Failed to send operator alert for event %s: %v", f.EventID, err)
		}
	}
}
