package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue 处理失败的 webhook 事件，保留原始载荷供运维重放
type Queue struct {
	client    *redis.Client
	queueName string
}

type FailedEvent struct {
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"`
	Error    string    `json:"error"`
	Payload  []byte    `json:"payload"`
	FailedAt time.Time `json:"failed_at"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将失败事件加入队列
func (q *Queue) Push(ctx context.Context, event *FailedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 取出最早的失败事件（阻塞），超时返回 nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*FailedEvent, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var event FailedEvent
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// Peek 按入队顺序查看前 n 条，不出队
func (q *Queue) Peek(ctx context.Context, n int64) ([]*FailedEvent, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := q.client.LRange(ctx, q.queueName, -n, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]*FailedEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var event FailedEvent
		if err := json.Unmarshal([]byte(raw[i]), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, &event)
	}

	return events, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
