package lmstfy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher 消息发布接口（*Client 实现）
type Publisher interface {
	Publish(queue string, data []byte, ttl, delay uint32) error
}

// PushAlert 推送网关消费的提醒消息
type PushAlert struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	CreatedAt int64             `json:"created_at"`
}

// AlertQueue 把新订单提醒投递到推送队列，由推送网关发给商户端
type AlertQueue struct {
	pub   Publisher
	queue string
	ttl   uint32
	now   func() time.Time
}

// NewAlertQueue 创建 AlertQueue；ttl 为提醒在队列中的有效期
func NewAlertQueue(pub Publisher, queue string, ttl time.Duration) *AlertQueue {
	return &AlertQueue{pub: pub, queue: queue, ttl: uint32(ttl.Seconds()), now: time.Now}
}

// ScheduleLocalAlert 实现 notify.AlertScheduler
func (q *AlertQueue) ScheduleLocalAlert(ctx context.Context, title, body string, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := PushAlert{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Data:      meta,
		CreatedAt: q.now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal push alert: %w", err)
	}

	if err := q.pub.Publish(q.queue, data, q.ttl, 0); err != nil {
		return fmt.Errorf("failed to enqueue push alert: %w", err)
	}
	return nil
}
