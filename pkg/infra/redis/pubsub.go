package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"comercios/ordersync/internal/stream"
)

// NewClient 创建 Redis 客户端并测试连接
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// ChangeFeed 基于 Redis 发布/订阅的订单变更通知
type ChangeFeed struct {
	client *redis.Client
}

// NewChangeFeed 创建 ChangeFeed
func NewChangeFeed(client *redis.Client) *ChangeFeed {
	return &ChangeFeed{client: client}
}

// Publish 发布变更通知
func (f *ChangeFeed) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Listen 订阅频道；等待订阅确认后才返回
func (f *ChangeFeed) Listen(ctx context.Context, channel string) (stream.Listener, error) {
	ps := f.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe %s: %w", channel, err)
	}

	l := &listener{ps: ps, events: make(chan []byte, 16), done: make(chan struct{})}
	go l.forward()
	return l, nil
}

// listener 把 redis.Message 转成原始负载
type listener struct {
	ps     *redis.PubSub
	events chan []byte
	done   chan struct{}
}

func (l *listener) forward() {
	defer close(l.events)
	for msg := range l.ps.Channel() {
		select {
		case l.events <- []byte(msg.Payload):
		case <-l.done:
			return
		default:
			// 订阅方积压时丢弃，下一次加载会读到最新状态
		}
	}
}

// Events 变更通知
func (l *listener) Events() <-chan []byte {
	return l.events
}

// Close 取消订阅
func (l *listener) Close() error {
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}
	return l.ps.Close()
}
