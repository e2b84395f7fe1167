package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/pkg/errorutil"
	"comercios/ordersync/pkg/logger"
)

// OrderSource 订单持久化（MySQL）
type OrderSource interface {
	// ListByStore 返回门店在 since 之后创建的订单；since 为零值表示不限制
	ListByStore(ctx context.Context, storeID string, since time.Time) ([]domain.Order, error)
	// UpdateStatus 条件更新状态，返回订单所属门店
	UpdateStatus(ctx context.Context, orderID string, next domain.Status, extra domain.TransitionExtra) (string, error)
}

// Listener 一个频道上的变更通知
type Listener interface {
	Events() <-chan []byte
	Close() error
}

// ChangeFeed 变更通知（Redis Pub/Sub）
type ChangeFeed interface {
	Listen(ctx context.Context, channel string) (Listener, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ChangePing 变更通知内容；订阅方只把它当作重新加载的信号
type ChangePing struct {
	StoreID string        `json:"store_id"`
	OrderID string        `json:"order_id,omitempty"`
	Status  domain.Status `json:"status,omitempty"`
	At      int64         `json:"at"`
}

// Config 订单流配置
type Config struct {
	ChannelPrefix  string
	Window         time.Duration // 可见窗口，0 表示不限制
	ResyncInterval time.Duration
	ErrorBackoff   time.Duration
}

// Transport 基于 OrderSource + ChangeFeed 的订单流，实现 engine.Transport
type Transport struct {
	cfg    Config
	source OrderSource
	feed   ChangeFeed
	logger logger.Logger
	now    func() time.Time
}

// New 创建 Transport
func New(cfg Config, source OrderSource, feed ChangeFeed, log logger.Logger) *Transport {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "orders"
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 2 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Transport{cfg: cfg, source: source, feed: feed, logger: log, now: time.Now}
}

// Channel 门店的变更频道
func (t *Transport) Channel(storeID string) string {
	return t.cfg.ChannelPrefix + ":" + storeID
}

// SubscribeOrders 先监听频道，再加载并同步推送首份快照，之后在后台协程中
// 每收到一次通知或到达同步周期就重新加载。监听或首次加载失败时返回错误。
func (t *Transport) SubscribeOrders(ctx context.Context, storeID string,
	onSnapshot func([]domain.Order), onError func(error)) (func(), error) {
	channel := t.Channel(storeID)

	// 1. 先监听，避免加载与监听之间的变更丢失
	l, err := t.feed.Listen(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	// 2. 首份快照
	orders, err := t.load(ctx, storeID)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	onSnapshot(orders)

	// 3. 后台循环，生命周期与调用方的 ctx 无关，只由退订结束
	loopCtx, cancel := context.WithCancel(logger.WithStoreID(context.Background(), storeID))
	s := &subscription{
		t:          t,
		storeID:    storeID,
		channel:    channel,
		listener:   l,
		onSnapshot: onSnapshot,
		onError:    onError,
		delivering: atomic.NewBool(false),
	}
	s.wg.Add(1)
	go s.loop(loopCtx)

	t.logger.Infof(loopCtx, "[Stream] subscribed to %s", channel)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if s.delivering.Load() {
				// 在回调中退订：后台协程返回后看到 ctx 已取消即退出
				t.logger.Infof(loopCtx, "[Stream] unsubscribed from %s during delivery", channel)
				return
			}
			s.wg.Wait()
			t.logger.Infof(loopCtx, "[Stream] unsubscribed from %s", channel)
		})
	}, nil
}

// WriteStatus 条件更新后在门店频道上发布变更通知
// 通知发布失败只记录日志，周期同步会补上
func (t *Transport) WriteStatus(ctx context.Context, orderID string, next domain.Status, extra domain.TransitionExtra) error {
	storeID, err := t.source.UpdateStatus(ctx, orderID, next, extra)
	if err != nil {
		return fmt.Errorf("update order %s to %s: %w", orderID, next, err)
	}

	if err := t.Announce(ctx, ChangePing{StoreID: storeID, OrderID: orderID, Status: next}); err != nil {
		t.logger.Warnf(ctx, "[Stream] publish change for order %s failed: %v", orderID, err)
	}
	return nil
}

// Announce 发布一次变更通知（写入方和种子数据工具使用）
func (t *Transport) Announce(ctx context.Context, ping ChangePing) error {
	if ping.At == 0 {
		ping.At = t.now().UnixMilli()
	}
	payload, err := json.Marshal(ping)
	if err != nil {
		return fmt.Errorf("marshal change ping: %w", err)
	}
	return t.feed.Publish(ctx, t.Channel(ping.StoreID), payload)
}

func (t *Transport) load(ctx context.Context, storeID string) ([]domain.Order, error) {
	var since time.Time
	if t.cfg.Window > 0 {
		since = t.now().Add(-t.cfg.Window)
	}
	orders, err := t.source.ListByStore(ctx, storeID, since)
	if err != nil {
		return nil, fmt.Errorf("load orders of store %s: %w", storeID, err)
	}
	return orders, nil
}

// subscription 单个门店的同步循环
type subscription struct {
	t          *Transport
	storeID    string
	channel    string
	listener   Listener
	onSnapshot func([]domain.Order)
	onError    func(error)
	wg         sync.WaitGroup
	delivering *atomic.Bool
}

func (s *subscription) loop(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if s.listener != nil {
			_ = s.listener.Close()
		}
	}()

	ticker := time.NewTicker(s.t.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		var events <-chan []byte
		if s.listener != nil {
			events = s.listener.Events()
		}

		select {
		case <-ctx.Done():
			s.t.logger.Debugf(ctx, "[Stream] context cancelled, exiting")
			return

		case _, ok := <-events:
			if !ok {
				// 1. 频道被意外关闭：报告中断，退避后重新监听
				s.listener = nil
				s.fail(ctx, fmt.Errorf("change feed %s closed", s.channel))
				if !s.relisten(ctx) {
					return
				}
				s.reload(ctx)
				continue
			}
			// 2. 合并积压的通知，只加载一次
			s.drain(events)
			s.reload(ctx)

		case <-ticker.C:
			// 3. 周期同步，兜底丢失的通知
			if s.listener == nil && !s.relisten(ctx) {
				return
			}
			s.reload(ctx)
		}
	}
}

// reload 重新加载并推送快照；失败时报告中断并退避重试，直到成功或退订
func (s *subscription) reload(ctx context.Context) {
	for {
		orders, err := s.t.load(ctx, s.storeID)
		if err == nil {
			if ctx.Err() != nil {
				return
			}
			s.delivering.Store(true)
			s.onSnapshot(orders)
			s.delivering.Store(false)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, err)
		if !s.backoff(ctx) {
			return
		}
	}
}

func (s *subscription) relisten(ctx context.Context) bool {
	for {
		if !s.backoff(ctx) {
			return false
		}
		l, err := s.t.feed.Listen(ctx, s.channel)
		if err == nil {
			s.listener = l
			s.t.logger.Infof(ctx, "[Stream] re-listening on %s", s.channel)
			return true
		}
		s.fail(ctx, fmt.Errorf("listen %s: %w", s.channel, err))
	}
}

func (s *subscription) fail(ctx context.Context, err error) {
	s.t.logger.Warnf(ctx, "[Stream] %v, retrying in %s", err, s.t.cfg.ErrorBackoff)
	if s.onError != nil {
		s.delivering.Store(true)
		s.onError(errorutil.StreamInterrupted(s.storeID, err))
		s.delivering.Store(false)
	}
}

func (s *subscription) backoff(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.t.cfg.ErrorBackoff):
		return true
	}
}

func (s *subscription) drain(events <-chan []byte) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
