package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"comercios/ordersync/internal/detector"
	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/notify"
	"comercios/ordersync/internal/orderstore"
	"comercios/ordersync/pkg/errorutil"
	"comercios/ordersync/pkg/logger"
	"comercios/ordersync/pkg/metrics"
)

// Transport 远端订单流与写入接口
type Transport interface {
	// SubscribeOrders 打开订阅；每次变化推送门店的完整订单列表，流中断通过 onError 报告
	SubscribeOrders(ctx context.Context, storeID string,
		onSnapshot func([]domain.Order), onError func(error)) (unsubscribe func(), err error)
	// WriteStatus 写入状态及附加字段
	WriteStatus(ctx context.Context, orderID string, next domain.Status, extra domain.TransitionExtra) error
}

// Notifier 新订单提醒
type Notifier interface {
	Notify(ctx context.Context, order domain.Order) notify.Report
}

// Options Controller 可选依赖
type Options struct {
	Location *time.Location // “今日”统计时区
	Clock    func() time.Time
	Logger   logger.Logger
	Metrics  *metrics.Engine
}

// Controller 管理单个门店的订阅生命周期，串行应用快照，并提供受状态机保护的动作
//
// 锁顺序：attachMu -> applyMu -> mu。
// attachMu 串行化 Attach/Detach；applyMu 串行化整个快照处理（含提醒）；
// mu 保护状态，写入 I/O 与退订都在 mu 之外执行。
type Controller struct {
	transport Transport
	notifier  Notifier
	logger    logger.Logger
	metrics   *metrics.Engine
	now       func() time.Time

	attachMu sync.Mutex
	applyMu  sync.Mutex

	mu        sync.RWMutex
	storeID   string
	attached  bool
	gen       uint64
	unsub     func()
	detector  *detector.Detector
	store     *orderstore.Store
	inflight  map[string]domain.Status
	stream    StreamState
	lastSnap  time.Time
	observers map[int]func(View)
	nextObs   int
}

// NewController 创建 Controller；notifier 可以为 nil
func NewController(transport Transport, notifier Notifier, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Controller{
		transport: transport,
		notifier:  notifier,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Clock,
		detector:  detector.New(),
		store:     orderstore.New(opts.Location),
		inflight:  make(map[string]domain.Status),
		stream:    StreamState{Status: StreamIdle},
		observers: make(map[int]func(View)),
	}
}

// Attach 绑定门店并打开一个订阅；失败返回 SubscriptionError，不自动重试
// 已绑定同一门店时什么也不做；绑定其他门店时先退订旧订阅
func (c *Controller) Attach(ctx context.Context, storeID string) error {
	if storeID == "" {
		return errorutil.InvalidArgument("store id is required")
	}
	ctx = logger.WithStoreID(ctx, storeID)

	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	// 1. 释放旧订阅，重置识别器；换门店时清空本地视图
	c.mu.Lock()
	if c.attached && c.storeID == storeID {
		c.mu.Unlock()
		c.logger.Debugf(ctx, "[Controller] already attached to store %s", storeID)
		return nil
	}
	prev := c.detachLocked()
	if c.storeID != storeID {
		c.store.Clear()
		c.lastSnap = time.Time{}
	}
	c.detector.Reset()
	c.gen++
	gen := c.gen
	c.storeID = storeID
	c.stream = StreamState{Status: StreamConnecting, Since: c.now()}
	c.mu.Unlock()

	if prev != nil {
		prev()
	}

	// 2. 打开新订阅（可能同步推送首份快照）
	unsub, err := c.transport.SubscribeOrders(ctx, storeID, c.snapshotHandler(gen, storeID), c.errorHandler(gen, storeID))

	// 3. 记录结果
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.gen++
		serr := errorutil.SubscriptionFailed(storeID, err)
		c.stream = StreamState{Status: StreamFailed, LastError: serr.Error(), Since: c.now()}
		c.logger.Errorf(ctx, "[Controller] %v", serr)
		return serr
	}
	c.attached = true
	c.unsub = unsub
	c.logger.Infof(ctx, "[Controller] attached to store %s", storeID)
	return nil
}

// Detach 释放订阅；幂等，写入进行中调用也是安全的
// 本地视图保留最后已知状态
func (c *Controller) Detach() {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	c.mu.Lock()
	storeID := c.storeID
	unsub := c.detachLocked()
	c.mu.Unlock()

	if unsub != nil {
		unsub()
		c.logger.Infof(logger.WithStoreID(context.Background(), storeID), "[Controller] detached from store %s", storeID)
	}
}

// detachLocked 需持有 mu；返回需要在锁外调用的退订函数
func (c *Controller) detachLocked() func() {
	if !c.attached {
		return nil
	}
	c.gen++
	c.attached = false
	unsub := c.unsub
	c.unsub = nil
	c.stream = StreamState{Status: StreamDetached, Since: c.now()}
	return unsub
}

// Attached 当前是否绑定门店
func (c *Controller) Attached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attached
}

// StoreID 当前（或最后一次）绑定的门店
func (c *Controller) StoreID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storeID
}

func (c *Controller) snapshotHandler(gen uint64, storeID string) func([]domain.Order) {
	return func(orders []domain.Order) {
		c.applySnapshot(gen, storeID, orders)
	}
}

func (c *Controller) errorHandler(gen uint64, storeID string) func(error) {
	return func(err error) {
		c.streamFailed(gen, storeID, err)
	}
}

// applySnapshot 分类、替换、重算聚合为一个原子步骤，随后对新订单发出提醒
func (c *Controller) applySnapshot(gen uint64, storeID string, orders []domain.Order) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	ctx := logger.WithStoreID(context.Background(), storeID)

	// 1. 原子应用
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debugf(ctx, "[Controller] drop stale snapshot of %d orders", len(orders))
		return
	}

	scoped := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.StoreID != storeID {
			c.logger.Warnf(ctx, "[Controller] snapshot contains order %s of store %s, ignored", o.ID, o.StoreID)
			continue
		}
		scoped = append(scoped, o)
	}
	deduped, dups := orderstore.Dedup(scoped)
	if len(dups) > 0 {
		c.logger.Warnf(ctx, "[Controller] snapshot contains duplicate ids %v, first occurrence kept", dups)
	}

	classes := c.detector.Classify(deduped)
	now := c.now()
	c.store.Replace(deduped, now)
	c.stream = StreamState{Status: StreamOK, Since: now}
	c.lastSnap = now

	arrivals := detector.Arrivals(classes)
	agg := c.store.Aggregates()
	view := c.viewLocked()
	observers := c.observerList()
	c.mu.Unlock()

	c.metrics.SnapshotApplied(storeID, len(arrivals), agg.PendingCount, len(agg.ActiveOrders))
	c.logger.Debugf(ctx, "[Controller] applied snapshot: orders=%d arrivals=%d pending=%d",
		len(deduped), len(arrivals), agg.PendingCount)

	// 2. 按快照顺序提醒；中途换门店则停止
	if c.notifier != nil {
		for _, o := range arrivals {
			if !c.currentGen(gen) {
				c.logger.Infof(ctx, "[Controller] store switched, %s not notified", o.ID)
				break
			}
			report := c.notifier.Notify(ctx, o)
			if report.Suppressed != "" {
				c.logger.Infof(ctx, "[Controller] notification for %s suppressed: %s", o.ID, report.Suppressed)
			}
		}
	}

	// 3. 通知观察者
	for _, fn := range observers {
		fn(view)
	}
}

// streamFailed 记录流中断，本地视图保持不变
func (c *Controller) streamFailed(gen uint64, storeID string, err error) {
	ctx := logger.WithStoreID(context.Background(), storeID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debugf(ctx, "[Controller] drop stale stream error: %v", err)
		return
	}
	serr := errorutil.Wrap(err)
	if serr.Kind != errorutil.KindStreamInterrupted {
		serr = errorutil.StreamInterrupted(storeID, err)
	}
	c.stream = StreamState{Status: StreamInterrupted, LastError: serr.Error(), Since: c.now()}
	view := c.viewLocked()
	observers := c.observerList()
	c.mu.Unlock()

	c.metrics.StreamInterrupted(storeID)
	c.logger.Warnf(ctx, "[Controller] %v", serr)
	for _, fn := range observers {
		fn(view)
	}
}

func (c *Controller) currentGen(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gen == c.gen
}

// Accept pending -> accepted
func (c *Controller) Accept(ctx context.Context, orderID string) error {
	return c.transition(ctx, "accept", orderID, domain.StatusAccepted, nil)
}

// StartPreparing accepted -> preparing
func (c *Controller) StartPreparing(ctx context.Context, orderID string) error {
	return c.transition(ctx, "prepare", orderID, domain.StatusPreparing, nil)
}

// MarkReady preparing -> ready
func (c *Controller) MarkReady(ctx context.Context, orderID string) error {
	return c.transition(ctx, "ready", orderID, domain.StatusReady, nil)
}

// Reject 拒单进入 cancelled，写入拒单信息；已分配骑手时释放骑手
func (c *Controller) Reject(ctx context.Context, orderID, reasonID, reasonLabel string) error {
	info, err := domain.NewRejectInfo(reasonID, reasonLabel)
	if err != nil {
		c.metrics.Action("reject", string(errorutil.KindOf(err)))
		return err
	}
	return c.transition(ctx, "reject", orderID, domain.StatusCancelled, func(o domain.Order) domain.TransitionExtra {
		info.Timestamp = c.now()
		extra := domain.TransitionExtra{RejectInfo: &info}
		if o.Driver != nil {
			extra.DriverStatus = domain.DriverFreed
		}
		return extra
	})
}

// HandOverToDriver ready -> picked_up，骑手状态转发为 on_way
func (c *Controller) HandOverToDriver(ctx context.Context, orderID string) error {
	return c.transition(ctx, "handover", orderID, domain.StatusPickedUp, driverStatus(domain.DriverOnWay))
}

// MarkDelivered picked_up -> delivered，骑手状态转发为 delivered
func (c *Controller) MarkDelivered(ctx context.Context, orderID string) error {
	return c.transition(ctx, "deliver", orderID, domain.StatusDelivered, driverStatus(domain.DriverDelivered))
}

func driverStatus(st domain.DriverStatus) func(domain.Order) domain.TransitionExtra {
	return func(o domain.Order) domain.TransitionExtra {
		if o.Driver == nil {
			return domain.TransitionExtra{}
		}
		return domain.TransitionExtra{DriverStatus: st}
	}
}

// transition 本地校验后写穿；成功时不修改本地状态，等待下一份快照确认
func (c *Controller) transition(ctx context.Context, action, orderID string, next domain.Status,
	extraFn func(domain.Order) domain.TransitionExtra) (err error) {
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, uuid.NewString())
	}
	ctx = logger.WithAction(logger.WithOrderID(ctx, orderID), action)
	defer func() {
		result := "ok"
		if err != nil {
			result = string(errorutil.KindOf(err))
		}
		c.metrics.Action(action, result)
	}()

	// 1. 本地查找与校验（持有状态锁）
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return errorutil.NotAttached()
	}
	order, ok := c.store.Get(orderID)
	if !ok {
		c.mu.Unlock()
		return errorutil.NotFound(orderID)
	}
	if !domain.CanTransition(order.Status, next) {
		c.mu.Unlock()
		c.logger.Infof(ctx, "[Controller] illegal %s: order %s is %s", action, orderID, order.Status)
		return errorutil.IllegalTransition(orderID, string(order.Status), string(next))
	}
	if _, busy := c.inflight[orderID]; busy {
		c.mu.Unlock()
		return errorutil.TransitionInFlight(orderID)
	}
	var extra domain.TransitionExtra
	if extraFn != nil {
		extra = extraFn(order)
	}
	c.inflight[orderID] = next
	gen := c.gen
	c.mu.Unlock()

	// 2. 写穿（锁外）
	werr := c.transport.WriteStatus(ctx, orderID, next, extra)

	// 3. 清理进行中标记
	c.mu.Lock()
	delete(c.inflight, orderID)
	stale := gen != c.gen
	c.mu.Unlock()

	if werr != nil {
		c.logger.Errorf(ctx, "[Controller] %s order %s failed: %v", action, orderID, werr)
		return errorutil.WriteFailed(orderID, werr)
	}
	if stale {
		c.logger.Infof(ctx, "[Controller] %s order %s completed after detach, result discarded", action, orderID)
		return nil
	}
	c.logger.Infof(ctx, "[Controller] %s order %s written, waiting for confirmation", action, orderID)
	return nil
}
