package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"comercios/ordersync/internal/domain"
)

// Alert 一次被记录的提醒
type Alert struct {
	Title string
	Body  string
	Meta  map[string]string
}

// FakeAlerts 记录提醒调用
type FakeAlerts struct {
	mu     sync.Mutex
	alerts []Alert
	Err    error
}

// ScheduleLocalAlert 实现 notify.AlertScheduler
func (f *FakeAlerts) ScheduleLocalAlert(_ context.Context, title, body string, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, Alert{Title: title, Body: body, Meta: meta})
	return f.Err
}

// Alerts 已记录的提醒
func (f *FakeAlerts) Alerts() []Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Alert(nil), f.alerts...)
}

// OrderIDs 被提醒的订单 id，按调用顺序
func (f *FakeAlerts) OrderIDs() []string {
	var ids []string
	for _, a := range f.Alerts() {
		ids = append(ids, a.Meta["orderId"])
	}
	return ids
}

// FakeDevice 记录设备调用
type FakeDevice struct {
	mu    sync.Mutex
	calls []string

	VibrateErr error
	HapticErr  error
	SoundErr   error
	Panic      string // 非空时对应调用直接 panic
}

func (f *FakeDevice) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.Panic == name {
		panic(name + " exploded")
	}
}

// Vibrate 实现 notify.Device
func (f *FakeDevice) Vibrate(_ context.Context, _ []time.Duration) error {
	f.record("vibrate")
	return f.VibrateErr
}

// HapticSuccess 实现 notify.Device
func (f *FakeDevice) HapticSuccess(_ context.Context) error {
	f.record("haptic")
	return f.HapticErr
}

// PlayDefaultSound 实现 notify.Device
func (f *FakeDevice) PlayDefaultSound(_ context.Context) error {
	f.record("sound")
	return f.SoundErr
}

// Calls 调用顺序
func (f *FakeDevice) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// StaticProbe 固定前后台状态
type StaticProbe bool

// IsForeground 实现 notify.ForegroundProbe
func (p StaticProbe) IsForeground(context.Context) bool {
	return bool(p)
}

// Write 一次被记录的状态写入
type Write struct {
	OrderID string
	Next    domain.Status
	Extra   domain.TransitionExtra
}

type subscription struct {
	storeID    string
	onSnapshot func([]domain.Order)
	onError    func(error)
	closed     bool
}

// FakeTransport 内存中的订单流，测试手动推送快照
type FakeTransport struct {
	mu       sync.Mutex
	subs     []*subscription
	writes   []Write
	orders   map[string]domain.Order
	SubErr   error
	WriteErr error

	// WriteHook 在写入返回前调用（可用于阻塞写入或在写入期间触发其他动作）
	WriteHook func(w Write)
	// AutoEcho 为 true 时写入成功后立刻推送新快照
	AutoEcho bool
}

// NewFakeTransport 创建 FakeTransport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{orders: make(map[string]domain.Order)}
}

// SubscribeOrders 实现 engine.Transport
func (f *FakeTransport) SubscribeOrders(_ context.Context, storeID string,
	onSnapshot func([]domain.Order), onError func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubErr != nil {
		return nil, f.SubErr
	}
	sub := &subscription{storeID: storeID, onSnapshot: onSnapshot, onError: onError}
	f.subs = append(f.subs, sub)
	return func() {
		f.mu.Lock()
		sub.closed = true
		f.mu.Unlock()
	}, nil
}

// WriteStatus 实现 engine.Transport；成功时更新内存中的远端状态
func (f *FakeTransport) WriteStatus(_ context.Context, orderID string, next domain.Status, extra domain.TransitionExtra) error {
	w := Write{OrderID: orderID, Next: next, Extra: extra}
	if f.WriteHook != nil {
		f.WriteHook(w)
	}

	f.mu.Lock()
	f.writes = append(f.writes, w)
	if f.WriteErr != nil {
		f.mu.Unlock()
		return f.WriteErr
	}
	o, ok := f.orders[orderID]
	if !ok {
		f.mu.Unlock()
		return errors.New("remote order not found")
	}
	updated, err := domain.ApplyTransition(o, next)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("remote rejected write: %w", err)
	}
	if extra.RejectInfo != nil {
		ri := *extra.RejectInfo
		updated.RejectInfo = &ri
	}
	if extra.DriverStatus != "" && updated.Driver != nil {
		updated.Driver.Status = extra.DriverStatus
	}
	f.orders[orderID] = updated
	echo := f.AutoEcho
	storeID := updated.StoreID
	f.mu.Unlock()

	if echo {
		f.Push(storeID)
	}
	return nil
}

// Seed 设置远端订单
func (f *FakeTransport) Seed(orders ...domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range orders {
		f.orders[o.ID] = o.Clone()
	}
}

// Remote 读取远端订单
func (f *FakeTransport) Remote(id string) (domain.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	return o.Clone(), ok
}

// Push 把指定门店的远端订单作为快照推给所有未关闭的订阅
func (f *FakeTransport) Push(storeID string) {
	f.mu.Lock()
	var snap []domain.Order
	for _, o := range f.orders {
		if o.StoreID == storeID {
			snap = append(snap, o.Clone())
		}
	}
	SortByID(snap)
	subs := f.liveSubs(storeID)
	f.mu.Unlock()

	for _, s := range subs {
		s.onSnapshot(snap)
	}
}

// Deliver 直接推送一份指定的快照（可以包含重复 id 或任意顺序）
func (f *FakeTransport) Deliver(storeID string, snap []domain.Order) {
	f.mu.Lock()
	subs := f.liveSubs(storeID)
	f.mu.Unlock()
	for _, s := range subs {
		s.onSnapshot(snap)
	}
}

// Fail 模拟流中断
func (f *FakeTransport) Fail(storeID string, err error) {
	f.mu.Lock()
	subs := f.liveSubs(storeID)
	f.mu.Unlock()
	for _, s := range subs {
		s.onError(err)
	}
}

// StaleCallbacks 返回已关闭订阅的回调（模拟退订后仍到达的快照）
func (f *FakeTransport) StaleCallbacks(storeID string) []func([]domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []func([]domain.Order)
	for _, s := range f.subs {
		if s.closed && s.storeID == storeID {
			out = append(out, s.onSnapshot)
		}
	}
	return out
}

// Writes 已记录的写入
func (f *FakeTransport) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// OpenSubscriptions 未关闭的订阅数
func (f *FakeTransport) OpenSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.closed {
			n++
		}
	}
	return n
}

// SubscribeCount 累计订阅次数
func (f *FakeTransport) SubscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *FakeTransport) liveSubs(storeID string) []*subscription {
	var out []*subscription
	for _, s := range f.subs {
		if !s.closed && s.storeID == storeID {
			out = append(out, s)
		}
	}
	return out
}
