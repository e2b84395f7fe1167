package engine

import (
	"time"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/orderstore"
	"comercios/ordersync/pkg/errorutil"
)

// 订阅流状态
const (
	StreamIdle        = "idle"
	StreamConnecting  = "connecting"
	StreamOK          = "ok"
	StreamInterrupted = "interrupted"
	StreamFailed      = "failed"
	StreamDetached    = "detached"
)

// StreamState 订阅流的当前状态
type StreamState struct {
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// View 本地视图的不可变副本
type View struct {
	StoreID        string                `json:"store_id"`
	Attached       bool                  `json:"attached"`
	Orders         []domain.Order        `json:"orders"`
	Aggregates     orderstore.Aggregates `json:"aggregates"`
	Stream         StreamState           `json:"stream"`
	LastSnapshotAt time.Time             `json:"last_snapshot_at"`
}

// View 返回当前视图
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked()
}

// Aggregates 返回当前聚合值
func (c *Controller) Aggregates() orderstore.Aggregates {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Aggregates()
}

// Order 按 id 查询本地订单
func (c *Controller) Order(orderID string) (domain.Order, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.store.Get(orderID)
	if !ok {
		return domain.Order{}, errorutil.NotFound(orderID)
	}
	return o, nil
}

// Subscribe 每次应用快照或流中断后回调 fn
// 回调在订单流的投递协程中执行：可以调用 Detach，不能调用 Attach
func (c *Controller) Subscribe(fn func(View)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) viewLocked() View {
	return View{
		StoreID:        c.storeID,
		Attached:       c.attached,
		Orders:         c.store.Orders(),
		Aggregates:     c.store.Aggregates(),
		Stream:         c.stream,
		LastSnapshotAt: c.lastSnap,
	}
}

func (c *Controller) observerList() []func(View) {
	out := make([]func(View), 0, len(c.observers))
	for i := 0; i < c.nextObs; i++ {
		if fn, ok := c.observers[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
