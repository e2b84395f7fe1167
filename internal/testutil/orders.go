package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"comercios/ordersync/internal/domain"
)

// Epoch 测试用的固定时间
var Epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// NewOrder 构造一个满足金额不变量的订单
func NewOrder(storeID, id string, status domain.Status) domain.Order {
	price := decimal.RequireFromString("4.50")
	return domain.Order{
		ID:            id,
		StoreID:       storeID,
		Status:        status,
		Type:          domain.TypeDelivery,
		PaymentMethod: "cash",
		Items: []domain.Item{
			{Name: "Hamburguesa", UnitPrice: price, Quantity: 2, Subtotal: price.Mul(decimal.NewFromInt(2))},
		},
		Subtotal:    decimal.RequireFromString("9.00"),
		DeliveryFee: decimal.RequireFromString("1.50"),
		Total:       decimal.RequireFromString("10.50"),
		Customer:    domain.Customer{Name: "María", Phone: "+58 412 0000000"},
		Destination: domain.Destination{Address: "Av. Principal, Caracas"},
		CreatedAt:   Epoch,
		UpdatedAt:   Epoch,
	}
}

// WithDriver 给订单附加一个骑手
func WithDriver(o domain.Order, status domain.DriverStatus) domain.Order {
	o.Driver = &domain.Driver{ID: "d1", Name: "José", Phone: "+58 414 0000000", Vehicle: "moto", Rating: 4.8, Status: status}
	return o
}

// SortByID 按 id 排序，使快照顺序稳定
func SortByID(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}

// Clock 可手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建 Clock
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now 当前时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时钟
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
