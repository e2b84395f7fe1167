package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status 订单状态
type Status string

// 订单状态常量
const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Statuses 按生命周期顺序返回全部状态
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusAccepted,
		StatusPreparing,
		StatusReady,
		StatusPickedUp,
		StatusDelivered,
		StatusCancelled,
	}
}

// ParseStatus 解析状态（大小写不敏感，历史数据中存在 PENDING 这类写法）
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal 终态：delivered / cancelled
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsActive 门店仍需处理的状态
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady:
		return true
	}
	return false
}

// DriverStatus 骑手状态（由外部派单系统维护，本服务只读取和转发）
type DriverStatus string

// 骑手状态常量
const (
	DriverAssigned  DriverStatus = "assigned"
	DriverOnWay     DriverStatus = "on_way"
	DriverDelivered DriverStatus = "delivered"
	DriverFreed     DriverStatus = "freed"
)

// OrderType 配送方式
type OrderType string

const (
	TypeDelivery OrderType = "delivery"
	TypePickup   OrderType = "pickup"
)

// Item 订单行
type Item struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Notes     string          `json:"notes,omitempty"`
}

// Customer 顾客信息（仅展示）
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Driver 骑手信息
type Driver struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Phone   string       `json:"phone"`
	Vehicle string       `json:"vehicle"`
	Rating  float64      `json:"rating"`
	Status  DriverStatus `json:"status"`
}

// Destination 配送地址
type Destination struct {
	Address string `json:"address"`
}

// RejectInfo 拒单信息，只在进入 cancelled 时写入一次
type RejectInfo struct {
	ReasonID    RejectReason `json:"reason_id"`
	ReasonLabel string       `json:"reason_label"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Order 订单实体
type Order struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	Status        Status          `json:"status"`
	Type          OrderType       `json:"type,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	Total         decimal.Decimal `json:"total"`
	Customer      Customer        `json:"customer"`
	Destination   Destination     `json:"destination"`
	Driver        *Driver         `json:"driver,omitempty"`
	RejectInfo    *RejectInfo     `json:"reject_info,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ItemCount 商品总件数
func (o Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Clone 深拷贝，避免调用方修改共享的切片和指针
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.Driver != nil {
		d := *o.Driver
		c.Driver = &d
	}
	if o.RejectInfo != nil {
		r := *o.RejectInfo
		c.RejectInfo = &r
	}
	return c
}

// Validate 校验创建时的不变量
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if o.StoreID == "" {
		return fmt.Errorf("order %s: store id is required", o.ID)
	}
	if _, err := ParseStatus(string(o.Status)); err != nil {
		return fmt.Errorf("order %s: %w", o.ID, err)
	}

	sum := decimal.Zero
	for i, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("order %s: item %d quantity must be positive", o.ID, i)
		}
		if !it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Equal(it.Subtotal) {
			return fmt.Errorf("order %s: item %d subtotal mismatch", o.ID, i)
		}
		sum = sum.Add(it.Subtotal)
	}
	if !sum.Equal(o.Subtotal) {
		return fmt.Errorf("order %s: subtotal %s does not match items %s", o.ID, o.Subtotal, sum)
	}
	if !o.Subtotal.Add(o.DeliveryFee).Equal(o.Total) {
		return fmt.Errorf("order %s: total %s != subtotal %s + delivery fee %s",
			o.ID, o.Total, o.Subtotal, o.DeliveryFee)
	}
	return nil
}

// TransitionExtra 随状态写入一起提交的附加字段
type TransitionExtra struct {
	RejectInfo   *RejectInfo  `json:"reject_info,omitempty"`
	DriverStatus DriverStatus `json:"driver_status,omitempty"`
}
