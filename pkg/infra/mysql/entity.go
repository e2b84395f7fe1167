package mysql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"comercios/ordersync/internal/domain"
)

// OrderRecord 订单表
type OrderRecord struct {
	// 基础字段
	ID      string `gorm:"column:id;primaryKey;type:varchar(64)"`
	StoreID string `gorm:"column:store_id;type:varchar(64);not null;index:idx_store_created"`

	// 状态（历史数据中可能是大写）
	Status string `gorm:"column:status;type:varchar(16);not null;default:'pending'"`

	// 订单内容
	Type          string          `gorm:"column:type;type:varchar(16)"`
	PaymentMethod string          `gorm:"column:payment_method;type:varchar(32)"`
	Items         datatypes.JSON  `gorm:"column:items;type:json;not null"`
	Subtotal      decimal.Decimal `gorm:"column:subtotal;type:decimal(12,2);not null"`
	DeliveryFee   decimal.Decimal `gorm:"column:delivery_fee;type:decimal(12,2);not null"`
	Total         decimal.Decimal `gorm:"column:total;type:decimal(12,2);not null"`
	Customer      datatypes.JSON  `gorm:"column:customer;type:json"`
	Address       string          `gorm:"column:address;type:varchar(255)"`

	// 骑手与拒单信息
	Driver     datatypes.JSON `gorm:"column:driver;type:json"`
	RejectInfo datatypes.JSON `gorm:"column:reject_info;type:json"`

	// 时间戳
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_store_created"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (OrderRecord) TableName() string {
	return "orders"
}

// toRecord 领域订单 -> 表记录
func toRecord(o domain.Order) (*OrderRecord, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return nil, fmt.Errorf("marshal customer: %w", err)
	}

	rec := &OrderRecord{
		ID:            o.ID,
		StoreID:       o.StoreID,
		Status:        string(o.Status),
		Type:          string(o.Type),
		PaymentMethod: o.PaymentMethod,
		Items:         datatypes.JSON(items),
		Subtotal:      o.Subtotal,
		DeliveryFee:   o.DeliveryFee,
		Total:         o.Total,
		Customer:      datatypes.JSON(customer),
		Address:       o.Destination.Address,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Driver != nil {
		b, err := json.Marshal(o.Driver)
		if err != nil {
			return nil, fmt.Errorf("marshal driver: %w", err)
		}
		rec.Driver = datatypes.JSON(b)
	}
	if o.RejectInfo != nil {
		b, err := json.Marshal(o.RejectInfo)
		if err != nil {
			return nil, fmt.Errorf("marshal reject info: %w", err)
		}
		rec.RejectInfo = datatypes.JSON(b)
	}
	return rec, nil
}

// toDomain 表记录 -> 领域订单
func (r *OrderRecord) toDomain() (domain.Order, error) {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", r.ID, err)
	}

	o := domain.Order{
		ID:            r.ID,
		StoreID:       r.StoreID,
		Status:        status,
		Type:          domain.OrderType(r.Type),
		PaymentMethod: r.PaymentMethod,
		Subtotal:      r.Subtotal,
		DeliveryFee:   r.DeliveryFee,
		Total:         r.Total,
		Destination:   domain.Destination{Address: r.Address},
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := unmarshalJSON(r.Items, &o.Items); err != nil {
		return domain.Order{}, fmt.Errorf("order %s items: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.Customer, &o.Customer); err != nil {
		return domain.Order{}, fmt.Errorf("order %s customer: %w", r.ID, err)
	}
	if hasJSON(r.Driver) {
		o.Driver = &domain.Driver{}
		if err := json.Unmarshal(r.Driver, o.Driver); err != nil {
			return domain.Order{}, fmt.Errorf("order %s driver: %w", r.ID, err)
		}
	}
	if hasJSON(r.RejectInfo) {
		o.RejectInfo = &domain.RejectInfo{}
		if err := json.Unmarshal(r.RejectInfo, o.RejectInfo); err != nil {
			return domain.Order{}, fmt.Errorf("order %s reject info: %w", r.ID, err)
		}
	}
	return o, nil
}

func hasJSON(b datatypes.JSON) bool {
	return len(b) > 0 && string(b) != "null"
}

func unmarshalJSON(b datatypes.JSON, v interface{}) error {
	if !hasJSON(b) {
		return nil
	}
	return json.Unmarshal(b, v)
}
