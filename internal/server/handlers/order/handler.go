package order

import (
	"context"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/engine"
)

// Engine 订单引擎（*engine.Controller 实现）
type Engine interface {
	View() engine.View
	Order(orderID string) (domain.Order, error)
	Accept(ctx context.Context, orderID string) error
	StartPreparing(ctx context.Context, orderID string) error
	MarkReady(ctx context.Context, orderID string) error
	Reject(ctx context.Context, orderID, reasonID, reasonLabel string) error
	HandOverToDriver(ctx context.Context, orderID string) error
	MarkDelivered(ctx context.Context, orderID string) error
}

// OrderHandler 订单 HTTP 处理器
type OrderHandler struct {
	engine Engine
}

// NewOrderHandler 创建订单处理器实例
func NewOrderHandler(e Engine) *OrderHandler {
	return &OrderHandler{
		engine: e,
	}
}
