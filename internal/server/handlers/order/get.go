package order

import (
	"time"

	"github.com/gin-gonic/gin"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/engine"
	"comercios/ordersync/internal/orderstore"
	"comercios/ordersync/internal/server/ginx"
)

// ListResponse 订单列表
type ListResponse struct {
	StoreID  string             `json:"store_id"`
	Attached bool               `json:"attached"`
	Count    int                `json:"count"`
	Orders   []domain.Order     `json:"orders"`
	Stream   engine.StreamState `json:"stream"`
}

// StatsResponse 首页统计
type StatsResponse struct {
	StoreID        string                `json:"store_id"`
	PendingCount   int                   `json:"pending_count"`
	ActiveCount    int                   `json:"active_count"`
	Today          orderstore.TodayStats `json:"today"`
	Stream         engine.StreamState    `json:"stream"`
	LastSnapshotAt time.Time             `json:"last_snapshot_at"`
}

// List 订单列表
// GET /api/v1/orders?active=true
func (h *OrderHandler) List(c *gin.Context) {
	view := h.engine.View()

	orders := view.Orders
	if c.Query("active") == "true" {
		orders = view.Aggregates.ActiveOrders
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	ginx.Success(c, ListResponse{
		StoreID:  view.StoreID,
		Attached: view.Attached,
		Count:    len(orders),
		Orders:   orders,
		Stream:   view.Stream,
	})
}

// Get 订单详情
// GET /api/v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	orderID := c.Param("id")
	if orderID == "" {
		ginx.BadRequest(c, "order_id required")
		return
	}

	order, err := h.engine.Order(orderID)
	if err != nil {
		ginx.FromError(c, err)
		return
	}

	ginx.Success(c, order)
}

// Stats 聚合值与当日统计
// GET /api/v1/stats
func (h *OrderHandler) Stats(c *gin.Context) {
	view := h.engine.View()

	ginx.Success(c, StatsResponse{
		StoreID:        view.StoreID,
		PendingCount:   view.Aggregates.PendingCount,
		ActiveCount:    len(view.Aggregates.ActiveOrders),
		Today:          view.Aggregates.Today,
		Stream:         view.Stream,
		LastSnapshotAt: view.LastSnapshotAt,
	})
}
