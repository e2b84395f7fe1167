package order

import (
	"context"

	"github.com/gin-gonic/gin"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/server/ginx"
)

// RejectRequest 拒单请求
type RejectRequest struct {
	ReasonID    string `json:"reason_id" binding:"required,oneof=out_of_stock too_busy closing_soon technical_issue delivery_area other"`
	ReasonLabel string `json:"reason_label" binding:"max=200"`
}

// ActionResponse 动作已提交
type ActionResponse struct {
	OrderID string        `json:"order_id"`
	Target  domain.Status `json:"target_status"`
}

// Accept POST /api/v1/orders/:id/accept
func (h *OrderHandler) Accept(c *gin.Context) {
	h.act(c, domain.StatusAccepted, h.engine.Accept)
}

// Prepare POST /api/v1/orders/:id/prepare
func (h *OrderHandler) Prepare(c *gin.Context) {
	h.act(c, domain.StatusPreparing, h.engine.StartPreparing)
}

// Ready POST /api/v1/orders/:id/ready
func (h *OrderHandler) Ready(c *gin.Context) {
	h.act(c, domain.StatusReady, h.engine.MarkReady)
}

// HandOver POST /api/v1/orders/:id/handover
func (h *OrderHandler) HandOver(c *gin.Context) {
	h.act(c, domain.StatusPickedUp, h.engine.HandOverToDriver)
}

// Deliver POST /api/v1/orders/:id/deliver
func (h *OrderHandler) Deliver(c *gin.Context) {
	h.act(c, domain.StatusDelivered, h.engine.MarkDelivered)
}

// Reject POST /api/v1/orders/:id/reject
func (h *OrderHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	h.act(c, domain.StatusCancelled, func(ctx context.Context, orderID string) error {
		return h.engine.Reject(ctx, orderID, req.ReasonID, req.ReasonLabel)
	})
}

func (h *OrderHandler) act(c *gin.Context, target domain.Status, do func(context.Context, string) error) {
	orderID := c.Param("id")
	if err := do(c.Request.Context(), orderID); err != nil {
		ginx.FromError(c, err)
		return
	}
	ginx.Accepted(c, ActionResponse{OrderID: orderID, Target: target})
}
