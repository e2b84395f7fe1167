package settings

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"comercios/ordersync/internal/notify"
	"comercios/ordersync/internal/server/ginx"
)

// Notifications 提醒偏好（*notify.Dispatcher 实现）
type Notifications interface {
	Settings() notify.Settings
	UpdateSettings(s notify.Settings)
}

// Presence 前台心跳（*redis.Presence 实现）
type Presence interface {
	Touch(ctx context.Context, ttl time.Duration) error
}

// UpdateRequest 更新提醒偏好
type UpdateRequest struct {
	NewOrders *bool `json:"new_orders"`
	Sound     *bool `json:"sound"`
	Vibration *bool `json:"vibration"`
}

// SettingsHandler 商户端设置与心跳
type SettingsHandler struct {
	notifications Notifications
	presence      Presence
	presenceTTL   time.Duration
}

// NewSettingsHandler 创建处理器；presence 为 nil 时心跳接口返回 503
func NewSettingsHandler(n Notifications, p Presence, ttl time.Duration) *SettingsHandler {
	return &SettingsHandler{notifications: n, presence: p, presenceTTL: ttl}
}

// GetNotifications GET /api/v1/settings/notifications
func (h *SettingsHandler) GetNotifications(c *gin.Context) {
	ginx.Success(c, h.notifications.Settings())
}

// UpdateNotifications PUT /api/v1/settings/notifications，只修改请求中出现的字段
func (h *SettingsHandler) UpdateNotifications(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	s := h.notifications.Settings()
	if req.NewOrders != nil {
		s.NewOrders = *req.NewOrders
	}
	if req.Sound != nil {
		s.Sound = *req.Sound
	}
	if req.Vibration != nil {
		s.Vibration = *req.Vibration
	}
	h.notifications.UpdateSettings(s)

	ginx.Success(c, s)
}

// Heartbeat POST /api/v1/presence，商户端在前台时周期调用
func (h *SettingsHandler) Heartbeat(c *gin.Context) {
	if h.presence == nil {
		ginx.Error(c, 503, "presence not configured")
		return
	}
	if err := h.presence.Touch(c.Request.Context(), h.presenceTTL); err != nil {
		ginx.InternalError(c, err.Error())
		return
	}
	ginx.Success(c, gin.H{"foreground_ttl_seconds": int(h.presenceTTL.Seconds())})
}
