package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"comercios/ordersync/internal/server/ginx"
	"comercios/ordersync/internal/server/handlers/order"
	"comercios/ordersync/internal/server/handlers/settings"
	"comercios/ordersync/internal/server/middlewares"
	"comercios/ordersync/pkg/logger"
	"comercios/ordersync/pkg/metrics"
)

// Deps 路由依赖
type Deps struct {
	Orders   *order.OrderHandler
	Settings *settings.SettingsHandler
	Logger   logger.Logger
	Metrics  *metrics.HTTP
	Gatherer prometheus.Gatherer
}

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	r := gin.New()

	r.Use(middlewares.CORS())
	r.Use(middlewares.Trace())
	r.Use(middlewares.Logger(d.Logger, d.Metrics))
	r.Use(middlewares.ErrorHandler(d.Logger))

	r.NoRoute(func(c *gin.Context) {
		ginx.NotFound(c, "route "+c.Request.URL.Path+" not found")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "ordersync",
			"message": "Service is running",
		})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stats", d.Orders.Stats)

		orders := v1.Group("/orders")
		{
			orders.GET("", d.Orders.List)
			orders.GET("/:id", d.Orders.Get)
			orders.POST("/:id/accept", d.Orders.Accept)
			orders.POST("/:id/prepare", d.Orders.Prepare)
			orders.POST("/:id/ready", d.Orders.Ready)
			orders.POST("/:id/reject", d.Orders.Reject)
			orders.POST("/:id/handover", d.Orders.HandOver)
			orders.POST("/:id/deliver", d.Orders.Deliver)
		}

		if d.Settings != nil {
			v1.GET("/settings/notifications", d.Settings.GetNotifications)
			v1.PUT("/settings/notifications", d.Settings.UpdateNotifications)
			v1.POST("/presence", d.Settings.Heartbeat)
		}
	}

	return r
}
