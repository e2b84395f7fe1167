package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"comercios/ordersync/internal/engine"
	"comercios/ordersync/internal/notify"
	"comercios/ordersync/internal/server/handlers/order"
	"comercios/ordersync/internal/server/handlers/settings"
	"comercios/ordersync/internal/server/routers"
	"comercios/ordersync/internal/stream"
	"comercios/ordersync/pkg/config"
	"comercios/ordersync/pkg/infra/mysql"
	"comercios/ordersync/pkg/infra/redis"
	"comercios/ordersync/pkg/lmstfy"
	"comercios/ordersync/pkg/logger"
	"comercios/ordersync/pkg/metrics"
)

// presenceTTL 商户端前台心跳的有效期
const presenceTTL = 30 * time.Second

const shutdownTimeout = 10 * time.Second

// Manager 接口
type Manager interface {
	Start() error
	Shutdown()
}

// Attacher 绑定门店（*engine.Controller 实现）
type Attacher interface {
	Attach(ctx context.Context, storeID string) error
	Detach()
}

// Components Manager 管理的组件
type Components struct {
	Attacher Attacher
	Handler  http.Handler
	Closers  []func() error
}

// ManagerInstance Manager 实例：绑定门店、提供 HTTP 接口，退出时释放订阅与连接
type ManagerInstance struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *config.Config
	comps      Components
	server     *http.Server
	closing    *atomic.Bool
	shutdownCh chan struct{}
	mu         sync.Mutex
	listener   net.Listener
	logger     logger.Logger
}

// NewManagerInstance 创建 Manager，初始化 MySQL、Redis、Lmstfy 与订单引擎
func NewManagerInstance(cfg *config.Config, log logger.Logger) (Manager, error) {
	ctx := context.Background()

	comps, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return newManager(cfg, log, comps), nil
}

func newManager(cfg *config.Config, log logger.Logger, comps Components) *ManagerInstance {
	ctx, cancel := context.WithCancel(context.Background())
	return &ManagerInstance{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		comps:      comps,
		closing:    atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		logger:     log,
	}
}

func buildComponents(ctx context.Context, cfg *config.Config, log logger.Logger) (Components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Components{}, fmt.Errorf("invalid timezone: %w", err)
	}

	// 1. 基础设施
	dao, err := mysql.NewOrderDAO(cfg.MySQL.DSN)
	if err != nil {
		return Components{}, fmt.Errorf("failed to create order dao: %w", err)
	}
	dao.SetLogger(log)

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = dao.Close()
		return Components{}, fmt.Errorf("failed to create redis client: %w", err)
	}

	lmstfyClient, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
	if err != nil {
		_ = rdb.Close()
		_ = dao.Close()
		return Components{}, fmt.Errorf("failed to create lmstfy client: %w", err)
	}

	// 2. 指标
	reg := prometheus.NewRegistry()
	engineMetrics := metrics.NewEngine(reg)
	httpMetrics := metrics.NewHTTP(reg)

	// 3. 提醒：推送走 Lmstfy，前台反馈走 Redis 设备频道
	presence := redis.NewPresence(rdb, cfg.Notification.PresencePrefix, cfg.Store.ID)
	dispatcher := notify.NewDispatcher(notify.Config{
		Settings: notify.Settings{
			NewOrders: cfg.Notification.NewOrders,
			Sound:     cfg.Notification.Sound,
			Vibration: cfg.Notification.Vibration,
		},
		Rate:             cfg.Notification.Rate,
		Burst:            cfg.Notification.Burst,
		VibrationPattern: cfg.Notification.VibrationPattern,
	},
		lmstfy.NewAlertQueue(lmstfyClient, cfg.Lmstfy.PushQueue, cfg.Lmstfy.PushTTL),
		redis.NewDeviceChannel(rdb, cfg.Notification.DevicePrefix, cfg.Store.ID),
		presence,
		log,
		engineMetrics,
	)

	// 4. 订单流与控制器
	transport := stream.New(stream.Config{
		ChannelPrefix:  cfg.Stream.ChannelPrefix,
		Window:         cfg.Stream.Window,
		ResyncInterval: cfg.Stream.ResyncInterval,
		ErrorBackoff:   cfg.Stream.ErrorBackoff,
	}, dao, redis.NewChangeFeed(rdb), log)

	ctrl := engine.NewController(transport, dispatcher, engine.Options{
		Location: loc,
		Logger:   log,
		Metrics:  engineMetrics,
	})

	// 5. HTTP
	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routers.SetupRoutes(routers.Deps{
		Orders:   order.NewOrderHandler(ctrl),
		Settings: settings.NewSettingsHandler(dispatcher, presence, presenceTTL),
		Logger:   log,
		Metrics:  httpMetrics,
		Gatherer: reg,
	})

	return Components{
		Attacher: ctrl,
		Handler:  router,
		Closers:  []func() error{rdb.Close, dao.Close},
	}, nil
}

// Start 启动 Manager，阻塞直到 Shutdown
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting...")

	// 1. 绑定门店（订阅失败按配置重试）
	if err := AttachWithRetry(m.ctx, m.comps.Attacher, m.cfg.Store.ID, m.cfg.Attach.Retries, m.cfg.Attach.Backoff, m.logger); err != nil {
		if m.closing.Load() {
			return nil
		}
		return err
	}

	// 2. 启动 HTTP Server
	ln, err := net.Listen("tcp", ":"+m.cfg.Server.Port)
	if err != nil {
		m.comps.Attacher.Detach()
		return fmt.Errorf("failed to listen on port %s: %w", m.cfg.Server.Port, err)
	}
	m.mu.Lock()
	if m.closing.Load() {
		// 启动过程中已收到 Shutdown
		m.mu.Unlock()
		_ = ln.Close()
		m.comps.Attacher.Detach()
		return nil
	}
	m.listener = ln
	m.server = &http.Server{Handler: m.comps.Handler}
	srv := m.server
	m.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	m.logger.Infof(m.ctx, "[Manager] Start success, store: %s, addr: %s", m.cfg.Store.ID, ln.Addr())

	// 3. 阻塞等待退出信号
	select {
	case <-m.shutdownCh:
		return nil
	case err := <-serveErr:
		m.Shutdown()
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Addr 实际监听地址（未启动时为空）
func (m *ManagerInstance) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Shutdown 优雅退出
func (m *ManagerInstance) Shutdown() {
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	// 原子操作，保证并发安全
	if m.closing.CAS(false, true) {
		m.cancel()

		// 1. 停止 HTTP Server
		m.mu.Lock()
		srv := m.server
		m.mu.Unlock()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := srv.Shutdown(ctx); err != nil {
				m.logger.Warnf(m.ctx, "[Manager] HTTP server shutdown error: %v", err)
			}
			cancel()
		}

		// 2. 释放订阅（写入中也是安全的）
		m.comps.Attacher.Detach()

		// 3. 关闭连接
		for _, closeFn := range m.comps.Closers {
			if err := closeFn(); err != nil {
				m.logger.Warnf(m.ctx, "[Manager] close error: %v", err)
			}
		}

		// 4. 关闭信号通道
		close(m.shutdownCh)

		m.logger.Infof(m.ctx, "[Manager] Shutdown complete")
	}
}

// AttachWithRetry 订阅失败时按固定间隔重试，retries 为额外尝试次数
func AttachWithRetry(ctx context.Context, a Attacher, storeID string, retries int, backoff time.Duration, log logger.Logger) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = a.Attach(ctx, storeID); err == nil {
			return nil
		}
		log.Warnf(ctx, "[Manager] attach store %s failed (attempt %d/%d): %v", storeID, attempt+1, retries+1, err)
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("attach store %s: %w", storeID, err)
}
