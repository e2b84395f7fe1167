package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/pkg/errorutil"
	"comercios/ordersync/pkg/logger"
	"comercios/ordersync/pkg/metrics"
)

// AlertScheduler 本地/推送提醒
type AlertScheduler interface {
	ScheduleLocalAlert(ctx context.Context, title, body string, meta map[string]string) error
}

// Device 前台设备反馈（震动、触感、提示音）
type Device interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
	HapticSuccess(ctx context.Context) error
	PlayDefaultSound(ctx context.Context) error
}

// ForegroundProbe 判断商户端是否在前台
type ForegroundProbe interface {
	IsForeground(ctx context.Context) bool
}

// 子效果名称
const (
	EffectAlert   = "alert"
	EffectVibrate = "vibrate"
	EffectHaptic  = "haptic"
	EffectSound   = "sound"
)

// 提醒被抑制的原因
const (
	SuppressedDisabled    = "disabled"
	SuppressedRateLimited = "rate_limited"
)

// Settings 商户的提醒偏好
type Settings struct {
	NewOrders bool `json:"new_orders"`
	Sound     bool `json:"sound"`
	Vibration bool `json:"vibration"`
}

// DefaultSettings 全部开启
func DefaultSettings() Settings {
	return Settings{NewOrders: true, Sound: true, Vibration: true}
}

// Config Dispatcher 配置
type Config struct {
	Settings         Settings
	Rate             float64 // 每秒提醒数，0 表示不限流
	Burst            int
	VibrationPattern []time.Duration
}

// Report 一次 Notify 的结果；子效果失败只记录在这里，不返回给调用方
type Report struct {
	OrderID     string
	Suppressed  string   // 非空表示整个提醒被跳过
	Attempted   []string // 按执行顺序
	Failures    map[string]error
	Foreground  bool
	DeliveredAt time.Time
}

// Failed 指定子效果是否失败
func (r Report) Failed(effect string) bool {
	_, ok := r.Failures[effect]
	return ok
}

// Dispatcher 为每个新订单触发一次提醒
type Dispatcher struct {
	alerts  AlertScheduler
	device  Device
	probe   ForegroundProbe
	limiter *rate.Limiter
	pattern []time.Duration
	logger  logger.Logger
	metrics *metrics.Engine
	now     func() time.Time

	mu       sync.RWMutex
	settings Settings
}

// NewDispatcher 创建 Dispatcher；device 或 probe 为 nil 时只发送提醒
func NewDispatcher(cfg Config, alerts AlertScheduler, device Device, probe ForegroundProbe,
	log logger.Logger, m *metrics.Engine) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Dispatcher{
		alerts:   alerts,
		device:   device,
		probe:    probe,
		pattern:  cfg.VibrationPattern,
		logger:   log,
		metrics:  m,
		now:      time.Now,
		settings: cfg.Settings,
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return d
}

// SetClock 替换时钟（测试用）
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Settings 当前偏好
func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// UpdateSettings 更新偏好，对之后的提醒生效
func (d *Dispatcher) UpdateSettings(s Settings) {
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
}

// Notify 对一个新订单执行提醒；每个子效果独立执行，失败互不影响
func (d *Dispatcher) Notify(ctx context.Context, order domain.Order) Report {
	ctx = logger.WithOrderID(ctx, order.ID)
	report := Report{OrderID: order.ID, Failures: make(map[string]error), DeliveredAt: d.now()}
	settings := d.Settings()

	// 1. 偏好与限流
	if !settings.NewOrders {
		report.Suppressed = SuppressedDisabled
		d.logger.Debugf(ctx, "[Dispatcher] new order alerts disabled, skip order=%s", order.ID)
		return report
	}
	if d.limiter != nil && !d.limiter.AllowN(report.DeliveredAt, 1) {
		report.Suppressed = SuppressedRateLimited
		d.logger.Infof(ctx, "[Dispatcher] rate limited, skip order=%s", order.ID)
		d.metrics.NotificationEffect(EffectAlert, "suppressed")
		return report
	}

	// 2. 提醒，前后台都发送
	title, body := render(order)
	d.run(ctx, &report, EffectAlert, func() error {
		return d.alerts.ScheduleLocalAlert(ctx, title, body, map[string]string{
			"orderId": order.ID,
			"storeId": order.StoreID,
			"type":    "new_order",
		})
	})

	// 3. 只有前台才有震动、触感和提示音
	if d.device == nil || d.probe == nil {
		return report
	}
	report.Foreground = d.probe.IsForeground(ctx)
	if !report.Foreground {
		return report
	}
	if settings.Vibration {
		d.run(ctx, &report, EffectVibrate, func() error {
			return d.device.Vibrate(ctx, d.pattern)
		})
		d.run(ctx, &report, EffectHaptic, func() error {
			return d.device.HapticSuccess(ctx)
		})
	}
	if settings.Sound {
		d.run(ctx, &report, EffectSound, func() error {
			return d.device.PlayDefaultSound(ctx)
		})
	}

	return report
}

// run 执行一个子效果，错误和 panic 都被吸收进 report
func (d *Dispatcher) run(ctx context.Context, report *Report, effect string, fn func() error) {
	report.Attempted = append(report.Attempted, effect)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()

	if err != nil {
		wrapped := errorutil.SubeffectFailed(effect, err)
		report.Failures[effect] = wrapped
		d.logger.Warnf(ctx, "[Dispatcher] %v", wrapped)
		d.metrics.NotificationEffect(effect, "failed")
		return
	}
	d.metrics.NotificationEffect(effect, "ok")
}

func render(o domain.Order) (string, string) {
	name := o.Customer.Name
	if name == "" {
		name = "Cliente"
	}
	return "¡Nuevo pedido!", fmt.Sprintf("%s · %d productos · $%s", name, o.ItemCount(), o.Total.StringFixed(2))
}
