package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeviceCommand 发给商户端设备的指令
type DeviceCommand struct {
	Kind      string  `json:"kind"` // vibrate / haptic_success / play_default_sound
	PatternMS []int64 `json:"pattern_ms,omitempty"`
	At        int64   `json:"at"`
}

// DeviceChannel 通过 Redis 频道向前台的商户端下发震动、触感、提示音指令
type DeviceChannel struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// NewDeviceChannel 创建 DeviceChannel，频道为 <prefix>:<storeID>
func NewDeviceChannel(client *redis.Client, prefix, storeID string) *DeviceChannel {
	return &DeviceChannel{client: client, channel: prefix + ":" + storeID, now: time.Now}
}

// Channel 指令频道
func (d *DeviceChannel) Channel() string {
	return d.channel
}

// Vibrate 震动
func (d *DeviceChannel) Vibrate(ctx context.Context, pattern []time.Duration) error {
	ms := make([]int64, 0, len(pattern))
	for _, p := range pattern {
		ms = append(ms, p.Milliseconds())
	}
	return d.send(ctx, DeviceCommand{Kind: "vibrate", PatternMS: ms})
}

// HapticSuccess 成功触感
func (d *DeviceChannel) HapticSuccess(ctx context.Context) error {
	return d.send(ctx, DeviceCommand{Kind: "haptic_success"})
}

// PlayDefaultSound 默认提示音
func (d *DeviceChannel) PlayDefaultSound(ctx context.Context) error {
	return d.send(ctx, DeviceCommand{Kind: "play_default_sound"})
}

func (d *DeviceChannel) send(ctx context.Context, cmd DeviceCommand) error {
	cmd.At = d.now().UnixMilli()
	b, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal device command: %w", err)
	}

	receivers, err := d.client.Publish(ctx, d.channel, b).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", cmd.Kind, err)
	}
	if receivers == 0 {
		return fmt.Errorf("no device listening on %s", d.channel)
	}
	return nil
}

// Presence 商户端前台心跳：客户端在前台时周期性刷新带 TTL 的 key
type Presence struct {
	client *redis.Client
	key    string
}

// NewPresence 创建 Presence，key 为 <prefix>:<storeID>
func NewPresence(client *redis.Client, prefix, storeID string) *Presence {
	return &Presence{client: client, key: prefix + ":" + storeID}
}

// Touch 刷新心跳
func (p *Presence) Touch(ctx context.Context, ttl time.Duration) error {
	if err := p.client.Set(ctx, p.key, "foreground", ttl).Err(); err != nil {
		return fmt.Errorf("failed to touch presence: %w", err)
	}
	return nil
}

// IsForeground 心跳存在即视为前台；查询失败按后台处理
func (p *Presence) IsForeground(ctx context.Context) bool {
	n, err := p.client.Exists(ctx, p.key).Result()
	return err == nil && n > 0
}
