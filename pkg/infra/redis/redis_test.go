package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestChangeFeedRoundTrip(t *testing.T) {
	_, client := newTestClient(t)
	feed := NewChangeFeed(client)
	ctx := context.Background()

	l, err := feed.Listen(ctx, "orders:s1")
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, "orders:s1", []byte(`{"store_id":"s1"}`)))

	select {
	case msg := <-l.Events():
		assert.JSONEq(t, `{"store_id":"s1"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// 关闭后事件通道最终被关闭
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-l.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, "127.0.0.1:1", "", 0)
	require.Error(t, err)
}

func TestDeviceChannel(t *testing.T) {
	_, client := newTestClient(t)
	dev := NewDeviceChannel(client, "device", "s1")
	ctx := context.Background()

	// 没有设备监听时返回错误
	require.Error(t, dev.HapticSuccess(ctx))

	ps := client.Subscribe(ctx, dev.Channel())
	_, err := ps.Receive(ctx)
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, dev.Vibrate(ctx, []time.Duration{0, 250 * time.Millisecond}))
	require.NoError(t, dev.PlayDefaultSound(ctx))

	var got []DeviceCommand
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ps.Channel():
			var cmd DeviceCommand
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
			got = append(got, cmd)
		case <-time.After(2 * time.Second):
			t.Fatal("no device command received")
		}
	}
	assert.Equal(t, "vibrate", got[0].Kind)
	assert.Equal(t, []int64{0, 250}, got[0].PatternMS)
	assert.Equal(t, "play_default_sound", got[1].Kind)
}

func TestPresence(t *testing.T) {
	mr, client := newTestClient(t)
	p := NewPresence(client, "presence", "s1")
	ctx := context.Background()

	assert.False(t, p.IsForeground(ctx))

	require.NoError(t, p.Touch(ctx, 10*time.Second))
	assert.True(t, p.IsForeground(ctx))

	mr.FastForward(11 * time.Second)
	assert.False(t, p.IsForeground(ctx))
}
