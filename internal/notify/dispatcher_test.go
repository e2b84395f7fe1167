package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/testutil"
	"comercios/ordersync/pkg/errorutil"
)

func newDispatcher(cfg Config, alerts *testutil.FakeAlerts, device *testutil.FakeDevice, fg bool) *Dispatcher {
	var dev Device
	if device != nil {
		dev = device
	}
	return NewDispatcher(cfg, alerts, dev, testutil.StaticProbe(fg), nil, nil)
}

func TestNotifyForeground(t *testing.T) {
	alerts := &testutil.FakeAlerts{}
	device := &testutil.FakeDevice{}
	d := newDispatcher(Config{Settings: DefaultSettings()}, alerts, device, true)

	r := d.Notify(context.Background(), testutil.NewOrder("s1", "o1", domain.StatusPending))

	assert.Empty(t, r.Suppressed)
	assert.True(t, r.Foreground)
	assert.Equal(t, []string{EffectAlert, EffectVibrate, EffectHaptic, EffectSound}, r.Attempted)
	assert.Empty(t, r.Failures)
	assert.Equal(t, []string{"vibrate", "haptic", "sound"}, device.Calls())

	require.Len(t, alerts.Alerts(), 1)
	a := alerts.Alerts()[0]
	assert.Equal(t, "o1", a.Meta["orderId"])
	assert.Contains(t, a.Body, "María")
	assert.Contains(t, a.Body, "10.50")
}

func TestNotifyBackgroundOnlyAlerts(t *testing.T) {
	alerts := &testutil.FakeAlerts{}
	device := &testutil.FakeDevice{}
	d := newDispatcher(Config{Settings: DefaultSettings()}, alerts, device, false)

	r := d.Notify(context.Background(), testutil.NewOrder("s1", "o1", domain.StatusPending))

	assert.False(t, r.Foreground)
	assert.Equal(t, []string{EffectAlert}, r.Attempted)
	assert.Empty(t, device.Calls())
	assert.Len(t, alerts.Alerts(), 1)
}

func TestNotifyWithoutDevice(t *testing.T) {
	alerts := &testutil.FakeAlerts{}
	d := newDispatcher(Config{Settings: DefaultSettings()}, alerts, nil, true)

	r := d.Notify(context.Background(), testutil.NewOrder("s1", "o1", domain.StatusPending))
	assert.Equal(t, []string{EffectAlert}, r.Attempted)
}

func TestSubeffectFailuresAreIsolated(t *testing.T) {
	alerts := &testutil.FakeAlerts{Err: errors.New("push gateway down")}
	device := &testutil.FakeDevice{HapticErr: errors.New("no haptic engine"), Panic: "vibrate"}
	d := newDispatcher(Config{Settings: DefaultSettings()}, alerts, device, true)

	r := d.Notify(context.Background(), testutil.NewOrder("s1", "o1", domain.StatusPending))

	assert.Equal(t, []string{EffectAlert, EffectVibrate, EffectHaptic, EffectSound}, r.Attempted)
	assert.True(t, r.Failed(EffectAlert))
	assert.True(t, r.Failed(EffectVibrate))
	assert.True(t, r.Failed(EffectHaptic))
	assert.False(t, r.Failed(EffectSound))
	assert.True(t, errors.Is(r.Failures[EffectAlert], errorutil.ErrSubeffectFailed))
	assert.Equal(t, []string{"vibrate", "haptic", "sound"}, device.Calls())
}

func TestSettings(t *testing.T) {
	alerts := &testutil.FakeAlerts{}
	device := &testutil.FakeDevice{}
	d := newDispatcher(Config{Settings: Settings{NewOrders: true, Sound: false, Vibration: true}}, alerts, device, true)

	r := d.Notify(context.Background(), testutil.NewOrder("s1", "o1", domain.StatusPending))
	assert.Equal(t, []string{EffectAlert, EffectVibrate, EffectHaptic}, r.Attempted)

	d.UpdateSettings(Settings{NewOrders: false})
	r = d.Notify(context.Background(), testutil.NewOrder("s1", "o2", domain.StatusPending))
	assert.Equal(t, SuppressedDisabled, r.Suppressed)
	assert.Empty(t, r.Attempted)
	assert.Len(t, alerts.Alerts(), 1)
}

func TestRateLimitKeepsEarliest(t *testing.T) {
	alerts := &testutil.FakeAlerts{}
	d := newDispatcher(Config{Settings: DefaultSettings(), Rate: 1, Burst: 1}, alerts, nil, false)
	clock := testutil.NewClock(testutil.Epoch)
	d.SetClock(clock.Now)

	first := d.Notify(context.Background(), testutil.NewOrder("s1", "o1", domain.StatusPending))
	second := d.Notify(context.Background(), testutil.NewOrder("s1", "o2", domain.StatusPending))

	assert.Empty(t, first.Suppressed)
	assert.Equal(t, SuppressedRateLimited, second.Suppressed)
	assert.Equal(t, []string{"o1"}, alerts.OrderIDs())

	clock.Advance(2 * time.Second)
	third := d.Notify(context.Background(), testutil.NewOrder("s1", "o3", domain.StatusPending))
	assert.Empty(t, third.Suppressed)
	assert.Equal(t, []string{"o1", "o3"}, alerts.OrderIDs())
}
