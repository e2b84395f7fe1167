package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comercios/ordersync/internal/domain"
	"comercios/ordersync/internal/engine"
	"comercios/ordersync/internal/testutil"
	"comercios/ordersync/pkg/errorutil"
)

type fakeSource struct {
	mu      sync.Mutex
	orders  []domain.Order
	listErr error
	loads   int
	since   time.Time
	updates []domain.Status
}

func (f *fakeSource) ListByStore(_ context.Context, storeID string, since time.Time) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	f.since = since
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Order
	for _, o := range f.orders {
		if o.StoreID == storeID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeSource) UpdateStatus(_ context.Context, orderID string, next domain.Status, _ domain.TransitionExtra) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.orders {
		if o.ID == orderID {
			f.orders[i].Status = next
			f.updates = append(f.updates, next)
			return o.StoreID, nil
		}
	}
	return "", errors.New("not found")
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeSource) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

type fakeListener struct {
	ch     chan []byte
	closed bool
	mu     sync.Mutex
}

func (l *fakeListener) Events() <-chan []byte { return l.ch }

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type fakeFeed struct {
	mu        sync.Mutex
	listeners map[string]*fakeListener
	published map[string][][]byte
	listenErr error
	listens   int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{listeners: map[string]*fakeListener{}, published: map[string][][]byte{}}
}

func (f *fakeFeed) Listen(_ context.Context, channel string) (Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	l := &fakeListener{ch: make(chan []byte, 16)}
	f.listeners[channel] = l
	return l, nil
}

func (f *fakeFeed) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	if l, ok := f.listeners[channel]; ok {
		l.ch <- payload
	}
	return nil
}

func (f *fakeFeed) listener(channel string) *fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners[channel]
}

type recorder struct {
	mu        sync.Mutex
	snapshots [][]domain.Order
	errs      []error
}

func (r *recorder) onSnapshot(orders []domain.Order) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, orders)
	r.mu.Unlock()
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) count() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots), len(r.errs)
}

func (r *recorder) last() []domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

func fastConfig() Config {
	return Config{ChannelPrefix: "orders", ResyncInterval: time.Hour, ErrorBackoff: 5 * time.Millisecond}
}

func TestSubscribeDeliversInitialSnapshotSynchronously(t *testing.T) {
	src := &fakeSource{orders: []domain.Order{
		testutil.NewOrder("s1", "o1", domain.StatusPending),
		testutil.NewOrder("s2", "x1", domain.StatusPending),
	}}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)
	rec := &recorder{}

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()

	snaps, errs := rec.count()
	assert.Equal(t, 1, snaps)
	assert.Equal(t, 0, errs)
	assert.Len(t, rec.last(), 1)
	assert.NotNil(t, feed.listener("orders:s1"))
}

func TestPingTriggersReload(t *testing.T) {
	src := &fakeSource{orders: []domain.Order{testutil.NewOrder("s1", "o1", domain.StatusPending)}}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)
	rec := &recorder{}

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, tr.WriteStatus(context.Background(), "o1", domain.StatusAccepted, domain.TransitionExtra{}))

	require.Eventually(t, func() bool {
		n, _ := rec.count()
		return n >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusAccepted, rec.last()[0].Status)

	var ping ChangePing
	require.NoError(t, json.Unmarshal(feed.published["orders:s1"][0], &ping))
	assert.Equal(t, "o1", ping.OrderID)
	assert.Equal(t, domain.StatusAccepted, ping.Status)
}

func TestResyncTick(t *testing.T) {
	src := &fakeSource{}
	cfg := fastConfig()
	cfg.ResyncInterval = 10 * time.Millisecond
	tr := New(cfg, src, newFakeFeed(), nil)
	rec := &recorder{}

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		n, _ := rec.count()
		return n >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestReloadFailureReportsInterruptionAndRecovers(t *testing.T) {
	src := &fakeSource{}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)
	rec := &recorder{}

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()

	src.setErr(errors.New("mysql: gone away"))
	require.NoError(t, feed.Publish(context.Background(), "orders:s1", []byte(`{}`)))

	require.Eventually(t, func() bool {
		_, e := rec.count()
		return e >= 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	first := rec.errs[0]
	rec.mu.Unlock()
	assert.True(t, errors.Is(first, errorutil.ErrStreamInterrupted))

	src.setErr(nil)
	require.Eventually(t, func() bool {
		n, _ := rec.count()
		return n >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestClosedFeedIsRelistened(t *testing.T) {
	src := &fakeSource{}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)
	rec := &recorder{}

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	defer unsub()

	old := feed.listener("orders:s1")
	close(old.ch)

	require.Eventually(t, func() bool {
		l := feed.listener("orders:s1")
		return l != nil && l != old
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		n, e := rec.count()
		return n >= 2 && e >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeFailures(t *testing.T) {
	feed := newFakeFeed()
	feed.listenErr = errors.New("redis down")
	tr := New(fastConfig(), &fakeSource{}, feed, nil)

	_, err := tr.SubscribeOrders(context.Background(), "s1", func([]domain.Order) {}, func(error) {})
	require.Error(t, err)

	feed = newFakeFeed()
	src := &fakeSource{listErr: errors.New("mysql down")}
	tr = New(fastConfig(), src, feed, nil)
	_, err = tr.SubscribeOrders(context.Background(), "s1", func([]domain.Order) {}, func(error) {})
	require.Error(t, err)
	assert.True(t, feed.listener("orders:s1").closed)
}

func TestUnsubscribeStopsLoop(t *testing.T) {
	src := &fakeSource{}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)
	rec := &recorder{}

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", rec.onSnapshot, rec.onError)
	require.NoError(t, err)
	unsub()
	unsub()

	l := feed.listener("orders:s1")
	l.mu.Lock()
	assert.True(t, l.closed)
	l.mu.Unlock()

	loads := src.loadCount()
	_ = feed.Publish(context.Background(), "orders:s1", []byte(`{}`))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, loads, src.loadCount())
}

func TestWindow(t *testing.T) {
	src := &fakeSource{}
	cfg := fastConfig()
	cfg.Window = 24 * time.Hour
	tr := New(cfg, src, newFakeFeed(), nil)
	tr.now = func() time.Time { return testutil.Epoch }

	unsub, err := tr.SubscribeOrders(context.Background(), "s1", func([]domain.Order) {}, func(error) {})
	require.NoError(t, err)
	defer unsub()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, testutil.Epoch.Add(-24*time.Hour), src.since)
}

func TestWriteStatusError(t *testing.T) {
	tr := New(fastConfig(), &fakeSource{}, newFakeFeed(), nil)
	err := tr.WriteStatus(context.Background(), "missing", domain.StatusAccepted, domain.TransitionExtra{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestUnsubscribeFromSnapshotCallback(t *testing.T) {
	src := &fakeSource{orders: []domain.Order{testutil.NewOrder("s1", "o1", domain.StatusPending)}}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)

	var unsub func()
	done := make(chan struct{})
	calls := 0
	unsub, err := tr.SubscribeOrders(context.Background(), "s1", func([]domain.Order) {
		calls++
		if calls == 2 {
			unsub()
			close(done)
		}
	}, func(error) {})
	require.NoError(t, err)

	require.NoError(t, feed.Publish(context.Background(), "orders:s1", []byte(`{}`)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe inside the snapshot callback did not return")
	}
	require.Eventually(t, func() bool {
		l := feed.listener("orders:s1")
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.closed
	}, time.Second, 5*time.Millisecond)
}

func TestControllerObserverCanDetach(t *testing.T) {
	src := &fakeSource{orders: []domain.Order{testutil.NewOrder("s1", "o1", domain.StatusPending)}}
	feed := newFakeFeed()
	tr := New(fastConfig(), src, feed, nil)
	ctrl := engine.NewController(tr, nil, engine.Options{})

	require.NoError(t, ctrl.Attach(context.Background(), "s1"))

	done := make(chan struct{})
	var once sync.Once
	cancel := ctrl.Subscribe(func(engine.View) {
		once.Do(func() {
			ctrl.Detach()
			close(done)
		})
	})
	defer cancel()

	require.NoError(t, tr.WriteStatus(context.Background(), "o1", domain.StatusAccepted, domain.TransitionExtra{}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Detach inside an observer did not return")
	}
	assert.False(t, ctrl.Attached())
	_, err := ctrl.Order("o1")
	assert.NoError(t, err)
}
