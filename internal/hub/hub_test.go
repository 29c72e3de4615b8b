// internal/hub/hub_test.go
package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu     sync.Mutex
	events []model.DeviceEvent
}

func (c *collector) listen(e model.DeviceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) codes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.events))
	for i, e := range c.events {
		out[i] = e.StatusCode
	}
	return out
}

func coin(device string, code int) model.DeviceEvent {
	return model.NewDeviceEvent(device, model.FamilyAzkoyen, model.EventCoin, code, "", nil)
}

func TestPublishOrderPerListener(t *testing.T) {
	h := New(4, zap.NewNop())
	defer h.Close()

	a, b := &collector{}, &collector{}
	h.Subscribe(nil, a.listen)
	h.Subscribe(nil, b.listen)

	for code := 200; code < 250; code++ {
		h.Publish(coin("c1", code))
	}

	want := make([]int, 50)
	for i := range want {
		want[i] = 200 + i
	}
	require.Eventually(t, func() bool { return len(a.codes()) == 50 && len(b.codes()) == 50 }, time.Second, time.Millisecond)
	assert.Equal(t, want, a.codes())
	assert.Equal(t, want, b.codes())
	assert.EqualValues(t, 50, h.Published())
}

func TestSequenceNumbers(t *testing.T) {
	h := New(0, zap.NewNop())
	defer h.Close()

	c := &collector{}
	h.Subscribe(nil, c.listen)
	h.Publish(coin("c1", 202))
	h.Publish(coin("c1", 202))

	require.Eventually(t, func() bool { return len(c.codes()) == 2 }, time.Second, time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, uint64(1), c.events[0].Sequence)
	assert.Equal(t, uint64(2), c.events[1].Sequence)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := New(0, zap.NewNop())
	defer h.Close()

	kept, dropped := &collector{}, &collector{}
	h.Subscribe(nil, kept.listen)
	_, unsubscribe := h.Subscribe(nil, dropped.listen)

	h.Publish(coin("c1", 202))
	require.Eventually(t, func() bool { return len(dropped.codes()) == 1 }, time.Second, time.Millisecond)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Publish(coin("c1", 203))
	require.Eventually(t, func() bool { return len(kept.codes()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{202}, dropped.codes())
}

func TestSlowListenerDoesNotBlockPublish(t *testing.T) {
	h := New(2, zap.NewNop())

	release := make(chan struct{})
	h.Subscribe(nil, func(model.DeviceEvent) { <-release })
	fast := &collector{}
	h.Subscribe(nil, fast.listen)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(coin("c1", 202))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow listener")
	}
	require.Eventually(t, func() bool { return len(fast.codes()) == 100 }, time.Second, time.Millisecond)

	close(release)
	h.Close()
}

func TestPanickingListenerKeepsReceiving(t *testing.T) {
	h := New(0, zap.NewNop())
	defer h.Close()

	var mu sync.Mutex
	calls := 0
	h.Subscribe(nil, func(model.DeviceEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("listener bug")
	})

	h.Publish(coin("c1", 202))
	h.Publish(coin("c1", 202))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, time.Millisecond)
}

func TestFilters(t *testing.T) {
	h := New(0, zap.NewNop())
	defer h.Close()

	c := &collector{}
	h.Subscribe(All(ForDevice("c1"), OfType(model.EventCoin)), c.listen)

	h.Publish(coin("c2", 201))
	h.Publish(model.NewDeviceEvent("c1", model.FamilyAzkoyen, model.EventLifecycle, 200, "", nil))
	h.Publish(coin("c1", 202))

	require.Eventually(t, func() bool { return len(c.codes()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{202}, c.codes())
}

func TestCloseStopsDelivery(t *testing.T) {
	h := New(0, zap.NewNop())
	var observed int
	h.SetObserver(func(model.DeviceEvent) { observed++ })

	c := &collector{}
	h.Subscribe(nil, c.listen)
	h.Publish(coin("c1", 202))
	h.Close()
	h.Close()

	h.Publish(coin("c1", 203))
	_, unsubscribe := h.Subscribe(nil, c.listen)
	unsubscribe()

	assert.Equal(t, 1, observed)
	assert.Equal(t, 0, h.Subscribers())
}
