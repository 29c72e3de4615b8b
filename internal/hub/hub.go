// internal/hub/hub.go
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

// Listener receives published events on its own goroutine
type Listener func(model.DeviceEvent)

// Filter selects the events a listener wants
type Filter func(model.DeviceEvent) bool

// ForDevice matches events from one device
func ForDevice(deviceID string) Filter {
	return func(e model.DeviceEvent) bool { return e.DeviceID == deviceID }
}

// OfType matches events of the given types
func OfType(types ...model.EventType) Filter {
	return func(e model.DeviceEvent) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

// All combines filters with a logical and
func All(filters ...Filter) Filter {
	return func(e model.DeviceEvent) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// Hub fans events out to subscribers. Publish never blocks on a listener:
// each subscriber owns a queue drained by its own goroutine.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	seq     uint64
	closed  bool
	backlog int
	wg      sync.WaitGroup
	logger  *zap.Logger

	observer  func(model.DeviceEvent)
	published atomic.Int64
}

// New creates a hub. backlog is the queue depth above which a slow
// listener is reported.
func New(backlog int, logger *zap.Logger) *Hub {
	if backlog <= 0 {
		backlog = 64
	}
	return &Hub{
		subs:    make(map[string]*subscriber),
		backlog: backlog,
		logger:  logger.With(zap.String("component", "hub")),
	}
}

// SetObserver installs a hook called for every published event
func (h *Hub) SetObserver(fn func(model.DeviceEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = fn
}

// Subscribe registers fn for events accepted by filter. A nil filter
// accepts everything. The returned function unsubscribes and may be
// called any number of times.
func (h *Hub) Subscribe(filter Filter, fn Listener) (string, func()) {
	s := &subscriber{
		id:     uuid.NewString(),
		filter: filter,
		fn:     fn,
		queue:  make([]model.DeviceEvent, 0, h.backlog),
		hub:    h,
	}
	s.cond = sync.NewCond(&s.mu)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return s.id, func() {}
	}
	h.subs[s.id] = s
	h.wg.Add(1)
	h.mu.Unlock()

	go s.run(&h.wg)

	var once sync.Once
	return s.id, func() {
		once.Do(func() { h.remove(s.id) })
	}
}

// Unsubscribe removes a subscriber by id
func (h *Hub) Unsubscribe(id string) {
	h.remove(id)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Publish stamps the event with the next sequence number and queues it
// for every matching subscriber
func (h *Hub) Publish(e model.DeviceEvent) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.seq++
	e.Sequence = h.seq
	for _, s := range h.subs {
		if s.filter == nil || s.filter(e) {
			s.push(e)
		}
	}
	observer := h.observer
	h.mu.Unlock()

	h.published.Add(1)
	if observer != nil {
		observer(e)
	}
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns the number of events accepted so far
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close stops every subscriber and waits for their goroutines
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	h.wg.Wait()
}

type subscriber struct {
	id     string
	filter Filter
	fn     Listener
	hub    *Hub

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []model.DeviceEvent
	stopped bool
	warned  bool
}

func (s *subscriber) push(e model.DeviceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.queue = append(s.queue, e)
	if len(s.queue) > s.hub.backlog && !s.warned {
		s.warned = true
		s.hub.logger.Warn("Slow listener", zap.String("subscription_id", s.id), zap.Int("queued", len(s.queue)))
	}
	s.cond.Signal()
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.warned = false
		}
		s.mu.Unlock()

		s.deliver(e)
	}
}

func (s *subscriber) deliver(e model.DeviceEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.logger.Error("Listener panicked",
				zap.String("subscription_id", s.id),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(e)
}
