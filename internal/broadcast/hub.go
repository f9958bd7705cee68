package broadcast

import (
	"sync"

	"github.com/loykin/scriptdeck/internal/metrics"
)

// Event names carried by Message.Event.
const (
	EventOutput         = "script_output"
	EventScriptsChanged = "scripts_changed"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Message is what live viewers receive.
type Message struct {
	Event  string `json:"event"`
	Script string `json:"script,omitempty"`
	Output string `json:"output,omitempty"`
}

// Hub fans published messages out to subscribers. Delivery is best-effort:
// Publish never blocks, and a subscriber whose queue is full misses the message.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Publish delivers msg to every subscriber of topic and to wildcard subscribers.
func (h *Hub) Publish(topic string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.topic != "" && s.topic != topic {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			metrics.IncBroadcastDropped(topic)
		}
	}
}

// Subscribe registers a subscriber. An empty topic receives every message.
func (h *Hub) Subscribe(topic string) *Subscription {
	s := &Subscription{hub: h, topic: topic, ch: make(chan Message, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type Subscription struct {
	hub   *Hub
	topic string
	ch    chan Message
	once  sync.Once
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Message { return s.ch }

func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}
