package canvas

import (
	"log/slog"
	"sync"
	"time"
)

// Stream message types.
const (
	MessageAction = "action"
	MessageReload = "reload"
)

const defaultSubscriberBuffer = 64

// StreamMessage is the envelope sent to live viewers of a canvas.
type StreamMessage struct {
	Type      string         `json:"type"`
	CanvasID  string         `json:"canvas_id"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Seq       int64          `json:"seq,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Origin names the node that produced the message; set by relays.
	Origin string `json:"origin,omitempty"`
}

// MessageForAction builds the broadcast envelope for an appended action.
func MessageForAction(action *Action) StreamMessage {
	return StreamMessage{
		Type:      MessageAction,
		CanvasID:  action.CanvasID,
		Action:    action.Name,
		Params:    action.Params,
		Seq:       action.Seq,
		Timestamp: action.Timestamp,
	}
}

// Subscription is one live viewer of a canvas.
type Subscription struct {
	CanvasID string

	ch   chan StreamMessage
	hub  *Hub
	once sync.Once
}

// C returns the receive side of the subscription. It is closed on unsubscribe
// or when the hub drops a slow receiver.
func (s *Subscription) C() <-chan StreamMessage {
	return s.ch
}

// Unsubscribe removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s)
}

// Relay forwards locally published messages to other instances.
type Relay interface {
	Forward(msg StreamMessage)
}

// Hub manages realtime subscribers per canvas.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	buffer      int
	logger      *slog.Logger
	metrics     *Metrics
	relay       Relay
	closed      bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubLogger sets the logger used for delivery warnings.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubMetrics records viewer counts and drops.
func WithHubMetrics(metrics *Metrics) HubOption {
	return func(h *Hub) { h.metrics = metrics }
}

// NewHub creates a new hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		buffer:      defaultSubscriberBuffer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "canvas-hub")
	return h
}

// SetRelay attaches a cross-instance relay. Messages published locally are forwarded to it.
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
}

// Subscribe registers a listener for a canvas.
func (h *Hub) Subscribe(canvasID string) *Subscription {
	sub := &Subscription{
		CanvasID: canvasID,
		ch:       make(chan StreamMessage, h.buffer),
		hub:      h,
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	listeners := h.subscribers[canvasID]
	if listeners == nil {
		listeners = make(map[*Subscription]struct{})
		h.subscribers[canvasID] = listeners
	}
	listeners[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.ViewerConnected()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		removed := h.detach(sub)
		close(sub.ch)
		h.mu.Unlock()
		if removed {
			h.metrics.ViewerDisconnected()
		}
	})
}

// detach must be called with h.mu held for writing.
func (h *Hub) detach(sub *Subscription) bool {
	listeners := h.subscribers[sub.CanvasID]
	if listeners == nil {
		return false
	}
	if _, ok := listeners[sub]; !ok {
		return false
	}
	delete(listeners, sub)
	if len(listeners) == 0 {
		delete(h.subscribers, sub.CanvasID)
	}
	return true
}

// Publish delivers a message to all subscribers of msg.CanvasID and forwards it to the relay.
func (h *Hub) Publish(msg StreamMessage) {
	if h == nil {
		return
	}
	h.Deliver(msg)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		relay.Forward(msg)
	}
}

// Deliver fans a message out to local subscribers only. A receiver whose buffer is
// full is dropped and its channel closed; the viewer is expected to reconnect and
// refetch history.
func (h *Hub) Deliver(msg StreamMessage) {
	if h == nil {
		return
	}
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subscribers[msg.CanvasID] {
		select {
		case sub.ch <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow canvas subscriber", "canvas_id", msg.CanvasID, "buffer", h.buffer)
		h.metrics.SubscriberDropped()
		sub.Unsubscribe()
	}
}

// Subscribers returns the number of live subscribers for a canvas.
func (h *Hub) Subscribers(canvasID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[canvasID])
}

// Close disconnects every subscriber. Subsequent subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, listeners := range h.subscribers {
		for sub := range listeners {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
}
