// Package broadcast fans simulation output out to push-channel subscribers.
//
// Each connection owns one bounded FIFO queue. Market and portfolio frames
// are droppable: when a queue is full the oldest queued frame is evicted so
// a slow consumer sees stale-but-recent state. Order fills and chat are not
// droppable; a consumer too slow to take them is disconnected instead.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"marketsim/pkg/types"
)

// DefaultQueueSize is the per-connection frame queue capacity.
const DefaultQueueSize = 256

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrForbiddenTopic = errors.New("role may not subscribe to this topic")
)

// CloseReasonSlowConsumer is reported when a connection is dropped for not
// keeping up with non-droppable frames.
const CloseReasonSlowConsumer = "slow consumer"

// Conn is one push-channel subscriber. It is transport-agnostic: the
// websocket layer drains Frames and writes them to the wire.
type Conn struct {
	ID        string
	UserID    string
	SessionID string
	Role      types.Role

	hub   *Hub
	queue chan types.ServerFrame

	mu          sync.Mutex
	closed      bool
	closeReason string
	subs        map[types.Topic]bool
}

// Frames is the outbound frame stream. It is closed when the connection is
// detached or dropped; CloseReason says why.
func (c *Conn) Frames() <-chan types.ServerFrame { return c.queue }

// CloseReason returns the reason recorded when the connection was closed,
// or "" while it is open.
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Subscribed reports whether the connection holds a subscription to topic.
func (c *Conn) Subscribed(topic types.Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

func (c *Conn) closeLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeReason = reason
	close(c.queue)
}

// enqueue appends a frame. Droppable frames evict the oldest queued frame
// when full; non-droppable frames close the connection instead. Frames sent
// after close are silently discarded.
func (c *Conn) enqueue(frame types.ServerFrame, droppable bool) (delivered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.queue <- frame:
		return true
	default:
	}

	if !droppable {
		c.closeLocked(CloseReasonSlowConsumer)
		c.hub.logger.Warn("dropping slow consumer", "conn", c.ID, "frame_type", frame.Type)
		return false
	}

	// Evict the oldest frame. The consumer may win the race for it, in
	// which case the retry below succeeds against the freed slot.
	select {
	case <-c.queue:
		c.hub.dropped.Add(1)
	default:
	}
	select {
	case c.queue <- frame:
		return true
	default:
		c.hub.dropped.Add(1)
		return false
	}
}

// Hub routes published events to subscribed connections. It implements the
// scheduler's sink and the chat room's broadcaster.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu    sync.RWMutex
	conns map[string]*Conn

	dropped atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize overrides the per-connection queue capacity. Tests use small
// queues to exercise overflow behavior.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:    logger.With("component", "broadcast"),
		queueSize: DefaultQueueSize,
		conns:     make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach registers a new connection bound to a session. Order, portfolio,
// and market frames are scoped to that session; chat is global.
func (h *Hub) Attach(userID, sessionID string, role types.Role) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		hub:       h,
		queue:     make(chan types.ServerFrame, h.queueSize),
		subs:      make(map[types.Topic]bool),
	}

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	h.logger.Debug("connection attached", "conn", c.ID, "session", sessionID)
	return c
}

// Detach removes a connection and closes its frame stream. Safe to call
// more than once.
func (h *Hub) Detach(c *Conn, reason string) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	h.mu.Unlock()

	c.mu.Lock()
	c.closeLocked(reason)
	c.mu.Unlock()
}

// Subscribe adds a topic subscription. Chat requires a role with chat
// access.
func (h *Hub) Subscribe(c *Conn, topic types.Topic) error {
	if !types.ValidTopic(topic) {
		return ErrUnknownTopic
	}
	if topic == types.TopicChat && !c.Role.CanChat() {
		return ErrForbiddenTopic
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = true
	return nil
}

// Unsubscribe removes a topic subscription. Unknown topics error; absent
// subscriptions are a no-op.
func (h *Hub) Unsubscribe(c *Conn, topic types.Topic) error {
	if !types.ValidTopic(topic) {
		return ErrUnknownTopic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

// Send delivers a frame directly to one connection (pong, snapshot replies).
// Treated as droppable.
func (h *Hub) Send(c *Conn, frame types.ServerFrame) {
	c.enqueue(frame, true)
}

// Dropped returns the number of frames evicted from full queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ConnCount returns the number of attached connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) publish(topic types.Topic, sessionID string, frame types.ServerFrame, droppable bool) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Subscribed(topic) {
			continue
		}
		if !c.enqueue(frame, droppable) && !droppable {
			h.Detach(c, CloseReasonSlowConsumer)
		}
	}
}

// MarketEvent is the market_update frame payload.
type MarketEvent struct {
	SessionID string              `json:"session_id"`
	Day       int                 `json:"day"`
	Deltas    []types.MarketDelta `json:"deltas"`
}

// PublishMarket delivers a tick's price deltas to the session's market
// subscribers.
func (h *Hub) PublishMarket(sessionID string, day int, deltas []types.MarketDelta) {
	frame := types.NewServerFrame("market_update", MarketEvent{SessionID: sessionID, Day: day, Deltas: deltas})
	h.publish(types.TopicMarketData, sessionID, frame, true)
}

// PublishPortfolio delivers a session's per-tick portfolio numbers.
func (h *Hub) PublishPortfolio(update types.PortfolioUpdate) {
	frame := types.NewServerFrame("portfolio_update", update)
	h.publish(types.TopicPortfolioUpdate, update.SessionID, frame, true)
}

// PublishOrder delivers a fill notification. Not droppable.
func (h *Hub) PublishOrder(update types.OrderUpdate) {
	frame := types.NewServerFrame("order_update", update)
	h.publish(types.TopicOrderUpdate, update.SessionID, frame, false)
}

// PublishChat delivers a chat message to every chat subscriber. Not
// droppable.
func (h *Hub) PublishChat(msg types.ChatMessage) {
	frame := types.NewServerFrame("chat", msg)
	h.publish(types.TopicChat, "", frame, false)
}
