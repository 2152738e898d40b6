package botclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketsim/pkg/types"
)

const (
	streamPingInterval = 50 * time.Second
	streamReadTimeout  = 90 * time.Second
	streamWriteWait    = 10 * time.Second
	maxReconnectWait   = 30 * time.Second
	marketBufferSize   = 256
	orderBufferSize    = 64
)

// MarketUpdate is one tick's worth of price deltas.
type MarketUpdate struct {
	SessionID string              `json:"session_id"`
	Day       int                 `json:"day"`
	Deltas    []types.MarketDelta `json:"deltas"`
}

// Stream maintains the push-channel connection for a bot, reconnecting with
// exponential backoff and re-subscribing after each reconnect. Consumers
// read the typed event channels; market updates are dropped when a consumer
// lags, order and portfolio updates are buffered deeper and should be
// drained promptly.
type Stream struct {
	baseURL string
	creds   Credentials
	logger  *slog.Logger

	marketCh    chan MarketUpdate
	snapshotCh  chan Market
	orderCh     chan types.OrderUpdate
	portfolioCh chan types.PortfolioUpdate
}

// NewStream creates a stream for a registered bot. baseURL is the http(s)
// server address; the scheme is rewritten for the websocket dial.
func NewStream(baseURL string, creds Credentials, logger *slog.Logger) *Stream {
	return &Stream{
		baseURL:     baseURL,
		creds:       creds,
		logger:      logger.With("component", "botstream"),
		marketCh:    make(chan MarketUpdate, marketBufferSize),
		snapshotCh:  make(chan Market, 1),
		orderCh:     make(chan types.OrderUpdate, orderBufferSize),
		portfolioCh: make(chan types.PortfolioUpdate, orderBufferSize),
	}
}

// MarketUpdates returns the market delta channel.
func (s *Stream) MarketUpdates() <-chan MarketUpdate { return s.marketCh }

// Snapshots returns the channel of full-tape snapshots sent on subscribe.
func (s *Stream) Snapshots() <-chan Market { return s.snapshotCh }

// OrderUpdates returns the fill notification channel.
func (s *Stream) OrderUpdates() <-chan types.OrderUpdate { return s.orderCh }

// PortfolioUpdates returns the per-tick portfolio channel.
func (s *Stream) PortfolioUpdates() <-chan types.PortfolioUpdate { return s.portfolioCh }

func (s *Stream) wsURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("bot_id", s.creds.BotID)
	q.Set("bot_key", s.creds.BotKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and maintains the stream until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	wsURL, err := s.wsURL()
	if err != nil {
		return err
	}

	backoff := time.Second
	for {
		err := s.connectAndRead(ctx, wsURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for _, topic := range []types.Topic{
		types.TopicMarketData,
		types.TopicOrderUpdate,
		types.TopicPortfolioUpdate,
	} {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(types.ClientFrame{Type: "subscribe", Topic: topic}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	s.logger.Info("stream connected")

	// Keepalive pings double as read-deadline refreshers on the far side.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(types.ClientFrame{Type: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		var frame types.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(frame)
	}
}

func (s *Stream) dispatch(frame types.ServerFrame) {
	switch frame.Type {
	case "market_snapshot":
		var snap Market
		if err := json.Unmarshal(frame.Data, &snap); err != nil {
			s.logger.Warn("bad snapshot frame", "error", err)
			return
		}
		select {
		case s.snapshotCh <- snap:
		default:
		}
	case "market_update":
		var update MarketUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			s.logger.Warn("bad market frame", "error", err)
			return
		}
		// Lagging consumers miss ticks, never block the stream.
		select {
		case s.marketCh <- update:
		default:
		}
	case "order_update":
		var update types.OrderUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			s.logger.Warn("bad order frame", "error", err)
			return
		}
		select {
		case s.orderCh <- update:
		default:
			s.logger.Warn("order update dropped, consumer lagging")
		}
	case "portfolio_update":
		var update types.PortfolioUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			s.logger.Warn("bad portfolio frame", "error", err)
			return
		}
		select {
		case s.portfolioCh <- update:
		default:
		}
	case "pong":
	case "error":
		s.logger.Warn("server error frame", "data", string(frame.Data))
	}
}
