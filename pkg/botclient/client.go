// Package botclient is the Go client for the trading-bot harness: a REST
// client for registration, orders, and lookups, plus a streaming client for
// the push channel.
package botclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"marketsim/pkg/types"
)

// Credentials identify a registered bot session.
type Credentials struct {
	BotID        string  `json:"bot_id"`
	BotKey       string  `json:"bot_key"`
	StartingCash float64 `json:"starting_cash"`
}

// OrderResult is the outcome of an order submission. Status is "filled" or
// "rejected"; rejected results carry the rule's tag and message.
type OrderResult struct {
	Status  string      `json:"status"`
	Tag     string      `json:"tag,omitempty"`
	Message string      `json:"message,omitempty"`
	Trade   types.Trade `json:"trade,omitempty"`
	Cash    float64     `json:"cash,omitempty"`
}

// Rejected reports whether the order was refused by a business rule.
func (r OrderResult) Rejected() bool { return r.Status == "rejected" }

// Quote is one symbol's market state.
type Quote struct {
	Symbol    string               `json:"symbol"`
	Name      string               `json:"name"`
	Type      types.InstrumentType `json:"type"`
	Price     float64              `json:"price"`
	PrevDelta float64              `json:"prev_delta"`
	History   []float64            `json:"history,omitempty"`
}

// Market is the full tape at a simulated day.
type Market struct {
	Day    int     `json:"day"`
	Quotes []Quote `json:"quotes"`
}

// Position is one long holding with derived fields.
type Position struct {
	Quantity      int64   `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Portfolio is the session's consistent holdings view.
type Portfolio struct {
	Cash          float64             `json:"cash"`
	Positions     map[string]Position `json:"positions"`
	TotalValue    float64             `json:"total_value"`
	UnrealizedPnL float64             `json:"unrealized_pnl"`
	RealizedPnL   float64             `json:"realized_pnl"`
	Day           int                 `json:"day"`
}

// Stats are the aggregate numbers for a bot session.
type Stats struct {
	BotID         string  `json:"bot_id"`
	Day           int     `json:"day"`
	Cash          float64 `json:"cash"`
	TotalValue    float64 `json:"total_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Return        float64 `json:"return"`
	Trades        int     `json:"trades"`
}

type apiError struct {
	Error struct {
		Tag     string `json:"tag"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the harness REST surface. Safe for concurrent use after
// Register.
type Client struct {
	http   *resty.Client
	creds  Credentials
	logger *slog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "botclient"),
	}
}

// Credentials returns the bot credentials obtained by Register.
func (c *Client) Credentials() Credentials { return c.creds }

func statusErr(resp *resty.Response, op string) error {
	var body apiError
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error.Tag != "" {
		return fmt.Errorf("%s: %s: %s", op, body.Error.Tag, body.Error.Message)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
}

// Register creates a fresh bot session and stores its credentials on the
// client.
func (c *Client) Register(ctx context.Context, name string, mode types.Mode) (Credentials, error) {
	var creds Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"name": name, "mode": mode}).
		SetResult(&creds).
		Post("/bot/register")
	if err != nil {
		return Credentials{}, fmt.Errorf("register bot: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return Credentials{}, statusErr(resp, "register bot")
	}
	c.creds = creds
	c.logger.Info("bot registered", "bot_id", creds.BotID, "cash", creds.StartingCash)
	return creds, nil
}

// Order submits a market order. A domain rejection is a normal result, not
// an error.
func (c *Client) Order(ctx context.Context, symbol, action string, qty int64) (OrderResult, error) {
	var result OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"bot_id":   c.creds.BotID,
			"bot_key":  c.creds.BotKey,
			"symbol":   symbol,
			"action":   action,
			"quantity": qty,
		}).
		SetResult(&result).
		Post("/bot/order")
	if err != nil {
		return OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderResult{}, statusErr(resp, "place order")
	}
	return result, nil
}

// MarketData fetches the full tape for the bot's session.
func (c *Client) MarketData(ctx context.Context) (Market, error) {
	var market Market
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("bot_id", c.creds.BotID).
		SetResult(&market).
		Get("/market/data")
	if err != nil {
		return Market{}, fmt.Errorf("market data: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Market{}, statusErr(resp, "market data")
	}
	return market, nil
}

// QuoteFor fetches a single symbol, optionally with price history.
func (c *Client) QuoteFor(ctx context.Context, symbol string, withHistory bool) (Quote, error) {
	var single struct {
		Quote Quote `json:"quote"`
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("bot_id", c.creds.BotID).
		SetQueryParam("symbol", symbol).
		SetResult(&single)
	if withHistory {
		req.SetQueryParam("history", "true")
	}
	resp, err := req.Get("/market/data")
	if err != nil {
		return Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Quote{}, statusErr(resp, "quote "+symbol)
	}
	return single.Quote, nil
}

// Portfolio fetches the session's holdings.
func (c *Client) Portfolio(ctx context.Context) (Portfolio, error) {
	var p Portfolio
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("bot_id", c.creds.BotID).
		SetResult(&p).
		Get("/portfolio")
	if err != nil {
		return Portfolio{}, fmt.Errorf("portfolio: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Portfolio{}, statusErr(resp, "portfolio")
	}
	return p, nil
}

// Stats fetches the session's aggregate numbers.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&st).
		Get("/bot/" + c.creds.BotID + "/stats")
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Stats{}, statusErr(resp, "stats")
	}
	return st, nil
}
