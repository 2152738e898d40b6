// Package types defines the domain and wire types shared between the
// simulation core, the HTTP/WebSocket API, and bot clients.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InstrumentType categorizes instruments for volatility and allocation purposes.
type InstrumentType string

const (
	TypeGrowth   InstrumentType = "growth"
	TypeDividend InstrumentType = "dividend"
	TypeETF      InstrumentType = "etf"
	TypeBond     InstrumentType = "bond"
)

// Instrument is a static catalog entry. Immutable after catalog load.
type Instrument struct {
	Symbol         string         `json:"symbol"` // 1-5 uppercase characters
	Name           string         `json:"name"`
	BasePrice      float64        `json:"base_price"`
	Type           InstrumentType `json:"type"`
	BaseVolatility float64        `json:"base_volatility"`
}

// TradeKind identifies the four order directions.
type TradeKind string

const (
	TradeBuy        TradeKind = "BUY"
	TradeSell       TradeKind = "SELL"
	TradeShortOpen  TradeKind = "SHORT_OPEN"
	TradeShortClose TradeKind = "SHORT_CLOSE"
)

// Trade records one execution against the simulated mid-price.
type Trade struct {
	ID       string    `json:"id"`
	Kind     TradeKind `json:"kind"`
	Symbol   string    `json:"symbol"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"`
	WallTime time.Time `json:"wallTimestamp"`
	SimTime  time.Time `json:"simTimestamp"`
}

// Mode selects the ruleset variant for a session.
type Mode string

const (
	ModeClassic   Mode = "classic"
	ModeChallenge Mode = "challenge"
	ModeDayTrader Mode = "daytrader"
	ModePortfolio Mode = "portfolio"
	ModeCustom    Mode = "custom"
)

// RiskLevel scales instrument volatility.
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// Multiplier returns the volatility factor for the risk level.
// Unknown values fall back to moderate.
func (r RiskLevel) Multiplier() float64 {
	switch r {
	case RiskConservative:
		return 0.5
	case RiskAggressive:
		return 1.8
	default:
		return 1.0
	}
}

// Difficulty scales instrument volatility independently of risk.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Multiplier returns the volatility factor for the difficulty.
// Unknown values fall back to medium.
func (d Difficulty) Multiplier() float64 {
	switch d {
	case DifficultyEasy:
		return 0.6
	case DifficultyHard:
		return 1.3
	default:
		return 1.0
	}
}

// MaxStartingCapital caps the configurable starting cash.
const MaxStartingCapital = 1_000_000

// GameConfig is the per-session configuration chosen at session creation.
type GameConfig struct {
	StartingCapital float64    `json:"startingCapital"`
	Risk            RiskLevel  `json:"riskLevel"`
	Difficulty      Difficulty `json:"difficulty"`
	Mode            Mode       `json:"mode"`
	Weeks           int        `json:"weeks,omitempty"` // custom mode only
	ShowDayCounter  bool       `json:"showDayCounter"`

	// CommissionRate is charged on both sides of every order as a fraction
	// of notional (0.001 = 0.1%). Zero disables commissions.
	CommissionRate float64 `json:"commissionRate"`

	// MarginMultiplier > 1 enables margin buying: a buy is admitted while
	// cost <= cash * multiplier. Zero or one disables margin.
	MarginMultiplier float64 `json:"marginMultiplier,omitempty"`
}

// Normalize clamps out-of-range fields and applies mode-forced values.
// Custom mode pins capital/risk/difficulty regardless of what was requested.
func (c GameConfig) Normalize() GameConfig {
	if c.StartingCapital <= 0 {
		c.StartingCapital = 10_000
	}
	if c.StartingCapital > MaxStartingCapital {
		c.StartingCapital = MaxStartingCapital
	}
	if c.Risk == "" {
		c.Risk = RiskModerate
	}
	if c.Difficulty == "" {
		c.Difficulty = DifficultyMedium
	}
	if c.Mode == "" {
		c.Mode = ModeClassic
	}
	if c.Mode == ModeCustom {
		c.StartingCapital = 10_000
		c.Risk = RiskModerate
		c.Difficulty = DifficultyMedium
		if c.Weeks <= 0 {
			c.Weeks = 1
		}
	}
	return c
}

// Validate reports the first invalid field, if any.
func (c GameConfig) Validate() error {
	switch c.Mode {
	case ModeClassic, ModeChallenge, ModeDayTrader, ModePortfolio, ModeCustom:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Risk {
	case RiskConservative, RiskModerate, RiskAggressive:
	default:
		return fmt.Errorf("unknown risk level %q", c.Risk)
	}
	switch c.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("unknown difficulty %q", c.Difficulty)
	}
	if c.Mode == ModeCustom && c.Weeks <= 0 {
		return fmt.Errorf("custom mode requires weeks >= 1")
	}
	if c.CommissionRate < 0 || c.CommissionRate > 0.1 {
		return fmt.Errorf("commission rate %v out of range [0, 0.1]", c.CommissionRate)
	}
	return nil
}

// Role gates access to the chat channel and admin-only operations.
type Role string

const (
	RoleUser   Role = "user"
	RoleTester Role = "tester"
	RoleAdmin  Role = "admin"
)

// CanChat reports whether the role may subscribe to or post in chat.
func (r Role) CanChat() bool { return r == RoleTester || r == RoleAdmin }

// UserStats aggregates completed-session results for a user or bot.
type UserStats struct {
	GamesPlayed   int     `json:"gamesPlayed"`
	BestReturn    float64 `json:"bestReturn"`
	AverageReturn float64 `json:"averageReturn"`
}

// User is an account record. At least one of Email/Username is set and is
// unique within its category.
type User struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email,omitempty"`
	Username     string    `json:"username,omitempty"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	Role         Role      `json:"role"`
	Stats        UserStats `json:"stats"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ChatMessage is one entry in the global room, totally ordered by wall timestamp.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	WallTime    time.Time `json:"timestamp"`
	SimTime     time.Time `json:"simTimestamp"`
}

// Topic is a push-channel subscription topic.
type Topic string

const (
	TopicMarketData      Topic = "market_data"
	TopicOrderUpdate     Topic = "order_update"
	TopicPortfolioUpdate Topic = "portfolio_update"
	TopicChat            Topic = "chat"
)

// ValidTopic reports whether t names a subscribable topic.
func ValidTopic(t Topic) bool {
	switch t {
	case TopicMarketData, TopicOrderUpdate, TopicPortfolioUpdate, TopicChat:
		return true
	}
	return false
}

// ClientFrame is a frame sent by a push-channel client.
// Type is "subscribe", "unsubscribe", or "ping".
type ClientFrame struct {
	Type  string `json:"type"`
	Topic Topic  `json:"topic,omitempty"`
}

// ServerFrame is a frame delivered to a push-channel client. Data holds the
// type-specific payload.
type ServerFrame struct {
	Type      string          `json:"type"` // market_snapshot|market_update|order_update|portfolio_update|chat|pong|error
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewServerFrame marshals payload into a ServerFrame. A marshal failure is a
// programming error and yields an error frame instead.
func NewServerFrame(frameType string, payload any) ServerFrame {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"tag": "Internal", "message": "encode failure"})
		return ServerFrame{Type: "error", Timestamp: time.Now().UTC(), Data: data}
	}
	return ServerFrame{Type: frameType, Timestamp: time.Now().UTC(), Data: data}
}

// MarketDelta describes one symbol's price move on a tick.
type MarketDelta struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	ChangePct float64 `json:"change_pct"`
	Day       int     `json:"day"`
}

// OrderUpdate notifies a session's subscribers of a fill.
type OrderUpdate struct {
	SessionID string  `json:"session_id"`
	Trade     Trade   `json:"trade"`
	Cash      float64 `json:"cash"`
	Status    string  `json:"status"` // "filled"
}

// PortfolioUpdate carries a session's headline numbers each tick.
type PortfolioUpdate struct {
	SessionID     string  `json:"session_id"`
	Cash          float64 `json:"cash"`
	TotalValue    float64 `json:"total_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	Day           int     `json:"day"`
}

// NormalizeSymbol uppercases and trims a client-supplied symbol.
func NormalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}
