package sim

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/catalog"
	"marketsim/pkg/types"
)

// DailyStat is one day-close observation, retained for the UI chart and the
// snapshot's dailyStats series.
type DailyStat struct {
	Day   int     `json:"day"`
	Value float64 `json:"value"`
	Cash  float64 `json:"cash"`
}

// Session is one private trading context: one portfolio, one simulated market
// tape, owned by a user or bot. The session mutex is the sole synchronization
// point for in-session state; it is never held across I/O.
type Session struct {
	ID    string
	Owner string

	mu         sync.Mutex
	cfg        types.GameConfig
	clock      *Clock
	engine     *PriceEngine
	catalog    *catalog.Catalog
	states     map[string]*PriceState
	portfolio  *Portfolio
	trades     []types.Trade
	mode       ModeState
	dailyStats []DailyStat
	startWall  time.Time
	initial    float64
}

// TickResult reports what one pump of the session produced.
type TickResult struct {
	Exhausted bool // custom-mode week budget consumed; nothing advanced
	Day       int
	Deltas    []types.MarketDelta
	Portfolio types.PortfolioUpdate
}

// NewSession creates a session with a fresh tape seeded from the catalog.
// cfg must already be normalized. A zero seed derives one from entropy.
func NewSession(owner string, cfg types.GameConfig, cat *catalog.Catalog, startDate time.Time, speed float64, seed uint64) *Session {
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	states := make(map[string]*PriceState, cat.Len())
	for _, inst := range cat.All() {
		states[inst.Symbol] = NewPriceState(inst.BasePrice)
	}

	return &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		cfg:       cfg,
		clock:     NewClock(startDate, speed),
		engine:    NewPriceEngine(rng),
		catalog:   cat,
		states:    states,
		portfolio: NewPortfolio(cfg.StartingCapital),
		mode:      NewModeState(cfg),
		startWall: time.Now().UTC(),
		initial:   cfg.StartingCapital,
	}
}

// Config returns the session's normalized game config.
func (s *Session) Config() types.GameConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// price resolves a symbol's current price. Callers hold s.mu.
func (s *Session) price(sym string) float64 {
	if st, ok := s.states[sym]; ok {
		return st.Price
	}
	return 0
}

// Tick advances the session by n simulated days: the clock moves, every
// symbol's price evolves, unrealized P&L and mode state roll over, and the
// day-close stat is appended. Returns the per-symbol deltas for broadcast.
//
// In custom mode ticks past the week budget are no-ops reported as Exhausted.
func (s *Session) Tick(n int) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return TickResult{Day: s.clock.DayCount(), Portfolio: s.portfolioUpdateLocked()}
	}

	if s.mode.Custom != nil {
		day := s.clock.DayCount()
		if s.mode.weeksExhausted(day) {
			return TickResult{Exhausted: true, Day: day, Portfolio: s.portfolioUpdateLocked()}
		}
		if allowed := s.mode.Custom.WeeksBudget*7 - (day - s.mode.Custom.StartDay); n > allowed {
			n = allowed
		}
	}

	riskMult := s.cfg.Risk.Multiplier()
	diffMult := s.cfg.Difficulty.Multiplier()

	deltas := make([]types.MarketDelta, 0, len(s.states))
	for day := 0; day < n; day++ {
		s.clock.Advance(1)
		dayIdx := s.clock.DayCount()

		for _, inst := range s.catalog.All() {
			st := s.states[inst.Symbol]
			prev := st.Price
			next := s.engine.Tick(st, inst, riskMult, diffMult, 1)
			if day == n-1 && next != prev {
				deltas = append(deltas, types.MarketDelta{
					Symbol:    inst.Symbol,
					Price:     next,
					Change:    next - prev,
					ChangePct: (next - prev) / prev * 100,
					Day:       dayIdx,
				})
			}
		}

		s.portfolio.UpdateMarginCall(s.price)
		s.mode.onDayBoundary(dayIdx, s.portfolio.TotalValue(s.price), s.initial)
		s.dailyStats = append(s.dailyStats, DailyStat{
			Day:   dayIdx,
			Value: s.portfolio.TotalValue(s.price),
			Cash:  s.portfolio.Cash,
		})
	}

	return TickResult{
		Day:       s.clock.DayCount(),
		Deltas:    deltas,
		Portfolio: s.portfolioUpdateLocked(),
	}
}

func (s *Session) portfolioUpdateLocked() types.PortfolioUpdate {
	return types.PortfolioUpdate{
		SessionID:     s.ID,
		Cash:          s.portfolio.Cash,
		TotalValue:    s.portfolio.TotalValue(s.price),
		UnrealizedPnL: s.portfolio.UnrealizedPnL(s.price),
		RealizedPnL:   s.portfolio.RealizedGains,
		Day:           s.clock.DayCount(),
	}
}

// Interval returns the scheduler period for this session's speed.
func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Interval()
}

// SetSpeed adjusts the clock acceleration.
func (s *Session) SetSpeed(speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock.SetSpeed(speed)
}

// SimTime returns the current simulated date.
func (s *Session) SimTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now()
}

// DayCount returns the simulated day index.
func (s *Session) DayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.DayCount()
}

// SymbolQuote is one entry of a market snapshot.
type SymbolQuote struct {
	Symbol    string               `json:"symbol"`
	Name      string               `json:"name"`
	Type      types.InstrumentType `json:"type"`
	Price     float64              `json:"price"`
	PrevDelta float64              `json:"prev_delta"`
	History   []float64            `json:"history,omitempty"`
}

// Quote returns the current quote for one symbol, with bounded history.
func (s *Session) Quote(symbol string, withHistory bool) (SymbolQuote, bool) {
	inst, ok := s.catalog.Lookup(symbol)
	if !ok {
		return SymbolQuote{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteLocked(inst, withHistory), true
}

// MarketSnapshot returns quotes for every symbol, without history.
func (s *Session) MarketSnapshot() []SymbolQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SymbolQuote, 0, len(s.states))
	for _, inst := range s.catalog.All() {
		out = append(out, s.quoteLocked(inst, false))
	}
	return out
}

func (s *Session) quoteLocked(inst types.Instrument, withHistory bool) SymbolQuote {
	st := s.states[inst.Symbol]
	q := SymbolQuote{
		Symbol:    inst.Symbol,
		Name:      inst.Name,
		Type:      inst.Type,
		Price:     st.Price,
		PrevDelta: st.PrevDelta,
	}
	if withHistory {
		q.History = append([]float64(nil), st.History...)
	}
	return q
}

// PortfolioDetails is a consistent view of cash, positions, and P&L.
type PortfolioDetails struct {
	Cash          float64                   `json:"cash"`
	Positions     map[string]PositionView   `json:"positions"`
	Shorts        map[string]*ShortPosition `json:"shorts,omitempty"`
	TotalValue    float64                   `json:"total_value"`
	UnrealizedPnL float64                   `json:"unrealized_pnl"`
	RealizedPnL   float64                   `json:"realized_pnl"`
	MarginCall    bool                      `json:"margin_call,omitempty"`
	Day           int                       `json:"day"`
}

// PositionView is a Position with current-price derived fields.
type PositionView struct {
	Quantity      int64   `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioDetails returns a torn-read-free snapshot of the portfolio.
func (s *Session) PortfolioDetails() PortfolioDetails {
	s.mu.Lock()
	defer s.mu.Unlock()

	det := PortfolioDetails{
		Cash:          s.portfolio.Cash,
		Positions:     make(map[string]PositionView, len(s.portfolio.Positions)),
		TotalValue:    s.portfolio.TotalValue(s.price),
		UnrealizedPnL: s.portfolio.UnrealizedPnL(s.price),
		RealizedPnL:   s.portfolio.RealizedGains,
		MarginCall:    s.portfolio.MarginCall,
		Day:           s.clock.DayCount(),
	}
	for sym, pos := range s.portfolio.Positions {
		p := s.price(sym)
		det.Positions[sym] = PositionView{
			Quantity:      pos.Quantity,
			AvgCost:       pos.AvgCost(),
			CurrentPrice:  p,
			MarketValue:   float64(pos.Quantity) * p,
			UnrealizedPnL: float64(pos.Quantity)*p - pos.CostBasis,
		}
	}
	if len(s.portfolio.Shorts) > 0 {
		det.Shorts = make(map[string]*ShortPosition, len(s.portfolio.Shorts))
		for sym, sp := range s.portfolio.Shorts {
			cp := *sp
			det.Shorts[sym] = &cp
		}
	}
	return det
}

// Trades returns a copy of the trade log in acceptance order.
func (s *Session) Trades() []types.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Trade(nil), s.trades...)
}

// ModeInfo returns a copy of the current mode state.
func (s *Session) ModeInfo() ModeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.mode
	if ms.DayTrader != nil {
		cp := *ms.DayTrader
		ms.DayTrader = &cp
	}
	if ms.Challenge != nil {
		cp := *ms.Challenge
		ms.Challenge = &cp
	}
	if ms.Custom != nil {
		cp := *ms.Custom
		ms.Custom = &cp
	}
	return ms
}

// CurrentAllocation returns allocation fractions by type, for portfolio mode.
func (s *Session) CurrentAllocation() map[types.InstrumentType]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Allocation(s.portfolio, s.price, func(sym string) (types.InstrumentType, bool) {
		inst, ok := s.catalog.Lookup(sym)
		return inst.Type, ok
	})
}

// Return reports the session's fractional return over initial capital.
func (s *Session) Return() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initial == 0 {
		return 0
	}
	return (s.portfolio.TotalValue(s.price) - s.initial) / s.initial
}

// setPriceForTest pins a symbol's price directly. Test hook: the manual
// driver substitutes for RNG-driven ticks in deterministic scenarios.
func (s *Session) setPriceForTest(sym string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[sym]
	st.PrevDelta = price - st.Price
	st.Price = price
	st.History = append(st.History, price)
}
