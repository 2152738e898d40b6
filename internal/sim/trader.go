package sim

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketsim/pkg/types"
)

// Trader admits orders into a session and executes them against the current
// mid-price. It is a pure operator over a Session: it holds no state of its
// own and mutates the session only under the session mutex.
//
// Atomicity: an order either fully mutates cash, positions, the trade log,
// and mode state together, or leaves them all unchanged. All admission checks
// run before the first mutation.
type Trader struct {
	// Now supplies the wall timestamp for trade records. Nil means time.Now.
	Now func() time.Time
}

func (t Trader) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// notionalAndFee computes the cent-rounded order notional and commission.
func notionalAndFee(price float64, qty int64, rate float64) (notional, fee float64) {
	n := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)).Round(2)
	notional, _ = n.Float64()
	if rate > 0 {
		fee, _ = n.Mul(decimal.NewFromFloat(rate)).Round(2).Float64()
	}
	return notional, fee
}

// Buy executes a market buy of qty shares at the current price.
func (t Trader) Buy(s *Session, symbol string, qty int64) (types.Trade, error) {
	if qty <= 0 {
		return types.Trade{}, ErrInvalidQuantity
	}
	inst, ok := s.catalog.Lookup(symbol)
	if !ok {
		return types.Trade{}, ErrSymbolUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, short := s.portfolio.Shorts[inst.Symbol]; short {
		return types.Trade{}, ErrConflictingShort
	}
	day := s.clock.DayCount()
	if err := s.mode.admitTrade(day); err != nil {
		return types.Trade{}, err
	}

	price := s.price(inst.Symbol)
	notional, fee := notionalAndFee(price, qty, s.cfg.CommissionRate)
	cost := notional + fee

	buyingPower := s.portfolio.Cash
	if s.cfg.MarginMultiplier > 1 {
		buyingPower = s.portfolio.Cash * s.cfg.MarginMultiplier
	}
	if cost > buyingPower {
		return types.Trade{}, ErrInsufficientCash
	}

	s.portfolio.Cash -= cost
	pos := s.portfolio.Positions[inst.Symbol]
	if pos == nil {
		pos = &Position{}
		s.portfolio.Positions[inst.Symbol] = pos
	}
	pos.Quantity += qty
	pos.CostBasis += notional

	trade := t.record(s, types.TradeBuy, inst.Symbol, qty, price)
	s.mode.noteTrade(day)
	return trade, nil
}

// Sell executes a market sell of qty shares held long.
func (t Trader) Sell(s *Session, symbol string, qty int64) (types.Trade, error) {
	if qty <= 0 {
		return types.Trade{}, ErrInvalidQuantity
	}
	inst, ok := s.catalog.Lookup(symbol)
	if !ok {
		return types.Trade{}, ErrSymbolUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.portfolio.Positions[inst.Symbol]
	if pos == nil || pos.Quantity < qty {
		return types.Trade{}, ErrInsufficientShares
	}
	day := s.clock.DayCount()
	if err := s.mode.admitTrade(day); err != nil {
		return types.Trade{}, err
	}

	price := s.price(inst.Symbol)
	notional, fee := notionalAndFee(price, qty, s.cfg.CommissionRate)
	proceeds := notional - fee

	// Average-cost basis: the sold share of the basis leaves the position.
	basisOut := pos.CostBasis / float64(pos.Quantity) * float64(qty)

	s.portfolio.Cash += proceeds
	s.portfolio.RealizedGains += proceeds - basisOut
	pos.Quantity -= qty
	pos.CostBasis -= basisOut
	if pos.Quantity == 0 {
		delete(s.portfolio.Positions, inst.Symbol)
	}

	trade := t.record(s, types.TradeSell, inst.Symbol, qty, price)
	s.mode.noteTrade(day)
	return trade, nil
}

// OpenShort opens or extends a short position. Shorting a symbol with an open
// long position is rejected; positions stay unambiguous in one direction.
func (t Trader) OpenShort(s *Session, symbol string, qty int64) (types.Trade, error) {
	if qty <= 0 {
		return types.Trade{}, ErrInvalidQuantity
	}
	inst, ok := s.catalog.Lookup(symbol)
	if !ok {
		return types.Trade{}, ErrSymbolUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode.weeksExhausted(s.clock.DayCount()) {
		return types.Trade{}, ErrWeekBudgetExhausted
	}
	if pos := s.portfolio.Positions[inst.Symbol]; pos != nil && pos.Quantity > 0 {
		return types.Trade{}, ErrConflictingLong
	}

	price := s.price(inst.Symbol)
	notional, fee := notionalAndFee(price, qty, s.cfg.CommissionRate)

	sp := s.portfolio.Shorts[inst.Symbol]
	if sp == nil {
		sp = &ShortPosition{}
		s.portfolio.Shorts[inst.Symbol] = sp
	}
	total := float64(sp.Quantity)*sp.EntryPrice + float64(qty)*price
	sp.Quantity += qty
	sp.EntryPrice = total / float64(sp.Quantity)
	s.portfolio.Cash += notional - fee

	return t.record(s, types.TradeShortOpen, inst.Symbol, qty, price), nil
}

// CloseShort buys back qty shares of an open short at the current price.
func (t Trader) CloseShort(s *Session, symbol string, qty int64) (types.Trade, error) {
	if qty <= 0 {
		return types.Trade{}, ErrInvalidQuantity
	}
	inst, ok := s.catalog.Lookup(symbol)
	if !ok {
		return types.Trade{}, ErrSymbolUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode.weeksExhausted(s.clock.DayCount()) {
		return types.Trade{}, ErrWeekBudgetExhausted
	}
	sp := s.portfolio.Shorts[inst.Symbol]
	if sp == nil || sp.Quantity == 0 {
		return types.Trade{}, ErrNoShortPosition
	}
	if qty > sp.Quantity {
		return types.Trade{}, ErrQuantityExceedsShort
	}

	price := s.price(inst.Symbol)
	notional, fee := notionalAndFee(price, qty, s.cfg.CommissionRate)
	cost := notional + fee

	s.portfolio.Cash -= cost
	s.portfolio.RealizedGains += float64(qty)*sp.EntryPrice - cost
	sp.Quantity -= qty
	if sp.Quantity == 0 {
		delete(s.portfolio.Shorts, inst.Symbol)
	}

	return t.record(s, types.TradeShortClose, inst.Symbol, qty, price), nil
}

// record appends a trade to the session log. Callers hold s.mu.
func (t Trader) record(s *Session, kind types.TradeKind, symbol string, qty int64, price float64) types.Trade {
	trade := types.Trade{
		ID:       uuid.NewString(),
		Kind:     kind,
		Symbol:   symbol,
		Quantity: qty,
		Price:    price,
		WallTime: t.now(),
		SimTime:  s.clock.Now(),
	}
	s.trades = append(s.trades, trade)
	return trade
}
