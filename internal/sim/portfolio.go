package sim

// Position is a long holding. CostBasis accumulates total purchase cost;
// average cost is CostBasis / Quantity. An entry with zero quantity is
// removed from the map rather than kept.
type Position struct {
	Quantity  int64   `json:"quantity"`
	CostBasis float64 `json:"costBasis"`
}

// AvgCost returns the average purchase price per share.
func (p Position) AvgCost() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return p.CostBasis / float64(p.Quantity)
}

// ShortPosition tracks an open short. EntryPrice is the volume-weighted
// average open price; PnL bookkeeping mirrors longs with inverted sign.
type ShortPosition struct {
	Quantity   int64   `json:"quantity"`
	EntryPrice float64 `json:"entryPrice"`
}

// marginCallLevel is the margin level (percent) below which the margin call
// flag is raised. The core only reports the flag; liquidation is caller policy.
const marginCallLevel = 130

// Portfolio holds a session's cash and open positions. It is mutated only by
// the Trader and by snapshot restore, always under the session mutex.
type Portfolio struct {
	Cash          float64                   `json:"cash"`
	Positions     map[string]*Position      `json:"positions"`
	Shorts        map[string]*ShortPosition `json:"shorts"`
	RealizedGains float64                   `json:"realizedGains"`
	MarginCall    bool                      `json:"marginCall,omitempty"`
}

// NewPortfolio seeds a portfolio with starting cash.
func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{
		Cash:      cash,
		Positions: make(map[string]*Position),
		Shorts:    make(map[string]*ShortPosition),
	}
}

// PriceFunc resolves a symbol to its current session price.
type PriceFunc func(symbol string) float64

// LongValue returns the mark-to-market value of all long positions.
func (pf *Portfolio) LongValue(price PriceFunc) float64 {
	var v float64
	for sym, pos := range pf.Positions {
		v += float64(pos.Quantity) * price(sym)
	}
	return v
}

// ShortLiability returns the cost to close all shorts at current prices net
// of their entry credit: sum(q*current - q*entry). Negative when shorts are
// in profit.
func (pf *Portfolio) ShortLiability(price PriceFunc) float64 {
	var v float64
	for sym, sp := range pf.Shorts {
		v += float64(sp.Quantity) * (price(sym) - sp.EntryPrice)
	}
	return v
}

// TotalValue is cash plus long value minus short liability.
func (pf *Portfolio) TotalValue(price PriceFunc) float64 {
	return pf.Cash + pf.LongValue(price) - pf.ShortLiability(price)
}

// UnrealizedPnL is the gain over cost basis on longs plus the entry-vs-now
// gain on shorts.
func (pf *Portfolio) UnrealizedPnL(price PriceFunc) float64 {
	var pnl float64
	for sym, pos := range pf.Positions {
		pnl += float64(pos.Quantity)*price(sym) - pos.CostBasis
	}
	for sym, sp := range pf.Shorts {
		pnl += float64(sp.Quantity) * (sp.EntryPrice - price(sym))
	}
	return pnl
}

// UsedMargin is the purchase cost carried beyond cash, i.e. how negative the
// cash balance has gone. Zero when cash is non-negative.
func (pf *Portfolio) UsedMargin() float64 {
	if pf.Cash >= 0 {
		return 0
	}
	return -pf.Cash
}

// MarginLevel returns equity / usedMargin * 100. With no margin in use the
// level is reported as +Inf-like sentinel 0 meaning "not applicable"; callers
// must check UsedMargin first.
func (pf *Portfolio) MarginLevel(price PriceFunc) float64 {
	used := pf.UsedMargin()
	if used == 0 {
		return 0
	}
	return pf.TotalValue(price) / used * 100
}

// UpdateMarginCall recomputes the margin call flag from the current level.
func (pf *Portfolio) UpdateMarginCall(price PriceFunc) {
	used := pf.UsedMargin()
	pf.MarginCall = used > 0 && pf.MarginLevel(price) < marginCallLevel
}

// Clone returns a deep copy, used for consistent reads and snapshots.
func (pf *Portfolio) Clone() *Portfolio {
	out := &Portfolio{
		Cash:          pf.Cash,
		RealizedGains: pf.RealizedGains,
		MarginCall:    pf.MarginCall,
		Positions:     make(map[string]*Position, len(pf.Positions)),
		Shorts:        make(map[string]*ShortPosition, len(pf.Shorts)),
	}
	for sym, pos := range pf.Positions {
		cp := *pos
		out.Positions[sym] = &cp
	}
	for sym, sp := range pf.Shorts {
		cp := *sp
		out.Shorts[sym] = &cp
	}
	return out
}
