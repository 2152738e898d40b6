package sim

import (
	"marketsim/pkg/types"
)

// MaxDayTrades is the pattern-day-trader cap. Both buys and sells count.
const MaxDayTrades = 3

// challengeTargetPct sets the challenge-mode daily target as a fraction of
// starting capital.
const challengeTargetPct = 0.05

// DayTraderState counts trades within the current simulated day.
type DayTraderState struct {
	TradesToday   int `json:"tradesToday"`
	MaxTradesADay int `json:"maxTradesPerDay"`
	CurrentSimDay int `json:"currentSimDay"`
}

// ChallengeState tracks daily-target progress. Observation only: it never
// constrains trading.
type ChallengeState struct {
	DailyTarget   float64 `json:"dailyTarget"`
	DaysCompleted int     `json:"daysCompleted"`
	StreakDays    int     `json:"streakDays"`
}

// PortfolioModeState holds the informational target allocation by
// instrument type. Fractions sum to 1.0. No rebalancing is enforced.
type PortfolioModeState struct {
	TargetAllocation map[types.InstrumentType]float64 `json:"targetAllocation"`
}

// CustomState bounds a session to a week budget; once elapsed weeks reach
// WeeksBudget the clock refuses to advance.
type CustomState struct {
	StartDay    int `json:"startDay"`
	WeeksBudget int `json:"weeksBudget"`
}

// ModeState is the tagged variant carrying per-mode state. Exactly the
// branch matching Mode is non-nil (classic carries none).
type ModeState struct {
	Mode      types.Mode          `json:"mode"`
	DayTrader *DayTraderState     `json:"daytrader,omitempty"`
	Challenge *ChallengeState     `json:"challenge,omitempty"`
	Portfolio *PortfolioModeState `json:"portfolio,omitempty"`
	Custom    *CustomState        `json:"custom,omitempty"`
}

// NewModeState initializes the variant for a normalized config.
func NewModeState(cfg types.GameConfig) ModeState {
	ms := ModeState{Mode: cfg.Mode}
	switch cfg.Mode {
	case types.ModeDayTrader:
		ms.DayTrader = &DayTraderState{MaxTradesADay: MaxDayTrades}
	case types.ModeChallenge:
		ms.Challenge = &ChallengeState{DailyTarget: cfg.StartingCapital * challengeTargetPct}
	case types.ModePortfolio:
		ms.Portfolio = &PortfolioModeState{
			TargetAllocation: map[types.InstrumentType]float64{
				types.TypeGrowth:   0.40,
				types.TypeDividend: 0.25,
				types.TypeETF:      0.20,
				types.TypeBond:     0.15,
			},
		}
	case types.ModeCustom:
		ms.Custom = &CustomState{WeeksBudget: cfg.Weeks}
	}
	return ms
}

// admitTrade applies mode admission rules for a buy or sell executing on the
// given simulated day. It mutates nothing; record the trade with noteTrade
// only after the whole order succeeds.
func (ms *ModeState) admitTrade(day int) error {
	if ms.weeksExhausted(day) {
		return ErrWeekBudgetExhausted
	}
	if ms.DayTrader == nil {
		return nil
	}
	dt := ms.DayTrader
	if day != dt.CurrentSimDay {
		// Counter from a previous day; rollover happens on the next tick
		// but an order arriving first must not be blocked by stale counts.
		return nil
	}
	if dt.TradesToday >= dt.MaxTradesADay {
		return ErrDayTradeLimit
	}
	return nil
}

// noteTrade records an executed buy/sell against the day-trade counter.
func (ms *ModeState) noteTrade(day int) {
	if ms.DayTrader == nil {
		return
	}
	dt := ms.DayTrader
	if day != dt.CurrentSimDay {
		dt.CurrentSimDay = day
		dt.TradesToday = 0
	}
	dt.TradesToday++
}

// onDayBoundary runs per-mode day-rollover work. portfolioValue and
// initialCapital feed the challenge evaluation.
func (ms *ModeState) onDayBoundary(day int, portfolioValue, initialCapital float64) {
	if dt := ms.DayTrader; dt != nil && day != dt.CurrentSimDay {
		dt.CurrentSimDay = day
		dt.TradesToday = 0
	}
	if ch := ms.Challenge; ch != nil {
		if portfolioValue-initialCapital >= ch.DailyTarget {
			ch.DaysCompleted++
			ch.StreakDays++
		} else {
			ch.StreakDays = 0
		}
	}
}

// weeksExhausted reports whether a custom-mode session has consumed its
// budget as of the given day count.
func (ms *ModeState) weeksExhausted(day int) bool {
	if ms.Custom == nil {
		return false
	}
	return day-ms.Custom.StartDay >= ms.Custom.WeeksBudget*7
}

// Allocation computes current allocation fractions by instrument type from
// long market values. Informational for portfolio mode.
func Allocation(pf *Portfolio, price PriceFunc, typeOf func(symbol string) (types.InstrumentType, bool)) map[types.InstrumentType]float64 {
	totals := map[types.InstrumentType]float64{}
	var sum float64
	for sym, pos := range pf.Positions {
		typ, ok := typeOf(sym)
		if !ok {
			continue
		}
		v := float64(pos.Quantity) * price(sym)
		totals[typ] += v
		sum += v
	}
	if sum == 0 {
		return totals
	}
	for typ := range totals {
		totals[typ] /= sum
	}
	return totals
}
