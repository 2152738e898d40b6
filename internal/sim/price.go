// Package sim implements the simulation core: the stochastic price engine,
// the simulated clock, per-session portfolios, the order executor, mode
// policies, the per-session tick scheduler, and the session registry.
package sim

import "marketsim/pkg/types"

// HistoryRetention bounds the per-symbol price history kept in memory and in
// snapshots. Older entries are dropped from the front.
const HistoryRetention = 1024

// priceFloor is the minimum price after any tick. Prices never reach zero.
const priceFloor = 0.01

// Jump and news-gap probabilities. The two branches are mutually exclusive:
// one uniform draw selects jump below 0.005, news gap below 0.025, else neither.
const (
	jumpProb      = 0.005
	newsProb      = 0.02
	jumpSpread    = 0.4 // multiplier drawn from 1 ± 0.2
	newsSpread    = 0.1 // multiplier drawn from 1 ± 0.05
	driftFactor   = 0.00005
	momentumCarry = 0.3
	bondVol       = 0.002
)

// Rand is the randomness source the price engine draws from. Satisfied by
// *rand.Rand; tests substitute scripted sequences.
type Rand interface {
	Float64() float64
}

// PriceState carries the evolving state for one symbol within a session.
// Only Price and PrevDelta feed the next tick; History is observational.
type PriceState struct {
	Price     float64
	PrevDelta float64
	History   []float64
}

// NewPriceState seeds a symbol at its base price with one history entry.
func NewPriceState(basePrice float64) *PriceState {
	return &PriceState{Price: basePrice, History: []float64{basePrice}}
}

// PriceEngine advances PriceStates one logical day at a time.
// It is stateless apart from the injected randomness source; all evolving
// state lives in the PriceState, which keeps it trivially serializable.
type PriceEngine struct {
	rng Rand
}

// NewPriceEngine creates an engine drawing from rng.
func NewPriceEngine(rng Rand) *PriceEngine {
	return &PriceEngine{rng: rng}
}

// Tick advances st by ticks logical days for the given instrument. The
// effective volatility is baseVolatility x risk x difficulty, except bonds,
// which are pinned to a low constant regardless of settings.
//
// Per tick, given previous price p and previous delta d:
//
//	noise    = uniform(-0.5, +0.5) * typeVol * p
//	drift    = 0.00005 * p
//	momentum = 0.3 * d
//	jump     = 1 ± 0.2 with p=0.005, else 1 ± 0.05 with p=0.02, else 1
//	p'       = max(p*jump + noise + drift + momentum, 0.01)
func (e *PriceEngine) Tick(st *PriceState, inst types.Instrument, riskMult, diffMult float64, ticks int) float64 {
	typeVol := inst.BaseVolatility * riskMult * diffMult
	if inst.Type == types.TypeBond {
		typeVol = bondVol
	}

	for i := 0; i < ticks; i++ {
		p := st.Price

		noise := (e.rng.Float64() - 0.5) * typeVol * p
		drift := driftFactor * p
		momentum := momentumCarry * st.PrevDelta

		jump := 1.0
		switch roll := e.rng.Float64(); {
		case roll < jumpProb:
			jump = 1 + (e.rng.Float64()-0.5)*jumpSpread
		case roll < jumpProb+newsProb:
			jump = 1 + (e.rng.Float64()-0.5)*newsSpread
		}

		next := p*jump + noise + drift + momentum
		if next < priceFloor {
			next = priceFloor
		}

		st.PrevDelta = next - p
		st.Price = next
		st.History = append(st.History, next)
		if len(st.History) > HistoryRetention {
			st.History = st.History[len(st.History)-HistoryRetention:]
		}
	}
	return st.Price
}
