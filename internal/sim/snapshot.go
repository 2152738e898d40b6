package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/catalog"
	"marketsim/pkg/types"
)

// StockState is the serialized per-symbol engine state. Price and the
// previous delta are the only fields the next tick depends on.
type StockState struct {
	Price     float64 `json:"price"`
	PrevDelta float64 `json:"prevDelta"`
}

// SimulatorState is the inner snapshot document.
type SimulatorState struct {
	Config         types.GameConfig     `json:"config"`
	Portfolio      *Portfolio           `json:"portfolio"`
	Stocks         map[string]StockState `json:"stocks"`
	PriceHistory   map[string][]float64 `json:"priceHistory"`
	SimulatedTime  time.Time            `json:"simulatedTime"`
	Trades         []types.Trade        `json:"trades"`
	ModeState      ModeState            `json:"modeState"`
	StartTime      time.Time            `json:"startTime"`
	InitialCapital float64              `json:"initialCapital"`
	DailyStats     []DailyStat          `json:"dailyStats"`
}

// Snapshot is the complete serialized form of a session. Round-trip law:
// restoring a captured snapshot reproduces the session up to non-observable
// ordering and the scheduler's wall-clock cursor.
type Snapshot struct {
	Config    types.GameConfig `json:"config"`
	Simulator SimulatorState   `json:"simulator"`
}

// Capture serializes the session's complete observable state.
func (s *Session) Capture() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	stocks := make(map[string]StockState, len(s.states))
	history := make(map[string][]float64, len(s.states))
	for sym, st := range s.states {
		stocks[sym] = StockState{Price: st.Price, PrevDelta: st.PrevDelta}
		history[sym] = append([]float64(nil), st.History...)
	}

	return Snapshot{
		Config: s.cfg,
		Simulator: SimulatorState{
			Config:         s.cfg,
			Portfolio:      s.portfolio.Clone(),
			Stocks:         stocks,
			PriceHistory:   history,
			SimulatedTime:  s.clock.Now(),
			Trades:         append([]types.Trade(nil), s.trades...),
			ModeState:      s.mode,
			StartTime:      s.clock.Start(),
			InitialCapital: s.initial,
			DailyStats:     append([]DailyStat(nil), s.dailyStats...),
		},
	}
}

// DecodeSnapshot parses a snapshot document. Unknown fields are rejected to
// catch schema drift between writer and reader.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Restore rebuilds a session from a snapshot for the given owner. Symbols
// absent from the catalog fail the load; symbols the snapshot lacks start at
// their base price.
func Restore(snap Snapshot, cat *catalog.Catalog, owner string, speed float64, seed uint64) (*Session, error) {
	cfg := snap.Simulator.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot config: %w", err)
	}
	for sym := range snap.Simulator.Stocks {
		if _, ok := cat.Lookup(sym); !ok {
			return nil, fmt.Errorf("snapshot symbol %q not in catalog", sym)
		}
	}

	if seed == 0 {
		seed = rand.Uint64()
	}
	states := make(map[string]*PriceState, cat.Len())
	for _, inst := range cat.All() {
		if st, ok := snap.Simulator.Stocks[inst.Symbol]; ok {
			states[inst.Symbol] = &PriceState{
				Price:     st.Price,
				PrevDelta: st.PrevDelta,
				History:   append([]float64(nil), snap.Simulator.PriceHistory[inst.Symbol]...),
			}
			if len(states[inst.Symbol].History) == 0 {
				states[inst.Symbol].History = []float64{st.Price}
			}
		} else {
			states[inst.Symbol] = NewPriceState(inst.BasePrice)
		}
	}

	pf := snap.Simulator.Portfolio
	if pf == nil {
		pf = NewPortfolio(cfg.StartingCapital)
	}
	if pf.Positions == nil {
		pf.Positions = make(map[string]*Position)
	}
	if pf.Shorts == nil {
		pf.Shorts = make(map[string]*ShortPosition)
	}

	clock := NewClock(snap.Simulator.StartTime, speed)
	clock.Restore(snap.Simulator.StartTime, snap.Simulator.SimulatedTime)

	initial := snap.Simulator.InitialCapital
	if initial == 0 {
		initial = cfg.StartingCapital
	}

	mode := snap.Simulator.ModeState
	if mode.Mode == "" {
		mode = NewModeState(cfg)
	}

	return &Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		cfg:        cfg,
		clock:      clock,
		engine:     NewPriceEngine(rand.New(rand.NewPCG(seed, seed))),
		catalog:    cat,
		states:     states,
		portfolio:  pf,
		trades:     append([]types.Trade(nil), snap.Simulator.Trades...),
		mode:       mode,
		dailyStats: append([]DailyStat(nil), snap.Simulator.DailyStats...),
		startWall:  time.Now().UTC(),
		initial:    initial,
	}, nil
}
