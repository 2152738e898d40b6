package sim

import (
	"math/rand/v2"
	"testing"

	"marketsim/pkg/types"
)

var growthInst = types.Instrument{Symbol: "XTST", Type: types.TypeGrowth, BasePrice: 100, BaseVolatility: 0.02}
var bondInst = types.Instrument{Symbol: "BTST", Type: types.TypeBond, BasePrice: 100, BaseVolatility: 0.05}

func TestTickDeterministicForSeed(t *testing.T) {
	t.Parallel()

	run := func() []float64 {
		eng := NewPriceEngine(rand.New(rand.NewPCG(42, 42)))
		st := NewPriceState(100)
		var out []float64
		for i := 0; i < 50; i++ {
			out = append(out, eng.Tick(st, growthInst, 1.0, 1.0, 1))
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d diverged: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestTickNeverNonPositive(t *testing.T) {
	t.Parallel()

	eng := NewPriceEngine(rand.New(rand.NewPCG(7, 7)))
	st := NewPriceState(0.05)
	for i := 0; i < 5000; i++ {
		p := eng.Tick(st, growthInst, 1.8, 1.3, 1)
		if p < priceFloor {
			t.Fatalf("tick %d: price %v below floor", i, p)
		}
	}
	for i, h := range st.History {
		if h <= 0 {
			t.Fatalf("history[%d] = %v, want > 0", i, h)
		}
	}
}

func TestTickMomentumCarry(t *testing.T) {
	t.Parallel()

	// Draws: noise roll 0.5 (zero noise), jump roll 0.5 (no jump).
	eng := NewPriceEngine(&seqRand{vals: []float64{0.5, 0.5}})
	st := NewPriceState(100)
	st.PrevDelta = 10

	got := eng.Tick(st, growthInst, 1.0, 1.0, 1)
	want := 100 + 0.00005*100 + 0.3*10
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("price = %v, want %v", got, want)
	}
	if st.PrevDelta != got-100 {
		t.Errorf("PrevDelta = %v, want %v", st.PrevDelta, got-100)
	}
}

func TestTickBondVolatilityPinned(t *testing.T) {
	t.Parallel()

	// Worst-case noise draw (0.0 -> -0.5 factor), no jump.
	eng := NewPriceEngine(&seqRand{vals: []float64{0.0, 0.5}})
	st := NewPriceState(100)

	got := eng.Tick(st, bondInst, 1.8, 1.3, 1)
	// Bonds use typeVol 0.002 regardless of base volatility or multipliers.
	want := 100 - 0.5*0.002*100 + 0.00005*100
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("price = %v, want %v", got, want)
	}
}

func TestTickJumpBranches(t *testing.T) {
	t.Parallel()

	// Jump branch: roll 0.004 < 0.005, jump draw 1.0 -> multiplier 1.2.
	eng := NewPriceEngine(&seqRand{vals: []float64{0.5, 0.004, 1.0}})
	st := NewPriceState(100)
	got := eng.Tick(st, growthInst, 1.0, 1.0, 1)
	want := 100*1.2 + 0.00005*100
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("jump price = %v, want %v", got, want)
	}

	// News branch: roll 0.01 in [0.005, 0.025), draw 0.0 -> multiplier 0.95.
	eng = NewPriceEngine(&seqRand{vals: []float64{0.5, 0.01, 0.0}})
	st = NewPriceState(100)
	got = eng.Tick(st, growthInst, 1.0, 1.0, 1)
	want = 100*0.95 + 0.00005*100
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("news price = %v, want %v", got, want)
	}
}

func TestHistoryRetentionBounded(t *testing.T) {
	t.Parallel()

	eng := NewPriceEngine(rand.New(rand.NewPCG(1, 1)))
	st := NewPriceState(100)
	eng.Tick(st, growthInst, 1.0, 1.0, HistoryRetention+200)

	if len(st.History) != HistoryRetention {
		t.Errorf("history length = %d, want %d", len(st.History), HistoryRetention)
	}
	if st.History[len(st.History)-1] != st.Price {
		t.Errorf("last history entry %v != price %v", st.History[len(st.History)-1], st.Price)
	}
}
