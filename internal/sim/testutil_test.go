package sim

import (
	"testing"
	"time"

	"marketsim/internal/catalog"
	"marketsim/pkg/types"
)

// seqRand plays back a scripted sequence of draws.
type seqRand struct {
	vals []float64
	i    int
}

func (r *seqRand) Float64() float64 {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]types.Instrument{
		{Symbol: "XTST", Name: "Test Growth", BasePrice: 100, Type: types.TypeGrowth, BaseVolatility: 0.02},
		{Symbol: "DTST", Name: "Test Dividend", BasePrice: 50, Type: types.TypeDividend, BaseVolatility: 0.012},
		{Symbol: "ETST", Name: "Test Index", BasePrice: 200, Type: types.TypeETF, BaseVolatility: 0.01},
		{Symbol: "BTST", Name: "Test Bond", BasePrice: 100, Type: types.TypeBond, BaseVolatility: 0.05},
	})
	if err != nil {
		t.Fatalf("test catalog: %v", err)
	}
	return c
}

var testStart = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, cfg types.GameConfig) *Session {
	t.Helper()
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return NewSession("owner-1", cfg, testCatalog(t), testStart, 1.0, 42)
}
