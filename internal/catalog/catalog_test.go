package catalog

import (
	"testing"

	"marketsim/pkg/types"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.Len() != 135 {
		t.Errorf("Len = %d, want 135", c.Len())
	}

	counts := map[types.InstrumentType]int{}
	for _, inst := range c.All() {
		counts[inst.Type]++
		if len(inst.Symbol) < 1 || len(inst.Symbol) > 5 {
			t.Errorf("%s: symbol length out of range", inst.Symbol)
		}
		if inst.BasePrice <= 0 {
			t.Errorf("%s: non-positive base price", inst.Symbol)
		}
		if inst.BaseVolatility < 0.004 || inst.BaseVolatility > 0.05 {
			t.Errorf("%s: base volatility %v outside expected band", inst.Symbol, inst.BaseVolatility)
		}
	}
	for _, typ := range []types.InstrumentType{types.TypeGrowth, types.TypeDividend, types.TypeETF, types.TypeBond} {
		if counts[typ] == 0 {
			t.Errorf("no instruments of type %s", typ)
		}
	}
}

func TestLookupNormalizesSymbol(t *testing.T) {
	t.Parallel()

	c := Default()
	inst, ok := c.Lookup("  nvtr ")
	if !ok {
		t.Fatal("Lookup(nvtr) failed")
	}
	if inst.Symbol != "NVTR" {
		t.Errorf("Symbol = %s, want NVTR", inst.Symbol)
	}

	if _, ok := c.Lookup("NOPE"); ok {
		t.Error("Lookup(NOPE) should fail")
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := New([]types.Instrument{
		{Symbol: "AAA", Name: "a", BasePrice: 1, Type: types.TypeGrowth, BaseVolatility: 0.01},
		{Symbol: "AAA", Name: "b", BasePrice: 2, Type: types.TypeGrowth, BaseVolatility: 0.01},
	})
	if err == nil {
		t.Fatal("expected duplicate-symbol error")
	}
}
