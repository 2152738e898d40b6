package sim

import (
	"errors"
	"testing"

	"marketsim/pkg/types"
)

func classicConfig(capital float64) types.GameConfig {
	return types.GameConfig{
		StartingCapital: capital,
		Risk:            types.RiskModerate,
		Difficulty:      types.DifficultyMedium,
		Mode:            types.ModeClassic,
	}
}

func TestBuyThenSellClassic(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(25_000))
	tr := Trader{}

	if _, err := tr.Buy(s, "XTST", 10); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	det := s.PortfolioDetails()
	if det.Cash != 24_000 {
		t.Errorf("cash after buy = %v, want 24000", det.Cash)
	}
	if det.Positions["XTST"].Quantity != 10 {
		t.Errorf("position = %d, want 10", det.Positions["XTST"].Quantity)
	}

	s.setPriceForTest("XTST", 110)

	if _, err := tr.Sell(s, "XTST", 10); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	det = s.PortfolioDetails()
	if det.Cash != 25_100 {
		t.Errorf("cash after sell = %v, want 25100", det.Cash)
	}
	if len(det.Positions) != 0 {
		t.Errorf("positions not empty: %v", det.Positions)
	}
	if det.UnrealizedPnL != 0 {
		t.Errorf("unrealized = %v, want 0", det.UnrealizedPnL)
	}
	if det.RealizedPnL != 100 {
		t.Errorf("realized = %v, want 100", det.RealizedPnL)
	}
	if got := len(s.Trades()); got != 2 {
		t.Errorf("trade log length = %d, want 2", got)
	}
}

func TestBuySellCommissionRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := classicConfig(25_000)
	cfg.CommissionRate = 0.001
	s := newTestSession(t, cfg)
	tr := Trader{}

	if _, err := tr.Buy(s, "XTST", 10); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := tr.Sell(s, "XTST", 10); err != nil {
		t.Fatalf("Sell: %v", err)
	}

	// Notional 1000.00, fee 1.00 each side.
	det := s.PortfolioDetails()
	if det.Cash != 25_000-2 {
		t.Errorf("cash = %v, want 24998", det.Cash)
	}
	if len(det.Positions) != 0 {
		t.Errorf("positions not restored to empty: %v", det.Positions)
	}
}

func TestAverageCostBasis(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(100_000))
	tr := Trader{}

	if _, err := tr.Buy(s, "XTST", 10); err != nil { // 10 @ 100
		t.Fatalf("Buy: %v", err)
	}
	s.setPriceForTest("XTST", 200)
	if _, err := tr.Buy(s, "XTST", 10); err != nil { // 10 @ 200, avg 150
		t.Fatalf("Buy: %v", err)
	}
	if _, err := tr.Sell(s, "XTST", 10); err != nil { // sell @ 200
		t.Fatalf("Sell: %v", err)
	}

	det := s.PortfolioDetails()
	if got := det.Positions["XTST"].AvgCost; got != 150 {
		t.Errorf("avg cost = %v, want 150 (average-cost basis)", got)
	}
	if det.RealizedPnL != 500 { // 2000 proceeds - 1500 basis
		t.Errorf("realized = %v, want 500", det.RealizedPnL)
	}
}

func TestRejections(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(1_000))
	tr := Trader{}

	cases := []struct {
		name string
		op   func() error
		want *RejectError
	}{
		{"zero quantity", func() error { _, err := tr.Buy(s, "XTST", 0); return err }, ErrInvalidQuantity},
		{"negative quantity", func() error { _, err := tr.Sell(s, "XTST", -1); return err }, ErrInvalidQuantity},
		{"unknown symbol", func() error { _, err := tr.Buy(s, "NOPE", 1); return err }, ErrSymbolUnknown},
		{"insufficient cash", func() error { _, err := tr.Buy(s, "XTST", 11); return err }, ErrInsufficientCash},
		{"insufficient shares", func() error { _, err := tr.Sell(s, "XTST", 1); return err }, ErrInsufficientShares},
		{"no short", func() error { _, err := tr.CloseShort(s, "XTST", 1); return err }, ErrNoShortPosition},
	}
	for _, tc := range cases {
		if err := tc.op(); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	// Rejected orders leave everything untouched.
	det := s.PortfolioDetails()
	if det.Cash != 1_000 || len(det.Positions) != 0 || len(s.Trades()) != 0 {
		t.Errorf("rejections mutated state: %+v", det)
	}
}

func TestDayTradeLimit(t *testing.T) {
	t.Parallel()

	cfg := classicConfig(100_000)
	cfg.Mode = types.ModeDayTrader
	s := newTestSession(t, cfg)
	tr := Trader{}

	for i := 0; i < 3; i++ {
		if _, err := tr.Buy(s, "XTST", 1); err != nil {
			t.Fatalf("buy %d: %v", i+1, err)
		}
	}
	if _, err := tr.Buy(s, "XTST", 1); !errors.Is(err, ErrDayTradeLimit) {
		t.Fatalf("fourth same-day buy: err = %v, want %v", err, ErrDayTradeLimit)
	}

	s.Tick(1) // next simulated day resets the counter

	if _, err := tr.Buy(s, "XTST", 1); err != nil {
		t.Fatalf("buy after rollover: %v", err)
	}
}

func TestDayTradeLimitCountsSells(t *testing.T) {
	t.Parallel()

	cfg := classicConfig(100_000)
	cfg.Mode = types.ModeDayTrader
	s := newTestSession(t, cfg)
	tr := Trader{}

	if _, err := tr.Buy(s, "XTST", 2); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := tr.Sell(s, "XTST", 1); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if _, err := tr.Sell(s, "XTST", 1); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if _, err := tr.Buy(s, "XTST", 1); !errors.Is(err, ErrDayTradeLimit) {
		t.Errorf("err = %v, want %v (sells count toward the cap)", err, ErrDayTradeLimit)
	}
}

func TestShortPnL(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(25_000))
	tr := Trader{}

	if _, err := tr.OpenShort(s, "XTST", 10); err != nil {
		t.Fatalf("OpenShort: %v", err)
	}
	det := s.PortfolioDetails()
	if det.Cash != 26_000 {
		t.Errorf("cash after open = %v, want 26000", det.Cash)
	}

	s.setPriceForTest("XTST", 90)

	if _, err := tr.CloseShort(s, "XTST", 10); err != nil {
		t.Fatalf("CloseShort: %v", err)
	}
	det = s.PortfolioDetails()
	if det.Cash != 25_100 {
		t.Errorf("cash after close = %v, want 25100", det.Cash)
	}
	if det.RealizedPnL != 100 {
		t.Errorf("realized = %v, want +100", det.RealizedPnL)
	}
	if len(det.Shorts) != 0 {
		t.Errorf("shorts not empty: %v", det.Shorts)
	}
}

func TestShortLongConflictsBothDirections(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(25_000))
	tr := Trader{}

	if _, err := tr.Buy(s, "XTST", 1); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := tr.OpenShort(s, "XTST", 1); !errors.Is(err, ErrConflictingLong) {
		t.Errorf("short over long: err = %v, want %v", err, ErrConflictingLong)
	}

	if _, err := tr.OpenShort(s, "DTST", 1); err != nil {
		t.Fatalf("OpenShort: %v", err)
	}
	if _, err := tr.Buy(s, "DTST", 1); !errors.Is(err, ErrConflictingShort) {
		t.Errorf("buy over short: err = %v, want %v", err, ErrConflictingShort)
	}
}

func TestCloseShortQuantityExceeds(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(25_000))
	tr := Trader{}

	if _, err := tr.OpenShort(s, "XTST", 5); err != nil {
		t.Fatalf("OpenShort: %v", err)
	}
	if _, err := tr.CloseShort(s, "XTST", 6); !errors.Is(err, ErrQuantityExceedsShort) {
		t.Errorf("err = %v, want %v", err, ErrQuantityExceedsShort)
	}
}

func TestMarginBuyAndCallFlag(t *testing.T) {
	t.Parallel()

	cfg := classicConfig(1_000)
	cfg.MarginMultiplier = 2
	s := newTestSession(t, cfg)
	tr := Trader{}

	// 15 shares @ 100 = 1500 <= 1000 * 2; admitted on margin.
	if _, err := tr.Buy(s, "XTST", 15); err != nil {
		t.Fatalf("margin buy: %v", err)
	}
	det := s.PortfolioDetails()
	if det.Cash != -500 {
		t.Errorf("cash = %v, want -500", det.Cash)
	}

	// Equity 1000 on 500 used margin: level 200, no call.
	s.mu.Lock()
	s.portfolio.UpdateMarginCall(s.price)
	call := s.portfolio.MarginCall
	s.mu.Unlock()
	if call {
		t.Error("margin call flag set at level 200")
	}

	// Price collapse: equity 100 on 500 used margin, level 20 < 130.
	s.setPriceForTest("XTST", 40)
	s.mu.Lock()
	s.portfolio.UpdateMarginCall(s.price)
	call = s.portfolio.MarginCall
	s.mu.Unlock()
	if !call {
		t.Error("margin call flag not set below level 130")
	}

	// Beyond margin power is still rejected.
	if _, err := tr.Buy(s, "XTST", 1_000); !errors.Is(err, ErrInsufficientCash) {
		t.Errorf("err = %v, want %v", err, ErrInsufficientCash)
	}
}

func TestTradesOrderedBySimTime(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(100_000))
	tr := Trader{}

	for i := 0; i < 5; i++ {
		if _, err := tr.Buy(s, "XTST", 1); err != nil {
			t.Fatalf("Buy: %v", err)
		}
		s.Tick(1)
	}

	trades := s.Trades()
	for i := 1; i < len(trades); i++ {
		if trades[i].SimTime.Before(trades[i-1].SimTime) {
			t.Fatalf("trade %d sim time regressed", i)
		}
	}
}
