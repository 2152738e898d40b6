package sim

import (
	"errors"
	"testing"

	"marketsim/pkg/types"
)

func TestCustomWeekBudget(t *testing.T) {
	t.Parallel()

	cfg := types.GameConfig{Mode: types.ModeCustom, Weeks: 1}
	s := newTestSession(t, cfg)

	for day := 1; day <= 7; day++ {
		res := s.Tick(1)
		if res.Exhausted {
			t.Fatalf("day %d: exhausted before budget", day)
		}
		if res.Day != day {
			t.Fatalf("day = %d, want %d", res.Day, day)
		}
	}

	before := s.PortfolioDetails()
	res := s.Tick(1)
	if !res.Exhausted {
		t.Fatal("eighth tick must report exhausted")
	}
	if res.Day != 7 {
		t.Errorf("day after exhausted tick = %d, want 7", res.Day)
	}
	after := s.PortfolioDetails()
	if before.Cash != after.Cash || before.TotalValue != after.TotalValue {
		t.Error("exhausted tick mutated the portfolio")
	}
}

func TestCustomTickClampedAtBoundary(t *testing.T) {
	t.Parallel()

	cfg := types.GameConfig{Mode: types.ModeCustom, Weeks: 1}
	s := newTestSession(t, cfg)

	res := s.Tick(100)
	if res.Exhausted {
		t.Fatal("first multi-day tick should advance up to the budget")
	}
	if res.Day != 7 {
		t.Errorf("day = %d, want clamp at 7", res.Day)
	}
}

func TestOrdersRejectedAfterWeekBudget(t *testing.T) {
	t.Parallel()

	cfg := types.GameConfig{Mode: types.ModeCustom, Weeks: 1}
	s := newTestSession(t, cfg)
	tr := Trader{}

	if _, err := tr.Buy(s, "DTST", 2); err != nil {
		t.Fatalf("buy within budget: %v", err)
	}
	s.Tick(7)

	if _, err := tr.Buy(s, "DTST", 1); !errors.Is(err, ErrWeekBudgetExhausted) {
		t.Errorf("buy after budget: err = %v, want %v", err, ErrWeekBudgetExhausted)
	}
	if _, err := tr.Sell(s, "DTST", 1); !errors.Is(err, ErrWeekBudgetExhausted) {
		t.Errorf("sell after budget: err = %v, want %v", err, ErrWeekBudgetExhausted)
	}
	if _, err := tr.OpenShort(s, "XTST", 1); !errors.Is(err, ErrWeekBudgetExhausted) {
		t.Errorf("short after budget: err = %v, want %v", err, ErrWeekBudgetExhausted)
	}
	if _, err := tr.CloseShort(s, "XTST", 1); !errors.Is(err, ErrWeekBudgetExhausted) {
		t.Errorf("cover after budget: err = %v, want %v", err, ErrWeekBudgetExhausted)
	}
	if got := len(s.Trades()); got != 1 {
		t.Errorf("trade log has %d entries after rejections, want 1", got)
	}
}

func TestCustomConfigForced(t *testing.T) {
	t.Parallel()

	cfg := types.GameConfig{
		Mode:            types.ModeCustom,
		Weeks:           2,
		StartingCapital: 900_000,
		Risk:            types.RiskAggressive,
		Difficulty:      types.DifficultyHard,
	}
	s := newTestSession(t, cfg)

	got := s.Config()
	if got.StartingCapital != 10_000 || got.Risk != types.RiskModerate || got.Difficulty != types.DifficultyMedium {
		t.Errorf("custom mode config not forced: %+v", got)
	}
}

func TestChallengeStreak(t *testing.T) {
	t.Parallel()

	cfg := types.GameConfig{Mode: types.ModeChallenge, StartingCapital: 25_000}
	s := newTestSession(t, cfg)

	// Daily target is 5% of starting capital.
	if target := s.ModeInfo().Challenge.DailyTarget; target != 1_250 {
		t.Fatalf("daily target = %v, want 1250", target)
	}

	// Lift the portfolio past the target, then tick across a day boundary.
	s.mu.Lock()
	s.portfolio.Cash += 2_000
	s.mu.Unlock()
	s.Tick(1)

	ch := s.ModeInfo().Challenge
	if ch.DaysCompleted != 1 || ch.StreakDays != 1 {
		t.Errorf("after met target: completed=%d streak=%d, want 1/1", ch.DaysCompleted, ch.StreakDays)
	}

	// Drop back under the target: the streak resets, completions stay.
	s.mu.Lock()
	s.portfolio.Cash -= 2_500
	s.mu.Unlock()
	s.Tick(1)

	ch = s.ModeInfo().Challenge
	if ch.DaysCompleted != 1 || ch.StreakDays != 0 {
		t.Errorf("after missed target: completed=%d streak=%d, want 1/0", ch.DaysCompleted, ch.StreakDays)
	}
}

func TestPortfolioModeAllocation(t *testing.T) {
	t.Parallel()

	cfg := types.GameConfig{Mode: types.ModePortfolio, StartingCapital: 100_000}
	s := newTestSession(t, cfg)
	tr := Trader{}

	target := s.ModeInfo().Portfolio.TargetAllocation
	var sum float64
	for _, f := range target {
		sum += f
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("target allocation sums to %v, want 1.0", sum)
	}

	// 100 XTST @ 100 (growth) and 200 DTST @ 50 (dividend): 50/50 by value.
	if _, err := tr.Buy(s, "XTST", 100); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := tr.Buy(s, "DTST", 200); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	alloc := s.CurrentAllocation()
	if g := alloc[types.TypeGrowth]; g < 0.499 || g > 0.501 {
		t.Errorf("growth allocation = %v, want 0.5", g)
	}
	if d := alloc[types.TypeDividend]; d < 0.499 || d > 0.501 {
		t.Errorf("dividend allocation = %v, want 0.5", d)
	}
}

func TestTotalValueInvariant(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, classicConfig(50_000))
	tr := Trader{}

	if _, err := tr.Buy(s, "XTST", 20); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := tr.OpenShort(s, "DTST", 30); err != nil {
		t.Fatalf("OpenShort: %v", err)
	}
	s.Tick(5)

	det := s.PortfolioDetails()
	s.mu.Lock()
	want := s.portfolio.Cash + s.portfolio.LongValue(s.price) - s.portfolio.ShortLiability(s.price)
	s.mu.Unlock()
	if diff := det.TotalValue - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalValue = %v, want %v", det.TotalValue, want)
	}
}
