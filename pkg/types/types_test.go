package types

import "testing"

func TestGameConfigNormalizeClampsCapital(t *testing.T) {
	t.Parallel()

	cfg := GameConfig{StartingCapital: 5_000_000, Mode: ModeClassic}.Normalize()
	if cfg.StartingCapital != MaxStartingCapital {
		t.Errorf("StartingCapital = %v, want %v", cfg.StartingCapital, MaxStartingCapital)
	}
}

func TestGameConfigNormalizeCustomForcesDefaults(t *testing.T) {
	t.Parallel()

	cfg := GameConfig{
		StartingCapital: 500_000,
		Risk:            RiskAggressive,
		Difficulty:      DifficultyHard,
		Mode:            ModeCustom,
		Weeks:           4,
	}.Normalize()

	if cfg.StartingCapital != 10_000 {
		t.Errorf("StartingCapital = %v, want 10000", cfg.StartingCapital)
	}
	if cfg.Risk != RiskModerate || cfg.Difficulty != DifficultyMedium {
		t.Errorf("custom mode must force moderate/medium, got %v/%v", cfg.Risk, cfg.Difficulty)
	}
	if cfg.Weeks != 4 {
		t.Errorf("Weeks = %d, want 4", cfg.Weeks)
	}
}

func TestGameConfigValidate(t *testing.T) {
	t.Parallel()

	good := GameConfig{Mode: ModeClassic, Risk: RiskModerate, Difficulty: DifficultyMedium}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := good
	bad.Mode = "turbo"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown mode")
	}

	bad = good
	bad.Mode = ModeCustom
	bad.Weeks = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for custom mode without weeks")
	}
}

func TestMultipliers(t *testing.T) {
	t.Parallel()

	if RiskConservative.Multiplier() != 0.5 || RiskAggressive.Multiplier() != 1.8 {
		t.Error("risk multipliers wrong")
	}
	if DifficultyEasy.Multiplier() != 0.6 || DifficultyHard.Multiplier() != 1.3 {
		t.Error("difficulty multipliers wrong")
	}
	if RiskLevel("???").Multiplier() != 1.0 {
		t.Error("unknown risk should fall back to 1.0")
	}
}

func TestRoleCanChat(t *testing.T) {
	t.Parallel()

	if RoleUser.CanChat() {
		t.Error("user role must not chat")
	}
	if !RoleTester.CanChat() || !RoleAdmin.CanChat() {
		t.Error("tester and admin must chat")
	}
}
