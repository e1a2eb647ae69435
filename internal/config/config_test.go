package config

import "testing"

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	if cfg.PromptCost != Default().PromptCost {
		t.Errorf("PromptCost = %d, want default %d", cfg.PromptCost, Default().PromptCost)
	}
	if cfg.VoteHardCap != Default().VoteHardCap {
		t.Errorf("VoteHardCap = %d, want default %d", cfg.VoteHardCap, Default().VoteHardCap)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PROMPT_COST", "250")
	t.Setenv("VOTE_HARD_CAP", "12")
	t.Setenv("QUEUE_DISCOUNT_THRESHOLD", "0.75")
	cfg := Load()
	if cfg.PromptCost != 250 {
		t.Errorf("PromptCost = %d, want 250", cfg.PromptCost)
	}
	if cfg.VoteHardCap != 12 {
		t.Errorf("VoteHardCap = %d, want 12", cfg.VoteHardCap)
	}
	if cfg.QueueDiscountThreshold != 0.75 {
		t.Errorf("QueueDiscountThreshold = %v, want 0.75", cfg.QueueDiscountThreshold)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("PROMPT_COST", "-5")
	t.Setenv("GRACE_SECONDS", "zero")
	cfg := Load()
	if cfg.PromptCost != Default().PromptCost {
		t.Errorf("negative amount accepted: %d", cfg.PromptCost)
	}
	if cfg.GraceSeconds != Default().GraceSeconds {
		t.Errorf("garbage seconds accepted: %d", cfg.GraceSeconds)
	}
}
