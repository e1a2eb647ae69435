package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	PromptCost               int64
	CopyCost                 int64
	CopyCostDiscounted       int64
	VoteCost                 int64
	VotePayout               int64
	SystemContribution       int64
	AbandonPenalty           int64
	StartingBalance          int64
	PromptTTLSeconds         int
	CopyTTLSeconds           int
	VoteTTLSeconds           int
	GraceSeconds             int
	ClosingWindowSeconds     int
	MinVoteWindowSeconds     int
	VoteHardCap              int
	PointsPerOriginalVote    int64
	PointsPerCopyVote        int64
	ProfitLiquidPercent      int64
	QueueDiscountThreshold   float64
	RecentCopyWindowSeconds  int
	ReclaimCooldownSeconds   int
	SweepIntervalSeconds     int
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
}

func Default() Config {
	return Config{
		PromptCost:               100,
		CopyCost:                 50,
		CopyCostDiscounted:       35,
		VoteCost:                 5,
		VotePayout:               10,
		SystemContribution:       0,
		AbandonPenalty:           10,
		StartingBalance:          1000,
		PromptTTLSeconds:         600,
		CopyTTLSeconds:           600,
		VoteTTLSeconds:           180,
		GraceSeconds:             30,
		ClosingWindowSeconds:     600,
		MinVoteWindowSeconds:     3600,
		VoteHardCap:              20,
		PointsPerOriginalVote:    1,
		PointsPerCopyVote:        2,
		ProfitLiquidPercent:      80,
		QueueDiscountThreshold:   0.5,
		RecentCopyWindowSeconds:  900,
		ReclaimCooldownSeconds:   120,
		SweepIntervalSeconds:     60,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
	}
}

func Load() Config {
	cfg := Default()
	loadAmount(&cfg.PromptCost, "PROMPT_COST")
	loadAmount(&cfg.CopyCost, "COPY_COST")
	loadAmount(&cfg.CopyCostDiscounted, "COPY_COST_DISCOUNTED")
	loadAmount(&cfg.VoteCost, "VOTE_COST")
	loadAmount(&cfg.VotePayout, "VOTE_PAYOUT")
	loadAmount(&cfg.SystemContribution, "SYSTEM_CONTRIBUTION")
	loadAmount(&cfg.AbandonPenalty, "ABANDON_PENALTY")
	loadAmount(&cfg.StartingBalance, "STARTING_BALANCE")
	loadSeconds(&cfg.PromptTTLSeconds, "PROMPT_TTL_SECONDS")
	loadSeconds(&cfg.CopyTTLSeconds, "COPY_TTL_SECONDS")
	loadSeconds(&cfg.VoteTTLSeconds, "VOTE_TTL_SECONDS")
	loadSeconds(&cfg.GraceSeconds, "GRACE_SECONDS")
	loadSeconds(&cfg.ClosingWindowSeconds, "CLOSING_WINDOW_SECONDS")
	loadSeconds(&cfg.MinVoteWindowSeconds, "MIN_VOTE_WINDOW_SECONDS")
	loadSeconds(&cfg.RecentCopyWindowSeconds, "RECENT_COPY_WINDOW_SECONDS")
	loadSeconds(&cfg.ReclaimCooldownSeconds, "RECLAIM_COOLDOWN_SECONDS")
	loadSeconds(&cfg.SweepIntervalSeconds, "SWEEP_INTERVAL_SECONDS")
	if raw := os.Getenv("VOTE_HARD_CAP"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.VoteHardCap = value
		}
	}
	loadAmount(&cfg.PointsPerOriginalVote, "POINTS_PER_ORIGINAL_VOTE")
	loadAmount(&cfg.PointsPerCopyVote, "POINTS_PER_COPY_VOTE")
	if raw := os.Getenv("PROFIT_LIQUID_PERCENT"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil && value >= 0 && value <= 100 {
			cfg.ProfitLiquidPercent = value
		}
	}
	if raw := os.Getenv("QUEUE_DISCOUNT_THRESHOLD"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			cfg.QueueDiscountThreshold = value
		}
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	return cfg
}

func loadAmount(dest *int64, key string) {
	if raw := os.Getenv(key); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil && value >= 0 {
			*dest = value
		}
	}
}

func loadSeconds(dest *int, key string) {
	if raw := os.Getenv(key); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			*dest = value
		}
	}
}
