package db

import (
	"time"

	"gorm.io/datatypes"
)

// Round types.
const (
	RoundTypePrompt = "prompt"
	RoundTypeCopy   = "copy"
	RoundTypeVote   = "vote"
)

// Round statuses. A round is immutable once it leaves active, except for
// the two copy-assignment slots on a prompt round.
const (
	RoundStatusActive    = "active"
	RoundStatusSubmitted = "submitted"
	RoundStatusExpired   = "expired"
	RoundStatusAbandoned = "abandoned"
)

// Phraseset statuses. closed is the force-closed terminal state for
// phrasesets missing a contributor at finalization time.
const (
	PhrasesetStatusOpen      = "open"
	PhrasesetStatusClosing   = "closing"
	PhrasesetStatusClosed    = "closed"
	PhrasesetStatusFinalized = "finalized"
)

// Ledger wallets.
const (
	WalletLiquid = "liquid"
	WalletLocked = "locked"
)

// Ledger transaction types.
const (
	TxTypeGrant       = "grant"
	TxTypeRoundCost   = "round_cost"
	TxTypeRefund      = "refund"
	TxTypeVotePayout  = "vote_payout"
	TxTypePrizePayout = "prize_payout"
)

type Player struct {
	ID             uint      `gorm:"primaryKey"`
	Name           string    `gorm:"size:64;uniqueIndex;not null"`
	APIToken       string    `gorm:"size:64;uniqueIndex;not null"`
	Balance        int64     `gorm:"not null;default:0"`
	LockedBalance  int64     `gorm:"not null;default:0"`
	CurrentRoundID *uint     `gorm:"index"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type Round struct {
	ID          uint       `gorm:"primaryKey"`
	PlayerID    uint       `gorm:"not null;index:idx_rounds_player_status,priority:1"`
	Type        string     `gorm:"size:16;not null"`
	Status      string     `gorm:"size:16;not null;index:idx_rounds_player_status,priority:2;index:idx_rounds_status_created,priority:1"`
	Cost        int64      `gorm:"not null"`
	ExpiresAt   time.Time  `gorm:"not null"`
	SubmittedAt *time.Time
	ClosedAt    *time.Time

	// Prompt rounds carry the prompt text, the original phrase once
	// submitted, and two copy-assignment slots each filled exactly once.
	PromptText    string `gorm:"size:280"`
	Phrase        string `gorm:"size:280"`
	Copy1PlayerID *uint
	Copy1RoundID  *uint
	Copy2PlayerID *uint
	Copy2RoundID  *uint

	// Copy rounds point at the prompt round they imitate.
	TargetRoundID *uint `gorm:"index"`

	// Vote rounds point at the phraseset they judge.
	PhrasesetID *uint `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;index:idx_rounds_status_created,priority:2"`
	UpdatedAt time.Time `gorm:"not null"`
}

type Phraseset struct {
	ID            uint   `gorm:"primaryKey"`
	PromptRoundID uint   `gorm:"uniqueIndex;not null"`
	Copy1RoundID  uint   `gorm:"not null"`
	Copy2RoundID  uint   `gorm:"not null"`
	// Contributor players, denormalized so self-vote checks and payouts
	// never join back through rounds.
	PromptPlayerID uint   `gorm:"not null;index"`
	Copy1PlayerID  uint   `gorm:"not null"`
	Copy2PlayerID  uint   `gorm:"not null"`
	PromptText     string `gorm:"size:280;not null"`
	// Candidate phrases, denormalized at creation so voting never joins
	// back through rounds.
	OriginalPhrase string `gorm:"size:280;not null"`
	Copy1Phrase    string `gorm:"size:280;not null"`
	Copy2Phrase    string `gorm:"size:280;not null"`

	Status      string     `gorm:"size:16;not null;index:idx_phrasesets_status_third,priority:1;index:idx_phrasesets_status_fifth,priority:1"`
	VoteCount   int        `gorm:"not null;default:0"`
	ThirdVoteAt *time.Time `gorm:"index:idx_phrasesets_status_third,priority:2"`
	FifthVoteAt *time.Time `gorm:"index:idx_phrasesets_status_fifth,priority:2"`
	FinalizedAt *time.Time

	// Pool invariant: TotalPool = base stake + SystemContribution +
	// VoteContributions - VotePayoutsPaid >= 0.
	TotalPool          int64 `gorm:"not null;default:0"`
	VoteContributions  int64 `gorm:"not null;default:0"`
	VotePayoutsPaid    int64 `gorm:"not null;default:0"`
	SystemContribution int64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type Vote struct {
	ID          uint      `gorm:"primaryKey"`
	PhrasesetID uint      `gorm:"not null;index;uniqueIndex:idx_votes_set_player"`
	PlayerID    uint      `gorm:"not null;uniqueIndex:idx_votes_set_player"`
	RoundID     uint      `gorm:"not null;index"`
	Phrase      string    `gorm:"size:280;not null"`
	Correct     bool      `gorm:"not null"`
	Payout      int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
}

type ResultView struct {
	ID             uint      `gorm:"primaryKey"`
	PhrasesetID    uint      `gorm:"not null;uniqueIndex:idx_result_views_set_player"`
	PlayerID       uint      `gorm:"not null;uniqueIndex:idx_result_views_set_player"`
	Payout         int64     `gorm:"not null"`
	FirstViewedAt  time.Time `gorm:"not null"`
	AcknowledgedAt *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type Transaction struct {
	ID       uint   `gorm:"primaryKey"`
	PlayerID uint   `gorm:"not null;index:idx_transactions_player_created,priority:1"`
	Amount   int64  `gorm:"not null"`
	Type     string `gorm:"size:32;not null"`
	Wallet   string `gorm:"size:16;not null"`
	// Reference ties the entry back to the round or phraseset that caused
	// it; a generated id when the caller has none.
	Reference          string    `gorm:"size:64;not null;index"`
	BalanceAfter       int64     `gorm:"not null"`
	LockedBalanceAfter int64     `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null;index:idx_transactions_player_created,priority:2"`
}

type Event struct {
	ID          uint           `gorm:"primaryKey"`
	PlayerID    *uint          `gorm:"index"`
	RoundID     *uint          `gorm:"index"`
	PhrasesetID *uint          `gorm:"index"`
	Type        string         `gorm:"size:64;not null"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}

type PromptLibrary struct {
	ID        uint      `gorm:"primaryKey"`
	Category  string    `gorm:"size:32;not null;default:'';uniqueIndex:idx_prompt_library_category_text"`
	Text      string    `gorm:"size:280;not null;uniqueIndex:idx_prompt_library_category_text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
