package game

import (
	"errors"

	"copycatch/internal/ledger"
)

// User errors: typed, recoverable, surfaced directly. Contention errors
// (ledger.ErrLockTimeout) are retryable. Anything else is internal.
var (
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrLockTimeout         = ledger.ErrLockTimeout

	ErrAlreadyInRound   = errors.New("player already has an active round")
	ErrNoItemsAvailable = errors.New("nothing available for this round type")
	ErrRoundNotFound    = errors.New("round not found")
	ErrNotOwner         = errors.New("round belongs to another player")
	ErrRoundExpired     = errors.New("round has expired")
	ErrAlreadySubmitted = errors.New("round already submitted")
	ErrNotAbandonable   = errors.New("round cannot be abandoned")
	ErrInvalidPayload   = errors.New("invalid submission payload")

	ErrInvalidPhrase = errors.New("phrase is not one of the candidates")
	ErrAlreadyVoted  = errors.New("player already voted on this phraseset")
	ErrSelfVote      = errors.New("contributors cannot vote on their own phraseset")

	ErrPhrasesetNotFound = errors.New("phraseset not found")
	ErrNotFinalized      = errors.New("phraseset is not finalized")
	ErrNotParticipant    = errors.New("player did not contribute to this phraseset")
)
