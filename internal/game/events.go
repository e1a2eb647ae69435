package game

import (
	"encoding/json"

	"copycatch/internal/db"

	"gorm.io/gorm"
)

type EventPayload struct {
	RoundType   string `json:"round_type,omitempty"`
	Cost        int64  `json:"cost,omitempty"`
	Refund      int64  `json:"refund,omitempty"`
	Penalty     int64  `json:"penalty,omitempty"`
	Phrase      string `json:"phrase,omitempty"`
	Correct     bool   `json:"correct,omitempty"`
	VoteCount   int    `json:"vote_count,omitempty"`
	TotalPool   int64  `json:"total_pool,omitempty"`
	Payout      int64  `json:"payout,omitempty"`
	Reason      string `json:"reason,omitempty"`
	TargetRound uint   `json:"target_round,omitempty"`
}

func persistEvent(tx *gorm.DB, eventType string, playerID, roundID, phrasesetID *uint, payload EventPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&db.Event{
		PlayerID:    playerID,
		RoundID:     roundID,
		PhrasesetID: phrasesetID,
		Type:        eventType,
		Payload:     raw,
	}).Error
}

func ptr(id uint) *uint {
	return &id
}
