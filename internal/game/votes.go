package game

import (
	"context"
	"errors"

	"copycatch/internal/db"
	"copycatch/internal/ledger"

	"github.com/jackc/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pickPhrasesetForVoting assigns a voter the phraseset that most needs
// votes: near-finalization pools drain first, and nothing starves.
//
//	1. any with >=5 votes, oldest fifth-vote first
//	2. any with 3-4 votes, oldest third-vote first
//	3. a uniformly random phraseset with <3 votes
//
// Sets the player contributed to or already voted on are excluded.
func (s *Service) pickPhrasesetForVoting(tx *gorm.DB, playerID uint) (*db.Phraseset, error) {
	eligible := func() *gorm.DB {
		return tx.Model(&db.Phraseset{}).
			Where("status IN ?", []string{db.PhrasesetStatusOpen, db.PhrasesetStatusClosing}).
			Where("vote_count < ?", s.cfg.VoteHardCap).
			Where("prompt_player_id <> ? AND copy1_player_id <> ? AND copy2_player_id <> ?",
				playerID, playerID, playerID).
			Where(`NOT EXISTS (
				SELECT 1 FROM votes v WHERE v.phraseset_id = phrasesets.id AND v.player_id = ?
			)`, playerID).
			Where(`NOT EXISTS (
				SELECT 1 FROM rounds r
				WHERE r.phraseset_id = phrasesets.id AND r.player_id = ? AND r.type = ? AND r.status = ?
			)`, playerID, db.RoundTypeVote, db.RoundStatusActive)
	}

	var set db.Phraseset
	err := eligible().
		Where("vote_count >= 5").
		Order("fifth_vote_at ASC").
		First(&set).Error
	if err == nil {
		return &set, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = eligible().
		Where("vote_count BETWEEN 3 AND 4").
		Order("third_vote_at ASC").
		First(&set).Error
	if err == nil {
		return &set, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = eligible().
		Where("vote_count < 3").
		Order("RANDOM()").
		First(&set).Error
	if err == nil {
		return &set, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoItemsAvailable
	}
	return nil, err
}

// SubmitVote records a voter's guess: validates the window and the
// phrase, rejects duplicates and self-votes, pays the fixed reward on a
// correct guess, rolls the vote cost into the pool, advances the 3rd/5th
// vote watermarks, and re-checks finalization — all in one transaction.
func (s *Service) SubmitVote(ctx context.Context, roundID, phrasesetID uint, phrase string, playerID uint) (*db.Vote, error) {
	var vote db.Vote
	var finalizedPlayers []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ledger.AcquirePlayerLock(tx, playerID); err != nil {
			return err
		}
		var round db.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&round, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundNotFound
			}
			return err
		}
		if round.PlayerID != playerID {
			return ErrNotOwner
		}
		if round.Type != db.RoundTypeVote || round.PhrasesetID == nil || *round.PhrasesetID != phrasesetID {
			return ErrInvalidPayload
		}
		switch round.Status {
		case db.RoundStatusActive:
		case db.RoundStatusSubmitted:
			return ErrAlreadyVoted
		default:
			return ErrRoundExpired
		}
		if s.now().After(round.ExpiresAt.Add(s.grace())) {
			if _, err := s.expireLocked(tx, &round); err != nil {
				return err
			}
			return ErrRoundExpired
		}

		var set db.Phraseset
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&set, phrasesetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPhrasesetNotFound
			}
			return err
		}
		if set.Status != db.PhrasesetStatusOpen && set.Status != db.PhrasesetStatusClosing {
			return ErrRoundExpired
		}
		if set.VoteCount >= s.cfg.VoteHardCap {
			return ErrRoundExpired
		}
		if playerID == set.PromptPlayerID || playerID == set.Copy1PlayerID || playerID == set.Copy2PlayerID {
			return ErrSelfVote
		}
		if phrase != set.OriginalPhrase && phrase != set.Copy1Phrase && phrase != set.Copy2Phrase {
			return ErrInvalidPhrase
		}

		correct := phrase == set.OriginalPhrase
		var payout int64
		if correct {
			payout = s.cfg.VotePayout
		}

		vote = db.Vote{
			PhrasesetID: set.ID,
			PlayerID:    playerID,
			RoundID:     round.ID,
			Phrase:      phrase,
			Correct:     correct,
			Payout:      payout,
		}
		if err := tx.Create(&vote).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyVoted
			}
			return err
		}
		if payout > 0 {
			if _, err := s.ledger.RecordLocked(tx, playerID, payout, db.TxTypeVotePayout, phrasesetRef(set.ID), db.WalletLiquid); err != nil {
				return err
			}
		}

		now := s.now()
		set.VoteCount++
		set.VoteContributions += round.Cost
		set.VotePayoutsPaid += payout
		set.TotalPool += round.Cost - payout
		if set.TotalPool < 0 {
			// Vote economics must never drain the pool below zero.
			return ErrInsufficientBalance
		}
		if set.VoteCount >= 3 && set.ThirdVoteAt == nil {
			set.ThirdVoteAt = &now
		}
		if set.VoteCount >= 5 && set.FifthVoteAt == nil {
			set.FifthVoteAt = &now
			set.Status = db.PhrasesetStatusClosing
		}
		if err := tx.Model(&db.Phraseset{}).Where("id = ?", set.ID).Updates(map[string]any{
			"vote_count":         set.VoteCount,
			"vote_contributions": set.VoteContributions,
			"vote_payouts_paid":  set.VotePayoutsPaid,
			"total_pool":         set.TotalPool,
			"third_vote_at":      set.ThirdVoteAt,
			"fifth_vote_at":      set.FifthVoteAt,
			"status":             set.Status,
			"updated_at":         now,
		}).Error; err != nil {
			return err
		}

		round.Status = db.RoundStatusSubmitted
		round.SubmittedAt = &now
		if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(map[string]any{
			"status":       round.Status,
			"submitted_at": round.SubmittedAt,
			"phrase":       phrase,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}
		if err := clearCurrentRound(tx, playerID, round.ID); err != nil {
			return err
		}
		if err := persistEvent(tx, "vote_cast", ptr(playerID), ptr(round.ID), ptr(set.ID), EventPayload{
			Phrase:    phrase,
			Correct:   correct,
			Payout:    payout,
			VoteCount: set.VoteCount,
			TotalPool: set.TotalPool,
		}); err != nil {
			return err
		}

		if shouldFinalize(&set, s.now(), s.cfg) {
			players, err := s.finalizeLocked(tx, &set)
			if err != nil {
				return err
			}
			finalizedPlayers = players
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyPlayer(playerID)
	if finalizedPlayers != nil && s.notifier != nil {
		s.notifier.PhrasesetFinalized(phrasesetID, finalizedPlayers)
	}
	return &vote, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
