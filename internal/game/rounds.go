package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"copycatch/internal/db"
	"copycatch/internal/ledger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPromptFull is returned when a copy submits into a prompt whose both
// slots were taken concurrently. The copy round is closed and its cost
// fully refunded; the queue normally prevents this.
var ErrPromptFull = errors.New("prompt already has both copies")

func roundRef(id uint) string {
	return fmt.Sprintf("round:%d", id)
}

func phrasesetRef(id uint) string {
	return fmt.Sprintf("phraseset:%d", id)
}

// StartRound charges the round cost, creates an active round with a fixed
// TTL, and records it as the player's single outstanding round.
func (s *Service) StartRound(ctx context.Context, playerID uint, roundType string) (*db.Round, error) {
	if roundType != db.RoundTypePrompt && roundType != db.RoundTypeCopy && roundType != db.RoundTypeVote {
		return nil, ErrInvalidPayload
	}

	var round db.Round
	var post []func()
	var reservedPrompt uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ledger.AcquirePlayerLock(tx, playerID); err != nil {
			return err
		}
		var player db.Player
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&player, playerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledger.ErrPlayerNotFound
			}
			return err
		}
		if player.CurrentRoundID != nil {
			var current db.Round
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, *player.CurrentRoundID).Error
			switch {
			case err == nil && current.Status == db.RoundStatusActive:
				if s.now().Before(current.ExpiresAt.Add(s.grace())) {
					return ErrAlreadyInRound
				}
				released, err := s.expireLocked(tx, &current)
				if err != nil {
					return err
				}
				post = append(post, released...)
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
		}

		now := s.now()
		round = db.Round{
			PlayerID: playerID,
			Type:     roundType,
			Status:   db.RoundStatusActive,
		}
		switch roundType {
		case db.RoundTypePrompt:
			text, err := s.pickLibraryPrompt(tx)
			if err != nil {
				return err
			}
			round.Cost = s.cfg.PromptCost
			round.ExpiresAt = now.Add(time.Duration(s.cfg.PromptTTLSeconds) * time.Second)
			round.PromptText = text
		case db.RoundTypeCopy:
			target, err := s.acquireCopyTarget(tx, playerID)
			if err != nil {
				return err
			}
			reservedPrompt = target.ID
			round.Cost = s.cfg.CopyCost
			if s.queue.DiscountActive() {
				round.Cost = s.cfg.CopyCostDiscounted
			}
			round.ExpiresAt = now.Add(time.Duration(s.cfg.CopyTTLSeconds) * time.Second)
			round.TargetRoundID = &target.ID
			round.PromptText = target.PromptText
		case db.RoundTypeVote:
			set, err := s.pickPhrasesetForVoting(tx, playerID)
			if err != nil {
				return err
			}
			round.Cost = s.cfg.VoteCost
			round.ExpiresAt = now.Add(time.Duration(s.cfg.VoteTTLSeconds) * time.Second)
			round.PhrasesetID = &set.ID
		}

		if err := tx.Create(&round).Error; err != nil {
			return err
		}
		if round.Cost > 0 {
			if _, err := s.ledger.RecordLocked(tx, playerID, -round.Cost, db.TxTypeRoundCost, roundRef(round.ID), db.WalletLiquid); err != nil {
				return err
			}
		}
		if err := tx.Model(&db.Player{}).Where("id = ?", playerID).Update("current_round_id", round.ID).Error; err != nil {
			return err
		}
		return persistEvent(tx, "round_started", ptr(playerID), ptr(round.ID), nil, EventPayload{
			RoundType: roundType,
			Cost:      round.Cost,
		})
	})
	if err != nil {
		if reservedPrompt != 0 {
			s.queue.Release(reservedPrompt, playerID, false)
		}
		return nil, err
	}
	for _, fn := range post {
		fn()
	}
	s.notifyPlayer(playerID)
	return &round, nil
}

// SubmitRound closes a prompt or copy round with its phrase. Copy
// submissions fill a slot on the target prompt and, when the second slot
// fills, create the phraseset in the same transaction.
func (s *Service) SubmitRound(ctx context.Context, roundID, playerID uint, phrase string) (*db.Round, error) {
	var round db.Round
	var post []func()
	var overflow bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ledger.AcquirePlayerLock(tx, playerID); err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&round, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundNotFound
			}
			return err
		}
		if round.PlayerID != playerID {
			return ErrNotOwner
		}
		if round.Type == db.RoundTypeVote {
			return ErrInvalidPayload
		}
		switch round.Status {
		case db.RoundStatusActive:
		case db.RoundStatusSubmitted:
			return ErrAlreadySubmitted
		default:
			return ErrRoundExpired
		}
		if s.now().After(round.ExpiresAt.Add(s.grace())) {
			released, err := s.expireLocked(tx, &round)
			if err != nil {
				return err
			}
			post = append(post, released...)
			return ErrRoundExpired
		}

		clean, err := s.validator.ValidatePhrase(phrase)
		if err != nil {
			return ErrInvalidPayload
		}

		if round.Type == db.RoundTypeCopy {
			copyPost, lostRace, err := s.fillCopySlot(tx, &round, clean)
			if err != nil {
				return err
			}
			post = append(post, copyPost...)
			if lostRace {
				// Round already closed and refunded; commit that.
				overflow = true
				return nil
			}
		}

		now := s.now()
		round.Status = db.RoundStatusSubmitted
		round.SubmittedAt = &now
		round.Phrase = clean
		if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(map[string]any{
			"status":       round.Status,
			"submitted_at": round.SubmittedAt,
			"phrase":       round.Phrase,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}
		if err := clearCurrentRound(tx, playerID, round.ID); err != nil {
			return err
		}
		if round.Type == db.RoundTypePrompt {
			id, owner := round.ID, round.PlayerID
			post = append(post, func() { s.queue.Enqueue(id, owner, 0) })
		}
		return persistEvent(tx, "round_submitted", ptr(playerID), ptr(round.ID), nil, EventPayload{
			RoundType: round.Type,
			Phrase:    clean,
		})
	})
	if err != nil {
		return nil, err
	}
	for _, fn := range post {
		fn()
	}
	s.notifyPlayer(playerID)
	if overflow {
		return &round, ErrPromptFull
	}
	return &round, nil
}

// AbandonRound is explicit, owner-only: it refunds the round cost minus
// the fixed penalty and, for copy rounds, releases the prompt back to the
// queue with a short per-player reclaim cooldown.
func (s *Service) AbandonRound(ctx context.Context, roundID, playerID uint) (*db.Round, int64, int64, error) {
	var round db.Round
	var refund, penalty int64
	var post []func()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ledger.AcquirePlayerLock(tx, playerID); err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&round, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundNotFound
			}
			return err
		}
		if round.PlayerID != playerID {
			return ErrNotOwner
		}
		if round.Status != db.RoundStatusActive {
			return ErrNotAbandonable
		}
		if s.now().After(round.ExpiresAt.Add(s.grace())) {
			released, err := s.expireLocked(tx, &round)
			if err != nil {
				return err
			}
			post = append(post, released...)
			return ErrNotAbandonable
		}

		refund = round.Cost - s.cfg.AbandonPenalty
		if refund < 0 {
			refund = 0
		}
		penalty = round.Cost - refund
		if refund > 0 {
			if _, err := s.ledger.RecordLocked(tx, playerID, refund, db.TxTypeRefund, roundRef(round.ID), db.WalletLiquid); err != nil {
				return err
			}
		}

		now := s.now()
		round.Status = db.RoundStatusAbandoned
		round.ClosedAt = &now
		if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(map[string]any{
			"status":     round.Status,
			"closed_at":  round.ClosedAt,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}
		if err := clearCurrentRound(tx, playerID, round.ID); err != nil {
			return err
		}
		if round.Type == db.RoundTypeCopy && round.TargetRoundID != nil {
			target, owner := *round.TargetRoundID, round.PlayerID
			post = append(post, func() { s.queue.Release(target, owner, true) })
		}
		return persistEvent(tx, "round_abandoned", ptr(playerID), ptr(round.ID), nil, EventPayload{
			RoundType: round.Type,
			Refund:    refund,
			Penalty:   penalty,
		})
	})
	if err != nil {
		return nil, 0, 0, err
	}
	for _, fn := range post {
		fn()
	}
	s.notifyPlayer(playerID)
	return &round, refund, penalty, nil
}

// GetRound loads a round, applying the lazy timeout on first read past
// expiry plus grace. Correctness never depends on a running timer.
func (s *Service) GetRound(ctx context.Context, roundID uint) (*db.Round, error) {
	var round db.Round
	if err := s.db.WithContext(ctx).First(&round, roundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	if round.Status == db.RoundStatusActive && s.now().After(round.ExpiresAt.Add(s.grace())) {
		var post []func()
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&round, roundID).Error; err != nil {
				return err
			}
			if round.Status != db.RoundStatusActive {
				return nil
			}
			released, err := s.expireLocked(tx, &round)
			if err != nil {
				return err
			}
			post = append(post, released...)
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, fn := range post {
			fn()
		}
	}
	return &round, nil
}

// expireLocked transitions an active round to expired with no refund. The
// caller holds the row lock. Returned funcs must run after commit.
func (s *Service) expireLocked(tx *gorm.DB, round *db.Round) ([]func(), error) {
	now := s.now()
	round.Status = db.RoundStatusExpired
	round.ClosedAt = &now
	if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(map[string]any{
		"status":     round.Status,
		"closed_at":  round.ClosedAt,
		"updated_at": now,
	}).Error; err != nil {
		return nil, err
	}
	if err := clearCurrentRound(tx, round.PlayerID, round.ID); err != nil {
		return nil, err
	}
	if err := persistEvent(tx, "round_expired", ptr(round.PlayerID), ptr(round.ID), nil, EventPayload{
		RoundType: round.Type,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("round expired", "round_id", round.ID, "player_id", round.PlayerID, "type", round.Type)
	var post []func()
	if round.Type == db.RoundTypeCopy && round.TargetRoundID != nil {
		target, owner := *round.TargetRoundID, round.PlayerID
		post = append(post, func() { s.queue.Release(target, owner, false) })
	}
	return post, nil
}

func clearCurrentRound(tx *gorm.DB, playerID, roundID uint) error {
	return tx.Model(&db.Player{}).
		Where("id = ? AND current_round_id = ?", playerID, roundID).
		Update("current_round_id", nil).Error
}

func (s *Service) pickLibraryPrompt(tx *gorm.DB) (string, error) {
	var entry db.PromptLibrary
	if err := tx.Order("RANDOM()").First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoItemsAvailable
		}
		return "", err
	}
	return entry.Text, nil
}

// acquireCopyTarget resolves a waiting prompt for a copier: queue first,
// then the authoritative database scan. The scan also re-seeds the queue,
// which is how a lost in-memory tier self-heals. Both paths leave a
// pending reservation on the queue entry; the caller must Release it if
// the enclosing transaction rolls back.
func (s *Service) acquireCopyTarget(tx *gorm.DB, playerID uint) (*db.Round, error) {
	if id, ok := s.queue.Acquire(playerID); ok {
		var target db.Round
		err := tx.First(&target, id).Error
		if err == nil && copyTargetUsable(&target, playerID) {
			return &target, nil
		}
		s.queue.Release(id, playerID, false)
		if err == nil {
			s.queue.Remove(id)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var target db.Round
	err := tx.
		Where("type = ? AND status = ?", db.RoundTypePrompt, db.RoundStatusSubmitted).
		Where("(copy1_round_id IS NULL OR copy2_round_id IS NULL)").
		Where("player_id <> ?", playerID).
		Where("(copy1_player_id IS NULL OR copy1_player_id <> ?)", playerID).
		Where("(copy2_player_id IS NULL OR copy2_player_id <> ?)", playerID).
		Where(`NOT EXISTS (
			SELECT 1 FROM rounds c
			WHERE c.target_round_id = rounds.id AND c.type = ? AND c.status = ? AND c.player_id = ?
		)`, db.RoundTypeCopy, db.RoundStatusActive, playerID).
		Where(`(
			SELECT COUNT(*) FROM rounds c
			WHERE c.target_round_id = rounds.id AND c.type = ? AND c.status = ?
		) + (CASE WHEN copy1_round_id IS NULL THEN 0 ELSE 1 END)
		  + (CASE WHEN copy2_round_id IS NULL THEN 0 ELSE 1 END) < 2`, db.RoundTypeCopy, db.RoundStatusActive).
		Order("created_at ASC").
		First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoItemsAvailable
		}
		return nil, err
	}
	s.queue.Enqueue(target.ID, target.PlayerID, countFilledSlots(&target))
	s.queue.MarkPending(target.ID)
	s.queue.NoteCopyStarted()
	return &target, nil
}

func copyTargetUsable(target *db.Round, playerID uint) bool {
	if target.Type != db.RoundTypePrompt || target.Status != db.RoundStatusSubmitted {
		return false
	}
	if target.PlayerID == playerID {
		return false
	}
	if target.Copy1PlayerID != nil && *target.Copy1PlayerID == playerID {
		return false
	}
	if target.Copy2PlayerID != nil && *target.Copy2PlayerID == playerID {
		return false
	}
	return countFilledSlots(target) < 2
}

func countFilledSlots(target *db.Round) int {
	filled := 0
	if target.Copy1RoundID != nil {
		filled++
	}
	if target.Copy2RoundID != nil {
		filled++
	}
	return filled
}

// fillCopySlot assigns the submitting copy round to an empty slot on its
// target prompt under the prompt's row lock, re-checking occupancy inside
// the transaction so creation stays idempotent on "both slots filled".
// lostRace means the round was closed and refunded instead.
func (s *Service) fillCopySlot(tx *gorm.DB, round *db.Round, phrase string) (post []func(), lostRace bool, err error) {
	if round.TargetRoundID == nil {
		return nil, false, ErrInvalidPayload
	}
	var target db.Round
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&target, *round.TargetRoundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.refundLostCopy(tx, round, "target prompt missing")
		}
		return nil, false, err
	}
	if target.Type != db.RoundTypePrompt || target.Status != db.RoundStatusSubmitted {
		return s.refundLostCopy(tx, round, "target prompt not accepting copies")
	}
	filled := countFilledSlots(&target)
	if filled >= 2 {
		return s.refundLostCopy(tx, round, "both copy slots taken")
	}
	if (target.Copy1PlayerID != nil && *target.Copy1PlayerID == round.PlayerID) ||
		(target.Copy2PlayerID != nil && *target.Copy2PlayerID == round.PlayerID) {
		return s.refundLostCopy(tx, round, "player already holds a slot")
	}

	// A copy indistinguishable from the original or the other copy would
	// make vote tallies ambiguous.
	if strings.EqualFold(phrase, target.Phrase) {
		return nil, false, ErrInvalidPayload
	}
	var other *db.Round
	otherID := target.Copy1RoundID
	if otherID == nil {
		otherID = target.Copy2RoundID
	}
	if otherID != nil {
		var loaded db.Round
		if err := tx.First(&loaded, *otherID).Error; err != nil {
			return nil, false, err
		}
		if strings.EqualFold(phrase, loaded.Phrase) {
			return nil, false, ErrInvalidPayload
		}
		other = &loaded
	}

	now := s.now()
	updates := map[string]any{"updated_at": now}
	if target.Copy1RoundID == nil {
		target.Copy1RoundID = ptr(round.ID)
		target.Copy1PlayerID = ptr(round.PlayerID)
		updates["copy1_round_id"] = round.ID
		updates["copy1_player_id"] = round.PlayerID
	} else {
		target.Copy2RoundID = ptr(round.ID)
		target.Copy2PlayerID = ptr(round.PlayerID)
		updates["copy2_round_id"] = round.ID
		updates["copy2_player_id"] = round.PlayerID
	}
	if err := tx.Model(&db.Round{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
		return nil, false, err
	}

	targetID := target.ID
	nowFilled := filled + 1
	post = []func(){func() { s.queue.SlotFilled(targetID, nowFilled) }}
	if nowFilled < 2 {
		return post, false, nil
	}

	// Both slots filled: resolve each slot to its round and phrase. The
	// submitting round's phrase is not yet written, so it rides along.
	slot1, slot2 := other, round
	slot1Phrase, slot2Phrase := "", phrase
	if other != nil {
		slot1Phrase = other.Phrase
	}
	if *target.Copy1RoundID == round.ID {
		slot1, slot2 = round, other
		slot1Phrase, slot2Phrase = phrase, other.Phrase
	}
	created, err := s.createPhraseset(tx, &target, slot1, slot1Phrase, slot2, slot2Phrase)
	if err != nil {
		return nil, false, err
	}
	if created {
		post = append(post, func() { s.queue.Remove(targetID) })
	}
	return post, false, nil
}

// createPhraseset groups the prompt and both copies into one phraseset,
// seeded with the base stake plus the system contribution. All three
// texts must be non-empty; a partial concurrent write leaves the prompt
// for a later attempt instead of producing a hollow set.
func (s *Service) createPhraseset(tx *gorm.DB, target, copy1 *db.Round, copy1Phrase string, copy2 *db.Round, copy2Phrase string) (bool, error) {
	if copy1 == nil || copy2 == nil ||
		strings.TrimSpace(target.PromptText) == "" ||
		strings.TrimSpace(target.Phrase) == "" ||
		strings.TrimSpace(copy1Phrase) == "" ||
		strings.TrimSpace(copy2Phrase) == "" {
		s.logger.Warn("phraseset creation deferred; partial write detected",
			"prompt_round_id", target.ID)
		return false, nil
	}

	set := db.Phraseset{
		PromptRoundID:      target.ID,
		Copy1RoundID:       copy1.ID,
		Copy2RoundID:       copy2.ID,
		PromptPlayerID:     target.PlayerID,
		Copy1PlayerID:      copy1.PlayerID,
		Copy2PlayerID:      copy2.PlayerID,
		PromptText:         target.PromptText,
		OriginalPhrase:     target.Phrase,
		Copy1Phrase:        copy1Phrase,
		Copy2Phrase:        copy2Phrase,
		Status:             db.PhrasesetStatusOpen,
		TotalPool:          target.Cost + copy1.Cost + copy2.Cost + s.cfg.SystemContribution,
		SystemContribution: s.cfg.SystemContribution,
	}
	if err := tx.Create(&set).Error; err != nil {
		return false, err
	}
	if err := persistEvent(tx, "phraseset_created", ptr(target.PlayerID), ptr(target.ID), ptr(set.ID), EventPayload{
		TotalPool: set.TotalPool,
	}); err != nil {
		return false, err
	}
	s.logger.Info("phraseset created",
		"phraseset_id", set.ID,
		"prompt_round_id", target.ID,
		"total_pool", set.TotalPool,
	)
	return true, nil
}

// refundLostCopy closes a copy round that lost the race for a slot:
// full refund, no penalty, anomaly logged. The transaction commits.
func (s *Service) refundLostCopy(tx *gorm.DB, round *db.Round, reason string) ([]func(), bool, error) {
	if round.Cost > 0 {
		if _, err := s.ledger.RecordLocked(tx, round.PlayerID, round.Cost, db.TxTypeRefund, roundRef(round.ID), db.WalletLiquid); err != nil {
			return nil, false, err
		}
	}
	now := s.now()
	if err := tx.Model(&db.Round{}).Where("id = ?", round.ID).Updates(map[string]any{
		"status":     db.RoundStatusAbandoned,
		"closed_at":  now,
		"updated_at": now,
	}).Error; err != nil {
		return nil, false, err
	}
	if err := clearCurrentRound(tx, round.PlayerID, round.ID); err != nil {
		return nil, false, err
	}
	if err := persistEvent(tx, "copy_overflow", ptr(round.PlayerID), ptr(round.ID), nil, EventPayload{
		Reason: reason,
		Refund: round.Cost,
	}); err != nil {
		return nil, false, err
	}
	s.logger.Warn("copy round refunded", "round_id", round.ID, "reason", reason)
	round.Status = db.RoundStatusAbandoned
	return nil, true, nil
}
