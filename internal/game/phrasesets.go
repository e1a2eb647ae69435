package game

import (
	"context"
	"errors"
	"time"

	"copycatch/internal/config"
	"copycatch/internal/db"
	"copycatch/internal/ledger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// shouldFinalize evaluates the three finalization triggers against wall
// clock time. Deadlines are checked lazily; no running timer is involved.
func shouldFinalize(set *db.Phraseset, now time.Time, cfg config.Config) bool {
	if set.Status != db.PhrasesetStatusOpen && set.Status != db.PhrasesetStatusClosing {
		return false
	}
	if set.VoteCount >= cfg.VoteHardCap {
		return true
	}
	closing := time.Duration(cfg.ClosingWindowSeconds) * time.Second
	if set.FifthVoteAt != nil && !now.Before(set.FifthVoteAt.Add(closing)) {
		return true
	}
	minimum := time.Duration(cfg.MinVoteWindowSeconds) * time.Second
	if set.FifthVoteAt == nil && set.ThirdVoteAt != nil && set.VoteCount >= 3 &&
		!now.Before(set.ThirdVoteAt.Add(minimum)) {
		return true
	}
	return false
}

// GetPhraseset loads a phraseset by id.
func (s *Service) GetPhraseset(ctx context.Context, id uint) (*db.Phraseset, error) {
	var set db.Phraseset
	if err := s.db.WithContext(ctx).First(&set, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPhrasesetNotFound
		}
		return nil, err
	}
	return &set, nil
}

// ListPhrasesets returns phrasesets filtered by status, newest first.
func (s *Service) ListPhrasesets(ctx context.Context, status string, offset, limit int) ([]db.Phraseset, int64, error) {
	query := s.db.WithContext(ctx).Model(&db.Phraseset{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var sets []db.Phraseset
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sets).Error; err != nil {
		return nil, 0, err
	}
	return sets, total, nil
}

// Sweep finalizes every phraseset whose deadline has passed. It is
// rate-limited to once per configured interval; each candidate runs in
// its own transaction so one bad record cannot poison the rest.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	interval := time.Duration(s.cfg.SweepIntervalSeconds) * time.Second
	s.sweepMu.Lock()
	if s.now().Sub(s.lastSweep) < interval {
		s.sweepMu.Unlock()
		return 0, nil
	}
	s.lastSweep = s.now()
	s.sweepMu.Unlock()

	now := s.now()
	closingCutoff := now.Add(-time.Duration(s.cfg.ClosingWindowSeconds) * time.Second)
	minCutoff := now.Add(-time.Duration(s.cfg.MinVoteWindowSeconds) * time.Second)

	var ids []uint
	err := s.db.WithContext(ctx).Model(&db.Phraseset{}).
		Where("status IN ?", []string{db.PhrasesetStatusOpen, db.PhrasesetStatusClosing}).
		Where(`vote_count >= ?
			OR (fifth_vote_at IS NOT NULL AND fifth_vote_at <= ?)
			OR (fifth_vote_at IS NULL AND third_vote_at IS NOT NULL AND vote_count >= 3 AND third_vote_at <= ?)`,
			s.cfg.VoteHardCap, closingCutoff, minCutoff).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, id := range ids {
		var players []uint
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var set db.Phraseset
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&set, id).Error; err != nil {
				return err
			}
			if !shouldFinalize(&set, s.now(), s.cfg) {
				return nil
			}
			var err error
			players, err = s.finalizeLocked(tx, &set)
			return err
		})
		if err != nil {
			s.logger.Error("sweep finalization failed", "phraseset_id", id, "error", err)
			continue
		}
		if players != nil {
			finalized++
			if s.notifier != nil {
				s.notifier.PhrasesetFinalized(id, players)
			}
		}
	}
	return finalized, nil
}

// finalizeLocked moves a phraseset to its terminal state and pays
// contributors. The caller holds the phraseset row lock; a set that is
// already terminal is a no-op, which makes racing finalizations safe.
// Returns the contributor player ids on success, nil when nothing
// happened.
func (s *Service) finalizeLocked(tx *gorm.DB, set *db.Phraseset) ([]uint, error) {
	if set.Status != db.PhrasesetStatusOpen && set.Status != db.PhrasesetStatusClosing {
		return nil, nil
	}

	var contributors []db.Round
	err := tx.Where("id IN ?", []uint{set.PromptRoundID, set.Copy1RoundID, set.Copy2RoundID}).
		Find(&contributors).Error
	if err != nil {
		return nil, err
	}
	if len(contributors) != 3 {
		return nil, s.forceCloseLocked(tx, set, len(contributors))
	}
	roundsByID := make(map[uint]db.Round, 3)
	for _, r := range contributors {
		roundsByID[r.ID] = r
	}

	tally, err := s.tallyVotes(tx, set)
	if err != nil {
		return nil, err
	}
	shares := computeShares(set.TotalPool, tally, s.cfg)

	now := s.now()
	if err := tx.Model(&db.Phraseset{}).Where("id = ?", set.ID).Updates(map[string]any{
		"status":       db.PhrasesetStatusFinalized,
		"finalized_at": now,
		"updated_at":   now,
	}).Error; err != nil {
		return nil, err
	}
	set.Status = db.PhrasesetStatusFinalized
	set.FinalizedAt = &now

	// Contributor locks are taken in ascending player order so two
	// finalizations sharing contributors cannot deadlock; a timeout
	// rolls the whole finalization back as retryable contention.
	payees := []payee{
		{playerID: set.PromptPlayerID, roundID: set.PromptRoundID, payout: shares.Original},
		{playerID: set.Copy1PlayerID, roundID: set.Copy1RoundID, payout: shares.Copy1},
		{playerID: set.Copy2PlayerID, roundID: set.Copy2RoundID, payout: shares.Copy2},
	}
	sortPayees(payees)
	players := make([]uint, 0, 3)
	for _, p := range payees {
		players = append(players, p.playerID)
		if p.payout <= 0 {
			continue
		}
		cost := roundsByID[p.roundID].Cost
		liquid, locked := splitPayout(p.payout, cost, s.cfg.ProfitLiquidPercent)
		if err := ledger.AcquirePlayerLock(tx, p.playerID); err != nil {
			return nil, err
		}
		if liquid > 0 {
			if _, err := s.ledger.RecordLocked(tx, p.playerID, liquid, db.TxTypePrizePayout, phrasesetRef(set.ID), db.WalletLiquid); err != nil {
				if errors.Is(err, ledger.ErrPlayerNotFound) {
					s.logger.Error("payout skipped; player missing",
						"phraseset_id", set.ID, "player_id", p.playerID, "amount", p.payout)
					continue
				}
				return nil, err
			}
		}
		if locked > 0 {
			if _, err := s.ledger.RecordLocked(tx, p.playerID, locked, db.TxTypePrizePayout, phrasesetRef(set.ID), db.WalletLocked); err != nil {
				return nil, err
			}
		}
		if err := persistEvent(tx, "payout_paid", ptr(p.playerID), ptr(p.roundID), ptr(set.ID), EventPayload{
			Payout: p.payout,
		}); err != nil {
			return nil, err
		}
	}

	if err := persistEvent(tx, "phraseset_finalized", nil, nil, ptr(set.ID), EventPayload{
		VoteCount: set.VoteCount,
		TotalPool: set.TotalPool,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("phraseset finalized",
		"phraseset_id", set.ID,
		"vote_count", set.VoteCount,
		"total_pool", set.TotalPool,
	)
	return players, nil
}

// forceCloseLocked closes a phraseset whose contributor rounds are
// missing: no payouts, no retry, anomaly logged. Other sets in the same
// sweep are unaffected.
func (s *Service) forceCloseLocked(tx *gorm.DB, set *db.Phraseset, found int) error {
	now := s.now()
	if err := tx.Model(&db.Phraseset{}).Where("id = ?", set.ID).Updates(map[string]any{
		"status":     db.PhrasesetStatusClosed,
		"updated_at": now,
	}).Error; err != nil {
		return err
	}
	set.Status = db.PhrasesetStatusClosed
	if err := persistEvent(tx, "phraseset_force_closed", nil, nil, ptr(set.ID), EventPayload{
		Reason:    "contributor rounds missing",
		VoteCount: set.VoteCount,
		TotalPool: set.TotalPool,
	}); err != nil {
		return err
	}
	s.logger.Error("phraseset force-closed; contributor rounds missing",
		"phraseset_id", set.ID,
		"rounds_found", found,
	)
	return nil
}

func (s *Service) tallyVotes(tx *gorm.DB, set *db.Phraseset) (voteTally, error) {
	var votes []db.Vote
	if err := tx.Where("phraseset_id = ?", set.ID).Find(&votes).Error; err != nil {
		return voteTally{}, err
	}
	var tally voteTally
	for _, v := range votes {
		switch v.Phrase {
		case set.OriginalPhrase:
			tally.Original++
		case set.Copy1Phrase:
			tally.Copy1++
		case set.Copy2Phrase:
			tally.Copy2++
		}
	}
	return tally, nil
}
