package game

import (
	"context"
	"errors"
	"sort"

	"copycatch/internal/config"
	"copycatch/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type voteTally struct {
	Original int
	Copy1    int
	Copy2    int
}

// Shares is the pool division at finalization: points are votes received
// times the per-role multiplier, each payout is floor(pool * points /
// total points). Integer floor loss stays in the pool, not redistributed.
type Shares struct {
	Original int64
	Copy1    int64
	Copy2    int64
}

func computeShares(pool int64, tally voteTally, cfg config.Config) Shares {
	pointsOriginal := int64(tally.Original) * cfg.PointsPerOriginalVote
	pointsCopy1 := int64(tally.Copy1) * cfg.PointsPerCopyVote
	pointsCopy2 := int64(tally.Copy2) * cfg.PointsPerCopyVote
	total := pointsOriginal + pointsCopy1 + pointsCopy2
	if total == 0 {
		// Even three-way split for a voteless pool.
		each := pool / 3
		return Shares{Original: each, Copy1: each, Copy2: each}
	}
	return Shares{
		Original: pool * pointsOriginal / total,
		Copy1:    pool * pointsCopy1 / total,
		Copy2:    pool * pointsCopy2 / total,
	}
}

// splitPayout divides one contributor payout between wallets: the portion
// up to the original round cost refunds to the liquid balance, profit
// above cost splits by the configured ratio between liquid and locked.
func splitPayout(amount, cost, liquidPercent int64) (liquid, locked int64) {
	if amount <= 0 {
		return 0, 0
	}
	refund := amount
	if refund > cost {
		refund = cost
	}
	profit := amount - refund
	profitLiquid := profit * liquidPercent / 100
	return refund + profitLiquid, profit - profitLiquid
}

type payee struct {
	playerID uint
	roundID  uint
	payout   int64
}

func sortPayees(payees []payee) {
	sort.Slice(payees, func(i, j int) bool {
		return payees[i].playerID < payees[j].playerID
	})
}

// ClaimResult freezes and returns a contributor's payout for a finalized
// phraseset. The first request writes the ResultView; every later request
// returns the same frozen amount with alreadyClaimed set, even if a
// recomputation would differ.
func (s *Service) ClaimResult(ctx context.Context, phrasesetID, playerID uint) (int64, bool, error) {
	var payout int64
	var alreadyClaimed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var set db.Phraseset
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&set, phrasesetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPhrasesetNotFound
			}
			return err
		}
		if set.Status != db.PhrasesetStatusFinalized {
			return ErrNotFinalized
		}

		var computed int64
		switch playerID {
		case set.PromptPlayerID, set.Copy1PlayerID, set.Copy2PlayerID:
			tally, err := s.tallyVotes(tx, &set)
			if err != nil {
				return err
			}
			shares := computeShares(set.TotalPool, tally, s.cfg)
			switch playerID {
			case set.PromptPlayerID:
				computed = shares.Original
			case set.Copy1PlayerID:
				computed = shares.Copy1
			default:
				computed = shares.Copy2
			}
		default:
			return ErrNotParticipant
		}

		view := db.ResultView{
			PhrasesetID:   phrasesetID,
			PlayerID:      playerID,
			Payout:        computed,
			FirstViewedAt: s.now(),
		}
		insert := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&view)
		if insert.Error != nil {
			return insert.Error
		}
		alreadyClaimed = insert.RowsAffected == 0
		if alreadyClaimed {
			// First writer's frozen value wins.
			if err := tx.Where("phraseset_id = ? AND player_id = ?", phrasesetID, playerID).
				First(&view).Error; err != nil {
				return err
			}
		}
		payout = view.Payout
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return payout, alreadyClaimed, nil
}

// AcknowledgeResult marks a claimed result as seen; the timestamp is set
// once and never moves.
func (s *Service) AcknowledgeResult(ctx context.Context, phrasesetID, playerID uint) error {
	result := s.db.WithContext(ctx).Model(&db.ResultView{}).
		Where("phraseset_id = ? AND player_id = ? AND acknowledged_at IS NULL", phrasesetID, playerID).
		Update("acknowledged_at", s.now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&db.ResultView{}).
			Where("phraseset_id = ? AND player_id = ?", phrasesetID, playerID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotParticipant
		}
	}
	return nil
}
