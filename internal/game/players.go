package game

import (
	"context"
	"errors"
	"strings"

	"copycatch/internal/db"
	"copycatch/internal/ledger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPlayerNotFound = ledger.ErrPlayerNotFound
	ErrNameTaken      = errors.New("player name already taken")
	ErrInvalidName    = errors.New("invalid player name")
)

// CreatePlayer registers a player and grants the starting balance as a
// ledger entry, so even the opening balance has an audit trail.
func (s *Service) CreatePlayer(ctx context.Context, name string) (*db.Player, error) {
	clean := strings.TrimSpace(name)
	if clean == "" || len(clean) > 64 {
		return nil, ErrInvalidName
	}
	player := db.Player{
		Name:     clean,
		APIToken: uuid.NewString(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&player).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrNameTaken
			}
			return err
		}
		if s.cfg.StartingBalance > 0 {
			if err := ledger.AcquirePlayerLock(tx, player.ID); err != nil {
				return err
			}
			if _, err := s.ledger.RecordLocked(tx, player.ID, s.cfg.StartingBalance, db.TxTypeGrant, "signup", db.WalletLiquid); err != nil {
				return err
			}
			player.Balance = s.cfg.StartingBalance
		}
		return persistEvent(tx, "player_joined", ptr(player.ID), nil, nil, EventPayload{})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("player created", "player_id", player.ID, "name", clean)
	return &player, nil
}

func (s *Service) GetPlayer(ctx context.Context, id uint) (*db.Player, error) {
	var player db.Player
	if err := s.db.WithContext(ctx).First(&player, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (s *Service) GetPlayerByToken(ctx context.Context, token string) (*db.Player, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrPlayerNotFound
	}
	var player db.Player
	if err := s.db.WithContext(ctx).Where("api_token = ?", token).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}
