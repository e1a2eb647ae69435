// Package game owns the round lifecycle, the phraseset voting lifecycle,
// and the prize-pool payout rules. Every multi-step mutation runs as one
// database transaction; the in-memory queue is advisory only.
package game

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"copycatch/internal/config"
	"copycatch/internal/ledger"
	"copycatch/internal/queue"

	"gorm.io/gorm"
)

// PhraseValidator checks submitted payload shape. The engine only insists
// on non-empty text; the serving layer plugs in the full rule set.
type PhraseValidator interface {
	ValidatePhrase(text string) (string, error)
}

// Notifier receives post-commit signals so read-side caches and live
// feeds can be invalidated whenever player-visible state changes.
type Notifier interface {
	PlayerChanged(playerID uint)
	PhrasesetFinalized(phrasesetID uint, playerIDs []uint)
}

type Service struct {
	db        *gorm.DB
	cfg       config.Config
	ledger    *ledger.Ledger
	queue     *queue.PromptQueue
	validator PhraseValidator
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	sweepMu   sync.Mutex
	lastSweep time.Time
}

func NewService(conn *gorm.DB, cfg config.Config, led *ledger.Ledger, pq *queue.PromptQueue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        conn,
		cfg:       cfg,
		ledger:    led,
		queue:     pq,
		validator: basicValidator{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetValidator installs the external payload validator.
func (s *Service) SetValidator(v PhraseValidator) {
	if v != nil {
		s.validator = v
	}
}

// SetNotifier installs the post-commit invalidation hook.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) Queue() *queue.PromptQueue {
	return s.queue
}

func (s *Service) grace() time.Duration {
	return time.Duration(s.cfg.GraceSeconds) * time.Second
}

func (s *Service) notifyPlayer(playerID uint) {
	if s.notifier != nil {
		s.notifier.PlayerChanged(playerID)
	}
}

type basicValidator struct{}

func (basicValidator) ValidatePhrase(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrInvalidPayload
	}
	if len(trimmed) > 280 {
		return "", ErrInvalidPayload
	}
	return trimmed, nil
}
