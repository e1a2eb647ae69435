package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"copycatch/internal/config"
	"copycatch/internal/game"
	"copycatch/internal/ledger"
	"copycatch/internal/queue"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	db     *gorm.DB
	cfg    config.Config
	game   *game.Service
	ledger *ledger.Ledger
	hub    *resultHub
	logger *slog.Logger
}

func New(conn *gorm.DB, cfg config.Config) *Server {
	logger := slog.Default()
	led := ledger.New(conn, logger)
	pq := queue.New(
		cfg.QueueDiscountThreshold,
		time.Duration(cfg.RecentCopyWindowSeconds)*time.Second,
		time.Duration(cfg.ReclaimCooldownSeconds)*time.Second,
	)
	svc := game.NewService(conn, cfg, led, pq, logger)
	svc.SetValidator(phraseRules{})

	s := &Server{
		db:     conn,
		cfg:    cfg,
		game:   svc,
		ledger: led,
		hub:    newResultHub(),
		logger: logger,
	}
	svc.SetNotifier(s.hub)
	return s
}

// Game exposes the engine for tests and tooling.
func (s *Server) Game() *game.Service {
	return s.game
}

func (s *Server) Handler() http.Handler {
	registerValidators()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", s.handleHome)
	router.Static("/static", "./static")

	api := router.Group("/api")
	{
		api.POST("/players", s.handleCreatePlayer)
		api.GET("/players/:id", s.requirePlayer, s.handleGetPlayer)
		api.GET("/players/:id/transactions", s.requirePlayer, s.handleListTransactions)

		api.POST("/rounds", s.requireAuth, s.handleStartRound)
		api.GET("/rounds/:id", s.requireAuth, s.handleGetRound)
		api.POST("/rounds/:id/submit", s.requireAuth, s.handleSubmitRound)
		api.POST("/rounds/:id/abandon", s.requireAuth, s.handleAbandonRound)
		api.POST("/rounds/:id/vote", s.requireAuth, s.handleSubmitVote)

		api.GET("/phrasesets/:id", s.requireAuth, s.handleGetPhraseset)
		api.POST("/phrasesets/:id/result", s.requireAuth, s.handleClaimResult)
		api.POST("/phrasesets/:id/ack", s.requireAuth, s.handleAcknowledgeResult)

		api.GET("/queue", s.handleQueueStatus)
	}

	admin := router.Group("/admin")
	{
		admin.GET("/prompts", s.handleAdminPromptsView)
		admin.POST("/prompts", s.handleAdminPromptCreate)
		admin.POST("/prompts/:id/update", s.handleAdminPromptUpdate)
		admin.POST("/prompts/:id/delete", s.handleAdminPromptDelete)
		admin.GET("/phrasesets", s.handleAdminPhrasesets)
		admin.POST("/sweep", s.handleAdminSweep)
	}

	router.GET("/ws/results", s.handleResultsWebsocket)
	return router
}

// StartSweeper runs the periodic finalization sweep until ctx ends. The
// sweep only improves voter-facing latency; finalization deadlines are
// also checked on every vote.
func (s *Server) StartSweeper(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalSeconds) * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				finalized, err := s.game.Sweep(ctx)
				if err != nil {
					s.logger.Error("finalization sweep failed", "error", err)
					continue
				}
				if finalized > 0 {
					s.logger.Info("finalization sweep completed", "finalized", finalized)
				}
			}
		}
	}()
}
