package server

import (
	"errors"
	"net/http"
	"strconv"

	"copycatch/internal/db"
	"copycatch/internal/game"

	"github.com/gin-gonic/gin"
)

type createPlayerRequest struct {
	Name string `json:"name" binding:"required,playername"`
}

type startRoundRequest struct {
	Type string `json:"type" binding:"required,oneof=prompt copy vote"`
}

type submitRoundRequest struct {
	Phrase string `json:"phrase" binding:"required,phrase"`
}

type submitVoteRequest struct {
	PhrasesetID uint   `json:"phraseset_id" binding:"required"`
	Phrase      string `json:"phrase" binding:"required,phrase"`
}

type idURI struct {
	ID uint `uri:"id" binding:"required"`
}

func (s *Server) handleCreatePlayer(c *gin.Context) {
	var req createPlayerRequest
	if !bindJSON(c, &req, bindMessages{
		"Name": {
			"required":   "name is required",
			"playername": "name is invalid",
		},
	}, "invalid player request") {
		return
	}
	player, err := s.game.CreatePlayer(c.Request.Context(), req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"player_id": player.ID,
		"name":      player.Name,
		"token":     player.APIToken,
		"balance":   player.Balance,
	})
}

func (s *Server) handleGetPlayer(c *gin.Context) {
	player := currentPlayer(c)
	c.JSON(http.StatusOK, gin.H{
		"player_id":      player.ID,
		"name":           player.Name,
		"balance":        player.Balance,
		"locked_balance": player.LockedBalance,
		"current_round":  player.CurrentRoundID,
	})
}

func (s *Server) handleListTransactions(c *gin.Context) {
	player := currentPlayer(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.ledger.History(c.Request.Context(), player.ID, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, gin.H{
			"id":            entry.ID,
			"amount":        entry.Amount,
			"type":          entry.Type,
			"wallet":        entry.Wallet,
			"reference":     entry.Reference,
			"balance_after": entry.BalanceAfter,
			"locked_after":  entry.LockedBalanceAfter,
			"created_at":    entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (s *Server) handleStartRound(c *gin.Context) {
	var req startRoundRequest
	if !bindJSON(c, &req, bindMessages{
		"Type": {
			"required": "round type is required",
			"oneof":    "round type must be prompt, copy, or vote",
		},
	}, "invalid round request") {
		return
	}
	player := currentPlayer(c)
	round, err := s.game.StartRound(c.Request.Context(), player.ID, req.Type)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.roundResponse(c, round))
}

func (s *Server) handleGetRound(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	round, err := s.game.GetRound(c.Request.Context(), uri.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	player := currentPlayer(c)
	if round.PlayerID != player.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "round belongs to another player"})
		return
	}
	c.JSON(http.StatusOK, s.roundResponse(c, round))
}

func (s *Server) handleSubmitRound(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	var req submitRoundRequest
	if !bindJSON(c, &req, bindMessages{
		"Phrase": {
			"required": "phrase is required",
			"phrase":   "phrase is invalid",
		},
	}, "invalid submission") {
		return
	}
	player := currentPlayer(c)
	round, err := s.game.SubmitRound(c.Request.Context(), uri.ID, player.ID, req.Phrase)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.roundResponse(c, round))
}

func (s *Server) handleAbandonRound(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	player := currentPlayer(c)
	round, refund, penalty, err := s.game.AbandonRound(c.Request.Context(), uri.ID, player.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := s.roundResponse(c, round)
	resp["refund"] = refund
	resp["penalty_kept"] = penalty
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSubmitVote(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	var req submitVoteRequest
	if !bindJSON(c, &req, bindMessages{
		"PhrasesetID": {"required": "phraseset_id is required"},
		"Phrase": {
			"required": "phrase is required",
			"phrase":   "phrase is invalid",
		},
	}, "invalid vote") {
		return
	}
	player := currentPlayer(c)
	vote, err := s.game.SubmitVote(c.Request.Context(), uri.ID, req.PhrasesetID, req.Phrase, player.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vote_id":      vote.ID,
		"phraseset_id": vote.PhrasesetID,
		"correct":      vote.Correct,
		"payout":       vote.Payout,
	})
}

func (s *Server) handleGetPhraseset(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	set, err := s.game.GetPhraseset(c.Request.Context(), uri.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := gin.H{
		"phraseset_id": set.ID,
		"prompt":       set.PromptText,
		"phrases":      shuffledPhrases(set),
		"status":       set.Status,
		"vote_count":   set.VoteCount,
	}
	player := currentPlayer(c)
	if set.Status == db.PhrasesetStatusFinalized || isContributor(set, player.ID) {
		resp["total_pool"] = set.TotalPool
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClaimResult(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	player := currentPlayer(c)
	payout, alreadyClaimed, err := s.game.ClaimResult(c.Request.Context(), uri.ID, player.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"phraseset_id":    uri.ID,
		"payout":          payout,
		"already_claimed": alreadyClaimed,
	})
}

func (s *Server) handleAcknowledgeResult(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	player := currentPlayer(c)
	if err := s.game.AcknowledgeResult(c.Request.Context(), uri.ID, player.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	q := s.game.Queue()
	c.JSON(http.StatusOK, gin.H{
		"waiting_prompts": q.WaitingCount(),
		"copy_discount":   q.DiscountActive(),
	})
}

// roundResponse shapes a round for its owner, including the material the
// round type needs (prompt text, copy target phrase, vote candidates).
func (s *Server) roundResponse(c *gin.Context, round *db.Round) gin.H {
	resp := gin.H{
		"round_id":   round.ID,
		"type":       round.Type,
		"status":     round.Status,
		"cost":       round.Cost,
		"expires_at": round.ExpiresAt,
	}
	switch round.Type {
	case db.RoundTypePrompt:
		resp["prompt"] = round.PromptText
	case db.RoundTypeCopy:
		resp["prompt"] = round.PromptText
		if round.TargetRoundID != nil && round.Status == db.RoundStatusActive {
			var target db.Round
			if err := s.db.WithContext(c.Request.Context()).First(&target, *round.TargetRoundID).Error; err == nil {
				resp["original_phrase"] = target.Phrase
			}
		}
	case db.RoundTypeVote:
		if round.PhrasesetID != nil {
			resp["phraseset_id"] = *round.PhrasesetID
			if set, err := s.game.GetPhraseset(c.Request.Context(), *round.PhrasesetID); err == nil {
				resp["prompt"] = set.PromptText
				resp["phrases"] = shuffledPhrases(set)
			}
		}
	}
	return resp
}

func isContributor(set *db.Phraseset, playerID uint) bool {
	return playerID == set.PromptPlayerID || playerID == set.Copy1PlayerID || playerID == set.Copy2PlayerID
}

func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, game.ErrAlreadyInRound):
		c.JSON(http.StatusConflict, gin.H{"error": "finish or abandon your current round first"})
	case errors.Is(err, game.ErrNoItemsAvailable):
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing available right now, try again later"})
	case errors.Is(err, game.ErrRoundNotFound), errors.Is(err, game.ErrPhrasesetNotFound),
		errors.Is(err, game.ErrPlayerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, game.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "round belongs to another player"})
	case errors.Is(err, game.ErrRoundExpired):
		c.JSON(http.StatusGone, gin.H{"error": "round has expired"})
	case errors.Is(err, game.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": "round already submitted"})
	case errors.Is(err, game.ErrNotAbandonable):
		c.JSON(http.StatusConflict, gin.H{"error": "round cannot be abandoned"})
	case errors.Is(err, game.ErrPromptFull):
		c.JSON(http.StatusConflict, gin.H{"error": "prompt was fully copied first; your cost was refunded"})
	case errors.Is(err, game.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission payload"})
	case errors.Is(err, game.ErrInvalidPhrase):
		c.JSON(http.StatusBadRequest, gin.H{"error": "phrase is not one of the candidates"})
	case errors.Is(err, game.ErrAlreadyVoted):
		c.JSON(http.StatusConflict, gin.H{"error": "already voted on this phraseset"})
	case errors.Is(err, game.ErrSelfVote):
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot vote on your own phraseset"})
	case errors.Is(err, game.ErrNotFinalized):
		c.JSON(http.StatusConflict, gin.H{"error": "phraseset is not finalized yet"})
	case errors.Is(err, game.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "you did not contribute to this phraseset"})
	case errors.Is(err, game.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "name already taken"})
	case errors.Is(err, game.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player name"})
	case errors.Is(err, game.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy, please retry"})
	default:
		s.logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
