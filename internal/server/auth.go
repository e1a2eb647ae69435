package server

import (
	"net/http"
	"strconv"
	"strings"

	"copycatch/internal/db"

	"github.com/gin-gonic/gin"
)

const playerContextKey = "player"

func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token := c.GetHeader("X-Player-Token"); token != "" {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(c.Query("token"))
}

// requireAuth resolves the calling player from their API token.
func (s *Server) requireAuth(c *gin.Context) {
	player, err := s.game.GetPlayerByToken(c.Request.Context(), extractToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.Set(playerContextKey, player)
	c.Next()
}

// requirePlayer additionally checks the token matches the :id in the path.
func (s *Server) requirePlayer(c *gin.Context) {
	player, err := s.game.GetPlayerByToken(c.Request.Context(), extractToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 || uint(id) != player.ID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not match player"})
		return
	}
	c.Set(playerContextKey, player)
	c.Next()
}

func currentPlayer(c *gin.Context) *db.Player {
	value, ok := c.Get(playerContextKey)
	if !ok {
		return nil
	}
	player, _ := value.(*db.Player)
	return player
}
