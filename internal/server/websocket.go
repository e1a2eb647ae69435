package server

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"copycatch/internal/db"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

type resultMessage struct {
	Type        string `json:"type"`
	PhrasesetID uint   `json:"phraseset_id,omitempty"`
}

// resultHub fans post-commit game events out to connected players. Each
// player may hold several connections (tabs); a slow connection is
// dropped rather than blocking the sender.
type resultHub struct {
	mu      sync.RWMutex
	clients map[uint]map[*resultClient]struct{}
}

type resultClient struct {
	playerID uint
	conn     *websocket.Conn
	send     chan resultMessage
}

func newResultHub() *resultHub {
	return &resultHub{clients: make(map[uint]map[*resultClient]struct{})}
}

func (h *resultHub) register(c *resultClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.playerID] == nil {
		h.clients[c.playerID] = make(map[*resultClient]struct{})
	}
	h.clients[c.playerID][c] = struct{}{}
}

func (h *resultHub) unregister(c *resultClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.playerID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, c.playerID)
			}
		}
	}
}

func (h *resultHub) push(playerID uint, msg resultMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[playerID] {
		select {
		case client.send <- msg:
		default:
			// Buffer full; the write pump will notice the closed
			// connection on its next ping.
		}
	}
}

// PlayerChanged implements game.Notifier.
func (h *resultHub) PlayerChanged(playerID uint) {
	h.push(playerID, resultMessage{Type: "player_changed"})
}

// PhrasesetFinalized implements game.Notifier.
func (h *resultHub) PhrasesetFinalized(phrasesetID uint, playerIDs []uint) {
	msg := resultMessage{Type: "phraseset_finalized", PhrasesetID: phrasesetID}
	for _, id := range playerIDs {
		h.push(id, msg)
	}
}

func (s *Server) handleResultsWebsocket(c *gin.Context) {
	player, err := s.game.GetPlayerByToken(c.Request.Context(), extractToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := &resultClient{
		playerID: player.ID,
		conn:     conn,
		send:     make(chan resultMessage, sendBufferSize),
	}
	s.hub.register(client)
	go client.writePump()
	go func() {
		defer s.hub.unregister(client)
		defer conn.Close()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (c *resultClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shuffledPhrases returns the three candidates in random order so the
// original's position never leaks.
func shuffledPhrases(set *db.Phraseset) []string {
	phrases := []string{set.OriginalPhrase, set.Copy1Phrase, set.Copy2Phrase}
	rand.Shuffle(len(phrases), func(i, j int) {
		phrases[i], phrases[j] = phrases[j], phrases[i]
	})
	return phrases
}
