// Package api serves the HTTP side of the game: session lookup, creation and champion cards.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kiliankoe/famemely/internal/game"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	mgr *game.Manager
}

func New(mgr *game.Manager) *Handler {
	return &Handler{mgr: mgr}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	api := r.Group("/api")
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/resolve/:code", h.resolve)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/players/:id/cards", h.cards)
	api.GET("/session/active", h.active)
}

// CORS allows the listed origins; "*" allows any.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Origin"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// RequestLogger logs every request except socket.io polling.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	}
}

type createRequest struct {
	PlayerID string        `json:"playerId"`
	Name     string        `json:"name"`
	Settings game.Settings `json:"settings"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid-request-format"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.PlayerID == "" {
		req.PlayerID = uuid.NewString()
	}
	s, token, err := h.mgr.CreateSession(c.Request.Context(), req.PlayerID, req.Name, req.Settings)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionCode": s.ID, "token": token, "playerId": req.PlayerID})
}

func (h *Handler) resolve(c *gin.Context) {
	id, err := h.mgr.Resolve(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id})
}

// getSession returns the session as seen by ?playerId= (or an outside observer).
func (h *Handler) getSession(c *gin.Context) {
	id := c.Param("id")
	s, err := h.mgr.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	remaining, _ := h.mgr.Remaining(id)
	c.JSON(http.StatusOK, game.NewView(s, c.Query("playerId"), remaining))
}

func (h *Handler) cards(c *gin.Context) {
	cards, err := h.mgr.CardsForPlayer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

func (h *Handler) active(c *gin.Context) {
	s, ok := h.mgr.Active(c.Request.Context())
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionCode": s.ID, "phase": s.Phase, "players": len(s.Players)})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal"})
		return
	}
	code := string(game.KindOf(err))
	if code == "" {
		code = "session_not_found"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// StatusFor maps game errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, game.ErrPhaseMismatch), errors.Is(err, game.ErrAlreadyActed), errors.Is(err, game.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
