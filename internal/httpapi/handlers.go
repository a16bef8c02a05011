package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psychopatz/KaraYouke/internal/catalog"
	"github.com/psychopatz/KaraYouke/internal/config"
	"github.com/psychopatz/KaraYouke/internal/hub"
	"github.com/psychopatz/KaraYouke/internal/session"
)

const defaultAvatar = "/Avatars/1.svg"

type handlers struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *session.Store
	rooms  RoomNotifier
	search catalog.Searcher
}

type createSessionRequest struct {
	Password string `json:"password"`
}

// createSession generates a new session code and initializes empty in-memory
// state. An empty password leaves the session open to anyone with the code.
func (h *handlers) createSession(c *gin.Context) {
	var req createSessionRequest
	// The body is optional; an absent or empty body means no password.
	_ = c.ShouldBindJSON(&req)

	code := h.store.Create(req.Password)
	h.log.Info("session created", zap.String("session_code", code))

	c.JSON(http.StatusOK, gin.H{
		"status":       "OK",
		"session_code": code,
	})
}

type restoreSessionRequest struct {
	SessionCode string                     `json:"session_code" binding:"required"`
	Users       []session.Participant     `json:"users"`
	Queue       []session.QueueEntry      `json:"queue"`
	Leaderboard []session.LeaderboardEntry `json:"leaderboard"`
	Settings    map[string]any             `json:"settings"`
	Password    string                     `json:"password"`
}

// restoreSession rebuilds a session from a client-cached snapshot, the only
// recovery path after a server restart. The caller-supplied state overwrites
// anything already stored under the code.
func (h *handlers) restoreSession(c *gin.Context) {
	var req restoreSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	code := normalizeCode(req.SessionCode)
	snap := h.store.Restore(code, session.Snapshot{
		Users:       req.Users,
		Queue:       req.Queue,
		Leaderboard: req.Leaderboard,
		Settings:    req.Settings,
	}, req.Password)

	h.rooms.Broadcast(code, hub.MsgTypeSessionUpdated, snap)
	h.log.Info("session restored", zap.String("session_code", code))

	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"message": "Session '" + code + "' restored.",
		"data":    snap,
	})
}

// getSessionDetails returns the sanitized snapshot; the password never leaves
// the store.
func (h *handlers) getSessionDetails(c *gin.Context) {
	code := normalizeCode(c.Param("code"))

	snap, err := h.store.Snapshot(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "OK",
		"session_code": code,
		"data":         snap,
	})
}

// validateSession reports existence and whether a password is required,
// without creating state or leaking the password itself.
func (h *handlers) validateSession(c *gin.Context) {
	code := normalizeCode(c.Param("code"))
	exists, passwordRequired := h.store.Validate(code)

	c.JSON(http.StatusOK, gin.H{
		"exists":            exists,
		"password_required": passwordRequired,
	})
}

// deleteSession broadcasts the termination event to the room, then removes
// the session.
func (h *handlers) deleteSession(c *gin.Context) {
	code := normalizeCode(c.Param("code"))

	if exists, _ := h.store.Validate(code); !exists {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
		return
	}

	h.rooms.DeleteSession(code)
	c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Session '" + code + "' deleted."})
}

type joinSessionRequest struct {
	SessionCode string `json:"session_code" binding:"required"`
	ID          string `json:"id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Avatar      string `json:"avatar_base64"`
	Password    string `json:"password"`
}

// joinSession adds a participant to the session after the password check.
// Joining twice with the same id is idempotent and returns the existing
// entry unchanged.
func (h *handlers) joinSession(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	code := normalizeCode(req.SessionCode)
	avatar := req.Avatar
	if avatar == "" {
		avatar = defaultAvatar
	}

	joined, err := h.store.Join(code, session.Participant{
		ID:     req.ID,
		Name:   req.Name,
		Avatar: avatar,
	}, req.Password)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
		return
	case errors.Is(err, session.ErrWrongPassword):
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Invalid password for this session."})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if snap, err := h.store.Snapshot(code); err == nil {
		h.rooms.Broadcast(code, hub.MsgTypeSessionUpdated, snap)
	}

	h.log.Info("user joined session",
		zap.String("session_code", code),
		zap.String("user_id", joined.ID))

	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"message": "User added.",
		"user":    joined,
	})
}

// normalizeCode applies the same rules as the socket boundary, so a code
// arriving over HTTP can never name a session the hub would spell differently
// or exceed the code length cap.
func normalizeCode(code string) string {
	return hub.SanitizeCode(code)
}
