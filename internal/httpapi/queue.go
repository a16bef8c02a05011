package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psychopatz/KaraYouke/internal/hub"
	"github.com/psychopatz/KaraYouke/internal/session"
)

type addSongRequest struct {
	SessionCode string             `json:"session_code" binding:"required"`
	Song        session.QueueEntry `json:"song" binding:"required"`
}

func (h *handlers) addSong(c *gin.Context) {
	var req addSongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if req.Song.Title == "" || req.Song.AddedBy == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Song must have a title and an adder"})
		return
	}

	code := normalizeCode(req.SessionCode)
	queue, err := h.store.AddSong(code, req.Song, req.Song.AddedBy)
	if !h.respondQueueError(c, code, err) {
		return
	}

	h.rooms.Broadcast(code, hub.MsgTypeQueueUpdated, queue)
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"message": "Song added to queue.",
		"queue":   queue,
	})
}

type removeSongRequest struct {
	SessionCode string `json:"session_code" binding:"required"`
	EntryID     string `json:"entry_id" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
}

func (h *handlers) removeSong(c *gin.Context) {
	var req removeSongRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	code := normalizeCode(req.SessionCode)
	queue, err := h.store.RemoveSong(code, req.EntryID, req.UserID)
	if !h.respondQueueError(c, code, err) {
		return
	}

	// A miss is a no-op but the unchanged queue is still rebroadcast.
	h.rooms.Broadcast(code, hub.MsgTypeQueueUpdated, queue)
	c.JSON(http.StatusOK, gin.H{
		"status": "OK",
		"queue":  queue,
	})
}

// respondQueueError writes the failure response when err is set and reports
// whether the caller may proceed.
func (h *handlers) respondQueueError(c *gin.Context, code string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
	case errors.Is(err, session.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "User not part of the session"})
	case errors.Is(err, session.ErrNotEntryOwner):
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "Only the user who added the song can remove it"})
	default:
		h.log.Error("queue mutation failed", zap.String("session_code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
	}
	return false
}

// waitQueue is a long-poll alternative to the socket push: the client asks to
// be answered once the queue version exceeds the one it has. The wait is
// bounded; on timeout the current state is returned unchanged.
func (h *handlers) waitQueue(c *gin.Context) {
	code := normalizeCode(c.Param("code"))
	since, _ := strconv.ParseUint(c.Query("version"), 10, 64)

	queue, version, err := h.store.Queue(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
		return
	}
	if version > since {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "version": version, "queue": queue, "changed": true})
		return
	}

	deadline := time.NewTimer(h.cfg.QueueWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.QueueWaitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-deadline.C:
			c.JSON(http.StatusOK, gin.H{"status": "OK", "version": version, "queue": queue, "changed": false})
			return
		case <-ticker.C:
			queue, version, err = h.store.Queue(code)
			if err != nil {
				// Session deleted while waiting.
				c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Session not found"})
				return
			}
			if version > since {
				c.JSON(http.StatusOK, gin.H{"status": "OK", "version": version, "queue": queue, "changed": true})
				return
			}
		}
	}
}

// searchCatalog proxies a keyword search to the external video catalog.
func (h *handlers) searchCatalog(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Query parameter 'q' is required"})
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 20 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Limit must be between 1 and 20"})
			return
		}
		limit = parsed
	}

	results, err := h.search.Search(c.Request.Context(), query, limit)
	if err != nil {
		h.log.Warn("catalog search failed", zap.String("query", query), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"query":   query,
		"limit":   limit,
		"results": results,
	})
}

// hostIP reports a LAN address remotes can reach, shown as a QR code on the
// party screen.
func (h *handlers) hostIP(c *gin.Context) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			c.JSON(http.StatusOK, gin.H{"host_ip": ip4.String()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"host_ip": "127.0.0.1"})
}
