// Package httpapi is the request/response surface of the party server:
// session lifecycle, join, queue mutation with a long-poll fallback, and the
// thin catalog search proxy. Mutations flow through the session store and are
// fanned out to the room via the hub.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psychopatz/KaraYouke/internal/catalog"
	"github.com/psychopatz/KaraYouke/internal/config"
	"github.com/psychopatz/KaraYouke/internal/session"
)

// RoomNotifier is the hub surface the HTTP layer needs: fan-out plus the
// session teardown that broadcasts before removal.
type RoomNotifier interface {
	Broadcast(code, msgType string, payload any)
	DeleteSession(code string)
}

// Server wraps the gin engine with graceful shutdown helpers.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	log    *zap.Logger
}

// New constructs the HTTP server with default middleware and routes. The
// socket endpoint is mounted alongside the REST routes so one listener
// serves both surfaces.
func New(cfg *config.Config, log *zap.Logger, store *session.Store, rooms RoomNotifier, search catalog.Searcher, ws http.HandlerFunc) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log), corsMiddleware(cfg.AllowedOrigins))

	h := &handlers{cfg: cfg, log: log, store: store, rooms: rooms, search: search}
	registerRoutes(engine, h, ws)

	return &Server{cfg: cfg, engine: engine, log: log}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP listener and handles graceful shutdown via context
// cancellation.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func registerRoutes(engine *gin.Engine, h *handlers, ws http.HandlerFunc) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "pong"})
	})
	if ws != nil {
		engine.GET("/ws", gin.WrapF(ws))
	}

	api := engine.Group("/api")

	sess := api.Group("/session")
	sess.POST("/create", h.createSession)
	sess.POST("/restore", h.restoreSession)
	sess.GET("/:code", h.getSessionDetails)
	sess.GET("/:code/validate", h.validateSession)
	sess.DELETE("/:code", h.deleteSession)

	user := api.Group("/user")
	user.POST("/join", h.joinSession)

	queue := api.Group("/queue")
	queue.POST("/add", h.addSong)
	queue.POST("/remove", h.removeSong)
	queue.GET("/:code/wait", h.waitQueue)

	api.GET("/youtube/search", h.searchCatalog)
	api.GET("/debug/host_ip", h.hostIP)
}
