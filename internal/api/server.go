// Package api implements the REST API server for rconsole, exposing server
// profiles, live sessions, command execution, and history over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/config"
	"github.com/rconsole-project/rconsole/internal/db"
	"github.com/rconsole-project/rconsole/internal/events"
	intnet "github.com/rconsole-project/rconsole/internal/network"
	"github.com/rconsole-project/rconsole/internal/session"
	"github.com/rconsole-project/rconsole/internal/util"
)

// Server is the REST API server for rconsole.
type Server struct {
	cfg      *config.Config
	eventBus *events.Bus
	manager  *session.Manager
	history  *db.HistoryStore

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.Bus, manager *session.Manager, history *db.HistoryStore) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		history:  history,
	}
}

// Start initializes and starts the API server. It blocks until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplicationData().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR allows immediate rebinding after a restart.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter wires middleware and routes.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	apiGroup := router.Group("/api")
	apiGroup.Use(RequireToken(s.cfg))

	apiGroup.GET("/health", s.handleHealth)
	apiGroup.GET("/profiles", s.handleListProfiles)
	apiGroup.GET("/sessions", s.handleListSessions)
	apiGroup.POST("/sessions", s.handleOpenSession)
	apiGroup.DELETE("/sessions/:profile", s.handleCloseSession)
	apiGroup.POST("/sessions/:profile/execute", s.handleExecute)
	apiGroup.GET("/history", s.handleHistory)

	return router
}

// handleHealth reports process and host health.
func (s *Server) handleHealth(c *gin.Context) {
	info := util.GetSystemInfo()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"open_sessions": len(s.manager.List()),
		"system":        info,
	})
}

// handleListProfiles returns the configured profiles with passwords
// redacted.
func (s *Server) handleListProfiles(c *gin.Context) {
	type profileView struct {
		Name     string `json:"name"`
		Protocol string `json:"protocol"`
		Host     string `json:"host"`
		Port     uint16 `json:"port"`
		Debug    bool   `json:"debug"`
	}

	profiles := s.cfg.GetProfiles()
	out := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileView{
			Name:     p.Name,
			Protocol: string(p.ProtocolKind()),
			Host:     p.Host,
			Port:     p.Port,
			Debug:    p.Debug,
		})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

// handleListSessions returns the open sessions.
func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.manager.List()})
}

// handleOpenSession connects a profile.
func (s *Server) handleOpenSession(c *gin.Context) {
	var req struct {
		Profile string `json:"profile" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.manager.Open(c.Request.Context(), req.Profile); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": req.Profile, "status": "authenticated"})
}

// handleCloseSession disconnects a profile's session.
func (s *Server) handleCloseSession(c *gin.Context) {
	profile := c.Param("profile")
	if err := s.manager.Close(profile); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile, "status": "disconnected"})
}

// handleExecute runs a command on an open session.
func (s *Server) handleExecute(c *gin.Context) {
	profile := c.Param("profile")

	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := s.manager.Execute(c.Request.Context(), profile, req.Command)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile, "response": response})
}

// handleHistory returns recent command history.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store is disabled"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	var (
		entries []db.HistoryEntry
		err     error
	)
	if profile := c.Query("profile"); profile != "" {
		entries, err = s.history.RecentForProfile(profile, limit)
	} else {
		entries, err = s.history.Recent(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}
