// Package server exposes the bridge engine over HTTP: REST routes for
// session management and a duplex websocket carrying submit requests inbound
// and the event stream outbound.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/bridgego-dev/bridgego/internal/engine"
	"github.com/bridgego-dev/bridgego/internal/observability"
	"github.com/bridgego-dev/bridgego/internal/pipeline"
	"github.com/bridgego-dev/bridgego/internal/session"
	"github.com/bridgego-dev/bridgego/pkg/config"
)

// Version is the reported service version.
const Version = "2.0.0"

// Server wires the engine, session manager, and transport together.
type Server struct {
	cfg      *config.Config
	engine   *engine.Engine
	runs     *engine.Runs
	sessions *session.Manager

	router     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	janitor    *cron.Cron
	startTime  time.Time
}

// New creates a server over the given engine and session manager.
func New(cfg *config.Config, eng *engine.Engine, sessions *session.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowWebSockets = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:      cfg,
		engine:   eng,
		runs:     engine.NewRuns(),
		sessions: sessions,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		janitor:   cron.New(),
		startTime: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	api := s.router.Group("/api")
	sessions := api.Group("/sessions")
	{
		sessions.POST("", s.handleCreateSession)
		sessions.GET("", s.handleListSessions)
		sessions.GET("/:id", s.handleGetSession)
		sessions.DELETE("/:id", s.handleDeleteSession)
		sessions.PUT("/:id/pipeline", s.handleUpdatePipeline)
	}

	s.router.GET("/ws/bridge", s.handleWS)
}

// Router exposes the HTTP handler, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server and the session janitor. It blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	if ttl := s.cfg.IdleTTL(); ttl > 0 {
		_, err := s.janitor.AddFunc(s.cfg.JanitorSchedule, func() {
			n, err := s.sessions.PurgeIdle(context.Background(), ttl)
			if err != nil {
				log.Printf("session janitor: %v", err)
				return
			}
			if n > 0 {
				log.Printf("session janitor: purged %d idle sessions", n)
			}
		})
		if err != nil {
			return fmt.Errorf("janitor schedule: %w", err)
		}
		s.janitor.Start()
	}

	log.Printf("Bridge server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the janitor and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.janitor.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "online",
		"service":  "Bridge Multi-Agent Backend",
		"version":  Version,
		"protocol": "Iterative Semantic Refinement",
		"agents":   s.agentIDs(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime":         time.Since(s.startTime).String(),
		"max_iterations": s.cfg.MaxIterations,
		"timeout":        s.cfg.SubprocessTimeout,
		"agents":         s.agentIDs(),
	})
}

func (s *Server) agentIDs() []string {
	ids := make([]string, 0, len(s.cfg.Agents))
	for id := range s.cfg.Agents {
		ids = append(ids, id)
	}
	return ids
}

type createSessionRequest struct {
	Name     string               `json:"name"`
	Pipeline *pipeline.Definition `json:"pipeline,omitempty"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def := pipeline.Default()
	if req.Pipeline != nil {
		def = *req.Pipeline
		if err := def.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	sess, err := s.sessions.Create(c.Request.Context(), req.Name, def)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	list, err := s.sessions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err == session.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdatePipeline(c *gin.Context) {
	var def pipeline.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.sessions.UpdatePipeline(c.Request.Context(), c.Param("id"), def)
	if err == session.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}
