package gateway

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hyperbola/sessiond/pkg/lifecycle"
	"github.com/hyperbola/sessiond/pkg/metrics"
	"github.com/hyperbola/sessiond/pkg/registry"
	"github.com/hyperbola/sessiond/pkg/store"
)

// Config carries the gateway's own settings.
type Config struct {
	APIKey  string
	Version string
}

// Server is the HTTP front of the control plane: authentication, rate
// limiting, request parsing, and the mapping from engine errors to
// status codes.
type Server struct {
	engine *lifecycle.Engine
	reg    *registry.Registry
	store  store.Store
	cfg    Config
	router *gin.Engine
}

// New assembles the router with all endpoints registered.
func New(engine *lifecycle.Engine, reg *registry.Registry, st store.Store, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: engine,
		reg:    reg,
		store:  st,
		cfg:    cfg,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	// Unauthenticated, unlimited.
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/metrics/prometheus", gin.WrapH(metrics.Handler()))

	auth := s.requireAPIKey
	minute := time.Minute

	r.POST("/session/create", auth, s.rateLimit("create", 100, minute), s.handleCreate)
	r.POST("/session/:uuid/wake", auth, s.rateLimit("wake", 50, minute), s.handleWake)
	r.POST("/session/:uuid/sleep", auth, s.rateLimit("sleep", 50, minute), s.handleSleep)
	r.POST("/session/:uuid/scale", auth, s.rateLimit("scale", 50, minute), s.handleScale)
	r.POST("/session/:uuid/chat", auth, s.rateLimit("chat", 100, minute), s.handleChat)
	r.GET("/session/:uuid/status", auth, s.rateLimit("status", 200, minute), s.handleStatus)
	r.DELETE("/session/:uuid", auth, s.rateLimit("delete", 50, minute), s.handleDelete)
	r.GET("/sessions", auth, s.rateLimit("sessions", 200, minute), s.handleSessions)

	s.router = r
	return s
}

// Router exposes the assembled handler, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
