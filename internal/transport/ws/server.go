package ws

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"judged/internal/audit"
	"judged/internal/config"
	"judged/internal/logger"
	"judged/internal/registry"
	"judged/internal/sandbox"
	"judged/internal/session"
	"judged/internal/stagerunner"
)

var upgrader = websocket.Upgrader{
	// The judge session endpoint is reached only by trusted judge
	// platforms behind their own gateway, never directly by browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server hosts the /judge websocket endpoint and /healthz.
type Server struct {
	cfg      config.Config
	registry *registry.Registry
	prov     *sandbox.Provisioner
	runner   stagerunner.Runner
	audit    *audit.Sink

	running atomic.Int64
}

// New builds a Server bound to the engine's core components. sink may be
// nil; handleJudge passes it straight through to each Session.
func New(cfg config.Config, reg *registry.Registry, prov *sandbox.Provisioner, runner stagerunner.Runner, sink *audit.Sink) *Server {
	return &Server{cfg: cfg, registry: reg, prov: prov, runner: runner, audit: sink}
}

// Router builds the gin engine hosting /judge and /healthz.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/judge", s.handleJudge)
	router.GET("/healthz", s.handleHealthz)
	return router
}

func (s *Server) handleJudge(c *gin.Context) {
	if s.cfg.AuthSecret != "" {
		if err := verifyBearer(bearerToken(c.Request), s.cfg.AuthSecret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	s.running.Add(1)
	defer s.running.Add(-1)

	transport := newConnTransport(conn)
	sess := session.New(sessionID, transport, s.registry, s.prov, s.runner, s.cfg, s.audit)
	sess.Serve(context.Background())
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"running_sessions": s.running.Load(),
		"pool_available":   s.prov.PoolAvailable(),
		"pool_size":        s.prov.PoolSize(),
	})
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
