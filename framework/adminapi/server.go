// Package adminapi exposes a small gin HTTP surface over an
// APIConnection's runtime stats, alongside generic health/readiness
// checks and request tracing middleware.
package adminapi

import (
	"github.com/gin-gonic/gin"

	"github.com/akriventsev/amqpgate/framework/observability"
	"github.com/akriventsev/amqpgate/framework/rpcmutex"
)

// StatsProvider is satisfied by *rpcmutex.APIConnection.
type StatsProvider interface {
	GetStats() rpcmutex.ConnectionStats
}

// Server wraps a gin.Engine exposing /stats, /healthz, and /readyz.
type Server struct {
	engine *gin.Engine
	debug  *observability.DebugManager
	conn   StatsProvider
}

// NewServer builds the admin HTTP surface for conn. serviceName is
// used to label traced requests.
func NewServer(conn StatsProvider, serviceName string) *Server {
	debug := observability.NewDebugManager(observability.DefaultDebugConfig())

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(observability.HTTPTracingMiddleware(serviceName))
	engine.Use(observability.CorrelationIDMiddleware())

	s := &Server{engine: engine, debug: debug, conn: conn}

	engine.GET("/healthz", debug.HealthCheckHandler())
	engine.GET("/readyz", debug.ReadinessCheckHandler())
	engine.GET("/stats", s.handleStats)

	return s
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.conn.GetStats()
	c.JSON(200, gin.H{
		"server_endpoint_count": stats.ServerEndpointCount,
		"client_endpoint_count": stats.ClientEndpointCount,
		"in_flight_count":       stats.InFlightCount,
	})
}

// Handler returns the underlying gin engine, e.g. for http.ListenAndServe.
func (s *Server) Handler() *gin.Engine {
	return s.engine
}
