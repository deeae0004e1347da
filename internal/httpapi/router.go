// Package httpapi exposes a host over HTTP.
//
// The caller of every state-changing request is taken from the
// X-Stablecall-Caller header; requests without it are rejected.
//
//	GET  /health
//	GET  /metrics
//	POST /v1/modules                       deploy a module spec
//	GET  /v1/modules                       list deployed modules
//	POST /v1/proxies                       deploy a proxy
//	GET  /v1/proxies/:address              inspect a proxy
//	POST /v1/proxies/:address/call         forward a call
//	POST /v1/proxies/:address/upgrade      upgradeTo
//	POST /v1/proxies/:address/owner        transferOwnership
//	GET  /v1/proxies/:address/events       audit log of one proxy
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/stablecall/internal/host"
)

// CallerHeader names the caller of a request.
const CallerHeader = "X-Stablecall-Caller"

// NewRouter builds the gin engine serving h.
func NewRouter(h *host.Host) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	handlers := &Handlers{host: h}

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(h.Metrics().Handler()))

	v1 := router.Group("/v1")
	v1.POST("/modules", handlers.DeployModule)
	v1.GET("/modules", handlers.ListModules)
	v1.POST("/proxies", handlers.DeployProxy)
	v1.GET("/proxies/:address", handlers.Inspect)
	v1.POST("/proxies/:address/call", handlers.Call)
	v1.POST("/proxies/:address/upgrade", handlers.Upgrade)
	v1.POST("/proxies/:address/owner", handlers.TransferOwnership)
	v1.GET("/proxies/:address/events", handlers.Events)

	return router
}

// requestLogger logs one line per request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
