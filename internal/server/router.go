package server

import (
	"github.com/gin-gonic/gin"

	"ojdriver/internal/server/middleware"
)

// RouterOptions tune the router.
type RouterOptions struct {
	// MaxBodyBytes bounds request bodies. Zero means unbounded.
	MaxBodyBytes int64
	// AccessLog enables the per-request log line.
	AccessLog bool
}

// NewRouter wires the routes of h.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContextMiddleware())
	if opts.AccessLog {
		router.Use(middleware.RequestLogger())
	}

	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1", middleware.BodyLimit(opts.MaxBodyBytes))
	api.POST("/compile", h.Compile)
	api.POST("/preflight", h.Preflight)
	return router
}
