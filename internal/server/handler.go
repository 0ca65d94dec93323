// Package server exposes interface compilation and preflight sessions over
// HTTP.
package server

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ojdriver/internal/cache"
	"ojdriver/internal/driver/engine"
	"ojdriver/internal/idl"
	appErr "ojdriver/pkg/errors"
	"ojdriver/pkg/utils/logger"
	"ojdriver/pkg/utils/response"
)

const defaultSourceName = "interface.idl"

// Handler serves the compile and preflight endpoints.
type Handler struct {
	compiler         *cache.Compiler
	engineOpts       engine.Options
	preflightTimeout time.Duration
}

// HandlerConfig holds handler dependencies and settings.
type HandlerConfig struct {
	Compiler         *cache.Compiler
	MaxArraySize     int64
	MaxSteps         int64
	MaxTrace         int
	RequireValid     bool
	PreflightTimeout time.Duration
}

// NewHandler creates a handler. A nil compiler gets a default cache.
func NewHandler(cfg HandlerConfig) *Handler {
	compiler := cfg.Compiler
	if compiler == nil {
		compiler = cache.NewCompiler(0, 0)
	}
	opts := engine.Options{
		MaxArraySize: cfg.MaxArraySize,
		MaxSteps:     cfg.MaxSteps,
		MaxTrace:     cfg.MaxTrace,
		RequireValid: cfg.RequireValid,
	}
	return &Handler{
		compiler:         compiler,
		engineOpts:       opts,
		preflightTimeout: cfg.PreflightTimeout,
	}
}

// CompileRequest defines the compile payload.
type CompileRequest struct {
	Name   string `json:"name"`
	Source string `json:"source" binding:"required"`
}

// CompileResponse defines the compile response payload.
type CompileResponse struct {
	Valid    bool          `json:"valid"`
	Metadata *idl.Metadata `json:"metadata"`
}

// PreflightRequest defines the preflight payload. Scripts are plain text,
// one token per line.
type PreflightRequest struct {
	Name          string  `json:"name"`
	Source        string  `json:"source" binding:"required"`
	DriverScript  string  `json:"driverScript" binding:"required"`
	SandboxScript *string `json:"sandboxScript"`
}

// PreflightResponse defines the preflight response payload. It is also sent
// along with the error of a failed session.
type PreflightResponse struct {
	End            string          `json:"end"`
	Trace          []int           `json:"trace"`
	TraceTruncated bool            `json:"traceTruncated"`
	Steps          int64           `json:"steps"`
	Counters       engine.Counters `json:"counters"`
}

// Compile handles interface compilation. An invalid interface is not an
// error: its diagnostics are in the metadata.
func (h *Handler) Compile(c *gin.Context) {
	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.BadRequest("Invalid request parameters"))
		return
	}
	iface, err := h.compiler.Compile(sourceName(req.Name), []byte(req.Source))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, CompileResponse{Valid: iface.Valid(), Metadata: iface.Metadata()})
}

// Preflight handles a session without a process.
func (h *Handler) Preflight(c *gin.Context) {
	var req PreflightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.BadRequest("Invalid request parameters"))
		return
	}
	iface, err := h.compiler.Compile(sourceName(req.Name), []byte(req.Source))
	if err != nil {
		response.Error(c, err)
		return
	}
	e, err := engine.New(iface, h.engineOpts)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.preflightTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.preflightTimeout)
		defer cancel()
	}
	var upward io.Reader
	if req.SandboxScript != nil {
		upward = strings.NewReader(*req.SandboxScript)
	}
	res, err := e.Preflight(ctx, strings.NewReader(req.DriverScript), upward)
	if err != nil {
		var partial interface{}
		if res != nil {
			partial = newPreflightResponse(res)
		}
		response.ErrorWithData(c, err, partial)
		return
	}
	logger.Debug(ctx, "preflight finished",
		zap.String("interface", iface.Name),
		zap.Int64("steps", res.Steps),
	)
	response.Success(c, newPreflightResponse(res))
}

func newPreflightResponse(res *engine.Result) PreflightResponse {
	return PreflightResponse{
		End:            res.End.String(),
		Trace:          res.Trace,
		TraceTruncated: res.TraceTruncated,
		Steps:          res.Steps,
		Counters:       res.Counters,
	}
}

// Health reports liveness along with the cache counters.
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok", "cache": h.compiler.Stats()})
}

func sourceName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return defaultSourceName
	}
	return name
}
