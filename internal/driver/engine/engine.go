// Package engine drives a compiled interface as a live protocol between a
// driver and a sandboxed process.
package engine

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"ojdriver/internal/driver/channel"
	"ojdriver/internal/idl"
	"ojdriver/internal/idl/compile"
	"ojdriver/internal/sandbox"
	appErr "ojdriver/pkg/errors"
	"ojdriver/pkg/utils/logger"
)

// Defaults for the Options left unset.
const (
	DefaultMaxArraySize = 1 << 20
	DefaultMaxSteps     = 1 << 26
	DefaultMaxTrace     = 1 << 16
)

// maxDriverLine bounds one line of the driver channel.
const maxDriverLine = 4096

// Options tune an Engine.
type Options struct {
	// MaxArraySize bounds every array size, whether allocated or sent by
	// the driver.
	MaxArraySize int64
	// MaxSteps bounds the node visits of one session. A session going past
	// it fails with StepLimitExceeded.
	MaxSteps int64
	// MaxTrace bounds Result.Trace. Visits past it are counted, not
	// recorded.
	MaxTrace int
	// RequireValid refuses interfaces with any diagnostic. Otherwise an
	// interface runs whenever it compiled.
	RequireValid bool
	// SandboxTranscript, when set, records the upward lines of Run. The
	// recording replays as the sandbox script of Preflight.
	SandboxTranscript *channel.Recorder
	// DriverTranscript, when set, records the driver requests of Run. The
	// recording replays as the driver script of Preflight.
	DriverTranscript *channel.Recorder
}

// EndReason tells how a session ended.
type EndReason int8

const (
	EndNone EndReason = iota
	// EndExit is an explicit exit statement.
	EndExit
	// EndMainEnd is the exit implied by the end of main.
	EndMainEnd
	// EndStop is a stop request from the driver.
	EndStop
)

func (r EndReason) String() string {
	switch r {
	case EndExit:
		return "exit"
	case EndMainEnd:
		return "main_end"
	case EndStop:
		return "stop"
	default:
		return "none"
	}
}

// Counters summarize the traffic of a session.
type Counters struct {
	Requests     int `json:"requests"`
	Calls        int `json:"calls"`
	Callbacks    int `json:"callbacks"`
	DriverLines  int `json:"driverLines"`
	SandboxLines int `json:"sandboxLines"`
}

// Result is what a session leaves behind. It is filled as far as the
// session got, also when it failed.
type Result struct {
	// Trace lists the IDs of the first visited nodes in visit order.
	Trace []int
	// TraceTruncated is set when more nodes were visited than recorded.
	TraceTruncated bool
	Steps          int64
	Counters       Counters
	End            EndReason
	// Usage is the last resource usage reported to the driver.
	Usage    sandbox.Usage
	Duration time.Duration
}

// DriverTransport is the engine's end of the driver channel.
type DriverTransport interface {
	io.Reader
	io.Writer
}

// Engine runs sessions of one interface. It holds no session state and is
// safe for concurrent use.
type Engine struct {
	iface *idl.Interface
	prog  *compile.Program
	opts  Options
}

// New returns an engine for iface, which must have compiled. With
// RequireValid it must have no diagnostics at all.
func New(iface *idl.Interface, opts Options) (*Engine, error) {
	if iface == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("interface is required")
	}
	if opts.RequireValid || !iface.Runnable() {
		if err := iface.Err(); err != nil {
			return nil, err
		}
	}
	if opts.MaxArraySize <= 0 {
		opts.MaxArraySize = DefaultMaxArraySize
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxTrace <= 0 {
		opts.MaxTrace = DefaultMaxTrace
	}
	return &Engine{iface: iface, prog: iface.Program, opts: opts}, nil
}

// Interface returns the interface the engine runs.
func (e *Engine) Interface() *idl.Interface { return e.iface }

// Run drives process through one session, taking requests from driver.
// The caller owns process and must Wait for it afterwards.
func (e *Engine) Run(ctx context.Context, driver DriverTransport, process sandbox.Process) (*Result, error) {
	drv := newDriverConn(driver, driver, e.opts.DriverTranscript)
	sb := newPipeChannel(process, e.opts.SandboxTranscript)
	return e.session(ctx, "run", drv, sb)
}

// Preflight walks the interface without a process. Requests come from
// driverScript. Upward lines come from sandboxScript when it is not nil,
// and are made up otherwise: zeros, or the values already known. Both
// scripts may be zstd transcripts. Nothing is written anywhere.
func (e *Engine) Preflight(ctx context.Context, driverScript, sandboxScript io.Reader) (*Result, error) {
	if driverScript == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("driver script is required")
	}
	requests, err := channel.OpenTranscript(driverScript)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "open driver script")
	}
	defer requests.Close()

	var sb sandboxChannel = &syntheticChannel{}
	if sandboxScript != nil {
		upward, err := channel.OpenTranscript(sandboxScript)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidParams, "open sandbox script")
		}
		defer upward.Close()
		sb = newScriptChannel(upward)
	}
	drv := newDriverConn(requests, io.Discard, nil)
	return e.session(ctx, "preflight", drv, sb)
}

func (e *Engine) session(ctx context.Context, mode string, drv *driverConn, sb sandboxChannel) (*Result, error) {
	start := time.Now()
	x := &executor{
		ctx:      ctx,
		prog:     e.prog,
		max:      e.opts.MaxArraySize,
		maxSteps: e.opts.MaxSteps,
		maxTrace: e.opts.MaxTrace,
		drv:      drv,
		sb:       sb,
		res:      &Result{Trace: make([]int, 0, min(e.prog.NodeCount, e.opts.MaxTrace))},
	}
	logger.Debug(ctx, "engine session started", zap.String("mode", mode), zap.String("interface", e.iface.Name))
	var err error
	if e.iface.Valid() {
		err = x.run()
	} else {
		err = x.guardedRun()
	}
	res := x.res
	res.Duration = time.Since(start)
	res.Counters.DriverLines = drv.lines()
	res.Counters.SandboxLines = sb.lines()
	if err != nil {
		logger.Debug(ctx, "engine session failed",
			zap.String("mode", mode),
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return res, err
	}
	logger.Debug(ctx, "engine session finished",
		zap.String("mode", mode),
		zap.String("end", res.End.String()),
		zap.Int("requests", res.Counters.Requests),
		zap.Int64("steps", res.Steps),
	)
	return res, nil
}
