// Package session runs a driver and a sandboxed solution through one
// engine session and turns the result into a verdict.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ojdriver/internal/driver/channel"
	"ojdriver/internal/driver/engine"
	"ojdriver/internal/idl"
	"ojdriver/internal/sandbox"
	appErr "ojdriver/pkg/errors"
	"ojdriver/pkg/utils/contextkey"
	"ojdriver/pkg/utils/logger"
)

const defaultQueueWait = 2 * time.Second

// Config holds runner dependencies and settings.
type Config struct {
	Spawner sandbox.Spawner
	// Limits apply to every command for the limits it leaves at zero.
	Limits sandbox.Limits
	// Timeout bounds a whole session. Zero means no bound.
	Timeout time.Duration
	// TranscriptDir, when set, receives zstd transcripts of both channels.
	TranscriptDir string
	MaxArraySize  int64
	// MaxSteps bounds the node visits of a session. Zero takes the engine
	// default.
	MaxSteps int64
	// RequireValid refuses interfaces with any diagnostic.
	RequireValid bool
	PoolSize     int
	// QueueWait is how long Run waits for a free slot.
	QueueWait time.Duration
}

// Timestamps captures session lifecycle timestamps in unix milliseconds.
type Timestamps struct {
	StartedAt  int64 `json:"startedAt"`
	FinishedAt int64 `json:"finishedAt"`
}

// Transcripts names the files a session was recorded to.
type Transcripts struct {
	Driver  string `json:"driver"`
	Sandbox string `json:"sandbox"`
}

// Outcome is the unified result of a session.
type Outcome struct {
	SessionID    string          `json:"sessionId"`
	Verdict      Verdict         `json:"verdict"`
	End          string          `json:"end"`
	Counters     engine.Counters `json:"counters"`
	Steps        int64           `json:"steps"`
	TimeMs       int64           `json:"timeMs"`
	MemoryKB     int64           `json:"memoryKB"`
	ExitCode     int             `json:"exitCode"`
	Signal       string          `json:"signal,omitempty"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Transcripts  *Transcripts    `json:"transcripts,omitempty"`
	Timestamps   Timestamps      `json:"timestamps"`

	// Result is the raw engine result.
	Result *engine.Result `json:"-"`
}

// Runner runs sessions on a bounded pool of slots.
type Runner struct {
	spawner       sandbox.Spawner
	limits        sandbox.Limits
	timeout       time.Duration
	transcriptDir string
	maxArraySize  int64
	maxSteps      int64
	requireValid  bool
	queueWait     time.Duration
	sem           chan struct{}
}

// NewRunner creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	queueWait := cfg.QueueWait
	if queueWait <= 0 {
		queueWait = defaultQueueWait
	}
	return &Runner{
		spawner:       cfg.Spawner,
		limits:        cfg.Limits,
		timeout:       cfg.Timeout,
		transcriptDir: cfg.TranscriptDir,
		maxArraySize:  cfg.MaxArraySize,
		maxSteps:      cfg.MaxSteps,
		requireValid:  cfg.RequireValid,
		queueWait:     queueWait,
		sem:           make(chan struct{}, poolSize),
	}, nil
}

// Run spawns cmd and drives it through iface with requests from driver.
// Failures of the session itself are reported in the outcome. The error is
// set only when no session could take place.
func (r *Runner) Run(ctx context.Context, iface *idl.Interface, cmd sandbox.Command, driver engine.DriverTransport) (*Outcome, error) {
	if driver == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("driver transport is required")
	}
	id := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.SessionID, id)

	if err := r.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer r.releaseSlot()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out := &Outcome{SessionID: id, Timestamps: Timestamps{StartedAt: time.Now().UnixMilli()}}
	opts := engine.Options{MaxArraySize: r.maxArraySize, MaxSteps: r.maxSteps, RequireValid: r.requireValid}
	closeTranscripts, err := r.openTranscripts(id, &opts, out)
	if err != nil {
		return nil, err
	}
	defer closeTranscripts(ctx)

	eng, err := engine.New(iface, opts)
	if err != nil {
		return nil, err
	}
	cmd.Limits = sandbox.MergeLimits(r.limits, cmd.Limits)
	logger.Info(ctx, "session started",
		zap.String("interface", iface.Name),
		zap.Strings("args", cmd.Args),
	)
	proc, err := r.spawner.Spawn(ctx, cmd)
	if err != nil {
		logger.Error(ctx, "spawn solution failed", zap.Error(err))
		return nil, err
	}

	res, runErr := eng.Run(ctx, driver, proc)
	if runErr != nil {
		proc.Kill()
	}
	proc.Wait()
	st := proc.Status()

	out.Result = res
	out.End = res.End.String()
	out.Counters = res.Counters
	out.Steps = res.Steps
	out.TimeMs = st.Usage.TimeMs
	out.MemoryKB = max(st.Usage.PeakKB, res.Usage.PeakKB)
	out.ExitCode = st.ExitCode
	out.Signal = st.Signal
	out.Verdict = Classify(runErr, st, cmd.Limits)
	out.Timestamps.FinishedAt = time.Now().UnixMilli()
	if runErr != nil {
		out.ErrorCode = int(appErr.GetCode(runErr))
		out.ErrorMessage = runErr.Error()
		logger.Error(ctx, "session failed",
			zap.String("verdict", string(out.Verdict)),
			zap.Int("code", out.ErrorCode),
			zap.Error(runErr),
		)
		return out, nil
	}
	logger.Info(ctx, "session finished",
		zap.String("verdict", string(out.Verdict)),
		zap.String("end", out.End),
		zap.Int64("timeMs", out.TimeMs),
		zap.Int64("memoryKB", out.MemoryKB),
		zap.Int("calls", out.Counters.Calls),
	)
	return out, nil
}

func (r *Runner) acquireSlot(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.queueWait):
		return appErr.New(appErr.TooManyRequests).WithMessage("session pool is full")
	}
}

func (r *Runner) releaseSlot() {
	select {
	case <-r.sem:
	default:
	}
}

// openTranscripts attaches recorders to opts when a transcript directory is
// configured. The returned func finishes both files.
func (r *Runner) openTranscripts(id string, opts *engine.Options, out *Outcome) (func(context.Context), error) {
	if r.transcriptDir == "" {
		return func(context.Context) {}, nil
	}
	if err := os.MkdirAll(r.transcriptDir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create transcript dir failed")
	}
	paths := &Transcripts{
		Driver:  filepath.Join(r.transcriptDir, id+".driver.zst"),
		Sandbox: filepath.Join(r.transcriptDir, id+".sandbox.zst"),
	}
	var files []*os.File
	var recs []*channel.Recorder
	closeAll := func(ctx context.Context) {
		for _, rec := range recs {
			if err := rec.Close(); err != nil {
				logger.Warn(ctx, "finish transcript failed", zap.Error(err))
			}
		}
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, p := range []struct {
		path string
		rec  **channel.Recorder
	}{
		{paths.Driver, &opts.DriverTranscript},
		{paths.Sandbox, &opts.SandboxTranscript},
	} {
		f, err := os.Create(p.path)
		if err != nil {
			closeAll(context.Background())
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "create transcript failed")
		}
		files = append(files, f)
		rec, err := channel.NewRecorder(f)
		if err != nil {
			closeAll(context.Background())
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "start transcript failed")
		}
		recs = append(recs, rec)
		*p.rec = rec
	}
	out.Transcripts = paths
	return closeAll, nil
}
