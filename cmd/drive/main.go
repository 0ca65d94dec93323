package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ojdriver/internal/cli/repl"
	"ojdriver/internal/driver/client"
	"ojdriver/internal/driver/engine"
	"ojdriver/internal/idl"
	"ojdriver/internal/sandbox"
	"ojdriver/internal/session"
	"ojdriver/pkg/utils/logger"
)

const driverExitGrace = 2 * time.Second

type transport struct {
	io.Reader
	io.Writer
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	idlPath := flag.String("idl", "", "Interface definition file")
	bin := flag.String("bin", "", "Solution binary, substituted for {bin} in the sandbox command")
	driverCmd := flag.String("driver", "", "Override the driver command template")
	interactive := flag.Bool("repl", false, "Drive the session from an interactive console")
	transcripts := flag.String("transcripts", "", "Override the transcript directory")
	resultPath := flag.String("result", "", "Write the session outcome to this file instead of stderr")
	flag.Parse()

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 2
	}
	if *driverCmd != "" {
		cfg.Driver.Command = *driverCmd
	}
	if *transcripts != "" {
		cfg.Session.TranscriptDir = *transcripts
	}
	if *idlPath == "" || *bin == "" {
		fmt.Fprintln(os.Stderr, "usage: drive -idl <file> -bin <solution> [-repl | -driver <command>]")
		return 2
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	iface, err := loadInterface(*idlPath, cfg.Session.RequireValid)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	vars := map[string]string{"bin": *bin, "idl": *idlPath}
	args, err := sandbox.BuildCommand(cfg.Sandbox.Command, vars)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox command: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := session.NewRunner(session.Config{
		Spawner:       sandbox.NewSpawner(sandbox.Config{WorkDir: cfg.Sandbox.WorkDir, InitPath: cfg.Sandbox.InitPath}),
		Limits:        cfg.Sandbox.Limits,
		Timeout:       cfg.Session.Timeout,
		TranscriptDir: cfg.Session.TranscriptDir,
		MaxArraySize:  cfg.Session.MaxArraySize,
		MaxSteps:      cfg.Session.MaxSteps,
		RequireValid:  cfg.Session.RequireValid,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init session runner failed: %v\n", err)
		return 2
	}

	driver, finish, err := openDriver(ctx, cfg, iface, *interactive, vars)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start driver failed: %v\n", err)
		return 2
	}
	out, err := runner.Run(ctx, iface, sandbox.Command{Args: args, Env: cfg.Sandbox.Env, Stderr: os.Stderr}, driver)
	finish()
	if err != nil {
		logger.Error(ctx, "session could not run", zap.Error(err))
		fmt.Fprintf(os.Stderr, "session: %v\n", err)
		return 2
	}
	if err := writeOutcome(*resultPath, out); err != nil {
		fmt.Fprintf(os.Stderr, "write outcome failed: %v\n", err)
		return 2
	}
	if out.Verdict != session.VerdictOK {
		return 1
	}
	return 0
}

// loadInterface compiles the interface at path and prints its
// diagnostics. Data flow diagnostics only stop it when requireValid is set.
func loadInterface(path string, requireValid bool) (*idl.Interface, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interface: %w", err)
	}
	iface, err := idl.Compile(path, src)
	if err != nil {
		return nil, err
	}
	for _, d := range iface.Diagnostics() {
		fmt.Fprintf(os.Stderr, "%s:%s %s %s\n", path, d.Pos, d.Kind, d.Message)
	}
	if requireValid || !iface.Runnable() {
		if err := iface.Err(); err != nil {
			return nil, err
		}
	}
	return iface, nil
}

// openDriver returns the driver end of the session. The returned func is
// called once the session is over.
func openDriver(ctx context.Context, cfg *AppConfig, iface *idl.Interface, interactive bool, vars map[string]string) (engine.DriverTransport, func(), error) {
	switch {
	case interactive:
		return openConsole(ctx, cfg, iface)
	case cfg.Driver.Command != "":
		args, err := sandbox.BuildCommand(cfg.Driver.Command, vars)
		if err != nil {
			return nil, nil, err
		}
		// The driver is trusted and runs without limits.
		proc, err := sandbox.NewSpawner(sandbox.Config{}).Spawn(ctx, sandbox.Command{Args: args, Env: os.Environ(), Stderr: os.Stderr})
		if err != nil {
			return nil, nil, err
		}
		return transport{proc.Upward(), proc.Downward()}, func() { reap(proc) }, nil
	default:
		return transport{os.Stdin, os.Stdout}, func() {}, nil
	}
}

// reap waits for the driver to exit on its own, killing it after
// driverExitGrace.
func reap(proc sandbox.Process) {
	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(driverExitGrace):
		proc.Kill()
		<-done
	}
}

func openConsole(ctx context.Context, cfg *AppConfig, iface *idl.Interface) (engine.DriverTransport, func(), error) {
	in, closeInput, err := repl.OpenInput(os.Stdin, "drive> ", cfg.Driver.HistoryFile)
	if err != nil {
		return nil, nil, err
	}
	upR, upW := io.Pipe()
	downR, downW := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		console := repl.New(client.New(upR, downW), iface, os.Stdout)
		if err := console.Run(ctx, in); err != nil {
			logger.Warn(ctx, "console stopped", zap.Error(err))
		}
		downW.Close()
		_, _ = io.Copy(io.Discard, upR)
	}()
	finish := func() {
		upW.Close()
		downR.Close()
		<-done
		closeInput()
	}
	return transport{downR, upW}, finish, nil
}

func writeOutcome(path string, out *session.Outcome) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stderr.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
