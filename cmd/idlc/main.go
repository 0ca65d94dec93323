// Command idlc checks an interface definition and prints its metadata.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"ojdriver/internal/idl"
	appErr "ojdriver/pkg/errors"
	"ojdriver/pkg/utils/logger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("idlc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("o", "", "Write metadata to this file instead of stdout")
	logLevel := fs.String("log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: idlc [-o metadata.json] <file.idl>")
		return 2
	}
	path := fs.Arg(0)

	if err := logger.Init(logger.Config{Level: *logLevel, Format: "console", OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(stderr, "init logger failed: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "idlc: %v\n", err)
		return 2
	}
	iface, err := idl.Compile(path, src)
	if err != nil {
		logger.Debug(ctx, "compile failed", zap.String("file", path), zap.Error(err))
		printError(stderr, path, err)
		return 1
	}
	for _, d := range iface.Diagnostics() {
		fmt.Fprintf(stderr, "%s:%s %s %s\n", path, d.Pos, d.Kind, d.Message)
	}

	data, err := iface.Metadata().JSON()
	if err != nil {
		fmt.Fprintf(stderr, "idlc: encode metadata: %v\n", err)
		return 2
	}
	data = append(data, '\n')
	if *output == "" {
		_, err = stdout.Write(data)
	} else {
		err = os.WriteFile(*output, data, 0644)
	}
	if err != nil {
		fmt.Fprintf(stderr, "idlc: write metadata: %v\n", err)
		return 2
	}
	logger.Debug(ctx, "interface compiled", zap.String("file", path), zap.Bool("valid", iface.Valid()))
	if !iface.Valid() {
		return 1
	}
	return 0
}

// printError prints a compile failure. Parse errors already carry their
// position.
func printError(w io.Writer, path string, err error) {
	if appErr.Is(err, appErr.ParseError) {
		fmt.Fprintf(w, "%v\n", err)
		return
	}
	fmt.Fprintf(w, "%s: %v\n", path, err)
}
