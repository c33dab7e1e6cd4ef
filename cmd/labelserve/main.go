package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/labelserve/internal/app"
	"github.com/HMasataka/labelserve/internal/browser"
	"github.com/HMasataka/labelserve/internal/config"
	"github.com/HMasataka/labelserve/internal/server"
)

func main() {
	dir, err := config.ExecutableDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	code := run(ctx, dir, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run serves the directory dir until ctx is cancelled and returns the exit
// code: 0 after cancellation, 1 if the config is invalid or the port cannot
// be bound.
func run(ctx context.Context, dir string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	a := app.New(cfg, browser.NewCommandOpener(), stdout, logger)
	if err := a.Run(ctx); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			fmt.Fprintf(stderr, "cannot listen on %s: %v\n", bindErr.Addr, bindErr.Err)
			fmt.Fprintln(stderr, "Is another instance already running?")
			return 1
		}

		logger.Error("server error", slog.String("error", err.Error()))
		return 1
	}

	return 0
}
