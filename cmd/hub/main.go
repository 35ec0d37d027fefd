package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"cocalc-hub/internal/app"
	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	opts, err := config.Parse(os.Args[1:], env)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Usage: hub [flags]\n\n%s", config.Usage(env))
		return nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage: hub [flags]\n\n%s\n", config.Usage(env))
		return err
	}

	logger, err := logging.New(logging.Options{Level: opts.LogLevel, File: opts.LogFile})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, opts, logger)
}
