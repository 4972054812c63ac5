package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/recomma/hlcustody/cmd/hlcustody/internal/config"
	rlog "github.com/recomma/hlcustody/log"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	cfg := config.DefaultConfig()
	fs := config.NewConfigFlagSet(&cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fatal("parsing flags failed", err)
	}

	if err := config.LoadEnvFile(cfg.EnvFile); err != nil {
		fatal("loading env file failed", err)
	}

	if err := config.ApplyEnvDefaults(fs, &cfg); err != nil {
		fatal("invalid parameters", err)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid configuration", err)
	}

	args := fs.Args()
	if len(args) == 0 {
		usage(os.Stderr)
		os.Exit(2)
	}

	handler, logCloser := config.GetLogHandler(cfg)
	defer logCloser.Close()
	logger := slog.New(handler)
	slog.SetDefault(logger)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelDebug).Writer())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = rlog.ContextWithLogger(ctx, logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		logCloser.Close()
		fatal("startup failed", err)
	}

	err = run(ctx, a, args, os.Stdout)
	if cerr := a.Close(); cerr != nil {
		logger.Warn("shutdown", slog.String("error", cerr.Error()))
	}
	if err != nil {
		stop()
		logCloser.Close()
		fatal(args[0]+" failed", err)
	}
}
