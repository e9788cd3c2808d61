// Command querydemo keeps a set of queries bound against their sources and
// serves the cache's state over HTTP. SIGUSR1 or POST /focus simulates focus
// being regained.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info.")
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level).With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build query demo.")
	}
	if err := a.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start query demo.")
	}

	focusSignals := make(chan os.Signal, 1)
	signal.Notify(focusSignals, syscall.SIGUSR1)
	defer signal.Stop(focusSignals)

	for running := true; running; {
		select {
		case <-focusSignals:
			logger.Info().Msg("SIGUSR1 received, signalling focus regained.")
			a.focus.Regained()
		case <-ctx.Done():
			running = false
		}
	}

	logger.Info().Msg("Shutdown signal received.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Query demo shut down with errors.")
		return
	}
	logger.Info().Msg("Query demo stopped.")
}
