package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conf, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	pool, err := worker.NewPool(conf, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create worker pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	pool.Stop()
}
