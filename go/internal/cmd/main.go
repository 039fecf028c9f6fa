package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", config.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("countdown server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, config *Config) error {
	services, err := setupServices(ctx, config)
	if err != nil {
		return err
	}
	defer services.Close()

	server := setupServer(config, services)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return services.Gateway.Start(ctx)
	})

	if services.Refresher != nil {
		g.Go(func() error {
			return services.Refresher.Run(ctx)
		})
	}

	if services.Consumer != nil {
		g.Go(func() error {
			return services.Consumer.Start(ctx)
		})
	}

	g.Go(func() error {
		log.Info().
			Str("addr", server.Addr).
			Dur("stale_time", config.Query.StaleTime).
			Bool("background_refetch", config.Query.BackgroundRefetch).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
