// captureflow captures a frame on a fixed interval, uploads it to an image
// host and announces the stored image on a message bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-captureflow/pkg/capturepipeline"
	"github.com/illmade-knight/go-captureflow/pkg/config"
	"github.com/illmade-knight/go-captureflow/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var flags config.Flags
	flagSet := pflag.NewFlagSet("captureflow", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	bootLogger := newLogger(flags.Pretty, zerolog.InfoLevel)
	cfg, err := config.Load(flags.ConfigPath, bootLogger)
	if err != nil {
		return err
	}
	flags.Apply(flagSet, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := newLogger(flags.Pretty, level).With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if flags.Once {
		rep, err := app.driver.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info().Str("run_id", rep.RunID).Str("url", deref(rep.URL)).Msg("Single capture complete.")
		return nil
	}

	server, err := microservice.NewCaptureServer(cfg.HTTPPort, app.driver, app.store, cfg.Host.Timeout+30*time.Second, logger)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	scheduler, err := capturepipeline.NewScheduler(capturepipeline.SchedulerConfig{
		Interval: cfg.CaptureInterval(),
		Ready:    app.publisher.Ready,
	}, app.driver, logger)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	logger.Info().Str("topic", app.publisher.Topic()).Dur("interval", cfg.CaptureInterval()).Msg("captureflow running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Host.Timeout+10*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Scheduler did not stop cleanly.")
	}
	return server.Shutdown(shutdownCtx)
}

func newLogger(pretty bool, level zerolog.Level) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
