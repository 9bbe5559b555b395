package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/propstrack/maintenance-server/internal/api"
	"github.com/propstrack/maintenance-server/internal/app"
	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/config"
	"github.com/propstrack/maintenance-server/internal/counters"
	"github.com/propstrack/maintenance-server/internal/scheduler"
	"github.com/propstrack/maintenance-server/internal/server"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/maintenance-server.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	log.Info().Str("storage", cfg.Storage.Type).Str("blob", cfg.Blob.Type).Msg("Connected to backends")

	// Automatic cleanup passes and the counter sweep
	sched := scheduler.New(a.Metrics, log.Logger, 30*time.Minute)
	for job, spec := range map[string]string{
		cleanup.JobProcessed:    cfg.Cleanup.Schedules.Processed,
		cleanup.JobExpiredCodes: cfg.Cleanup.Schedules.ExpiredCodes,
		cleanup.JobFailed:       cfg.Cleanup.Schedules.Failed,
	} {
		if err := sched.Add(job, spec, a.Jobs.Func(job)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule cleanup job")
		}
	}
	if err := sched.Add(counters.JobSweep, cfg.Quota.SweepSchedule, a.Maintainer.Sweep); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule counter sweep")
	}
	sched.Start()

	apiServer := api.NewRESTServer(cfg, a.Services())

	// WaitGroup for services
	var wg sync.WaitGroup

	// Start API server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.ListenAndServe(cfg.APIAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Event hooks
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.ClientName),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				ev := log.Error().Err(err)
				if sub != nil {
					ev = ev.Str("subject", sub.Subject)
				}
				ev.Msg("NATS error")
			}),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Msg("Connected to NATS")

		js, err := jetstream.New(nc)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create JetStream context")
		}

		handler := server.NewEventHandler(a.Enforcer, a.Maintainer, nc, log.Logger)
		subscriber := server.NewNATSSubscriber(js, handler, nc, server.SubscriberConfig{
			Stream:     cfg.NATS.Stream,
			Durable:    cfg.NATS.Durable,
			MaxDeliver: cfg.NATS.MaxDeliver,
			AckWait:    cfg.NATS.AckWait,
			RetryDelay: cfg.NATS.RetryDelay,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("NATS subscriber stopped")
			}
		}()
	} else {
		log.Warn().Msg("NATS not configured, quota and counter hooks are disabled")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()
	sched.Stop()

	// Shutdown API server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Maintenance server stopped")
}
