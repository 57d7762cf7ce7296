package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/ZangenehTr/replit-meta-lingua-sub014/internal/adapters/http"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/adapters/rtc"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/admission"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/orch"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/rooms"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/session"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/config"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/ice"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	registry := rooms.NewRegistry(cfg.DefaultCapacity, cfg.AutoCreateRooms)
	iceProvider := ice.NewProvider(cfg.IceConfigURL, cfg.IceServers, 5*time.Second)

	var admissionClient *admission.Client
	if cfg.AdmissionURL != "" {
		admissionClient = admission.NewClient(cfg.AdmissionURL, 5*time.Second)
	}

	orchestrator := &orch.Orchestrator{
		Registry:     registry,
		Ice:          iceProvider,
		Admission:    admissionClient,
		NewTransport: rtc.NewTransport,
		Devices:      rtc.NewSyntheticDevices(),
		SessionCfg: session.Config{
			NegotiationTimeout: cfg.NegotiationTimeout,
			RetryBudget:        cfg.RetryBudget,
			RetryBackoff:       cfg.RetryBackoff,
			DeviceTimeout:      cfg.DeviceTimeout,
		},
	}
	orchestrator.Start(ctx)

	r := router.SetupRouter(ctx, cfg, orchestrator)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("live session server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
