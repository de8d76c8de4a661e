package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lukaizhi5559/command-service-sub000/internal/actuator"
	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/executor"
	"github.com/lukaizhi5559/command-service-sub000/internal/gateway"
	"github.com/lukaizhi5559/command-service-sub000/internal/governance"
	"github.com/lukaizhi5559/command-service-sub000/internal/input"
	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
	"github.com/lukaizhi5559/command-service-sub000/internal/session"
	"github.com/lukaizhi5559/command-service-sub000/internal/skills"
	"github.com/lukaizhi5559/command-service-sub000/internal/store"
	"github.com/lukaizhi5559/command-service-sub000/internal/vision"
	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	observability.PrintBanner(cfg.App.Name, cfg.Gateway.Listen)
	logger := observability.NewLogger()

	audit, err := store.NewAuditStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("audit store: %v", err)
	}
	defer audit.Close()

	validator := governance.NewValidator(cfg.Security, logger)
	runner := actuator.NewRunner(cfg.Security.AllowDangerTools)

	capturer := display.NewScreenCapturer(cfg.Display)
	visionClient := vision.NewClient(cfg.Vision, logger)
	resolver := locator.NewResolver(capturer, visionClient, cfg.Vision.MinConfidence)
	injector := input.New()
	cache := vision.NewObservationCache(cfg.Vision.OCRCacheTTL)

	sessions := session.NewRegistry(cfg.Session, logger)
	defer sessions.CloseAll()

	performer := skills.NewPerformer(validator, runner, sessions, resolver, injector)
	steps := executor.NewStepExecutor(performer, capturer, visionClient, resolver, injector,
		cfg.Executor.MaxRetriesPerStep, cfg.Executor.RetryBackoff, logger).
		WithStepTimeout(cfg.Executor.DefaultStepTimeout)
	plans := executor.NewPlanExecutor(steps, cfg.Executor.DefaultPlanTimeout, logger)

	router := skills.NewRouter(validator, runner, sessions, resolver, injector,
		capturer, visionClient, cache, audit, logger,
		cfg.Security.ValidationEnabled, cfg.Security.AllowedCategories)

	gw := gateway.NewHTTPGateway(cfg.Gateway, router, plans, audit).
		WithPartialSuccessThreshold(cfg.Executor.PartialSuccessThreshold)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartReaper(ctx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.LogHeartbeat()
			}
		}
	}()

	go func() {
		if err := gw.Start(); err != nil {
			log.Printf("gateway: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	if err := gw.Stop(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
