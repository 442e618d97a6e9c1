package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/config"
	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/monitoring"
	"github.com/Fenveireth/lightspark/internal/script"
	"github.com/Fenveireth/lightspark/internal/security"
	"github.com/Fenveireth/lightspark/internal/server"
	"github.com/Fenveireth/lightspark/internal/session"
	"github.com/Fenveireth/lightspark/internal/tracing"
	"github.com/Fenveireth/lightspark/internal/transport"
	"github.com/Fenveireth/lightspark/internal/trust"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
	"github.com/Fenveireth/lightspark/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Settings file (YAML, TOML or JSON)")
	addr := flag.String("addr", "", "Listen address override (host:port)")
	scriptPath := flag.String("script", "", "Run a policy script instead of serving and exit")
	scriptOrigin := flag.String("origin", "", "Origin URL for -script runs")
	flag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		host, port, err := net.SplitHostPort(*addr)
		if err != nil {
			log.Fatalf("Invalid -addr %q: %v", *addr, err)
		}
		cfg.Server.Host, cfg.Server.Port = host, port
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("policyd", logger.Logger)

	trustStore := trust.NewStore(cfg.Trust.Dirs, logger.Component("trust"))
	if err := trustStore.Load(); err != nil {
		logger.Warn("trust store load failed", zap.Error(err))
	} else if len(cfg.Trust.Dirs) > 0 {
		logger.Info("trust store loaded",
			zap.Strings("dirs", cfg.Trust.Dirs),
			zap.Int("entries", trustStore.Len()))
	}

	registry := transport.NewRegistry()
	registry.Register(transport.NewHTTP(transport.HTTPConfig{
		Timeout:      cfg.Engine.FetchTimeout,
		MaxRedirects: cfg.Engine.MaxRedirects,
		RetryMax:     cfg.Engine.RetryMax,
		RPS:          float64(cfg.Engine.FetchRPS),
		Burst:        cfg.Engine.FetchBurst,
		UserAgent:    cfg.Engine.UserAgent,
	}))
	registry.Register(transport.NewFTP(transport.FTPConfig{
		Timeout: cfg.Engine.FTPTimeout,
	}))
	opener := transport.NewBreaker(registry, transport.BreakerConfig{
		FailureThreshold: cfg.Engine.BreakerFailures,
		ResetTimeout:     cfg.Engine.BreakerReset,
	})

	hub := ws.NewHub(logger.Component("events"), metrics)

	defaultLocal, err := security.ParseSandbox(cfg.Engine.DefaultLocalSandbox)
	if err != nil {
		logger.Warn("unknown default local sandbox, using localWithFile",
			zap.String("value", cfg.Engine.DefaultLocalSandbox))
		defaultLocal = security.SandboxLocalWithFile
	}

	builder := func(origin urlinfo.Info, sandbox security.Sandbox) *security.Manager {
		if sandbox == 0 && origin.IsLocal() {
			sandbox = trustStore.Classify(origin, defaultLocal)
		}
		return security.NewManager(origin, security.Options{
			Sandbox:    sandbox,
			Fetch:      opener,
			Logger:     logger.Component("security"),
			Metrics:    metrics,
			Events:     hub,
			BufferSize: cfg.Engine.BufferSize,
		})
	}

	if *scriptPath != "" {
		if err := runScript(*scriptPath, *scriptOrigin, builder); err != nil {
			logger.Fatal("script run failed", zap.Error(err))
		}
		return
	}

	sessions := session.NewManager(session.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, builder, logger.Component("session"), metrics)

	srv := server.New(server.Options{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Sessions: sessions,
		Trust:    trustStore,
		Hub:      hub,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("signal received, shutting down", zap.Stringer("signal", sig))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}

// runScript executes a policy script against a one-off session engine,
// printing captured console output to stdout.
func runScript(path, origin string, builder session.Builder) error {
	if origin == "" {
		return fmt.Errorf("-script requires -origin")
	}
	o, err := urlinfo.Parse(origin)
	if err != nil {
		return fmt.Errorf("bad -origin: %w", err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	engine := script.New(builder(o, 0), script.DefaultConfig())
	defer engine.Close()

	result, execErr := engine.Execute(context.Background(), string(src))
	for _, line := range result.Console {
		fmt.Printf("[%s] %s\n", line.Level, line.Message)
	}
	if execErr != nil {
		return execErr
	}
	if result.Value != nil {
		fmt.Println(result.Value)
	}
	return nil
}
