package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qwery/backend/internal/agent"
	"github.com/qwery/backend/internal/chat"
	"github.com/qwery/backend/internal/config"
	"github.com/qwery/backend/internal/history"
	"github.com/qwery/backend/internal/stats"
	"github.com/qwery/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	demoMode := flag.Bool("demo", false, "Answer prompts with a canned demo handler")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zapCfg := zap.NewProductionConfig()
	if *debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := chat.NewStore(cfg.Session.MaxChats, cfg.Session.MaxHistory, cfg.Session.InactivityTimeout)
	registry := ws.NewRegistry(cfg.Session.MaxConnsPerChat, logger)

	var handler agent.Handler
	if *demoMode {
		logger.Info("starting with demo prompt handler")
		handler = agent.StaticHandler{}
	} else {
		// The real completion backend is wired in by the deployment; without
		// one the demo handler keeps the server usable.
		logger.Warn("no prompt handler configured, falling back to demo handler")
		handler = agent.StaticHandler{}
	}

	manager := ws.NewManager(store, registry, handler, cfg.Session.HeartbeatInterval, logger)

	if cfg.History.SQLitePath != "" {
		hs, err := history.OpenSQLite(cfg.History.SQLitePath, cfg.Session.MaxHistory)
		if err != nil {
			logger.Fatal("open history store", zap.Error(err))
		}
		defer hs.Close()
		manager.SetHistoryStore(hs)
		logger.Info("history persistence enabled", zap.String("path", cfg.History.SQLitePath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper := ws.NewReaper(store, registry, cfg.Session.ReaperInterval, logger)
	go reaper.Run(ctx)

	server := ws.NewServer(cfg, store, registry, manager, logger)
	server.SetStatsTracker(stats.NewTracker())

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
