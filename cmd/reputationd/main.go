package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/config"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
	applog "agoraeconomy/internal/logging"
	"agoraeconomy/internal/reputation"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to service configuration")
	flag.Parse()

	env := os.Getenv("AGORA_ENV")
	slogger := applog.Setup("reputationd", env)

	cfg, err := config.Load("reputationd", cfgPath)
	if err != nil {
		slogger.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		slogger.Error("open database", "error", err.Error())
		os.Exit(1)
	}
	if err := reputation.AutoMigrate(db); err != nil {
		slogger.Error("migrate reputation", "error", err.Error())
		os.Exit(1)
	}
	if err := eventlog.Migrate(db); err != nil {
		slogger.Error("migrate event log", "error", err.Error())
		os.Exit(1)
	}

	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{
		ServiceName: "reputationd",
		Enabled:     true,
	}, log.Default())

	boardClient := clients.NewBoardClient(cfg.BoardBaseURL)
	identityClient := clients.NewIdentityClient(cfg.IdentityBaseURL)

	svc := reputation.NewServer(reputation.Config{
		DB:       db,
		Events:   store,
		Obs:      obs,
		Board:    boardClient,
		Identity: identityClient,
	})

	runHTTPServer(slogger, cfg.Port, svc.Router())
}

func runHTTPServer(logger *slog.Logger, port string, handler http.Handler) {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("listen", "error", err.Error())
		os.Exit(1)
	}

	go func() {
		logger.Info("listening", "addr", listener.Addr().String())
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("serve", "error", serveErr.Error())
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
}
