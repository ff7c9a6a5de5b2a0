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
	"agoraeconomy/internal/court"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
	applog "agoraeconomy/internal/logging"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to service configuration")
	flag.Parse()

	env := os.Getenv("AGORA_ENV")
	slogger := applog.Setup("courtd", env)

	cfg, err := config.Load("courtd", cfgPath)
	if err != nil {
		slogger.Error("load config", "error", err.Error())
		os.Exit(1)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		slogger.Error("open database", "error", err.Error())
		os.Exit(1)
	}
	if err := court.AutoMigrate(db); err != nil {
		slogger.Error("migrate court", "error", err.Error())
		os.Exit(1)
	}
	if err := eventlog.Migrate(db); err != nil {
		slogger.Error("migrate event log", "error", err.Error())
		os.Exit(1)
	}

	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{
		ServiceName: "courtd",
		Enabled:     true,
	}, log.Default())

	boardClient := clients.NewBoardClient(cfg.BoardBaseURL)
	bankClient := clients.NewBankClient(cfg.BankBaseURL)
	identityClient := clients.NewIdentityClient(cfg.IdentityBaseURL)
	panel := court.NewHTTPPanel(cfg.JudgePanelURL)

	svc := court.NewServer(court.Config{
		DB:             db,
		Events:         store,
		Obs:            obs,
		Board:          boardClient,
		Bank:           bankClient,
		Identity:       identityClient,
		Panel:          panel,
		PanelSize:      cfg.JudgePanelSize,
		JudgeTimeout:   cfg.JudgeTimeoutSeconds,
		RebuttalWindow: cfg.RebuttalWindowSeconds,
	})

	sweeper := court.NewSweeper(svc.Engine(), time.Duration(cfg.TickIntervalSeconds)*time.Second, slogger)
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Start(sweeperCtx)

	runHTTPServer(slogger, cfg.Port, svc.Router())
	stopSweeper()
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
