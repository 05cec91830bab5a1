package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tcbridge/internal/app"
	"tcbridge/internal/config"
	apphttp "tcbridge/internal/http"
	"tcbridge/internal/service"
)

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	auth := service.NewAuthService(cfg.Server.APIKey, cfg.Server.APIKeyHash)
	if !auth.Enabled() {
		logger.Fatalf("server apikey or apikey_hash is required")
	}
	if strings.TrimSpace(cfg.Server.Client) == "" {
		logger.Fatalf("server client is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}()

	served, err := a.Client(cfg.Server.Client)
	if err != nil {
		logger.Fatalf("open client %s: %v", cfg.Server.Client, err)
	}
	if !served.TestConnection(ctx) {
		logger.Warnf("client %s is not reachable yet", cfg.Server.Client)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(served, auth, a.Moves, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("serving %s on %s", cfg.Server.Client, cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}
