package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flash-buyer/internal/artifacts"
	"flash-buyer/internal/browser"
	"flash-buyer/internal/config"
	"flash-buyer/internal/logging"
	"flash-buyer/internal/purchase"
	"flash-buyer/internal/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Config file (default: config/config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireLaunchCredentials(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	connector, err := browser.NewConnector(cfg.Driver, browser.Options{
		Headless:        cfg.Headless,
		DebuggerAddress: cfg.DebuggerAddress,
	}, cfg.SessionDir, log)
	if err != nil {
		log.Fatal("failed to initialize browser connector", zap.Error(err))
	}

	hub := server.NewHub()
	buyer := purchase.NewBuyer(connector, purchase.Options{
		BaseURL: cfg.Store.BaseURL,
		Reuse:   cfg.ReuseExistingBrowser,
		Auth: &purchase.FormLogin{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		},
		Screenshots: artifacts.NewStore(cfg.ScreenshotsDir),
		Observer:    hub.Publish,
	}, log)

	srv := server.NewServer(buyer, hub, server.Options{
		Addr:        cfg.Server.Addr,
		DefaultMode: cfg.Mode,
		RunTimeout:  cfg.RunTimeout.Std(),
	}, log.Named("server"))

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Info("server stopped", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}

	// Shutdown cancels the active run; wait for it to release its browser.
	for buyer.Status().Running {
		select {
		case <-shutdownCtx.Done():
			log.Warn("purchase run still active at exit")
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	log.Info("server stopped")
}
