package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screenrelay/internal/clock"
	"screenrelay/internal/config"
	"screenrelay/internal/microservices/relay"
)

func main() {
	// Configuration
	// Load config (fallback to env/default)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := relay.NewRegistry(logger)
	dispatcher := relay.NewDispatcher(registry, logger)
	server := relay.NewServer(cfg, registry, dispatcher, logger)

	// Bind before anything else runs: a taken port is fatal
	if err := server.Listen(); err != nil {
		logger.Error("relay_server_start_failed", "error", err.Error())
		os.Exit(1)
	}

	// Optional cross-instance fan-out over Redis pub/sub
	if cfg.RedisURL != "" {
		pubsub, err := relay.NewRedisPubSub(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis_connect_failed", "error", err.Error())
			os.Exit(1)
		}
		defer pubsub.Close()

		inbound, err := pubsub.Subscribe(ctx, cfg.RedisChannel)
		if err != nil {
			logger.Error("redis_subscribe_failed", "channel", cfg.RedisChannel, "error", err.Error())
			os.Exit(1)
		}
		bridge := relay.NewClusterBridge(pubsub, cfg.RedisChannel, dispatcher, logger)
		go func() {
			if err := bridge.Run(ctx, inbound); err != nil && ctx.Err() == nil {
				logger.Error("cluster_bridge_stopped", "error", err.Error())
			}
		}()
		logger.Info("cluster_bridge_enabled", "channel", cfg.RedisChannel, "instance", bridge.Instance())
	}

	// Admin broadcast: console fills the queue, the pump drains it
	queue := &relay.AdminQueue{}
	pump := &relay.AdminPump{
		Queue:      queue,
		Dispatcher: dispatcher,
		Clock:      clock.Real(),
		Interval:   cfg.AdminPollInterval,
		Logger:     logger,
	}
	go pump.Run(ctx)
	go func() {
		// console failure ends the console only, the relay keeps serving
		if err := relay.RunConsole(os.Stdin, os.Stdout, queue); err != nil {
			logger.Warn("admin_console_stopped", "error", err.Error())
		}
	}()

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve()
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		if err != nil {
			logger.Error("server_error", "error", err.Error())
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}
