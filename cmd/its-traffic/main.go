package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/CALEB-creator15/sih-backend-project/common/logger"
	"github.com/CALEB-creator15/sih-backend-project/internal/app"
	"github.com/CALEB-creator15/sih-backend-project/internal/config"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "its-traffic")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("Starting its-traffic service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Bool("vision_enabled", cfg.Vision.Enabled),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.Bool("db_enabled", cfg.DBEnabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trafficApp, err := app.NewTrafficApp(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("Failed to create traffic service", zap.Error(err))
	}

	done := make(chan error, 1)
	go func() {
		done <- trafficApp.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		err = <-done
	case err = <-done:
	}

	if err != nil {
		lg.Error("Service exited with error", zap.Error(err))
		lg.Sync()
		os.Exit(1)
	}
	lg.Info("Service stopped")
}
