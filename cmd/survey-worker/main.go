// cmd/survey-worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/InternetOfUs/app-survey/internal/app"
	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := logger.New("info", "console")
		bootstrap.Fatal("config load failed", zap.Error(err))
	}

	log, sync := logger.NewStructured(logger.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	defer sync()

	log.Info("Starting survey worker", map[string]interface{}{
		"version":   cfg.App.Version,
		"transport": cfg.Queue.Transport,
		"ledger":    cfg.Ledger.Backend,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Error("startup failed", map[string]interface{}{"error": err.Error()})
		sync()
		os.Exit(1)
	}

	if err := a.Run(ctx, 30*time.Second); err != nil {
		log.Error("survey worker stopped with error", map[string]interface{}{"error": err.Error()})
		sync()
		os.Exit(1)
	}
	log.Info("Survey worker stopped gracefully", nil)
}
