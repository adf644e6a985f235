package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ealebed/sqsmemu/internal/attrstore"
	"github.com/ealebed/sqsmemu/internal/config"
	"github.com/ealebed/sqsmemu/internal/dispatcher"
	"github.com/ealebed/sqsmemu/internal/registry"
)

func main() {
	_ = godotenv.Load() // ok if no .env

	// Structured JSON logs; control with LOG_LEVEL=debug|info|warn|error
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	store, err := attrstore.New(cfg.AttrStorePath, cfg.PersistAttrs)
	if err != nil {
		log.Fatalf("open attribute store: %v", err)
	}

	reg := registry.New()
	metrics := dispatcher.NewMetrics(prometheus.DefaultRegisterer)

	d := dispatcher.New(
		reg, store, metrics,
		cfg.QueueHost,
		time.Duration(cfg.DefaultVisibilityTimeoutSeconds)*time.Second,
		time.Duration(cfg.LongPollTickMillis)*time.Millisecond,
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           d.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server.start", "addr", cfg.ListenAddr, "queue_host", cfg.QueueHost)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server.error", "err", err)
			stop <- syscall.SIGTERM
		}
	}()

	<-stop
	slog.Info("shutdown.begin")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server.shutdown.error", "err", err)
	}
	slog.Info("shutdown.complete")
}
