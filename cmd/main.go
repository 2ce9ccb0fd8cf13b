package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speech-relay-service/internal/api/ws"
	"speech-relay-service/internal/app"
	"speech-relay-service/internal/config"
	"speech-relay-service/internal/events"
	httpapi "speech-relay-service/internal/http"
	"speech-relay-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	obs := observability.NewServer(":" + cfg.Service.MetricsPort)
	obs.Start()

	handler := ws.NewHandler(cfg, publisher)
	server := &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     httpapi.NewRouter(handler),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		application.Logger.Info().Str("addr", server.Addr).Msg("Speech relay service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			application.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	obs.SetReady()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		application.Logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := obs.Shutdown(ctx); err != nil {
		application.Logger.Error().Err(err).Msg("Observability server shutdown error")
	}
}
