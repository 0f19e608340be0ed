package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"melodia/internal/config"
	"melodia/internal/db"
	"melodia/internal/generation"
	"melodia/internal/kafka"
	"melodia/internal/logging"
	"melodia/internal/metrics"
	"melodia/internal/payment"
	"melodia/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.MustLoadConfig(config.GetString("CONFIG_PATH", "."))

	// melodia token <userId> prints a development token
	if len(os.Args) == 3 && os.Args[1] == "token" {
		token, err := web.IssueToken(os.Args[2], cfg.Auth.JWTSecret, 24*time.Hour)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(token)
		return
	}

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	connStr := cfg.Database.ConnString()
	if err := db.RunMigrations(connStr); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	payments := db.NewPaymentRepository(dbpool)
	users := db.NewUserRepository(dbpool)
	tracks := db.NewTrackRepository(dbpool)

	var events interface {
		payment.EventPublisher
		generation.EventPublisher
	} = kafka.NopPublisher{}
	if cfg.Kafka.Broker.URL != "" {
		writer := kafka.NewWriter(cfg.Kafka)
		defer writer.Close()
		events = kafka.NewPublisher(writer, logger)
	} else {
		logger.Warn("No Kafka broker configured, events are not published")
	}

	paymentService := payment.NewService(payments, payment.NewMidtransGateway(cfg.Payment), events, payment.Options{
		ServerKey:   cfg.Payment.ServerKey,
		ClientKey:   cfg.Payment.ClientKey,
		OrderPrefix: cfg.Payment.OrderPrefix,
		MinAmount:   cfg.Payment.MinAmount,
	}, logger)

	client := generation.NewClient(cfg.Generation, logger)
	slots := generation.NewSlots()
	defer slots.CancelAll()
	tracker := generation.NewTracker(client, generation.NewPoller(client, cfg.Generation, logger), slots, tracks, events, logger)
	tracker.DefaultModel = cfg.Generation.DefaultModel

	router := web.NewRouter(web.Handlers{
		Payments:   paymentService,
		History:    payments,
		Generation: tracker,
		Tools:      client,
		Accounts:   users,
		Tracks:     tracks,
		JWTSecret:  cfg.Auth.JWTSecret,
		Origins:    splitOrigins(cfg.Server.AllowOrigins),
		Logger:     logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down server", "error", err)
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
