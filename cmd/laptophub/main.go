package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laptophub/internal/cache"
	"github.com/vasiliy-maslov/laptophub/internal/cart"
	"github.com/vasiliy-maslov/laptophub/internal/catalog"
	"github.com/vasiliy-maslov/laptophub/internal/config"
	"github.com/vasiliy-maslov/laptophub/internal/db"
	"github.com/vasiliy-maslov/laptophub/internal/events"
	"github.com/vasiliy-maslov/laptophub/internal/gateway"
	"github.com/vasiliy-maslov/laptophub/internal/handler"
	"github.com/vasiliy-maslov/laptophub/internal/order"
	"github.com/vasiliy-maslov/laptophub/internal/payment"
	"github.com/vasiliy-maslov/laptophub/internal/sweeper"
	"github.com/vasiliy-maslov/laptophub/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "laptophub").Logger()

	log.Info().Msg("Laptophub backend starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.Migrate(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	var productCache cache.Cache = cache.Nop{}
	if cfg.Redis.Addr != "" {
		productCache = cache.NewRedisCache(cfg.Redis.Addr, "laptophub")
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Product cache enabled")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, "laptophub")
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close event publisher")
			}
		}()
		publisher = kafkaPublisher
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Order events enabled")
	}

	stripe := gateway.NewStripe(cfg.Stripe.APIKey)

	productRepo := catalog.NewRepository()
	cartRepo := cart.NewRepository()
	orderRepo := order.NewRepository()
	paymentRepo := payment.NewRepository()

	catalogSvc := catalog.NewService(pg.Pool, productRepo, productCache, cfg.Redis.CacheTTL)
	cartSvc := cart.NewService(pg.Pool, cartRepo, productRepo)
	paymentSvc := payment.NewService(pg, paymentRepo, orderRepo, stripe, publisher)
	orderSvc := order.NewService(pg, pg.Pool, orderRepo, cartRepo, productRepo, paymentSvc, publisher, cfg.Orders.PaymentGracePeriod)

	router := transport.NewRouter(transport.Handlers{
		Orders:  handler.NewOrderHandler(orderSvc),
		Cart:    handler.NewCartHandler(cartSvc),
		Catalog: handler.NewCatalogHandler(catalogSvc),
		Webhook: handler.NewWebhookHandler(paymentSvc, cfg.Stripe.WebhookSecret),
	})

	go sweeper.NewExpirationSweeper(orderSvc, cfg.Orders.SweepInterval).Run(ctx)
	go sweeper.NewProgressionSweeper(orderSvc, cfg.Orders.SweepInterval).Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
