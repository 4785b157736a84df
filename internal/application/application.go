package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/psds-microservice/onboarding-service/internal/auth"
	"github.com/psds-microservice/onboarding-service/internal/config"
	"github.com/psds-microservice/onboarding-service/internal/database"
	"github.com/psds-microservice/onboarding-service/internal/handler"
	"github.com/psds-microservice/onboarding-service/internal/kafka"
	"github.com/psds-microservice/onboarding-service/internal/metrics"
	"github.com/psds-microservice/onboarding-service/internal/repository"
	"github.com/psds-microservice/onboarding-service/internal/router"
	"github.com/psds-microservice/onboarding-service/internal/service"
	"github.com/psds-microservice/onboarding-service/internal/sitelock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// API is the HTTP application (api mode).
type API struct {
	cfg      *config.Config
	log      *zap.Logger
	httpSrv  *http.Server
	tickets  *handler.TicketHandler
	producer *kafka.Producer
	redis    *redis.Client
}

// NewAPI migrates the database and wires every dependency of the HTTP server.
func NewAPI(ctx context.Context, cfg *config.Config, log *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(ctx, cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN(), log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	store := repository.New(db)

	a := &API{cfg: cfg, log: log}

	var locker sitelock.Locker = sitelock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client, err := sitelock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		locker = sitelock.NewRedisLocker(client, cfg.SiteLockTTL, log)
		log.Info("site locks backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	a.producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	if a.producer.Enabled() {
		log.Info("ticket events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopicTicket))
	}

	svc := service.NewTicketService(service.Deps{
		Store:   store,
		Locker:  locker,
		Metrics: metrics.NewTicketMetrics(prometheus.DefaultRegisterer),
		Log:     log,
	})
	a.tickets = handler.NewTicketHandler(svc, a.producer, log)

	h := router.New(router.Deps{
		Tickets:    a.tickets,
		DB:         store,
		Sessions:   auth.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL),
		CookieName: cfg.Session.CookieName,
		Gatherer:   prometheus.DefaultGatherer,
		Log:        log,
	})

	a.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("http server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+"/swagger"),
		zap.String("health", base+"/health"),
		zap.String("metrics", base+"/metrics"),
		zap.String("api", base+"/api/v1/"))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.closeClients()
		return fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.httpSrv.Shutdown(shutdownCtx)
	a.closeClients()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.log.Info("http server stopped")
	return nil
}

// closeClients waits for in-flight ticket events before closing the writer.
func (a *API) closeClients() {
	a.tickets.Wait()
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka producer close", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close", zap.Error(err))
		}
	}
}
