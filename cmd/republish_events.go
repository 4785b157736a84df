package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/onboarding-service/internal/database"
	"github.com/psds-microservice/onboarding-service/internal/kafka"
	"github.com/psds-microservice/onboarding-service/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var republishEventsCmd = &cobra.Command{
	Use:   "republish-events",
	Short: "Publish a ticket.snapshot event for every ticket so downstream consumers can rebuild their state",
	RunE:  runRepublishEvents,
}

func runRepublishEvents(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	defer func() { _ = producer.Close() }()
	if !producer.Enabled() {
		log.Warn("republish-events: KAFKA_BROKERS not set, nothing to do")
		return nil
	}

	conn, err := database.Open(cfg.DSN(), log)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	store := repository.New(conn)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	tickets, err := store.Tickets.All(ctx)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	log.Info("republish-events: loaded tickets", zap.Int("count", len(tickets)))

	for i := range tickets {
		producer.ProduceTicketEvent(ctx, kafka.EventTicketSnapshot, &tickets[i])
		if (i+1)%50 == 0 || i == len(tickets)-1 {
			log.Info("republish-events: progress", zap.Int("sent", i+1), zap.Int("total", len(tickets)))
		}
	}
	log.Info("republish-events: done", zap.Int("sent", len(tickets)))
	return nil
}
