package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/onboarding-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventTicketCreated  = "ticket.created"
	EventTicketApproved = "ticket.approved"
	EventTicketRejected = "ticket.rejected"
	EventTicketSnapshot = "ticket.snapshot"
)

// TicketEventProducer publishes ticket lifecycle events. Mocked in tests.
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, t *model.Ticket)
}

// Producer writes ticket events to a Kafka topic. Best-effort: failures are
// logged, never returned to the API caller.
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *zap.Logger
}

// NewProducer returns a no-op producer when brokers or topic are empty.
func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Enabled() bool { return p.writer != nil }

// TicketEvent is the message body.
type TicketEvent struct {
	Event         string     `json:"event"`
	TicketID      uint64     `json:"ticket_id"`
	Status        string     `json:"status"`
	SiteAddress   string     `json:"site_address"`
	CreatedByID   int64      `json:"created_by_id"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedByID   *int64     `json:"decided_by_id,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	TechnologyTag *string    `json:"technology_tag,omitempty"`
	CustomerID    *uint64    `json:"customer_id,omitempty"`
}

func NewTicketEvent(event string, t *model.Ticket) TicketEvent {
	return TicketEvent{
		Event:         event,
		TicketID:      t.ID,
		Status:        string(t.Status),
		SiteAddress:   t.SiteAddress,
		CreatedByID:   t.CreatedByID,
		CreatedAt:     t.CreatedAt,
		DecidedByID:   t.DecidedByID,
		DecidedAt:     t.DecidedAt,
		TechnologyTag: t.TechnologyTag,
		CustomerID:    t.CustomerID,
	}
}

// ProduceTicketEvent keys messages by ticket id so events for one ticket stay
// ordered within a partition.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, t *model.Ticket) {
	if p.writer == nil || t == nil {
		return
	}
	body, err := json.Marshal(NewTicketEvent(event, t))
	if err != nil {
		p.log.Error("kafka: marshal ticket event", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(t.ID, 10)),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("kafka: write ticket event",
			zap.String("event", event),
			zap.Uint64("ticket_id", t.ID),
			zap.Error(err))
	}
}

// Close closes the writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers splits "host1:9092,host2:9092".
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
