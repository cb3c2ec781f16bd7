package eventlog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"VPN-Shop-bot/internal/db"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams payment events keyed by order id.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaPublisher{writer: writer, timeout: 3 * time.Second}
}

type message struct {
	ID         uint      `json:"id"`
	OrderID    *uint     `json:"order_id,omitempty"`
	TelegramID int64     `json:"telegram_id"`
	Method     string    `json:"method"`
	Type       string    `json:"type"`
	Details    string    `json:"details,omitempty"`
	ChargeRef  string    `json:"charge_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, e db.PaymentEvent) error {
	value, err := json.Marshal(message{
		ID:         e.ID,
		OrderID:    e.OrderID,
		TelegramID: e.TelegramID,
		Method:     e.Method,
		Type:       e.EventType,
		Details:    e.Details,
		ChargeRef:  e.ChargeRef,
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return err
	}
	key := "unresolved"
	if e.OrderID != nil {
		key = strconv.FormatUint(uint64(*e.OrderID), 10)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
