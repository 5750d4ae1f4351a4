package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TypePaymentCompleted = "payment.completed"
	TypePaymentFailed    = "payment.failed"
	TypeStateConflict    = "payment.state_conflict"
)

// PaymentEvent 支付结果事件，以订单号为 Kafka 消息 key 保证同一订单有序
type PaymentEvent struct {
	Type       string    `json:"type"`
	OrderID    int64     `json:"order_id"`
	PaymentID  int64     `json:"payment_id"`
	AppTransID string    `json:"app_trans_id"`
	ZPTransID  string    `json:"zp_trans_id,omitempty"`
	Amount     string    `json:"amount"`
	Status     string    `json:"status"`
	Source     string    `json:"source"` // callback / poll / initiate
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 基于 kafka-go 的事件发布者
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *zap.Logger
}

// NewKafkaPublisher 创建 Kafka 发布者
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	log.Info("Kafka publisher initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaPublisher{writer: w, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Failed to publish payment event",
			zap.String("type", event.Type),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("publish payment event: %w", err)
	}

	p.log.Debug("Payment event published", zap.String("type", event.Type), zap.Int64("order_id", event.OrderID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 未配置 Kafka 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PaymentEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

// NewPublisher 没有 broker 时返回 NopPublisher
func NewPublisher(brokers []string, topic string, log *zap.Logger) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic, log)
}
