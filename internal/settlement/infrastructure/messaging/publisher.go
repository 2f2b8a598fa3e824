// Package messaging 结算事件与用户通知的 Kafka 投递
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/pkg/mq"
)

// Producer 消息发送能力，*mq.KafkaProducer 满足该接口
type Producer interface {
	SendMessage(ctx context.Context, topic string, key string, value any) error
}

var _ Producer = (*mq.KafkaProducer)(nil)

// EventPublisher 以结算单号为 key 发布状态变更事件，同一结算单的事件保持分区内有序
type EventPublisher struct {
	producer Producer
	topic    string
}

func NewEventPublisher(producer Producer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

func (p *EventPublisher) Publish(ctx context.Context, e domain.SettlementEvent) error {
	if err := p.producer.SendMessage(ctx, p.topic, e.SettlementID, e); err != nil {
		return fmt.Errorf("failed to publish %s for %s: %w", e.Type, e.SettlementID, err)
	}
	return nil
}

// notificationMessage 通知主题上的消息体
type notificationMessage struct {
	domain.Notification
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

const notificationSource = "liquidaciones"

// DefaultBreakerSettings 连续失败 5 次熔断，30 秒后半开试探
func DefaultBreakerSettings(name string, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// NotificationGateway 经熔断器投递通知，熔断期间直接失败
type NotificationGateway struct {
	producer Producer
	topic    string
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
}

func NewNotificationGateway(producer Producer, topic string, settings gobreaker.Settings) *NotificationGateway {
	return &NotificationGateway{
		producer: producer,
		topic:    topic,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.NotificationGateway = (*NotificationGateway)(nil)

func (g *NotificationGateway) Notify(ctx context.Context, n domain.Notification) error {
	if n.UserID == "" {
		return domain.NewValidationError("user_id", "destinatario requerido")
	}
	msg := notificationMessage{Notification: n, Source: notificationSource, SentAt: g.now()}
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.producer.SendMessage(ctx, g.topic, n.UserID, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("notification gateway unavailable: %w", err)
	}
	return err
}

// State 熔断器当前状态
func (g *NotificationGateway) State() gobreaker.State {
	return g.breaker.State()
}
