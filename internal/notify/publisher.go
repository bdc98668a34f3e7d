// Package notify 投递课表操作的提示消息。
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

// Channel 是 *amqp.Channel 中发布消息用到的部分。
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher 把提示消息发到 RabbitMQ，失败只记录日志。
type Publisher struct {
	ch      Channel
	queue   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewPublisher(ch Channel, queue string, timeout time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		ch:      ch,
		queue:   queue,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *Publisher) Notify(ctx context.Context, n domain.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("提示消息序列化失败", "error", err)
		return
	}

	// 调用方的请求可能已经结束，发布不受其取消的影响
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.ch.PublishWithContext(
		ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	); err != nil {
		p.logger.Warn("无法发布提示消息", "queue", p.queue, "level", n.Level, "error", err)
	}
}

// Log 把提示消息写到日志，用于没有消息队列的环境。
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, n domain.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	if n.Level == domain.NotificationError {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, n.Message, "tenant", n.TenantID, "entryID", n.EntryID, "level", n.Level)
}

// Multi 依次投递给所有 Notifier。
type Multi []interface {
	Notify(ctx context.Context, n domain.Notification)
}

func (m Multi) Notify(ctx context.Context, n domain.Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}
