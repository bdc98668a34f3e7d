// Package feed 把 weekly_schedules 上的 NOTIFY 转成 domain.ChangeEvent 推送给订阅者。
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

type Options struct {
	DSN            string
	Channel        string
	ReconnectDelay time.Duration
	Buffer         int
	Logger         *slog.Logger
}

type subscriber struct {
	name string
	ch   chan domain.ChangeEvent
}

// Listener 用一条独占连接 LISTEN，所有订阅者共享这条连接。
type Listener struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewListener(opts Options) *Listener {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}

	return &Listener{
		opts:   opts,
		logger: opts.Logger.With("channel", opts.Channel),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Subscribe 返回整张表的变更，ctx 结束后 channel 被关闭。
func (l *Listener) Subscribe(ctx context.Context, name string) (<-chan domain.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscriber{name: name, ch: make(chan domain.ChangeEvent, l.opts.Buffer)}

	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	context.AfterFunc(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		delete(l.subs, sub)
		close(sub.ch)
	})

	return sub.ch, nil
}

// Run 阻塞直到 ctx 结束，连接断开后按配置的间隔重连。
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("变更订阅连接中断，稍后重连", "error", err, "delay", l.opts.ReconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.opts.ReconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.opts.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.opts.Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("已开始监听课表变更")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		ev, err := DecodePayload([]byte(n.Payload))
		if err != nil {
			l.logger.Warn("无法解析变更消息", "error", err)
			continue
		}
		l.broadcast(ev)
	}
}

// broadcast 不会阻塞，缓冲区满的订阅者会丢掉这条事件。
func (l *Listener) broadcast(ev domain.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for sub := range l.subs {
		select {
		case sub.ch <- ev:
		default:
			l.logger.Warn("订阅者处理过慢，丢弃变更", "subscriber", sub.name, "type", ev.Type)
		}
	}
}
