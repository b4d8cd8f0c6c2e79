// Package realtime routes decoded push events to the caches that react to
// them. Handle runs on the channel's read goroutine, so events are applied
// one at a time in arrival order.
package realtime

import (
	"context"
	"log/slog"

	"spark-client/internal/bus"
	"spark-client/internal/logger"
	"spark-client/internal/push"
	"spark-client/internal/view"
)

type Conversations interface {
	ApplyIncoming(ev push.NewMessage) bool
	ApplyRead(readerID int) int
}

type Ledger interface {
	MarkUnread(ctx context.Context, userID int) error
	MarkRead(ctx context.Context, userID int) error
}

type MatchIndicator interface {
	RaiseNew()
}

type Views interface {
	IsFocused(v view.View) bool
}

type Dispatcher struct {
	ctx     context.Context
	chat    Conversations
	ledger  Ledger
	matches MatchIndicator
	views   Views
	bus     *bus.Bus
	log     *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = logger.OrDefault(l) }
}

// WithContext sets the context used for ledger writes.
func WithContext(ctx context.Context) Option {
	return func(d *Dispatcher) { d.ctx = ctx }
}

func New(chat Conversations, ledger Ledger, matches MatchIndicator, views Views, b *bus.Bus, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ctx:     context.Background(),
		chat:    chat,
		ledger:  ledger,
		matches: matches,
		views:   views,
		bus:     b,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle applies one event. It satisfies push.Handler.
func (d *Dispatcher) Handle(ev push.Event) {
	switch ev := ev.(type) {
	case push.NewMessage:
		d.newMessage(ev)
	case push.MessagesRead:
		n := d.chat.ApplyRead(ev.ReaderID)
		d.log.Debug("messages read", "reader_id", ev.ReaderID, "flipped", n)
	case push.NewMatch:
		if !d.views.IsFocused(view.Matches) {
			d.matches.RaiseNew()
			d.bus.Publish(bus.Notice{Level: bus.NoticeInfo, Text: "New Match! Check your matches!"})
		}
	case push.UserBlocked:
		d.log.Info("blocked by counterpart", "user_id", ev.BlockedBy)
		d.bus.Publish(bus.CounterpartRemoved{UserID: ev.BlockedBy, Reason: bus.BlockedByPeer})
	default:
		d.log.Debug("ignoring push event", "type", string(ev.Tag()))
	}
}

func (d *Dispatcher) newMessage(ev push.NewMessage) {
	focused := d.chat.ApplyIncoming(ev)
	if focused {
		if err := d.ledger.MarkRead(d.ctx, ev.SenderID); err != nil {
			d.log.Warn("unread ledger update failed", "user_id", ev.SenderID, "err", err)
		}
	} else if err := d.ledger.MarkUnread(d.ctx, ev.SenderID); err != nil {
		d.log.Warn("unread ledger update failed", "user_id", ev.SenderID, "err", err)
	}

	if !d.views.IsFocused(view.Chats) {
		d.bus.Publish(bus.MessageNotice{
			SenderID:   ev.SenderID,
			SenderName: ev.SenderName,
			Content:    ev.Content,
		})
	}
}
