// Package tg is the Telegram transport: it adapts telebot updates into chat
// events and sends replies back through the bot API.
package tg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/logger"
)

// Enqueuer accepts inbound events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev chat.Event) error
}

// Config holds Telegram bot settings.
type Config struct {
	Token           string
	LongPollTimeout time.Duration
	// Offline skips the token handshake; used by tests.
	Offline bool
}

// Bot bridges Telegram chats onto the dispatcher.
type Bot struct {
	bot   *tele.Bot
	queue Enqueuer
}

// New builds the bot, registers handlers and returns it unstarted.
func New(cfg Config, queue Enqueuer) (*Bot, error) {
	timeout := cfg.LongPollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	settings := tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("tg: bot initialization failed: %w", err)
	}

	t := &Bot{bot: b, queue: queue}
	b.Use(recoverMiddleware)
	b.Handle(tele.OnText, t.onText)
	b.Handle(tele.OnCallback, t.onCallback)
	return t, nil
}

// Run starts long polling until the context is done.
func (t *Bot) Run(ctx context.Context) error {
	logger.Info(ctx, "tg", "tg.start",
		slog.String("status", "ok"),
	)
	done := make(chan struct{})
	go func() {
		t.bot.Start()
		close(done)
	}()

	select {
	case <-ctx.Done():
		t.bot.Stop()
		<-done
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-done:
		return nil
	}
}

// SendText delivers a message to the chat behind the given identity.
func (t *Bot) SendText(ctx context.Context, identity, text string) error {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return fmt.Errorf("tg: identity %q is not a chat id: %w", identity, err)
	}
	if _, err := t.bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
		return fmt.Errorf("tg: send message: %w", err)
	}
	logger.Debug(ctx, "tg", "tg.send.ok",
		slog.String("identity", identity),
	)
	return nil
}

func (t *Bot) onText(c tele.Context) error {
	ev, ok := eventFromMessage(c.Message())
	if !ok {
		return nil
	}
	return t.enqueue(ev)
}

func (t *Bot) onCallback(c tele.Context) error {
	ev, ok := eventFromCallback(c.Callback())
	if !ok {
		return nil
	}
	if err := t.enqueue(ev); err != nil {
		return err
	}
	// Stop the client-side spinner.
	return c.Respond()
}

func (t *Bot) enqueue(ev chat.Event) error {
	ctx := logger.WithEventMeta(context.Background(), ev.ID, ev.Identity)
	if err := t.queue.Enqueue(ctx, ev); err != nil {
		logger.Error(ctx, "tg", "tg.enqueue.failed",
			slog.String("event_id", ev.ID),
			slog.String("identity", ev.Identity),
			slog.Any("err", err),
		)
	}
	return nil
}

// eventFromMessage maps a text message onto the transport-neutral event.
func eventFromMessage(m *tele.Message) (chat.Event, bool) {
	if m == nil || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return chat.Event{}, false
	}
	return chat.Event{
		ID:          fmt.Sprintf("tg-%d-%d", m.Chat.ID, m.ID),
		Identity:    strconv.FormatInt(m.Chat.ID, 10),
		DisplayName: displayName(m.Sender),
		Kind:        chat.KindText,
		Text:        m.Text,
		ReceivedAt:  m.Time(),
	}, true
}

// eventFromCallback maps an inline keyboard tap onto a button reply event.
func eventFromCallback(cb *tele.Callback) (chat.Event, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return chat.Event{}, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(cb.Data, "\f"))
	if data == "" {
		return chat.Event{}, false
	}
	return chat.Event{
		ID:          "tgcb-" + cb.ID,
		Identity:    strconv.FormatInt(cb.Message.Chat.ID, 10),
		DisplayName: displayName(cb.Sender),
		Kind:        chat.KindButtonReply,
		ButtonID:    data,
		ReceivedAt:  time.Now(),
	}, true
}

func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// recoverMiddleware keeps a panicking handler from killing the poller.
func recoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tg: handler panic: %v", r)
				logger.Error(context.Background(), "tg", "tg.handler.panic",
					slog.String("payload", logger.SanitizeLimit(fmt.Sprint(r), 512)),
				)
			}
		}()
		return next(c)
	}
}
