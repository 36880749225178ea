// Package telegram connects the dispatcher to the Telegram Bot API over long polling.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zhouzirui/z-tavern/chatflow/internal/dispatch"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/notify"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Enqueuer accepts inbound events in arrival order.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev dispatch.Event)
}

// Bot sends replies and feeds updates to the dispatcher.
type Bot struct {
	api         API
	pollTimeout int
}

// New authorizes token against the Bot API.
func New(token string, debug bool, pollTimeout int) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	api.Debug = debug
	log.Printf("[telegram] authorized on account @%s", api.Self.UserName)
	return NewWithAPI(api, pollTimeout), nil
}

// NewWithAPI wraps an existing API client.
func NewWithAPI(api API, pollTimeout int) *Bot {
	if pollTimeout <= 0 {
		pollTimeout = 60
	}
	return &Bot{api: api, pollTimeout: pollTimeout}
}

// Send delivers reply to the chat identified by sessionID.
func (b *Bot) Send(ctx context.Context, sessionID string, reply session.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", sessionID, err)
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.Formatting == session.FormattingRich {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// SendText delivers plain text to destination. It lets the bot act as a notify.Sender.
func (b *Bot) SendText(ctx context.Context, destination, text string) error {
	return b.Send(ctx, destination, session.Plain(text))
}

// Run long-polls for updates and enqueues text messages until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, d Enqueuer) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	log.Println("[telegram] polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := eventFromUpdate(update)
			if !ok {
				continue
			}
			ev.Sender = b
			d.Enqueue(ctx, ev)
		}
	}
}

func eventFromUpdate(update tgbotapi.Update) (dispatch.Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Text == "" {
		return dispatch.Event{}, false
	}
	return dispatch.Event{
		SessionID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:      msg.Text,
	}, true
}

const pollingFailure = "Failed to get updates"

// ErrorReporter forwards the library's polling failures to the operator sink.
// The library logs the error on one line and the retry notice on the next,
// so the reporter keeps the previous line as the cause.
// Install it with tgbotapi.SetLogger.
type ErrorReporter struct {
	sink notify.Sink

	mu   sync.Mutex
	last string
}

// NewErrorReporter creates a reporter that notifies sink.
func NewErrorReporter(sink notify.Sink) *ErrorReporter {
	return &ErrorReporter{sink: sink}
}

// Println implements tgbotapi.BotLogger.
func (r *ErrorReporter) Println(v ...interface{}) {
	r.report(fmt.Sprintln(v...))
}

// Printf implements tgbotapi.BotLogger.
func (r *ErrorReporter) Printf(format string, v ...interface{}) {
	r.report(fmt.Sprintf(format, v...))
}

func (r *ErrorReporter) report(line string) {
	line = strings.TrimSpace(line)
	log.Printf("[telegram] %s", line)

	r.mu.Lock()
	cause := r.last
	r.last = line
	r.mu.Unlock()

	if r.sink == nil || !strings.Contains(line, pollingFailure) {
		return
	}
	if cause == "" || strings.Contains(cause, pollingFailure) {
		cause = line
	}
	r.sink.Notify(context.Background(), "Bot error: "+cause)
}
