package telegram

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zhouzirui/z-tavern/chatflow/internal/dispatch"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type recordingEnqueuer struct {
	events chan dispatch.Event
}

func (r recordingEnqueuer) Enqueue(_ context.Context, ev dispatch.Event) {
	r.events <- ev
}

type recordingSink struct {
	mu    sync.Mutex
	notes []string
}

func (r *recordingSink) Notify(_ context.Context, text string) {
	r.mu.Lock()
	r.notes = append(r.notes, text)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notes...)
}

func TestSendSetsParseMode(t *testing.T) {
	api := &fakeAPI{}
	bot := NewWithAPI(api, 0)

	if err := bot.Send(context.Background(), "1001", session.Plain("hello")); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if err := bot.Send(context.Background(), "1001", session.Reply{Text: "<b>hi</b>", Formatting: session.FormattingRich}); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if len(api.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(api.sent))
	}
	if api.sent[0].ParseMode != "" || api.sent[0].ChatID != 1001 {
		t.Fatalf("unexpected plain message: %+v", api.sent[0])
	}
	if api.sent[1].ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("expected HTML parse mode, got %q", api.sent[1].ParseMode)
	}
}

func TestSendRejectsNonNumericChat(t *testing.T) {
	bot := NewWithAPI(&fakeAPI{}, 0)
	if err := bot.Send(context.Background(), "web-session", session.Plain("hello")); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestRunEnqueuesTextMessages(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 3)}
	bot := NewWithAPI(api, 1)
	enq := recordingEnqueuer{events: make(chan dispatch.Event, 3)}

	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "/start"}}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}}}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "lookup"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx, enq) }()

	for _, want := range []string{"/start", "lookup"} {
		select {
		case ev := <-enq.events:
			if ev.SessionID != "7" || ev.Text != want || ev.Sender == nil {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run err: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Fatal("expected polling stopped")
	}
}

func TestErrorReporterForwardsPollingFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			io.WriteString(w, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint("token", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewBotAPIWithAPIEndpoint err: %v", err)
	}

	sink := &recordingSink{}
	if err := tgbotapi.SetLogger(NewErrorReporter(sink)); err != nil {
		t.Fatalf("SetLogger err: %v", err)
	}
	defer tgbotapi.SetLogger(log.New(os.Stderr, "", log.LstdFlags))

	api.GetUpdatesChan(tgbotapi.NewUpdate(0))
	defer api.StopReceivingUpdates()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if notes := sink.snapshot(); len(notes) > 0 {
			if notes[0] != "Bot error: Bad Gateway" {
				t.Fatalf("unexpected notification %q", notes[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a notification for the failed poll")
}

func TestErrorReporterIgnoresOtherLines(t *testing.T) {
	sink := &recordingSink{}
	r := NewErrorReporter(sink)

	r.Printf("Endpoint: %s, params: %v", "getMe", nil)
	r.Println("some other message")

	if notes := sink.snapshot(); len(notes) != 0 {
		t.Fatalf("expected no notifications, got %v", notes)
	}
}
