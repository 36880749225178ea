// Package dispatch routes inbound chat events to the workflow engine and applies the results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/notify"
	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

const (
	DefaultCommandPrefix  = "/"
	DefaultRestartCommand = "/start"
)

// Store is the conversation store the dispatcher reads and writes.
type Store interface {
	Get(ctx context.Context, id string) (session.Session, bool, error)
	Put(ctx context.Context, sess session.Session) error
	Delete(ctx context.Context, id string) error
}

// Transcript records every turn for audit.
type Transcript interface {
	SaveMessage(ctx context.Context, message chat.Message) error
}

// Workflow is the state machine driven by the dispatcher.
type Workflow interface {
	Start(id string) workflow.Result
	NoSession(id, text string) workflow.Result
	Advance(ctx context.Context, sess session.Session, text string) workflow.Result
	Process(ctx context.Context, sess session.Session) workflow.Result
}

// Sender delivers replies back to the chat an event came from.
type Sender interface {
	Send(ctx context.Context, sessionID string, reply session.Reply) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, sessionID string, reply session.Reply) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, sessionID string, reply session.Reply) error {
	return f(ctx, sessionID, reply)
}

// Event is one inbound text from a chat. Sender may be nil when the caller only wants the replies returned.
type Event struct {
	SessionID string
	Text      string
	Sender    Sender
}

// Config configures a Dispatcher.
type Config struct {
	Workflow       Workflow
	Store          Store
	Transcript     Transcript
	Sink           notify.Sink
	CommandPrefix  string
	RestartCommand string
}

// Dispatcher serializes events per session and applies workflow results.
type Dispatcher struct {
	workflow   Workflow
	store      Store
	transcript Transcript
	sink       notify.Sink
	prefix     string
	restart    string
	lanes      *lanes
}

// New builds a Dispatcher from cfg.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Workflow == nil {
		return nil, errors.New("dispatch: workflow is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = notify.LogSink{}
	}
	prefix := cfg.CommandPrefix
	if prefix == "" {
		prefix = DefaultCommandPrefix
	}
	restart := cfg.RestartCommand
	if restart == "" {
		restart = DefaultRestartCommand
	}

	return &Dispatcher{
		workflow:   cfg.Workflow,
		store:      cfg.Store,
		transcript: cfg.Transcript,
		sink:       sink,
		prefix:     prefix,
		restart:    restart,
		lanes:      newLanes(),
	}, nil
}

// Enqueue schedules ev behind any earlier events of the same session and returns immediately.
// The job keeps ctx's values but not its cancellation, so events queued before
// shutdown still reply and notify while the dispatcher drains.
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	d.lanes.submit(ev.SessionID, func() {
		if _, err := d.handle(ctx, ev); err != nil {
			log.Printf("[dispatch] session=%s: %v", ev.SessionID, err)
		}
	})
}

// Handle schedules ev and waits for its turn to finish, returning the replies it produced.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) ([]session.Reply, error) {
	type outcome struct {
		replies []session.Reply
		err     error
	}
	done := make(chan outcome, 1)

	d.lanes.submit(ev.SessionID, func() {
		replies, err := d.handle(ctx, ev)
		done <- outcome{replies: replies, err: err}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.replies, out.err
	}
}

// Wait blocks until all scheduled events have been handled.
func (d *Dispatcher) Wait() {
	d.lanes.wait()
}

// Drain waits for scheduled events like Wait, giving up when ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.lanes.wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: %d sessions still busy: %w", d.lanes.active(), ctx.Err())
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) ([]session.Reply, error) {
	if ev.SessionID == "" {
		return nil, errors.New("dispatch: session id is required")
	}

	text := strings.TrimSpace(ev.Text)
	if strings.HasPrefix(text, d.prefix) {
		if !d.isRestart(text) {
			return nil, nil
		}
		d.record(ctx, ev.SessionID, chat.SenderUser, text, "")
		return d.apply(ctx, ev, d.workflow.Start(ev.SessionID))
	}

	sess, ok, err := d.store.Get(ctx, ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		d.record(ctx, ev.SessionID, chat.SenderUser, ev.Text, "")
		return d.apply(ctx, ev, d.workflow.NoSession(ev.SessionID, ev.Text))
	}

	d.record(ctx, ev.SessionID, chat.SenderUser, ev.Text, sess.State)
	res := d.workflow.Advance(ctx, sess, ev.Text)
	replies, err := d.apply(ctx, ev, res)
	if err != nil || res.Session.State != session.Processing || sess.State == session.Processing {
		return replies, err
	}

	// The operation is bounded by the engine's timeout, not by the caller.
	detached := context.WithoutCancel(ctx)
	final, err := d.apply(detached, ev, d.workflow.Process(detached, res.Session))
	return append(replies, final...), err
}

// isRestart accepts "/start" as well as "/start payload" and "/start@botname".
func (d *Dispatcher) isRestart(text string) bool {
	cmd := strings.Fields(text)[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.EqualFold(cmd, d.restart)
}

func (d *Dispatcher) apply(ctx context.Context, ev Event, res workflow.Result) ([]session.Reply, error) {
	var errs []error

	for _, reply := range res.Replies {
		d.record(ctx, ev.SessionID, chat.SenderBot, reply.Text, res.Session.State)
		if ev.Sender == nil {
			continue
		}
		if err := ev.Sender.Send(ctx, ev.SessionID, reply); err != nil {
			log.Printf("[dispatch] session=%s failed to send reply: %v", ev.SessionID, err)
			errs = append(errs, fmt.Errorf("send reply: %w", err))
		}
	}

	switch {
	case res.Removed():
		if err := d.store.Delete(ctx, ev.SessionID); err != nil {
			errs = append(errs, fmt.Errorf("delete session: %w", err))
		}
		if res.Reseed != nil {
			if err := d.store.Put(ctx, *res.Reseed); err != nil {
				errs = append(errs, fmt.Errorf("reseed session: %w", err))
			}
		}
	case res.Stored():
		if err := d.store.Put(ctx, res.Session); err != nil {
			errs = append(errs, fmt.Errorf("store session: %w", err))
		}
	}

	for _, note := range res.Notifications {
		d.sink.Notify(ctx, note)
	}

	return res.Replies, errors.Join(errs...)
}

func (d *Dispatcher) record(ctx context.Context, sessionID, sender, content string, state session.State) {
	if d.transcript == nil {
		return
	}
	msg := chat.Message{SessionID: sessionID, Sender: sender, Content: content, State: string(state)}
	if err := d.transcript.SaveMessage(ctx, msg); err != nil {
		log.Printf("[dispatch] session=%s failed to record transcript: %v", sessionID, err)
	}
}
