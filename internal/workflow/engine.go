package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

// DefaultOperationTimeout bounds a Processing step when Config leaves it unset.
const DefaultOperationTimeout = 30 * time.Second

// Reason classifies why a session ended in Failed.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonTimeout   Reason = "timeout"
	ReasonOperation Reason = "operation"
)

// Config wires the engine's collaborators and wording.
type Config struct {
	Query      Query
	Operations map[string]Operation
	Vocabulary Vocabulary
	// OperationTimeout caps each bound operation.
	OperationTimeout time.Duration
	// ReseedOnTerminal seeds a fresh Initial session after Completed and Failed.
	// Cancelled always reseeds.
	ReseedOnTerminal bool
	Now              func() time.Time
}

// Result is the outcome of a single transition.
type Result struct {
	// Session is the state after the transition. A terminal state means the session is removed.
	Session       session.Session
	Replies       []session.Reply
	Notifications []string
	// Reseed is stored in place of a removed session when set.
	Reseed *session.Session
	Reason Reason
}

// Removed reports whether the store should drop the session.
func (r Result) Removed() bool {
	return r.Session.State.Terminal()
}

// Stored reports whether the result carries a live session to write back.
func (r Result) Stored() bool {
	return r.Session.State != "" && !r.Removed()
}

type stepFunc func(ctx context.Context, sess session.Session, text string) Result

// Engine advances sessions one inbound event at a time. It holds no per-session state,
// so callers must serialize calls for the same session.
type Engine struct {
	query      Query
	operations map[string]Operation
	vocab      Vocabulary
	timeout    time.Duration
	reseed     bool
	now        func() time.Time
	steps      map[session.State]stepFunc
}

// New validates cfg and builds the transition table.
func New(cfg Config) (*Engine, error) {
	if cfg.Query == nil {
		return nil, errors.New("workflow: query is required")
	}
	if err := cfg.Vocabulary.validate(); err != nil {
		return nil, err
	}

	ops := make(map[string]Operation, len(cfg.Operations))
	for name, op := range cfg.Operations {
		ops[strings.ToLower(strings.TrimSpace(name))] = op
	}
	for _, option := range cfg.Vocabulary.Options {
		if _, ok := ops[strings.ToLower(strings.TrimSpace(option))]; !ok {
			return nil, fmt.Errorf("workflow: option %q has no bound operation", option)
		}
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		query:      cfg.Query,
		operations: ops,
		vocab:      cfg.Vocabulary,
		timeout:    timeout,
		reseed:     cfg.ReseedOnTerminal,
		now:        now,
	}
	e.steps = map[session.State]stepFunc{
		session.AwaitingTrigger:      e.onTrigger,
		session.AwaitingPrimaryInput: e.onPrimaryInput,
		session.AwaitingChoice:       e.onChoice,
		session.AwaitingConfirmation: e.onConfirmation,
		session.Processing:           e.onProcessing,
	}
	return e, nil
}

// Seed returns a fresh Initial session for id.
func (e *Engine) Seed(id string) session.Session {
	return session.New(id, e.now())
}

// NoSession answers text from a chat that has no active session.
func (e *Engine) NoSession(id, text string) Result {
	return Result{
		Session:       session.Session{ID: id},
		Replies:       []session.Reply{session.Plain(msgUsage)},
		Notifications: []string{fmt.Sprintf("Session %s sent a message without a session: %s", id, text)},
	}
}

// Start runs the restart transition from Initial, discarding any prior fields.
func (e *Engine) Start(id string) Result {
	next := e.Seed(id).Moved(e.entryState(), e.now())
	return Result{
		Session:       next,
		Replies:       []session.Reply{session.Plain(welcomeText(e.vocab))},
		Notifications: []string{fmt.Sprintf("Session %s started.", id)},
	}
}

// Advance applies one inbound text to sess.
func (e *Engine) Advance(ctx context.Context, sess session.Session, text string) Result {
	if sess.State == session.Initial {
		sess = sess.Moved(e.entryState(), e.now())
	}

	step, ok := e.steps[sess.State]
	if !ok {
		return e.NoSession(sess.ID, text)
	}
	return step(ctx, sess, text)
}

// Process runs the operation bound to the session's choice and returns its terminal result.
func (e *Engine) Process(ctx context.Context, sess session.Session) Result {
	choice := sess.Field(session.FieldChoice)
	op, ok := e.operations[choice]
	if !ok {
		return e.fail(sess, ReasonOperation, fmt.Errorf("%w: %q", ErrUnknownOperation, choice))
	}

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := op.Execute(opCtx, sess.Clone())
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-opCtx.Done():
		return e.fail(sess, e.classify(ctx, opCtx), opCtx.Err())
	case out := <-done:
		if out.err != nil {
			return e.fail(sess, e.classify(ctx, opCtx), out.err)
		}
		return e.finish(Result{
			Session: sess.Moved(session.Completed, e.now()),
			Replies: []session.Reply{session.Plain(out.text)},
			Notifications: []string{fmt.Sprintf("Session %s completed %q for %s.",
				sess.ID, choice, sess.Field(session.FieldPrimary))},
		})
	}
}

// classify reports a timeout only when the engine's own deadline fired.
// A cancelled or expired caller context is an operation failure.
func (e *Engine) classify(parent, opCtx context.Context) Reason {
	if parent.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonOperation
}

func (e *Engine) entryState() session.State {
	if len(e.vocab.Triggers) > 0 {
		return session.AwaitingTrigger
	}
	return session.AwaitingPrimaryInput
}

func (e *Engine) onTrigger(_ context.Context, sess session.Session, text string) Result {
	trigger, ok := match(e.vocab.Triggers, text)
	if !ok {
		log.Printf("[workflow] session=%s invalid trigger %q", sess.ID, text)
		return e.stay(sess, invalidTriggerText(e.vocab))
	}

	next := sess.With(session.FieldTrigger, trigger).Moved(session.AwaitingPrimaryInput, e.now())
	return Result{
		Session:       next,
		Replies:       []session.Reply{session.Plain(msgAddressPrompt)},
		Notifications: []string{fmt.Sprintf("Session %s chose command: %s", sess.ID, trigger)},
	}
}

func (e *Engine) onPrimaryInput(ctx context.Context, sess session.Session, text string) Result {
	address := strings.TrimSpace(text)
	if address == "" {
		return e.stay(sess, msgEmptyAddress)
	}

	if _, err := e.query.ValidateAddress(ctx, address); err != nil {
		return e.rejectAddress(sess, address, "validate", err)
	}
	meta, err := e.query.FetchMetadata(ctx, address)
	if err != nil {
		return e.rejectAddress(sess, address, "metadata", err)
	}

	next := sess.
		With(session.FieldPrimary, address).
		With(session.FieldName, meta.Name).
		With(session.FieldSymbol, meta.Symbol).
		With(session.FieldPrice, formatPrice(meta.Price)).
		Moved(session.AwaitingChoice, e.now())

	return Result{
		Session: next,
		Replies: []session.Reply{session.Plain(summaryText(next, e.vocab))},
		Notifications: []string{fmt.Sprintf("Session %s submitted address %s. Details: %s, %s, $%s",
			sess.ID, address, meta.Name, meta.Symbol, formatPrice(meta.Price))},
	}
}

func (e *Engine) rejectAddress(sess session.Session, address, stage string, err error) Result {
	reply := msgLookupUnavailable
	switch {
	case errors.Is(err, ErrInvalidAddress):
		reply = msgAddressRejected
	case errors.Is(err, ErrNotFound):
		reply = msgTokenNotFound
	}
	log.Printf("[workflow] session=%s %s failed for %s: %v", sess.ID, stage, address, err)

	res := e.stay(sess, reply)
	res.Notifications = []string{fmt.Sprintf("Session %s address %s rejected at %s: %v", sess.ID, address, stage, err)}
	return res
}

func (e *Engine) onChoice(_ context.Context, sess session.Session, text string) Result {
	choice, ok := match(e.vocab.Options, text)
	if !ok {
		log.Printf("[workflow] session=%s invalid option %q", sess.ID, text)
		return e.stay(sess, invalidOptionText(e.vocab))
	}

	next := sess.With(session.FieldChoice, choice).Moved(session.AwaitingConfirmation, e.now())
	return Result{
		Session: next,
		Replies: []session.Reply{session.Plain(choiceText(next, e.vocab))},
	}
}

func (e *Engine) onConfirmation(_ context.Context, sess session.Session, text string) Result {
	if _, ok := match(e.vocab.Affirmative, text); ok {
		return Result{
			Session: sess.Moved(session.Processing, e.now()),
			Replies: []session.Reply{session.Plain(msgProcessing)},
			Notifications: []string{fmt.Sprintf("Session %s confirmed %q for %s.",
				sess.ID, sess.Field(session.FieldChoice), sess.Field(session.FieldSymbol))},
		}
	}

	if _, ok := match(e.vocab.Negative, text); ok {
		fresh := e.Seed(sess.ID)
		return Result{
			Session:       sess.Moved(session.Cancelled, e.now()),
			Replies:       []session.Reply{session.Plain(msgCancelledWithEntry + welcomeText(e.vocab))},
			Notifications: []string{fmt.Sprintf("Session %s cancelled confirmation.", sess.ID)},
			Reseed:        &fresh,
		}
	}

	return e.stay(sess, confirmText(e.vocab))
}

func (e *Engine) onProcessing(_ context.Context, sess session.Session, _ string) Result {
	return e.stay(sess, msgStillProcessing)
}

func (e *Engine) stay(sess session.Session, reply string) Result {
	return Result{
		Session: sess,
		Replies: []session.Reply{session.Plain(reply)},
	}
}

func (e *Engine) fail(sess session.Session, reason Reason, err error) Result {
	reply := msgOperationFailed
	note := fmt.Sprintf("Session %s request failed: %v", sess.ID, err)
	if reason == ReasonTimeout {
		reply = msgOperationTimedOut
		note = fmt.Sprintf("Session %s request timed out after %s.", sess.ID, e.timeout)
	}
	log.Printf("[workflow] session=%s processing failed reason=%s: %v", sess.ID, reason, err)

	return e.finish(Result{
		Session:       sess.Moved(session.Failed, e.now()),
		Replies:       []session.Reply{session.Plain(reply)},
		Notifications: []string{note},
		Reason:        reason,
	})
}

func (e *Engine) finish(res Result) Result {
	if e.reseed {
		fresh := e.Seed(res.Session.ID)
		res.Reseed = &fresh
	}
	return res
}
