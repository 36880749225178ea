package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/chatflow/internal/model/session"
)

type fakeQuery struct {
	validateErr error
	metaErr     error
	meta        Metadata
	validated   atomic.Int32
}

func (f *fakeQuery) ValidateAddress(_ context.Context, address string) (AddressInfo, error) {
	f.validated.Add(1)
	if f.validateErr != nil {
		return AddressInfo{}, f.validateErr
	}
	return AddressInfo{Address: address, Lamports: 1}, nil
}

func (f *fakeQuery) FetchMetadata(_ context.Context, _ string) (Metadata, error) {
	if f.metaErr != nil {
		return Metadata{}, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeQuery) GetBalance(_ context.Context, _ string) (uint64, error) {
	return 42, nil
}

func newTestEngine(t *testing.T, q Query, ops map[string]Operation, mutate func(*Config)) *Engine {
	t.Helper()
	if ops == nil {
		ops = map[string]Operation{
			"brief":   OperationFunc(func(context.Context, session.Session) (string, error) { return "brief ready", nil }),
			"balance": OperationFunc(func(context.Context, session.Session) (string, error) { return "balance ready", nil }),
		}
	}
	cfg := Config{
		Query:            q,
		Operations:       ops,
		Vocabulary:       DefaultVocabulary(),
		OperationTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return e
}

func fooQuery() *fakeQuery {
	return &fakeQuery{meta: Metadata{Name: "Foo", Symbol: "FOO", Price: 1.23}}
}

func TestStartMovesToTriggerStep(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)

	res := e.Start("chat-1")
	if res.Session.State != session.AwaitingTrigger {
		t.Fatalf("expected awaiting trigger, got %s", res.Session.State)
	}
	if len(res.Replies) != 1 || !strings.Contains(res.Replies[0].Text, "lookup") {
		t.Fatalf("unexpected welcome replies: %+v", res.Replies)
	}
	if len(res.Notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(res.Notifications))
	}
}

func TestStartWithoutTriggersPromptsForAddress(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, func(c *Config) { c.Vocabulary.Triggers = nil })

	res := e.Start("chat-1")
	if res.Session.State != session.AwaitingPrimaryInput {
		t.Fatalf("expected awaiting primary input, got %s", res.Session.State)
	}
}

func TestTriggerMatching(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	ctx := context.Background()
	start := e.Start("chat-1").Session

	res := e.Advance(ctx, start, "promote")
	if res.Session.State != session.AwaitingTrigger {
		t.Fatalf("expected state unchanged, got %s", res.Session.State)
	}
	if !strings.Contains(res.Replies[0].Text, "Invalid") {
		t.Fatalf("expected invalid reply, got %q", res.Replies[0].Text)
	}
	if len(res.Notifications) != 0 {
		t.Fatalf("input errors must not notify, got %v", res.Notifications)
	}

	res = e.Advance(ctx, start, "  LOOKUP ")
	if res.Session.State != session.AwaitingPrimaryInput {
		t.Fatalf("expected awaiting primary input, got %s", res.Session.State)
	}
	if res.Session.Field(session.FieldTrigger) != "lookup" {
		t.Fatalf("expected canonical trigger, got %q", res.Session.Field(session.FieldTrigger))
	}
}

func TestPrimaryInputRejected(t *testing.T) {
	cases := map[string]error{
		"invalid":     fmt.Errorf("decode: %w", ErrInvalidAddress),
		"not found":   fmt.Errorf("coingecko: %w", ErrNotFound),
		"unavailable": errors.New("dial tcp: connection refused"),
	}
	for name, qErr := range cases {
		t.Run(name, func(t *testing.T) {
			q := fooQuery()
			if errors.Is(qErr, ErrNotFound) {
				q.metaErr = qErr
			} else {
				q.validateErr = qErr
			}
			e := newTestEngine(t, q, nil, nil)
			sess := session.New("chat-1", time.Now()).Moved(session.AwaitingPrimaryInput, time.Now())

			res := e.Advance(context.Background(), sess, "bad-address")
			if res.Session.State != session.AwaitingPrimaryInput {
				t.Fatalf("expected state unchanged, got %s", res.Session.State)
			}
			if _, ok := res.Session.Fields[session.FieldPrimary]; ok {
				t.Fatal("rejected address must not be stored")
			}
			if strings.Contains(res.Replies[0].Text, qErr.Error()) {
				t.Fatalf("raw error leaked to user: %q", res.Replies[0].Text)
			}
			if len(res.Notifications) != 1 {
				t.Fatalf("expected audit notification, got %v", res.Notifications)
			}
		})
	}
}

func TestPrimaryInputAcceptedShowsMetadata(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	sess := session.New("chat-1", time.Now()).Moved(session.AwaitingPrimaryInput, time.Now())

	res := e.Advance(context.Background(), sess, "So11111111111111111111111111111111111111112")
	if res.Session.State != session.AwaitingChoice {
		t.Fatalf("expected awaiting choice, got %s", res.Session.State)
	}
	for _, want := range []string{"Foo", "FOO", "1.23"} {
		if !strings.Contains(res.Replies[0].Text, want) {
			t.Fatalf("reply %q missing %q", res.Replies[0].Text, want)
		}
	}
	if res.Session.Field(session.FieldPrimary) != "So11111111111111111111111111111111111111112" {
		t.Fatalf("unexpected primary field %q", res.Session.Field(session.FieldPrimary))
	}
}

func TestChoiceValidation(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	sess := session.New("chat-1", time.Now()).Moved(session.AwaitingChoice, time.Now())

	res := e.Advance(context.Background(), sess, "transfer")
	if res.Session.State != session.AwaitingChoice {
		t.Fatalf("expected state unchanged, got %s", res.Session.State)
	}
	if _, ok := res.Session.Fields[session.FieldChoice]; ok {
		t.Fatal("invalid choice must not be stored")
	}

	res = e.Advance(context.Background(), sess, "Brief")
	if res.Session.State != session.AwaitingConfirmation {
		t.Fatalf("expected awaiting confirmation, got %s", res.Session.State)
	}
	if res.Session.Field(session.FieldChoice) != "brief" {
		t.Fatalf("unexpected choice %q", res.Session.Field(session.FieldChoice))
	}
}

func TestConfirmationReprompt(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	sess := session.New("chat-1", time.Now()).With(session.FieldChoice, "brief").Moved(session.AwaitingConfirmation, time.Now())

	res := e.Advance(context.Background(), sess, "maybe")
	if res.Session.State != session.AwaitingConfirmation {
		t.Fatalf("expected state unchanged, got %s", res.Session.State)
	}
	if !strings.Contains(res.Replies[0].Text, "confirm") {
		t.Fatalf("expected confirm prompt, got %q", res.Replies[0].Text)
	}
}

func TestConfirmationCancelReseeds(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	sess := session.New("chat-1", time.Now()).
		With(session.FieldPrimary, "addr").
		With(session.FieldChoice, "brief").
		Moved(session.AwaitingConfirmation, time.Now())

	res := e.Advance(context.Background(), sess, "no")
	if res.Session.State != session.Cancelled || !res.Removed() {
		t.Fatalf("expected cancelled removal, got %s", res.Session.State)
	}
	if res.Reseed == nil || res.Reseed.State != session.Initial {
		t.Fatalf("expected Initial reseed, got %+v", res.Reseed)
	}
	if len(res.Reseed.Fields) != 0 {
		t.Fatalf("expected cleared fields, got %v", res.Reseed.Fields)
	}
	if len(res.Notifications) != 1 {
		t.Fatalf("expected exactly one cancellation notification, got %v", res.Notifications)
	}
}

func TestInitialSessionAcceptsEntryInput(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)

	res := e.Advance(context.Background(), e.Seed("chat-1"), "lookup")
	if res.Session.State != session.AwaitingPrimaryInput {
		t.Fatalf("expected awaiting primary input, got %s", res.Session.State)
	}
}

func TestProcessCompletes(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	sess := session.New("chat-1", time.Now()).With(session.FieldChoice, "balance").Moved(session.Processing, time.Now())

	res := e.Process(context.Background(), sess)
	if res.Session.State != session.Completed || !res.Removed() {
		t.Fatalf("expected completed, got %s", res.Session.State)
	}
	if res.Replies[0].Text != "balance ready" {
		t.Fatalf("unexpected reply %q", res.Replies[0].Text)
	}
	if res.Reseed != nil {
		t.Fatal("expected no reseed by default")
	}
}

func TestProcessFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	ops := map[string]Operation{
		"brief": OperationFunc(func(context.Context, session.Session) (string, error) {
			calls.Add(1)
			return "", errors.New("upstream exploded")
		}),
		"balance": OperationFunc(func(context.Context, session.Session) (string, error) { return "", nil }),
	}
	e := newTestEngine(t, fooQuery(), ops, func(c *Config) { c.ReseedOnTerminal = true })
	sess := session.New("chat-1", time.Now()).With(session.FieldChoice, "brief").Moved(session.Processing, time.Now())

	res := e.Process(context.Background(), sess)
	if res.Session.State != session.Failed || res.Reason != ReasonOperation {
		t.Fatalf("expected operation failure, got %s/%s", res.Session.State, res.Reason)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	if strings.Contains(res.Replies[0].Text, "exploded") {
		t.Fatalf("raw error leaked to user: %q", res.Replies[0].Text)
	}
	if res.Reseed == nil {
		t.Fatal("expected reseed when configured")
	}
}

func TestProcessTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	ops := map[string]Operation{
		"brief": OperationFunc(func(context.Context, session.Session) (string, error) {
			<-release
			return "too late", nil
		}),
		"balance": OperationFunc(func(context.Context, session.Session) (string, error) { return "", nil }),
	}
	e := newTestEngine(t, fooQuery(), ops, func(c *Config) { c.OperationTimeout = 20 * time.Millisecond })
	sess := session.New("chat-1", time.Now()).With(session.FieldChoice, "brief").Moved(session.Processing, time.Now())

	res := e.Process(context.Background(), sess)
	if res.Session.State != session.Failed || res.Reason != ReasonTimeout {
		t.Fatalf("expected timeout failure, got %s/%s", res.Session.State, res.Reason)
	}
	if len(res.Replies) != 1 || !strings.Contains(res.Replies[0].Text, "timed out") {
		t.Fatalf("unexpected replies: %+v", res.Replies)
	}
	if len(res.Notifications) != 1 {
		t.Fatalf("expected exactly one notification, got %v", res.Notifications)
	}
}

func TestProcessCallerDeadlineIsNotATimeout(t *testing.T) {
	ops := map[string]Operation{
		"brief": OperationFunc(func(ctx context.Context, _ session.Session) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		"balance": OperationFunc(func(context.Context, session.Session) (string, error) { return "", nil }),
	}
	e := newTestEngine(t, fooQuery(), ops, func(c *Config) { c.OperationTimeout = 5 * time.Second })
	sess := session.New("chat-1", time.Now()).With(session.FieldChoice, "brief").Moved(session.Processing, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := e.Process(ctx, sess)
	if res.Session.State != session.Failed || res.Reason != ReasonOperation {
		t.Fatalf("expected operation failure, got %s/%s", res.Session.State, res.Reason)
	}
	for _, note := range res.Notifications {
		if strings.Contains(note, "timed out") {
			t.Fatalf("caller deadline reported as timeout: %q", note)
		}
	}
}

func TestFieldsAccumulateMonotonically(t *testing.T) {
	e := newTestEngine(t, fooQuery(), nil, nil)
	ctx := context.Background()

	expected := map[session.State][]string{
		session.AwaitingTrigger:      {},
		session.AwaitingPrimaryInput: {session.FieldTrigger},
		session.AwaitingChoice:       {session.FieldTrigger, session.FieldPrimary, session.FieldName, session.FieldSymbol, session.FieldPrice},
		session.AwaitingConfirmation: {session.FieldTrigger, session.FieldPrimary, session.FieldName, session.FieldSymbol, session.FieldPrice, session.FieldChoice},
		session.Processing:           {session.FieldTrigger, session.FieldPrimary, session.FieldName, session.FieldSymbol, session.FieldPrice, session.FieldChoice},
	}

	sess := e.Start("chat-1").Session
	for _, input := range []string{"lookup", "So11111111111111111111111111111111111111112", "brief", "yes"} {
		prev := sess
		sess = e.Advance(ctx, sess, input).Session

		for k, v := range prev.Fields {
			if sess.Fields[k] != v {
				t.Fatalf("field %s changed from %q to %q", k, v, sess.Fields[k])
			}
		}
		want := expected[sess.State]
		if len(sess.Fields) != len(want) {
			t.Fatalf("state %s: expected fields %v, got %v", sess.State, want, sess.Fields)
		}
		for _, k := range want {
			if _, ok := sess.Fields[k]; !ok {
				t.Fatalf("state %s: missing field %s", sess.State, k)
			}
		}
	}

	if sess.State != session.Processing {
		t.Fatalf("expected processing, got %s", sess.State)
	}
	if res := e.Process(ctx, sess); res.Session.State != session.Completed {
		t.Fatalf("expected completed, got %s", res.Session.State)
	}
}

func TestNewRejectsUnboundOption(t *testing.T) {
	_, err := New(Config{
		Query:      fooQuery(),
		Operations: map[string]Operation{"brief": OperationFunc(nil)},
		Vocabulary: DefaultVocabulary(),
	})
	if err == nil {
		t.Fatal("expected error for option without operation")
	}
}
