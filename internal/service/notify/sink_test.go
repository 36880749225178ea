package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	dests []string
	err   error
	done  chan struct{}
}

func newRecordingSender(expected int) *recordingSender {
	return &recordingSender{done: make(chan struct{}, expected)}
}

func (r *recordingSender) SendText(_ context.Context, destination, text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.dests = append(r.dests, destination)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}
}

func TestNotifierDeliversToOperator(t *testing.T) {
	sender := newRecordingSender(2)
	n := NewNotifier(sender, "operator-1", Config{RatePerSec: 100, Burst: 10})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Notify(ctx, "first")
	n.Notify(ctx, "second")
	waitFor(t, sender.done, 2)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 2 || sender.sent[0] != "first" || sender.sent[1] != "second" {
		t.Fatalf("unexpected deliveries: %v", sender.sent)
	}
	if sender.dests[0] != "operator-1" {
		t.Fatalf("unexpected destination: %s", sender.dests[0])
	}
}

func TestNotifierSwallowsSendFailure(t *testing.T) {
	sender := newRecordingSender(2)
	sender.err = errors.New("chat not found")
	n := NewNotifier(sender, "operator-1", Config{RatePerSec: 100, Burst: 10})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Notify(ctx, "one")
	n.Notify(ctx, "two")
	waitFor(t, sender.done, 2)
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	sender := newRecordingSender(4)
	n := NewNotifier(sender, "operator-1", Config{QueueSize: 1})

	n.Notify(context.Background(), "kept")
	n.Notify(context.Background(), "dropped")

	if got := len(n.queue); got != 1 {
		t.Fatalf("expected 1 queued notification, got %d", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	n := NewNotifier(newRecordingSender(1), "operator-1", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFlushesQueueOnCancel(t *testing.T) {
	sender := newRecordingSender(3)
	n := NewNotifier(sender, "operator-1", Config{})

	for _, text := range []string{"a", "b", "c"} {
		n.Notify(context.Background(), text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Run(ctx); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 3 || sender.sent[0] != "a" || sender.sent[2] != "c" {
		t.Fatalf("expected queued notifications flushed in order, got %v", sender.sent)
	}
}
