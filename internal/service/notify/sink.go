package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Sink accepts best-effort operator notifications. Notify never fails the caller.
type Sink interface {
	Notify(ctx context.Context, text string)
}

// Sender delivers a text message to one destination.
type Sender interface {
	SendText(ctx context.Context, destination, text string) error
}

// Config tunes the background delivery worker.
type Config struct {
	QueueSize   int
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// Notifier queues notifications and delivers them to a fixed operator destination.
type Notifier struct {
	sender      Sender
	destination string
	queue       chan string
	limiter     *rate.Limiter
	sendTimeout time.Duration
}

// NewNotifier creates a Notifier. Call Run to start delivery.
func NewNotifier(sender Sender, destination string, cfg Config) *Notifier {
	cfg = cfg.withDefaults()
	return &Notifier{
		sender:      sender,
		destination: destination,
		queue:       make(chan string, cfg.QueueSize),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		sendTimeout: cfg.SendTimeout,
	}
}

// Notify enqueues text without blocking. A full queue drops the message.
func (n *Notifier) Notify(_ context.Context, text string) {
	select {
	case n.queue <- text:
	default:
		log.Printf("[notify] queue full, dropping notification: %s", text)
	}
}

// Run delivers queued notifications until ctx is cancelled, then flushes
// whatever is still queued without rate limiting.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush()
			return nil
		case text := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					n.deliver(context.Background(), text)
					n.flush()
					return nil
				}
				log.Printf("[notify] rate limiter: %v", err)
			}
			n.deliver(ctx, text)
		}
	}
}

func (n *Notifier) flush() {
	for {
		select {
		case text := <-n.queue:
			n.deliver(context.Background(), text)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	if err := n.sender.SendText(sendCtx, n.destination, text); err != nil {
		log.Printf("[notify] failed to notify operator: %v", err)
	}
}

// LogSink writes notifications to the process log when no operator is configured.
type LogSink struct{}

// Notify logs text.
func (LogSink) Notify(_ context.Context, text string) {
	log.Printf("[notify] %s", text)
}
