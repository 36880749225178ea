package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/chatflow/internal/config"
	"github.com/zhouzirui/z-tavern/chatflow/internal/dispatch"
	"github.com/zhouzirui/z-tavern/chatflow/internal/handler"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/ai"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/chain"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/chat"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/market"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/notify"
	"github.com/zhouzirui/z-tavern/chatflow/internal/service/token"
	"github.com/zhouzirui/z-tavern/chatflow/internal/store/sqlite"
	"github.com/zhouzirui/z-tavern/chatflow/internal/transport/telegram"
	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

const drainGrace = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Conversation store, optionally backed by SQLite
	storeOpts := []chat.Option{chat.WithTranscriptLimit(cfg.Store.TranscriptLimit)}
	if cfg.Store.Path != "" {
		persister, err := sqlite.NewStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("failed to open session store: %v", err)
		}
		defer persister.Close()
		storeOpts = append(storeOpts, chat.WithPersister(persister))
	}
	chatService := chat.NewService(storeOpts...)
	if restored, err := chatService.Restore(ctx); err != nil {
		log.Fatalf("failed to restore sessions: %v", err)
	} else if restored > 0 {
		log.Printf("restored %d sessions from %s", restored, cfg.Store.Path)
	}

	// Lookups
	chainClient, err := chain.Dial(ctx, cfg.Solana.RPCURL, cfg.Solana.Commitment)
	if err != nil {
		log.Fatalf("failed to connect to solana rpc: %v", err)
	}
	defer chainClient.Close()

	marketClient := market.NewClient(cfg.Market.BaseURL, market.WithAPIKey(cfg.Market.APIKey))
	query := token.NewQuery(chainClient, marketClient)

	// Brief drafting falls back to the template when no model is configured
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with template briefs")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，使用模板生成简介")
	}

	engine, err := workflow.New(workflow.Config{
		Query:      query,
		Operations: token.Operations(query, aiService),
		Vocabulary: workflow.Vocabulary{
			Triggers:    cfg.Workflow.Triggers,
			Options:     cfg.Workflow.Options,
			Affirmative: cfg.Workflow.Affirmative,
			Negative:    cfg.Workflow.Negative,
		},
		OperationTimeout: cfg.Workflow.OperationTimeout,
		ReseedOnTerminal: cfg.Workflow.ReseedOnTerminal,
	})
	if err != nil {
		log.Fatalf("failed to build workflow: %v", err)
	}

	// Telegram transport and operator notifications
	var bot *telegram.Bot
	if cfg.Telegram.Enabled() {
		bot, err = telegram.New(cfg.Telegram.Token, cfg.Telegram.Debug, cfg.Telegram.PollTimeout)
		if err != nil {
			log.Fatalf("failed to start telegram bot: %v", err)
		}
	} else {
		log.Println("TELEGRAM_BOT_TOKEN not set, serving HTTP and WebSocket transports only")
	}

	var sink notify.Sink = notify.LogSink{}
	var notifier *notify.Notifier
	if cfg.Telegram.OperatorEnabled() {
		operator := bot
		if cfg.Telegram.OperatorToken != "" {
			operator, err = telegram.New(cfg.Telegram.OperatorToken, cfg.Telegram.Debug, cfg.Telegram.PollTimeout)
			if err != nil {
				log.Fatalf("failed to start operator bot: %v", err)
			}
		}
		if operator != nil {
			notifier = notify.NewNotifier(operator, strconv.FormatInt(cfg.Telegram.OperatorChatID, 10), notify.Config{
				QueueSize:  cfg.Notify.QueueSize,
				RatePerSec: cfg.Notify.RatePerSec,
				Burst:      cfg.Notify.Burst,
			})
			sink = notifier
		}
	}
	if err := tgbotapi.SetLogger(telegram.NewErrorReporter(sink)); err != nil {
		log.Printf("warning: failed to install telegram logger: %v", err)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Workflow:       engine,
		Store:          chatService,
		Transcript:     chatService,
		Sink:           sink,
		RestartCommand: cfg.Workflow.RestartCommand,
	})
	if err != nil {
		log.Fatalf("failed to build dispatcher: %v", err)
	}

	router := handler.NewRouter(dispatcher, chatService)

	// The notifier outlives the transports so turns drained at shutdown can still notify.
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		if notifier != nil {
			notifier.Run(notifyCtx)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startServer(gctx, cfg.Server, router)
	})
	if bot != nil {
		g.Go(func() error {
			return bot.Run(gctx, dispatcher)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("shutting down: %v", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Workflow.OperationTimeout+drainGrace)
	if err := dispatcher.Drain(drainCtx); err != nil {
		log.Printf("shutdown drain incomplete: %v", err)
	}
	cancelDrain()

	stopNotify()
	<-notifyDone
	log.Println("bot stopped")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chatflow listening on %s", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
