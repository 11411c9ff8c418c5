// Package bootstrap assembles the bot from configuration: logger, database,
// session store, upstream clients, the flow engine, the dispatcher and the
// chat transport.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/mukisa/paybot/core/bank"
	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/config"
	"github.com/mukisa/paybot/core/database"
	"github.com/mukisa/paybot/core/dispatch"
	"github.com/mukisa/paybot/core/flow"
	"github.com/mukisa/paybot/core/logger"
	"github.com/mukisa/paybot/core/payment"
	"github.com/mukisa/paybot/core/session"
	"github.com/mukisa/paybot/core/tg"
	"github.com/mukisa/paybot/core/ura"
	"github.com/mukisa/paybot/core/wa"
)

const dropApology = "Sorry, we could not process your last message. Please try again."

// App is the assembled bot, ready to run.
type App struct {
	cfg      *config.Config
	db       *sqlx.DB
	sessions session.Store
	queue    *dispatch.Dispatcher

	runChannel func(ctx context.Context) error
}

// New builds every component from the configuration. The database is optional:
// without one, short links live in memory and the message log is disabled.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	app := &App{cfg: cfg}

	var store *database.Store
	if cfg.Database.Host != "" {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}
		if err := database.RunMigrations(cfg.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		app.db = db
		store = database.NewStore(db)
	}

	sessions, err := newSessionStore(cfg)
	if err != nil {
		app.closePartial()
		return nil, err
	}
	app.sessions = sessions

	var links payment.ShortLinkStore = payment.NewMemoryLinks()
	if store != nil {
		links = store
	}
	paySvc, err := payment.New(payment.Config{
		BaseURL:      cfg.Payment.BaseURL,
		Currency:     cfg.Payment.Currency,
		CustomerCode: cfg.Payment.CustomerCode,
		SecureSecret: cfg.Payment.SecureSecret,
		ShortBaseURL: cfg.Payment.ShortBaseURL,
	}, links)
	if err != nil {
		app.closePartial()
		return nil, fmt.Errorf("bootstrap: payment service init failed: %w", err)
	}

	refs := referenceAdapter{client: ura.NewClient(ura.Config{
		DetailsEndpoint:  cfg.Bank.PRNDetailsEndpoint,
		CompleteEndpoint: cfg.Bank.PRNCompleteEndpoint,
	})}

	var verifier flow.AccountVerifier
	if cfg.Bank.AccountEndpoint != "" {
		verifier = bank.NewVerifier(bank.Config{AccountEndpoint: cfg.Bank.AccountEndpoint})
	} else {
		logger.Warn(logger.Background(), "bootstrap", "bootstrap.verifier.sandbox",
			slog.String("status", "sandbox"),
		)
		verifier = bank.SandboxVerifier()
	}

	qref := &queueRef{}
	messenger, runChannel, err := newChannel(cfg, qref, paySvc)
	if err != nil {
		app.closePartial()
		return nil, err
	}
	app.runChannel = runChannel

	engineCfg := flow.Config{
		Messenger:     messenger,
		Verifier:      verifier,
		References:    refs,
		Links:         linkAdapter{service: paySvc},
		DefaultAmount: cfg.Payment.DefaultAmount,
		Currency:      cfg.Payment.Currency,
	}
	if store != nil {
		engineCfg.Messages = messageLogAdapter{store: store}
	}
	engine := flow.NewEngine(engineCfg)

	handler := func(ctx context.Context, ev chat.Event) error {
		if store != nil {
			if err := store.UpsertUser(ctx, ev.Identity, ev.DisplayName); err != nil {
				logger.Debug(ctx, "bootstrap", "bootstrap.user.upsert.failed",
					slog.Any("err", err),
				)
			}
		}
		s, err := sessions.GetOrCreate(ctx, ev.Identity, ev.DisplayName)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if err := engine.Process(ctx, s, ev); err != nil {
			return err
		}
		return sessions.Save(ctx, s)
	}

	onDrop := func(ctx context.Context, ev chat.Event, err error) {
		if sendErr := messenger.SendText(ctx, ev.Identity, dropApology); sendErr != nil {
			logger.Debug(ctx, "bootstrap", "bootstrap.drop.notify.failed",
				slog.Any("err", sendErr),
			)
		}
	}

	app.queue = dispatch.New(dispatch.Options{
		Concurrency: cfg.Queue.Concurrency,
		MaxAttempts: cfg.Queue.MaxRetries,
	}, handler, onDrop)
	qref.bind(app.queue)

	return app, nil
}

// Run blocks serving the configured transport until the context is done.
func (a *App) Run(ctx context.Context) error {
	logger.Info(ctx, "bootstrap", "bootstrap.ready",
		slog.String("status", "ok"),
		slog.String("endpoint", a.cfg.Channel.Kind),
	)
	return a.runChannel(ctx)
}

// Close drains the dispatcher and releases held resources.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closePartial()
}

func (a *App) closePartial() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			logger.Debug(logger.Background(), "bootstrap", "bootstrap.sessions.close.failed",
				slog.Any("err", err),
			)
		}
		a.sessions = nil
	}
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

func newSessionStore(cfg *config.Config) (session.Store, error) {
	opts := session.Options{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		HistoryLimit:  cfg.Session.HistoryLimit,
	}
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("bootstrap: redis unreachable: %w", err)
		}
		return session.NewRedisStore(client, opts), nil
	default:
		return session.NewMemoryStore(opts), nil
	}
}

// newChannel builds the configured transport and returns its messenger and
// run loop. The enqueuer is a late-bound reference because the Telegram bot
// both feeds the dispatcher and delivers its replies.
func newChannel(cfg *config.Config, queue *queueRef, paySvc *payment.Service) (flow.Messenger, func(ctx context.Context) error, error) {
	switch cfg.Channel.Kind {
	case config.ChannelTelegram:
		bot, err := tg.New(tg.Config{
			Token:           cfg.Telegram.Token,
			LongPollTimeout: time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second,
		}, queue)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: telegram init failed: %w", err)
		}
		return bot, bot.Run, nil
	default:
		client := wa.NewClient(wa.ClientConfig{
			BaseURL:       cfg.WhatsApp.BaseURL,
			APIVersion:    cfg.WhatsApp.APIVersion,
			Token:         cfg.WhatsApp.Token,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		})
		server := wa.NewServer(wa.ServerConfig{
			Listen:      cfg.WhatsApp.Listen,
			VerifyToken: cfg.WhatsApp.VerifyToken,
		}, queue, paySvc, client)
		run := func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("webhook shutdown: %w", err)
				}
				<-errCh
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil
				}
				return ctx.Err()
			case err := <-errCh:
				return err
			}
		}
		return client, run, nil
	}
}
