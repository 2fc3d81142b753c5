package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/qqrelay/internal/config"
	"github.com/memohai/qqrelay/internal/coze"
	"github.com/memohai/qqrelay/internal/dispatch"
	"github.com/memohai/qqrelay/internal/handlers"
	"github.com/memohai/qqrelay/internal/imagesearch"
	"github.com/memohai/qqrelay/internal/inbound"
	"github.com/memohai/qqrelay/internal/logger"
	"github.com/memohai/qqrelay/internal/onebot"
	"github.com/memohai/qqrelay/internal/reconcile"
	"github.com/memohai/qqrelay/internal/server"
	"github.com/memohai/qqrelay/internal/session"
	"github.com/memohai/qqrelay/internal/version"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			session.NewStore,
			provideJanitor,
			provideCozeClient,
			provideBackend,
			provideReconciler,
			provideOneBotClient,
			provideDispatcher,
			provideImageSearch,
			provideRouter,
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewCallbackHandler),
			provideServer,
		),
		fx.Invoke(
			startJanitor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideJanitor(log *slog.Logger, cfg config.Config, store *session.Store) *session.Janitor {
	return session.NewJanitor(log, store, cfg.Session.TTL(), cfg.Session.SweepSchedule)
}

func provideCozeClient(log *slog.Logger, cfg config.Config) *coze.Client {
	return coze.NewClient(log, coze.Config{
		BaseURL:      cfg.Coze.BaseURL,
		APIKey:       cfg.Coze.APIKey,
		BotID:        cfg.Coze.BotID,
		SpaceID:      cfg.Coze.SpaceID,
		PollInterval: cfg.Coze.PollInterval(),
	})
}

func provideBackend(client *coze.Client) reconcile.Backend {
	return reconcile.NewCozeBackend(client)
}

func provideReconciler(log *slog.Logger, cfg config.Config, backend reconcile.Backend, store *session.Store) *reconcile.Reconciler {
	return reconcile.NewReconciler(log, backend, store, reconcile.Options{
		StreamTimeout:   cfg.Coze.StreamTimeout(),
		FallbackTimeout: cfg.Coze.FallbackTimeout(),
		SessionTTL:      cfg.Session.TTL(),
	})
}

func provideOneBotClient(log *slog.Logger, cfg config.Config) onebot.Sender {
	return onebot.NewClient(log, cfg.OneBot.BaseURL, cfg.OneBot.Token, cfg.OneBot.SendTimeout())
}

func provideDispatcher(log *slog.Logger, cfg config.Config, sender onebot.Sender) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, sender, cfg.Dispatch.Pace(), cfg.OneBot.SendTimeout())
}

func provideImageSearch(log *slog.Logger, cfg config.Config) *imagesearch.Service {
	return imagesearch.NewService(log, imagesearch.Config{
		Endpoint:  cfg.ImageSearch.Endpoint,
		Keyword:   cfg.ImageSearch.Keyword,
		CachePath: cfg.ImageSearch.CachePath,
		MaxPages:  cfg.ImageSearch.MaxPages,
	})
}

func provideRouter(log *slog.Logger, cfg config.Config, reconciler *reconcile.Reconciler, dispatcher *dispatch.Dispatcher, images *imagesearch.Service) *inbound.Router {
	if cfg.OneBot.SelfQQ == "" {
		log.Warn("onebot self_qq is not set, group messages will be ignored")
	}
	commands := make([]inbound.Command, 0, len(cfg.Commands))
	for _, c := range cfg.Commands {
		commands = append(commands, inbound.Command{
			Trigger:   c.Trigger,
			Mention:   c.Mention,
			Text:      c.Text,
			WithImage: c.WithImage,
		})
	}
	return inbound.NewRouter(log, cfg.OneBot.SelfQQ, commands, reconciler, dispatcher, images)
}

func providePingHandler(log *slog.Logger, store *session.Store) *handlers.PingHandler {
	return handlers.NewPingHandler(log, store)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, server.Options{
		Addr:        params.Config.Server.Addr,
		AccessToken: params.Config.Server.AccessToken,
	}, params.ServerHandlers)
}

func startJanitor(lc fx.Lifecycle, janitor *session.Janitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return janitor.Start() },
		OnStop:  func(ctx context.Context) error { return janitor.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	fmt.Printf("Starting qqrelay %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("listening", slog.String("addr", cfg.Server.Addr), slog.String("coze", cfg.Coze.BaseURL))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
